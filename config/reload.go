package config

import (
	"fmt"
	"log/slog"
)

// Reload loads path again and swaps it into provider. Settings fixed for the
// lifetime of a pool (the connection ceiling and the database and script
// directories) must not change.
func Reload(path string, provider *Provider, logger *slog.Logger) error {
	logger.Debug("Reload: Attempting to load configuration", "path", path)
	newCfg, err := Load(path)
	if err != nil {
		logger.Error("Reload: Failed to load configuration", "path", path, "error", err)
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	old := provider.Get()
	if err := checkReloadable(old, newCfg); err != nil {
		logger.Error("Reload: Configuration change needs a restart", "path", path, "error", err)
		return err
	}

	provider.Update(newCfg)
	logger.Info("Reload: Configuration successfully reloaded and updated in provider", "path", path)
	return nil
}

func checkReloadable(old, updated *Config) error {
	switch {
	case old.MaxOpen != updated.MaxOpen:
		return fmt.Errorf("pool_max cannot change at runtime (%d to %d)", old.MaxOpen, updated.MaxOpen)
	case old.DbDir != updated.DbDir:
		return fmt.Errorf("db_dir cannot change at runtime (%q to %q)", old.DbDir, updated.DbDir)
	case old.ScriptsDir != updated.ScriptsDir:
		return fmt.Errorf("scripts_dir cannot change at runtime (%q to %q)", old.ScriptsDir, updated.ScriptsDir)
	}
	return nil
}
