package log

import "fmt"

// MessageFormatter gives log messages of one component a common prefix.
type MessageFormatter struct {
	component      string
	componentEmoji string
}

func NewMessageFormatter() *MessageFormatter {
	return &MessageFormatter{}
}

// WithComponent sets the component name and emoji
func (f *MessageFormatter) WithComponent(name, emoji string) *MessageFormatter {
	f.component = name
	f.componentEmoji = emoji
	return f
}

func (f *MessageFormatter) format(mark, msg string) string {
	return fmt.Sprintf("%s  %s: %s  %s", f.componentEmoji, f.component, mark, msg)
}

func (f *MessageFormatter) Fail(msg string) string     { return f.format("❌", msg) }
func (f *MessageFormatter) Ok(msg string) string       { return f.format("✅", msg) }
func (f *MessageFormatter) Warn(msg string) string     { return f.format("⚠️", msg) }
func (f *MessageFormatter) Start(msg string) string    { return f.format("🚀", msg) }
func (f *MessageFormatter) Complete(msg string) string { return f.format("🏁", msg) }
func (f *MessageFormatter) Upgrade(msg string) string  { return f.format("⬆️", msg) }
func (f *MessageFormatter) Seed(msg string) string     { return f.format("🌱", msg) }
