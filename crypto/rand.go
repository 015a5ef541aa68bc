package crypto

import (
	"crypto/rand"
	"math/big"
)

const (
	AlphanumericAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	DigitsAlphabet       = "0123456789"
)

// RandomString returns a cryptographically secure random string of length
// characters drawn uniformly from alphabet. It panics if alphabet is empty or
// the system random source fails.
func RandomString(length int, alphabet string) string {
	if alphabet == "" {
		panic("crypto: empty alphabet")
	}
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto: random source failed: " + err.Error())
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}

// NewPin returns a random numeric pin, used as the token key of a freshly
// created database.
func NewPin(length int) string {
	return RandomString(length, DigitsAlphabet)
}
