// Package idgen generates random identifiers and webhook secrets.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

const prefixedBytes = 12

// WithPrefix returns prefix followed by 24 random hex characters, e.g.
// "wh_3f9c...".
func WithPrefix(prefix string) string {
	return prefix + Hex(prefixedBytes)
}

// Hex returns n random bytes hex encoded. crypto/rand never fails on
// supported platforms, so errors panic.
func Hex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("idgen: " + err.Error())
	}
	return hex.EncodeToString(b)
}
