// Package id generates entity identifiers and bearer tokens.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// New returns a prefixed 12-character nanoid, e.g. "agent-x3f9k2m1p0q7".
// The lowercase alphanumeric alphabet keeps ids shell- and URL-safe.
func New(prefix string) string {
	s, err := gonanoid.Generate(alphabet, 12)
	if err != nil {
		panic(fmt.Sprintf("id: generate nanoid: %v", err))
	}
	return prefix + "-" + s
}

// NewToken returns a 256-bit CSPRNG bearer token encoded as 64 hex characters.
func NewToken() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("id: read csprng: %v", err))
	}
	return hex.EncodeToString(b[:])
}
