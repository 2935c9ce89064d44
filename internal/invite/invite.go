// Package invite generates short human-shareable codes that identify a list.
package invite

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// alphabet omits characters that are easy to misread when a code is
// shared out loud or scribbled on paper: I, L, O, 0 and 1.
const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultLength matches the code length shown to users.
const DefaultLength = 6

// Generator produces fixed-length uppercase invite codes. Uniqueness is
// not checked here; callers verify the code against the store and call
// Generate again on collision.
type Generator struct {
	length int
}

// NewGenerator returns a generator for codes of the given length.
// Non-positive lengths fall back to DefaultLength.
func NewGenerator(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// Generate returns a new random code.
func (g *Generator) Generate() string {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, g.length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is
			// broken; there is no useful recovery at this level.
			panic(err)
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}

// Normalize canonicalizes user-supplied codes before lookup.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
