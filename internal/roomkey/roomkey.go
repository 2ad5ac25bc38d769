// Package roomkey generates and validates room identifiers.
//
// A room key is three 3-character segments separated by dashes, e.g.
// "K4M-7QT-ZXA". The alphabet omits characters that are easy to misread or
// mishear over voice (0/O, 1/I/L, 5/S, 8/B), giving 27 symbols and a key
// space of 27^9 ≈ 7.6×10^12.
package roomkey

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Alphabet is the set of symbols a room key may contain.
const Alphabet = "ACDEFGHJKMNPQRTUVWXYZ234679"

var keyPattern = regexp.MustCompile(`^[` + Alphabet + `]{3}-[` + Alphabet + `]{3}-[` + Alphabet + `]{3}$`)

// Generate returns a new random room key drawn uniformly from [Alphabet]
// using a cryptographic RNG.
func Generate() string {
	// Rejection sampling keeps the per-character distribution uniform:
	// 243 is the largest multiple of 27 below 256.
	const limit = 243

	symbols := make([]byte, 0, 9)
	buf := make([]byte, 16)
	for len(symbols) < 9 {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms.
			panic(fmt.Sprintf("roomkey: read random: %v", err))
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			symbols = append(symbols, Alphabet[b%27])
			if len(symbols) == 9 {
				break
			}
		}
	}

	var sb strings.Builder
	sb.Grow(11)
	sb.Write(symbols[0:3])
	sb.WriteByte('-')
	sb.Write(symbols[3:6])
	sb.WriteByte('-')
	sb.Write(symbols[6:9])
	return sb.String()
}

// IsValid reports whether key is a well-formed room key. Matching is
// case-insensitive; the key is normalised before the pattern check.
func IsValid(key string) bool {
	return keyPattern.MatchString(Normalize(key))
}

// Normalize trims surrounding whitespace and upper-cases key. It does not
// check validity.
func Normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
