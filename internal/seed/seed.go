// Package seed encodes and validates the 8-character challenge seeds that
// players type into the game to start a daily or weekly run.
//
// A seed packs a 32-bit random value and an 8-bit checksum of that value
// into 40 bits, then spells them out as eight 5-bit symbols over Alphabet.
package seed

import (
	"errors"
	"math/rand/v2"
	"strings"
)

// Alphabet is the symbol table used by the game client. The order is fixed:
// existing stored seeds depend on it.
const Alphabet = "ABCDEFGHJKLMNPQRSTWXYZ01234V6789"

// Length is the number of symbols in a seed.
const Length = 8

// mixKey is XORed into the random value before packing.
const mixKey = 0xFEF7FFD

var (
	ErrInvalidFormat    = errors.New("seed must be 8 characters from the seed alphabet")
	ErrChecksumMismatch = errors.New("seed checksum does not match")
)

// Source yields uniformly distributed 32-bit values. *rand.Rand from
// math/rand/v2 satisfies it.
type Source interface {
	Uint32() uint32
}

type globalSource struct{}

func (globalSource) Uint32() uint32 { return rand.Uint32() }

// Generate returns a fresh seed drawn from the shared math/rand/v2 source.
// It is safe for concurrent use.
func Generate() string {
	return GenerateWith(globalSource{})
}

// GenerateWith returns a seed for the next value drawn from src.
func GenerateWith(src Source) string {
	return Encode(src.Uint32())
}

// Encode spells out r and its checksum as a seed. The result depends only
// on r.
func Encode(r uint32) string {
	// 40 significant bits: must not be computed in 32-bit arithmetic.
	combined := uint64(r^mixKey)<<8 | uint64(Checksum(r))

	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		idx := (combined >> (35 - 5*i)) & 0x1F
		b.WriteByte(Alphabet[idx])
	}
	return b.String()
}

// Checksum folds v into an 8-bit value, five bits at a time. The loop body
// always runs at least once, so Checksum(0) is well defined.
func Checksum(v uint32) uint8 {
	var sum uint32
	for {
		sum = (sum + (v & 0xFF)) & 0xFF
		sum = (2*sum + (sum >> 7)) & 0xFF
		v >>= 5
		if v == 0 {
			break
		}
	}
	return uint8(sum)
}

// Validate reports whether code is well formed: exactly Length symbols, all
// from Alphabet. It does not verify the embedded checksum; use Decode for
// that.
func Validate(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// Decode reverses Encode and returns the random value packed into code.
// Unlike Validate it rejects codes whose checksum does not match.
func Decode(code string) (uint32, error) {
	if !Validate(code) {
		return 0, ErrInvalidFormat
	}

	var combined uint64
	for i := 0; i < Length; i++ {
		idx := uint64(strings.IndexByte(Alphabet, code[i]))
		combined |= idx << (35 - 5*i)
	}

	sum := uint8(combined & 0xFF)
	r := uint32(combined>>8) ^ mixKey
	if Checksum(r) != sum {
		return 0, ErrChecksumMismatch
	}
	return r, nil
}
