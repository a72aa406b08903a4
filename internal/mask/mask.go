// Package mask hides player identifiers before they are shown on public
// leaderboards.
package mask

import (
	"strings"
	"unicode/utf8"
)

// Masker turns a raw display identifier into its public form.
type Masker interface {
	Mask(id string) string
}

// Strategy masks one shape of identifier.
type Strategy interface {
	Masker
	Matches(id string) bool
}

// Chain applies the first strategy whose shape matches. Identifiers that
// no strategy recognises are returned unchanged.
type Chain []Strategy

// Mask implements Masker.
func (c Chain) Mask(id string) string {
	for _, s := range c {
		if s.Matches(id) {
			return s.Mask(id)
		}
	}
	return id
}

// Default returns the chain used for leaderboard nicknames.
func Default() Chain {
	return Chain{Email{Keep: 2}}
}

// Email masks the local part of an e-mail address, keeping the first Keep
// characters and everything from the last '@' onwards:
//
//	johndoe@example.com -> jo*****@example.com
type Email struct {
	Keep int
}

// Matches implements Strategy.
func (e Email) Matches(id string) bool {
	return strings.Contains(id, "@")
}

// Mask implements Masker.
func (e Email) Mask(id string) string {
	at := strings.LastIndexByte(id, '@')
	if at < 0 {
		return id
	}

	local := id[:at]
	var b strings.Builder
	b.Grow(len(id))
	for i, n := 0, 0; i < len(local); n++ {
		// Invalid bytes decode with size 1 and are copied or masked as-is.
		_, size := utf8.DecodeRuneInString(local[i:])
		if n < e.Keep {
			b.WriteString(local[i : i+size])
		} else {
			b.WriteByte('*')
		}
		i += size
	}
	b.WriteString(id[at:])
	return b.String()
}
