package util

import (
	"strings"
)

// StripNonPrintable removes all runes outside the printable ASCII range from
// s. Message bodies arrive with a trailing NUL and occasionally other control
// characters that would break JSON decoding.
func StripNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x20 && r <= 0x7e {
			return r
		}
		switch r {
		case '\t', '\n', '\v', '\f', '\r':
			return r
		}
		return -1
	}, s)
}
