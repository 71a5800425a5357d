// Package keyspace maps positive integers onto candidate strings using a
// bijective (zero-less) numeral system over a configured alphabet. Decoding
// is stateless, so any number of searches may share an Alphabet.
package keyspace

import (
	"fmt"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

// Common alphabets.
const (
	Lower        = "abcdefghijklmnopqrstuvwxyz"
	Upper        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits       = "0123456789"
	Letters      = Lower + Upper
	Alphanumeric = Letters + Digits
)

// Alphabet is an ordered set of distinct symbols. The symbol at position i
// carries digit value i+1.
type Alphabet struct {
	symbols []rune
	digits  map[rune]int
}

// NewAlphabet validates symbols and builds an Alphabet from them.
func NewAlphabet(symbols string) (Alphabet, error) {
	if !utf8.ValidString(symbols) {
		return Alphabet{}, fmt.Errorf("%w: alphabet is not valid UTF-8", apperrors.ErrInvalidArguments)
	}
	runes := []rune(symbols)
	if len(runes) == 0 {
		return Alphabet{}, fmt.Errorf("%w: alphabet must contain at least one symbol", apperrors.ErrInvalidArguments)
	}
	digits := make(map[rune]int, len(runes))
	for i, r := range runes {
		if prev, dup := digits[r]; dup {
			return Alphabet{}, fmt.Errorf("%w: alphabet symbol %q repeated at positions %d and %d",
				apperrors.ErrInvalidArguments, r, prev-1, i)
		}
		digits[r] = i + 1
	}
	return Alphabet{symbols: runes, digits: digits}, nil
}

// MustAlphabet is like NewAlphabet but panics on invalid input. It is meant
// for package-level constants.
func MustAlphabet(symbols string) Alphabet {
	a, err := NewAlphabet(symbols)
	if err != nil {
		panic(err)
	}
	return a
}

// Len returns the number of symbols (the numeral base).
func (a Alphabet) Len() int {
	return len(a.symbols)
}

// Symbol returns the symbol for a digit value in [1, Len()].
func (a Alphabet) Symbol(digit int) rune {
	return a.symbols[digit-1]
}

// Digit returns the digit value of r, or false if r is not in the alphabet.
func (a Alphabet) Digit(r rune) (int, bool) {
	d, ok := a.digits[r]
	return d, ok
}

func (a Alphabet) String() string {
	return string(a.symbols)
}
