package keyspace

import (
	"fmt"
	"math"
	"math/bits"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

// Decode returns the candidate denoted by index in the bijective base-A
// numeral system, where A is the alphabet size. Shorter candidates always
// decode from smaller indices. If the candidate would need more than
// maxKeyLength symbols, Decode returns an error wrapping ErrKeyTooLong and
// no partial candidate.
func Decode(index uint64, alphabet Alphabet, maxKeyLength int) (string, error) {
	if index == 0 {
		return "", fmt.Errorf("%w: index must be at least 1", apperrors.ErrInvalidArguments)
	}
	base := uint64(alphabet.Len())
	if base == 0 {
		return "", fmt.Errorf("%w: empty alphabet", apperrors.ErrInvalidArguments)
	}
	if maxKeyLength < 0 {
		maxKeyLength = 0
	}

	digits := make([]rune, 0, min(maxKeyLength, 64))
	for n := index; n > 0; {
		if len(digits) == maxKeyLength {
			return "", fmt.Errorf("%w: index %d encodes more than %d symbols", apperrors.ErrKeyTooLong, index, maxKeyLength)
		}
		rem := n % base
		n /= base
		if rem == 0 {
			// zero-less: remainder 0 is digit A, borrow one from the quotient
			rem = base
			n--
		}
		digits = append(digits, alphabet.Symbol(int(rem)))
	}

	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits), nil
}

// Encode is the inverse of Decode: it returns the index that decodes to
// candidate. It fails for empty candidates, for symbols outside the
// alphabet, and when the index does not fit in 64 bits.
func Encode(candidate string, alphabet Alphabet) (uint64, error) {
	if candidate == "" {
		return 0, fmt.Errorf("%w: empty candidate", apperrors.ErrInvalidArguments)
	}
	base := uint64(alphabet.Len())
	var index uint64
	for _, r := range candidate {
		d, ok := alphabet.Digit(r)
		if !ok {
			return 0, fmt.Errorf("%w: symbol %q is not in the alphabet", apperrors.ErrInvalidArguments, r)
		}
		hi, lo := bits.Mul64(index, base)
		sum, carry := bits.Add64(lo, uint64(d), 0)
		if hi != 0 || carry != 0 {
			return 0, fmt.Errorf("%w: candidate %q overflows a 64-bit index", apperrors.ErrInvalidArguments, candidate)
		}
		index = sum
	}
	return index, nil
}

// Size returns the number of candidates of length 1..maxKeyLength over an
// alphabet of the given size. The result saturates at math.MaxUint64.
func Size(alphabetLen, maxKeyLength int) uint64 {
	if alphabetLen <= 0 || maxKeyLength <= 0 {
		return 0
	}
	base := uint64(alphabetLen)
	var total, power uint64 = 0, 1
	for l := 1; l <= maxKeyLength; l++ {
		hi, lo := bits.Mul64(power, base)
		if hi != 0 {
			return math.MaxUint64
		}
		power = lo
		var carry uint64
		total, carry = bits.Add64(total, power, 0)
		if carry != 0 {
			return math.MaxUint64
		}
	}
	return total
}

// Bound returns the exclusive index bound that covers the whole keyspace:
// every index in [1, Bound) decodes to a candidate of length <= maxKeyLength.
func Bound(alphabetLen, maxKeyLength int) uint64 {
	size := Size(alphabetLen, maxKeyLength)
	// A saturated keyspace is capped at MaxUint64 as the exclusive bound, so
	// index MaxUint64 itself is never searched.
	if size == math.MaxUint64 {
		return size
	}
	return size + 1
}

// FirstIndexOfLength returns the smallest index whose candidate has the
// given length.
func FirstIndexOfLength(alphabetLen, length int) uint64 {
	if length <= 1 {
		return 1
	}
	return Bound(alphabetLen, length-1)
}
