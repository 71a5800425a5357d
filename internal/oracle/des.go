package oracle

import (
	"fmt"

	"github.com/digitive/crypt"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

// DES is the traditional crypt(3) scheme: a two character salt followed by
// eleven characters of hash, 13 characters in total.
const DES = "des"

const (
	desHashLen = 13
	desSaltLen = 2
)

const cryptAlphabet = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

type desHasher struct{}

func (desHasher) Name() string { return DES }

func (desHasher) Hash(candidate, salt string) (string, error) {
	if err := validateDESSalt(salt); err != nil {
		return "", err
	}
	return crypt.Crypt(candidate, salt)
}

func isCryptChar(c byte) bool {
	return (c >= '.' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func validateDESSalt(salt string) error {
	if len(salt) != desSaltLen || !isCryptChar(salt[0]) || !isCryptChar(salt[1]) {
		return fmt.Errorf("%w: des salt must be 2 characters from %q, got %q", apperrors.ErrOracleFailure, cryptAlphabet, salt)
	}
	return nil
}

func looksLikeDES(target string) bool {
	if len(target) != desHashLen {
		return false
	}
	for i := 0; i < len(target); i++ {
		if !isCryptChar(target[i]) {
			return false
		}
	}
	return true
}

func init() {
	Register(Algorithm{
		Name:       DES,
		Hasher:     desHasher{},
		Recognizes: looksLikeDES,
		DeriveSalt: func(target string) string {
			if len(target) < desSaltLen {
				return ""
			}
			return target[:desSaltLen]
		},
		ValidateSalt: validateDESSalt,
		priority:     0,
	})
}
