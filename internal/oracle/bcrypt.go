package oracle

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const BCrypt = "bcrypt"

type bcryptVerifier struct{}

func (bcryptVerifier) Name() string { return BCrypt }

func (bcryptVerifier) Verify(candidate, target string) (bool, error) {
	// bcrypt carries its own salt and cost ($2b$...)
	err := bcrypt.CompareHashAndPassword([]byte(target), []byte(candidate))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

func init() {
	Register(Algorithm{
		Name:     BCrypt,
		Verifier: bcryptVerifier{},
		Recognizes: func(t string) bool {
			return strings.HasPrefix(t, "$2a$") || strings.HasPrefix(t, "$2b$") || strings.HasPrefix(t, "$2y$")
		},
		priority: 5,
	})
}
