package jobs

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

const (
	maxHashLength           = 1024
	maxAlphabetSymbols      = 1024
	maxSaltLength           = 256
	maxIdempotencyKeyLength = 255
	maxShards               = 1024
	maxKeyLengthLimit       = 64
)

// ValidationError holds per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidArguments }

// ValidateSubmit checks field shapes. Semantic checks (algorithm, salt,
// keyspace limits) are left to the recovery service.
func ValidateSubmit(req *SubmitRequest) error {
	errs := make(map[string]string)

	hash := strings.TrimSpace(req.Hash)
	switch {
	case hash == "":
		errs["hash"] = "hash is required"
	case len(hash) > maxHashLength:
		errs["hash"] = fmt.Sprintf("hash must be at most %d characters", maxHashLength)
	}
	if len(req.Salt) > maxSaltLength {
		errs["salt"] = fmt.Sprintf("salt must be at most %d characters", maxSaltLength)
	}
	if n := utf8.RuneCountInString(req.Alphabet); n > maxAlphabetSymbols {
		errs["alphabet"] = fmt.Sprintf("alphabet must have at most %d symbols", maxAlphabetSymbols)
	}
	if req.MaxKeyLength != nil && (*req.MaxKeyLength < 0 || *req.MaxKeyLength > maxKeyLengthLimit) {
		errs["max_key_length"] = fmt.Sprintf("max_key_length must be between 0 and %d", maxKeyLengthLimit)
	}
	if req.Shards < 0 || req.Shards > maxShards {
		errs["shards"] = fmt.Sprintf("shards must be between 0 and %d", maxShards)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		errs["idempotency_key"] = fmt.Sprintf("idempotency key must be at most %d characters", maxIdempotencyKeyLength)
	}
	if req.Start != 0 && req.StartCandidate != "" {
		errs["start"] = "start and start_candidate are mutually exclusive"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
