// Package oracle adapts concrete password-hash primitives to the single
// question the search driver asks: does this candidate produce the target
// hash? Algorithms are registered by name and can be detected from the shape
// of the target hash.
package oracle

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

// Hasher computes a hash from a candidate and a salt. Implementations must be
// deterministic and safe for concurrent use.
type Hasher interface {
	Name() string
	Hash(candidate, salt string) (string, error)
}

// Verifier checks a candidate against a self-describing target hash, for
// schemes whose salt cannot be supplied separately (bcrypt).
type Verifier interface {
	Name() string
	Verify(candidate, target string) (bool, error)
}

// Algorithm describes a registered hash scheme.
type Algorithm struct {
	Name string
	// Exactly one of Hasher or Verifier is set.
	Hasher   Hasher
	Verifier Verifier
	// Recognizes reports whether target looks like a hash of this scheme.
	Recognizes func(target string) bool
	// DeriveSalt extracts the salt embedded in target, if the scheme embeds one.
	DeriveSalt func(target string) string
	// ValidateSalt rejects salts the primitive cannot use.
	ValidateSalt func(salt string) error
	// Normalize canonicalizes a target before comparison.
	Normalize func(target string) string
	// priority orders detection when several schemes recognize a target.
	priority int
}

var (
	mu       sync.RWMutex
	registry = map[string]Algorithm{}
)

// Register adds or replaces an algorithm.
func Register(a Algorithm) {
	mu.Lock()
	defer mu.Unlock()
	registry[a.Name] = a
}

// Get returns the algorithm registered under name.
func Get(name string) (Algorithm, error) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: unknown hash algorithm %q (known: %s)",
			apperrors.ErrInvalidArguments, name, strings.Join(listLocked(), ", "))
	}
	return a, nil
}

// List returns the registered algorithm names in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	return listLocked()
}

func listLocked() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Detect returns the name of the first algorithm that recognizes target.
func Detect(target string) (string, error) {
	target = strings.TrimSpace(target)
	mu.RLock()
	candidates := make([]Algorithm, 0, len(registry))
	for _, a := range registry {
		if a.Recognizes != nil && a.Recognizes(target) {
			candidates = append(candidates, a)
		}
	}
	mu.RUnlock()
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: cannot detect hash algorithm of %q", apperrors.ErrInvalidArguments, target)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0].Name, nil
}

// Resolve fills in an empty algorithm name by detection and an empty salt
// from the target, then validates the salt.
func Resolve(alg, target, salt string) (string, string, error) {
	if strings.TrimSpace(target) == "" {
		return "", "", fmt.Errorf("%w: empty target hash", apperrors.ErrInvalidArguments)
	}
	if alg == "" {
		detected, err := Detect(target)
		if err != nil {
			return "", "", err
		}
		alg = detected
	}
	a, err := Get(alg)
	if err != nil {
		return "", "", err
	}
	if salt == "" && a.DeriveSalt != nil {
		salt = a.DeriveSalt(target)
	}
	if a.ValidateSalt != nil {
		if err := a.ValidateSalt(salt); err != nil {
			return "", "", err
		}
	}
	return a.Name, salt, nil
}

// Matcher reports whether a candidate reproduces the target hash.
type Matcher interface {
	Match(candidate string) (bool, error)
}

// NewMatcher builds a Matcher for the named algorithm. The salt is passed
// unchanged to the hasher on every call.
func NewMatcher(alg, target, salt string) (Matcher, error) {
	a, err := Get(alg)
	if err != nil {
		return nil, err
	}
	if a.Normalize != nil {
		target = a.Normalize(target)
	}
	switch {
	case a.Hasher != nil:
		return &HashMatcher{Hasher: a.Hasher, Salt: salt, Target: target}, nil
	case a.Verifier != nil:
		return &verifyMatcher{verifier: a.Verifier, target: target}, nil
	default:
		return nil, fmt.Errorf("%w: algorithm %q has no implementation", apperrors.ErrInternal, a.Name)
	}
}

// HashMatcher compares Hash(candidate, Salt) against Target for exact
// equality.
type HashMatcher struct {
	Hasher Hasher
	Salt   string
	Target string
}

func (m *HashMatcher) Match(candidate string) (bool, error) {
	got, err := m.Hasher.Hash(candidate, m.Salt)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", apperrors.ErrOracleFailure, m.Hasher.Name(), err)
	}
	return got == m.Target, nil
}

type verifyMatcher struct {
	verifier Verifier
	target   string
}

func (m *verifyMatcher) Match(candidate string) (bool, error) {
	ok, err := m.verifier.Verify(candidate, m.target)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", apperrors.ErrOracleFailure, m.verifier.Name(), err)
	}
	return ok, nil
}

// HasherFunc adapts a plain function to the Hasher interface.
type HasherFunc func(candidate, salt string) (string, error)

func (f HasherFunc) Name() string { return "func" }

func (f HasherFunc) Hash(candidate, salt string) (string, error) {
	return f(candidate, salt)
}
