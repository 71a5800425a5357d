package oracle

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

const (
	SHA256 = "sha256"
	SHA512 = "sha512"
)

// saltedSHA hashes salt||candidate and renders the digest as lowercase hex.
type saltedSHA struct {
	name string
	new  func() hash.Hash
}

func (s saltedSHA) Name() string { return s.name }

func (s saltedSHA) Hash(candidate, salt string) (string, error) {
	h := s.new()
	h.Write([]byte(salt))
	h.Write([]byte(candidate))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(strings.ToLower(s))
	return err == nil
}

func init() {
	Register(Algorithm{
		Name:       SHA256,
		Hasher:     saltedSHA{name: SHA256, new: sha256.New},
		Recognizes: func(t string) bool { return isHex(t, sha256.Size*2) },
		Normalize:  strings.ToLower,
		priority:   10,
	})
	Register(Algorithm{
		Name:       SHA512,
		Hasher:     saltedSHA{name: SHA512, new: sha512.New},
		Recognizes: func(t string) bool { return isHex(t, sha512.Size*2) },
		Normalize:  strings.ToLower,
		priority:   11,
	})
}
