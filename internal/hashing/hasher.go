package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"regexp"
	"time"

	"golang.org/x/crypto/argon2"

	"sms-bridge/internal/config"
)

const (
	// DefaultTokenLength is used when settings carry no hash_length.
	DefaultTokenLength = 8

	pinSaltLength = 16
	pinKeyLength  = 32
)

var (
	ErrEmptySecret = errors.New("hashing secret is empty")

	// Base32 alphabet: A-Z and 2-7. Tokens are always upper case.
	tokenRegex = regexp.MustCompile(`^[A-Z2-7]{4,32}$`)
)

// Argon2Params controls the PIN digest cost.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

type Hasher struct {
	params Argon2Params
}

func NewHasher(cfg *config.Config) *Hasher {
	return &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		},
	}
}

// GenerateToken derives the short SMS token for a registration attempt:
// Base32(HMAC-SHA256(mobile || ts, secret)) truncated to length characters.
// The timestamp makes repeated registrations of the same mobile yield
// distinct tokens.
func (h *Hasher) GenerateToken(mobile, secret string, length int, ts time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if length <= 0 {
		length = DefaultTokenLength
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(mobile + ts.UTC().Format(time.RFC3339)))
	digest := mac.Sum(nil)

	encoded := base32.StdEncoding.EncodeToString(digest)
	if length > len(encoded) {
		length = len(encoded)
	}
	return encoded[:length], nil
}

// ValidTokenFormat reports whether s is shaped like a token this service
// could have issued: Base32 alphabet, plausible length.
func ValidTokenFormat(s string) bool {
	return tokenRegex.MatchString(s)
}

// SignPayload computes the hex-free detached signature carried on recovery
// batches: Base64(HMAC-SHA256(body, secret)).
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a detached signature in constant time.
func VerifySignature(body []byte, secret, signature string) bool {
	expected := SignPayload(body, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// HashPIN produces a deterministic argon2id digest of the PIN. The salt is
// derived from the mobile and the issued token rather than random bytes, so
// the upstream store can recompute and compare the digest without a
// round trip back to this service.
func (h *Hasher) HashPIN(pin, mobile, hash string) string {
	salt := deriveSalt(mobile, hash)
	key := argon2.IDKey(
		[]byte(pin),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		pinKeyLength,
	)
	return base64.RawURLEncoding.EncodeToString(key)
}

// VerifyPIN recomputes the digest and compares in constant time.
func (h *Hasher) VerifyPIN(pin, mobile, hash, digest string) bool {
	computed := h.HashPIN(pin, mobile, hash)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

func deriveSalt(mobile, hash string) []byte {
	sum := sha256.Sum256([]byte(mobile + hash))
	return sum[:pinSaltLength]
}
