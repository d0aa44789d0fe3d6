// Package keygen generates, hashes, and verifies Switchboard API keys.
//
// Keys have the form "pk_{env}_{token}" where env is "live" or "test" and
// token is 43 URL-safe base64 characters derived from 32 bytes of
// cryptographic randomness. The plaintext is high-entropy, so the stored
// digest is a plain SHA-256: verification stays O(µs) per request and no KDF
// or salt is needed.
package keygen

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// EnvironmentLive marks production keys.
	EnvironmentLive = "live"
	// EnvironmentTest marks test keys.
	EnvironmentTest = "test"

	// prefix is the fixed key namespace.
	prefix = "pk"
	// tokenBytes is the number of random bytes backing the token.
	tokenBytes = 32
	// tokenLen is the encoded token length (43 chars of raw URL-safe base64).
	tokenLen = 43
	// KeyLen is the total plaintext key length: "pk_" + env + "_" + token.
	KeyLen = len(prefix) + 1 + 4 + 1 + tokenLen
	// hintLen is the number of trailing token characters kept as a hint.
	hintLen = 4
)

// Key is the result of a single generation. FullKey is returned to the caller
// exactly once; only KeyHash, KeyHint, and KeyPrefix are ever persisted.
type Key struct {
	// FullKey is the plaintext key, shown once at creation time.
	FullKey string
	// KeyHash is the lowercase hex SHA-256 of FullKey.
	KeyHash string
	// KeyHint is the last four characters of the token, for display.
	KeyHint string
	// KeyPrefix is the environment prefix, e.g. "pk_live_".
	KeyPrefix string
}

// ErrInvalidEnvironment is returned when the environment is not live or test.
var ErrInvalidEnvironment = errors.New("environment must be live or test")

// New generates a fresh key for the given environment.
func New(environment string) (Key, error) {
	if environment != EnvironmentLive && environment != EnvironmentTest {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidEnvironment, environment)
	}
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return Key{}, fmt.Errorf("keygen: read random: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	full := prefix + "_" + environment + "_" + token
	return Key{
		FullKey:   full,
		KeyHash:   Hash(full),
		KeyHint:   token[len(token)-hintLen:],
		KeyPrefix: prefix + "_" + environment + "_",
	}, nil
}

// Hash returns the lowercase hex SHA-256 digest of the plaintext key.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of key and compares it to hash in constant
// time. Malformed inputs report false rather than an error so callers on the
// authentication path never branch on failure shape.
func Verify(key, hash string) bool {
	if !ValidateFormat(key) {
		return false
	}
	if len(hash) != hex.EncodedLen(sha256.Size) {
		return false
	}
	want, err := hex.DecodeString(strings.ToLower(hash))
	if err != nil {
		return false
	}
	sum := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}

// ValidateFormat reports whether key is a structurally valid Switchboard key:
// correct length, known environment, and URL-safe base64 token charset.
func ValidateFormat(key string) bool {
	if len(key) != KeyLen {
		return false
	}
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 || parts[0] != prefix {
		return false
	}
	if parts[1] != EnvironmentLive && parts[1] != EnvironmentTest {
		return false
	}
	token := parts[2]
	if len(token) != tokenLen {
		return false
	}
	for _, c := range token {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// Environment extracts the environment embedded in a well-formed key. It
// returns an empty string when the key is malformed.
func Environment(key string) string {
	if !ValidateFormat(key) {
		return ""
	}
	return strings.SplitN(key, "_", 3)[1]
}
