// Package auth provides API key and session credentials.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Key format: cm_{env}_{prefix}_{secret}
// Example: cm_live_7a9x3k_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	KeyPrefixLen = 6  // Visible prefix length (hex encoded 3 bytes)
	KeySecretLen = 32 // Secret length (hex encoded 16 bytes)
)

// Environment indicators for key prefix.
const (
	EnvLive = "live"
	EnvTest = "test"
)

var (
	// ErrInvalidKeyFormat indicates the key format is invalid.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// keyFormatRegex validates the key format.
	keyFormatRegex = regexp.MustCompile(`^cm_(live|test)_([a-f0-9]{6})_([a-f0-9]{32})$`)
)

// GeneratedKey contains the parts of a newly issued API key.
type GeneratedKey struct {
	Plaintext string // Full key (show once only)
	Hash      string // Argon2id hash for storage
	Prefix    string // 6-char visible prefix for lookup
}

// GenerateAPIKey creates a new API key for the given environment.
// The plaintext is returned exactly once; only the hash and the prefix
// are stored with the user.
func GenerateAPIKey(env string) (*GeneratedKey, error) {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}

	prefixBytes := make([]byte, KeyPrefixLen/2)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	prefix := hex.EncodeToString(prefixBytes)

	secretBytes := make([]byte, KeySecretLen/2)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	plaintext := fmt.Sprintf("cm_%s_%s_%s", env, prefix, secret)

	hash, err := HashKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      hash,
		Prefix:    prefix,
	}, nil
}

// ParsedKey contains the parsed parts of an API key.
type ParsedKey struct {
	Env    string
	Prefix string
	Secret string
}

// ParseAPIKey extracts the components from a plaintext API key.
// Returns ErrInvalidKeyFormat if the key does not match the expected shape.
func ParseAPIKey(key string) (*ParsedKey, error) {
	matches := keyFormatRegex.FindStringSubmatch(key)
	if matches == nil {
		return nil, ErrInvalidKeyFormat
	}

	return &ParsedKey{
		Env:    matches[1],
		Prefix: matches[2],
		Secret: matches[3],
	}, nil
}

// ValidateKeyFormat reports whether the key matches the expected format.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}
