package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum length of the ingest and webhook secrets
	MinSecretLength = 32

	// MinEntropy is the minimum Shannon entropy threshold for secrets
	MinEntropy = 3.5
)

var forbiddenSecrets = map[string]bool{
	"replace-with-secret":                   true,
	"replace-with-ingest-secret":            true,
	"replace-with-github-webhook-secret":    true,
	"github-webhook-password":               true,
	"topsecret":                             true,
	"secret":                                true,
	"password":                              true,
	"changeme":                              true,
	"your-ingest-secret-min-32-chars-long":  true,
	"your-webhook-secret-min-32-chars-long": true,
}

// ValidateSecret checks a shared HMAC secret. label names the secret in the
// returned error, e.g. "ingest secret".
func ValidateSecret(label, secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("%s too short (minimum %d characters, got %d)", label, MinSecretLength, len(secret))
	}

	secretLower := strings.ToLower(secret)
	if forbiddenSecrets[secretLower] {
		return fmt.Errorf("%s appears to be a placeholder value, please use a real secret", label)
	}

	for _, marker := range []string{"replace", "changeme", "topsecret", "password"} {
		if strings.Contains(secretLower, marker) {
			return fmt.Errorf("%s appears to be a placeholder value", label)
		}
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		return fmt.Errorf("%s has insufficient entropy (%.2f < %.2f) - use a more random secret", label, entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret creates a cryptographically secure random secret.
// Returns a 48-character base64-encoded string.
func GenerateSecret() (string, error) {
	bytes := make([]byte, 36)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// calculateEntropy computes the Shannon entropy of a string in bits per
// character.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// IsWeakSecret reports obviously weak secrets. Used for startup warnings
// where validation would be too strict.
func IsWeakSecret(secret string) bool {
	if len(secret) < MinSecretLength {
		return true
	}
	if len(strings.Trim(secret, string(secret[0]))) == 0 {
		return true
	}
	if isSequential(secret) {
		return true
	}
	return calculateEntropy(secret) < 2.5
}

// isSequential checks if more than 70% of adjacent characters step by one
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	return float64(sequential) > float64(len(s))*0.7
}
