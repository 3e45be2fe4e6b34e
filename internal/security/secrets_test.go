package security

import (
	"strings"
	"testing"
)

func TestValidateSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		// Valid secrets
		{"strong random secret", "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6", false},
		{"exactly 32 random chars", "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS", false},
		{"base64-like secret", "dGhpcyBpcyBhIHZlcnkgbG9uZyBzZWNyZXQgd2l0aCBnb29kIGVudHJvcHk=", false},

		// Too short
		{"31 chars", "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8q", true},
		{"empty string", "", true},

		// Placeholders
		{"forbidden value", "replace-with-ingest-secret", true},
		{"documented example", "your-ingest-secret-min-32-chars-long", true},
		{"contains replace", "please-replace-this-with-a-real-secret-that-is-secure", true},
		{"contains password", "my-deploymetrics-password-0123456789-abcdef", true},

		// Low entropy
		{"all same character", strings.Repeat("a", 40), true},
		{"repeated pattern", strings.Repeat("abc", 16), true},
		{"digits only", "12345678901234567890123456789012", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecret("ingest secret", tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.HasPrefix(err.Error(), "ingest secret") {
				t.Errorf("Expected error to name the secret, got %v", err)
			}
		})
	}
}

func TestValidateSecret_CaseInsensitivePlaceholder(t *testing.T) {
	if err := ValidateSecret("webhook secret", "REPLACE-WITH-GITHUB-WEBHOOK-SECRET"); err == nil {
		t.Error("Expected uppercase placeholder to be rejected")
	}
}

func TestGenerateSecret(t *testing.T) {
	secrets := make(map[string]bool)
	for i := 0; i < 100; i++ {
		secret, err := GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret() error = %v", err)
		}
		if len(secret) != 48 {
			t.Errorf("GenerateSecret() length = %d, want 48", len(secret))
		}
		if secrets[secret] {
			t.Errorf("GenerateSecret() generated duplicate secret")
		}
		secrets[secret] = true
	}

	// Random 48-char base64 output clears the entropy bar in practice
	secret, _ := GenerateSecret()
	if err := ValidateSecret("generated secret", secret); err != nil {
		t.Errorf("Generated secret failed validation: %v", err)
	}
}

func TestCalculateEntropy(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		minExpected float64
		maxExpected float64
	}{
		{"empty string", "", 0.0, 0.0},
		{"single character repeated", "aaaaaaa", 0.0, 0.0},
		{"two characters alternating", "ababababab", 1.0, 1.0},
		{"all unique characters", "abcdefghij", 3.0, 4.0},
		{"random-looking string", "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS", 4.0, 6.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entropy := calculateEntropy(tt.input)
			if entropy < tt.minExpected || entropy > tt.maxExpected {
				t.Errorf("calculateEntropy(%q) = %.2f, want between %.2f and %.2f",
					tt.input, entropy, tt.minExpected, tt.maxExpected)
			}
		})
	}
}

func TestIsWeakSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   bool
	}{
		{"too short", "short", true},
		{"all same character", strings.Repeat("a", 34), true},
		{"sequential numbers", "12345678901234567890123456789012", true},
		{"sequential letters", "abcdefghijklmnopqrstuvwxyzabcdef", true},
		{"strong random", "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6", false},
		{"good mixed", "MySecretKey123WithGoodEntropyAndLength456", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWeakSecret(tt.secret); got != tt.want {
				t.Errorf("IsWeakSecret() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSequential(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"sequential ascending", "123456789", true},
		{"sequential descending", "987654321", true},
		{"non-sequential", "1a2b3c4d5e", false},
		{"too short", "123", false},
		{"repeated", "11111111", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSequential(tt.input); got != tt.want {
				t.Errorf("isSequential() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkValidateSecret(b *testing.B) {
	secret := "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6"
	for i := 0; i < b.N; i++ {
		_ = ValidateSecret("ingest secret", secret)
	}
}
