package server

import (
	"testing"
)

const testSecret = "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6"

func TestVerifySignature_Valid(t *testing.T) {
	payload := []byte(`{"deploymentId":"d1"}`)
	signature := MakeTestSignature(payload, testSecret)

	if !VerifySignature(payload, signature, testSecret) {
		t.Error("Expected valid signature to be accepted")
	}
}

func TestVerifySignature_Invalid(t *testing.T) {
	payload := []byte(`{"deploymentId":"d1"}`)
	signature := MakeTestSignature(payload, "wrong-secret-at-least-32-chars-long-x")

	if VerifySignature(payload, signature, testSecret) {
		t.Error("Expected invalid signature to be rejected")
	}
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	signature := MakeTestSignature([]byte(`{"deploymentId":"d1"}`), testSecret)

	if VerifySignature([]byte(`{"deploymentId":"d2"}`), signature, testSecret) {
		t.Error("Expected signature over a different payload to be rejected")
	}
}

func TestVerifySignature_MalformedSignature(t *testing.T) {
	payload := []byte(`{"deploymentId":"d1"}`)

	testCases := []struct {
		name      string
		signature string
	}{
		{"empty", ""},
		{"no prefix", "abc123def456"},
		{"wrong prefix", "sha1=abc123def456"},
		{"no equals", "sha256abc123def456"},
		{"empty after prefix", "sha256="},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if VerifySignature(payload, tc.signature, testSecret) {
				t.Errorf("Expected malformed signature '%s' to be rejected", tc.signature)
			}
		})
	}
}
