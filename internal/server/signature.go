package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignaturePrefix = "sha256="

	// SignatureHeader carries the ingest signature of POST /api/v1/deployment
	SignatureHeader = "X-Signature-256"
)

// VerifySignature verifies an HMAC-SHA256 signature of the form
// "sha256=<hex digest>" over payload
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}

	receivedMAC := strings.TrimPrefix(signature, SignaturePrefix)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(expectedMAC), []byte(receivedMAC))
}
