package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// MakeTestSignature generates an ingest signature for payload. Shared by the
// package tests and the integration tests.
func MakeTestSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
