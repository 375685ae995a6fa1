package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

// ValidateSignature checks a body signature. A "sha256=" prefix is accepted.
func ValidateSignature(body []byte, secret, signature string) error {
	if secret == "" {
		return errors.New("messaging: webhook secret not configured")
	}
	actual := strings.ToLower(strings.TrimSpace(signature))
	actual = strings.TrimPrefix(actual, "sha256=")
	if actual == "" {
		return errors.New("messaging: missing signature header")
	}
	expected := computeSignature(body, secret)
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return errors.New("messaging: signature mismatch")
	}
	return nil
}

func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
