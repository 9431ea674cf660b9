package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header names attached to every hub webhook.
const (
	HeaderEvent      = "X-Randhub-Event"
	HeaderSignature  = "X-Randhub-Signature"
	HeaderDeliveryID = "X-Randhub-Delivery"
)

// Sign returns the sha256= prefixed HMAC of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}
