package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HMACAuth holds the API key pair used to sign exchange requests.
type HMACAuth struct {
	Key    string
	Secret string
}

// Sign returns the hex HMAC-SHA256 of message under the secret. 3Commas
// signs the request path with its query string, followed by the body.
func (h *HMACAuth) Sign(message string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers returns the authentication headers for a request to pathWithQuery
// carrying body.
func (h *HMACAuth) Headers(pathWithQuery, body string) map[string]string {
	return map[string]string{
		"APIKEY":    h.Key,
		"Signature": h.Sign(pathWithQuery + body),
	}
}

// Configured reports whether both halves of the key pair are present.
func (h *HMACAuth) Configured() bool {
	return h.Key != "" && h.Secret != ""
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", Redact(h.Key), Redact(h.Secret))
}

// Redact keeps the first four characters of s.
func Redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
