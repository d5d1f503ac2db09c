package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// HashString creates a SHA-256 hash of a string, base64url encoded.
// Used for opaque-token hashing (refresh tokens, magic-link tokens,
// OAuth state) where the raw value must never be stored at rest.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RandomToken returns a base64url-encoded random token with n bytes of
// entropy (n=32 gives the 256 bits spec'd for magic-link tokens).
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SignHMAC computes HMAC-SHA256(key, message), base64url encoded.
func SignHMAC(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a base64url-encoded HMAC-SHA256 signature in
// constant time.
func VerifyHMAC(key []byte, message, signature string) bool {
	expected := SignHMAC(key, message)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// SignHMACHex computes HMAC-SHA256(key, message), lowercase hex
// encoded. Used for the webhook `sha256=<hex>` signature header, the
// GitHub/Stripe-style convention a webhook consumer expects.
func SignHMACHex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACHex checks a hex-encoded HMAC-SHA256 signature in constant
// time.
func VerifyHMACHex(key []byte, message, signature string) bool {
	expected := SignHMACHex(key, message)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
