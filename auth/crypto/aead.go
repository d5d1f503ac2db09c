package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

const aeadNonceLen = 12

// deriveKey folds arbitrary-length key material down to 32 bytes via
// SHA-256, so callers can pass a passphrase-shaped EncryptionKey
// straight from config.
func deriveKey(key []byte) []byte {
	if len(key) == 32 {
		return key
	}
	sum := sha256.Sum256(key)
	return sum[:]
}

// EncryptAEAD seals plaintext under key with AES-256-GCM, returning
// nonce‖ciphertext (the GCM authentication tag is appended to the
// ciphertext by Seal). A nil key passes plaintext through unchanged,
// matching the teacher's "no master key configured" behavior for local
// development.
func EncryptAEAD(plaintext, key []byte) ([]byte, error) {
	if key == nil {
		return plaintext, nil
	}

	block, err := aes.NewCipher(deriveKey(key))
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	nonce := make([]byte, aeadNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptAEAD opens a ciphertext produced by EncryptAEAD.
func DecryptAEAD(ciphertext, key []byte) ([]byte, error) {
	if key == nil {
		return ciphertext, nil
	}

	if len(ciphertext) < aeadNonceLen {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := ciphertext[:aeadNonceLen]
	body := ciphertext[aeadNonceLen:]

	block, err := aes.NewCipher(deriveKey(key))
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	plaintext, err := aesgcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	return plaintext, nil
}
