package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// EnvelopeKey is a key-encryption key fetched from the secret store, used to
// wrap per-bundle data keys for restricted evidence blobs.
type EnvelopeKey struct {
	KeyID string
	// Key is 32 bytes of AES-256 key material.
	Key []byte
}

// GetEnvelopeKey fetches and decodes a KEK stored under the envelope path.
func (c *Client) GetEnvelopeKey(ctx context.Context, keyID string) (*EnvelopeKey, error) {
	encoded, err := c.GetSecret(ctx, "/envelope-keys", keyID)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode envelope key %s, details: %v", keyID, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("envelope key %s is %d bytes, want 32", keyID, len(key))
	}
	return &EnvelopeKey{KeyID: keyID, Key: key}, nil
}

// Seal encrypts plaintext with AES-256-GCM under the envelope key. The nonce
// is prepended to the ciphertext.
func (k *EnvelopeKey) Seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.Key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, []byte(k.KeyID)), nil
}

// Open decrypts data produced by Seal.
func (k *EnvelopeKey) Open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.Key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed data too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(k.KeyID))
	if err != nil {
		return nil, fmt.Errorf("open sealed data, details: %v", err)
	}
	return plaintext, nil
}
