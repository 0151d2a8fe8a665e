package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	encryptedPrefix      = "enc:"
	encryptedPlaceholder = "[Encrypted]"
	minEncryptionKeyLen  = 16
	gcmNonceSize         = 12
	gcmTagSize           = 16
)

// ContentCipher encrypts sensitive message bodies at rest with AES-256-GCM.
// Stored form is "enc:<nonce>:<tag>:<ciphertext>", each part base64 encoded.
type ContentCipher struct {
	aead cipher.AEAD
}

// NewContentCipher derives the AES key from the SHA-256 of secret. Secrets
// shorter than 16 characters disable encryption; the returned cipher then
// stores plaintext and renders stored ciphertext as a placeholder.
func NewContentCipher(secret string) (*ContentCipher, error) {
	if len(secret) < minEncryptionKeyLen {
		return &ContentCipher{}, nil
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init message cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, fmt.Errorf("init message cipher: %w", err)
	}
	return &ContentCipher{aead: aead}, nil
}

// Enabled reports whether a usable key is configured.
func (c *ContentCipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// Seal encrypts content when sensitive is set and a key is configured.
func (c *ContentCipher) Seal(content string, sensitive bool) (string, error) {
	if !sensitive || !c.Enabled() {
		return content, nil
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(content), nil)
	data, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	enc := base64.StdEncoding
	return encryptedPrefix + enc.EncodeToString(nonce) + ":" + enc.EncodeToString(tag) + ":" + enc.EncodeToString(data), nil
}

// Open returns the readable form of stored content. Plain content passes
// through; ciphertext that cannot be decrypted renders as "[Encrypted]".
func (c *ContentCipher) Open(stored string) string {
	if !strings.HasPrefix(stored, encryptedPrefix) {
		return stored
	}
	if !c.Enabled() {
		return encryptedPlaceholder
	}
	plain, err := c.open(stored)
	if err != nil {
		return encryptedPlaceholder
	}
	return plain
}

func (c *ContentCipher) open(stored string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(stored, encryptedPrefix), ":")
	if len(parts) != 3 {
		return "", errors.New("malformed ciphertext")
	}
	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil {
		return "", err
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", err
	}
	data, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", err
	}
	if len(nonce) != gcmNonceSize || len(tag) != gcmTagSize {
		return "", errors.New("malformed ciphertext")
	}
	plain, err := c.aead.Open(nil, nonce, append(data, tag...), nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
