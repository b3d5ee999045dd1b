// Package keystore encrypts custodial wallet secrets before they reach the
// database. The AES-256-GCM key is derived from the operator secret with
// HKDF-SHA256, so rotating WALLET_ENCRYPTION_KEY invalidates stored blobs.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const version = "v1"

var (
	hkdfSalt = []byte("swapdesk-wallet-keystore")
	hkdfInfo = []byte("wallet-secret-key/" + version)

	ErrMalformed = errors.New("keystore: malformed ciphertext")
)

type Keystore struct {
	aead cipher.AEAD
}

func New(secret string) (*Keystore, error) {
	if secret == "" {
		return nil, errors.New("keystore: empty secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), hkdfSalt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("keystore: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: gcm: %w", err)
	}
	return &Keystore{aead: aead}, nil
}

// Seal encrypts plaintext; aad binds the blob to its owner (the public key).
func (k *Keystore) Seal(plaintext, aad string) (string, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("keystore: nonce: %w", err)
	}
	ct := k.aead.Seal(nonce, nonce, []byte(plaintext), []byte(aad))
	return version + ":" + base64.RawStdEncoding.EncodeToString(ct), nil
}

func (k *Keystore) Open(blob, aad string) (string, error) {
	ver, payload, ok := strings.Cut(blob, ":")
	if !ok || ver != version {
		return "", ErrMalformed
	}
	raw, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil || len(raw) < k.aead.NonceSize() {
		return "", ErrMalformed
	}
	nonce, ct := raw[:k.aead.NonceSize()], raw[k.aead.NonceSize():]
	pt, err := k.aead.Open(nil, nonce, ct, []byte(aad))
	if err != nil {
		return "", fmt.Errorf("keystore: decrypt: %w", err)
	}
	return string(pt), nil
}
