// Package vault encrypts provider credentials at rest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var ErrEmptyPassphrase = errors.New("vault passphrase is empty")

// Vault seals values with AES-256-GCM under a key derived from a passphrase.
type Vault struct {
	aead cipher.AEAD
}

// New derives the key with Argon2id. The salt is taken from the passphrase
// so that the same passphrase opens the same store after a restart.
func New(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	salt := sha256.Sum256([]byte("crew-vault:" + passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext bound to label. Open must be given the same label.
func (v *Vault) Seal(label string, plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nil, nonce, plaintext, []byte(label)), nonce, nil
}

func (v *Vault) Open(label string, ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != v.aead.NonceSize() {
		return nil, fmt.Errorf("decrypt %s: bad nonce length %d", label, len(nonce))
	}
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", label, err)
	}
	return plaintext, nil
}
