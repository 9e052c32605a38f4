package vault

import (
	"errors"
	"fmt"

	"github.com/mtzanidakis/crew/internal/store"
)

var ErrSecretNotFound = errors.New("secret not found")

// Secrets keeps named values sealed in the store.
type Secrets struct {
	vault *Vault
	store *store.Store
}

func NewSecrets(v *Vault, s *store.Store) *Secrets {
	return &Secrets{vault: v, store: s}
}

// Put creates or replaces a secret.
func (s *Secrets) Put(name, description, value string) error {
	if name == "" {
		return errors.New("secret name is required")
	}
	ct, nonce, err := s.vault.Seal(name, []byte(value))
	if err != nil {
		return err
	}
	return s.store.SaveSecret(&store.Secret{
		Name:        name,
		Description: description,
		Value:       ct,
		Nonce:       nonce,
	})
}

// Get returns the plaintext of a secret.
func (s *Secrets) Get(name string) (string, error) {
	sec, err := s.store.GetSecret(name)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	pt, err := s.vault.Open(name, sec.Value, sec.Nonce)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// List returns secret metadata without values.
func (s *Secrets) List() ([]store.Secret, error) {
	return s.store.ListSecrets()
}

func (s *Secrets) Delete(name string) error {
	return s.store.DeleteSecret(name)
}

// Lookup resolves secret references in the configuration.
func (s *Secrets) Lookup(name string) (string, error) {
	return s.Get(name)
}
