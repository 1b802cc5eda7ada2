package crypto

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// Encryptor transforms private-key material on its way to and from the
// shared store. The store only ever sees the Encrypt output.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Identity passes bytes through unchanged. It is the default so tests and
// development setups need no key wiring; production installs configure age.
type Identity struct{}

func (Identity) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (Identity) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// AgeEncryptor encrypts with an X25519 age identity read from a key file.
type AgeEncryptor struct {
	identities []age.Identity
	recipient  age.Recipient
}

// NewAgeEncryptor reads an age identities file. The raw key bytes are
// zeroed once parsed. The first identity must be X25519 so the matching
// recipient can be derived for encryption.
func NewAgeEncryptor(keyPath string) (*AgeEncryptor, error) {
	keyContent, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("crypto: read age key file %s: %w", keyPath, err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyContent))
	for i := range keyContent {
		keyContent[i] = 0
	}
	if err != nil {
		return nil, fmt.Errorf("crypto: parse age identities from %s: %w", keyPath, err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("crypto: no age identities in %s", keyPath)
	}

	x, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("crypto: age identity type %T is not X25519", identities[0])
	}

	return &AgeEncryptor{
		identities: identities,
		recipient:  x.Recipient(),
	}, nil
}

func (e *AgeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := age.Encrypt(&out, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("crypto: age encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("crypto: age encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("crypto: age encrypt close: %w", err)
	}
	return out.Bytes(), nil
}

func (e *AgeEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identities...)
	if err != nil {
		return nil, fmt.Errorf("crypto: age decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("crypto: age decrypt read: %w", err)
	}
	return plaintext, nil
}
