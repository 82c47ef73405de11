package meta

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"armour.dev/armour/internal/wire"
)

// Sealer encrypts metadata for the x-armour header. The key is per proxy
// and constant for its lifetime; the sealed form is
// base64(nonce ‖ AEAD(cbor(Meta))).
type Sealer struct {
	key []byte
}

// KeySize is the AEAD key length.
const KeySize = chacha20poly1305.KeySize

// NewSealer builds a sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("metadata key must be %d bytes, got %d", KeySize, len(key))
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

// NewRandomKey generates a fresh AEAD key.
func NewRandomKey() []byte {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return key
}

// Seal encrypts metadata into its header form.
func (s *Sealer) Seal(m *Meta) (string, error) {
	body, err := wire.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, body, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a header produced by Seal with the same key. Tampered or
// foreign headers fail.
func (s *Sealer) Open(header string) (*Meta, error) {
	sealed, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode metadata header: %w", err)
	}
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("metadata header too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	body, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open metadata header: %w", err)
	}
	var m Meta
	if err := wire.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &m, nil
}
