package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// Sealer encrypts artifacts at rest with NaCl secretbox. The nonce is
// stored in front of the ciphertext.
type Sealer struct {
	key [KeySize]byte
}

// NewSealer creates a sealer keyed by passphrase. An empty passphrase
// derives the key from machine-specific information, which ties the sealed
// data to this machine.
func NewSealer(passphrase string) *Sealer {
	s := &Sealer{}
	if passphrase == "" {
		s.key = deriveKey()
	} else {
		s.key = sha256.Sum256([]byte("faceattend-key-v1:" + passphrase))
	}
	return s
}

// deriveKey derives an encryption key from machine-specific information.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	// Machine ID (Linux specific)
	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}

	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}

	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("faceattend-v1-salt")

	return sha256.Sum256([]byte(identity.String()))
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+secretbox.Overhead {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
