// Package obfuscate encodes persisted client state before it reaches a store.
//
// XOR only hides values from casual inspection of the store. SecretBox
// provides authenticated encryption and should be used whenever a storage
// key can be configured.
package obfuscate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// Codec reversibly transforms values before persistence.
type Codec interface {
	Encode(plain string) (string, error)
	Decode(encoded string) (string, error)
}

// ErrMalformed is returned when an encoded value cannot be decoded.
var ErrMalformed = errors.New("obfuscate: malformed value")

// XOR is a reversible XOR codec keyed by a string derived from the app name.
type XOR struct {
	key []byte
}

// NewXOR returns an XOR codec. The key is derived from appName so values
// written by one install can be read back by the next.
func NewXOR(appName string) *XOR {
	sum := sha256.Sum256([]byte(appName + "_token_key"))
	return &XOR{key: sum[:]}
}

func (x *XOR) apply(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ x.key[i%len(x.key)]
	}
	return out
}

func (x *XOR) Encode(plain string) (string, error) {
	return base64.StdEncoding.EncodeToString(x.apply([]byte(plain))), nil
}

func (x *XOR) Decode(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(x.apply(raw)), nil
}

const nonceSize = 24

// SecretBox encrypts values with NaCl secretbox (XSalsa20-Poly1305).
type SecretBox struct {
	key [32]byte
}

// NewSecretBox derives a 32 byte key from secret with HKDF-SHA256.
func NewSecretBox(secret []byte) (*SecretBox, error) {
	if len(secret) < 16 {
		return nil, errors.New("obfuscate: storage key must be at least 16 bytes")
	}
	sb := &SecretBox{}
	r := hkdf.New(sha256.New, secret, nil, []byte("sluggisty client state"))
	if _, err := io.ReadFull(r, sb.key[:]); err != nil {
		return nil, fmt.Errorf("obfuscate: derive key: %w", err)
	}
	return sb, nil
}

func (s *SecretBox) Encode(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("obfuscate: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *SecretBox) Decode(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrMalformed
	}
	return string(plain), nil
}

// New returns SecretBox when secret is set and XOR keyed by appName otherwise.
func New(appName string, secret []byte) (Codec, error) {
	if len(secret) == 0 {
		return NewXOR(appName), nil
	}
	return NewSecretBox(secret)
}
