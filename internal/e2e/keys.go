package e2e

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const (
	boxKeySize       = curve25519.ScalarSize
	publicKeySize    = boxKeySize + ed25519.PublicKeySize
	privateKeySize   = boxKeySize + ed25519.PrivateKeySize
	keyEncodingLabel = "srk1"
)

var ErrMalformedKey = errors.New("malformed key")

// PublicKey is a user's distributable key: an X25519 key for sealing
// and an Ed25519 key for verifying signatures.
type PublicKey struct {
	Box  [boxKeySize]byte
	Sign ed25519.PublicKey
}

// PrivateKey never leaves its owner's trust boundary.
type PrivateKey struct {
	Box  [boxKeySize]byte
	Sign ed25519.PrivateKey
}

type KeyPair struct {
	Public  *PublicKey
	Private *PrivateKey
}

// GenerateKeyPair creates a fresh sealing + signing key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var boxPriv [boxKeySize]byte
	if _, err := rand.Read(boxPriv[:]); err != nil {
		return nil, fmt.Errorf("generate box key: %w", err)
	}
	clamp(&boxPriv)

	boxPub, err := curve25519.X25519(boxPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive box public key: %w", err)
	}

	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	pub := &PublicKey{Sign: signPub}
	copy(pub.Box[:], boxPub)
	return &KeyPair{
		Public:  pub,
		Private: &PrivateKey{Box: boxPriv, Sign: signPriv},
	}, nil
}

func clamp(k *[boxKeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// Encode returns the storable text form of the key.
func (k *PublicKey) Encode() string {
	raw := make([]byte, 0, publicKeySize)
	raw = append(raw, k.Box[:]...)
	raw = append(raw, k.Sign...)
	return keyEncodingLabel + ":" + base64.StdEncoding.EncodeToString(raw)
}

func (k *PrivateKey) Encode() string {
	raw := make([]byte, 0, privateKeySize)
	raw = append(raw, k.Box[:]...)
	raw = append(raw, k.Sign...)
	return keyEncodingLabel + ":" + base64.StdEncoding.EncodeToString(raw)
}

// Public derives the public half of k.
func (k *PrivateKey) Public() (*PublicKey, error) {
	boxPub, err := curve25519.X25519(k.Box[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	pub := &PublicKey{Sign: k.Sign.Public().(ed25519.PublicKey)}
	copy(pub.Box[:], boxPub)
	return pub, nil
}

func ParsePublicKey(s string) (*PublicKey, error) {
	raw, err := decodeKey(s, publicKeySize)
	if err != nil {
		return nil, err
	}
	k := &PublicKey{Sign: ed25519.PublicKey(raw[boxKeySize:])}
	copy(k.Box[:], raw[:boxKeySize])
	return k, nil
}

func ParsePrivateKey(s string) (*PrivateKey, error) {
	raw, err := decodeKey(s, privateKeySize)
	if err != nil {
		return nil, err
	}
	k := &PrivateKey{Sign: ed25519.PrivateKey(raw[boxKeySize:])}
	copy(k.Box[:], raw[:boxKeySize])
	return k, nil
}

func decodeKey(s string, size int) ([]byte, error) {
	prefix := keyEncodingLabel + ":"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return nil, ErrMalformedKey
	}
	raw, err := base64.StdEncoding.DecodeString(s[len(prefix):])
	if err != nil || len(raw) != size {
		return nil, ErrMalformedKey
	}
	return raw, nil
}
