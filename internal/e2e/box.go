// Package e2e implements per-recipient message sealing.
//
// A sealed message is version || ephemeral X25519 public key || nonce ||
// ChaCha20-Poly1305 ciphertext, keyed by HKDF-SHA256 over the ephemeral
// shared secret. The signature is Ed25519 over SHA-256 of the plaintext,
// so it authenticates content independently of the transport encryption.
package e2e

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	sentinal_errors "sentinal-relay/pkg/errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	sealVersion byte = 1
	hkdfInfo         = "sentinal-relay/e2e/v1"
)

// Sealed is the wire form of an encrypted message.
type Sealed struct {
	Ciphertext string
	Signature  string
}

// EncryptForRecipient seals plaintext for recipient and signs it with sender.
func EncryptForRecipient(plaintext []byte, recipient *PublicKey, sender *PrivateKey) (Sealed, error) {
	if recipient == nil || sender == nil {
		return Sealed{}, ErrMalformedKey
	}

	var ephPriv [boxKeySize]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return Sealed{}, fmt.Errorf("ephemeral key: %w", err)
	}
	clamp(&ephPriv)
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return Sealed{}, fmt.Errorf("ephemeral public key: %w", err)
	}

	key, err := deriveKey(ephPriv[:], recipient.Box[:], ephPub, recipient.Box[:])
	if err != nil {
		return Sealed{}, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return Sealed{}, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("nonce: %w", err)
	}

	header := make([]byte, 0, 1+len(ephPub)+len(nonce))
	header = append(header, sealVersion)
	header = append(header, ephPub...)
	header = append(header, nonce...)
	blob := aead.Seal(header, nonce, plaintext, ephPub)

	digest := sha256.Sum256(plaintext)
	sig := ed25519.Sign(sender.Sign, digest[:])

	return Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(blob),
		Signature:  base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// DecryptAndVerify opens sealed with recipient and checks the sender's signature.
// It returns ErrDecryptionFailed when the ciphertext cannot be opened and
// ErrSignatureInvalid when it opens but the signature does not match.
func DecryptAndVerify(sealed Sealed, recipient *PrivateKey, sender *PublicKey) ([]byte, error) {
	if recipient == nil || sender == nil {
		return nil, sentinal_errors.ErrDecryptionFailed
	}

	blob, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, sentinal_errors.ErrDecryptionFailed
	}
	nonceSize := chacha20poly1305.NonceSize
	if len(blob) < 1+boxKeySize+nonceSize+chacha20poly1305.Overhead || blob[0] != sealVersion {
		return nil, sentinal_errors.ErrDecryptionFailed
	}
	ephPub := blob[1 : 1+boxKeySize]
	nonce := blob[1+boxKeySize : 1+boxKeySize+nonceSize]
	ciphertext := blob[1+boxKeySize+nonceSize:]

	recipientPub, err := curve25519.X25519(recipient.Box[:], curve25519.Basepoint)
	if err != nil {
		return nil, sentinal_errors.ErrDecryptionFailed
	}
	key, err := deriveKey(recipient.Box[:], ephPub, ephPub, recipientPub)
	if err != nil {
		return nil, sentinal_errors.ErrDecryptionFailed
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, sentinal_errors.ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, ephPub)
	if err != nil {
		return nil, sentinal_errors.ErrDecryptionFailed
	}

	sig, err := base64.StdEncoding.DecodeString(sealed.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize || len(sender.Sign) != ed25519.PublicKeySize {
		return nil, sentinal_errors.ErrSignatureInvalid
	}
	digest := sha256.Sum256(plaintext)
	if !ed25519.Verify(sender.Sign, digest[:], sig) {
		return nil, sentinal_errors.ErrSignatureInvalid
	}
	return plaintext, nil
}

// deriveKey runs X25519(priv, peer) through HKDF salted with both public keys.
func deriveKey(priv, peer, ephPub, recipientPub []byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv, peer)
	if err != nil {
		return nil, fmt.Errorf("key exchange: %w", err)
	}
	salt := make([]byte, 0, len(ephPub)+len(recipientPub))
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo)).Read(key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
