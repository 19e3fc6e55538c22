package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinal-relay/internal/e2e"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"
	"sentinal-relay/pkg/logger"
)

// DecryptionPlaceholder replaces content that could not be opened.
const DecryptionPlaceholder = "[Unable to decrypt message]"

// EncryptionService seals messages pairwise between sender and recipient.
// Users without a key pair are sent plaintext; the caller sees this through
// the encrypted flag rather than an error.
type EncryptionService struct {
	users      repository.UserRepository
	autoKeygen bool
	logger     *logger.Logger
}

func NewEncryptionService(users repository.UserRepository, autoKeygen bool, l *logger.Logger) *EncryptionService {
	if l == nil {
		l = logger.NewNop()
	}
	return &EncryptionService{users: users, autoKeygen: autoKeygen, logger: l.Named("encryption")}
}

// EnsureKeyPair generates and stores a key pair for userID when it has none
// and key generation is enabled.
func (s *EncryptionService) EnsureKeyPair(ctx context.Context, userID uuid.UUID) (bool, error) {
	if !s.autoKeygen {
		return false, nil
	}
	_, err := s.users.GetPublicKey(ctx, userID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sentinal_errors.ErrNotFound) {
		return false, err
	}

	kp, err := e2e.GenerateKeyPair()
	if err != nil {
		return false, err
	}
	if err := s.users.SetKeyPair(ctx, userID, kp.Public.Encode(), kp.Private.Encode()); err != nil {
		return false, fmt.Errorf("store key pair: %w", err)
	}
	s.logger.Info("generated key pair", zap.String("user_id", userID.String()))
	return true, nil
}

// publicKey returns nil without error when the user has no key yet.
func (s *EncryptionService) publicKey(ctx context.Context, userID uuid.UUID) (*e2e.PublicKey, error) {
	encoded, err := s.users.GetPublicKey(ctx, userID)
	if errors.Is(err, sentinal_errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e2e.ParsePublicKey(encoded)
}

func (s *EncryptionService) privateKey(ctx context.Context, userID uuid.UUID) (*e2e.PrivateKey, error) {
	encoded, err := s.users.GetPrivateKey(ctx, userID)
	if errors.Is(err, sentinal_errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e2e.ParsePrivateKey(encoded)
}

// Seal encrypts plaintext from senderID to recipientID. ok is false when
// either side lacks keys, in which case plaintext should travel instead.
func (s *EncryptionService) Seal(ctx context.Context, plaintext string, senderID, recipientID uuid.UUID) (sealed e2e.Sealed, ok bool, err error) {
	recipientKey, err := s.publicKey(ctx, recipientID)
	if err != nil || recipientKey == nil {
		return e2e.Sealed{}, false, err
	}
	senderKey, err := s.privateKey(ctx, senderID)
	if err != nil || senderKey == nil {
		return e2e.Sealed{}, false, err
	}

	sealed, err = e2e.EncryptForRecipient([]byte(plaintext), recipientKey, senderKey)
	if err != nil {
		return e2e.Sealed{}, false, err
	}
	return sealed, true, nil
}

// Open decrypts a message sealed for recipientID and verifies senderID's
// signature. It returns ErrDecryptionFailed or ErrSignatureInvalid.
func (s *EncryptionService) Open(ctx context.Context, sealed e2e.Sealed, recipientID, senderID uuid.UUID) (string, error) {
	recipientKey, err := s.privateKey(ctx, recipientID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sentinal_errors.ErrDecryptionFailed, err)
	}
	if recipientKey == nil {
		return "", fmt.Errorf("%w: recipient has no key pair", sentinal_errors.ErrDecryptionFailed)
	}
	senderKey, err := s.publicKey(ctx, senderID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sentinal_errors.ErrSignatureInvalid, err)
	}
	if senderKey == nil {
		return "", fmt.Errorf("%w: sender has no key pair", sentinal_errors.ErrSignatureInvalid)
	}

	plaintext, err := e2e.DecryptAndVerify(sealed, recipientKey, senderKey)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
