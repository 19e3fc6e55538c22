package memory_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/message"
	"sentinal-relay/internal/domain/user"
	"sentinal-relay/internal/repository/memory"
	sentinal_errors "sentinal-relay/pkg/errors"
)

func seedConversation(t *testing.T, store *memory.Store, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	c := &conversation.Conversation{Type: string(domain.ConversationTypeGroup)}
	for _, id := range members {
		c.Participants = append(c.Participants, conversation.Participant{UserID: id})
	}
	require.NoError(t, store.Conversations().Create(context.Background(), c))
	return c.ID
}

func TestUserKeysAndHandles(t *testing.T) {
	ctx := context.Background()
	users := memory.NewStore().Users()

	u := &user.User{Handle: "alice", DisplayName: "Alice"}
	require.NoError(t, users.Create(ctx, u))
	assert.ErrorIs(t, users.Create(ctx, &user.User{Handle: "ALICE"}), sentinal_errors.ErrAlreadyExists)

	_, err := users.GetPublicKey(ctx, u.ID)
	assert.ErrorIs(t, err, sentinal_errors.ErrNotFound)

	require.NoError(t, users.SetKeyPair(ctx, u.ID, "pub", "priv"))
	pub, err := users.GetPublicKey(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "pub", pub)

	got, err := users.GetByHandle(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, got.HasKeyPair())
	assert.Equal(t, string(domain.PresenceOffline), got.Status)

	assert.ErrorIs(t, users.UpdateLastSeen(ctx, uuid.New(), time.Now()), sentinal_errors.ErrNotFound)
}

func TestDeliveryStatusOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	alice, bob := uuid.New(), uuid.New()
	conv := seedConversation(t, store, alice, bob)

	m := &message.Message{ConversationID: conv, SenderID: alice, Content: "hi"}
	require.NoError(t, store.Messages().Create(ctx, m, []uuid.UUID{bob}))

	statuses, err := store.Messages().GetDeliveryStatuses(ctx, bob, []uuid.UUID{m.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusSent, statuses[m.ID])

	changed, err := store.Messages().RecordDeliveryStatus(ctx, m.ID, bob, domain.DeliveryStatusRead)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.Messages().RecordDeliveryStatus(ctx, m.ID, bob, domain.DeliveryStatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed, "read never goes back to delivered")

	_, err = store.Messages().RecordDeliveryStatus(ctx, m.ID, bob, domain.DeliveryStatus("bogus"))
	assert.ErrorIs(t, err, sentinal_errors.ErrInvalidInput)
}

func TestGetSinceFiltersOwnDeletedAndForeign(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	alice, bob := uuid.New(), uuid.New()
	conv := seedConversation(t, store, alice, bob)
	other := seedConversation(t, store, alice)

	base := time.Now().Add(-time.Hour)
	mk := func(convID, sender uuid.UUID, offset time.Duration, content string) *message.Message {
		m := &message.Message{ConversationID: convID, SenderID: sender, Content: content, CreatedAt: base.Add(offset)}
		require.NoError(t, store.Messages().Create(ctx, m, nil))
		return m
	}
	second := mk(conv, alice, 2*time.Minute, "second")
	first := mk(conv, alice, time.Minute, "first")
	mk(conv, bob, 3*time.Minute, "own")
	deleted := mk(conv, alice, 4*time.Minute, "gone")
	mk(other, alice, 5*time.Minute, "foreign")
	mk(conv, alice, -time.Minute, "too old")
	require.NoError(t, store.Messages().SoftDelete(ctx, deleted.ID, time.Now()))

	got, err := store.Messages().GetSince(ctx, bob, base, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
}

func TestEditClearsCiphertextAndDuplicatesAreRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	alice, bob := uuid.New(), uuid.New()
	conv := seedConversation(t, store, alice, bob)

	m := &message.Message{
		ConversationID:   conv,
		SenderID:         alice,
		Content:          "hi",
		ClientMessageID:  sql.NullString{String: "c-1", Valid: true},
		EncryptedContent: sql.NullString{String: "ct", Valid: true},
		Signature:        sql.NullString{String: "sig", Valid: true},
	}
	require.NoError(t, store.Messages().Create(ctx, m, []uuid.UUID{bob}))
	dup := &message.Message{ConversationID: conv, SenderID: alice, ClientMessageID: m.ClientMessageID}
	assert.ErrorIs(t, store.Messages().Create(ctx, dup, nil), sentinal_errors.ErrAlreadyExists)

	require.NoError(t, store.Messages().UpdateContent(ctx, m.ID, "edited", time.Now()))
	got, err := store.Messages().GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.False(t, got.IsEncrypted())
	assert.True(t, got.EditedAt.Valid)

	reaction := &message.MessageReaction{MessageID: m.ID, UserID: bob, ReactionCode: "👍"}
	require.NoError(t, store.Messages().AddReaction(ctx, reaction))
	assert.ErrorIs(t, store.Messages().AddReaction(ctx, &message.MessageReaction{MessageID: m.ID, UserID: bob, ReactionCode: "👍"}), sentinal_errors.ErrAlreadyExists)
}

func TestParticipantsMembership(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	conv := seedConversation(t, store, alice, bob)

	ok, err := store.Conversations().IsParticipant(ctx, conv, carol)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Conversations().AddParticipant(ctx, &conversation.Participant{ConversationID: conv, UserID: carol}))
	ids, err := store.Conversations().ListUserConversationIDs(ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{conv}, ids)

	require.NoError(t, store.Conversations().RemoveParticipant(ctx, conv, carol))
	assert.ErrorIs(t, store.Conversations().RemoveParticipant(ctx, conv, carol), sentinal_errors.ErrNotFound)

	c, err := store.Conversations().GetByID(ctx, conv)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{alice, bob}, conversation.ParticipantIDs(c.Participants))
}
