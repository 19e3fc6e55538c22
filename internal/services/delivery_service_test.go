package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/message"
	"sentinal-relay/internal/e2e"
	"sentinal-relay/internal/events"
	sentinal_errors "sentinal-relay/pkg/errors"
)

func messagesOf(evs []events.Event) []events.MessagePayload {
	var out []events.MessagePayload
	for _, ev := range evs {
		switch e := ev.(type) {
		case events.NewMessage:
			out = append(out, e.MessagePayload)
		case events.MissedMessage:
			out = append(out, e.MessagePayload)
		}
	}
	return out
}

func TestSendDeliversToConnectedRecipient(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)

	aliceConn := h.connect(t, alice)
	bobConn := h.connect(t, bob)

	msg, res, err := h.delivery.Send(h.ctx, SendInput{SenderID: alice, ConversationID: conv, Content: "hello bob"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bob}, res.Delivered)
	assert.Empty(t, res.Queued)

	got := bobConn.WaitFor(events.KindNewMessage, 1, waitTimeout)
	require.Len(t, got, 1)
	p := got[0].(events.NewMessage)
	assert.Equal(t, "hello bob", p.Content)
	assert.True(t, p.Encrypted)
	assert.Empty(t, p.EncryptedContent)
	assert.False(t, p.Own)

	echo := aliceConn.WaitFor(events.KindNewMessage, 1, waitTimeout)
	require.Len(t, echo, 1)
	assert.True(t, echo[0].(events.NewMessage).Own)

	stored, err := h.store.Messages().GetByID(h.ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsEncrypted())

	require.Eventually(t, func() bool {
		return h.statusOf(t, msg.ID, bob) == domain.DeliveryStatusDelivered
	}, waitTimeout, 10*time.Millisecond)

	status := aliceConn.WaitFor(events.KindMessageStatus, 1, waitTimeout)
	require.Len(t, status, 1)
	assert.Equal(t, domain.DeliveryStatusDelivered, status[0].(events.MessageStatus).Status)
}

func TestOfflineRecipientReceivesQueueOnReconnect(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)
	h.connect(t, alice)

	msg, res, err := h.delivery.Send(h.ctx, SendInput{SenderID: alice, ConversationID: conv, Content: "while you were out"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bob}, res.Queued)

	pending, err := h.queue.Pending(h.ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].Payload.Content, "queued payload carries ciphertext only")
	assert.NotEmpty(t, pending[0].Payload.EncryptedContent)

	bobConn := h.connect(t, bob)
	got := messagesOf(bobConn.Events())
	require.Len(t, got, 1)
	assert.Equal(t, "while you were out", got[0].Content)
	assert.Empty(t, bobConn.EventsOf(events.KindMissedMessage))

	n, err := h.queue.Len(h.ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Eventually(t, func() bool {
		return h.statusOf(t, msg.ID, bob) == domain.DeliveryStatusDelivered
	}, waitTimeout, 10*time.Millisecond)

	// a second device must not replay anything
	second := h.connect(t, bob)
	assert.Empty(t, messagesOf(second.Events()))
}

func TestReconnectMergesQueueAndCatchUpInOrder(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeGroup, alice, bob)

	first := h.send(t, alice, conv, "one")
	second := h.send(t, alice, conv, "two")
	third := h.send(t, alice, conv, "three")

	// losing the middle entry leaves it to the store catch-up
	require.NoError(t, h.queue.Ack(h.ctx, bob, second))

	bobConn := h.connect(t, bob)
	evs := bobConn.Events()
	got := messagesOf(evs)
	require.Len(t, got, 3)
	assert.Equal(t, []uuid.UUID{first, second, third}, []uuid.UUID{got[0].MessageID, got[1].MessageID, got[2].MessageID})
	assert.Len(t, bobConn.EventsOf(events.KindMissedMessage), 1)
	assert.Equal(t, "two", got[1].Content)
}

func TestDecryptionFailureStillDelivers(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)

	kp1, err := e2e.GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := e2e.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, h.store.Users().SetKeyPair(h.ctx, bob, kp1.Public.Encode(), kp2.Private.Encode()))

	bobConn := h.connect(t, bob)
	msgID := h.send(t, alice, conv, "secret")

	got := bobConn.WaitFor(events.KindNewMessage, 1, waitTimeout)
	require.Len(t, got, 1)
	p := got[0].(events.NewMessage)
	assert.Equal(t, DecryptionPlaceholder, p.Content)
	assert.Equal(t, "DECRYPTION_FAILED", p.DecryptionError)

	require.Eventually(t, func() bool {
		return h.statusOf(t, msgID, bob) == domain.DeliveryStatusDelivered
	}, waitTimeout, 10*time.Millisecond)
}

func TestSendRejectsNonParticipant(t *testing.T) {
	h := newHarness(t)
	alice, bob, mallory := h.user(t, "alice"), h.user(t, "bob"), h.user(t, "mallory")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)

	_, _, err := h.delivery.Send(h.ctx, SendInput{SenderID: mallory, ConversationID: conv, Content: "hi"})
	assert.ErrorIs(t, err, sentinal_errors.ErrNotAuthorized)

	msgs, err := h.store.Messages().ListByConversation(h.ctx, conv, time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	n, err := h.queue.Len(h.ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendValidatesContent(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)

	_, _, err := h.delivery.Send(h.ctx, SendInput{SenderID: alice, ConversationID: conv, Content: "   "})
	assert.ErrorIs(t, err, sentinal_errors.ErrInvalidInput)
}

func TestGroupMessagesStayPlaintextAtRest(t *testing.T) {
	h := newHarness(t)
	alice, bob, carol := h.user(t, "alice"), h.user(t, "bob"), h.user(t, "carol")
	conv := h.conversation(t, domain.ConversationTypeGroup, alice, bob, carol)

	msgID := h.send(t, alice, conv, "hi all")
	stored, err := h.store.Messages().GetByID(h.ctx, msgID)
	require.NoError(t, err)
	assert.False(t, stored.IsEncrypted())

	for _, id := range []uuid.UUID{bob, carol} {
		pending, err := h.queue.Pending(h.ctx, id)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.True(t, pending[0].Payload.Encrypted)
	}
}

func TestEditAndDeleteAreSenderOnly(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)
	bobConn := h.connect(t, bob)
	msgID := h.send(t, alice, conv, "draft")

	_, err := h.delivery.Edit(h.ctx, bob, msgID, "hijack")
	assert.ErrorIs(t, err, sentinal_errors.ErrNotAuthorized)
	assert.ErrorIs(t, h.delivery.Delete(h.ctx, bob, msgID), sentinal_errors.ErrNotAuthorized)

	edited, err := h.delivery.Edit(h.ctx, alice, msgID, "final")
	require.NoError(t, err)
	assert.False(t, edited.IsEncrypted())

	got := bobConn.WaitFor(events.KindMessageEdited, 1, waitTimeout)
	require.Len(t, got, 1)
	assert.Equal(t, "final", got[0].(events.MessageEdited).Content)

	require.NoError(t, h.delivery.Delete(h.ctx, alice, msgID))
	assert.Len(t, bobConn.WaitFor(events.KindMessageDeleted, 1, waitTimeout), 1)
	assert.ErrorIs(t, h.delivery.Delete(h.ctx, alice, msgID), sentinal_errors.ErrNotFound)
}

func TestMarkReadNotifiesSender(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)
	aliceConn := h.connect(t, alice)
	h.connect(t, bob)
	msgID := h.send(t, alice, conv, "read me")

	marked, err := h.delivery.MarkRead(h.ctx, bob, conv, []uuid.UUID{msgID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{msgID}, marked)
	assert.Len(t, h.store.ReadReceipts(msgID), 1)

	read := aliceConn.WaitFor(events.KindMessagesMarkedRead, 1, waitTimeout)
	require.Len(t, read, 1)
	assert.Equal(t, bob, read[0].(events.MessagesMarkedRead).ReaderID)

	require.Eventually(t, func() bool {
		return h.statusOf(t, msgID, bob) == domain.DeliveryStatusRead
	}, waitTimeout, 10*time.Millisecond)
}

func TestReactBroadcastsOnce(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)
	aliceConn := h.connect(t, alice)
	msgID := h.send(t, alice, conv, "nice")

	require.NoError(t, h.delivery.React(h.ctx, bob, msgID, "👍"))
	require.NoError(t, h.delivery.React(h.ctx, bob, msgID, "👍"))

	got := aliceConn.WaitFor(events.KindMessageReaction, 1, waitTimeout)
	require.Len(t, got, 1)
	assert.Equal(t, "👍", got[0].(events.MessageReaction).Emoji)
}

func TestQuickReconnectDoesNotReplayUnpersistedDelivery(t *testing.T) {
	h := newHarness(t, withIdleRecorder())
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)
	h.connect(t, alice)

	queued := h.send(t, alice, conv, "while you were out")

	first := h.connect(t, bob)
	require.Len(t, messagesOf(first.Events()), 1)
	live := h.send(t, alice, conv, "live one")
	require.Len(t, first.WaitFor(events.KindNewMessage, 2, waitTimeout), 2)
	h.gateway.Disconnect(h.ctx, first)

	// nothing has reached storage yet: both are still sent and bob has no last seen
	assert.Equal(t, domain.DeliveryStatusSent, h.statusOf(t, queued, bob))
	assert.Equal(t, domain.DeliveryStatusSent, h.statusOf(t, live, bob))

	second := h.connect(t, bob)
	assert.Empty(t, messagesOf(second.Events()))
	h.gateway.Disconnect(h.ctx, second)

	h.recorder.Start()
	require.Eventually(t, func() bool {
		return h.statusOf(t, queued, bob) == domain.DeliveryStatusDelivered &&
			h.statusOf(t, live, bob) == domain.DeliveryStatusDelivered
	}, waitTimeout, 10*time.Millisecond)

	third := h.connect(t, bob)
	assert.Empty(t, messagesOf(third.Events()))
}

func TestDirectMessageToKeylessRecipientIsPlaintext(t *testing.T) {
	h := newHarness(t)
	alice := h.user(t, "alice")
	bob := h.keylessUser(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeDirect, alice, bob)
	h.connect(t, alice)

	msg := h.send(t, alice, conv, "no keys yet")

	stored, err := h.store.Messages().GetByID(h.ctx, msg)
	require.NoError(t, err)
	assert.False(t, stored.IsEncrypted())
	assert.Equal(t, "no keys yet", stored.Content)
	assert.False(t, stored.EncryptedContent.Valid)
	assert.False(t, stored.Signature.Valid)

	pending, err := h.queue.Pending(h.ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.False(t, pending[0].Payload.Encrypted)
	assert.Equal(t, "no keys yet", pending[0].Payload.Content)
	assert.Empty(t, pending[0].Payload.EncryptedContent)
	assert.Empty(t, pending[0].Payload.Signature)

	bobConn := h.connect(t, bob)
	got := messagesOf(bobConn.Events())
	require.Len(t, got, 1)
	assert.False(t, got[0].Encrypted)
	assert.Equal(t, "no keys yet", got[0].Content)
	assert.Empty(t, got[0].EncryptedContent)
	assert.Empty(t, got[0].Signature)
	assert.Empty(t, got[0].DecryptionError)
}

// storeMessages writes n plaintext messages straight to the store, one per
// timestamp from at except where tie says to reuse the previous one.
func (h *harness) storeMessages(t *testing.T, from, conv uuid.UUID, recipients []uuid.UUID, at time.Time, n int, tie func(i int) bool) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		if tie == nil || !tie(i) {
			at = at.Add(time.Millisecond)
		}
		m := &message.Message{ConversationID: conv, SenderID: from, Content: "backlog", CreatedAt: at}
		require.NoError(t, h.store.Messages().Create(h.ctx, m, recipients))
		ids = append(ids, m.ID)
	}
	return ids
}

func TestMissedReadsEveryPage(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeGroup, alice, bob)

	start := time.Now().Add(-time.Hour)
	// a run of equal timestamps straddles the first page boundary
	tied := func(i int) bool { return i > missedPageSize-3 && i < missedPageSize+3 }
	ids := h.storeMessages(t, alice, conv, []uuid.UUID{bob}, start, 2*missedPageSize+7, tied)

	out, err := h.delivery.Missed(h.ctx, bob, start, nil)
	require.NoError(t, err)
	require.Len(t, out, len(ids))

	seen := make(map[uuid.UUID]bool, len(out))
	for i, o := range out {
		assert.False(t, seen[o.MessageID], "duplicate %s", o.MessageID)
		seen[o.MessageID] = true
		if i > 0 {
			assert.False(t, o.CreatedAt.Before(out[i-1].CreatedAt))
		}
	}
	for _, id := range ids {
		assert.True(t, seen[id])
	}
	assert.Zero(t, h.logs.FilterMessageSnippet("hit its limit").Len())
}

func TestMissedLogsWhenLimitIsReached(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeGroup, alice, bob)

	start := time.Now().Add(-time.Hour)
	h.storeMessages(t, alice, conv, []uuid.UUID{bob}, start, MissedLimit+3, nil)

	out, err := h.delivery.Missed(h.ctx, bob, start, nil)
	require.NoError(t, err)
	assert.Len(t, out, MissedLimit)

	logged := h.logs.FilterMessageSnippet("hit its limit").All()
	require.Len(t, logged, 1)
	assert.Equal(t, bob.String(), logged[0].ContextMap()["user_id"])
}
