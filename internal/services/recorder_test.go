package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/events"
)

func TestRecorderSpillsInsteadOfDropping(t *testing.T) {
	h := newHarness(t, withIdleRecorder())
	h.recorder.jobs = make(chan recordJob, 2)

	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeGroup, alice, bob)
	aliceConn := h.connect(t, alice)
	bobConn := h.connect(t, bob)

	const sent = 20
	ids := make([]uuid.UUID, 0, sent)
	for i := 0; i < sent; i++ {
		ids = append(ids, h.send(t, alice, conv, "burst"))
	}
	require.Len(t, bobConn.WaitFor(events.KindNewMessage, sent, waitTimeout), sent)

	// two presence updates plus one delivered update per message
	assert.Equal(t, sent+2, h.recorder.Backlog())
	assert.NotZero(t, h.logs.FilterMessage("recorder backlog full, spilling updates to overflow").Len())

	h.recorder.Start()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if h.statusOf(t, id, bob) != domain.DeliveryStatusDelivered {
				return false
			}
		}
		return true
	}, waitTimeout, 10*time.Millisecond)
	assert.Len(t, aliceConn.WaitFor(events.KindMessageStatus, sent, waitTimeout), sent)
	assert.Zero(t, h.recorder.Backlog())
}

func TestRecorderStopDrainsOverflow(t *testing.T) {
	h := newHarness(t, withIdleRecorder())
	h.recorder.jobs = make(chan recordJob, 1)

	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	conv := h.conversation(t, domain.ConversationTypeGroup, alice, bob)
	h.connect(t, bob)

	ids := []uuid.UUID{
		h.send(t, alice, conv, "one"),
		h.send(t, alice, conv, "two"),
		h.send(t, alice, conv, "three"),
	}

	h.recorder.Start()
	h.recorder.Stop()

	for _, id := range ids {
		assert.Equal(t, domain.DeliveryStatusDelivered, h.statusOf(t, id, bob))
	}
	assert.Zero(t, h.recorder.Backlog())
}
