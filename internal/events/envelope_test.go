package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sentinal-relay/internal/domain"
	sentinal_errors "sentinal-relay/pkg/errors"
)

func TestDecodeCoversEveryKind(t *testing.T) {
	for _, kind := range AllKinds() {
		frame := []byte(`{"type":"` + string(kind) + `","payload":{}}`)
		ev, err := Decode(frame)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, ev.Kind())
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport","payload":{}}`))
	assert.ErrorIs(t, err, sentinal_errors.ErrUnknownEvent)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, sentinal_errors.ErrInvalidInput)
}

func TestCallOfferKeepsSDPVerbatim(t *testing.T) {
	target := uuid.New()
	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1"}`)
	offer := CallOffer{
		SignalHeader: SignalHeader{CallID: "c1", TargetUserID: target},
		CallType:     domain.CallTypeVideo,
		SDP:          sdp,
	}

	sender := uuid.New()
	annotated := offer.WithSender(sender)
	frame, err := Encode(annotated)
	require.NoError(t, err)

	decoded, err := Decode(frame)
	require.NoError(t, err)
	got, ok := decoded.(CallOffer)
	require.True(t, ok)
	assert.Equal(t, sender, got.FromUserID)
	assert.Equal(t, target, got.TargetUserID)
	assert.JSONEq(t, string(sdp), string(got.SDP))
	assert.Equal(t, uuid.Nil, offer.FromUserID, "WithSender must not mutate the original")
}

func TestNewMessageFlattensPayload(t *testing.T) {
	msg := NewMessage{MessagePayload{MessageID: uuid.New(), Content: "hi", Own: true}}
	frame := MustEncode(msg)

	var env struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "new_message", env.Type)
	assert.Equal(t, "hi", env.Payload["content"])
	assert.Equal(t, true, env.Payload["own"])
	_, hasCipher := env.Payload["encrypted_content"]
	assert.False(t, hasCipher)
}
