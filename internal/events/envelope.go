package events

import (
	"encoding/json"
	"fmt"
	"time"

	sentinal_errors "sentinal-relay/pkg/errors"
)

// Envelope is the frame every event travels in.
type Envelope struct {
	Type      Kind            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// Encode wraps ev in an envelope stamped with the current time.
func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{
		Type:      ev.Kind(),
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(ev Event) []byte {
	data, err := Encode(ev)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses a frame into its concrete event type.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", sentinal_errors.ErrInvalidInput, err)
	}

	switch env.Type {
	case KindNewMessage:
		return decodeAs[NewMessage](env)
	case KindMissedMessage:
		return decodeAs[MissedMessage](env)
	case KindMessageEdited:
		return decodeAs[MessageEdited](env)
	case KindMessageDeleted:
		return decodeAs[MessageDeleted](env)
	case KindMessageReaction:
		return decodeAs[MessageReaction](env)
	case KindMessageStatus:
		return decodeAs[MessageStatus](env)
	case KindTyping:
		return decodeAs[Typing](env)
	case KindUserStatus:
		return decodeAs[UserStatus](env)
	case KindMessagesMarkedRead:
		return decodeAs[MessagesMarkedRead](env)
	case KindPong:
		return decodeAs[Pong](env)
	case KindError:
		return decodeAs[Error](env)
	case KindSendMessage:
		return decodeAs[SendMessage](env)
	case KindEditMessage:
		return decodeAs[EditMessage](env)
	case KindDeleteMessage:
		return decodeAs[DeleteMessage](env)
	case KindReactMessage:
		return decodeAs[ReactMessage](env)
	case KindMarkRead:
		return decodeAs[MarkRead](env)
	case KindSetTyping:
		return decodeAs[SetTyping](env)
	case KindJoinConversation:
		return decodeAs[JoinConversation](env)
	case KindLeaveConversation:
		return decodeAs[LeaveConversation](env)
	case KindSetStatus:
		return decodeAs[SetStatus](env)
	case KindPing:
		return decodeAs[Ping](env)
	case KindCallOffer:
		return decodeAs[CallOffer](env)
	case KindCallAnswer:
		return decodeAs[CallAnswer](env)
	case KindCallRejected:
		return decodeAs[CallRejected](env)
	case KindCallEnd:
		return decodeAs[CallEnd](env)
	case KindICECandidate:
		return decodeAs[ICECandidate](env)
	default:
		return nil, fmt.Errorf("%w: %q", sentinal_errors.ErrUnknownEvent, env.Type)
	}
}

func decodeAs[T Event](env Envelope) (Event, error) {
	var v T
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", sentinal_errors.ErrInvalidInput, env.Type, err)
		}
	}
	return v, nil
}
