package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"sentinal-relay/internal/domain"
)

// Kind names a wire event. The set is closed: every Kind has exactly one
// payload type below and one case in Decode.
type Kind string

// Server -> client
const (
	KindNewMessage         Kind = "new_message"
	KindMissedMessage      Kind = "missed_message"
	KindMessageEdited      Kind = "message_edited"
	KindMessageDeleted     Kind = "message_deleted"
	KindMessageReaction    Kind = "message_reaction"
	KindMessageStatus      Kind = "message_status"
	KindTyping             Kind = "typing"
	KindUserStatus         Kind = "user_status"
	KindMessagesMarkedRead Kind = "messages_marked_read"
	KindPong               Kind = "pong"
	KindError              Kind = "error"
)

// Client -> server
const (
	KindSendMessage       Kind = "send_message"
	KindEditMessage       Kind = "edit_message"
	KindDeleteMessage     Kind = "delete_message"
	KindReactMessage      Kind = "react_message"
	KindMarkRead          Kind = "mark_read"
	KindSetTyping         Kind = "set_typing"
	KindJoinConversation  Kind = "join_conversation"
	KindLeaveConversation Kind = "leave_conversation"
	KindSetStatus         Kind = "set_status"
	KindPing              Kind = "ping"
)

// Call signaling, both directions
const (
	KindCallOffer    Kind = "call-offer"
	KindCallAnswer   Kind = "call-answer"
	KindCallRejected Kind = "call-rejected"
	KindCallEnd      Kind = "call-end"
	KindICECandidate Kind = "ice-candidate"
)

// AllKinds lists every kind Decode understands.
func AllKinds() []Kind {
	return []Kind{
		KindNewMessage, KindMissedMessage, KindMessageEdited, KindMessageDeleted,
		KindMessageReaction, KindMessageStatus, KindTyping, KindUserStatus,
		KindMessagesMarkedRead, KindPong, KindError,
		KindSendMessage, KindEditMessage, KindDeleteMessage, KindReactMessage,
		KindMarkRead, KindSetTyping, KindJoinConversation, KindLeaveConversation,
		KindSetStatus, KindPing,
		KindCallOffer, KindCallAnswer, KindCallRejected, KindCallEnd, KindICECandidate,
	}
}

// Event is implemented only by the payload types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// --- Server -> client payloads ---

// MessagePayload is the body shared by new_message and missed_message.
type MessagePayload struct {
	MessageID        uuid.UUID  `json:"message_id"`
	ConversationID   uuid.UUID  `json:"conversation_id"`
	SenderID         uuid.UUID  `json:"sender_id"`
	ClientMessageID  string     `json:"client_message_id,omitempty"`
	Content          string     `json:"content"`
	Encrypted        bool       `json:"encrypted"`
	EncryptedContent string     `json:"encrypted_content,omitempty"`
	Signature        string     `json:"signature,omitempty"`
	DecryptionError  string     `json:"decryption_error,omitempty"`
	ReplyToID        *uuid.UUID `json:"reply_to_id,omitempty"`
	Own              bool       `json:"own,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type NewMessage struct {
	MessagePayload
}

type MissedMessage struct {
	MessagePayload
}

type MessageEdited struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Content        string    `json:"content"`
	EditedAt       time.Time `json:"edited_at"`
}

type MessageDeleted struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	DeletedAt      time.Time `json:"deleted_at"`
}

type MessageReaction struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Emoji          string    `json:"emoji"`
	CreatedAt      time.Time `json:"created_at"`
}

type MessageStatus struct {
	MessageID      uuid.UUID             `json:"message_id"`
	ConversationID uuid.UUID             `json:"conversation_id"`
	RecipientID    uuid.UUID             `json:"recipient_id"`
	Status         domain.DeliveryStatus `json:"status"`
}

// Typing carries the full set of users currently typing.
type Typing struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	UserIDs        []uuid.UUID `json:"user_ids"`
}

type UserStatus struct {
	UserID   uuid.UUID             `json:"user_id"`
	Status   domain.PresenceStatus `json:"status"`
	LastSeen *time.Time            `json:"last_seen,omitempty"`
}

type MessagesMarkedRead struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	ReaderID       uuid.UUID   `json:"reader_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
	ReadAt         time.Time   `json:"read_at"`
}

type Pong struct{}

type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestKind Kind   `json:"request_type,omitempty"`
}

// --- Client -> server payloads ---

type SendMessage struct {
	ConversationID  uuid.UUID  `json:"conversation_id"`
	Content         string     `json:"content"`
	ClientMessageID string     `json:"client_message_id,omitempty"`
	ReplyToID       *uuid.UUID `json:"reply_to_id,omitempty"`
}

type EditMessage struct {
	MessageID uuid.UUID `json:"message_id"`
	Content   string    `json:"content"`
}

type DeleteMessage struct {
	MessageID uuid.UUID `json:"message_id"`
}

type ReactMessage struct {
	MessageID uuid.UUID `json:"message_id"`
	Emoji     string    `json:"emoji"`
}

type MarkRead struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
}

type SetTyping struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Typing         bool      `json:"typing"`
}

type JoinConversation struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type LeaveConversation struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type SetStatus struct {
	Status domain.PresenceStatus `json:"status"`
}

type Ping struct{}

// --- Call signaling ---

// SignalHeader addresses a signaling message. FromUserID is always
// overwritten by the relay with the authenticated sender.
type SignalHeader struct {
	CallID         string    `json:"call_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	TargetUserID   uuid.UUID `json:"target_user_id"`
	FromUserID     uuid.UUID `json:"from_user_id"`
}

// Signal is a call-control event the relay forwards without interpreting.
type Signal interface {
	Event
	Header() SignalHeader
	WithSender(from uuid.UUID) Signal
}

type CallOffer struct {
	SignalHeader
	CallType domain.CallType `json:"call_type"`
	SDP      json.RawMessage `json:"sdp"`
}

type CallAnswer struct {
	SignalHeader
	SDP json.RawMessage `json:"sdp"`
}

type CallRejected struct {
	SignalHeader
	Reason string `json:"reason,omitempty"`
}

type CallEnd struct {
	SignalHeader
	Reason string `json:"reason,omitempty"`
}

type ICECandidate struct {
	SignalHeader
	Candidate json.RawMessage `json:"candidate"`
}

func (NewMessage) Kind() Kind         { return KindNewMessage }
func (MissedMessage) Kind() Kind      { return KindMissedMessage }
func (MessageEdited) Kind() Kind      { return KindMessageEdited }
func (MessageDeleted) Kind() Kind     { return KindMessageDeleted }
func (MessageReaction) Kind() Kind    { return KindMessageReaction }
func (MessageStatus) Kind() Kind      { return KindMessageStatus }
func (Typing) Kind() Kind             { return KindTyping }
func (UserStatus) Kind() Kind         { return KindUserStatus }
func (MessagesMarkedRead) Kind() Kind { return KindMessagesMarkedRead }
func (Pong) Kind() Kind               { return KindPong }
func (Error) Kind() Kind              { return KindError }
func (SendMessage) Kind() Kind        { return KindSendMessage }
func (EditMessage) Kind() Kind        { return KindEditMessage }
func (DeleteMessage) Kind() Kind      { return KindDeleteMessage }
func (ReactMessage) Kind() Kind       { return KindReactMessage }
func (MarkRead) Kind() Kind           { return KindMarkRead }
func (SetTyping) Kind() Kind          { return KindSetTyping }
func (JoinConversation) Kind() Kind   { return KindJoinConversation }
func (LeaveConversation) Kind() Kind  { return KindLeaveConversation }
func (SetStatus) Kind() Kind          { return KindSetStatus }
func (Ping) Kind() Kind               { return KindPing }
func (CallOffer) Kind() Kind          { return KindCallOffer }
func (CallAnswer) Kind() Kind         { return KindCallAnswer }
func (CallRejected) Kind() Kind       { return KindCallRejected }
func (CallEnd) Kind() Kind            { return KindCallEnd }
func (ICECandidate) Kind() Kind       { return KindICECandidate }

func (NewMessage) sealed()         {}
func (MissedMessage) sealed()      {}
func (MessageEdited) sealed()      {}
func (MessageDeleted) sealed()     {}
func (MessageReaction) sealed()    {}
func (MessageStatus) sealed()      {}
func (Typing) sealed()             {}
func (UserStatus) sealed()         {}
func (MessagesMarkedRead) sealed() {}
func (Pong) sealed()               {}
func (Error) sealed()              {}
func (SendMessage) sealed()        {}
func (EditMessage) sealed()        {}
func (DeleteMessage) sealed()      {}
func (ReactMessage) sealed()       {}
func (MarkRead) sealed()           {}
func (SetTyping) sealed()          {}
func (JoinConversation) sealed()   {}
func (LeaveConversation) sealed()  {}
func (SetStatus) sealed()          {}
func (Ping) sealed()               {}
func (CallOffer) sealed()          {}
func (CallAnswer) sealed()         {}
func (CallRejected) sealed()       {}
func (CallEnd) sealed()            {}
func (ICECandidate) sealed()       {}

func (e CallOffer) Header() SignalHeader    { return e.SignalHeader }
func (e CallAnswer) Header() SignalHeader   { return e.SignalHeader }
func (e CallRejected) Header() SignalHeader { return e.SignalHeader }
func (e CallEnd) Header() SignalHeader      { return e.SignalHeader }
func (e ICECandidate) Header() SignalHeader { return e.SignalHeader }

func (e CallOffer) WithSender(from uuid.UUID) Signal    { e.FromUserID = from; return e }
func (e CallAnswer) WithSender(from uuid.UUID) Signal   { e.FromUserID = from; return e }
func (e CallRejected) WithSender(from uuid.UUID) Signal { e.FromUserID = from; return e }
func (e CallEnd) WithSender(from uuid.UUID) Signal      { e.FromUserID = from; return e }
func (e ICECandidate) WithSender(from uuid.UUID) Signal { e.FromUserID = from; return e }
