package domain

type ConversationType string

const (
	ConversationTypeDirect ConversationType = "DIRECT"
	ConversationTypeGroup  ConversationType = "GROUP"
)

type ParticipantRole string

const (
	ParticipantRoleOwner  ParticipantRole = "OWNER"
	ParticipantRoleAdmin  ParticipantRole = "ADMIN"
	ParticipantRoleMember ParticipantRole = "MEMBER"
)

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceOffline, PresenceAway, PresenceBusy:
		return true
	}
	return false
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// DeliveryStatus is the per-(message, recipient) lifecycle marker.
// It only moves forward; failed is terminal.
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case DeliveryStatusSent:
		return 1
	case DeliveryStatusDelivered:
		return 2
	case DeliveryStatusRead:
		return 3
	default:
		return 0
	}
}

func (s DeliveryStatus) Valid() bool {
	return s.rank() > 0 || s == DeliveryStatusFailed
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// An empty current status accepts any valid status.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == "" {
		return true
	}
	if s == DeliveryStatusFailed {
		return false
	}
	if next == DeliveryStatusFailed {
		return s == DeliveryStatusSent
	}
	return next.rank() > s.rank()
}
