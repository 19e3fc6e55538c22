// Package callstate is the client side of a call: a pure transition
// function over call states and a controller that carries out its effects.
package callstate

import (
	"encoding/json"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/events"
)

type State string

const (
	Idle       State = "idle"
	Outgoing   State = "outgoing"
	Incoming   State = "incoming"
	Connecting State = "connecting"
	Active     State = "active"
)

const (
	ReasonBusy      = "busy"
	ReasonDeclined  = "declined"
	ReasonCancelled = "cancelled"
	ReasonHangup    = "hangup"
	ReasonFailed    = "negotiation_failed"
)

// Session is everything the machine knows about the current call.
type Session struct {
	State          State
	LocalUserID    uuid.UUID
	CallID         string
	ConversationID uuid.UUID
	PeerID         uuid.UUID
	CallType       domain.CallType

	// Offer is held while Incoming; no media is acquired until accept.
	Offer json.RawMessage
	// PendingICE holds candidates that arrived before the remote
	// description was applied.
	PendingICE []json.RawMessage
	RemoteSet  bool
	MediaHeld  bool
}

func NewSession(localUserID uuid.UUID) Session {
	return Session{State: Idle, LocalUserID: localUserID}
}

func (s Session) idle() Session {
	return Session{State: Idle, LocalUserID: s.LocalUserID}
}

func (s Session) header() events.SignalHeader {
	return events.SignalHeader{
		CallID:         s.CallID,
		ConversationID: s.ConversationID,
		TargetUserID:   s.PeerID,
		FromUserID:     s.LocalUserID,
	}
}

// Input is a local action or a received signal.
type Input interface{ input() }

type StartCall struct {
	CallID         string
	ConversationID uuid.UUID
	PeerID         uuid.UUID
	CallType       domain.CallType
}

type Accept struct{}
type Reject struct{}
type Hangup struct{}

// AnswerSent reports the local answer went out while Connecting.
type AnswerSent struct{}

type NegotiationFailed struct{ Err error }

type SignalReceived struct{ Signal events.Signal }

func (StartCall) input()         {}
func (Accept) input()            {}
func (Reject) input()            {}
func (Hangup) input()            {}
func (AnswerSent) input()        {}
func (NegotiationFailed) input() {}
func (SignalReceived) input()    {}

// Effect is work the controller performs after a transition.
type Effect interface{ effect() }

type AcquireMedia struct{ CallType domain.CallType }
type ReleaseMedia struct{}

// SendOffer creates a local offer and sends it to the peer.
type SendOffer struct {
	Header   events.SignalHeader
	CallType domain.CallType
}

// SendAnswer answers Offer and sends the answer to the peer.
type SendAnswer struct {
	Header events.SignalHeader
	Offer  json.RawMessage
}

type ApplyAnswer struct{ Answer json.RawMessage }
type AddICE struct{ Candidate json.RawMessage }

// Send forwards a ready-made signal to the relay. Failures are not fatal.
type Send struct{ Signal events.Signal }

type NoticeKind string

const (
	NoticeIncoming  NoticeKind = "incoming"
	NoticeRinging   NoticeKind = "ringing"
	NoticeConnected NoticeKind = "connected"
	NoticeRejected  NoticeKind = "rejected"
	NoticeEnded     NoticeKind = "ended"
	NoticeFailed    NoticeKind = "failed"
)

// Notify drives presentation: tones, notifications, UI.
type Notify struct {
	Kind   NoticeKind
	CallID string
	PeerID uuid.UUID
	Reason string
}

func (AcquireMedia) effect() {}
func (ReleaseMedia) effect() {}
func (SendOffer) effect()    {}
func (SendAnswer) effect()   {}
func (ApplyAnswer) effect()  {}
func (AddICE) effect()       {}
func (Send) effect()         {}
func (Notify) effect()       {}

// Transition is pure: it never performs I/O and never mutates s.
func Transition(s Session, in Input) (Session, []Effect) {
	switch in := in.(type) {
	case StartCall:
		return startCall(s, in)
	case Accept:
		return accept(s)
	case Reject:
		return reject(s)
	case Hangup:
		return hangup(s)
	case AnswerSent:
		return answerSent(s)
	case NegotiationFailed:
		return fail(s)
	case SignalReceived:
		return received(s, in.Signal)
	default:
		return s, nil
	}
}

func startCall(s Session, in StartCall) (Session, []Effect) {
	if s.State != Idle || in.CallID == "" || in.PeerID == uuid.Nil || !in.CallType.Valid() {
		return s, nil
	}
	next := s.idle()
	next.State = Outgoing
	next.CallID = in.CallID
	next.ConversationID = in.ConversationID
	next.PeerID = in.PeerID
	next.CallType = in.CallType
	next.MediaHeld = true
	return next, []Effect{
		AcquireMedia{CallType: in.CallType},
		SendOffer{Header: next.header(), CallType: in.CallType},
		Notify{Kind: NoticeRinging, CallID: next.CallID, PeerID: next.PeerID},
	}
}

func accept(s Session) (Session, []Effect) {
	if s.State != Incoming {
		return s, nil
	}
	next := s
	next.State = Connecting
	next.MediaHeld = true
	next.RemoteSet = true
	return next, []Effect{
		AcquireMedia{CallType: s.CallType},
		SendAnswer{Header: s.header(), Offer: s.Offer},
	}
}

func answerSent(s Session) (Session, []Effect) {
	if s.State != Connecting {
		return s, nil
	}
	next := s
	next.State = Active
	next.Offer = nil
	next.PendingICE = nil
	effects := flushICE(s.PendingICE)
	effects = append(effects, Notify{Kind: NoticeConnected, CallID: s.CallID, PeerID: s.PeerID})
	return next, effects
}

func reject(s Session) (Session, []Effect) {
	if s.State != Incoming {
		return s, nil
	}
	return s.idle(), []Effect{
		Send{Signal: events.CallRejected{SignalHeader: s.header(), Reason: ReasonDeclined}},
		Notify{Kind: NoticeEnded, CallID: s.CallID, PeerID: s.PeerID, Reason: ReasonDeclined},
	}
}

func hangup(s Session) (Session, []Effect) {
	switch s.State {
	case Incoming:
		return reject(s)
	case Outgoing, Connecting, Active:
		reason := ReasonHangup
		if s.State == Outgoing {
			reason = ReasonCancelled
		}
		var effects []Effect
		if s.MediaHeld {
			effects = append(effects, ReleaseMedia{})
		}
		effects = append(effects,
			Send{Signal: events.CallEnd{SignalHeader: s.header(), Reason: reason}},
			Notify{Kind: NoticeEnded, CallID: s.CallID, PeerID: s.PeerID, Reason: reason},
		)
		return s.idle(), effects
	default:
		return s, nil
	}
}

// fail abandons the call, telling the peer on a best-effort basis.
func fail(s Session) (Session, []Effect) {
	if s.State == Idle {
		return s, nil
	}
	var effects []Effect
	if s.MediaHeld {
		effects = append(effects, ReleaseMedia{})
	}
	if s.State == Incoming || s.State == Connecting {
		effects = append(effects, Send{Signal: events.CallRejected{SignalHeader: s.header(), Reason: ReasonFailed}})
	} else {
		effects = append(effects, Send{Signal: events.CallEnd{SignalHeader: s.header(), Reason: ReasonFailed}})
	}
	effects = append(effects, Notify{Kind: NoticeFailed, CallID: s.CallID, PeerID: s.PeerID, Reason: ReasonFailed})
	return s.idle(), effects
}

func flushICE(pending []json.RawMessage) []Effect {
	effects := make([]Effect, 0, len(pending)+1)
	for _, c := range pending {
		effects = append(effects, AddICE{Candidate: c})
	}
	return effects
}

func received(s Session, sig events.Signal) (Session, []Effect) {
	h := sig.Header()
	if h.TargetUserID != s.LocalUserID {
		return s, nil
	}

	if offer, ok := sig.(events.CallOffer); ok {
		return receivedOffer(s, offer)
	}
	if s.State == Idle || h.CallID != s.CallID || h.FromUserID != s.PeerID {
		return s, nil
	}

	switch e := sig.(type) {
	case events.CallAnswer:
		if s.State != Outgoing {
			// duplicate or late answer
			return s, nil
		}
		next := s
		next.State = Active
		next.RemoteSet = true
		next.PendingICE = nil
		effects := []Effect{ApplyAnswer{Answer: e.SDP}}
		effects = append(effects, flushICE(s.PendingICE)...)
		effects = append(effects, Notify{Kind: NoticeConnected, CallID: s.CallID, PeerID: s.PeerID})
		return next, effects

	case events.ICECandidate:
		if s.RemoteSet && (s.State == Active || s.State == Connecting) {
			return s, []Effect{AddICE{Candidate: e.Candidate}}
		}
		next := s
		next.PendingICE = append(append([]json.RawMessage(nil), s.PendingICE...), e.Candidate)
		return next, nil

	case events.CallRejected:
		if s.State != Outgoing {
			return s, nil
		}
		var effects []Effect
		if s.MediaHeld {
			effects = append(effects, ReleaseMedia{})
		}
		effects = append(effects, Notify{Kind: NoticeRejected, CallID: s.CallID, PeerID: s.PeerID, Reason: e.Reason})
		return s.idle(), effects

	case events.CallEnd:
		var effects []Effect
		if s.MediaHeld {
			effects = append(effects, ReleaseMedia{})
		}
		effects = append(effects, Notify{Kind: NoticeEnded, CallID: s.CallID, PeerID: s.PeerID, Reason: e.Reason})
		return s.idle(), effects
	}
	return s, nil
}

func receivedOffer(s Session, offer events.CallOffer) (Session, []Effect) {
	h := offer.Header()
	if s.State != Idle {
		if h.CallID == s.CallID {
			return s, nil
		}
		busy := events.CallRejected{
			SignalHeader: events.SignalHeader{
				CallID:         h.CallID,
				ConversationID: h.ConversationID,
				TargetUserID:   h.FromUserID,
				FromUserID:     s.LocalUserID,
			},
			Reason: ReasonBusy,
		}
		return s, []Effect{Send{Signal: busy}}
	}

	next := s.idle()
	next.State = Incoming
	next.CallID = h.CallID
	next.ConversationID = h.ConversationID
	next.PeerID = h.FromUserID
	next.CallType = offer.CallType
	next.Offer = offer.SDP
	return next, []Effect{Notify{Kind: NoticeIncoming, CallID: h.CallID, PeerID: h.FromUserID}}
}
