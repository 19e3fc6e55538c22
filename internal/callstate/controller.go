package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/events"
	sentinal_errors "sentinal-relay/pkg/errors"
	"sentinal-relay/pkg/logger"
)

// MediaEngine owns local capture and the peer connection.
type MediaEngine interface {
	Acquire(ctx context.Context, callType domain.CallType) error
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	CreateAnswer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	ApplyAnswer(ctx context.Context, answer json.RawMessage) error
	AddICECandidate(ctx context.Context, candidate json.RawMessage) error
	Release()
}

// Signaler delivers signals to the relay.
type Signaler interface {
	Signal(ctx context.Context, sig events.Signal) error
}

// Presenter renders notices. It must not block.
type Presenter interface {
	Present(n Notify)
}

type nopPresenter struct{}

func (nopPresenter) Present(Notify) {}

// Controller runs one local participant's call. Inputs are serialized; each
// transition's effects complete before the next input is considered.
type Controller struct {
	mu        sync.Mutex
	session   Session
	media     MediaEngine
	signaler  Signaler
	presenter Presenter
	logger    *logger.Logger
}

func NewController(localUserID uuid.UUID, media MediaEngine, signaler Signaler, presenter Presenter, l *logger.Logger) *Controller {
	if presenter == nil {
		presenter = nopPresenter{}
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Controller{
		session:   NewSession(localUserID),
		media:     media,
		signaler:  signaler,
		presenter: presenter,
		logger:    l.Named("call"),
	}
}

func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) State() State {
	return c.Session().State
}

// StartCall places a call and returns its id.
func (c *Controller) StartCall(ctx context.Context, conversationID, peerID uuid.UUID, callType domain.CallType) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State != Idle {
		return "", fmt.Errorf("%w: call already in progress", sentinal_errors.ErrConflict)
	}
	if peerID == uuid.Nil || peerID == c.session.LocalUserID || !callType.Valid() {
		return "", fmt.Errorf("%w: bad call target or type", sentinal_errors.ErrInvalidInput)
	}
	callID := uuid.NewString()
	c.apply(ctx, StartCall{CallID: callID, ConversationID: conversationID, PeerID: peerID, CallType: callType})
	if c.session.CallID != callID {
		return "", sentinal_errors.ErrNegotiationFailed
	}
	return callID, nil
}

func (c *Controller) Accept(ctx context.Context) error {
	return c.act(ctx, Incoming, Accept{})
}

func (c *Controller) Reject(ctx context.Context) error {
	return c.act(ctx, Incoming, Reject{})
}

func (c *Controller) Hangup(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply(ctx, Hangup{})
}

// HandleSignal feeds a relayed signal into the machine.
func (c *Controller) HandleSignal(ctx context.Context, sig events.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply(ctx, SignalReceived{Signal: sig})
}

func (c *Controller) act(ctx context.Context, want State, in Input) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State != want {
		return fmt.Errorf("%w: call is %s", sentinal_errors.ErrInvalidTransition, c.session.State)
	}
	c.apply(ctx, in)
	return nil
}

// apply must be called with mu held.
func (c *Controller) apply(ctx context.Context, in Input) {
	next, effects := Transition(c.session, in)
	c.session = next
	if err := c.run(ctx, effects); err != nil {
		c.logger.Warn("call negotiation failed", zap.String("call_id", next.CallID), zap.Error(err))
		failed, cleanup := Transition(c.session, NegotiationFailed{Err: err})
		c.session = failed
		if err := c.run(ctx, cleanup); err != nil {
			c.logger.Warn("call cleanup incomplete", zap.Error(err))
		}
		return
	}

	if _, ok := in.(Accept); ok && c.session.State == Connecting {
		c.apply(ctx, AnswerSent{})
	}
}

// run executes effects in order and stops at the first negotiation failure.
func (c *Controller) run(ctx context.Context, effects []Effect) error {
	for _, eff := range effects {
		if err := c.runOne(ctx, eff); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runOne(ctx context.Context, eff Effect) error {
	switch e := eff.(type) {
	case AcquireMedia:
		if err := c.media.Acquire(ctx, e.CallType); err != nil {
			return fmt.Errorf("%w: acquire media: %v", sentinal_errors.ErrNegotiationFailed, err)
		}
	case ReleaseMedia:
		c.media.Release()
	case SendOffer:
		sdp, err := c.media.CreateOffer(ctx)
		if err != nil {
			return fmt.Errorf("%w: create offer: %v", sentinal_errors.ErrNegotiationFailed, err)
		}
		if err := c.signaler.Signal(ctx, events.CallOffer{SignalHeader: e.Header, CallType: e.CallType, SDP: sdp}); err != nil {
			return fmt.Errorf("%w: send offer: %v", sentinal_errors.ErrNegotiationFailed, err)
		}
	case SendAnswer:
		sdp, err := c.media.CreateAnswer(ctx, e.Offer)
		if err != nil {
			return fmt.Errorf("%w: create answer: %v", sentinal_errors.ErrNegotiationFailed, err)
		}
		if err := c.signaler.Signal(ctx, events.CallAnswer{SignalHeader: e.Header, SDP: sdp}); err != nil {
			return fmt.Errorf("%w: send answer: %v", sentinal_errors.ErrNegotiationFailed, err)
		}
	case ApplyAnswer:
		if err := c.media.ApplyAnswer(ctx, e.Answer); err != nil {
			return fmt.Errorf("%w: apply answer: %v", sentinal_errors.ErrNegotiationFailed, err)
		}
	case AddICE:
		// a bad candidate does not end the call
		if err := c.media.AddICECandidate(ctx, e.Candidate); err != nil {
			c.logger.Warn("ice candidate rejected", zap.Error(err))
		}
	case Send:
		if err := c.signaler.Signal(ctx, e.Signal); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("signal not sent", zap.String("type", string(e.Signal.Kind())), zap.Error(err))
		}
	case Notify:
		c.presenter.Present(e)
	}
	return nil
}
