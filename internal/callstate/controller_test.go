package callstate

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/events"
	sentinal_errors "sentinal-relay/pkg/errors"
)

type recordingSignaler struct {
	mu   sync.Mutex
	sent []events.Signal
}

func (r *recordingSignaler) Signal(_ context.Context, sig events.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sig)
	return nil
}

// drain returns and forgets everything sent so far.
func (r *recordingSignaler) drain() []events.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

type recordingPresenter struct {
	mu      sync.Mutex
	notices []Notify
}

func (r *recordingPresenter) Present(n Notify) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingPresenter) kinds() []NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NoticeKind, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

type party struct {
	id        uuid.UUID
	ctrl      *Controller
	media     *DryRunMedia
	signaler  *recordingSignaler
	presenter *recordingPresenter
}

func newParty() *party {
	p := &party{
		id:        uuid.New(),
		media:     NewDryRunMedia(),
		signaler:  &recordingSignaler{},
		presenter: &recordingPresenter{},
	}
	p.ctrl = NewController(p.id, p.media, p.signaler, p.presenter, nil)
	return p
}

// forward delivers what from sent to to, the way the relay would.
func forward(ctx context.Context, from, to *party) {
	for _, sig := range from.signaler.drain() {
		to.ctrl.HandleSignal(ctx, sig.WithSender(from.id))
	}
}

func TestControllerFullCall(t *testing.T) {
	ctx := context.Background()
	alice, bob := newParty(), newParty()
	conv := uuid.New()

	callID, err := alice.ctrl.StartCall(ctx, conv, bob.id, domain.CallTypeVideo)
	require.NoError(t, err)
	assert.Equal(t, Outgoing, alice.ctrl.State())
	assert.True(t, alice.media.Held())

	forward(ctx, alice, bob)
	assert.Equal(t, Incoming, bob.ctrl.State())
	assert.Equal(t, callID, bob.ctrl.Session().CallID)
	assert.False(t, bob.media.Held())

	require.NoError(t, bob.ctrl.Accept(ctx))
	assert.Equal(t, Active, bob.ctrl.State())
	assert.True(t, bob.media.Held())

	forward(ctx, bob, alice)
	assert.Equal(t, Active, alice.ctrl.State())

	alice.ctrl.Hangup(ctx)
	forward(ctx, alice, bob)
	assert.Equal(t, Idle, alice.ctrl.State())
	assert.Equal(t, Idle, bob.ctrl.State())
	assert.False(t, alice.media.Held())
	assert.False(t, bob.media.Held())

	assert.Equal(t, []NoticeKind{NoticeRinging, NoticeConnected, NoticeEnded}, alice.presenter.kinds())
	assert.Equal(t, []NoticeKind{NoticeIncoming, NoticeConnected, NoticeEnded}, bob.presenter.kinds())
}

func TestControllerRejectedCall(t *testing.T) {
	ctx := context.Background()
	alice, bob := newParty(), newParty()

	_, err := alice.ctrl.StartCall(ctx, uuid.New(), bob.id, domain.CallTypeVoice)
	require.NoError(t, err)
	forward(ctx, alice, bob)

	require.NoError(t, bob.ctrl.Reject(ctx))
	forward(ctx, bob, alice)

	assert.Equal(t, Idle, alice.ctrl.State())
	assert.False(t, alice.media.Held())
	assert.NotContains(t, bob.media.Calls(), "acquire")
	assert.Contains(t, alice.presenter.kinds(), NoticeRejected)
}

func TestControllerICEAppliedAfterAnswer(t *testing.T) {
	ctx := context.Background()
	alice, bob := newParty(), newParty()

	callID, err := alice.ctrl.StartCall(ctx, uuid.New(), bob.id, domain.CallTypeVoice)
	require.NoError(t, err)
	forward(ctx, alice, bob)

	h := events.SignalHeader{CallID: callID, ConversationID: bob.ctrl.Session().ConversationID, TargetUserID: alice.id}
	alice.ctrl.HandleSignal(ctx, events.ICECandidate{SignalHeader: h, Candidate: []byte(`"early"`)}.WithSender(bob.id))
	assert.Empty(t, alice.media.Candidates())

	require.NoError(t, bob.ctrl.Accept(ctx))
	forward(ctx, bob, alice)
	require.Len(t, alice.media.Candidates(), 1)
	assert.JSONEq(t, `"early"`, string(alice.media.Candidates()[0]))
}

func TestControllerAnswerFailureCleansUp(t *testing.T) {
	ctx := context.Background()
	alice, bob := newParty(), newParty()
	bob.media.FailOn = "answer"

	_, err := alice.ctrl.StartCall(ctx, uuid.New(), bob.id, domain.CallTypeVoice)
	require.NoError(t, err)
	forward(ctx, alice, bob)

	require.NoError(t, bob.ctrl.Accept(ctx))
	assert.Equal(t, Idle, bob.ctrl.State())
	assert.False(t, bob.media.Held())
	assert.Contains(t, bob.presenter.kinds(), NoticeFailed)

	sent := bob.signaler.drain()
	require.Len(t, sent, 1)
	rejected, ok := sent[0].(events.CallRejected)
	require.True(t, ok)
	assert.Equal(t, ReasonFailed, rejected.Reason)
}

func TestControllerAcquireFailureAbortsStart(t *testing.T) {
	ctx := context.Background()
	alice := newParty()
	alice.media.FailOn = "acquire"

	_, err := alice.ctrl.StartCall(ctx, uuid.New(), uuid.New(), domain.CallTypeVideo)
	assert.ErrorIs(t, err, sentinal_errors.ErrNegotiationFailed)
	assert.Equal(t, Idle, alice.ctrl.State())
}

func TestControllerGuards(t *testing.T) {
	ctx := context.Background()
	alice := newParty()

	assert.ErrorIs(t, alice.ctrl.Accept(ctx), sentinal_errors.ErrInvalidTransition)

	_, err := alice.ctrl.StartCall(ctx, uuid.New(), alice.id, domain.CallTypeVoice)
	assert.ErrorIs(t, err, sentinal_errors.ErrInvalidInput)

	_, err = alice.ctrl.StartCall(ctx, uuid.New(), uuid.New(), domain.CallTypeVoice)
	require.NoError(t, err)
	_, err = alice.ctrl.StartCall(ctx, uuid.New(), uuid.New(), domain.CallTypeVoice)
	assert.ErrorIs(t, err, sentinal_errors.ErrConflict)
}
