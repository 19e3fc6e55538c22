package callstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"sentinal-relay/internal/domain"
)

// DryRunMedia stands in for a real media stack. It produces placeholder
// session descriptions and records what it was asked to do.
type DryRunMedia struct {
	mu         sync.Mutex
	held       bool
	candidates []json.RawMessage
	calls      []string

	// FailOn makes the named step ("acquire", "offer", "answer", "apply") fail.
	FailOn string
}

func NewDryRunMedia() *DryRunMedia {
	return &DryRunMedia{}
}

func (m *DryRunMedia) step(name string) error {
	m.calls = append(m.calls, name)
	if m.FailOn == name {
		return fmt.Errorf("dry-run %s failed", name)
	}
	return nil
}

func (m *DryRunMedia) Acquire(_ context.Context, callType domain.CallType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("acquire"); err != nil {
		return err
	}
	m.held = true
	return nil
}

func (m *DryRunMedia) CreateOffer(context.Context) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("offer"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"type":"offer","sdp":"dry-run"}`), nil
}

func (m *DryRunMedia) CreateAnswer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.step("answer"); err != nil {
		return nil, err
	}
	if len(offer) == 0 {
		return nil, fmt.Errorf("no offer to answer")
	}
	return json.RawMessage(`{"type":"answer","sdp":"dry-run"}`), nil
}

func (m *DryRunMedia) ApplyAnswer(context.Context, json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step("apply")
}

func (m *DryRunMedia) AddICECandidate(_ context.Context, candidate json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "ice")
	m.candidates = append(m.candidates, candidate)
	return nil
}

func (m *DryRunMedia) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "release")
	m.held = false
}

func (m *DryRunMedia) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

func (m *DryRunMedia) Candidates() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.candidates...)
}

func (m *DryRunMedia) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
