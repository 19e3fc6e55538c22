package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/engine"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/repository"
	"sentinal-relay/pkg/logger"
)

// Notifier pushes events to users' live connections and learns when a
// delivered status has been written.
type Notifier interface {
	SendToUsers(ctx context.Context, userIDs []uuid.UUID, ev events.Event) (int, error)
	DeliverySettled(recipientID, messageID uuid.UUID)
}

// PresenceMirror receives presence changes for readers outside this process.
type PresenceMirror interface {
	Set(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, at time.Time) error
}

type recordJob struct {
	delivery *engine.DeliveryUpdate
	presence *engine.PresenceUpdate
}

// Recorder persists state changes made by the hub on background workers so
// the reactor never waits on storage. When a delivery status moves forward
// the sender is told with a message_status event.
//
// Updates are never dropped: when the job channel is full they spill into
// an overflow list the workers drain in order.
type Recorder struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	mirror   PresenceMirror
	notifier Notifier
	logger   *logger.Logger

	jobs     chan recordJob
	mu       sync.Mutex
	overflow []recordJob
	wake     chan struct{}
	workers  int
	timeout  time.Duration
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewRecorder(messages repository.MessageRepository, users repository.UserRepository, mirror PresenceMirror, workers int, l *logger.Logger) *Recorder {
	if workers <= 0 {
		workers = 1
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Recorder{
		messages: messages,
		users:    users,
		mirror:   mirror,
		logger:   l.Named("recorder"),
		jobs:     make(chan recordJob, 1024),
		wake:     make(chan struct{}, 1),
		workers:  workers,
		timeout:  5 * time.Second,
		stopChan: make(chan struct{}),
	}
}

// SetNotifier wires the hub in after both are constructed.
func (r *Recorder) SetNotifier(n Notifier) {
	r.notifier = n
}

// Start begins the worker loops
func (r *Recorder) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.run()
	}
}

// Stop drains queued jobs and waits for the workers.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

func (r *Recorder) DeliveryChanged(u engine.DeliveryUpdate) {
	r.submit(recordJob{delivery: &u})
}

func (r *Recorder) PresenceChanged(u engine.PresenceUpdate) {
	r.submit(recordJob{presence: &u})
}

// submit never blocks the caller. Once anything has spilled, later jobs
// spill too so a recipient's updates keep their order.
func (r *Recorder) submit(job recordJob) {
	r.mu.Lock()
	if len(r.overflow) == 0 {
		select {
		case r.jobs <- job:
			r.mu.Unlock()
			return
		default:
			r.logger.Warn("recorder backlog full, spilling updates to overflow")
		}
	}
	r.overflow = append(r.overflow, job)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// takeOverflow moves spilled jobs out in submission order.
func (r *Recorder) takeOverflow() []recordJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	spilled := r.overflow
	r.overflow = nil
	return spilled
}

// Backlog reports how many updates are waiting for a worker.
func (r *Recorder) Backlog() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs) + len(r.overflow)
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case job := <-r.jobs:
			r.process(job)
		case <-r.wake:
			r.drainOverflow()
		case <-r.stopChan:
			for {
				select {
				case job := <-r.jobs:
					r.process(job)
				default:
					if !r.drainOverflow() {
						return
					}
				}
			}
		}
	}
}

// drainOverflow processes spilled jobs once the channel ahead of them is
// empty, and reports whether it did any work.
func (r *Recorder) drainOverflow() bool {
	for {
		select {
		case job := <-r.jobs:
			r.process(job)
			continue
		default:
		}
		spilled := r.takeOverflow()
		if len(spilled) == 0 {
			return false
		}
		for _, job := range spilled {
			r.process(job)
		}
		return true
	}
}

func (r *Recorder) process(job recordJob) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch {
	case job.delivery != nil:
		r.recordDelivery(ctx, *job.delivery)
	case job.presence != nil:
		r.recordPresence(ctx, *job.presence)
	}
}

func (r *Recorder) recordDelivery(ctx context.Context, u engine.DeliveryUpdate) {
	changed, err := r.messages.RecordDeliveryStatus(ctx, u.MessageID, u.RecipientID, u.Status)
	if u.Status == domain.DeliveryStatusDelivered && r.notifier != nil {
		r.notifier.DeliverySettled(u.RecipientID, u.MessageID)
	}
	if err != nil {
		r.logger.Error("record delivery status failed",
			zap.String("message_id", u.MessageID.String()),
			zap.String("recipient_id", u.RecipientID.String()),
			zap.String("status", string(u.Status)),
			zap.Error(err))
		return
	}
	if !changed || r.notifier == nil || u.SenderID == uuid.Nil {
		return
	}

	if _, err := r.notifier.SendToUsers(ctx, []uuid.UUID{u.SenderID}, events.MessageStatus{
		MessageID:      u.MessageID,
		ConversationID: u.ConversationID,
		RecipientID:    u.RecipientID,
		Status:         u.Status,
	}); err != nil {
		r.logger.Warn("notify sender of status failed", zap.Error(err))
	}
}

func (r *Recorder) recordPresence(ctx context.Context, u engine.PresenceUpdate) {
	if err := r.users.UpdateStatus(ctx, u.UserID, u.Status); err != nil {
		r.logger.Error("update user status failed", zap.String("user_id", u.UserID.String()), zap.Error(err))
	}
	if u.Status == domain.PresenceOffline {
		if err := r.users.UpdateLastSeen(ctx, u.UserID, u.At); err != nil {
			r.logger.Error("update last seen failed", zap.String("user_id", u.UserID.String()), zap.Error(err))
		}
	}
	if r.mirror != nil {
		if err := r.mirror.Set(ctx, u.UserID, u.Status, u.At); err != nil {
			r.logger.Warn("mirror presence failed", zap.String("user_id", u.UserID.String()), zap.Error(err))
		}
	}
}
