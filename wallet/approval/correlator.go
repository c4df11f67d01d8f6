// Package approval correlates asynchronous user decisions back to the
// requests that are suspended waiting for them. Every action that needs
// explicit consent opens a pending record here; the trusted UI settles each
// record exactly once.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names the UI event emitted for a pending approval.
type Kind string

const (
	KindSignTransaction Kind = "transactionSignatureRequest"
	KindSignTypedData   Kind = "signTypedDataRequest"
	KindSignData        Kind = "signDataRequest"
	KindSessionProposal Kind = "sessionProposal"
)

var (
	// ErrUnknownApproval is returned when settling an identifier that does
	// not exist or has already been settled. Settlement is exactly-once; a
	// second resolve or reject is a no-op error, never a crash.
	ErrUnknownApproval = errors.New("unknown or already settled approval")

	// ErrRejected is delivered to the suspended caller when the user (or the
	// timeout policy) declines the approval.
	ErrRejected = errors.New("approval rejected by user")
)

// Request describes one pending approval as shown to the UI.
type Request struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	Origin    string      `json:"origin"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Outcome is delivered to the suspended caller when its approval settles.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

type pending struct {
	request Request
	done    chan Outcome
	timer   *time.Timer
}

// Correlator is the single approval registry serving the whole broker.
// Records are independent and unordered; concurrent approvals from many
// origins can be open at once.
type Correlator struct {
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	open    map[string]*pending
	subs    map[int]chan Request
	nextSub int
}

// NewCorrelator builds a correlator. A zero timeout leaves approvals pending
// until the UI settles them; a positive timeout rejects them on expiry.
func NewCorrelator(logger *slog.Logger, timeout time.Duration) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		logger:  logger.With(slog.String("component", "approval")),
		timeout: timeout,
		open:    make(map[string]*pending),
		subs:    make(map[int]chan Request),
	}
}

// Open registers a new pending approval, notifies subscribers and returns
// the identifier together with the channel the caller awaits on. The channel
// receives exactly one Outcome.
func (c *Correlator) Open(kind Kind, origin string, payload interface{}) (string, <-chan Outcome) {
	id := uuid.NewString()
	entry := &pending{
		request: Request{
			ID:        id,
			Kind:      kind,
			Origin:    origin,
			Payload:   payload,
			CreatedAt: time.Now().UTC(),
		},
		done: make(chan Outcome, 1),
	}

	c.mu.Lock()
	c.open[id] = entry
	if c.timeout > 0 {
		entry.timer = time.AfterFunc(c.timeout, func() {
			if err := c.Reject(id); err == nil {
				c.logger.Info("approval timed out", slog.String("id", id), slog.String("kind", string(kind)))
			}
		})
	}
	for _, sub := range c.subs {
		select {
		case sub <- entry.request:
		default:
			// A subscriber that stopped draining loses events rather than
			// blocking every new approval.
		}
	}
	c.mu.Unlock()

	c.logger.Info("approval opened",
		slog.String("id", id),
		slog.String("kind", string(kind)),
		slog.String("origin", origin),
	)
	return id, entry.done
}

// Resolve settles an approval with the result produced by the trusted UI.
func (c *Correlator) Resolve(id string, result json.RawMessage) error {
	return c.settle(id, Outcome{Result: result})
}

// Reject settles an approval as declined by the user.
func (c *Correlator) Reject(id string) error {
	return c.settle(id, Outcome{Err: ErrRejected})
}

func (c *Correlator) settle(id string, outcome Outcome) error {
	c.mu.Lock()
	entry, ok := c.open[id]
	if ok {
		delete(c.open, id)
	}
	c.mu.Unlock()
	if !ok {
		return ErrUnknownApproval
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.done <- outcome
	close(entry.done)
	return nil
}

// Pending snapshots the currently open approvals, oldest first.
func (c *Correlator) Pending() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *Correlator) pendingLocked() []Request {
	requests := make([]Request, 0, len(c.open))
	for _, entry := range c.open {
		requests = append(requests, entry.request)
	}
	for i := 1; i < len(requests); i++ {
		for j := i; j > 0 && requests[j].CreatedAt.Before(requests[j-1].CreatedAt); j-- {
			requests[j], requests[j-1] = requests[j-1], requests[j]
		}
	}
	return requests
}

// Subscribe registers a listener for newly opened approvals. The returned
// cancel function must be called when the listener goes away.
func (c *Correlator) Subscribe(buffer int) (<-chan Request, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Request, buffer)

	c.mu.Lock()
	key := c.registerLocked(ch)
	c.mu.Unlock()

	return ch, c.cancelFunc(key)
}

// SubscribeWithBacklog atomically snapshots the pending approvals and
// registers a listener for new ones: every open approval is either in the
// returned backlog or delivered on the channel, never both.
func (c *Correlator) SubscribeWithBacklog(buffer int) ([]Request, <-chan Request, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Request, buffer)

	c.mu.Lock()
	backlog := c.pendingLocked()
	key := c.registerLocked(ch)
	c.mu.Unlock()

	return backlog, ch, c.cancelFunc(key)
}

func (c *Correlator) registerLocked(ch chan Request) int {
	key := c.nextSub
	c.nextSub++
	c.subs[key] = ch
	return key
}

func (c *Correlator) cancelFunc(key int) func() {
	return func() {
		c.mu.Lock()
		if existing, ok := c.subs[key]; ok {
			delete(c.subs, key)
			close(existing)
		}
		c.mu.Unlock()
	}
}

// Await blocks until the approval settles or the caller's context ends.
// Cancellation leaves the record open: if the UI is torn down without
// settling, the approval stays pending until the configured timeout (if any)
// rejects it.
func Await(ctx context.Context, done <-chan Outcome) (json.RawMessage, error) {
	select {
	case outcome := <-done:
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return outcome.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
