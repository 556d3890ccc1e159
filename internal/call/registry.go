package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("call not found")

// Call is the registry's view of one relay session: bookkeeping only, no
// relay state and nothing persisted.
type Call struct {
	ID             string    `json:"call_id"`
	StreamSID      string    `json:"stream_sid,omitempty"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	call   *Call
	cancel context.CancelFunc
}

// Registry tracks live calls and expires the ones that go quiet. A hung
// session otherwise persists until a transport closes; the janitor is the
// backstop.
type Registry struct {
	mu                sync.RWMutex
	calls             map[string]*entry
	inactivityTimeout time.Duration
	onExpire          func(*Call)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	return &Registry{
		calls:             make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(*Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Register adds a new call. cancel is invoked if the janitor expires it.
func (r *Registry) Register(cancel context.CancelFunc) *Call {
	now := time.Now().UTC()
	c := &Call{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = &entry{call: c, cancel: cancel}
	return clone(c)
}

func (r *Registry) Get(id string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.call), nil
}

func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	e.call.LastActivityAt = time.Now().UTC()
	return nil
}

func (r *Registry) SetStreamSID(id, streamSID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	e.call.StreamSID = streamSID
	e.call.LastActivityAt = time.Now().UTC()
	return nil
}

// End marks the call ended and forgets it. Idempotent.
func (r *Registry) End(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return
	}
	e.call.Status = StatusEnded
	delete(r.calls, id)
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) expireInactive() {
	now := time.Now().UTC()
	var expired []*Call
	var cancels []context.CancelFunc

	r.mu.Lock()
	for id, e := range r.calls {
		if now.Sub(e.call.LastActivityAt) < r.inactivityTimeout {
			continue
		}
		e.call.Status = StatusEnded
		expired = append(expired, clone(e.call))
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
		delete(r.calls, id)
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Call) *Call {
	cc := *c
	return &cc
}
