// Package pool bounds the number of concurrently open remote sessions per
// stage class and reclaims leases that outlive their TTL. Reclamation is
// time-based, not completion-based: the remote side gives no completion
// signal, so the TTL is a conservative upper bound on transfer time.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediarelay/internal/domain"
)

// ErrExhausted is returned when no slot frees up within the wait limit.
var ErrExhausted = errors.New("resource pool exhausted")

// Slot is one leased unit of remote-session capacity. The pool owns the
// slot; callers hold a borrowed reference only.
type Slot struct {
	SlotID      string
	OwnerItemID string
	Stage       domain.Stage
	LeasedAt    time.Time
}

// ID implements ports.Session.
func (s *Slot) ID() string {
	return s.SlotID
}

// Terminator forcibly shuts down the remote session behind an expired slot.
type Terminator func(slot Slot)

// Pool is a bounded slot allocator for one stage class.
type Pool struct {
	stage     domain.Stage
	ttl       time.Duration
	terminate Terminator
	now       func() time.Time

	tokens chan struct{}

	mu    sync.Mutex
	slots map[string]*Slot
}

// Option tweaks pool construction; used by tests to inject a clock.
type Option func(*Pool)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New builds a pool for one stage class. terminate may be nil when expired
// leases have no remote session to tear down.
func New(stage domain.Stage, max int, ttl time.Duration, terminate Terminator, opts ...Option) *Pool {
	if max <= 0 {
		max = 1
	}
	p := &Pool{
		stage:     stage,
		ttl:       ttl,
		terminate: terminate,
		now:       time.Now,
		tokens:    make(chan struct{}, max),
		slots:     make(map[string]*Slot, max),
	}
	for i := 0; i < max; i++ {
		p.tokens <- struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire leases a slot for ownerItemID, waiting cooperatively up to wait
// for capacity. Returns a pool-exhausted stage error on timeout.
func (p *Pool) Acquire(ctx context.Context, ownerItemID string, wait time.Duration) (*Slot, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-p.tokens:
	case <-timer.C:
		return nil, domain.NewStageError(p.stage, domain.KindPoolExhausted,
			fmt.Errorf("%w: no %s slot within %s", ErrExhausted, p.stage, wait))
	case <-ctx.Done():
		return nil, domain.NewStageError(p.stage, domain.KindTransient, ctx.Err())
	}

	slot := &Slot{
		SlotID:      uuid.NewString(),
		OwnerItemID: ownerItemID,
		Stage:       p.stage,
		LeasedAt:    p.now(),
	}

	p.mu.Lock()
	p.slots[slot.SlotID] = slot
	p.mu.Unlock()
	return slot, nil
}

// Release returns a slot to the pool. Releasing an already-released slot is
// a no-op.
func (p *Pool) Release(slotID string) {
	p.mu.Lock()
	_, live := p.slots[slotID]
	if live {
		delete(p.slots, slotID)
	}
	p.mu.Unlock()

	if live {
		p.tokens <- struct{}{}
	}
}

// ReclaimExpired terminates and releases every slot leased longer than the
// TTL, oldest lease first. Returns the owner item ids of reclaimed slots so
// the orchestrator can mark them retryable.
func (p *Pool) ReclaimExpired(now time.Time) []string {
	p.mu.Lock()
	var expired []*Slot
	for _, slot := range p.slots {
		if now.Sub(slot.LeasedAt) > p.ttl {
			expired = append(expired, slot)
		}
	}
	p.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].LeasedAt.Before(expired[j].LeasedAt)
	})

	owners := make([]string, 0, len(expired))
	for _, slot := range expired {
		if p.terminate != nil {
			p.terminate(*slot)
		}
		p.Release(slot.SlotID)
		owners = append(owners, slot.OwnerItemID)
	}
	return owners
}

// Live returns a snapshot of currently leased slots, oldest first.
func (p *Pool) Live() []Slot {
	p.mu.Lock()
	out := make([]Slot, 0, len(p.slots))
	for _, slot := range p.slots {
		out = append(out, *slot)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LeasedAt.Before(out[j].LeasedAt) })
	return out
}

// Stage identifies the stage class this pool serves.
func (p *Pool) Stage() domain.Stage {
	return p.stage
}
