// Package resilience guards upstream calls with a persisted per-key circuit
// breaker and an exponential-backoff retry engine that defers to it.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/pkg/clockx"
)

// DefaultCircuit is the breaker key for calls not tied to a platform.
const DefaultCircuit = "default"

const persistTimeout = 5 * time.Second

// StateChangeFunc observes breaker transitions. Invoked asynchronously, one
// at a time, in transition order.
type StateChangeFunc func(name string, state domain.BreakerState, snap domain.BreakerSnapshot)

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, ResetTimeout: 60 * time.Second}
}

// Breaker is a per-key CLOSED/OPEN/HALF_OPEN state machine. The in-memory
// state is authoritative within the process; every transition and every
// in-CLOSED failure increment is upserted to the store so that a fresh
// process resumes without re-discovering the outage. Writes never block the
// call path.
type Breaker struct {
	name  string
	cfg   BreakerConfig
	clock clockx.Clock
	repo  domain.BreakerStateRepository

	onStateChange StateChangeFunc

	mu              sync.Mutex
	state           domain.BreakerState
	failures        int
	lastFailureTime *time.Time
	nextAttemptTime *time.Time

	persistCh chan domain.BreakerSnapshot
	notifyCh  chan breakerEvent
}

type breakerEvent struct {
	state domain.BreakerState
	snap  domain.BreakerSnapshot
}

// NewBreaker constructs a breaker starting CLOSED with zero counters.
func NewBreaker(name string, cfg BreakerConfig, repo domain.BreakerStateRepository, clock clockx.Clock, onStateChange StateChangeFunc) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}
	if clock == nil {
		clock = clockx.System{}
	}
	b := &Breaker{
		name:          name,
		cfg:           cfg,
		clock:         clock,
		repo:          repo,
		onStateChange: onStateChange,
		state:         domain.BreakerClosed,
		persistCh:     make(chan domain.BreakerSnapshot, 32),
	}
	if repo != nil {
		go b.persistLoop()
	}
	if onStateChange != nil {
		b.notifyCh = make(chan breakerEvent, 32)
		go b.notifyLoop()
	}
	return b
}

// restore seeds the breaker from a persisted snapshot.
func (b *Breaker) restore(snap domain.BreakerSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if snap.State == "" {
		return
	}
	b.state = snap.State
	b.failures = snap.Failures
	b.lastFailureTime = snap.LastFailureTime
	b.nextAttemptTime = snap.NextAttemptTime
}

// State returns the current state without triggering a transition. The retry
// layer inspects this to stop retrying while the circuit says "stop".
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current persisted representation.
func (b *Breaker) Snapshot() domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() domain.BreakerSnapshot {
	return domain.BreakerSnapshot{
		State:           b.state,
		Failures:        b.failures,
		LastFailureTime: b.lastFailureTime,
		NextAttemptTime: b.nextAttemptTime,
		Timestamp:       b.clock.Now(),
	}
}

// Execute runs fn under the breaker. While OPEN and before nextAttemptTime
// the call is rejected without invoking fn; at or after nextAttemptTime a
// single probe is permitted in HALF_OPEN.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	now := b.clock.Now()

	b.mu.Lock()
	switch b.state {
	case domain.BreakerOpen:
		if b.nextAttemptTime != nil && now.Before(*b.nextAttemptTime) {
			wait := b.nextAttemptTime.Sub(now).Round(time.Second)
			b.mu.Unlock()
			return fmt.Errorf("op=breaker.execute: circuit %q OPEN, retry in %s: %w", b.name, wait, domain.ErrCircuitOpen)
		}
		b.state = domain.BreakerHalfOpen
		snap := b.snapshotLocked()
		b.mu.Unlock()
		slog.Info("circuit breaker half-open, permitting probe", slog.String("circuit", b.name))
		b.notify(domain.BreakerHalfOpen, snap)
		b.persist(snap)
	default:
		b.mu.Unlock()
	}

	err := fn(ctx)
	if err != nil {
		b.onFailure(err)
		return b.wrapFailure(err)
	}
	b.onSuccess()
	return nil
}

// wrapFailure re-reads state so that the error surfaced on the call that
// tripped the breaker carries the "circuit opened" marker.
func (b *Breaker) wrapFailure(err error) error {
	b.mu.Lock()
	opened := b.state == domain.BreakerOpen
	failures := b.failures
	b.mu.Unlock()
	if opened {
		return fmt.Errorf("op=breaker.execute: circuit %q opened after %d failures: %w: %w", b.name, failures, domain.ErrCircuitOpen, err)
	}
	return err
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	changed := b.state != domain.BreakerClosed || b.failures != 0
	wasState := b.state
	b.state = domain.BreakerClosed
	b.failures = 0
	b.lastFailureTime = nil
	b.nextAttemptTime = nil
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if !changed {
		return
	}
	if wasState != domain.BreakerClosed {
		slog.Info("circuit breaker closed", slog.String("circuit", b.name), slog.Int("failures", 0))
		b.notify(domain.BreakerClosed, snap)
	}
	b.persist(snap)
}

func (b *Breaker) onFailure(err error) {
	now := b.clock.Now()

	b.mu.Lock()
	b.failures++
	b.lastFailureTime = &now

	opened := false
	switch b.state {
	case domain.BreakerHalfOpen:
		// A failed probe re-opens the circuit and resets the window.
		b.state = domain.BreakerOpen
		next := now.Add(b.cfg.ResetTimeout)
		b.nextAttemptTime = &next
		opened = true
	case domain.BreakerClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.state = domain.BreakerOpen
			next := now.Add(b.cfg.ResetTimeout)
			b.nextAttemptTime = &next
			opened = true
		}
	}
	snap := b.snapshotLocked()
	failures := b.failures
	b.mu.Unlock()

	if opened {
		slog.Warn("circuit breaker opened",
			slog.String("circuit", b.name),
			slog.Int("failures", failures),
			slog.Any("error", err))
		b.notify(domain.BreakerOpen, snap)
	}
	b.persist(snap)
}

// persist hands the snapshot to the background writer without blocking the
// call path. Snapshots are written in submission order; when the buffer is
// full the oldest pending write is dropped in favor of the newer state.
func (b *Breaker) persist(snap domain.BreakerSnapshot) {
	if b.repo == nil {
		return
	}
	for {
		select {
		case b.persistCh <- snap:
			return
		default:
			select {
			case <-b.persistCh:
			default:
			}
		}
	}
}

func (b *Breaker) persistLoop() {
	for snap := range b.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := b.repo.Upsert(ctx, b.name, snap)
		cancel()
		if err != nil {
			slog.Error("circuit breaker state persist failed",
				slog.String("circuit", b.name), slog.Any("error", err))
		}
	}
}

// notify hands the transition to the background dispatcher without blocking
// the call path. A single dispatcher delivers events in submission order;
// when the buffer is full the oldest pending event is dropped in favor of
// the newer transition.
func (b *Breaker) notify(state domain.BreakerState, snap domain.BreakerSnapshot) {
	if b.onStateChange == nil {
		return
	}
	ev := breakerEvent{state: state, snap: snap}
	for {
		select {
		case b.notifyCh <- ev:
			return
		default:
			select {
			case <-b.notifyCh:
			default:
			}
		}
	}
}

func (b *Breaker) notifyLoop() {
	for ev := range b.notifyCh {
		b.onStateChange(b.name, ev.state, ev.snap)
	}
}

// Registry hands out one breaker per circuit name, restoring persisted state
// on first use.
type Registry struct {
	cfg           BreakerConfig
	repo          domain.BreakerStateRepository
	clock         clockx.Clock
	onStateChange StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry constructs a breaker registry.
func NewRegistry(cfg BreakerConfig, repo domain.BreakerStateRepository, clock clockx.Clock, onStateChange StateChangeFunc) *Registry {
	return &Registry{
		cfg:           cfg,
		repo:          repo,
		clock:         clock,
		onStateChange: onStateChange,
		breakers:      make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating and restoring it on first use.
// An absent persisted row starts the circuit CLOSED with zero counters.
func (r *Registry) Get(ctx context.Context, name string) *Breaker {
	if name == "" {
		name = DefaultCircuit
	}
	r.mu.Lock()
	if b, ok := r.breakers[name]; ok {
		r.mu.Unlock()
		return b
	}
	b := NewBreaker(name, r.cfg, r.repo, r.clock, r.onStateChange)
	r.breakers[name] = b
	r.mu.Unlock()

	if r.repo != nil {
		if snap, ok, err := r.repo.Load(ctx, name); err != nil {
			slog.Error("circuit breaker state load failed", slog.String("circuit", name), slog.Any("error", err))
		} else if ok {
			b.restore(snap)
		}
	}
	return b
}
