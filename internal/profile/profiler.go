package profile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/method"
)

// DefaultGracePeriod is how long Stop waits for in-flight calls to return.
const DefaultGracePeriod = 500 * time.Millisecond

type (
	// Profiler is the profiling context the instrumentation hooks call into.
	// It owns the method registry and the per-thread sessions.
	Profiler struct {
		enabled  atomic.Bool
		registry *method.Registry
		store    *Store

		now         func() time.Time
		base        time.Time
		logger      zerolog.Logger
		epsilon     float64
		gracePeriod time.Duration
		recovery    AncestorRecovery
	}

	Option func(*Profiler)
)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Profiler) {
		p.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Profiler) {
		p.logger = logger
	}
}

// WithEpsilon sets the threshold under which a recorded total time is
// recomputed from the children.
func WithEpsilon(epsilon float64) Option {
	return func(p *Profiler) {
		p.epsilon = epsilon
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(p *Profiler) {
		p.gracePeriod = d
	}
}

// WithAncestorRecovery enables the reconstruction of callers that were
// already running when capture started. The result is best-effort.
func WithAncestorRecovery(r AncestorRecovery) Option {
	return func(p *Profiler) {
		p.recovery = r
	}
}

func NewProfiler(opts ...Option) *Profiler {
	p := &Profiler{
		registry:    method.NewRegistry(),
		now:         time.Now,
		logger:      log.Logger,
		epsilon:     calltree.DefaultEpsilonMs,
		gracePeriod: DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.base = p.now()
	p.store = NewStore(p.now, p.epsilon)
	return p
}

func (p *Profiler) Registry() *method.Registry {
	return p.registry
}

func (p *Profiler) Store() *Store {
	return p.store
}

func (p *Profiler) Enabled() bool {
	return p.enabled.Load()
}

// RegisterMethod is called once per instrumented method, before the method
// is entered for the first time.
func (p *Profiler) RegisterMethod(i method.Identity) error {
	return p.registry.Register(i)
}

// MethodEntered is the hook called on entry of an instrumented method.
func (p *Profiler) MethodEntered(t Thread, id method.ID) {
	if !p.enabled.Load() {
		return
	}
	p.store.Session(t).Enter(id, p.nanotime(), p.recovery)
}

// MethodLeft is the hook called once on every exit path of an instrumented
// method. Leaving a method that was never entered panics.
func (p *Profiler) MethodLeft(t Thread) {
	if !p.enabled.Load() {
		return
	}
	if err := p.store.Session(t).Exit(p.nanotime()); err != nil {
		panic(err)
	}
}

// nanotime returns the nanoseconds elapsed since the profiler was created.
// Subtracting from base keeps the monotonic clock reading of time.Now, so
// wall clock steps don't leak into recorded times.
func (p *Profiler) nanotime() int64 {
	return p.now().Sub(p.base).Nanoseconds()
}

func (p *Profiler) Start() {
	p.enabled.Store(true)
	p.logger.Info().Msg("profiling started")
}

// Stop disables the hooks and waits for the grace period so that calls in
// flight on other threads can finish before the sessions are read.
func (p *Profiler) Stop(ctx context.Context) error {
	p.enabled.Store(false)
	timer := time.NewTimer(p.gracePeriod)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	p.logger.Info().Int("sessions", p.store.Len()).Msg("profiling stopped")
	return nil
}

// Reset drops every session. Registered methods are kept since
// instrumentation doesn't register them again.
func (p *Profiler) Reset() {
	p.store.Reset()
	p.logger.Info().Msg("profiling data reset")
}

// Snapshot copies the registry and every session into a Container. Capture
// should be stopped.
func (p *Profiler) Snapshot() *Container {
	live := p.store.Sessions()
	sessions := make([]*Session, 0, len(live))
	for _, s := range live {
		sessions = append(sessions, s.Clone())
	}
	return NewContainer(p.registry.Snapshot(), sessions)
}
