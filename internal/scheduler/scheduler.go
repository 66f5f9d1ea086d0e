// Package scheduler decides when sync cycles run. It is an explicit
// state machine driven by a single recurring timer tick; retries and
// cooldowns are state transitions, never re-entrant callbacks.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mattersync/internal/feed"
	"mattersync/internal/metrics"
	"mattersync/internal/settings"
	"mattersync/internal/timeutil"
)

// State of the scheduler.
type State string

// Scheduler states.
const (
	StateIdle             State = "idle"
	StateRunning          State = "running"
	StateAwaitingCooldown State = "awaiting_cooldown"
)

// Errors returned by TriggerSync.
var (
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Engine runs one sync cycle at a time.
type Engine interface {
	RunCycle(ctx context.Context) (complete bool, err error)
	SetStatusIndicator(ctx context.Context, syncing bool) error
}

// Options configures a Scheduler.
type Options struct {
	// Tick is the timer resolution.
	Tick time.Duration
	// Cooldown is the pause before an incomplete cycle resumes.
	Cooldown time.Duration
	// StaleAfter is how old a heartbeat may be before the lock of an
	// in-flight sync is considered abandoned.
	StaleAfter time.Duration
	// JitterRangeMinutes bounds the per-process jitter drawn once at
	// construction.
	JitterRangeMinutes int

	Metrics metrics.Recorder
	Logger  *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Scheduler fires sync cycles on an interval with jitter, reclaims
// abandoned locks by heartbeat staleness, and resumes budget-exhausted
// cycles after a cooldown.
type Scheduler struct {
	engine   Engine
	settings settings.Store
	log      *slog.Logger
	metrics  metrics.Recorder

	tick       time.Duration
	cooldown   time.Duration
	staleAfter time.Duration
	jitter     time.Duration
	now        func() time.Time

	trigger chan struct{}

	mu            sync.Mutex
	state         State
	cooldownUntil time.Time
}

// New creates a Scheduler. The jitter offset is drawn here and fixed for
// the process lifetime.
func New(engine Engine, st settings.Store, opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 6 * time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		engine:     engine,
		settings:   st,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		tick:       opts.Tick,
		cooldown:   opts.Cooldown,
		staleAfter: opts.StaleAfter,
		jitter:     timeutil.SignedJitter(opts.JitterRangeMinutes),
		now:        opts.Now,
		trigger:    make(chan struct{}, 1),
		state:      StateIdle,
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		case <-s.trigger:
			s.manualOnce(ctx)
		}
	}
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TriggerSync requests an immediate sync. It is gated only by "not
// already running and has valid credentials".
func (s *Scheduler) TriggerSync(ctx context.Context) error {
	if s.State() == StateRunning {
		return ErrSyncInProgress
	}
	syncing, err := s.settings.IsSyncing(ctx)
	if err != nil {
		return err
	}
	if syncing {
		return ErrSyncInProgress
	}
	ok, err := s.hasCredentials(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthenticated
	}

	select {
	case s.trigger <- struct{}{}:
	default:
		// A trigger is already pending.
	}
	return nil
}

// tickOnce advances the state machine by one timer tick.
func (s *Scheduler) tickOnce(ctx context.Context) {
	switch s.State() {
	case StateAwaitingCooldown:
		s.mu.Lock()
		due := !s.now().Before(s.cooldownUntil)
		s.mu.Unlock()
		if due {
			s.runCycle(ctx)
		}
	case StateIdle:
		should, err := s.shouldSync(ctx)
		if err != nil {
			s.log.Error("evaluate schedule", "error", err)
			return
		}
		if should {
			s.runCycle(ctx)
		}
	}
}

// manualOnce services a pending manual trigger.
func (s *Scheduler) manualOnce(ctx context.Context) {
	if s.State() == StateRunning {
		return
	}
	syncing, err := s.settings.IsSyncing(ctx)
	if err != nil {
		s.log.Error("read syncing flag", "error", err)
		return
	}
	if syncing {
		return
	}
	ok, err := s.hasCredentials(ctx)
	if err != nil || !ok {
		return
	}
	s.runCycle(ctx)
}

// shouldSync evaluates the Idle state's fire conditions: never synced,
// interval elapsed (plus jitter), or a stale abandoned lock.
func (s *Scheduler) shouldSync(ctx context.Context) (bool, error) {
	now := s.now()

	syncing, err := s.settings.IsSyncing(ctx)
	if err != nil {
		return false, err
	}
	if syncing {
		heartbeat, err := s.settings.LastHeartbeat(ctx)
		if err != nil {
			return false, err
		}
		staleThreshold := s.staleAfter + s.jitter
		if heartbeat.IsZero() || now.Sub(heartbeat) > staleThreshold {
			s.log.Warn("reclaiming abandoned sync lock",
				"last_heartbeat", heartbeat, "threshold", staleThreshold)
			return s.hasCredentials(ctx)
		}
		return false, nil
	}

	interval, err := s.settings.Interval(ctx)
	if err != nil {
		return false, err
	}
	if interval.Minutes() < 0 {
		// Manual: automatic firing is disabled entirely.
		return false, nil
	}

	lastSync, err := s.settings.LastSync(ctx)
	if err != nil {
		return false, err
	}
	if lastSync.IsZero() {
		return s.hasCredentials(ctx)
	}
	due := float64(interval.Minutes()) + s.jitter.Minutes()
	if timeutil.DiffInMinutes(now, lastSync) >= due {
		return s.hasCredentials(ctx)
	}
	return false, nil
}

// runCycle executes one Running phase and applies the resulting
// transition.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := s.now()
	s.setState(StateRunning)

	if err := s.settings.SetSyncing(ctx, true); err != nil {
		s.log.Error("acquire sync lock", "error", err)
		s.setState(StateIdle)
		return
	}
	if err := s.engine.SetStatusIndicator(ctx, true); err != nil {
		s.log.Warn("set status indicator", "error", err)
	}

	complete, err := s.engine.RunCycle(ctx)
	elapsed := s.now().Sub(start)

	switch {
	case errors.Is(err, feed.ErrNoCredentials) || errors.Is(err, feed.ErrCredentialsInvalid):
		// Controlled abort: release the lock and wait for the user to
		// re-authenticate.
		s.release(ctx)
		s.metrics.RecordCycle(metrics.CycleError, elapsed)
		s.log.Warn("sync aborted, authentication required", "error", err)
		s.setState(StateIdle)
	case err != nil:
		// Leave the lock as-is; the staleness watchdog reclaims it on
		// a future tick.
		s.metrics.RecordCycle(metrics.CycleError, elapsed)
		s.log.Error("sync cycle failed", "error", err)
		s.setState(StateIdle)
	case complete:
		// The last-sync timestamp is the cycle-start time, so content
		// created during the cycle is re-examined next time.
		if err := s.settings.SetLastSync(ctx, start); err != nil {
			s.log.Error("persist last sync", "error", err)
		}
		s.release(ctx)
		s.metrics.RecordCycle(metrics.CycleComplete, elapsed)
		s.log.Info("sync complete", "duration", elapsed)
		s.setState(StateIdle)
	default:
		// Budget exhausted: keep the lock, resume after the cooldown
		// from the last completed cycle's timestamp.
		s.metrics.RecordCycle(metrics.CycleIncomplete, elapsed)
		s.log.Info("sync incomplete, awaiting cooldown", "cooldown", s.cooldown)
		s.mu.Lock()
		s.cooldownUntil = s.now().Add(s.cooldown)
		s.state = StateAwaitingCooldown
		s.mu.Unlock()
	}
}

// release clears the lock and the visible status indicator.
func (s *Scheduler) release(ctx context.Context) {
	if err := s.settings.SetSyncing(ctx, false); err != nil {
		s.log.Error("release sync lock", "error", err)
	}
	if err := s.engine.SetStatusIndicator(ctx, false); err != nil {
		s.log.Warn("clear status indicator", "error", err)
	}
}

func (s *Scheduler) hasCredentials(ctx context.Context) (bool, error) {
	cred, err := s.settings.Credential(ctx)
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
