package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mattersync/internal/feed"
	"mattersync/internal/model"
	"mattersync/internal/settings"
	"mattersync/internal/storage"
)

// clock is an adjustable test clock.
type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// cycleResult scripts one RunCycle outcome for the fake engine.
type cycleResult struct {
	complete bool
	err      error
}

type fakeEngine struct {
	results   []cycleResult
	runs      int
	indicator bool
}

func (f *fakeEngine) RunCycle(context.Context) (bool, error) {
	f.runs++
	if len(f.results) == 0 {
		return true, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next.complete, next.err
}

func (f *fakeEngine) SetStatusIndicator(_ context.Context, syncing bool) error {
	f.indicator = syncing
	return nil
}

type fixture struct {
	sched  *Scheduler
	st     *settings.SQLite
	engine *fakeEngine
	clock  *clock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	st := settings.NewSQLite(db)
	engine := &fakeEngine{}
	c := &clock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}

	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Now = c.Now
	sched := New(engine, st, opts)
	return &fixture{sched: sched, st: st, engine: engine, clock: c}
}

func authenticate(t *testing.T, st settings.Store) {
	t.Helper()
	err := st.SetCredential(context.Background(), model.Credential{
		AccessToken:  "acc",
		RefreshToken: "ref",
	})
	if err != nil {
		t.Fatalf("set credential: %v", err)
	}
}

func TestFirstEverTickFires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	authenticate(t, f.st)

	f.sched.tickOnce(ctx)

	if f.engine.runs != 1 {
		t.Fatalf("expected 1 run, got %d", f.engine.runs)
	}

	lastSync, err := f.st.LastSync(ctx)
	if err != nil {
		t.Fatalf("last sync: %v", err)
	}
	if !lastSync.Equal(f.clock.Now()) {
		t.Errorf("last sync = %v, want cycle start %v", lastSync, f.clock.Now())
	}

	syncing, err := f.st.IsSyncing(ctx)
	if err != nil {
		t.Fatalf("is syncing: %v", err)
	}
	if syncing {
		t.Error("lock not released after complete cycle")
	}
	if f.engine.indicator {
		t.Error("status indicator not cleared")
	}
	if diff := cmp.Diff(StateIdle, f.sched.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestNoCredentialsNoFire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	f.sched.tickOnce(ctx)

	if f.engine.runs != 0 {
		t.Fatalf("fired without credentials: %d runs", f.engine.runs)
	}
}

func TestIntervalGate(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		interval model.SyncInterval
		wantRuns int
	}{
		{"before interval", 30 * time.Minute, model.IntervalEveryHour, 0},
		{"exactly at interval", 60 * time.Minute, model.IntervalEveryHour, 1},
		{"past interval", 90 * time.Minute, model.IntervalEveryHour, 1},
		{"manual never fires", 48 * time.Hour, model.IntervalManual, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, Options{})
			authenticate(t, f.st)
			if err := f.st.SetInterval(ctx, tt.interval); err != nil {
				t.Fatalf("set interval: %v", err)
			}
			if err := f.st.SetLastSync(ctx, f.clock.Now()); err != nil {
				t.Fatalf("set last sync: %v", err)
			}

			f.clock.Advance(tt.elapsed)
			f.sched.tickOnce(ctx)

			if diff := cmp.Diff(tt.wantRuns, f.engine.runs); diff != "" {
				t.Errorf("run count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestManualIntervalBlocksEvenFirstSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	authenticate(t, f.st)
	if err := f.st.SetInterval(ctx, model.IntervalManual); err != nil {
		t.Fatalf("set interval: %v", err)
	}

	f.sched.tickOnce(ctx)

	if f.engine.runs != 0 {
		t.Fatalf("manual interval fired automatically: %d runs", f.engine.runs)
	}
}

func TestStalenessRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{StaleAfter: 6 * time.Minute})
	authenticate(t, f.st)

	// A prior cycle died holding the lock.
	if err := f.st.SetSyncing(ctx, true); err != nil {
		t.Fatalf("set syncing: %v", err)
	}
	if err := f.st.SetLastHeartbeat(ctx, f.clock.Now()); err != nil {
		t.Fatalf("set heartbeat: %v", err)
	}

	// Fresh heartbeat: the lock is respected.
	f.clock.Advance(2 * time.Minute)
	f.sched.tickOnce(ctx)
	if f.engine.runs != 0 {
		t.Fatalf("fired while lock held with fresh heartbeat")
	}

	// Stale heartbeat: the lock is reclaimed and a new Running phase starts.
	f.clock.Advance(10 * time.Minute)
	f.sched.tickOnce(ctx)
	if f.engine.runs != 1 {
		t.Fatalf("expected recovery run, got %d", f.engine.runs)
	}

	syncing, err := f.st.IsSyncing(ctx)
	if err != nil {
		t.Fatalf("is syncing: %v", err)
	}
	if syncing {
		t.Error("lock not released after recovered cycle completed")
	}
}

func TestBudgetExhaustionCooldownAndResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Cooldown: time.Minute})
	authenticate(t, f.st)
	f.engine.results = []cycleResult{
		{complete: false},
		{complete: true},
	}

	f.sched.tickOnce(ctx)

	if diff := cmp.Diff(StateAwaitingCooldown, f.sched.State()); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
	// Lock stays held and last sync stays unset between partial passes.
	syncing, err := f.st.IsSyncing(ctx)
	if err != nil {
		t.Fatalf("is syncing: %v", err)
	}
	if !syncing {
		t.Error("lock released mid-resumption")
	}
	lastSync, err := f.st.LastSync(ctx)
	if err != nil {
		t.Fatalf("last sync: %v", err)
	}
	if !lastSync.IsZero() {
		t.Errorf("last sync updated by incomplete cycle: %v", lastSync)
	}

	// Still cooling down: nothing happens.
	f.clock.Advance(30 * time.Second)
	f.sched.tickOnce(ctx)
	if f.engine.runs != 1 {
		t.Fatalf("resumed before cooldown elapsed: %d runs", f.engine.runs)
	}

	// Cooldown over: the cycle resumes and drains.
	f.clock.Advance(time.Minute)
	resumeStart := f.clock.Now()
	f.sched.tickOnce(ctx)

	if f.engine.runs != 2 {
		t.Fatalf("expected resumed run, got %d runs", f.engine.runs)
	}
	if diff := cmp.Diff(StateIdle, f.sched.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	lastSync, err = f.st.LastSync(ctx)
	if err != nil {
		t.Fatalf("last sync: %v", err)
	}
	if !lastSync.Equal(resumeStart) {
		t.Errorf("last sync = %v, want %v", lastSync, resumeStart)
	}
}

func TestUnexpectedErrorLeavesLockForWatchdog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{StaleAfter: 6 * time.Minute})
	authenticate(t, f.st)
	f.engine.results = []cycleResult{
		{err: errors.New("document store unavailable")},
		{complete: true},
	}

	f.sched.tickOnce(ctx)

	syncing, err := f.st.IsSyncing(ctx)
	if err != nil {
		t.Fatalf("is syncing: %v", err)
	}
	if !syncing {
		t.Fatal("lock must be left as-is after an unexpected error")
	}

	// Before staleness the lock blocks new cycles.
	f.clock.Advance(time.Minute)
	f.sched.tickOnce(ctx)
	if f.engine.runs != 1 {
		t.Fatalf("fired before staleness: %d runs", f.engine.runs)
	}

	// The watchdog eventually reclaims it.
	f.clock.Advance(10 * time.Minute)
	f.sched.tickOnce(ctx)
	if f.engine.runs != 2 {
		t.Fatalf("watchdog did not reclaim: %d runs", f.engine.runs)
	}
}

func TestCredentialFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	authenticate(t, f.st)
	f.engine.results = []cycleResult{{err: feed.ErrCredentialsInvalid}}

	f.sched.tickOnce(ctx)

	syncing, err := f.st.IsSyncing(ctx)
	if err != nil {
		t.Fatalf("is syncing: %v", err)
	}
	if syncing {
		t.Error("lock held after credential abort")
	}
	if f.engine.indicator {
		t.Error("indicator left visible after credential abort")
	}
}

func TestTriggerSyncGating(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthenticated", func(t *testing.T) {
		f := newFixture(t, Options{})
		if err := f.sched.TriggerSync(ctx); !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("got %v, want ErrNotAuthenticated", err)
		}
	})

	t.Run("already syncing", func(t *testing.T) {
		f := newFixture(t, Options{})
		authenticate(t, f.st)
		if err := f.st.SetSyncing(ctx, true); err != nil {
			t.Fatalf("set syncing: %v", err)
		}
		if err := f.sched.TriggerSync(ctx); !errors.Is(err, ErrSyncInProgress) {
			t.Fatalf("got %v, want ErrSyncInProgress", err)
		}
	})

	t.Run("runs when idle and authenticated", func(t *testing.T) {
		f := newFixture(t, Options{})
		authenticate(t, f.st)
		if err := f.sched.TriggerSync(ctx); err != nil {
			t.Fatalf("trigger: %v", err)
		}
		f.sched.manualOnce(ctx)
		if f.engine.runs != 1 {
			t.Fatalf("expected 1 run, got %d", f.engine.runs)
		}
	})
}
