package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/rebalance"
	"github.com/alanyoungcy/basketbot/internal/store/sqlite"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   map[int64]int
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	failFor int64
}

func (f *fakeRunner) RunCycle(ctx context.Context, botID int64) (rebalance.CycleResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return rebalance.CycleResult{BotID: botID, Outcome: rebalance.OutcomeError}, ctx.Err()
	}

	f.mu.Lock()
	f.calls[botID]++
	f.mu.Unlock()
	if botID == f.failFor {
		return rebalance.CycleResult{BotID: botID, Outcome: rebalance.OutcomeError}, errors.New("price source down")
	}
	return rebalance.CycleResult{BotID: botID, Outcome: rebalance.OutcomeNoSwap}, nil
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(context.Background()))
	return c
}

func createBot(t *testing.T, s *sqlite.Client, name string, enabled bool, mutate func(*domain.Bot)) domain.Bot {
	t.Helper()
	b := domain.Bot{
		Name:          name,
		Enabled:       enabled,
		AccountID:     "acc",
		Coins:         []domain.Asset{"BTC", "ETH"},
		Threshold:     0.05,
		CheckInterval: time.Minute,
		InitialCoin:   "BTC",
	}
	b.ApplyDefaults()
	if mutate != nil {
		mutate(&b)
	}
	created, err := s.Bots().Create(context.Background(), b)
	require.NoError(t, err)
	return created
}

func TestScheduler_TickRunsEnabledValidBots(t *testing.T) {
	s := newStore(t)
	a := createBot(t, s, "a", true, nil)
	b := createBot(t, s, "b", true, nil)
	off := createBot(t, s, "off", false, nil)
	bad := createBot(t, s, "bad", true, func(b *domain.Bot) { b.Threshold = 0 })

	runner := &fakeRunner{calls: map[int64]int{}, delay: 10 * time.Millisecond, failFor: b.ID}
	sched := NewScheduler(s.Bots(), runner, SchedulerConfig{Workers: 2}, slog.Default())

	sum, err := sched.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Bots)
	assert.Equal(t, 1, sum.Invalid)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Outcomes[rebalance.OutcomeNoSwap])
	assert.Equal(t, 1, sum.Outcomes[rebalance.OutcomeError])
	assert.Equal(t, 1, runner.calls[a.ID])
	assert.Equal(t, 1, runner.calls[b.ID])
	assert.Zero(t, runner.calls[off.ID])
	assert.Zero(t, runner.calls[bad.ID])
}

func TestScheduler_BoundedWorkers(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		createBot(t, s, name, true, nil)
	}
	runner := &fakeRunner{calls: map[int64]int{}, delay: 20 * time.Millisecond}
	sched := NewScheduler(s.Bots(), runner, SchedulerConfig{Workers: 2}, slog.Default())

	sum, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Bots)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
	assert.Zero(t, runner.active.Load(), "tick returns after every cycle finished")
}

func TestScheduler_CycleTimeout(t *testing.T) {
	s := newStore(t)
	createBot(t, s, "slow", true, nil)
	runner := &fakeRunner{calls: map[int64]int{}, delay: time.Second}
	sched := NewScheduler(s.Bots(), runner, SchedulerConfig{CycleTimeout: 20 * time.Millisecond}, slog.Default())

	start := time.Now()
	sum, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, sum.Errors)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := newStore(t)
	createBot(t, s, "a", true, nil)
	runner := &fakeRunner{calls: map[int64]int{}}
	sched := NewScheduler(s.Bots(), runner, SchedulerConfig{Interval: 10 * time.Millisecond}, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, sched.Run(ctx))

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.GreaterOrEqual(t, runner.calls[1], 2)
}

type fakeExporter struct {
	days []time.Time
	err  error
}

func (f *fakeExporter) ExportDay(_ context.Context, day time.Time) (domain.ExportResult, error) {
	f.days = append(f.days, day)
	return domain.ExportResult{Bots: 1}, f.err
}

type exportCounter struct{ ok, failed int }

func (c *exportCounter) ExportRun(ok bool) {
	if ok {
		c.ok++
	} else {
		c.failed++
	}
}

func TestExportJob_RejectsBadSchedule(t *testing.T) {
	_, err := NewExportJob(&fakeExporter{}, "not a cron", 0, nil, slog.Default())
	assert.Error(t, err)
}

func TestExportJob_RunOnceRecordsMetrics(t *testing.T) {
	exp := &fakeExporter{}
	counter := &exportCounter{}
	job, err := NewExportJob(exp, "15 0 * * *", time.Second, counter, slog.Default())
	require.NoError(t, err)

	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	res, err := job.RunOnce(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Bots)

	exp.err = errors.New("bucket gone")
	_, err = job.RunOnce(context.Background(), day)
	assert.ErrorContains(t, err, "2026-05-01")

	assert.Equal(t, 1, counter.ok)
	assert.Equal(t, 1, counter.failed)
}

func TestExportJob_RunStopsOnCancel(t *testing.T) {
	job, err := NewExportJob(&fakeExporter{}, "@daily", 0, nil, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("export job did not stop")
	}
}

type loopFunc func(ctx context.Context) error

func (f loopFunc) Run(ctx context.Context) error { return f(ctx) }

func TestOrchestrator_FailureCancelsOtherLoops(t *testing.T) {
	stopped := make(chan struct{})
	o := NewOrchestrator(nil, map[string]Background{
		"broken": loopFunc(func(context.Context) error { return errors.New("boom") }),
		"waiter": loopFunc(func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}),
		"unset": nil,
	}, slog.Default())

	err := o.Run(context.Background())
	require.ErrorContains(t, err, "broken: boom")
	<-stopped
}

func TestOrchestrator_CleanShutdown(t *testing.T) {
	o := NewOrchestrator(nil, map[string]Background{
		"waiter": loopFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, o.Run(ctx))
}
