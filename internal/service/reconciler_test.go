package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/alert-relay/internal/backpressure"
	"github.com/kursadbilgin/alert-relay/internal/deadletter"
	"github.com/kursadbilgin/alert-relay/internal/domain"
	"github.com/kursadbilgin/alert-relay/internal/queue"
	"github.com/kursadbilgin/alert-relay/internal/rules"
)

func newTestReconciler(
	t *testing.T,
	repo *fakeDeliveryRepo,
	events *fakeEventRepo,
	ruleSource *fakeRuleSource,
	enqueuer *fakeEnqueuer,
	store *fakeCounterStore,
	interval time.Duration,
) *Reconciler {
	t.Helper()

	gate, err := backpressure.NewGate(store, 0, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	poison, err := deadletter.NewStore(repo, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("deadletter.NewStore() error = %v", err)
	}

	reconciler, err := NewReconciler(repo, events, ruleSource, gate, poison, enqueuer, nil, interval, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	return reconciler
}

func TestReconcilerOverwritesCounterFromStorage(t *testing.T) {
	t.Parallel()

	var activeCalls atomic.Int64
	repo := &fakeDeliveryRepo{
		countActiveFn: func(ctx context.Context) (int64, error) {
			activeCalls.Add(1)
			return 42, nil
		},
		countPoisonedFn: func(ctx context.Context) (int64, error) {
			return 3, nil
		},
	}

	// Counter drifted far above the true row count.
	store := &fakeCounterStore{depth: 9_000}
	reconciler := newTestReconciler(t, repo, &fakeEventRepo{}, &fakeRuleSource{}, &fakeEnqueuer{}, store, 50*time.Millisecond)

	if err := reconciler.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}

	store.mu.Lock()
	depth := store.depth
	store.mu.Unlock()
	if depth != 42 {
		t.Fatalf("counter depth = %d, want overwrite to 42", depth)
	}
	if activeCalls.Load() != 1 {
		t.Fatalf("CountActive calls = %d, want 1", activeCalls.Load())
	}
}

func TestReconcilerStartRunsImmediatelyAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	var activeCalls atomic.Int64
	repo := &fakeDeliveryRepo{
		countActiveFn: func(ctx context.Context) (int64, error) {
			activeCalls.Add(1)
			return 0, nil
		},
	}

	store := &fakeCounterStore{depth: 100}
	reconciler := newTestReconciler(t, repo, &fakeEventRepo{}, &fakeRuleSource{}, &fakeEnqueuer{}, store, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reconciler.Start(ctx) }()

	// The first pass runs before any ticker edge.
	waitFor(t, func() bool { return activeCalls.Load() >= 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancellation")
	}

	store.mu.Lock()
	depth := store.depth
	store.mu.Unlock()
	if depth != 0 {
		t.Fatalf("counter depth = %d, want 0 after startup reconcile", depth)
	}
}

func TestReconcilerRescuesStrandedDeliveries(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	stale := now.Add(-20 * time.Minute)

	// One row abandoned mid-claim by a crashed worker, one left PENDING
	// after a failed slot reservation. Neither has a queued job left.
	stranded := []domain.AlertDelivery{
		{
			ID:            "d-crashed",
			AlertID:       "evt-1",
			Channel:       domain.ChannelWebhook,
			Recipient:     "https://example.com/hook",
			Status:        domain.StatusInProgress,
			Attempts:      1,
			LastAttemptAt: &stale,
		},
		{
			ID:        "d-never-enqueued",
			AlertID:   "evt-1",
			Channel:   domain.ChannelEmail,
			Recipient: "ops@example.com",
			Status:    domain.StatusPending,
			Attempts:  0,
		},
	}

	repo := &fakeDeliveryRepo{
		listStrandedFn: func(ctx context.Context, at time.Time, limit int) ([]domain.AlertDelivery, error) {
			if !at.Equal(now) {
				t.Errorf("ListStranded now = %v, want %v", at, now)
			}
			return stranded, nil
		},
	}

	triggerValue := 97.5
	events := &fakeEventRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.AlertEvent, error) {
			return &domain.AlertEvent{ID: id, RuleID: "cpu-high", TriggerValue: &triggerValue}, nil
		},
	}
	ruleSource := &fakeRuleSource{
		getRuleFn: func(ctx context.Context, ruleID string) (*rules.Rule, error) {
			return &rules.Rule{ID: ruleID, Name: "cpu high", Enabled: true}, nil
		},
		enabledChannelsFn: func(ctx context.Context, ruleID string) ([]rules.ChannelConfig, error) {
			return []rules.ChannelConfig{
				{RuleID: ruleID, Channel: domain.ChannelWebhook, Recipient: "https://example.com/hook", Enabled: true},
				{RuleID: ruleID, Channel: domain.ChannelEmail, Recipient: "ops@example.com", Subject: "CPU alert", Enabled: true},
			}, nil
		},
	}

	var mu sync.Mutex
	var enqueued []queue.DeliveryJob
	enqueuer := &fakeEnqueuer{
		enqueueNowFn: func(ctx context.Context, job queue.DeliveryJob) error {
			mu.Lock()
			defer mu.Unlock()
			enqueued = append(enqueued, job)
			return nil
		},
	}

	reconciler := newTestReconciler(t, repo, events, ruleSource, enqueuer, &fakeCounterStore{}, time.Hour)
	reconciler.now = func() time.Time { return now }

	if err := reconciler.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}

	if len(enqueued) != 2 {
		t.Fatalf("enqueued jobs = %d, want 2", len(enqueued))
	}
	if enqueued[0].DeliveryID != "d-crashed" || enqueued[0].Attempt != 1 {
		t.Fatalf("first job = %+v, want d-crashed carrying attempt 1", enqueued[0])
	}
	if enqueued[1].DeliveryID != "d-never-enqueued" || enqueued[1].Attempt != 0 {
		t.Fatalf("second job = %+v, want d-never-enqueued at attempt 0", enqueued[1])
	}
	if enqueued[1].Subject != "CPU alert" {
		t.Fatalf("second job subject = %q, want channel config subject", enqueued[1].Subject)
	}
	if enqueued[0].Subject != "Alert: cpu high" {
		t.Fatalf("first job subject = %q, want rule-derived fallback", enqueued[0].Subject)
	}
}

func TestReconcilerRescueSkipsFailedEnqueues(t *testing.T) {
	t.Parallel()

	stranded := []domain.AlertDelivery{
		{ID: "d-1", AlertID: "evt-1", Channel: domain.ChannelWebhook, Recipient: "https://a.example.com", Status: domain.StatusPending},
		{ID: "d-2", AlertID: "evt-1", Channel: domain.ChannelWebhook, Recipient: "https://b.example.com", Status: domain.StatusPending},
	}

	repo := &fakeDeliveryRepo{
		listStrandedFn: func(ctx context.Context, now time.Time, limit int) ([]domain.AlertDelivery, error) {
			return stranded, nil
		},
	}
	events := &fakeEventRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.AlertEvent, error) {
			return &domain.AlertEvent{ID: id, RuleID: "disk-full"}, nil
		},
	}
	ruleSource := &fakeRuleSource{
		getRuleFn: func(ctx context.Context, ruleID string) (*rules.Rule, error) {
			return &rules.Rule{ID: ruleID, Name: "disk full", Enabled: true}, nil
		},
	}

	var mu sync.Mutex
	var enqueued []string
	enqueuer := &fakeEnqueuer{
		enqueueNowFn: func(ctx context.Context, job queue.DeliveryJob) error {
			if job.DeliveryID == "d-1" {
				return errors.New("broker unavailable")
			}
			mu.Lock()
			defer mu.Unlock()
			enqueued = append(enqueued, job.DeliveryID)
			return nil
		},
	}

	reconciler := newTestReconciler(t, repo, events, ruleSource, enqueuer, &fakeCounterStore{}, time.Hour)

	// One broker failure must not abort the rest of the batch.
	if err := reconciler.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}
	if len(enqueued) != 1 || enqueued[0] != "d-2" {
		t.Fatalf("enqueued = %v, want just d-2", enqueued)
	}
}

func TestReconcilerRescueRuleLookupFallback(t *testing.T) {
	t.Parallel()

	repo := &fakeDeliveryRepo{
		listStrandedFn: func(ctx context.Context, now time.Time, limit int) ([]domain.AlertDelivery, error) {
			return []domain.AlertDelivery{
				{ID: "d-1", AlertID: "evt-1", Channel: domain.ChannelWebhook, Recipient: "https://example.com/hook", Status: domain.StatusPending},
			}, nil
		},
	}
	events := &fakeEventRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.AlertEvent, error) {
			return &domain.AlertEvent{ID: id, RuleID: "retired-rule"}, nil
		},
	}
	// Rule deleted since the trigger; the stranded delivery still ships.
	ruleSource := &fakeRuleSource{
		getRuleFn: func(ctx context.Context, ruleID string) (*rules.Rule, error) {
			return nil, domain.ErrRuleNotFound
		},
	}

	var mu sync.Mutex
	var enqueued []queue.DeliveryJob
	enqueuer := &fakeEnqueuer{
		enqueueNowFn: func(ctx context.Context, job queue.DeliveryJob) error {
			mu.Lock()
			defer mu.Unlock()
			enqueued = append(enqueued, job)
			return nil
		},
	}

	reconciler := newTestReconciler(t, repo, events, ruleSource, enqueuer, &fakeCounterStore{}, time.Hour)

	if err := reconciler.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}
	if len(enqueued) != 1 {
		t.Fatalf("enqueued jobs = %d, want 1", len(enqueued))
	}
	if enqueued[0].Subject != "Alert: retired-rule" {
		t.Fatalf("subject = %q, want rule-id fallback", enqueued[0].Subject)
	}
}
