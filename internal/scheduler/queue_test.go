package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"rentline/internal/db"
	"rentline/internal/domain"
	"rentline/internal/migrate"
	"rentline/internal/scheduler"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestQueue(t *testing.T) (*scheduler.Queue, *fakeClock) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	q := scheduler.NewQueue(conn)
	q.Now = clock.Now
	return q, clock
}

func TestEnqueueDedupe(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	opts := scheduler.Options{DedupeKey: "late-notice-tenant-1-2024-03"}

	first, err := q.Enqueue(ctx, "enforcement", "late-notice", map[string]string{"tenant": "1"}, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Enqueue(ctx, "enforcement", "late-notice", map[string]string{"tenant": "1"}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate enqueue should return the existing job, got %s and %s", first.ID, second.ID)
	}

	// A terminal job frees the key.
	if ok, err := q.Claim(ctx, first.ID); err != nil || !ok {
		t.Fatalf("claim: %v", err)
	}
	if err := q.Complete(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	third, err := q.Enqueue(ctx, "enforcement", "late-notice", nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	if third.ID == first.ID {
		t.Fatal("completed job must not suppress a fresh enqueue")
	}
}

func TestDelayIsNotBefore(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "enforcement", "escalation", nil, scheduler.Options{Delay: 10 * 24 * time.Hour}); err != nil {
		t.Fatal(err)
	}
	due, err := q.Due(ctx, "enforcement", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("delayed job became due early: %+v", due)
	}

	clock.Advance(9 * 24 * time.Hour)
	if due, _ = q.Due(ctx, "enforcement", 10); len(due) != 0 {
		t.Fatal("job due at nine of ten days")
	}
	clock.Advance(24 * time.Hour)
	if due, _ = q.Due(ctx, "enforcement", 10); len(due) != 1 {
		t.Fatalf("expected job due after delay, got %d", len(due))
	}
}

func TestClaimIsExclusive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "enforcement", "rent-reminder", nil, scheduler.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := q.Claim(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = q.Claim(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second claim must lose")
	}
}

func TestFailRetriesThenParks(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "enforcement", "late-notice", nil, scheduler.Options{MaxAttempts: 2})
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Fail(ctx, job, errors.New("store timeout"), time.Minute); err != nil {
		t.Fatal(err)
	}
	job, err = q.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobPending || job.Attempts != 1 {
		t.Fatalf("expected pending retry, got %+v", job)
	}
	runAt, _ := time.Parse(time.RFC3339, job.RunAt)
	if !runAt.After(clock.Now()) {
		t.Fatal("retry must be delayed")
	}

	if err := q.Fail(ctx, job, errors.New("store timeout"), time.Minute); err != nil {
		t.Fatal(err)
	}
	job, _ = q.Get(ctx, job.ID)
	if job.Status != domain.JobFailed {
		t.Fatalf("expected parked job at max attempts, got %s", job.Status)
	}
}

func TestWorkerRunOnceDispatches(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	w := scheduler.NewWorker(q, "enforcement",
		scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var handled []string
	w.Handle("rent-reminder", func(_ context.Context, job domain.Job) error {
		handled = append(handled, job.ID)
		return nil
	})

	job, err := q.Enqueue(ctx, "enforcement", "rent-reminder", nil, scheduler.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, "enforcement", "unknown-kind", nil, scheduler.Options{}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)

	if n := w.RunOnce(ctx); n != 2 {
		t.Fatalf("executed: got %d, want 2", n)
	}
	if len(handled) != 1 || handled[0] != job.ID {
		t.Fatalf("handled: %v", handled)
	}
	done, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.JobDone {
		t.Fatalf("job status: %s", done.Status)
	}

	// The unroutable job is parked, not retried forever.
	parked, err := q.List(ctx, scheduler.Filters{Kind: "unknown-kind"})
	if err != nil {
		t.Fatal(err)
	}
	if len(parked) != 1 || parked[0].Status != domain.JobFailed {
		t.Fatalf("unroutable job: %+v", parked)
	}
}

func TestWorkerRetriesFailedHandler(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	w := scheduler.NewWorker(q, "enforcement",
		scheduler.WithRetryDelay(time.Minute),
		scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	calls := 0
	w.Handle("late-notice", func(_ context.Context, _ domain.Job) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	job, err := q.Enqueue(ctx, "enforcement", "late-notice", nil, scheduler.Options{})
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	w.RunOnce(ctx)
	clock.Advance(2 * time.Minute)
	w.RunOnce(ctx)

	if calls != 2 {
		t.Fatalf("handler calls: got %d, want 2", calls)
	}
	done, _ := q.Get(ctx, job.ID)
	if done.Status != domain.JobDone {
		t.Fatalf("job status after retry: %s", done.Status)
	}
}
