package enforce_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"rentline/internal/config"
	"rentline/internal/db"
	"rentline/internal/domain"
	"rentline/internal/enforce"
	"rentline/internal/migrate"
	"rentline/internal/notify"
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

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// recordingNotifier captures every delivery attempt and can be told to fail
// specific channels.
type recordingNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures map[notify.Channel]error
}

type sentMessage struct {
	Channel notify.Channel
	Address string
	Msg     notify.Message
}

func (n *recordingNotifier) Notify(_ context.Context, ch notify.Channel, address string, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failures[ch]; ok {
		return err
	}
	n.sent = append(n.sent, sentMessage{Channel: ch, Address: address, Msg: msg})
	return nil
}

func (n *recordingNotifier) count(ch notify.Channel) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Channel == ch {
			c++
		}
	}
	return c
}

type testEnv struct {
	Engine   *enforce.Engine
	Exec     *enforce.Executor
	Notifier *recordingNotifier
	Clock    *fakeClock
	Ctx      context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &fakeClock{t: time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)}
	cfg := config.Default("org-1")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := enforce.New(conn, cfg, logger)
	eng.Now = clock.Now
	eng.Ledger.Now = clock.Now
	eng.Events.Now = clock.Now
	eng.Queue.Now = clock.Now
	ctx := context.Background()
	if err := eng.Repo.EnsureOrg(ctx, nil, "org-1", "Test Org", clock.Now().Format(time.RFC3339)); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	notifier := &recordingNotifier{failures: map[notify.Channel]error{}}
	return &testEnv{
		Engine:   eng,
		Exec:     enforce.NewExecutor(eng, notifier),
		Notifier: notifier,
		Clock:    clock,
		Ctx:      ctx,
	}
}

var fixtureSeq int

// seedLease creates a tenant and an ACTIVE lease with the given clauses and
// returns both.
func (env *testEnv) seedLease(t *testing.T, rentCents int64, clauses ...domain.LeaseClause) (domain.Tenant, domain.Lease) {
	t.Helper()
	fixtureSeq++
	now := env.Clock.Now().Format(time.RFC3339)
	tenant := domain.Tenant{
		ID:        fmt.Sprintf("tenant-%d", fixtureSeq),
		OrgID:     "org-1",
		FullName:  "Jordan Price",
		Email:     "jordan@example.com",
		Phone:     "+15550100",
		CreatedAt: now,
	}
	if err := env.Engine.Repo.InsertTenant(env.Ctx, tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	lease := domain.Lease{
		ID:        fmt.Sprintf("lease-%d", fixtureSeq),
		OrgID:     "org-1",
		TenantID:  tenant.ID,
		Status:    domain.LeaseActive,
		RentCents: rentCents,
		CreatedAt: now,
	}
	if err := env.Engine.Repo.InsertLease(env.Ctx, lease); err != nil {
		t.Fatalf("seed lease: %v", err)
	}
	for i, c := range clauses {
		c.ID = fmt.Sprintf("clause-%d-%d", fixtureSeq, i)
		c.LeaseID = lease.ID
		c.CreatedAt = now
		if err := env.Engine.Repo.InsertClause(env.Ctx, c); err != nil {
			t.Fatalf("seed clause: %v", err)
		}
	}
	return tenant, lease
}

// pay records a payment covering the given amount for a period.
func (env *testEnv) pay(t *testing.T, tenantID, period string, cents int64) {
	t.Helper()
	_, err := env.Engine.Ledger.Append(env.Ctx, domain.LedgerEntry{
		TenantID:    tenantID,
		Type:        domain.LedgerPayment,
		AmountCents: -cents,
		Period:      period,
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
}

// seedNotice inserts a notice directly, bypassing the handlers.
func (env *testEnv) seedNotice(t *testing.T, n domain.Notice) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := env.Engine.Repo.InsertNoticeTx(env.Ctx, tx, n); err != nil {
		t.Fatalf("seed notice: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func clause(typ, attrs string) domain.LeaseClause {
	return domain.LeaseClause{Type: typ, AttrsJSON: attrs}
}
