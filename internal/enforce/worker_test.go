package enforce_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"rentline/internal/domain"
	"rentline/internal/enforce"
	"rentline/internal/notify"
	"rentline/internal/repo"
)

func enforcementJob(t *testing.T, kind, leaseID, tenantID, period string) domain.Job {
	t.Helper()
	payload, err := json.Marshal(enforce.JobPayload{OrgID: "org-1", LeaseID: leaseID, TenantID: tenantID, Period: period})
	if err != nil {
		t.Fatal(err)
	}
	return domain.Job{ID: "job-test", Queue: enforce.QueueName, Kind: kind, PayloadJSON: string(payload), MaxAttempts: 5}
}

func TestLateNoticeHandlerIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	tenant, lease := env.seedLease(t, 100000)
	job := enforcementJob(t, enforce.KindLateNotice, lease.ID, tenant.ID, "2024-03")

	// At-least-once delivery: the same job observed twice.
	if err := env.Exec.HandleLateNotice(env.Ctx, job); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := env.Exec.HandleLateNotice(env.Ctx, job); err != nil {
		t.Fatalf("second run: %v", err)
	}

	notices, err := env.Engine.Repo.ListNotices(env.Ctx, repo.NoticeFilters{TenantID: tenant.ID, Type: domain.NoticeLateRent})
	if err != nil {
		t.Fatal(err)
	}
	if len(notices) != 1 {
		t.Fatalf("expected one notice, got %d", len(notices))
	}
	entries, err := env.Engine.Ledger.Entries(env.Ctx, tenant.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Type != domain.LedgerLateFee {
		t.Fatalf("expected exactly one late fee, got %+v", entries)
	}
	if entries[0].BalanceCents != 5000 {
		t.Fatalf("running balance: got %d", entries[0].BalanceCents)
	}
}

func TestLateNoticeSurvivesNotificationFailure(t *testing.T) {
	env := newTestEnv(t)
	tenant, lease := env.seedLease(t, 100000)
	env.Notifier.failures[notify.ChannelSMS] = errors.New("gateway timeout")

	job := enforcementJob(t, enforce.KindLateNotice, lease.ID, tenant.ID, "2024-03")
	if err := env.Exec.HandleLateNotice(env.Ctx, job); err != nil {
		t.Fatalf("notification failure must not fail the job: %v", err)
	}

	// The email channel was still attempted, and the durable record stands.
	if env.Notifier.count(notify.ChannelEmail) != 1 {
		t.Fatal("email channel should still be attempted")
	}
	notices, err := env.Engine.Repo.ListNotices(env.Ctx, repo.NoticeFilters{TenantID: tenant.ID, Type: domain.NoticeLateRent})
	if err != nil {
		t.Fatal(err)
	}
	if len(notices) != 1 || notices[0].Status != domain.NoticeSent {
		t.Fatalf("notice record must survive delivery failure, got %+v", notices)
	}
}

func TestEscalationHandlerRecomputesOwed(t *testing.T) {
	env := newTestEnv(t)
	tenant, lease := env.seedLease(t, 100000)

	late := enforcementJob(t, enforce.KindLateNotice, lease.ID, tenant.ID, "2024-03")
	if err := env.Exec.HandleLateNotice(env.Ctx, late); err != nil {
		t.Fatal(err)
	}
	// Another charge lands before the escalation fires; the violation notice
	// must quote the balance at execution time.
	if _, err := env.Engine.Ledger.Append(env.Ctx, domain.LedgerEntry{
		TenantID: tenant.ID, Type: domain.LedgerRent, AmountCents: 100000, Period: "2024-04",
	}); err != nil {
		t.Fatal(err)
	}

	esc := enforcementJob(t, enforce.KindEscalation, lease.ID, tenant.ID, "2024-03")
	if err := env.Exec.HandleEscalation(env.Ctx, esc); err != nil {
		t.Fatal(err)
	}
	notices, err := env.Engine.Repo.ListNotices(env.Ctx, repo.NoticeFilters{TenantID: tenant.ID, Type: domain.NoticeLeaseViolation})
	if err != nil {
		t.Fatal(err)
	}
	if len(notices) != 1 || notices[0].Status != domain.NoticeSent {
		t.Fatalf("expected one SENT violation notice, got %+v", notices)
	}
	// 5000 late fee + 100000 next month's rent.
	if !strings.Contains(notices[0].Content, "$1050.00") {
		t.Fatalf("owed amount not recomputed: %q", notices[0].Content)
	}
}

func TestEscalationHandlerIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	tenant, lease := env.seedLease(t, 100000)

	if err := env.Exec.HandleLateNotice(env.Ctx, enforcementJob(t, enforce.KindLateNotice, lease.ID, tenant.ID, "2024-03")); err != nil {
		t.Fatal(err)
	}
	esc := enforcementJob(t, enforce.KindEscalation, lease.ID, tenant.ID, "2024-03")
	if err := env.Exec.HandleEscalation(env.Ctx, esc); err != nil {
		t.Fatal(err)
	}
	if err := env.Exec.HandleEscalation(env.Ctx, esc); err != nil {
		t.Fatal(err)
	}
	notices, err := env.Engine.Repo.ListNotices(env.Ctx, repo.NoticeFilters{TenantID: tenant.ID, Type: domain.NoticeLeaseViolation})
	if err != nil {
		t.Fatal(err)
	}
	if len(notices) != 1 {
		t.Fatalf("expected one violation notice, got %d", len(notices))
	}
}

func TestEscalationWithoutLateNoticeIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	tenant, lease := env.seedLease(t, 100000)

	esc := enforcementJob(t, enforce.KindEscalation, lease.ID, tenant.ID, "2024-03")
	if err := env.Exec.HandleEscalation(env.Ctx, esc); err != nil {
		t.Fatal(err)
	}
	notices, err := env.Engine.Repo.ListNotices(env.Ctx, repo.NoticeFilters{TenantID: tenant.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(notices) != 0 {
		t.Fatalf("expected no notices, got %+v", notices)
	}
}

func TestMaterialBreachHandlerOncePerPeriod(t *testing.T) {
	env := newTestEnv(t)
	tenant, lease := env.seedLease(t, 100000, clause(domain.ClauseMaterialBreach, `{"day": 5}`))

	job := enforcementJob(t, enforce.KindMaterialBreach, lease.ID, tenant.ID, "2024-03")
	if err := env.Exec.HandleMaterialBreach(env.Ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := env.Exec.HandleMaterialBreach(env.Ctx, job); err != nil {
		t.Fatal(err)
	}
	notices, err := env.Engine.Repo.ListNotices(env.Ctx, repo.NoticeFilters{TenantID: tenant.ID, Type: domain.NoticeEvictionWarning})
	if err != nil {
		t.Fatal(err)
	}
	if len(notices) != 1 || notices[0].Status != domain.NoticeSent {
		t.Fatalf("expected one SENT eviction warning, got %+v", notices)
	}
	// No ledger mutation on the breach path.
	entries, err := env.Engine.Ledger.Entries(env.Ctx, tenant.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("material breach must not touch the ledger, got %+v", entries)
	}
}

func TestRentReminderHandlerLogsEventOnly(t *testing.T) {
	env := newTestEnv(t)
	tenant, lease := env.seedLease(t, 100000)

	job := enforcementJob(t, enforce.KindRentReminder, lease.ID, tenant.ID, "2024-03")
	if err := env.Exec.HandleRentReminder(env.Ctx, job); err != nil {
		t.Fatal(err)
	}
	// Replay the same day: the logged event suppresses a second send.
	if err := env.Exec.HandleRentReminder(env.Ctx, job); err != nil {
		t.Fatal(err)
	}
	if got := env.Notifier.count(notify.ChannelSMS); got != 1 {
		t.Fatalf("sms sends: got %d, want 1", got)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: domain.EventSystem, TenantID: tenant.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one SYSTEM event, got %d", len(events))
	}
	entries, err := env.Engine.Ledger.Entries(env.Ctx, tenant.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("reminder must not touch the ledger, got %+v", entries)
	}
}
