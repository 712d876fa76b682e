package enforce

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"rentline/internal/config"
	"rentline/internal/domain"
	"rentline/internal/events"
	"rentline/internal/ledger"
	"rentline/internal/repo"
	"rentline/internal/scheduler"
)

// QueueName is the scheduler queue all enforcement jobs run on.
const QueueName = "enforcement"

// Job kinds dispatched to the executor.
const (
	KindRentReminder   = "rent-reminder"
	KindLateNotice     = "late-notice"
	KindEscalation     = "escalation"
	KindMaterialBreach = "material-breach"
)

// ActionKind names a decision the rules engine can emit.
type ActionKind string

const (
	ActionRentReminder   ActionKind = "RENT_REMINDER"
	ActionLateNotice     ActionKind = "LATE_NOTICE"
	ActionEscalation     ActionKind = "ESCALATION"
	ActionMaterialBreach ActionKind = "MATERIAL_BREACH"
)

// Action is one required enforcement step for a tenant/lease/period. It
// carries no side effects; ProcessActions turns it into a scheduled job.
type Action struct {
	Kind     ActionKind `json:"kind"`
	OrgID    string     `json:"org_id"`
	LeaseID  string     `json:"lease_id"`
	TenantID string     `json:"tenant_id"`
	Period   string     `json:"period"`
	Context  Context    `json:"-"`
}

func (a Action) jobKind() string {
	switch a.Kind {
	case ActionRentReminder:
		return KindRentReminder
	case ActionLateNotice:
		return KindLateNotice
	case ActionEscalation:
		return KindEscalation
	case ActionMaterialBreach:
		return KindMaterialBreach
	}
	return ""
}

// DedupeKey is deterministic per job kind, tenant and billing period so a
// rescan or restart never enqueues the same logical work twice.
func (a Action) DedupeKey() string {
	return fmt.Sprintf("%s-%s-%s", a.jobKind(), a.TenantID, a.Period)
}

// Engine evaluates every active lease against the enforcement rules. The
// evaluation itself only reads; actions become side effects when their jobs
// execute.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Ledger ledger.Ledger
	Events events.Writer
	Queue  *scheduler.Queue
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Ledger: ledger.New(db),
		Events: events.Writer{DB: db},
		Queue:  scheduler.NewQueue(db),
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) defaults() Defaults {
	d := e.Config.Enforcement.Defaults
	return Defaults{RentDueDay: d.RentDueDay, GracePeriodDays: d.GracePeriodDays, LateFeeCents: d.LateFeeCents}
}

// Evaluate runs the four checks over every active lease, optionally scoped
// to one org. A lease that fails to evaluate is logged and skipped; it never
// aborts the batch.
func (e *Engine) Evaluate(ctx context.Context, now time.Time, orgID string) ([]Action, error) {
	now = now.UTC()
	leases, err := e.Repo.ActiveLeases(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list active leases: %w", err)
	}
	var actions []Action
	for _, lease := range leases {
		acts, err := e.evaluateLease(ctx, now, lease)
		if err != nil {
			e.Logger.Warn("lease evaluation failed", "lease", lease.ID, "tenant", lease.TenantID, "error", err)
			continue
		}
		actions = append(actions, acts...)
	}
	return actions, nil
}

func (e *Engine) evaluateLease(ctx context.Context, now time.Time, lease domain.Lease) ([]Action, error) {
	clauses, err := e.Repo.ListClauses(ctx, lease.ID)
	if err != nil {
		return nil, fmt.Errorf("list clauses: %w", err)
	}
	tenant, err := e.Repo.GetTenant(ctx, lease.TenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	ec, ok := BuildContext(lease, clauses, tenant, e.defaults())
	if !ok {
		e.Logger.Warn("lease skipped: no positive rent amount", "lease", lease.ID)
		return nil, nil
	}

	period := Period(now)
	paid, err := e.Ledger.PeriodPaid(ctx, ec.TenantID, period, ec.RentCents)
	if err != nil {
		return nil, fmt.Errorf("period paid: %w", err)
	}

	var actions []Action
	emit := func(kind ActionKind, p string) {
		actions = append(actions, Action{
			Kind:     kind,
			OrgID:    ec.OrgID,
			LeaseID:  ec.LeaseID,
			TenantID: ec.TenantID,
			Period:   p,
			Context:  ec,
		})
	}

	if fire, err := e.checkRentReminder(ctx, now, ec, paid); err != nil {
		return nil, err
	} else if fire {
		emit(ActionRentReminder, period)
	}
	if fire, err := e.checkLateNotice(ctx, now, ec, paid); err != nil {
		return nil, err
	} else if fire {
		emit(ActionLateNotice, period)
	}
	if fire, noticePeriod, err := e.checkEscalation(ctx, now, ec); err != nil {
		return nil, err
	} else if fire {
		emit(ActionEscalation, noticePeriod)
	}
	if fire, err := e.checkMaterialBreach(ctx, now, ec, paid); err != nil {
		return nil, err
	} else if fire {
		emit(ActionMaterialBreach, period)
	}
	return actions, nil
}

// checkRentReminder fires exactly 3 days and 1 day before the due day while
// the period is unpaid. The per-day event dedupe caps reminders at one per
// calendar day no matter how often the scan runs.
func (e *Engine) checkRentReminder(ctx context.Context, now time.Time, ec Context, paid bool) (bool, error) {
	daysUntilDue := ec.DueDay - now.Day()
	if daysUntilDue != 3 && daysUntilDue != 1 {
		return false, nil
	}
	if paid {
		return false, nil
	}
	logged, err := e.Repo.ReminderLoggedOn(ctx, ec.TenantID, now)
	if err != nil {
		return false, fmt.Errorf("reminder logged: %w", err)
	}
	return !logged, nil
}

// checkLateNotice fires once the grace period has lapsed, at most once per
// tenant per calendar month.
func (e *Engine) checkLateNotice(ctx context.Context, now time.Time, ec Context, paid bool) (bool, error) {
	deadlineDay := ec.DueDay + ec.GraceDays
	if now.Day() <= deadlineDay {
		return false, nil
	}
	if paid {
		return false, nil
	}
	exists, err := e.Repo.NoticeExistsSince(ctx, ec.TenantID, domain.NoticeLateRent, monthStart(now).Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("late notice exists: %w", err)
	}
	return !exists, nil
}

// checkEscalation is driven by the existence of a prior late notice, not a
// freshly computed deadline, so the periodic scan and the worker's delayed
// follow-up job reach the same conclusion independently. Resolution is
// checked against the billing period the late notice was issued for; a
// payment tagged with that period resolves the escalation even after the
// calendar month rolls over.
func (e *Engine) checkEscalation(ctx context.Context, now time.Time, ec Context) (bool, string, error) {
	notice, err := e.Repo.LatestNoticeByType(ctx, ec.TenantID, domain.NoticeLateRent, []string{domain.NoticeSent, domain.NoticeServed})
	if err == repo.ErrNotFound {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("latest late notice: %w", err)
	}
	paid, err := e.Ledger.PeriodPaid(ctx, ec.TenantID, notice.Period, ec.RentCents)
	if err != nil {
		return false, "", fmt.Errorf("period paid: %w", err)
	}
	if paid {
		return false, "", nil
	}
	sentAt, err := time.Parse(time.RFC3339, notice.CreatedAt)
	if err != nil {
		return false, "", fmt.Errorf("parse notice timestamp: %w", err)
	}
	daysSince := int(now.Sub(sentAt).Hours() / 24)
	if daysSince < e.Config.Enforcement.EscalationDelayDays {
		return false, "", nil
	}
	escalated, err := e.Repo.NoticeExistsSince(ctx, ec.TenantID, domain.NoticeLeaseViolation, notice.CreatedAt)
	if err != nil {
		return false, "", fmt.Errorf("violation notice exists: %w", err)
	}
	return !escalated, notice.Period, nil
}

// checkMaterialBreach is independent of the late-notice path; a lease with a
// breach clause can reach an eviction warning without any LATE_RENT notice.
func (e *Engine) checkMaterialBreach(ctx context.Context, now time.Time, ec Context, paid bool) (bool, error) {
	if ec.BreachDay <= 0 {
		return false, nil
	}
	if now.Day() < ec.BreachDay {
		return false, nil
	}
	if paid {
		return false, nil
	}
	exists, err := e.Repo.NoticeExistsSince(ctx, ec.TenantID, domain.NoticeEvictionWarning, monthStart(now).Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("eviction warning exists: %w", err)
	}
	return !exists, nil
}

// ProcessActions turns actions into scheduler jobs. Dedupe keys make this
// safe to call from overlapping scans; a duplicate enqueue returns the
// existing job unchanged.
func (e *Engine) ProcessActions(ctx context.Context, actions []Action) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(actions))
	for _, a := range actions {
		kind := a.jobKind()
		if kind == "" {
			e.Logger.Warn("unknown action kind", "kind", a.Kind)
			continue
		}
		payload := JobPayload{OrgID: a.OrgID, LeaseID: a.LeaseID, TenantID: a.TenantID, Period: a.Period}
		job, err := e.Queue.Enqueue(ctx, QueueName, kind, payload, scheduler.Options{
			DedupeKey:   a.DedupeKey(),
			MaxAttempts: e.Config.Queue.MaxAttempts,
		})
		if err != nil {
			e.Logger.Error("enqueue action", "kind", kind, "tenant", a.TenantID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Scan evaluates and enqueues in one step. This is what the periodic
// trigger calls.
func (e *Engine) Scan(ctx context.Context, orgID string) ([]Action, []domain.Job, error) {
	actions, err := e.Evaluate(ctx, e.now(), orgID)
	if err != nil {
		return nil, nil, err
	}
	jobs, err := e.ProcessActions(ctx, actions)
	if err != nil {
		return actions, nil, err
	}
	return actions, jobs, nil
}
