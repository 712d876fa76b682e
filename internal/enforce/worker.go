package enforce

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rentline/internal/domain"
	"rentline/internal/events"
	"rentline/internal/notify"
	"rentline/internal/repo"
	"rentline/internal/scheduler"
)

// JobPayload is the wire form of an enforcement job.
type JobPayload struct {
	OrgID    string `json:"org_id"`
	LeaseID  string `json:"lease_id"`
	TenantID string `json:"tenant_id"`
	Period   string `json:"period"`
}

// Executor runs the side effects of enforcement actions. Every handler
// re-verifies its precondition before writing anything: jobs run under
// at-least-once delivery and may be days old when they fire, so the world
// has to be re-checked, not trusted.
type Executor struct {
	Engine   *Engine
	Notifier notify.Notifier
}

func NewExecutor(e *Engine, n notify.Notifier) *Executor {
	if n == nil {
		n = notify.LogNotifier{Logger: e.Logger}
	}
	return &Executor{Engine: e, Notifier: n}
}

// Register wires the executor's handlers into a worker.
func (x *Executor) Register(w *scheduler.Worker) {
	w.Handle(KindRentReminder, x.HandleRentReminder)
	w.Handle(KindLateNotice, x.HandleLateNotice)
	w.Handle(KindEscalation, x.HandleEscalation)
	w.Handle(KindMaterialBreach, x.HandleMaterialBreach)
}

func decodePayload(job domain.Job) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return p, fmt.Errorf("decode job payload: %w", err)
	}
	if p.TenantID == "" || p.Period == "" {
		return p, fmt.Errorf("job payload missing tenant or period")
	}
	return p, nil
}

// contextFor rebuilds the enforcement context at execution time. Clauses
// and contact details may have changed since the job was enqueued.
func (x *Executor) contextFor(ctx context.Context, p JobPayload) (Context, error) {
	e := x.Engine
	lease, err := e.Repo.GetLease(ctx, p.LeaseID)
	if err != nil {
		return Context{}, fmt.Errorf("get lease: %w", err)
	}
	clauses, err := e.Repo.ListClauses(ctx, lease.ID)
	if err != nil {
		return Context{}, fmt.Errorf("list clauses: %w", err)
	}
	tenant, err := e.Repo.GetTenant(ctx, lease.TenantID)
	if err != nil {
		return Context{}, fmt.Errorf("get tenant: %w", err)
	}
	ec, ok := BuildContext(lease, clauses, tenant, e.defaults())
	if !ok {
		return Context{}, fmt.Errorf("lease %s has no positive rent amount", lease.ID)
	}
	return ec, nil
}

func targets(ec Context) map[notify.Channel]string {
	t := map[notify.Channel]string{}
	if ec.Phone != "" {
		t[notify.ChannelSMS] = ec.Phone
	}
	if ec.Email != "" {
		t[notify.ChannelEmail] = ec.Email
	}
	return t
}

func deliveriesPayload(ds []notify.Delivery) []map[string]any {
	out := make([]map[string]any, 0, len(ds))
	for _, d := range ds {
		m := map[string]any{"channel": string(d.Channel), "ok": d.OK}
		if d.Error != "" {
			m["error"] = d.Error
		}
		out = append(out, m)
	}
	return out
}

func dollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

func periodMonthStart(period string) (time.Time, error) {
	t, err := time.Parse("2006-01", period)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse period %q: %w", period, err)
	}
	return t, nil
}

// HandleRentReminder notifies the tenant that rent is coming due and logs a
// SYSTEM event. No notice record and no ledger mutation. A replay on the
// same day sees the logged event and no-ops.
func (x *Executor) HandleRentReminder(ctx context.Context, job domain.Job) error {
	e := x.Engine
	p, err := decodePayload(job)
	if err != nil {
		return err
	}
	ec, err := x.contextFor(ctx, p)
	if err != nil {
		return err
	}
	now := e.now()
	paid, err := e.Ledger.PeriodPaid(ctx, p.TenantID, p.Period, ec.RentCents)
	if err != nil {
		return err
	}
	if paid {
		e.Logger.Info("rent reminder skipped: period paid", "tenant", p.TenantID, "period", p.Period)
		return nil
	}
	logged, err := e.Repo.ReminderLoggedOn(ctx, p.TenantID, now)
	if err != nil {
		return err
	}
	if logged {
		e.Logger.Info("rent reminder skipped: already sent today", "tenant", p.TenantID)
		return nil
	}

	msg := notify.Message{
		Subject: "Rent reminder",
		Body: fmt.Sprintf("Hi %s, this is a reminder that your rent of %s is due on day %d of the month.",
			ec.TenantName, dollars(ec.RentCents), ec.DueDay),
	}
	deliveries := notify.Broadcast(ctx, x.Notifier, targets(ec), msg, e.Logger)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = e.Events.Append(ctx, tx, domain.EventSystem, ec.OrgID, p.TenantID, "lease", ec.LeaseID, events.EventPayload{
		"kind":       "rent.reminder",
		"period":     p.Period,
		"deliveries": deliveriesPayload(deliveries),
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// HandleLateNotice issues the formal late-rent notice: a SENT notice record,
// a LATE_FEE ledger entry, NOTICE and VIOLATION events, all in one
// transaction, then schedules the escalation follow-up. The in-transaction
// notice check makes a duplicate delivery a no-op with no double fee.
func (x *Executor) HandleLateNotice(ctx context.Context, job domain.Job) error {
	e := x.Engine
	p, err := decodePayload(job)
	if err != nil {
		return err
	}
	ec, err := x.contextFor(ctx, p)
	if err != nil {
		return err
	}
	paid, err := e.Ledger.PeriodPaid(ctx, p.TenantID, p.Period, ec.RentCents)
	if err != nil {
		return err
	}
	if paid {
		e.Logger.Info("late notice skipped: period paid", "tenant", p.TenantID, "period", p.Period)
		return nil
	}
	since, err := periodMonthStart(p.Period)
	if err != nil {
		return err
	}

	now := e.now()
	nowStr := now.Format(time.RFC3339)
	content := fmt.Sprintf(
		"NOTICE OF LATE RENT\n\n%s, rent of %s for %s was due on day %d and has not been received within the %d-day grace period. A late fee of %s has been applied to your account.",
		ec.TenantName, dollars(ec.RentCents), p.Period, ec.DueDay, ec.GraceDays, dollars(ec.LateFeeCents))
	notice := domain.Notice{
		ID:        uuid.New().String(),
		TenantID:  p.TenantID,
		LeaseID:   ec.LeaseID,
		Type:      domain.NoticeLateRent,
		Status:    domain.NoticeDraft,
		Period:    p.Period,
		Content:   content,
		CreatedAt: nowStr,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	exists, err := e.Repo.NoticeExistsSinceTx(ctx, tx, p.TenantID, domain.NoticeLateRent, since.Format(time.RFC3339))
	if err != nil {
		return err
	}
	if exists {
		e.Logger.Info("late notice skipped: already issued", "tenant", p.TenantID, "period", p.Period)
		return nil
	}
	if err := e.Repo.InsertNoticeTx(ctx, tx, notice); err != nil {
		return fmt.Errorf("insert notice: %w", err)
	}
	if err := e.Repo.MarkNoticeSentTx(ctx, tx, notice.ID, nowStr); err != nil {
		return fmt.Errorf("mark notice sent: %w", err)
	}
	entry, err := e.Ledger.AppendTx(ctx, tx, domain.LedgerEntry{
		TenantID:    p.TenantID,
		Type:        domain.LedgerLateFee,
		AmountCents: ec.LateFeeCents,
		Period:      p.Period,
		Description: "Late fee for " + p.Period,
		CreatedAt:   nowStr,
	})
	if err != nil {
		return err
	}
	err = e.Events.Append(ctx, tx, domain.EventNotice, ec.OrgID, p.TenantID, "notice", notice.ID, events.EventPayload{
		"kind": "notice.late_rent", "period": p.Period, "fee_cents": ec.LateFeeCents,
	})
	if err != nil {
		return err
	}
	err = e.Events.Append(ctx, tx, domain.EventViolation, ec.OrgID, p.TenantID, "lease", ec.LeaseID, events.EventPayload{
		"kind": "violation.rent_late", "period": p.Period, "balance_cents": entry.BalanceCents,
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Delivery failure never unwinds the durable record above.
	msg := notify.Message{Subject: "Late rent notice", Body: content}
	notify.Broadcast(ctx, x.Notifier, targets(ec), msg, e.Logger)

	// Self-scheduling: the escalation job fires even if the periodic scan
	// never runs again.
	delay := time.Duration(e.Config.Enforcement.EscalationDelayDays) * 24 * time.Hour
	escalate := Action{Kind: ActionEscalation, OrgID: ec.OrgID, LeaseID: ec.LeaseID, TenantID: p.TenantID, Period: p.Period}
	_, err = e.Queue.Enqueue(ctx, QueueName, KindEscalation, JobPayload{OrgID: ec.OrgID, LeaseID: ec.LeaseID, TenantID: p.TenantID, Period: p.Period}, scheduler.Options{
		Delay:       delay,
		DedupeKey:   escalate.DedupeKey(),
		MaxAttempts: e.Config.Queue.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("enqueue escalation: %w", err)
	}
	e.Logger.Info("late notice issued", "tenant", p.TenantID, "period", p.Period, "fee_cents", ec.LateFeeCents)
	return nil
}

// HandleEscalation turns an unresolved late notice into a lease-violation
// notice. The owed amount is recomputed from the ledger at execution time,
// and resolution is checked against the late notice's billing period.
func (x *Executor) HandleEscalation(ctx context.Context, job domain.Job) error {
	e := x.Engine
	p, err := decodePayload(job)
	if err != nil {
		return err
	}
	ec, err := x.contextFor(ctx, p)
	if err != nil {
		return err
	}
	paid, err := e.Ledger.PeriodPaid(ctx, p.TenantID, p.Period, ec.RentCents)
	if err != nil {
		return err
	}
	if paid {
		e.Logger.Info("escalation skipped: period paid", "tenant", p.TenantID, "period", p.Period)
		return nil
	}
	lateNotice, err := e.Repo.LatestNoticeByType(ctx, p.TenantID, domain.NoticeLateRent, []string{domain.NoticeSent, domain.NoticeServed})
	if err == repo.ErrNotFound {
		e.Logger.Info("escalation skipped: no late notice on record", "tenant", p.TenantID)
		return nil
	}
	if err != nil {
		return err
	}

	now := e.now()
	nowStr := now.Format(time.RFC3339)
	owed, err := e.Ledger.Balance(ctx, p.TenantID)
	if err != nil {
		return err
	}
	cureDeadline := now.AddDate(0, 0, e.Config.Enforcement.CurePeriodDays)
	content := fmt.Sprintf(
		"NOTICE OF LEASE VIOLATION\n\n%s, the late rent notice issued on %s for %s remains unresolved. Your current balance owed is %s. You have until %s to cure this violation.",
		ec.TenantName, lateNotice.CreatedAt, p.Period, dollars(owed), cureDeadline.Format("2006-01-02"))
	notice := domain.Notice{
		ID:        uuid.New().String(),
		TenantID:  p.TenantID,
		LeaseID:   ec.LeaseID,
		Type:      domain.NoticeLeaseViolation,
		Status:    domain.NoticeDraft,
		Period:    p.Period,
		Content:   content,
		CreatedAt: nowStr,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	exists, err := e.Repo.NoticeExistsSinceTx(ctx, tx, p.TenantID, domain.NoticeLeaseViolation, lateNotice.CreatedAt)
	if err != nil {
		return err
	}
	if exists {
		e.Logger.Info("escalation skipped: violation notice already exists", "tenant", p.TenantID)
		return nil
	}
	if err := e.Repo.InsertNoticeTx(ctx, tx, notice); err != nil {
		return fmt.Errorf("insert notice: %w", err)
	}
	if err := e.Repo.MarkNoticeSentTx(ctx, tx, notice.ID, nowStr); err != nil {
		return fmt.Errorf("mark notice sent: %w", err)
	}
	err = e.Events.Append(ctx, tx, domain.EventNotice, ec.OrgID, p.TenantID, "notice", notice.ID, events.EventPayload{
		"kind": "notice.lease_violation", "period": p.Period, "owed_cents": owed,
		"cure_deadline": cureDeadline.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	err = e.Events.Append(ctx, tx, domain.EventViolation, ec.OrgID, p.TenantID, "lease", ec.LeaseID, events.EventPayload{
		"kind": "violation.escalated", "period": p.Period, "owed_cents": owed,
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	msg := notify.Message{Subject: "Lease violation notice", Body: content}
	notify.Broadcast(ctx, x.Notifier, targets(ec), msg, e.Logger)
	e.Logger.Info("escalation issued", "tenant", p.TenantID, "period", p.Period, "owed_cents", owed)
	return nil
}

// HandleMaterialBreach issues an eviction warning. Independent of the late
// path: it never assumes a LATE_RENT notice exists.
func (x *Executor) HandleMaterialBreach(ctx context.Context, job domain.Job) error {
	e := x.Engine
	p, err := decodePayload(job)
	if err != nil {
		return err
	}
	ec, err := x.contextFor(ctx, p)
	if err != nil {
		return err
	}
	paid, err := e.Ledger.PeriodPaid(ctx, p.TenantID, p.Period, ec.RentCents)
	if err != nil {
		return err
	}
	if paid {
		e.Logger.Info("material breach skipped: period paid", "tenant", p.TenantID, "period", p.Period)
		return nil
	}
	since, err := periodMonthStart(p.Period)
	if err != nil {
		return err
	}

	now := e.now()
	nowStr := now.Format(time.RFC3339)
	cureDeadline := now.AddDate(0, 0, e.Config.Enforcement.CurePeriodDays)
	content := fmt.Sprintf(
		"EVICTION WARNING\n\n%s, non-payment of rent of %s for %s constitutes a material breach of your lease. You have until %s to cure this breach or eviction proceedings may begin.",
		ec.TenantName, dollars(ec.RentCents), p.Period, cureDeadline.Format("2006-01-02"))
	notice := domain.Notice{
		ID:        uuid.New().String(),
		TenantID:  p.TenantID,
		LeaseID:   ec.LeaseID,
		Type:      domain.NoticeEvictionWarning,
		Status:    domain.NoticeDraft,
		Period:    p.Period,
		Content:   content,
		CreatedAt: nowStr,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	exists, err := e.Repo.NoticeExistsSinceTx(ctx, tx, p.TenantID, domain.NoticeEvictionWarning, since.Format(time.RFC3339))
	if err != nil {
		return err
	}
	if exists {
		e.Logger.Info("material breach skipped: warning already issued", "tenant", p.TenantID, "period", p.Period)
		return nil
	}
	if err := e.Repo.InsertNoticeTx(ctx, tx, notice); err != nil {
		return fmt.Errorf("insert notice: %w", err)
	}
	if err := e.Repo.MarkNoticeSentTx(ctx, tx, notice.ID, nowStr); err != nil {
		return fmt.Errorf("mark notice sent: %w", err)
	}
	err = e.Events.Append(ctx, tx, domain.EventNotice, ec.OrgID, p.TenantID, "notice", notice.ID, events.EventPayload{
		"kind": "notice.eviction_warning", "period": p.Period,
		"cure_deadline": cureDeadline.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	err = e.Events.Append(ctx, tx, domain.EventViolation, ec.OrgID, p.TenantID, "lease", ec.LeaseID, events.EventPayload{
		"kind": "violation.material_breach", "period": p.Period,
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	msg := notify.Message{Subject: "Eviction warning", Body: content}
	notify.Broadcast(ctx, x.Notifier, targets(ec), msg, e.Logger)
	e.Logger.Info("eviction warning issued", "tenant", p.TenantID, "period", p.Period)
	return nil
}
