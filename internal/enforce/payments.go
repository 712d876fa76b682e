package enforce

import (
	"context"
	"fmt"
	"time"

	"rentline/internal/domain"
	"rentline/internal/events"
)

// RecordPayment appends a PAYMENT ledger entry for the tenant and logs a
// SYSTEM event, atomically. Payments are stored as negative amounts so the
// running balance moves toward zero.
func RecordPayment(ctx context.Context, e *Engine, tenantID, period string, amountCents int64, description, actorID string) (domain.LedgerEntry, error) {
	if amountCents <= 0 {
		return domain.LedgerEntry{}, fmt.Errorf("payment amount must be positive")
	}
	if _, err := time.Parse("2006-01", period); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("invalid period %q: want YYYY-MM", period)
	}
	if description == "" {
		description = "Payment for " + period
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer tx.Rollback()
	entry, err := e.Ledger.AppendTx(ctx, tx, domain.LedgerEntry{
		TenantID:    tenantID,
		Type:        domain.LedgerPayment,
		AmountCents: -amountCents,
		Period:      period,
		Description: description,
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	err = e.Events.Append(ctx, tx, domain.EventSystem, e.Config.Org.ID, tenantID, "ledger", fmt.Sprintf("%d", entry.ID), events.EventPayload{
		"kind": "payment.recorded", "period": period, "amount_cents": amountCents, "actor": actorID,
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}
