package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rentline/internal/domain"
)

// Ledger aggregates a tenant's append-only financial entries and appends new
// ones. Appends read the previous balance and insert inside one transaction
// so two concurrent charges for the same tenant cannot both extend the same
// balance.
type Ledger struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) Ledger {
	return Ledger{DB: db, Now: time.Now}
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// PeriodPaid reports whether the tenant's PAYMENT entries for the billing
// period sum to at least rentCents. Missing entries mean "not paid".
func (l Ledger) PeriodPaid(ctx context.Context, tenantID, period string, rentCents int64) (bool, error) {
	if rentCents <= 0 {
		return false, errors.New("rent amount must be positive")
	}
	var paid int64
	err := l.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(ABS(amount_cents)),0) FROM ledger_entries WHERE tenant_id=? AND period=? AND type=?`,
		tenantID, period, domain.LedgerPayment).Scan(&paid)
	if err != nil {
		return false, err
	}
	return paid >= rentCents, nil
}

// Balance returns the running balance after the tenant's most recent entry,
// or zero when no entries exist.
func (l Ledger) Balance(ctx context.Context, tenantID string) (int64, error) {
	var balance int64
	err := l.DB.QueryRowContext(ctx,
		`SELECT balance_cents FROM ledger_entries WHERE tenant_id=? ORDER BY id DESC LIMIT 1`,
		tenantID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

// Append writes one entry, computing its running balance from the previous
// entry in the same transaction.
func (l Ledger) Append(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer tx.Rollback()
	entry, err := l.AppendTx(ctx, tx, e)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// AppendTx is the in-transaction variant used by job handlers that need the
// ledger mutation committed atomically with notice and event writes.
func (l Ledger) AppendTx(ctx context.Context, tx *sql.Tx, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if e.TenantID == "" {
		return e, errors.New("tenant_id required")
	}
	if e.Type == "" {
		return e, errors.New("type required")
	}
	if e.Period == "" {
		return e, errors.New("period required")
	}
	var prev int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance_cents FROM ledger_entries WHERE tenant_id=? ORDER BY id DESC LIMIT 1`,
		e.TenantID).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return e, fmt.Errorf("read previous balance: %w", err)
	}
	e.BalanceCents = prev + e.AmountCents
	if e.CreatedAt == "" {
		e.CreatedAt = l.now().UTC().Format(time.RFC3339)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries(tenant_id,type,amount_cents,period,balance_cents,description,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.TenantID, e.Type, e.AmountCents, e.Period, e.BalanceCents, nullable(e.Description), e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("insert ledger entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return e, nil
}

// Entries returns the tenant's entries, newest first.
func (l Ledger) Entries(ctx context.Context, tenantID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.DB.QueryContext(ctx,
		`SELECT id,tenant_id,type,amount_cents,period,balance_cents,COALESCE(description,''),created_at FROM ledger_entries WHERE tenant_id=? ORDER BY id DESC LIMIT ?`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Type, &e.AmountCents, &e.Period, &e.BalanceCents, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
