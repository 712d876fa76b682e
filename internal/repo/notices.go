package repo

import (
	"context"
	"database/sql"
	"strings"

	"rentline/internal/domain"
)

const noticeColumns = `id,tenant_id,lease_id,type,status,period,content,created_at,sent_at,served_at`

func scanNotice(scan func(dest ...any) error) (domain.Notice, error) {
	var n domain.Notice
	var leaseID, sentAt, servedAt sql.NullString
	err := scan(&n.ID, &n.TenantID, &leaseID, &n.Type, &n.Status, &n.Period, &n.Content, &n.CreatedAt, &sentAt, &servedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if leaseID.Valid {
		n.LeaseID = leaseID.String
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.String
	}
	if servedAt.Valid {
		n.ServedAt = &servedAt.String
	}
	return n, nil
}

func (r Repo) InsertNoticeTx(ctx context.Context, tx *sql.Tx, n domain.Notice) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notices(id,tenant_id,lease_id,type,status,period,content,created_at,sent_at,served_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.TenantID, nullable(n.LeaseID), n.Type, n.Status, n.Period, n.Content, n.CreatedAt, nullableStringPtr(n.SentAt), nullableStringPtr(n.ServedAt))
	return err
}

func (r Repo) MarkNoticeSentTx(ctx context.Context, tx *sql.Tx, id, sentAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE notices SET status=?, sent_at=? WHERE id=? AND status=?`,
		domain.NoticeSent, sentAt, id, domain.NoticeDraft)
	return err
}

func (r Repo) MarkNoticeServed(ctx context.Context, id, servedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notices SET status=?, served_at=? WHERE id=? AND status=?`,
		domain.NoticeServed, servedAt, id, domain.NoticeSent)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetNotice(ctx context.Context, id string) (domain.Notice, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+noticeColumns+` FROM notices WHERE id=?`, id)
	return scanNotice(row.Scan)
}

// LatestNoticeByType returns the most recent notice of the given type in one
// of the given statuses for a tenant.
func (r Repo) LatestNoticeByType(ctx context.Context, tenantID, typ string, statuses []string) (domain.Notice, error) {
	placeholders := strings.TrimRight(strings.Repeat("?,", len(statuses)), ",")
	args := []any{tenantID, typ}
	for _, s := range statuses {
		args = append(args, s)
	}
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+noticeColumns+` FROM notices WHERE tenant_id=? AND type=? AND status IN (`+placeholders+`) ORDER BY created_at DESC, id DESC LIMIT 1`,
		args...)
	return scanNotice(row.Scan)
}

// NoticeExistsSince reports whether any notice of the given type exists for
// the tenant created on or after the given RFC3339 timestamp.
func (r Repo) NoticeExistsSince(ctx context.Context, tenantID, typ, since string) (bool, error) {
	return noticeExistsSince(ctx, r.DB.QueryRowContext, tenantID, typ, since)
}

// NoticeExistsSinceTx is the in-transaction variant used by job handlers for
// their re-verification step.
func (r Repo) NoticeExistsSinceTx(ctx context.Context, tx *sql.Tx, tenantID, typ, since string) (bool, error) {
	return noticeExistsSince(ctx, tx.QueryRowContext, tenantID, typ, since)
}

func noticeExistsSince(ctx context.Context, queryRow func(context.Context, string, ...any) *sql.Row, tenantID, typ, since string) (bool, error) {
	row := queryRow(ctx, `SELECT 1 FROM notices WHERE tenant_id=? AND type=? AND created_at>=? LIMIT 1`, tenantID, typ, since)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type NoticeFilters struct {
	TenantID string
	Type     string
	Status   string
	Limit    int
}

func (r Repo) ListNotices(ctx context.Context, f NoticeFilters) ([]domain.Notice, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, f.TenantID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + noticeColumns + ` FROM notices ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notice
	for rows.Next() {
		n, err := scanNotice(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
