package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rentline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// EnsureOrg inserts the org if it does not exist yet.
func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT OR IGNORE INTO orgs(id,name,created_at) VALUES (?,?,?)`, id, name, now)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Org, error) {
	var o domain.Org
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM orgs WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) InsertProperty(ctx context.Context, p domain.Property) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO properties(id,org_id,name,address,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, nullable(p.Address), p.CreatedAt)
	return err
}

func (r Repo) ListProperties(ctx context.Context, orgID string) ([]domain.Property, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,COALESCE(address,''),created_at FROM properties WHERE org_id=? ORDER BY created_at DESC, id DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Property
	for rows.Next() {
		var p domain.Property
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Address, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertUnit(ctx context.Context, u domain.Unit) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO units(id,property_id,label,created_at) VALUES (?,?,?,?)`,
		u.ID, u.PropertyID, u.Label, u.CreatedAt)
	return err
}

func (r Repo) GetUnit(ctx context.Context, id string) (domain.Unit, error) {
	var u domain.Unit
	err := r.DB.QueryRowContext(ctx, `SELECT id,property_id,label,created_at FROM units WHERE id=?`, id).
		Scan(&u.ID, &u.PropertyID, &u.Label, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUnits(ctx context.Context, propertyID string) ([]domain.Unit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,property_id,label,created_at FROM units WHERE property_id=? ORDER BY label`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Unit
	for rows.Next() {
		var u domain.Unit
		if err := rows.Scan(&u.ID, &u.PropertyID, &u.Label, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertTenant(ctx context.Context, t domain.Tenant) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenants(id,org_id,full_name,email,phone,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.OrgID, t.FullName, nullable(t.Email), nullable(t.Phone), t.CreatedAt)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,full_name,COALESCE(email,''),COALESCE(phone,''),created_at FROM tenants WHERE id=?`, id).
		Scan(&t.ID, &t.OrgID, &t.FullName, &t.Email, &t.Phone, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTenants(ctx context.Context, orgID string) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,full_name,COALESCE(email,''),COALESCE(phone,''),created_at FROM tenants WHERE org_id=? ORDER BY created_at DESC, id DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.OrgID, &t.FullName, &t.Email, &t.Phone, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertLease(ctx context.Context, l domain.Lease) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO leases(id,org_id,tenant_id,unit_id,status,rent_cents,start_date,end_date,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.ID, l.OrgID, l.TenantID, nullableStringPtr(l.UnitID), l.Status, l.RentCents, nullable(l.StartDate), nullable(l.EndDate), l.CreatedAt)
	return err
}

func scanLease(scan func(dest ...any) error) (domain.Lease, error) {
	var l domain.Lease
	var unitID, startDate, endDate sql.NullString
	err := scan(&l.ID, &l.OrgID, &l.TenantID, &unitID, &l.Status, &l.RentCents, &startDate, &endDate, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if unitID.Valid {
		l.UnitID = &unitID.String
	}
	if startDate.Valid {
		l.StartDate = startDate.String
	}
	if endDate.Valid {
		l.EndDate = endDate.String
	}
	return l, nil
}

const leaseColumns = `id,org_id,tenant_id,unit_id,status,rent_cents,start_date,end_date,created_at`

func (r Repo) GetLease(ctx context.Context, id string) (domain.Lease, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+leaseColumns+` FROM leases WHERE id=?`, id)
	return scanLease(row.Scan)
}

func (r Repo) UpdateLeaseStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE leases SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type LeaseFilters struct {
	OrgID    string
	TenantID string
	Status   string
	Limit    int
}

func (r Repo) ListLeases(ctx context.Context, f LeaseFilters) ([]domain.Lease, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + leaseColumns + ` FROM leases ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lease
	for rows.Next() {
		l, err := scanLease(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ActiveLeases returns every ACTIVE lease, optionally scoped to one org.
func (r Repo) ActiveLeases(ctx context.Context, orgID string) ([]domain.Lease, error) {
	return r.ListLeases(ctx, LeaseFilters{OrgID: orgID, Status: domain.LeaseActive})
}

func (r Repo) InsertClause(ctx context.Context, c domain.LeaseClause) error {
	if c.AttrsJSON == "" {
		c.AttrsJSON = "{}"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO lease_clauses(id,lease_id,type,attrs_json,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.LeaseID, c.Type, c.AttrsJSON, c.CreatedAt)
	return err
}

func (r Repo) ListClauses(ctx context.Context, leaseID string) ([]domain.LeaseClause, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,lease_id,type,attrs_json,created_at FROM lease_clauses WHERE lease_id=? ORDER BY created_at, id`, leaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeaseClause
	for rows.Next() {
		var c domain.LeaseClause
		if err := rows.Scan(&c.ID, &c.LeaseID, &c.Type, &c.AttrsJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ReminderLoggedOn reports whether a rent-reminder event was already logged
// for the tenant on the given calendar day. This is the per-day dedupe the
// reminder check relies on.
func (r Repo) ReminderLoggedOn(ctx context.Context, tenantID string, day time.Time) (bool, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	row := r.DB.QueryRowContext(ctx,
		`SELECT 1 FROM events WHERE type=? AND tenant_id=? AND json_extract(payload_json,'$.kind')='rent.reminder' AND ts>=? AND ts<? LIMIT 1`,
		domain.EventSystem, tenantID, start.Format(time.RFC3339), end.Format(time.RFC3339))
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

type EventFilters struct {
	Type     string
	TenantID string
	Limit    int
	Cursor   int64
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, f.TenantID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(org_id,''),COALESCE(tenant_id,''),entity_kind,COALESCE(entity_id,''),payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrgID, &e.TenantID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
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

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
