package enforce

import (
	"encoding/json"
	"time"

	"rentline/internal/domain"
)

// Defaults fill in for leases that carry no matching clause.
type Defaults struct {
	RentDueDay      int
	GracePeriodDays int
	LateFeeCents    int64
}

// Context is the immutable evaluation context for one lease. It is rebuilt
// on every pass; clauses may change between passes so it is never cached.
type Context struct {
	OrgID      string
	LeaseID    string
	TenantID   string
	UnitID     string
	PropertyID string

	TenantName string
	Email      string
	Phone      string

	RentCents    int64
	DueDay       int
	GraceDays    int
	LateFeeCents int64

	// BreachDay is zero when the lease has no material-breach clause.
	BreachDay int
}

// BuildContext merges a lease's clauses over the configured defaults. It
// returns ok=false when the lease has no positive rent amount, which
// excludes it from enforcement entirely.
func BuildContext(lease domain.Lease, clauses []domain.LeaseClause, tenant domain.Tenant, defaults Defaults) (Context, bool) {
	if lease.RentCents <= 0 {
		return Context{}, false
	}
	c := Context{
		OrgID:        lease.OrgID,
		LeaseID:      lease.ID,
		TenantID:     lease.TenantID,
		TenantName:   tenant.FullName,
		Email:        tenant.Email,
		Phone:        tenant.Phone,
		RentCents:    lease.RentCents,
		DueDay:       defaults.RentDueDay,
		GraceDays:    defaults.GracePeriodDays,
		LateFeeCents: defaults.LateFeeCents,
	}
	if lease.UnitID != nil {
		c.UnitID = *lease.UnitID
	}
	for _, clause := range clauses {
		var attrs map[string]any
		if err := json.Unmarshal([]byte(clause.AttrsJSON), &attrs); err != nil {
			continue
		}
		switch clause.Type {
		case domain.ClauseRentDueDate:
			if day, ok := attrInt(attrs, "day"); ok && day >= 1 && day <= 28 {
				c.DueDay = day
			}
		case domain.ClauseGracePeriod:
			if days, ok := attrInt(attrs, "days"); ok && days >= 0 {
				c.GraceDays = days
			}
		case domain.ClauseLateFee:
			kind, _ := attrs["kind"].(string)
			if kind == "PERCENTAGE" {
				if pct, ok := attrInt64(attrs, "percent"); ok {
					// Resolved once; downstream logic only ever sees cents.
					c.LateFeeCents = lease.RentCents * pct / 100
				}
			} else {
				if amount, ok := attrInt64(attrs, "amount_cents"); ok {
					c.LateFeeCents = amount
				}
			}
		case domain.ClauseMaterialBreach:
			if day, ok := attrInt(attrs, "day"); ok && day >= 1 {
				c.BreachDay = day
			}
		default:
			// Unknown clause types are ignored, not rejected.
		}
	}
	return c, true
}

func attrInt(attrs map[string]any, key string) (int, bool) {
	v, ok := attrInt64(attrs, key)
	return int(v), ok
}

func attrInt64(attrs map[string]any, key string) (int64, bool) {
	f, ok := attrs[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Period tags a time with its billing month.
func Period(t time.Time) string {
	return t.Format("2006-01")
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
