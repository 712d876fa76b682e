package enforce_test

import (
	"testing"

	"rentline/internal/domain"
	"rentline/internal/enforce"
)

var testDefaults = enforce.Defaults{RentDueDay: 1, GracePeriodDays: 5, LateFeeCents: 5000}

func testLease(rentCents int64) domain.Lease {
	return domain.Lease{ID: "lease-1", OrgID: "org-1", TenantID: "tenant-1", Status: domain.LeaseActive, RentCents: rentCents}
}

func TestBuildContextDefaults(t *testing.T) {
	ec, ok := enforce.BuildContext(testLease(100000), nil, domain.Tenant{FullName: "A"}, testDefaults)
	if !ok {
		t.Fatal("expected context")
	}
	if ec.DueDay != 1 || ec.GraceDays != 5 || ec.LateFeeCents != 5000 || ec.BreachDay != 0 {
		t.Fatalf("defaults not applied: %+v", ec)
	}
}

func TestBuildContextClausesOverrideDefaults(t *testing.T) {
	clauses := []domain.LeaseClause{
		{Type: domain.ClauseRentDueDate, AttrsJSON: `{"day": 5}`},
		{Type: domain.ClauseGracePeriod, AttrsJSON: `{"days": 10}`},
		{Type: domain.ClauseLateFee, AttrsJSON: `{"kind": "FIXED", "amount_cents": 7500}`},
		{Type: domain.ClauseMaterialBreach, AttrsJSON: `{"day": 20}`},
	}
	ec, ok := enforce.BuildContext(testLease(100000), clauses, domain.Tenant{}, testDefaults)
	if !ok {
		t.Fatal("expected context")
	}
	if ec.DueDay != 5 || ec.GraceDays != 10 || ec.LateFeeCents != 7500 || ec.BreachDay != 20 {
		t.Fatalf("clauses not applied: %+v", ec)
	}
}

func TestBuildContextPercentageFeeResolvesOnce(t *testing.T) {
	clauses := []domain.LeaseClause{
		{Type: domain.ClauseLateFee, AttrsJSON: `{"kind": "PERCENTAGE", "percent": 5}`},
	}
	for i := 0; i < 3; i++ {
		ec, ok := enforce.BuildContext(testLease(1000), clauses, domain.Tenant{}, testDefaults)
		if !ok {
			t.Fatal("expected context")
		}
		if ec.LateFeeCents != 50 {
			t.Fatalf("rebuild %d: fee = %d, want 50", i, ec.LateFeeCents)
		}
	}
}

func TestBuildContextSkipsZeroRent(t *testing.T) {
	if _, ok := enforce.BuildContext(testLease(0), nil, domain.Tenant{}, testDefaults); ok {
		t.Fatal("zero rent must be skipped")
	}
}

func TestBuildContextIgnoresUnknownClauses(t *testing.T) {
	clauses := []domain.LeaseClause{
		{Type: "PET_POLICY", AttrsJSON: `{"allowed": true}`},
		{Type: domain.ClauseGracePeriod, AttrsJSON: `not json`},
	}
	ec, ok := enforce.BuildContext(testLease(100000), clauses, domain.Tenant{}, testDefaults)
	if !ok {
		t.Fatal("expected context")
	}
	if ec.GraceDays != 5 {
		t.Fatalf("unparseable clause must fall through to default, got %d", ec.GraceDays)
	}
}
