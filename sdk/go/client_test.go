package rentlinesdk

import (
	"encoding/json"
	"testing"

	"rentline/internal/domain"
)

// The SDK models must decode exactly what the server serializes, which is
// the domain models' JSON.

func roundTrip(t *testing.T, from any, into any) {
	t.Helper()
	data, err := json.Marshal(from)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestLedgerEntryDecodesDomainModel(t *testing.T) {
	src := domain.LedgerEntry{
		ID:           42,
		TenantID:     "tenant-1",
		Type:         domain.LedgerLateFee,
		AmountCents:  5000,
		Period:       "2024-03",
		BalanceCents: 105000,
		Description:  "Late fee for 2024-03",
		CreatedAt:    "2024-03-07T12:00:00Z",
	}
	var got LedgerEntry
	roundTrip(t, src, &got)
	if got.ID != 42 {
		t.Fatalf("id = %d", got.ID)
	}
	if got.AmountCents != 5000 || got.BalanceCents != 105000 {
		t.Fatalf("amounts = %d / %d", got.AmountCents, got.BalanceCents)
	}
	if got.Period != "2024-03" || got.Type != domain.LedgerLateFee {
		t.Fatalf("entry = %+v", got)
	}
}

func TestEventPayloadDecodesDomainModel(t *testing.T) {
	src := domain.Event{
		ID:         7,
		TS:         "2024-03-07T12:00:00Z",
		Type:       domain.EventSystem,
		TenantID:   "tenant-1",
		EntityKind: "lease",
		EntityID:   "lease-1",
		Payload:    `{"kind":"rent.reminder","period":"2024-03"}`,
	}
	var got Event
	roundTrip(t, src, &got)
	payload, err := got.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["kind"] != "rent.reminder" || payload["period"] != "2024-03" {
		t.Fatalf("payload = %v", payload)
	}

	empty := Event{}
	if p, err := empty.Payload(); err != nil || p != nil {
		t.Fatalf("empty payload = %v, %v", p, err)
	}
}

func TestNoticeDecodesDomainModel(t *testing.T) {
	sentAt := "2024-03-07T12:00:00Z"
	src := domain.Notice{
		ID:       "notice-1",
		TenantID: "tenant-1",
		LeaseID:  "lease-1",
		Type:     domain.NoticeLateRent,
		Status:   domain.NoticeSent,
		Period:   "2024-03",
		Content:  "Rent for 2024-03 is overdue.",
		SentAt:   &sentAt,
	}
	var got Notice
	roundTrip(t, src, &got)
	if got.Content != src.Content {
		t.Fatalf("content = %q", got.Content)
	}
	if got.SentAt != sentAt || got.Status != domain.NoticeSent {
		t.Fatalf("notice = %+v", got)
	}
}

func TestJobAndLeaseDecodeDomainModels(t *testing.T) {
	var job Job
	roundTrip(t, domain.Job{
		ID:          "job-1",
		Queue:       "enforcement",
		Kind:        "late-notice",
		DedupeKey:   "late-notice-tenant-1-2024-03",
		Status:      domain.JobPending,
		RunAt:       "2024-03-07T12:00:00Z",
		Attempts:    1,
		MaxAttempts: 5,
	}, &job)
	if job.DedupeKey != "late-notice-tenant-1-2024-03" || job.MaxAttempts != 5 {
		t.Fatalf("job = %+v", job)
	}

	var lease Lease
	roundTrip(t, domain.Lease{
		ID:        "lease-1",
		OrgID:     "org-1",
		TenantID:  "tenant-1",
		Status:    domain.LeaseActive,
		RentCents: 100000,
	}, &lease)
	if lease.RentCents != 100000 || lease.Status != domain.LeaseActive {
		t.Fatalf("lease = %+v", lease)
	}
}
