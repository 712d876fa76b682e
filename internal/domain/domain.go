package domain

// Lease lifecycle statuses. Only ACTIVE leases are scanned by enforcement.
const (
	LeaseDraft            = "DRAFT"
	LeasePendingSignature = "PENDING_SIGNATURE"
	LeaseActive           = "ACTIVE"
	LeaseExpired          = "EXPIRED"
	LeaseTerminated       = "TERMINATED"
)

// Lease clause types recognized by the enforcement context builder.
// Unknown types are stored but ignored.
const (
	ClauseRentDueDate    = "RENT_DUE_DATE"
	ClauseGracePeriod    = "GRACE_PERIOD"
	ClauseLateFee        = "LATE_FEE"
	ClauseMaterialBreach = "MATERIAL_BREACH"
)

// Ledger entry types. Amounts are signed cents; payments and credits are
// negative, charges are positive.
const (
	LedgerPayment   = "PAYMENT"
	LedgerRent      = "RENT"
	LedgerLateFee   = "LATE_FEE"
	LedgerCredit    = "CREDIT"
	LedgerDeduction = "DEDUCTION"
)

// Notice types and lifecycle statuses.
const (
	NoticeLateRent        = "LATE_RENT"
	NoticeLeaseViolation  = "LEASE_VIOLATION"
	NoticeEvictionWarning = "EVICTION_WARNING"

	NoticeDraft  = "DRAFT"
	NoticeSent   = "SENT"
	NoticeServed = "SERVED"
)

// Domain event types.
const (
	EventSystem    = "SYSTEM"
	EventNotice    = "NOTICE"
	EventViolation = "VIOLATION"
)

// Scheduled job statuses. pending and active are non-terminal; a dedupe key
// matching a job in either state suppresses re-enqueue.
const (
	JobPending = "pending"
	JobActive  = "active"
	JobDone    = "done"
	JobFailed  = "failed"
)

type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Property struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Unit struct {
	ID         string `json:"id"`
	PropertyID string `json:"property_id"`
	Label      string `json:"label"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Tenant struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Lease struct {
	ID        string  `json:"id"`
	OrgID     string  `json:"org_id"`
	TenantID  string  `json:"tenant_id"`
	UnitID    *string `json:"unit_id,omitempty"`
	Status    string  `json:"status" enum:"DRAFT,PENDING_SIGNATURE,ACTIVE,EXPIRED,TERMINATED"`
	RentCents int64   `json:"rent_cents"`
	StartDate string  `json:"start_date,omitempty"`
	EndDate   string  `json:"end_date,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// LeaseClause is a typed, keyed piece of lease metadata with a small JSON
// attribute bag. Immutable once the lease exists.
type LeaseClause struct {
	ID        string `json:"id"`
	LeaseID   string `json:"lease_id"`
	Type      string `json:"type"`
	AttrsJSON string `json:"attrs_json"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// LedgerEntry is an append-only dated financial record. BalanceCents is the
// running balance after this entry; each entry's balance must equal the
// previous balance plus its amount.
type LedgerEntry struct {
	ID           int64  `json:"id"`
	TenantID     string `json:"tenant_id"`
	Type         string `json:"type" enum:"PAYMENT,RENT,LATE_FEE,CREDIT,DEDUCTION"`
	AmountCents  int64  `json:"amount_cents"`
	Period       string `json:"period"`
	BalanceCents int64  `json:"balance_cents"`
	Description  string `json:"description,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Notice records a specific enforcement communication. Period is the
// billing month (YYYY-MM) the notice enforces; escalation resolution checks
// run against this period, not the calendar month the check happens in.
type Notice struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenant_id"`
	LeaseID   string  `json:"lease_id,omitempty"`
	Type      string  `json:"type" enum:"LATE_RENT,LEASE_VIOLATION,EVICTION_WARNING"`
	Status    string  `json:"status" enum:"DRAFT,SENT,SERVED"`
	Period    string  `json:"period"`
	Content   string  `json:"content,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	SentAt    *string `json:"sent_at,omitempty" format:"date-time"`
	ServedAt  *string `json:"served_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// Job is a durable unit of deferred work. RunAt carries the "not before"
// time; DedupeKey suppresses logically duplicate enqueues.
type Job struct {
	ID          string `json:"id"`
	Queue       string `json:"queue"`
	Kind        string `json:"kind"`
	PayloadJSON string `json:"payload_json"`
	DedupeKey   string `json:"dedupe_key,omitempty"`
	Status      string `json:"status" enum:"pending,active,done,failed"`
	RunAt       string `json:"run_at" format:"date-time"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
