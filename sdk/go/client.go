package rentlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Rentline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Tenant represents the API tenant model (partial).
type Tenant struct {
	ID       string `json:"id"`
	OrgID    string `json:"org_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Lease represents the API lease model (partial).
type Lease struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	TenantID  string `json:"tenant_id"`
	Status    string `json:"status"`
	RentCents int64  `json:"rent_cents"`
}

// Notice represents an enforcement notice.
type Notice struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	LeaseID  string `json:"lease_id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Period   string `json:"period"`
	Content  string `json:"content,omitempty"`
	SentAt   string `json:"sent_at,omitempty"`
	ServedAt string `json:"served_at,omitempty"`
}

// Event represents a log entry. The payload arrives as a JSON string;
// Payload decodes it.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	TenantID    string `json:"tenant_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id"`
	PayloadJSON string `json:"payload_json"`
}

// Payload unmarshals the event's JSON payload. An empty payload yields nil.
func (e Event) Payload() (map[string]any, error) {
	if e.PayloadJSON == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(e.PayloadJSON), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Job represents a scheduled enforcement job.
type Job struct {
	ID          string `json:"id"`
	Queue       string `json:"queue"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	DedupeKey   string `json:"dedupe_key,omitempty"`
	RunAt       string `json:"run_at"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
}

// LedgerEntry is a dated financial record with a running balance.
type LedgerEntry struct {
	ID           int64  `json:"id"`
	TenantID     string `json:"tenant_id"`
	Type         string `json:"type"`
	AmountCents  int64  `json:"amount_cents"`
	Period       string `json:"period"`
	BalanceCents int64  `json:"balance_cents"`
	Description  string `json:"description,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// Ledger wraps a tenant's entries with the current balance.
type Ledger struct {
	BalanceCents int64         `json:"balance_cents"`
	Entries      []LedgerEntry `json:"entries"`
}

// Action is a pending enforcement decision from a scan.
type Action struct {
	Kind     string `json:"kind"`
	OrgID    string `json:"org_id"`
	LeaseID  string `json:"lease_id"`
	TenantID string `json:"tenant_id"`
	Period   string `json:"period"`
}

// ScanResult reports what a scan decided and, unless dry-run, enqueued.
type ScanResult struct {
	Actions []Action `json:"actions"`
	Jobs    []Job    `json:"jobs,omitempty"`
	DryRun  bool     `json:"dry_run"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Scan triggers an enforcement scan. asOf may be empty for "now"; dryRun
// evaluates without enqueueing jobs.
func (c *Client) Scan(ctx context.Context, asOf time.Time, dryRun bool) (ScanResult, error) {
	body := map[string]any{"dry_run": dryRun}
	if !asOf.IsZero() {
		body["as_of"] = asOf.UTC().Format(time.RFC3339)
	}
	var resp ScanResult
	err := c.do(ctx, http.MethodPost, "v0/scan", body, &resp)
	return resp, err
}

// Tenants lists the org's tenants.
func (c *Client) Tenants(ctx context.Context) ([]Tenant, error) {
	var resp []Tenant
	err := c.do(ctx, http.MethodGet, "v0/tenants", nil, &resp)
	return resp, err
}

// Leases lists leases, optionally filtered by tenant and status.
func (c *Client) Leases(ctx context.Context, tenantID, status string) ([]Lease, error) {
	var resp []Lease
	err := c.do(ctx, http.MethodGet, "v0/leases"+query(map[string]string{
		"tenant_id": tenantID,
		"status":    status,
	}), nil, &resp)
	return resp, err
}

// Notices lists notices, optionally filtered by tenant, type, and status.
func (c *Client) Notices(ctx context.Context, tenantID, noticeType, status string) ([]Notice, error) {
	var resp []Notice
	err := c.do(ctx, http.MethodGet, "v0/notices"+query(map[string]string{
		"tenant_id": tenantID,
		"type":      noticeType,
		"status":    status,
	}), nil, &resp)
	return resp, err
}

// ServeNotice marks a sent notice as served.
func (c *Client) ServeNotice(ctx context.Context, noticeID string) (Notice, error) {
	var resp Notice
	endpoint := fmt.Sprintf("v0/notices/%s/serve", url.PathEscape(noticeID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Jobs lists scheduled jobs, optionally filtered by kind and status.
func (c *Client) Jobs(ctx context.Context, kind, status string) ([]Job, error) {
	var resp []Job
	err := c.do(ctx, http.MethodGet, "v0/jobs"+query(map[string]string{
		"kind":   kind,
		"status": status,
	}), nil, &resp)
	return resp, err
}

// TenantLedger returns a tenant's ledger with the current balance.
func (c *Client) TenantLedger(ctx context.Context, tenantID string) (Ledger, error) {
	var resp Ledger
	endpoint := fmt.Sprintf("v0/tenants/%s/ledger", url.PathEscape(tenantID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RecordPayment records a rent payment against a billing period (YYYY-MM).
func (c *Client) RecordPayment(ctx context.Context, tenantID, period string, amountCents int64, description string) (LedgerEntry, error) {
	body := map[string]any{
		"amount_cents": amountCents,
		"period":       period,
	}
	if description != "" {
		body["description"] = description
	}
	var resp LedgerEntry
	endpoint := fmt.Sprintf("v0/tenants/%s/payments", url.PathEscape(tenantID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func query(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
