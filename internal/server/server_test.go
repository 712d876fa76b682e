package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rentline/internal/config"
	"rentline/internal/db"
	"rentline/internal/domain"
	"rentline/internal/enforce"
	"rentline/internal/migrate"
	"rentline/internal/repo"
	"rentline/internal/scheduler"
	"rentline/internal/server"
)

const testAPIKey = "test-api-key"

func newTestServer(t *testing.T) (*httptest.Server, *enforce.Engine) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	eng := enforce.New(conn, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.Now = func() time.Time { return time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC) }
	eng.Ledger.Now = eng.Now
	eng.Events.Now = eng.Now
	eng.Queue.Now = eng.Now

	ctx := context.Background()
	now := eng.Now().Format(time.RFC3339)
	if err := eng.Repo.EnsureOrg(ctx, nil, "org-1", "Test Org", now); err != nil {
		t.Fatal(err)
	}
	if err := eng.Repo.InsertTenant(ctx, domain.Tenant{ID: "tenant-1", OrgID: "org-1", FullName: "Jordan Price", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := eng.Repo.InsertLease(ctx, domain.Lease{ID: "lease-1", OrgID: "org-1", TenantID: "tenant-1", Status: domain.LeaseActive, RentCents: 100000, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := eng.Repo.InsertAPIKey(ctx, domain.APIKey{ID: "key-1", ActorID: "ops", KeyHash: repo.HashAPIKey(testAPIKey)}); err != nil {
		t.Fatal(err)
	}

	handler, err := server.New(server.Config{Engine: eng})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, eng
}

func doRequest(t *testing.T, method, url, body string, auth bool) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("X-Api-Key", testAPIKey)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	return res, data
}

func TestHealthIsOpen(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _ := doRequest(t, http.MethodGet, srv.URL+"/v0/health", "", false)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _ := doRequest(t, http.MethodGet, srv.URL+"/v0/notices", "", false)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestScanDryRun(t *testing.T) {
	srv, eng := newTestServer(t)
	res, data := doRequest(t, http.MethodPost, srv.URL+"/v0/scan", `{"dry_run": true}`, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("scan: %d %s", res.StatusCode, data)
	}
	var body struct {
		Actions []enforce.Action `json:"actions"`
		DryRun  bool             `json:"dry_run"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	// Day 7, grace lapsed, unpaid.
	if len(body.Actions) != 1 || body.Actions[0].Kind != enforce.ActionLateNotice {
		t.Fatalf("actions: %+v", body.Actions)
	}
	// Dry run must not enqueue.
	jobs, err := eng.Queue.List(context.Background(), scheduler.Filters{Queue: enforce.QueueName})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("dry run enqueued jobs: %+v", jobs)
	}
}

func TestRecordPaymentAndLedger(t *testing.T) {
	srv, _ := newTestServer(t)
	res, data := doRequest(t, http.MethodPost, srv.URL+"/v0/tenants/tenant-1/payments",
		`{"amount_cents": 100000, "period": "2024-03"}`, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("payment: %d %s", res.StatusCode, data)
	}
	var entry domain.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatal(err)
	}
	if entry.AmountCents != -100000 || entry.Type != domain.LedgerPayment {
		t.Fatalf("entry: %+v", entry)
	}

	res, data = doRequest(t, http.MethodGet, srv.URL+"/v0/tenants/tenant-1/ledger", "", true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ledger: %d %s", res.StatusCode, data)
	}
	var view struct {
		BalanceCents int64                `json:"balance_cents"`
		Entries      []domain.LedgerEntry `json:"entries"`
	}
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatal(err)
	}
	if view.BalanceCents != -100000 || len(view.Entries) != 1 {
		t.Fatalf("view: %+v", view)
	}

	// A paid period produces no actions.
	res, data = doRequest(t, http.MethodPost, srv.URL+"/v0/scan", `{"dry_run": true}`, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("scan: %d %s", res.StatusCode, data)
	}
	var body struct {
		Actions []enforce.Action `json:"actions"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Actions) != 0 {
		t.Fatalf("expected no actions after payment, got %+v", body.Actions)
	}
}

func TestTenantNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	res, data := doRequest(t, http.MethodGet, srv.URL+"/v0/tenants/nope/ledger", "", true)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, data)
	}
}
