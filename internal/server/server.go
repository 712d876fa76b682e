package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"rentline/internal/domain"
	"rentline/internal/enforce"
	"rentline/internal/repo"
	"rentline/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *enforce.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"notice not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Rentline operator API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Rentline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerScan(group, cfg.Engine)
	registerTenants(group, cfg.Engine)
	registerLeases(group, cfg.Engine)
	registerNotices(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerPayments(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if se, ok := err.(huma.StatusError); ok {
		return se
	}
	if err == repo.ErrNotFound || strings.Contains(err.Error(), "not found") {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type scanResult struct {
	Actions []enforce.Action `json:"actions"`
	Jobs    []domain.Job     `json:"jobs,omitempty"`
	DryRun  bool             `json:"dry_run"`
}

func registerScan(api huma.API, e *enforce.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-scan",
		Method:      http.MethodPost,
		Path:        "/scan",
		Summary:     "Evaluate enforcement rules over active leases",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			OrgID  string `json:"org_id,omitempty"`
			AsOf   string `json:"as_of,omitempty" format:"date-time"`
			DryRun bool   `json:"dry_run,omitempty"`
		}
	}) (*struct {
		Body scanResult `json:"body"`
	}, error) {
		now := e.Now()
		if input.Body.AsOf != "" {
			parsed, err := time.Parse(time.RFC3339, input.Body.AsOf)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid as_of timestamp", map[string]any{"as_of": input.Body.AsOf})
			}
			now = parsed
		}
		orgID := input.Body.OrgID
		if orgID == "" {
			orgID = e.Config.Org.ID
		}
		actions, err := e.Evaluate(ctx, now, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		result := scanResult{Actions: actions, DryRun: input.Body.DryRun}
		if result.Actions == nil {
			result.Actions = []enforce.Action{}
		}
		if !input.Body.DryRun {
			jobs, err := e.ProcessActions(ctx, actions)
			if err != nil {
				return nil, handleError(err)
			}
			result.Jobs = jobs
		}
		return &struct {
			Body scanResult `json:"body"`
		}{Body: result}, nil
	})
}

func registerTenants(api huma.API, e *enforce.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants",
		Summary:     "List tenants",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Tenant `json:"body"`
	}, error) {
		tenants, err := e.Repo.ListTenants(ctx, e.Config.Org.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if tenants == nil {
			tenants = []domain.Tenant{}
		}
		return &struct {
			Body []domain.Tenant `json:"body"`
		}{Body: tenants}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}",
		Summary:     "Get a tenant",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body domain.Tenant `json:"body"`
	}, error) {
		tenant, err := e.Repo.GetTenant(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tenant `json:"body"`
		}{Body: tenant}, nil
	})
}

func registerLeases(api huma.API, e *enforce.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-leases",
		Method:      http.MethodGet,
		Path:        "/leases",
		Summary:     "List leases",
	}, func(ctx context.Context, input *struct {
		TenantID string `query:"tenant_id"`
		Status   string `query:"status" enum:",DRAFT,PENDING_SIGNATURE,ACTIVE,EXPIRED,TERMINATED"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Lease `json:"body"`
	}, error) {
		leases, err := e.Repo.ListLeases(ctx, repo.LeaseFilters{
			OrgID:    e.Config.Org.ID,
			TenantID: input.TenantID,
			Status:   input.Status,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if leases == nil {
			leases = []domain.Lease{}
		}
		return &struct {
			Body []domain.Lease `json:"body"`
		}{Body: leases}, nil
	})
}

func registerNotices(api huma.API, e *enforce.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notices",
		Method:      http.MethodGet,
		Path:        "/notices",
		Summary:     "List notices",
	}, func(ctx context.Context, input *struct {
		TenantID string `query:"tenant_id"`
		Type     string `query:"type" enum:",LATE_RENT,LEASE_VIOLATION,EVICTION_WARNING"`
		Status   string `query:"status" enum:",DRAFT,SENT,SERVED"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Notice `json:"body"`
	}, error) {
		notices, err := e.Repo.ListNotices(ctx, repo.NoticeFilters{
			TenantID: input.TenantID,
			Type:     input.Type,
			Status:   input.Status,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if notices == nil {
			notices = []domain.Notice{}
		}
		return &struct {
			Body []domain.Notice `json:"body"`
		}{Body: notices}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "serve-notice",
		Method:      http.MethodPost,
		Path:        "/notices/{notice_id}/serve",
		Summary:     "Mark a sent notice as served",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NoticeID string `path:"notice_id"`
	}) (*struct {
		Body domain.Notice `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		now := e.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.MarkNoticeServed(ctx, input.NoticeID, now); err != nil {
			return nil, handleError(err)
		}
		notice, err := e.Repo.GetNotice(ctx, input.NoticeID)
		if err != nil {
			return nil, handleError(err)
		}
		logNoticeServed(ctx, e, notice, actorID)
		return &struct {
			Body domain.Notice `json:"body"`
		}{Body: notice}, nil
	})
}

func logNoticeServed(ctx context.Context, e *enforce.Engine, n domain.Notice, actorID string) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Logger.Error("log notice served", "notice", n.ID, "error", err)
		return
	}
	defer tx.Rollback()
	err = e.Events.Append(ctx, tx, domain.EventNotice, e.Config.Org.ID, n.TenantID, "notice", n.ID, map[string]any{
		"kind": "notice.served", "actor": actorID, "type": n.Type,
	})
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		e.Logger.Error("log notice served", "notice", n.ID, "error", err)
	}
}

func registerEvents(api huma.API, e *enforce.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent domain events",
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type" enum:",SYSTEM,NOTICE,VIOLATION"`
		TenantID string `query:"tenant_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   int64  `query:"cursor"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		events, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:     input.Type,
			TenantID: input.TenantID,
			Limit:    input.Limit,
			Cursor:   input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if events == nil {
			events = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: events}, nil
	})
}

func registerJobs(api huma.API, e *enforce.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List scheduled jobs",
	}, func(ctx context.Context, input *struct {
		Kind   string `query:"kind"`
		Status string `query:"status" enum:",pending,active,done,failed"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Job `json:"body"`
	}, error) {
		jobs, err := e.Queue.List(ctx, scheduler.Filters{
			Queue:  enforce.QueueName,
			Kind:   input.Kind,
			Status: input.Status,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if jobs == nil {
			jobs = []domain.Job{}
		}
		return &struct {
			Body []domain.Job `json:"body"`
		}{Body: jobs}, nil
	})
}

type ledgerView struct {
	BalanceCents int64                `json:"balance_cents"`
	Entries      []domain.LedgerEntry `json:"entries"`
}

func registerLedger(api huma.API, e *enforce.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "tenant-ledger",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/ledger",
		Summary:     "Tenant ledger entries and current balance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Limit    int    `query:"limit" default:"100"`
	}) (*struct {
		Body ledgerView `json:"body"`
	}, error) {
		if _, err := e.Repo.GetTenant(ctx, input.TenantID); err != nil {
			return nil, handleError(err)
		}
		balance, err := e.Ledger.Balance(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		entries, err := e.Ledger.Entries(ctx, input.TenantID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []domain.LedgerEntry{}
		}
		return &struct {
			Body ledgerView `json:"body"`
		}{Body: ledgerView{BalanceCents: balance, Entries: entries}}, nil
	})
}

func registerPayments(api huma.API, e *enforce.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "record-payment",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/payments",
		Summary:     "Record a rent payment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     struct {
			AmountCents int64  `json:"amount_cents" minimum:"1"`
			Period      string `json:"period" pattern:"^\\d{4}-\\d{2}$"`
			Description string `json:"description,omitempty"`
		}
	}) (*struct {
		Body domain.LedgerEntry `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetTenant(ctx, input.TenantID); err != nil {
			return nil, handleError(err)
		}
		entry, err := enforce.RecordPayment(ctx, e, input.TenantID, input.Body.Period, input.Body.AmountCents, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LedgerEntry `json:"body"`
		}{Body: entry}, nil
	})
}
