package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rentline/internal/config"
	"rentline/internal/db"
	"rentline/internal/domain"
	"rentline/internal/enforce"
	"rentline/internal/migrate"
	"rentline/internal/notify"
	"rentline/internal/repo"
	"rentline/internal/scheduler"
	"rentline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Rentline CLI",
	Long: `Rentline runs tenancy enforcement for rental portfolios.
A periodic scan reads every active lease, its clauses, the tenant's ledger
and notice history, and decides what is due: a rent reminder, a late notice
with its fee, an escalation to a lease violation, or an eviction warning for
a material breach. Decisions become durable scheduled jobs; a worker executes
them and schedules its own follow-ups, so escalations fire on time even when
no scan runs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("RENTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(propertyCmd())
	rootCmd.AddCommand(unitCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(leaseCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(noticeCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func initCmd() *cobra.Command {
	var orgID, orgName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("--org required")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
					return err
				}
			}
			r := repo.Repo{DB: conn}
			now := time.Now().UTC().Format(time.RFC3339)
			if err := r.EnsureOrg(cmd.Context(), nil, orgID, orgName, now); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace for org %s (config at %s, db at %s)\n", orgID, path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&orgName, "name", "", "organization name")
	return cmd
}

func propertyCmd() *cobra.Command {
	prop := &cobra.Command{Use: "property", Short: "Manage properties"}
	prop.AddCommand(propertyAddCmd())
	prop.AddCommand(propertyListCmd())
	return prop
}

func propertyAddCmd() *cobra.Command {
	var name, address string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				p := domain.Property{
					ID:        uuid.New().String(),
					OrgID:     e.Config.Org.ID,
					Name:      name,
					Address:   address,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertProperty(ctx, p); err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "property name")
	cmd.Flags().StringVar(&address, "address", "", "street address")
	return cmd
}

func propertyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				items, err := e.Repo.ListProperties(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Address"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Address})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func unitCmd() *cobra.Command {
	unit := &cobra.Command{Use: "unit", Short: "Manage units"}
	unit.AddCommand(unitAddCmd())
	unit.AddCommand(unitListCmd())
	return unit
}

func unitAddCmd() *cobra.Command {
	var propertyID, label string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a unit to a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			if propertyID == "" || label == "" {
				return fmt.Errorf("--property and --label required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				u := domain.Unit{
					ID:         uuid.New().String(),
					PropertyID: propertyID,
					Label:      label,
					CreatedAt:  time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertUnit(ctx, u); err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&propertyID, "property", "", "property id")
	cmd.Flags().StringVar(&label, "label", "", "unit label")
	return cmd
}

func unitListCmd() *cobra.Command {
	var propertyID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List units of a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			if propertyID == "" {
				return fmt.Errorf("--property required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				items, err := e.Repo.ListUnits(ctx, propertyID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&propertyID, "property", "", "property id")
	return cmd
}

func tenantCmd() *cobra.Command {
	tenant := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	tenant.AddCommand(tenantAddCmd())
	tenant.AddCommand(tenantListCmd())
	return tenant
}

func tenantAddCmd() *cobra.Command {
	var name, email, phone string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				t := domain.Tenant{
					ID:        uuid.New().String(),
					OrgID:     e.Config.Org.ID,
					FullName:  name,
					Email:     email,
					Phone:     phone,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertTenant(ctx, t); err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	return cmd
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				items, err := e.Repo.ListTenants(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Phone"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.FullName, t.Email, t.Phone})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func leaseCmd() *cobra.Command {
	lease := &cobra.Command{Use: "lease", Short: "Manage leases"}
	lease.AddCommand(leaseAddCmd())
	lease.AddCommand(leaseListCmd())
	lease.AddCommand(leaseActivateCmd())
	lease.AddCommand(leaseClauseCmd())
	return lease
}

func leaseAddCmd() *cobra.Command {
	var tenantID, unitID, startDate, endDate string
	var rentCents int64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a lease (starts in DRAFT)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" || rentCents <= 0 {
				return fmt.Errorf("--tenant and positive --rent-cents required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				l := domain.Lease{
					ID:        uuid.New().String(),
					OrgID:     e.Config.Org.ID,
					TenantID:  tenantID,
					Status:    domain.LeaseDraft,
					RentCents: rentCents,
					StartDate: startDate,
					EndDate:   endDate,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if unitID != "" {
					l.UnitID = &unitID
				}
				if err := e.Repo.InsertLease(ctx, l); err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&unitID, "unit", "", "unit id")
	cmd.Flags().Int64Var(&rentCents, "rent-cents", 0, "monthly rent in cents")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	return cmd
}

func leaseListCmd() *cobra.Command {
	var tenantID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				items, err := e.Repo.ListLeases(ctx, repo.LeaseFilters{
					OrgID:    e.Config.Org.ID,
					TenantID: tenantID,
					Status:   status,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Tenant", "Status", "Rent"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.TenantID, l.Status, centsToDollars(l.RentCents)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func leaseActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <lease-id>",
		Short: "Activate a lease so enforcement scans it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				if err := e.Repo.UpdateLeaseStatus(ctx, args[0], domain.LeaseActive); err != nil {
					return err
				}
				l, err := e.Repo.GetLease(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	}
	return cmd
}

func leaseClauseCmd() *cobra.Command {
	clause := &cobra.Command{Use: "clause", Short: "Manage lease clauses"}
	clause.AddCommand(leaseClauseSetCmd())
	clause.AddCommand(leaseClauseListCmd())
	return clause
}

func leaseClauseSetCmd() *cobra.Command {
	var leaseID, clauseType, attrs string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Attach a clause to a lease",
		Long: `Attach a typed clause with a JSON attribute bag, e.g.:
  rl lease clause set --lease L --type RENT_DUE_DATE --attrs '{"day": 5}'
  rl lease clause set --lease L --type LATE_FEE --attrs '{"kind": "PERCENTAGE", "percent": 5}'
  rl lease clause set --lease L --type MATERIAL_BREACH --attrs '{"day": 15}'
Unknown clause types are stored and ignored by enforcement.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if leaseID == "" || clauseType == "" {
				return fmt.Errorf("--lease and --type required")
			}
			if attrs == "" {
				attrs = "{}"
			}
			if !json.Valid([]byte(attrs)) {
				return fmt.Errorf("--attrs must be valid JSON")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				c := domain.LeaseClause{
					ID:        uuid.New().String(),
					LeaseID:   leaseID,
					Type:      strings.ToUpper(clauseType),
					AttrsJSON: attrs,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertClause(ctx, c); err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&leaseID, "lease", "", "lease id")
	cmd.Flags().StringVar(&clauseType, "type", "", "clause type")
	cmd.Flags().StringVar(&attrs, "attrs", "{}", "clause attributes as JSON")
	return cmd
}

func leaseClauseListCmd() *cobra.Command {
	var leaseID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a lease's clauses",
		RunE: func(cmd *cobra.Command, args []string) error {
			if leaseID == "" {
				return fmt.Errorf("--lease required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				items, err := e.Repo.ListClauses(ctx, leaseID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&leaseID, "lease", "", "lease id")
	return cmd
}

func paymentCmd() *cobra.Command {
	payment := &cobra.Command{Use: "payment", Short: "Record payments"}
	payment.AddCommand(paymentRecordCmd())
	return payment
}

func paymentRecordCmd() *cobra.Command {
	var tenantID, period, description string
	var amountCents int64
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a rent payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" || period == "" || amountCents <= 0 {
				return fmt.Errorf("--tenant, --period and positive --amount-cents required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				entry, err := enforce.RecordPayment(ctx, e, tenantID, period, amountCents, description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(entry)
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&period, "period", "", "billing period (YYYY-MM)")
	cmd.Flags().Int64Var(&amountCents, "amount-cents", 0, "payment amount in cents")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func ledgerCmd() *cobra.Command {
	ledgerRoot := &cobra.Command{Use: "ledger", Short: "Tenant ledgers"}
	var tenantID string
	var limit int
	show := &cobra.Command{
		Use:   "show",
		Short: "Show a tenant's ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				balance, err := e.Ledger.Balance(ctx, tenantID)
				if err != nil {
					return err
				}
				entries, err := e.Ledger.Entries(ctx, tenantID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"balance_cents": balance, "entries": entries})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Period", "Amount", "Balance", "Description"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.ID, en.Type, en.Period, centsToDollars(en.AmountCents), centsToDollars(en.BalanceCents), en.Description})
				}
				tw.Render()
				fmt.Printf("Current balance: %s\n", centsToDollars(balance))
				return nil
			})
		},
	}
	show.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	show.Flags().IntVar(&limit, "n", 100, "number of entries")
	ledgerRoot.AddCommand(show)
	return ledgerRoot
}

func noticeCmd() *cobra.Command {
	notice := &cobra.Command{Use: "notice", Short: "Inspect notices"}
	notice.AddCommand(noticeListCmd())
	notice.AddCommand(noticeServeCmd())
	return notice
}

func noticeListCmd() *cobra.Command {
	var tenantID, noticeType, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				items, err := e.Repo.ListNotices(ctx, repo.NoticeFilters{
					TenantID: tenantID,
					Type:     noticeType,
					Status:   status,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Tenant", "Type", "Status", "Period", "Created"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.TenantID, n.Type, n.Status, n.Period, n.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant filter")
	cmd.Flags().StringVar(&noticeType, "type", "", "type filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "n", 50, "number of notices")
	return cmd
}

func noticeServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <notice-id>",
		Short: "Mark a sent notice as served",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.MarkNoticeServed(ctx, args[0], now); err != nil {
					return err
				}
				n, err := e.Repo.GetNotice(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(n)
			})
		},
	}
	return cmd
}

func scanCmd() *cobra.Command {
	var asOf string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Evaluate enforcement rules over active leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				now := time.Now().UTC()
				if asOf != "" {
					parsed, err := time.Parse(time.RFC3339, asOf)
					if err != nil {
						parsed, err = time.Parse("2006-01-02", asOf)
						if err != nil {
							return fmt.Errorf("invalid --as-of %q: want RFC3339 or YYYY-MM-DD", asOf)
						}
					}
					now = parsed.UTC()
					e.Now = func() time.Time { return now }
				}
				actions, err := e.Evaluate(ctx, now, e.Config.Org.ID)
				if err != nil {
					return err
				}
				if dryRun {
					return printJSON(map[string]any{"actions": actions, "dry_run": true})
				}
				jobs, err := e.ProcessActions(ctx, actions)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"actions": actions, "jobs": jobs})
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate as of this time instead of now")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate without enqueueing jobs")
	return cmd
}

func workerCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the enforcement job worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				w := newEnforcementWorker(e)
				if once {
					n := w.RunOnce(ctx)
					fmt.Printf("executed %d job(s)\n", n)
					return nil
				}
				w.Start()
				e.Logger.Info("worker started", "queue", enforce.QueueName)
				sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				<-sigCtx.Done()
				w.Stop()
				e.Logger.Info("worker stopped")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "drain due jobs once and exit")
	return cmd
}

func newEnforcementWorker(e *enforce.Engine) *scheduler.Worker {
	var notifier notify.Notifier = notify.LogNotifier{Logger: e.Logger}
	if url := e.Config.Notify.Webhook.URL; url != "" {
		notifier = notify.NewWebhookNotifier(url, e.Config.Notify.Webhook.Secret,
			time.Duration(e.Config.Notify.Webhook.TimeoutSeconds)*time.Second)
	}
	w := scheduler.NewWorker(e.Queue, enforce.QueueName,
		scheduler.WithPollInterval(time.Duration(e.Config.Queue.PollIntervalSeconds)*time.Second),
		scheduler.WithJobTimeout(time.Duration(e.Config.Queue.JobTimeoutSeconds)*time.Second),
		scheduler.WithRetryDelay(time.Duration(e.Config.Queue.RetryDelaySeconds)*time.Second),
		scheduler.WithLogger(e.Logger),
	)
	enforce.NewExecutor(e, notifier).Register(w)
	return w
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Inspect scheduled jobs"}
	var kind, status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				items, err := e.Queue.List(ctx, scheduler.Filters{
					Queue:  enforce.QueueName,
					Kind:   kind,
					Status: status,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Run At", "Attempts", "Dedupe Key"})
				for _, j := range items {
					tw.AppendRow(table.Row{j.ID, j.Kind, j.Status, j.RunAt, fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts), j.DedupeKey})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "kind filter")
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().IntVar(&limit, "n", 50, "number of jobs")
	job.AddCommand(list)
	return job
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, tenantID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
					Type:     evtType,
					TenantID: tenantID,
					Limit:    n,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&tenantID, "tenant", "", "tenant filter")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				jwtSecret := e.Config.Server.JWTSecret
				if env := os.Getenv("RENTLINE_JWT_SECRET"); env != "" {
					jwtSecret = env
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: jwtSecret, Logger: e.Logger},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Rentline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *enforce.Engine) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				key := "rl_" + hex.EncodeToString(raw)
				record := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, record); err != nil {
					return err
				}
				fmt.Printf("API key created (store it now, it is not shown again):\n%s\n", key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	apikey.AddCommand(create)
	return apikey
}

func withEngine(ctx context.Context, fn func(context.Context, *enforce.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	e := enforce.New(conn, cfg, logger)
	return fn(ctx, e)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func centsToDollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
