package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studioflow/internal/app"
	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/engine/escrow"
	"studioflow/internal/engine/iteration"
	"studioflow/internal/engine/statemachine"
	"studioflow/internal/logging"
	"studioflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Studioflow CLI",
	Long: `Studioflow runs client projects through a mentor and a student.
- Project: a brief a client submits; it moves draft -> submitted -> accepted -> scoped -> published -> assigned -> in_progress -> review stages -> completed -> paid.
- Iteration: one submitted piece of work; the mentor reviews it first, then the client.
- Escrow: the client's money held until the client approves; it is released to the mentor and then the student.
- Dispute: any party can freeze a project; an admin reinstates it or refunds the client.
Every command acts as --actor-id with --role; 'sf rules' prints who may do what.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Level: viper.GetString("log-level"), Format: viper.GetString("log-format")})
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STUDIOFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	rootCmd.PersistentFlags().String("role", string(domain.RoleAdmin), "actor role (client, mentor, student, admin)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "role", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(escrowCmd())
	rootCmd.AddCommand(iterationCmd())
	rootCmd.AddCommand(disputeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "project",
		Short: "Create and move projects",
	}
	p.AddCommand(projectCreateCmd())
	p.AddCommand(projectListCmd())
	p.AddCommand(projectShowCmd())
	p.AddCommand(projectScopeCmd())
	p.AddCommand(projectGrantCmd())
	p.AddCommand(simpleActionCmd("submit", "Submit a draft for mentor review", engine.Engine.SubmitProject))
	p.AddCommand(simpleActionCmd("accept", "Accept a submitted project as its mentor", engine.Engine.AcceptProject))
	p.AddCommand(simpleActionCmd("publish", "Publish a funded project to students", engine.Engine.PublishProject))
	p.AddCommand(simpleActionCmd("start", "Start work on an assigned project", engine.Engine.StartWork))
	p.AddCommand(simpleActionCmd("confirm-payment", "Mark a completed project as paid", engine.Engine.ConfirmPayment))
	p.AddCommand(studentActionCmd("claim", "Claim a published project", engine.Engine.ClaimProject))
	p.AddCommand(studentActionCmd("assign", "Confirm the student on a claimed project", engine.Engine.AssignStudent))
	p.AddCommand(projectCancelCmd())
	return p
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var typ, priority string
	var maxRevisions int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Type = domain.ProjectType(typ)
			opts.Priority = domain.Priority(priority)
			if cmd.Flags().Changed("max-revisions") {
				opts.MaxRevisions = &maxRevisions
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.CreateProject(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "project title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Requirements, "requirements", "", "requirements")
	cmd.Flags().StringVar(&typ, "type", "", "custom or modification")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().StringVar(&priority, "priority", "", "low, normal, high or urgent")
	cmd.Flags().Int64Var(&opts.ClientFee, "client-fee", 0, "client fee in minor units")
	cmd.Flags().Int64Var(&opts.MentorFee, "mentor-fee", 0, "mentor fee in minor units")
	cmd.Flags().Int64Var(&opts.StudentFee, "student-fee", 0, "student fee in minor units")
	cmd.Flags().IntVar(&maxRevisions, "max-revisions", 0, "revision cap (defaults to config)")
	cmd.Flags().IntVar(&opts.EstimatedDeliveryDays, "delivery-days", 0, "estimated delivery in days")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "owning client (admin only)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status string
	var mine bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				projects, err := a.Engine.ListProjects(ctx, actor, engine.ListOptions{Status: domain.ProjectStatus(status), Mine: mine, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "ID", "Title", "Status", "Client", "Mentor", "Student", "Revisions"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.Number, p.ID, p.Title, p.Status, p.ClientID, deref(p.MentorID), deref(p.StudentID), fmt.Sprintf("%d/%d", p.RevisionCount, p.MaxRevisions)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().BoolVar(&mine, "mine", false, "only projects you are a party of")
	cmd.Flags().IntVar(&limit, "limit", 50, "max projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id|number>",
		Short: "Show a project with its iterations and escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				var view engine.ProjectView
				var err error
				if n, convErr := strconv.ParseInt(args[0], 10, 64); convErr == nil {
					view, err = a.Engine.GetProjectByNumber(ctx, actor, n)
				} else {
					view, err = a.Engine.GetProject(ctx, actor, args[0])
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				p := view.Project
				fmt.Printf("#%d %s (%s)\n", p.Number, p.Title, p.ID)
				fmt.Printf("status: %s  revisions: %d/%d\n", p.Status, p.RevisionCount, p.MaxRevisions)
				fmt.Printf("client: %s  mentor: %s  student: %s\n", p.ClientID, deref(p.MentorID), deref(p.StudentID))
				if view.Escrow != nil {
					fmt.Printf("escrow: %s %d %s (refunded %d)\n", view.Escrow.Status, view.Escrow.Amount, view.Escrow.Currency, view.Escrow.RefundedAmount)
				}
				if len(view.Overdue) > 0 {
					fmt.Printf("overdue: %s\n", strings.Join(view.Overdue, ", "))
				}
				if len(view.Iterations) > 0 {
					printIterations(view.Iterations)
				}
				return nil
			})
		},
	}
	return cmd
}

func projectScopeCmd() *cobra.Command {
	var opts engine.ScopeOptions
	var mentorDeadline, studentDeadline string
	var clientFee, mentorFee, studentFee int64
	var maxRevisions, deliveryDays int
	cmd := &cobra.Command{
		Use:   "scope <project-id>",
		Short: "Record the agreed scope, fees and deadlines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if f.Changed("client-fee") {
				opts.ClientFee = &clientFee
			}
			if f.Changed("mentor-fee") {
				opts.MentorFee = &mentorFee
			}
			if f.Changed("student-fee") {
				opts.StudentFee = &studentFee
			}
			if f.Changed("max-revisions") {
				opts.MaxRevisions = &maxRevisions
			}
			if f.Changed("delivery-days") {
				opts.EstimatedDeliveryDays = &deliveryDays
			}
			opts.MentorDeadline = optionalString(mentorDeadline)
			opts.StudentDeadline = optionalString(studentDeadline)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.ScopeProject(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "agreed scope")
	cmd.Flags().StringVar(&opts.MentorID, "mentor-id", "", "mentor (admin only)")
	cmd.Flags().Int64Var(&clientFee, "client-fee", 0, "client fee in minor units")
	cmd.Flags().Int64Var(&mentorFee, "mentor-fee", 0, "mentor fee in minor units")
	cmd.Flags().Int64Var(&studentFee, "student-fee", 0, "student fee in minor units")
	cmd.Flags().IntVar(&maxRevisions, "max-revisions", 0, "revision cap")
	cmd.Flags().IntVar(&deliveryDays, "delivery-days", 0, "estimated delivery in days")
	cmd.Flags().StringVar(&mentorDeadline, "mentor-deadline", "", "RFC3339 deadline for mentor reviews")
	cmd.Flags().StringVar(&studentDeadline, "student-deadline", "", "RFC3339 deadline for student delivery")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func projectGrantCmd() *cobra.Command {
	var extra int
	cmd := &cobra.Command{
		Use:   "grant-revisions <project-id>",
		Short: "Raise a project's revision cap (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.GrantRevisions(ctx, actor, args[0], extra)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().IntVar(&extra, "extra", 1, "additional revisions")
	return cmd
}

func projectCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <project-id>",
		Short: "Cancel a project and refund any escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.CancelProject(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

type projectAction func(engine.Engine, context.Context, domain.Actor, string) (engine.Result, error)

func simpleActionCmd(use, short string, fn projectAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := fn(a.Engine, ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
}

type studentAction func(engine.Engine, context.Context, domain.Actor, string, string) (engine.Result, error)

func studentActionCmd(use, short string, fn studentAction) *cobra.Command {
	var studentID string
	cmd := &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := fn(a.Engine, ctx, actor, args[0], studentID)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&studentID, "student-id", "", "student (admin only for claim)")
	return cmd
}

func escrowCmd() *cobra.Command {
	e := &cobra.Command{
		Use:   "escrow",
		Short: "Manage project escrow",
	}
	var amount int64
	var currency string
	fund := &cobra.Command{
		Use:   "fund <project-id>",
		Short: "Charge the client and hold the funds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.Fund(ctx, actor, args[0], amount, currency)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	fund.Flags().Int64Var(&amount, "amount", 0, "amount in minor units (defaults to the client fee)")
	fund.Flags().StringVar(&currency, "currency", "", "currency (defaults to config)")
	e.AddCommand(fund)
	return e
}

func iterationCmd() *cobra.Command {
	it := &cobra.Command{
		Use:   "iteration",
		Short: "Submit and review work",
	}
	var notes string
	submit := &cobra.Command{
		Use:   "submit <project-id>",
		Short: "Submit work (student) or a revision (mentor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.SubmitIteration(ctx, actor, args[0], notes)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	submit.Flags().StringVar(&notes, "notes", "", "submission notes")

	var iterationID, decision, reviewNotes string
	review := &cobra.Command{
		Use:   "review <project-id>",
		Short: "Approve or request a revision of the pending iteration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := iteration.Decision(decision)
			if !d.Valid() {
				return fmt.Errorf("decision must be %q or %q", iteration.DecisionApprove, iteration.DecisionRequestRevision)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.ReviewIteration(ctx, actor, args[0], iterationID, d, reviewNotes)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	review.Flags().StringVar(&iterationID, "iteration-id", "", "iteration (defaults to the pending one)")
	review.Flags().StringVar(&decision, "decision", "", "approve or request_revision")
	review.Flags().StringVar(&reviewNotes, "notes", "", "review notes")
	_ = review.MarkFlagRequired("decision")

	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's iterations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				items, err := a.Engine.ListIterations(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printIterations(items)
				return nil
			})
		},
	}
	it.AddCommand(submit, review, list)
	return it
}

func disputeCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "dispute",
		Short: "Open and resolve disputes",
	}
	var reason string
	open := &cobra.Command{
		Use:   "open <project-id>",
		Short: "Freeze a project pending admin resolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.OpenDispute(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	open.Flags().StringVar(&reason, "reason", "", "dispute reason")

	var outcome string
	resolve := &cobra.Command{
		Use:   "resolve <project-id>",
		Short: "Reinstate a disputed project or refund the client (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := escrow.Resolution(outcome)
			if !o.Valid() {
				return fmt.Errorf("outcome must be %q or %q", escrow.ResolveReinstate, escrow.ResolveRefund)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.ResolveDispute(ctx, actor, args[0], o)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	resolve.Flags().StringVar(&outcome, "outcome", "", "reinstate or refund")
	_ = resolve.MarkFlagRequired("outcome")
	d.AddCommand(open, resolve)
	return d
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, projectID string
	var after int64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events (one project, or the global feed for admins)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				var evts []domain.Event
				var err error
				if projectID != "" {
					evts, err = a.Engine.ProjectEvents(ctx, actor, projectID, n, 0, evtType)
				} else {
					evts, err = a.Engine.Feed(ctx, actor, after, n)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Project", "Actor", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ProjectID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter (project tail only)")
	cmd.Flags().StringVar(&projectID, "project-id", "", "project to tail")
	cmd.Flags().Int64Var(&after, "after", 0, "feed cursor: return events after this id")
	return cmd
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the transition table",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules := statemachine.Rules()
			if viper.GetBool("json") {
				return printJSON(rules)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Action", "From", "To", "Roles"})
			for _, r := range rules {
				roles := make([]string, 0, len(r.Roles))
				for _, role := range r.Roles {
					roles = append(roles, string(role))
				}
				tw.AppendRow(table.Row{r.Action, r.From, r.To, strings.Join(roles, ",")})
			}
			tw.Render()
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in studioflow.yml at the workspace root. Missing files fall back to defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default studioflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate studioflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer a.Close()
			sc := a.Config.Server
			if cmd.Flags().Changed("addr") || sc.Addr == "" {
				sc.Addr = addr
			}
			if cmd.Flags().Changed("base-path") || sc.BasePath == "" {
				sc.BasePath = basePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: sc.AllowLegacyActorHeader,
				DevLogin:               devLogin,
				Logger:                 logging.Get(),
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("STUDIOFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:            a.Engine,
				BasePath:          sc.BasePath,
				Auth:              authCfg,
				RequestsPerMinute: sc.RequestsPerMinute,
				Burst:             sc.Burst,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: sc.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logging.Get().Info("serving studioflow api", "addr", sc.Addr, "base_path", sc.BasePath)
			fmt.Printf("Serving Studioflow API on http://%s%s (OpenAPI at %s/openapi.json, metrics at /metrics)\n", sc.Addr, sc.BasePath, sc.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (overrides config)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST <base>/auth/dev/login for local tokens")
	_ = viper.BindEnv("jwt-secret")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App, domain.Actor) error) error {
	actor := domain.Actor{ID: viper.GetString("actor-id"), Role: domain.Role(viper.GetString("role"))}
	if !actor.Role.Valid() {
		return fmt.Errorf("unknown role %q", actor.Role)
	}
	a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace"), Logger: logging.Get()})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, actor)
}

func printResult(res engine.Result) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	p := res.Project
	fmt.Printf("#%d %s [%s]\n", p.Number, p.Title, p.Status)
	for _, s := range res.Steps {
		fmt.Printf("  %s: %s -> %s\n", s.Action, s.From, s.To)
	}
	if res.Iteration != nil {
		fmt.Printf("  iteration %d: %s\n", res.Iteration.Number, res.Iteration.Status)
	}
	for _, t := range res.Payments {
		fmt.Printf("  escrow: %s -> %s\n", t.From, t.To)
	}
	if res.Escrow != nil {
		fmt.Printf("  escrow %s: %d %s\n", res.Escrow.Status, res.Escrow.Amount, res.Escrow.Currency)
	}
	return nil
}

func printIterations(items []domain.Iteration) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Status", "Stage", "By", "Reviewer", "Notes"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.Number, it.Status, it.ReviewStage, it.SubmittedBy, deref(it.ReviewerID), it.Notes})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
