package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	goversion "github.com/caarlos0/go-version"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"refportal/internal/app"
	"refportal/internal/config"
	"refportal/internal/db"
	"refportal/internal/domain"
	"refportal/internal/engine"
	"refportal/internal/feed"
	"refportal/internal/logging"
	"refportal/internal/repo"
	"refportal/internal/session"
	"refportal/internal/workflow"
)

var (
	version = ""
	commit  = ""
	date    = ""
)

var rootCmd = &cobra.Command{
	Use:   "rp",
	Short: "Employee referral portal",
	Long: `rp manages an employee referral portal from the command line.
- Employees refer candidates to open jobs; one referral is created per job.
- HR moves referrals through submitted, screening, interview, offer, hired or rejected.
- Every status change is kept in an append-only history with the actor and an optional note.
- Workspace: the .refportal directory holding the database and stored resumes.
- Event log: audit trail of changes, view with 'rp log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		loadDotEnv(workspace)
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
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("REFPORTAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadDotEnv copies <workspace>/.env into the environment without
// overriding variables that are already set.
func loadDotEnv(workspace string) {
	envMap, err := godotenv.Read(filepath.Join(workspace, ".env"))
	if err != nil {
		return
	}
	for k, v := range envMap {
		if _, exists := os.LookupEnv(k); !exists {
			_ = os.Setenv(k, v)
		}
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "acting user (id, email or employee code)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	rootCmd.PersistentFlags().String("redis-url", "", "redis URL for cross-process change notifications")
	rootCmd.PersistentFlags().String("redis-channel", feed.DefaultChannel, "redis pub/sub channel")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("redis-url", rootCmd.PersistentFlags().Lookup("redis-url"))
	_ = viper.BindPFlag("redis-channel", rootCmd.PersistentFlags().Lookup("redis-channel"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(referralCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func initCmd() *cobra.Command {
	var in engine.ActorInput
	var portalName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace, config, session secret and first hr account",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(portalName)), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", cfgPath)
			}
			if err := ensureSecret(workspace); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if in.Email == "" {
					fmt.Println("workspace ready")
					return nil
				}
				n, err := e.Repo.CountActors(ctx, domain.RoleHR)
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("an hr account already exists; use 'rp actor create'")
				}
				if in.Password == "" {
					in.Password = os.Getenv("REFPORTAL_ADMIN_PASSWORD")
				}
				in.Role = domain.RoleHR
				a, err := e.RegisterActor(ctx, in, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("created hr account %s (%s)\n", a.EmployeeCode, a.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&portalName, "name", config.DefaultPortalName, "portal name")
	cmd.Flags().StringVar(&in.Email, "admin-email", "", "email of the first hr account")
	cmd.Flags().StringVar(&in.EmployeeCode, "admin-code", "", "employee code of the first hr account")
	cmd.Flags().StringVar(&in.Name, "admin-name", "", "name of the first hr account")
	cmd.Flags().StringVar(&in.Password, "admin-password", "", "password (or REFPORTAL_ADMIN_PASSWORD)")
	return cmd
}

// ensureSecret stores a random REFPORTAL_JWT_SECRET in <workspace>/.env
// unless one is configured.
func ensureSecret(workspace string) error {
	if viper.GetString("jwt-secret") != "" {
		return nil
	}
	path := filepath.Join(workspace, ".env")
	env, err := godotenv.Read(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if env == nil {
		env = map[string]string{}
	}
	if env["REFPORTAL_JWT_SECRET"] != "" {
		return nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	env["REFPORTAL_JWT_SECRET"] = hex.EncodeToString(buf)
	if err := godotenv.Write(env, path); err != nil {
		return err
	}
	fmt.Printf("wrote session secret to %s\n", path)
	return nil
}

func actorCmd() *cobra.Command {
	act := &cobra.Command{Use: "actor", Short: "Manage accounts (hr)"}
	act.AddCommand(actorCreateCmd())
	act.AddCommand(actorListCmd())
	return act
}

func actorCreateCmd() *cobra.Command {
	var in engine.ActorInput
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				in.Role = domain.Role(role)
				if in.Password == "" {
					in.Password = os.Getenv("REFPORTAL_ACTOR_PASSWORD")
				}
				a, err := e.CreateActor(ctx, s, in)
				if err != nil {
					return err
				}
				return printActors([]domain.Actor{a})
			})
		},
	}
	cmd.Flags().StringVar(&in.EmployeeCode, "code", "", "employee code")
	cmd.Flags().StringVar(&in.Name, "name", "", "full name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (or REFPORTAL_ACTOR_PASSWORD)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleEmployee), "employee or hr")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				items, err := e.ListActors(ctx, s, domain.Role(role))
				if err != nil {
					return err
				}
				return printActors(items)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Dashboard numbers over visible referrals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				sum, err := e.Summary(ctx, s)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRow(table.Row{"Total referrals", sum.Total})
				tw.AppendRow(table.Row{"Active jobs", sum.ActiveJobs})
				tw.AppendRow(table.Row{"In progress", sum.InProgress})
				tw.AppendRow(table.Row{"Hired", sum.Hired})
				tw.AppendSeparator()
				for _, st := range domain.Statuses {
					tw.AppendRow(table.Row{st.Label(), sum.StatusCounts[st]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect portal config",
		Long:  "Config is stored in the database: note and field limits, resume rules, session settings and webhooks. Import from refportal.yml when it changes.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := e.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config or a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				err = withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					return e.Config.Validate()
				})
			}
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
	cmd.Flags().StringVar(&file, "file", "", "YAML file to validate instead of the stored config")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace stored config from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				if err := e.ImportConfig(ctx, s, cfg); err != nil {
					return err
				}
				fmt.Printf("imported %s\n", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (default <workspace>/refportal.yml)")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events (hr)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				events, err := e.ListEvents(ctx, s, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildVersion(version, commit, date)
			if viper.GetBool("json") {
				out, err := info.JSONString()
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			}
			fmt.Println(info.String())
			return nil
		},
	}
}

func buildVersion(version, commit, date string) goversion.Info {
	return goversion.GetVersionInfo(
		goversion.WithAppDetails("rp", "Employee referral portal", ""),
		func(i *goversion.Info) {
			if commit != "" {
				i.GitCommit = commit
			}
			if version != "" {
				i.GitVersion = version
			}
			if date != "" {
				i.BuildDate = date
			}
		},
	)
}

// --- helpers ---

func newLogger() *zap.SugaredLogger {
	log, err := logging.New(viper.GetString("log-level"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
		return logging.Nop()
	}
	return log
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	log := newLogger()
	defer log.Sync()
	conn, e, err := app.Open(ctx, viper.GetString("workspace"), log)
	if err != nil {
		return err
	}
	defer conn.Close()
	if url := viper.GetString("redis-url"); url != "" {
		_, closeRelay, err := app.RelayChanges(ctx, &e, url, viper.GetString("redis-channel"), log.Named("feed"))
		if err != nil {
			return err
		}
		defer closeRelay()
	}
	return fn(ctx, e)
}

// withSession runs fn as the --actor account.
func withSession(ctx context.Context, fn func(context.Context, engine.Engine, session.Session) error) error {
	ref := strings.TrimSpace(viper.GetString("actor"))
	if ref == "" {
		return fmt.Errorf("--actor required (id, email or employee code)")
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		s, err := e.LocalSession(ctx, ref)
		if err != nil {
			return err
		}
		return fn(ctx, e, s)
	})
}

// exitCode maps domain errors to distinct exit statuses for scripts.
func exitCode(err error) int {
	switch {
	case workflow.IsValidation(err):
		return 2
	case errors.Is(err, workflow.ErrUnauthorized), errors.Is(err, session.ErrInvalidSession):
		return 3
	case errors.Is(err, repo.ErrNotFound):
		return 4
	case errors.Is(err, workflow.ErrNoOp), errors.Is(err, workflow.ErrMissingNote), errors.Is(err, repo.ErrConflict):
		return 5
	default:
		return 1
	}
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printActors(items []domain.Actor) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Code", "Name", "Email", "Role", "Active"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.EmployeeCode, a.Name, a.Email, a.Role, a.IsActive})
	}
	tw.Render()
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
