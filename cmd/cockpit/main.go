package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"cockpit/internal/app"
	"cockpit/internal/calendar"
	"cockpit/internal/config"
	"cockpit/internal/engine"
	"cockpit/internal/engine/auth"
	"cockpit/internal/logger"
	"cockpit/internal/repo"
	"cockpit/internal/server"
	cockpitsdk "cockpit/sdk/go"
)

// cfg is loaded once per invocation by the root pre-run hook.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cockpit",
	Short: "Campaign scheduling cockpit",
	Long: `cockpit runs the weekly campaign notebooks and serves their output.
- serve: HTTP API polled by the cockpit UI (status, runs, schedule, locked calendars).
- run/status: trigger and watch notebook runs on a running server.
- calendar/locked: inspect the schedule and manage locked calendars from local files.
- runs: run history recorded in the local database.
Settings come from cockpit.yml, COCKPIT_* variables and .env.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := loadDotEnv(workspace); err != nil {
			return err
		}
		loaded, err := loadConfig(viper.New(), workspace, viper.GetString("config"))
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding cockpit.yml")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/cockpit.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "", "API base URL (default http://<server.addr>)")
	rootCmd.PersistentFlags().String("token", "", "bearer token for mutating API calls")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(lockedCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}
			log, closer := logger.New(logger.Config{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				Dir:    cfg.Paths.LogDir,
				Quiet:  quiet,
			})
			defer closer.Close()
			slog.SetDefault(log)
			for _, missing := range cfg.MissingPaths() {
				log.Warn(missing)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := app.Open(ctx, cfg, nil, log, true)
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:       svc.Engine,
				Auth:         server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret, Logger: log},
				CORSOrigins:  cfg.Server.CORSOrigins,
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
				Logger:       log,
				LogFormat:    cfg.Log.Format,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("serving cockpit API", "addr", addr, "openapi", "/openapi.json", "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-server.StartWebhooks(gctx, svc.Engine, server.WebhookOptions{Logger: log})
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				shutdownErr := srv.Shutdown(sctx)
				if err := svc.Close(sctx); err != nil {
					log.Warn("shutdown", "err", err)
				}
				return shutdownErr
			})
			err = g.Wait()
			log.Info("cockpit API stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "log to the file only")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current run status of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			printStatus(os.Stdout, st)
			return nil
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	var mode, notebook string
	var week int
	var wait bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a notebook run on a running server",
		Long:  "Starts the notebook for --mode (full, partial or offer) or an explicit --notebook. A conflict means another run is in progress.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			ctx := cmd.Context()
			var (
				started cockpitsdk.RunStarted
				err     error
			)
			if mode == "full" && notebook == "" {
				started, err = c.RunFullEngine(ctx)
			} else {
				started, err = c.RunNotebook(ctx, cockpitsdk.RunOptions{Mode: mode, Notebook: notebook, WeekNumber: week})
			}
			if err != nil {
				if cockpitsdk.IsConflict(err) {
					return errors.New("a run is already in progress")
				}
				return err
			}
			if !wait {
				if viper.GetBool("json") {
					return printJSON(started)
				}
				fmt.Printf("Started %s (run %s)\n", firstNonEmpty(started.Notebook, cfg.Notebooks.Full), started.RunID)
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			st, err := c.Wait(wctx)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				if err := printJSON(st); err != nil {
					return err
				}
			} else {
				printStatus(os.Stdout, st)
			}
			if st.State == "error" {
				return errors.New(st.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "partial", "full, partial or offer")
	cmd.Flags().StringVar(&notebook, "notebook", "", "explicit notebook file name")
	cmd.Flags().IntVar(&week, "week", 0, "ISO week number (default current week)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the run is done")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Hour, "maximum time to wait")
	return cmd
}

func calendarCmd() *cobra.Command {
	c := &cobra.Command{Use: "calendar", Short: "Inspect the weekly schedule"}
	c.AddCommand(calendarShowCmd())
	return c
}

func calendarShowCmd() *cobra.Command {
	var week int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the normalized schedule from local files",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := engine.New(nil, cfg, nil, nil)
			view := e.Schedule(week)
			if viper.GetBool("json") {
				return printJSON(view)
			}
			for _, v := range view.ValidationErrors {
				fmt.Fprintln(os.Stderr, "invalid:", v)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			header := table.Row{"Slot"}
			for _, d := range calendar.Days {
				header = append(header, d)
			}
			tw.AppendHeader(header)
			for slot := 0; slot < calendar.SlotsPerDay; slot++ {
				row := table.Row{slot + 1}
				for _, d := range calendar.Days {
					row = append(row, cardTitle(view.WeeklyCalendar[d], slot))
				}
				tw.AppendRow(row)
			}
			tw.SetCaption("source: %s", view.Source)
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&week, "week", 0, "ISO week number (default canonical schedule)")
	return cmd
}

// cardTitle renders one schedule cell as "name vintage". Cells that do not
// decode as a wine fall back to their card title.
func cardTitle(slots []map[string]any, i int) string {
	if i >= len(slots) {
		return ""
	}
	item, ok, err := calendar.DecodeItem(slots[i])
	if err != nil {
		card, _ := slots[i]["card"].(calendar.Card)
		return card.Title
	}
	if !ok {
		return "-"
	}
	title := strings.TrimSpace(item.DisplayName() + " " + item.Vintage)
	if title == "" {
		title = item.ID
	}
	if item.Locked {
		return "🔒 " + title
	}
	return title
}

func lockedCmd() *cobra.Command {
	c := &cobra.Command{Use: "locked", Short: "Manage locked calendars"}
	c.AddCommand(lockedShowCmd())
	c.AddCommand(lockedImportCmd())
	return c
}

func lockedShowCmd() *cobra.Command {
	var week int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the locked calendar of a week",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := engine.New(nil, cfg, nil, nil)
			var w any
			if week > 0 {
				w = week
			}
			clamped, data := e.Locked(w)
			return printJSON(map[string]any{"week": clamped, "locked_calendar": data})
		},
	}
	cmd.Flags().IntVar(&week, "week", 0, "ISO week number (default current week)")
	return cmd
}

func lockedImportCmd() *cobra.Command {
	var week int
	var file, actor string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate and store a locked calendar from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(file)
			if err != nil {
				return err
			}
			var data any
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("invalid JSON: %w", err)
			}
			if m, ok := data.(map[string]any); ok {
				if inner, found := m["locked_calendar"]; found {
					data = inner
				}
			}
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				var w any
				if week > 0 {
					w = week
				}
				clamped, name, err := svc.Engine.SaveLocked(ctx, w, data, actor)
				if err != nil {
					var verr *calendar.ValidationError
					if errors.As(err, &verr) {
						for _, d := range verr.Details() {
							fmt.Fprintln(os.Stderr, "  "+d)
						}
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ok": true, "saved": name, "week": clamped})
				}
				fmt.Printf("Saved %s (week %d)\n", name, clamped)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&week, "week", 0, "ISO week number (default current week)")
	cmd.Flags().StringVar(&file, "file", "", "JSON file, - for stdin")
	cmd.Flags().StringVar(&actor, "actor-id", "cli", "operator recorded in the event log")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runsCmd() *cobra.Command {
	c := &cobra.Command{Use: "runs", Short: "Run history"}
	c.AddCommand(runsListCmd())
	return c
}

func runsListCmd() *cobra.Command {
	var n int
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				runs, err := svc.Engine.ListRuns(ctx, repo.RunFilters{State: state, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Notebook", "Mode", "Week", "State", "Started", "Finished"})
				for _, r := range runs {
					finished := ""
					if r.FinishedAt != nil {
						finished = *r.FinishedAt
					}
					tw.AppendRow(table.Row{r.ID, r.Notebook, r.Mode, r.Week, r.State, r.StartedAt, finished})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of runs")
	cmd.Flags().StringVar(&state, "state", "", "running, completed or error")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Configuration is read from cockpit.yml, then COCKPIT_* variables (COCKPIT_PATHS_OUTPUT_DIR and so on). AVU_SOURCE_PATH and AVU_OUTPUT_PATH are honored too.",
	}
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	c.AddCommand(configInitCmd())
	return c
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config and report missing data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			missing := cfg.MissingPaths()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": len(missing) == 0, "missing_paths": missing})
			}
			for _, m := range missing {
				fmt.Println(m)
			}
			if len(missing) > 0 {
				return errors.New("config references missing paths")
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default cockpit.yml",
		// The file may not exist or parse yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
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

func tokenCmd() *cobra.Command {
	c := &cobra.Command{Use: "token", Short: "Operator bearer tokens"}
	c.AddCommand(tokenMintCmd())
	c.AddCommand(tokenSecretCmd())
	return c
}

func tokenMintCmd() *cobra.Command {
	var subject string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a bearer token with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.Mint(cfg.Auth.JWTSecret, cfg.Auth.Issuer, subject, roles, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator id")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime, 0 for none")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func tokenSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-secret",
		Short: "Generate a JWT secret into <workspace>/.env",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			path := filepath.Join(viper.GetString("workspace"), ".env")
			if err := setEnvValue(path, envKey("auth.jwt_secret"), hex.EncodeToString(buf)); err != nil {
				return err
			}
			fmt.Println("wrote", envKey("auth.jwt_secret"), "to", path)
			return nil
		},
	}
	return cmd
}

// --- helpers ---

func client() *cockpitsdk.Client {
	base := viper.GetString("server")
	if base == "" {
		base = "http://" + cfg.Server.Addr
	}
	c := cockpitsdk.New(base)
	c.BearerToken = viper.GetString("token")
	return c
}

func withServices(ctx context.Context, fn func(context.Context, *app.Services) error) error {
	log, closer := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Quiet: true})
	defer closer.Close()
	svc, err := app.Open(ctx, cfg, nil, log, false)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)
	return fn(ctx, svc)
}

func printStatus(w io.Writer, st cockpitsdk.Status) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendRow(table.Row{"Notebook", st.Notebook})
	tw.AppendRow(table.Row{"State", st.State})
	tw.AppendRow(table.Row{"Progress", fmt.Sprintf("%d%%", st.Progress)})
	tw.AppendRow(table.Row{"Message", st.Message})
	tw.AppendRow(table.Row{"Updated", st.UpdatedAt})
	if st.RunID != "" {
		tw.AppendRow(table.Row{"Run", st.RunID})
	}
	if st.DurationSec != nil {
		tw.AppendRow(table.Row{"Duration", (time.Duration(*st.DurationSec * float64(time.Second))).Round(time.Second).String()})
	}
	tw.Render()
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
