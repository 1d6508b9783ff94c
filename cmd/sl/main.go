package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"scriptline/internal/app"
	"scriptline/internal/config"
	"scriptline/internal/document"
	"scriptline/internal/domain"
	"scriptline/internal/engine"
	"scriptline/internal/logging"
	"scriptline/internal/server"
	"scriptline/internal/store"
	"scriptline/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "v0.1.0"

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Scriptline CLI",
	Long: `Scriptline moves script resources between environments as portable export documents.
Core concepts:
- Script: a named block of source lines with language and context metadata, identified by _id.
- Store: where live scripts are kept. Either the workspace database (.scriptline/scriptline.db) or a
  remote Scriptline service selected with --base-url / connection.base_url.
- Export document: {meta, entities} where entities maps every _id to its script. JSON or YAML.
- Import: writes every script of a document back by _id (create or replace). Failures are collected
  and reported together; successful writes are kept.
- Event log: audit trail of local writes, view with 'sl log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SCRIPTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", store.DefaultActor, "actor identifier")
	flags.String("base-url", "", "remote Scriptline service URL (overrides connection.base_url)")
	flags.String("api-key", "", "API key for the remote service")
	flags.String("bearer-token", "", "bearer token for the remote service")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "json", "actor-id", "base-url", "api-key", "bearer-token", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(scriptCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func scriptCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "script", Short: "Manage, export and import scripts"}
	cmd.AddCommand(scriptListCmd())
	cmd.AddCommand(scriptGetCmd())
	cmd.AddCommand(scriptCreateCmd())
	cmd.AddCommand(scriptPutCmd())
	cmd.AddCommand(scriptDeleteCmd())
	cmd.AddCommand(scriptExportCmd())
	cmd.AddCommand(scriptImportCmd())
	return cmd
}

func scriptListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.GetScripts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Language", "Context", "Default", "Lines"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.Language, it.Context, it.Default, len(it.Body)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func scriptGetCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show a script by id or --name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (name == "") {
				return fmt.Errorf("give either an id or --name")
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				var (
					out domain.Script
					err error
				)
				if name != "" {
					out, err = s.Engine.GetScriptByName(ctx, name)
				} else {
					out, err = s.Engine.GetScript(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "script name")
	return cmd
}

func scriptCreateCmd() *cobra.Command {
	var in domain.Script
	var bodyFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a script with a generated id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Name == "" {
				return fmt.Errorf("--name required")
			}
			if bodyFile != "" {
				lines, err := readLines(bodyFile)
				if err != nil {
					return err
				}
				in.Body = lines
			}
			in.ID = uuid.NewString()
			actor := viper.GetString("actor-id")
			now := time.Now().UnixMilli()
			in.CreatedBy, in.LastModifiedBy = actor, actor
			in.CreationDate, in.LastModifiedDate = now, now
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				out, err := s.Engine.PutScript(ctx, in.ID, in)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "script name")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Language, "language", "JAVASCRIPT", "script language")
	cmd.Flags().StringVar(&in.Context, "context", "", "script context")
	cmd.Flags().BoolVar(&in.Default, "default", false, "mark as default script")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "file holding the script source")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func scriptPutCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "put <id>",
		Short: "Create or replace a script from a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var in domain.Script
			// YAML is a superset of JSON, so one decoder serves both.
			if err := yaml.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("invalid script file %s: %w", file, err)
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				out, err := s.Engine.PutScript(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "script file (.json, .yaml)")
	return cmd
}

func scriptDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Engine.DeleteScript(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted script %s\n", args[0])
				return nil
			})
		},
	}
}

func scriptExportCmd() *cobra.Command {
	var id, name, out, format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export scripts into a document (all, --id or --name)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id != "" && name != "" {
				return fmt.Errorf("--id and --name are mutually exclusive")
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				var (
					doc domain.ScriptExport
					err error
				)
				switch {
				case id != "":
					doc, err = s.Engine.ExportScript(ctx, id)
				case name != "":
					doc, err = s.Engine.ExportScriptByName(ctx, name)
				default:
					doc, err = s.Engine.ExportScripts(ctx)
				}
				if err != nil {
					return err
				}
				if out == "" {
					return document.Encode(os.Stdout, doc, document.Format(format))
				}
				if err := document.WriteFile(out, doc); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "exported %d scripts to %s\n", len(doc.Entities), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "export only the script with this id")
	cmd.Flags().StringVar(&name, "name", "", "export only the script with this name")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file; format follows the extension")
	cmd.Flags().StringVar(&format, "format", string(document.JSON), "stdout format: json or yaml")
	return cmd
}

func scriptImportCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import an export document (optionally only scripts named --name)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := document.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				_, err := s.Engine.ImportScripts(ctx, name, doc)
				var partial *engine.PartialImportError
				if errors.As(err, &partial) && !viper.GetBool("json") {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stderr)
					tw.AppendHeader(table.Row{"ID", "Error"})
					for _, failed := range partial.Failed {
						tw.AppendRow(table.Row{failed, partial.Errors[failed].Error()})
					}
					tw.Render()
				}
				if err != nil {
					return err
				}
				fmt.Printf("imported %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "import only scripts with this name")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server over the workspace store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Remote() {
				return fmt.Errorf("serve works on the local workspace; unset connection.base_url")
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("SCRIPTLINE_JWT_SECRET"), Disabled: noAuth}
			if authCfg.JWTSecret == "" && !noAuth {
				return fmt.Errorf("SCRIPTLINE_JWT_SECRET is required for bearer auth")
			}
			logger := logging.New(cfg.Log, os.Stderr)
			return withConfiguredSession(cmd.Context(), cfg, logger, func(ctx context.Context, s *app.Session) error {
				handler, err := server.New(server.Config{
					Engine:   s.Engine,
					Repo:     s.Repo,
					BasePath: basePath,
					Auth:     authCfg,
					Metrics:  telemetry.NewMetrics(""),
					Logger:   logging.Component(logger, "server"),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				logger.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving Scriptline API")
				fmt.Printf("Serving Scriptline API on http://%s%s (OpenAPI at %s/openapi.json, docs at %s/docs, metrics at /metrics)\n", addr, basePath, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "disable authentication (local development only)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage service API keys"}
	cmd.AddCommand(apikeyCreateCmd(), apikeyListCmd(), apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withLocalSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				key, meta, err := s.Repo.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": meta.ID, "actor_id": meta.ActorID, "name": meta.Name, "key": key})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys (hashes are never shown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				keys, err := s.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := make([]map[string]any, 0, len(keys))
					for _, k := range keys {
						out = append(out, map[string]any{"id": k.ID, "actor_id": k.ActorID, "name": k.Name, "created_at": k.CreatedAt})
					}
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "only keys of this actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("api key %s not found", args[0])
					}
					return err
				}
				fmt.Printf("Deleted API key %s\n", args[0])
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var actor string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with SCRIPTLINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			token, err := server.IssueToken(os.Getenv("SCRIPTLINE_JWT_SECRET"), actor, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 for no expiry")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the workspace event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				events, err := s.Repo.LatestEvents(ctx, n, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage scriptline.yml"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default scriptline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault("")), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// --- helpers ---

// loadConfig reads scriptline.yml (defaults when absent) and applies flag and
// SCRIPTLINE_* env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"), "")
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("base-url"); v != "" {
		cfg.Connection.BaseURL = v
	}
	if v := viper.GetString("api-key"); v != "" {
		cfg.Connection.APIKey = v
	}
	if v := viper.GetString("bearer-token"); v != "" {
		cfg.Connection.BearerToken = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withConfiguredSession(ctx, cfg, logging.New(cfg.Log, os.Stderr), fn)
}

// withLocalSession refuses remote connections for commands that need the
// workspace database itself.
func withLocalSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	return withSession(ctx, func(ctx context.Context, s *app.Session) error {
		if s.Remote {
			return fmt.Errorf("this command needs the local workspace; unset connection.base_url")
		}
		return fn(ctx, s)
	})
}

func withConfiguredSession(ctx context.Context, cfg *config.Config, logger zerolog.Logger, fn func(context.Context, *app.Session) error) error {
	actor := viper.GetString("actor-id")
	s, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		ActorID:   actor,
		Version:   version,
		Config:    cfg,
		Logger:    &logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(store.WithActor(ctx, actor), s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(text, "\n"), nil
}
