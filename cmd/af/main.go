package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentfloor/internal/config"
	"agentfloor/internal/db"
	"agentfloor/internal/engine"
	"agentfloor/internal/migrate"
	"agentfloor/internal/repo"
	"agentfloor/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "af",
	Short: "Agentfloor CLI",
	Long: `Agentfloor turns AI agent activity into an office floor you can watch.
Core concepts:
- Company: one Dev App's roster of agents, each with a role (ba, developer, qa, ...).
- Event: a business event an agent reports (WORK_REQUEST, THINKING, TASK_COMPLETE, ...).
- Actions: the engine infers tokens like "BA-001:walk_to:DEV-001" from each event.
- Movements: pending walk animations between zones; the dashboard drives their progress.
- State: one polling endpoint with agents, pending movements, and role styling.
- Log: the append-only event diary, view with 'af company logs'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGENTFLOOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(movementCmd())
	rootCmd.AddCommand(rolesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func companyCmd() *cobra.Command {
	c := &cobra.Command{Use: "company", Short: "Manage companies"}
	c.AddCommand(companyCreateCmd())
	c.AddCommand(companyListCmd())
	c.AddCommand(companyShowCmd())
	c.AddCommand(companyDeleteCmd())
	c.AddCommand(companyStateCmd())
	c.AddCommand(companyLogsCmd())
	return c
}

func companyCreateCmd() *cobra.Command {
	var name, description string
	var agents []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a company",
		Long:  "Registers a company with its initial agents. Each --agent is agent_id:role or agent_id:role:name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CompanyCreateOptions{Name: name, Description: description}
			for _, spec := range agents {
				seed, err := parseAgentSpec(spec)
				if err != nil {
					return err
				}
				opts.Agents = append(opts.Agents, seed)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCompany(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "company name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringArrayVar(&agents, "agent", []string{}, "agent spec agent_id:role[:name] (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func companyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCompanies(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Agents", "Last Activity"})
				for _, item := range items {
					last := ""
					if item.LastActivity != nil {
						last = *item.LastActivity
					}
					tw.AppendRow(table.Row{item.Company.ID, item.Company.Name, item.AgentCount, last})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func companyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <company-id>",
		Short: "Show a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetCompany(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func companyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <company-id>",
		Short: "Delete a company and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteCompany(ctx, args[0])
			})
		},
	}
	return cmd
}

func companyStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <company-id>",
		Short: "Show the company floor state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				state, err := e.State(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(state)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Agent", "Role", "Status", "Zone", "Task"})
				for _, a := range state.Agents {
					task := ""
					if a.CurrentTask != nil {
						task = *a.CurrentTask
					}
					tw.AppendRow(table.Row{a.AgentID, a.Role, a.Status, a.PositionZone, task})
				}
				tw.Render()
				if len(state.PendingMovements) > 0 {
					mw := table.NewWriter()
					mw.SetOutputMirror(os.Stdout)
					mw.AppendHeader(table.Row{"Movement", "Agent", "From", "To", "Purpose", "Progress"})
					for _, m := range state.PendingMovements {
						mw.AppendRow(table.Row{m.ID, m.AgentID, m.FromZone, m.ToZone, m.Purpose, fmt.Sprintf("%.2f", m.Progress)})
					}
					mw.Render()
				}
				return nil
			})
		},
	}
	return cmd
}

func companyLogsCmd() *cobra.Command {
	var agentID, eventType string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "logs <company-id>",
		Short: "Show the activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				page, err := e.Logs(ctx, repo.EventFilters{
					CompanyID: args[0],
					AgentID:   agentID,
					EventType: eventType,
					Limit:     limit,
					Offset:    offset,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "From", "To", "Type", "Actions"})
				for _, evt := range page.Events {
					from, to := "", ""
					if evt.FromAgent != nil {
						from = *evt.FromAgent
					}
					if evt.ToAgent != nil {
						to = *evt.ToAgent
					}
					tw.AppendRow(table.Row{evt.Timestamp, from, to, evt.EventType, strings.Join(evt.InferredActions, ", ")})
				}
				tw.Render()
				fmt.Printf("total: %d, has_more: %v\n", page.Total, page.HasMore)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent filter (either side)")
	cmd.Flags().StringVar(&eventType, "type", "", "event type filter")
	cmd.Flags().IntVar(&limit, "limit", 100, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func agentCmd() *cobra.Command {
	a := &cobra.Command{Use: "agent", Short: "Manage agents"}
	a.AddCommand(agentAddCmd())
	a.AddCommand(agentListCmd())
	a.AddCommand(agentRemoveCmd())
	return a
}

func agentAddCmd() *cobra.Command {
	var companyID string
	var seed engine.AgentSeed
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an agent to a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, rc, err := e.CreateAgent(ctx, companyID, seed)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"agent": a, "role_config": rc})
			})
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id")
	cmd.Flags().StringVar(&seed.AgentID, "id", "", "agent id")
	cmd.Flags().StringVar(&seed.Name, "name", "", "display name (defaults to agent id)")
	cmd.Flags().StringVar(&seed.Role, "role", "", "role")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func agentListCmd() *cobra.Command {
	var companyID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetCompany(ctx, companyID); err != nil {
					return err
				}
				agents, err := r.ListAgents(ctx, companyID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Agent", "Name", "Role", "Status", "Zone"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.AgentID, a.Name, a.Role, a.Status, a.PositionZone})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func agentRemoveCmd() *cobra.Command {
	var companyID string
	cmd := &cobra.Command{
		Use:   "remove <agent-id>",
		Short: "Remove an agent (its events stay in the log)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAgent(ctx, companyID, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func eventCmd() *cobra.Command {
	evt := &cobra.Command{Use: "event", Short: "Ingest events"}
	evt.AddCommand(eventSendCmd())
	return evt
}

func eventSendCmd() *cobra.Command {
	var opts engine.EventIngestOptions
	var toAgent, payloadJSON string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a business event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if toAgent != "" {
				opts.ToAgent = &toAgent
			}
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &opts.Payload); err != nil {
					return fmt.Errorf("invalid payload JSON: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evt, err := e.IngestEvent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&opts.CompanyID, "company", "", "company id")
	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "acting agent id")
	cmd.Flags().StringVar(&opts.EventType, "type", "", "event type, e.g. WORK_REQUEST")
	cmd.Flags().StringVar(&toAgent, "to", "", "target agent id")
	cmd.Flags().StringVar(&payloadJSON, "payload-json", "", "payload JSON")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func movementCmd() *cobra.Command {
	m := &cobra.Command{Use: "movement", Short: "Drive movement animations"}
	m.AddCommand(movementProgressCmd())
	m.AddCommand(movementCompleteCmd())
	m.AddCommand(movementCleanupCmd())
	return m
}

func movementProgressCmd() *cobra.Command {
	var progress float64
	cmd := &cobra.Command{
		Use:   "progress <movement-id>",
		Short: "Report animation progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpdateMovementProgress(ctx, args[0], progress)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().Float64Var(&progress, "progress", 0, "progress in [0,1]")
	_ = cmd.MarkFlagRequired("progress")
	return cmd
}

func movementCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <movement-id>",
		Short: "Complete a movement and land the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CompleteMovement(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func movementCleanupCmd() *cobra.Command {
	var companyID string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed movements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				deleted, err := e.CleanupMovements(ctx, companyID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"deleted_count": deleted})
			})
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func rolesCmd() *cobra.Command {
	r := &cobra.Command{Use: "roles", Short: "Role styling"}
	r.AddCommand(rolesListCmd())
	return r
}

func rolesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List role configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRoleConfigs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Role", "Display Name", "Color", "Zone Color", "Default"})
				for _, rc := range items {
					tw.AppendRow(table.Row{rc.RoleID, rc.DisplayName, rc.Color, rc.ZoneColor, rc.IsDefault})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default agentfloor.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate agentfloor.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
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
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			conn, err := db.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if err := e.SeedRoles(cmd.Context()); err != nil {
				return err
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Agentfloor API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	if err := e.SeedRoles(ctx); err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAgentSpec parses agent_id:role or agent_id:role:name.
func parseAgentSpec(spec string) (engine.AgentSeed, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return engine.AgentSeed{}, fmt.Errorf("invalid agent spec %q, want agent_id:role[:name]", spec)
	}
	seed := engine.AgentSeed{AgentID: parts[0], Role: parts[1]}
	if len(parts) == 3 {
		seed.Name = parts[2]
	}
	return seed, nil
}
