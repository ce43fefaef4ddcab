// miniprobe: lightweight host probe and session-sample store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/vesaa/miniprobe/internal/agent"
	"github.com/vesaa/miniprobe/internal/config"
	"github.com/vesaa/miniprobe/internal/logging"
	"github.com/vesaa/miniprobe/internal/reaper"
	"github.com/vesaa/miniprobe/internal/server"
	"github.com/vesaa/miniprobe/internal/store"
	"go.uber.org/zap"
)

const banner = `
           _       _                 _
 _ __ ___ (_)_ __ (_)_ __  _ __ ___ | |__   ___
| '_ ` + "`" + ` _ \| | '_ \| | '_ \| '__/ _ \| '_ \ / _ \
| | | | | | | | | | | |_) | | | (_) | |_) |  __/
|_| |_| |_|_|_| |_|_| .__/|_|  \___/|_.__/ \___|
                    |_|
`

const version = "v0.1.0"

func printBanner(w io.Writer, mode string) {
	fmt.Fprint(w, banner)
	fmt.Fprintf(w, "\n  ► miniprobe %s  |  Mode: %s\n\n", version, mode)
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "miniprobe",
		Short: "miniprobe: lightweight host probe and session-sample store",
		Long: `miniprobe collects CPU, memory and network samples from probe agents
and keeps them per session in SQLite. One binary runs the server, the agent
and the admin commands.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Config file (default ./config.yaml or ~/.miniprobe/config.yaml)")

	root.AddCommand(newServerCmd(), newAgentCmd(), newAdminCmd(), newReapCmd(), newVersionCmd())
	return root
}

// ── shared setup ──────────────────────────────────────────────────────────────

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openStore(cfg *config.Config, log *zap.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.DBDriver, cfg.DBPath, store.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return st, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ── server ────────────────────────────────────────────────────────────────────

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the miniprobe server (data plane + control plane)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner(cmd.OutOrStdout(), "SERVER")

			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			st, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			srv := server.New(st, server.Options{
				JWTSecret:      cfg.JWTSecret,
				AdminUser:      cfg.AdminUser,
				AdminPass:      cfg.AdminPass,
				ScrapeInterval: cfg.ScrapeInterval,
			}, log)

			ctx, stop := signalContext()
			defer stop()

			r := reaper.New(st, cfg.ReaperGraceDuration(), log)
			r.OnDelete = srv.ForgetSession
			if err := r.Start(ctx, cfg.ReaperSchedule); err != nil {
				return err
			}
			defer r.Stop()

			gin.SetMode(gin.ReleaseMode)

			// ── Control-plane engine ───────────────────────────────────────────
			ctrlEngine := gin.New()
			ctrlEngine.Use(gin.Recovery(), server.RequestLogger(log))
			srv.RegisterControlRoutes(ctrlEngine)

			// ── Data-plane engine ──────────────────────────────────────────────
			dataEngine := gin.New()
			dataEngine.Use(gin.Recovery(), server.RequestLogger(log))
			srv.RegisterDataRoutes(dataEngine)

			ctrlAddr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ControlPort)
			dataAddr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.DataPort)

			fmt.Printf("  ✓ Control plane (JWT API)        → http://%s\n", ctrlAddr)
			fmt.Printf("  ✓ Data    plane (agent sessions) → http://%s\n", dataAddr)
			fmt.Printf("  ✓ Database: %s\n\n", cfg.DBPath)

			ctrlSrv := &http.Server{Addr: ctrlAddr, Handler: ctrlEngine, ReadHeaderTimeout: 10 * time.Second}
			dataSrv := &http.Server{Addr: dataAddr, Handler: dataEngine, ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 2)
			go func() { errCh <- ctrlSrv.ListenAndServe() }()
			go func() { errCh <- dataSrv.ListenAndServe() }()

			var runErr error
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					runErr = err
				}
			case <-ctx.Done():
				log.Info("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ctrlSrv.Shutdown(shutdownCtx)
			_ = dataSrv.Shutdown(shutdownCtx)
			return runErr
		},
	}
}

// ── agent ─────────────────────────────────────────────────────────────────────

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the miniprobe agent on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner(cmd.OutOrStdout(), "AGENT")

			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			// CLI flags override config values.
			if addr, _ := cmd.Flags().GetString("server"); addr != "" {
				if !containsPort(addr) {
					addr = fmt.Sprintf("%s:%d", addr, cfg.DataPort)
				}
				cfg.AgentServerAddr = addr
			}
			if token, _ := cmd.Flags().GetString("token"); token != "" {
				cfg.AgentToken = token
			}
			if iface, _ := cmd.Flags().GetString("iface"); iface != "" {
				cfg.AgentInterface = iface
			}
			if cmd.Flags().Changed("tls") {
				cfg.AgentTLS, _ = cmd.Flags().GetBool("tls")
			}

			ctx, stop := signalContext()
			defer stop()
			return agent.Run(ctx, cfg, log)
		},
	}
	cmd.Flags().String("server", "", "Data-plane address, e.g. 192.168.1.1 or 192.168.1.1:8000")
	cmd.Flags().String("token", "", "Client token issued by 'miniprobe admin client add' (overrides config)")
	cmd.Flags().String("iface", "", "Network interface to report (default: first active non-loopback)")
	cmd.Flags().Bool("tls", false, "Use https to reach the server")
	return cmd
}

// ── admin ─────────────────────────────────────────────────────────────────────

func newAdminCmd() *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands against the server database",
	}
	client := &cobra.Command{
		Use:   "client",
		Short: "Manage probe clients",
	}

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) error) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer log.Sync()
		st, err := openStore(cfg, log)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(cmd.Context(), st)
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List clients",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				clients, err := st.ListClients(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCREATED")
				for _, c := range clients {
					fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, c.Name, c.CreatedAt.Local().Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}

	add := &cobra.Command{
		Use:     "add <name>",
		Aliases: []string{"a"},
		Short:   "Create a client and print its token (shown only once)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				c, token, err := st.CreateClient(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Client %d (%s) created.\nToken: %s\n", c.ID, c.Name, token)
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a client; its sessions are kept without an owner",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.DeleteClient(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Client %d removed.\n", id)
				return nil
			})
		},
	}

	rename := &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.RenameClient(ctx, id, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Client %d renamed to %s.\n", id, args[1])
				return nil
			})
		},
	}

	client.AddCommand(list, add, remove, rename)
	admin.AddCommand(client)
	return admin
}

// ── reap ──────────────────────────────────────────────────────────────────────

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete stale sessions once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()
			st, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			r := reaper.New(st, cfg.ReaperGraceDuration(), log)
			n, err := r.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale session(s) (last active before %s).\n",
				n, r.Cutoff().Local().Format(time.DateTime))
			return nil
		},
	}
}

// ── version ───────────────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print miniprobe version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "miniprobe %s\n", version)
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// containsPort checks whether addr already has a port suffix.
func containsPort(addr string) bool {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return true
		}
		if addr[i] == '/' || addr[i] == ']' {
			break
		}
	}
	return false
}
