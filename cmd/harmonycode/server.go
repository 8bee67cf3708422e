package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harmonycode/harmonycode/internal/config"
	"github.com/harmonycode/harmonycode/internal/diversity"
	"github.com/harmonycode/harmonycode/internal/events"
	"github.com/harmonycode/harmonycode/internal/hub"
	"github.com/harmonycode/harmonycode/internal/identity"
	"github.com/harmonycode/harmonycode/internal/locks"
	"github.com/harmonycode/harmonycode/internal/logging"
	"github.com/harmonycode/harmonycode/internal/orchestrator"
	"github.com/harmonycode/harmonycode/internal/perspective"
	"github.com/harmonycode/harmonycode/internal/workspace"
)

func newInitCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .harmonycode workspace with a default config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace.Open(flags.project)
			if err != nil {
				return err
			}
			if ws.Exists("config.json") {
				fmt.Fprintf(cmd.OutOrStdout(), "workspace already initialized at %s\n", ws.Root())
				return nil
			}
			if err := ws.WriteJSONAtomic("config.json", config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace at %s\n", ws.Root())
			return nil
		},
	}
}

func newServerCommand(flags *rootFlags) *cobra.Command {
	var (
		addr    string
		cfgPath string
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the collaboration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath == "" {
				cfgPath = workspace.ConfigPath(flags.project)
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("project") {
				cfg.Server.ProjectDir = flags.project
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if level, err := logging.ParseLevel(cfg.Server.LogLevel); err == nil && !cmd.Flags().Changed("log-level") {
				logging.SetLevel(level)
			}
			return runServer(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file path (default <project>/.harmonycode/config.json)")
	return cmd
}

func runServer(cmd *cobra.Command, cfg *config.Config) error {
	ws, err := workspace.Open(cfg.Server.ProjectDir)
	if err != nil {
		return err
	}

	bus := events.NewBus()

	lm := locks.NewManager(locks.Options{
		TTL:         cfg.LockTTL(),
		SweepPeriod: cfg.SweepPeriod(),
		Workspace:   ws,
		Bus:         bus,
	})
	lm.Start()
	defer lm.Stop()

	store := identity.NewStore(identity.Options{Workspace: ws})

	tracker := diversity.NewTracker(diversity.TrackerOptions{
		AutoRotate:         cfg.Diversity.AutoRotate,
		RotationInterval:   time.Duration(cfg.Diversity.RotationIntervalS) * time.Second,
		AgreementRateLimit: cfg.Diversity.AgreementRateLimit,
	})
	enforcer := diversity.NewEnforcer(diversity.EnforcerConfig{
		Enabled:           cfg.Diversity.Enabled,
		StrictMode:        cfg.Diversity.StrictMode,
		MinimumAgents:     cfg.Diversity.MinimumAgents,
		MinimumDiversity:  cfg.Diversity.MinimumDiversity,
		DisagreementQuota: cfg.Diversity.DisagreementQuota,
		EvidenceThreshold: cfg.Diversity.EvidenceThreshold,
	}, tracker, perspective.NewAnalyzer())

	engine, err := orchestrator.NewEngine(orchestrator.Options{
		Locks:       lm,
		Bus:         bus,
		Workspace:   ws,
		Enforcer:    enforcer,
		TaskTimeout: cfg.TaskTimeout(),
		Window:      cfg.ConflictWindow(),
		SwarmMode:   cfg.Tasks.SwarmMode,
	})
	if err != nil {
		return fmt.Errorf("restore orchestration state: %w", err)
	}
	defer engine.Close()

	h := hub.New(hub.Options{
		Identities: store,
		Engine:     engine,
		Enforcer:   enforcer,
		Bus:        bus,
		Server:     cfg.Server,
	})
	srv := hub.NewServer(h, cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go engine.RunSnapshots(ctx, cfg.SnapshotPeriod())
	return srv.Run(ctx)
}
