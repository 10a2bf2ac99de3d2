package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lightupdev/lightup/internal/agent"
	"github.com/lightupdev/lightup/internal/api"
	"github.com/lightupdev/lightup/internal/config"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
	"github.com/lightupdev/lightup/internal/gitx"
)

// newServeCmd creates the serve command for the API server
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the lightup API server.

The server provides REST endpoints, SSE streaming, and per-card
websockets for:
  • Board and card management
  • Agent dispatch when cards move into todo
  • Live agent log and status streaming
  • Branch diff, merge, and conflict resolution

Example:
  lightup serve              # Start on the configured port (default 8080)
  lightup serve --port 3000  # Start on a custom port`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}
			return runServer(cfg)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "port to listen on")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFrom(cfgFile)
	}
	return config.Load()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// runServer wires the store, bus, dispatcher, queue, relay, and HTTP
// server together and runs them until SIGINT or SIGTERM.
func runServer(cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	// Seed ai_concurrency on first run; afterwards the API owns it.
	if current, err := store.GetSetting(db.SettingAiConcurrency); err == nil && current == "" {
		if err := store.SetSetting(db.SettingAiConcurrency, strconv.Itoa(cfg.Agent.Concurrency)); err != nil {
			return fmt.Errorf("seed concurrency setting: %w", err)
		}
	}

	bus := events.NewBus()
	defer bus.Close()

	client := agent.NewClient(cfg.Agent.RuntimeURL)
	dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
		Store:  store,
		Client: client,
		Bus:    bus,
		Logger: logger,
	})
	queue := agent.NewQueue(agent.QueueConfig{
		Store:      store,
		Dispatcher: dispatcher,
		Logger:     logger,
		Interval:   cfg.Agent.QueueInterval,
	})
	relay := agent.NewRelay(agent.RelayConfig{
		Store:  store,
		Client: client,
		Bus:    bus,
		Logger: logger,
	})
	git := gitx.NewService(gitx.ServiceConfig{
		Logger: logger,
		PRTool: cfg.Git.PRTool,
	})

	server := api.New(api.Config{
		Addr:       cfg.Addr(),
		Store:      store,
		Bus:        bus,
		Git:        git,
		Dispatcher: dispatcher,
		Logger:     logger,
		AuthToken:  cfg.Server.AuthToken,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting lightup on %s\n", cfg.Addr())
	fmt.Println("Press Ctrl+C to stop")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error { return queue.Run(ctx) })
	g.Go(func() error { return relay.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(config.LightupDir, config.ConfigFileName)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
}
