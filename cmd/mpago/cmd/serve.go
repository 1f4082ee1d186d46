package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mpago/mpago/internal/audit"
	"github.com/mpago/mpago/internal/reaper"
	"github.com/mpago/mpago/internal/topic"
	"github.com/mpago/mpago/internal/topicwatch"
)

var serveTopics []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host one or more topics for manual testing",
	Long: `serve creates the named topics under the configured root, wires up
the optional join-audit store and stale-slot reaper, and logs client
connects, disconnects and control commands until interrupted.

This is a manual-testing harness, not a production daemon: real producers
are expected to call into the topic package directly rather than shell out
to this process.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringSliceVar(&serveTopics, "topic", []string{"demo"}, "topic name to create (repeatable)")
	serveCmd.Flags().Bool("control", false, "enable the control FIFO on every created topic")
	viper.BindPFlag("serve.control", serveCmd.Flags().Lookup("control"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Topic.Root, 0o755); err != nil {
		return fmt.Errorf("creating topic root: %w", err)
	}

	registry := topic.NewRegistry(cfg.Topic, logger)

	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.DSN, logger)
		if err != nil {
			return fmt.Errorf("opening audit store: %w", err)
		}
		defer store.Close()
		registry.SetAuditStore(store)
		logger.Info("join audit enabled", slog.String("dsn", cfg.Audit.DSN))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var topics []*topic.Topic
	for _, name := range serveTopics {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t, err := registry.Create(ctx, name, topic.CreateOptions{
			Type:           "text",
			ServerName:     "mpago-serve",
			ControlEnabled: viper.GetBool("serve.control"),
			AuditJoins:     cfg.Audit.Enabled,
		})
		if err != nil {
			return fmt.Errorf("creating topic %q: %w", name, err)
		}
		t.Info().SetAvailableCommands("reset")
		if err := t.UpdateInfo(); err != nil {
			logger.Warn("failed to write initial info document", slog.String("topic", name), slog.String("error", err.Error()))
		}
		t.OnConnect(func(tp *topic.Topic, s *topic.Slot) {
			logger.Info("client connected", slog.String("topic", tp.Name()), slog.String("assigned_name", s.AssignedName()))
		})
		t.OnDisconnect(func(tp *topic.Topic, s *topic.Slot) {
			logger.Info("client disconnected", slog.String("topic", tp.Name()), slog.String("assigned_name", s.AssignedName()))
		})
		t.OnControl(func(tp *topic.Topic, command []byte) {
			logger.Info("control command received", slog.String("topic", tp.Name()), slog.String("command", string(command)))
		})
		topics = append(topics, t)
		logger.Info("topic hosted", slog.String("name", name), slog.String("dir", t.Dir()))
	}

	watcher, err := topicwatch.WatchRoot(ctx, cfg.Topic.Root, logger, func(name string) {
		logger.Debug("topic root watch event", slog.String("path", name))
	})
	if err != nil {
		logger.Warn("failed to start topic root watcher", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()
	}

	if cfg.Reaper.Enabled {
		r, err := reaper.New(registry, cfg.Reaper.Schedule, cfg.Reaper.GracePeriod.Duration(), logger)
		if err != nil {
			return fmt.Errorf("starting reaper: %w", err)
		}
		r.Start()
		defer r.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("mpago serve ready", slog.Int("topics", len(topics)), slog.String("root", cfg.Topic.Root))

	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	cancel()
	registry.CloseAll()
	return nil
}
