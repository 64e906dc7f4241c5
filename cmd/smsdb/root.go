// ABOUTME: Root cobra command and the shared config/store/service wiring for subcommands
// ABOUTME: Each subcommand opens the store from config and closes it when done

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/2389/smsdb/internal/config"
	"github.com/2389/smsdb/internal/events"
	"github.com/2389/smsdb/internal/pager"
	"github.com/2389/smsdb/internal/smsdb"
	"github.com/2389/smsdb/internal/store"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smsdb",
		Short: "Embedded SMS message store",
		Long: `smsdb stores sent and received SMS messages in a local database
and lets you look them up, mark them read and page through filtered lists.

Configuration is read from --config, $SMSDB_CONFIG or
$XDG_CONFIG_HOME/smsdb/config.yaml, falling back to built-in defaults.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "path to config file (YAML or TOML)")
	cmd.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newInitCmd(),
		newSaveCmd(),
		newReceiveCmd(),
		newSendCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newMarkReadCmd(),
		newListCmd(),
		newStatsCmd(),
		newVersionCmd(),
	)

	return cmd
}

// app holds everything a subcommand needs.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.Store
	broadcaster *events.Broadcaster
	svc         *smsdb.Service
	eventsDone  <-chan struct{}
}

// openApp loads config, sets up logging and opens the store.
func openApp(cmd *cobra.Command) (*app, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("getting config flag: %w", err)
	}
	cfg, err := config.Find(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())

	st, err := store.Open(cmd.Context(), store.Options{
		Backend:     cfg.Database.Backend,
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	broadcaster := events.NewBroadcaster(logger)
	eventsDone := logEvents(cmd.Context(), logger, broadcaster)

	svc := smsdb.New(st, broadcaster, smsdb.Options{
		MSISDN: cfg.Device.MSISDN,
		Lists: pager.Options{
			TTL:      cfg.Lists.TTL,
			MaxLists: cfg.Lists.MaxLists,
		},
		Logger: logger,
	})

	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		broadcaster: broadcaster,
		svc:         svc,
		eventsDone:  eventsDone,
	}, nil
}

// logEvents logs every store change at debug level until the broadcaster
// closes. The returned channel closes once the logger has drained.
func logEvents(ctx context.Context, logger *slog.Logger, b *events.Broadcaster) <-chan struct{} {
	done := make(chan struct{})
	if !logger.Enabled(ctx, slog.LevelDebug) {
		close(done)
		return done
	}

	ch, _ := b.Subscribe(ctx, "")
	go func() {
		defer close(done)
		for ev := range ch {
			logger.Debug("message event",
				"type", ev.Type,
				"message_id", ev.MessageID,
				"sender", ev.Sender,
				"receiver", ev.Receiver,
				"read", ev.Read)
		}
	}()
	return done
}

func (a *app) Close() {
	a.svc.Close()
	a.broadcaster.Close()
	<-a.eventsDone
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

// withApp wraps a command body with openApp and Close.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}
