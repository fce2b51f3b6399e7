package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/minstrel/pkg/attachment"
	"github.com/go-go-golems/minstrel/pkg/chatstore"
	"github.com/go-go-golems/minstrel/pkg/config"
	"github.com/go-go-golems/minstrel/pkg/conversation"
	"github.com/go-go-golems/minstrel/pkg/engine"
	"github.com/go-go-golems/minstrel/pkg/webchat"
)

var (
	flagAddr     string
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "minstrel",
	Short: "Serve a multi-session streaming chat bridge over WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagAddr != "" {
			cfg.Addr = flagAddr
		}
		if flagLogLevel != "" {
			cfg.LogLevel = flagLogLevel
		}
		if err := setupLogging(cfg.LogLevel); err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address (overrides config)")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: trace, debug, info, warn, error")
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	eng, err := engine.NewOpenAIEngine(cfg.BackendBaseURL, cfg.BackendAPIKey, cfg.Model)
	if err != nil {
		return errors.Wrap(err, "build backend engine")
	}
	catalog := engine.NewCatalog(cfg.BackendBaseURL, cfg.BackendAPIKey, cfg.ModelCacheTTL)
	switcher := engine.NewSwitcher(cfg.Model)
	reg := conversation.NewRegistry()

	if cfg.StoreDSN != "" {
		store, err := chatstore.NewSQLiteStore(cfg.StoreDSN)
		if err != nil {
			return errors.Wrap(err, "open chat store")
		}
		defer func() { _ = store.Close() }()

		sessions, err := store.LoadSessions(ctx)
		if err != nil {
			return errors.Wrap(err, "load stored sessions")
		}
		for _, sess := range sessions {
			if err := reg.Restore(sess); err != nil {
				log.Warn().Err(err).Str("session_id", sess.ID).Msg("skipping unrestorable session")
			}
		}
		log.Info().Int("sessions", len(sessions)).Str("dsn", cfg.StoreDSN).Msg("restored chat sessions")

		reg.OnChange(func(sess conversation.Session) {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.SaveSession(saveCtx, sess); err != nil {
				log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to archive session")
			}
		})
		reg.OnDelete(func(sessionID string) {
			delCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.DeleteSession(delCtx, sessionID); err != nil {
				log.Error().Err(err).Str("session_id", sessionID).Msg("failed to remove archived session")
			}
		})
	}

	srv, err := webchat.NewServer(ctx, webchat.Options{
		Addr:     cfg.Addr,
		Engine:   eng,
		Catalog:  catalog,
		Switcher: switcher,
		Registry: reg,
		Limits: attachment.Limits{
			MaxImageBytes: cfg.MaxImageBytes,
			MaxAudioBytes: cfg.MaxAudioBytes,
			MaxTextBytes:  cfg.MaxTextBytes,
		},
		DeltaBuffer: cfg.DeltaBuffer,
	})
	if err != nil {
		return errors.Wrap(err, "build server")
	}
	return srv.Run(ctx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("minstrel exited with error")
		os.Exit(1)
	}
}
