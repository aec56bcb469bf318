// Package main runs one reminder pass and prints the summary as JSON.
// It is meant for cron hosts that prefer a process to an HTTP trigger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/selah/selah/internal/cache"
	"github.com/selah/selah/internal/config"
	"github.com/selah/selah/internal/logging"
	"github.com/selah/selah/internal/mail"
	"github.com/selah/selah/internal/metrics"
	"github.com/selah/selah/internal/reminder"
	"github.com/selah/selah/internal/repository"
)

// exitError carries a process exit code out of RunE.
type exitError struct{ code int }

func (e exitError) Error() string { return "reminder run failed" }

func newRootCmd() *cobra.Command {
	var (
		timeout time.Duration
		noLock  bool
	)

	cmd := &cobra.Command{
		Use:   "selah-remind",
		Short: "Send daily check-in reminders",
		Long: `Run one reminder pass over every active experiment and print the
summary as JSON on stdout. Logs are written to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("failed to load config", "error", err)
				return exitError{code: 1}
			}

			logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if code := run(ctx, cfg, noLock, cmd.OutOrStdout(), logger); code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum duration of the run")
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "skip the Redis run lock")
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		slog.Error("command failed", "error", err)
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg *config.Config, noLock bool, out io.Writer, logger *slog.Logger) int {
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("error", logging.SanitizeError(err, cfg.DatabaseURL)),
		)
		return 1
	}
	defer repo.Close()

	var locker reminder.Locker
	if !noLock {
		cacheClient, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to Redis",
				slog.String("error", logging.SanitizeError(err, cfg.RedisURL)),
			)
			return 1
		}
		defer cacheClient.Close()
		locker = cacheClient
	}

	sender, err := mail.New(mail.Config{
		Provider: cfg.MailProvider,
		APIURL:   cfg.MailAPIURL,
		APIKey:   cfg.MailAPIKey,
		From:     cfg.MailFrom,
	}, logger)
	if err != nil {
		logger.Error("failed to configure mail", "error", err)
		return 1
	}

	scheduler := reminder.NewScheduler(reminder.Config{
		Store:   repo,
		Sender:  sender,
		Signer:  reminder.NewLinkSigner(cfg.PauseLinkSecret(), cfg.PauseLinkTTL),
		Locker:  locker,
		BaseURL: cfg.BaseURL,
		LockTTL: cfg.ReminderLockTTL,
		Logger:  logger,
		Metrics: metrics.NewNoop(),
	})

	summary, err := scheduler.Run(ctx)
	if err != nil {
		if errors.Is(err, reminder.ErrRunInProgress) {
			logger.Warn("another reminder run holds the lock")
			return 0
		}
		logger.Error("reminder run failed", "error", err)
		return 1
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		logger.Error("failed to write summary", "error", err)
		return 1
	}
	return 0
}
