package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nano-banana-studio/internal/config"
	"nano-banana-studio/internal/gateway"
	"nano-banana-studio/internal/gemini"
	"nano-banana-studio/internal/handlers"
	"nano-banana-studio/internal/httpclient"
	"nano-banana-studio/internal/mediagroup"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/telegram"
	"nano-banana-studio/internal/wizard"
)

func main() {
	cmd := &cobra.Command{
		Use:           "nano-banana-bot",
		Short:         "Nano Banana Studio Telegram bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{
				Flags:           cmd.Flags(),
				RequireTelegram: true,
			})
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := config.NewLogger(cfg)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
		Logger:     logger,
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}

	gw, err := newGateway(ctx, cfg, httpClient, logger)
	if err != nil {
		return err
	}

	sessions := session.NewStore(session.Options{IdleTTL: cfg.SessionIdleTTL})
	go sessions.Run(ctx, time.Minute)

	handler := handlers.New(handlers.Options{
		Telegram: tg,
		Wizard: wizard.New(wizard.Options{
			Generator:      gw,
			Logger:         logger,
			RequestTimeout: cfg.RequestTimeout,
		}),
		Sessions: sessions,
		Logger:   logger,
	})

	sem := make(chan struct{}, cfg.MaxConcurrent)
	onGroupFlush := func(group mediagroup.Group) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.RequestTimeout)
			defer cancel()

			handler.HandleMediaGroup(reqCtx, group)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush:  onGroupFlush,
	})
	handler.SetMediaGroupAggregator(aggregator)
	defer aggregator.Close()

	logger.Info("bot started", "username", tg.Username(), "gemini", gw.Configured())

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "pending_albums", aggregator.Pending())
			return nil
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return nil
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}

			go func() {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}()
		}
	}
}

// newGateway builds the generation gateway. Without an API key the bot still
// runs and every generation reports a configuration error.
func newGateway(ctx context.Context, cfg config.Config, httpClient *http.Client, logger *slog.Logger) (*gateway.Gateway, error) {
	opts := gateway.Options{Logger: logger}

	gem, err := gemini.New(ctx, gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		Model:      cfg.GeminiModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	switch {
	case errors.Is(err, gemini.ErrNoAPIKey):
		logger.Warn("GEMINI_API_KEY is not set; generation is disabled")
	case err != nil:
		return nil, fmt.Errorf("gemini client: %w", err)
	default:
		opts.Provider = gem
	}

	return gateway.New(opts), nil
}
