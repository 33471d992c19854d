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
	"golang.org/x/sync/errgroup"

	"nano-banana-studio/internal/config"
	"nano-banana-studio/internal/gateway"
	"nano-banana-studio/internal/gemini"
	"nano-banana-studio/internal/httpclient"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/web"
	"nano-banana-studio/internal/wizard"
)

func main() {
	cmd := &cobra.Command{
		Use:           "nano-banana-web",
		Short:         "Nano Banana Studio web server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{Flags: cmd.Flags()})
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

	gw, err := newGateway(ctx, cfg, httpClient, logger)
	if err != nil {
		return err
	}

	sessions := session.NewStore(session.Options{IdleTTL: cfg.SessionIdleTTL})
	wiz := wizard.New(wizard.Options{
		Generator:      gw,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr: cfg.WebAddr,
		Handler: web.New(web.Options{
			Generator:      gw,
			Wizard:         wiz,
			Sessions:       sessions,
			Logger:         logger,
			RequestTimeout: cfg.RequestTimeout,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("web started", "addr", cfg.WebAddr, "gemini", gw.Configured())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		sessions.Run(egCtx, time.Minute)
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// newGateway builds the generation gateway. Without an API key the server
// still starts and every generation reports a configuration error.
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
