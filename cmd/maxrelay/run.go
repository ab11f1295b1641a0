package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"maxrelay/internal/channel"
	"maxrelay/internal/config"
	"maxrelay/internal/domain"
	"maxrelay/internal/max"
	"maxrelay/internal/metrics"
	"maxrelay/internal/relay"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile())
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	defer closeLog()
	if cfg.LegacyChatIDs != "" {
		log.Warn("CHAT_IDS is ignored; messages go to telegram.targetUserId only")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Max.WorkDir, 0o700); err != nil {
		return fmt.Errorf("work dir: %w", err)
	}
	sessions, err := max.OpenSessionStore(cfg.Max.WorkDir)
	if err != nil {
		return err
	}
	defer sessions.Close()

	tg, err := channel.NewTelegram(channel.TelegramConfig{
		Token:          cfg.Telegram.Token,
		APIEndpoint:    cfg.Telegram.APIEndpoint,
		Logger:         log.With("component", "telegram"),
		SendsPerMinute: cfg.Telegram.SendsPerMinute,
		SendBurst:      cfg.Telegram.SendBurst,
	})
	if err != nil {
		return err
	}

	client := max.NewClient(max.Config{
		URL:      cfg.Max.URL,
		Phone:    cfg.Max.Phone,
		Sessions: sessions,
		Logger:   log.With("component", "max"),
	})

	pipeline := relay.NewPipeline(relay.PipelineConfig{
		Directory: client,
		Resolver:  relay.NewResolver(client, log.With("component", "resolver")),
		Fetcher: relay.NewFetcher(relay.FetcherConfig{
			Timeout:  cfg.Relay.FetchTimeout,
			MaxBytes: cfg.Relay.MaxAttachmentBytes,
		}),
		Sink:      tg,
		Recipient: domain.Recipient(cfg.Telegram.TargetUserID),
		Logger:    log.With("component", "relay"),
	})
	dispatcher := relay.NewDispatcher(pipeline, relay.DispatcherConfig{
		Workers:   cfg.Relay.Workers,
		QueueSize: cfg.Relay.QueueSize,
		Logger:    log.With("component", "dispatcher"),
	})

	client.OnMessage(func(msg domain.InboundMessage) { dispatcher.Submit(msg) })
	client.OnStart(func() {
		log.Info("relay ready", "telegram_bot", tg.Username(), "telegram_target", cfg.Telegram.TargetUserID)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return tg.Listen(gctx) })

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Collector.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("maxrelay started. Press Ctrl+C to stop.", "version", version)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	select {
	case err := <-done:
		log.Info("shutdown complete")
		return err
	case <-time.After(shutdownTimeout):
		log.Warn("shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
}
