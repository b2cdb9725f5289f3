package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"news_bot/internal/admin"
	"news_bot/internal/backup"
	"news_bot/internal/bot"
	"news_bot/internal/config"
	"news_bot/internal/dispatcher"
	"news_bot/internal/enrich"
	"news_bot/internal/fetcher"
	"news_bot/internal/geocode"
	"news_bot/internal/ingest"
	"news_bot/internal/metrics"
	"news_bot/internal/reactions"
	"news_bot/internal/scheduler"
	"news_bot/internal/storage"
	"news_bot/internal/transform"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("bot failed", "error", err)
		os.Exit(1)
	}
	log.Info("bot stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics.Init()

	if cfg.Database.Driver == config.DriverSQLite {
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
	}

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	client := &http.Client{}

	source, err := fetcher.New(client, cfg.Source.BaseURL, log,
		fetcher.WithLimiter(newLimiter(cfg.Source.RPS)),
		fetcher.WithTimeout(cfg.Source.Timeout),
	)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}

	var trOpts []transform.Option
	if cfg.Enrich.SummaryURL != "" {
		trOpts = append(trOpts, transform.WithSummarizer(enrich.New(client, cfg.Enrich.SummaryURL, cfg.Enrich.Timeout)))
	}
	if cfg.Enrich.FormatURL != "" {
		trOpts = append(trOpts, transform.WithReformatter(enrich.New(client, cfg.Enrich.FormatURL, cfg.Enrich.Timeout)))
	}
	pipeline := transform.New(log, trOpts...)

	rs := reactions.New(store)

	var botOpts []bot.Option
	if cfg.Geocoder.URL != "" {
		botOpts = append(botOpts, bot.WithGeocoder(geocode.New(client, cfg.Geocoder.URL, cfg.Geocoder.UserAgent)))
	}
	b, err := bot.New(cfg.TelegramBotToken, store, rs, log, botOpts...)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	disp := dispatcher.New(store, b, log,
		dispatcher.WithReactions(rs),
		dispatcher.WithLimiter(newLimiter(cfg.Send.RPS)),
		dispatcher.WithConcurrency(cfg.Send.Concurrency),
	)

	ingestOpts := []ingest.Option{
		ingest.WithConcurrency(cfg.Source.FetchConcurrency),
		ingest.WithPageDelay(cfg.Source.BackfillPageDelay),
	}
	var backups *backup.Worker
	if up := newUploader(cfg.Backup); up != nil {
		backups = backup.New(store, up, log)
		ingestOpts = append(ingestOpts, ingest.WithBackup(backups))
	} else {
		log.Info("backups disabled")
	}

	ctrl := ingest.New(store, source, pipeline, disp, log, ingestOpts...)
	b.EnableBackfill(ctrl, cfg.Admin.Users)

	sched := scheduler.New(ctrl, cfg.Source.PollSchedule, log)

	adm := admin.New(ctrl, cfg.Admin.APIKey, log)
	srv := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           adm.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("admin server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		adm.Close()
		return err
	})
	if backups != nil {
		g.Go(func() error {
			backups.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		b.Run(gctx)
		return nil
	})

	log.Info("starting bot", "driver", cfg.Database.Driver, "schedule", cfg.Source.PollSchedule)
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready", "error", err)
	}

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}

// newLimiter returns an unlimited limiter for a zero rate.
func newLimiter(rps float64) *rate.Limiter {
	if rps == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func newUploader(cfg config.Backup) backup.Uploader {
	switch {
	case cfg.WebDAVURL != "":
		return backup.NewWebDAV(cfg.WebDAVURL, cfg.WebDAVLogin, cfg.WebDAVToken)
	case cfg.Dir != "":
		return backup.NewDir(cfg.Dir)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
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
