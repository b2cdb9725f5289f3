// Package backup dumps the database as SQL scripts and uploads them.
//
// Backups are requested with Trigger and performed by a single worker.
// Requests that arrive while a backup is pending collapse into it, so a burst
// of inserts produces one upload.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"news_bot/internal/metrics"
	"news_bot/internal/model"
)

// Source lists the tables to back up.
type Source interface {
	ListItems(ctx context.Context) ([]model.Item, error)
	ListSubscribers(ctx context.Context) ([]model.Subscriber, error)
	ListReactions(ctx context.Context) ([]model.Reaction, error)
}

// Worker performs backups in the background.
type Worker struct {
	src      Source
	uploader Uploader
	log      *slog.Logger
	pending  chan struct{}
	now      func() time.Time
}

// New creates a Worker.
func New(src Source, up Uploader, log *slog.Logger) *Worker {
	return &Worker{
		src:      src,
		uploader: up,
		log:      log,
		pending:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Trigger requests a backup without blocking.
func (w *Worker) Trigger() {
	select {
	case w.pending <- struct{}{}:
	default:
	}
}

// Run performs requested backups until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.pending:
			if err := w.Backup(ctx); err != nil {
				w.log.Error("backup", "error", err)
			}
		}
	}
}

// FileName returns the backup file name of table taken at t.
func FileName(table string, t time.Time) string {
	return fmt.Sprintf("%s_backup_%s.sql", table, t.UTC().Format("2006-01-02T15-04-05Z"))
}

// Backup dumps and uploads every table. A failing table does not stop the
// others.
func (w *Worker) Backup(ctx context.Context) (err error) {
	defer func() { metrics.ObserveBackup(err == nil) }()

	ts := w.now()
	tables := []struct {
		name string
		dump func() ([]byte, error)
	}{
		{"items", func() ([]byte, error) {
			items, err := w.src.ListItems(ctx)
			return DumpItems(items), err
		}},
		{"subscribers", func() ([]byte, error) {
			subs, err := w.src.ListSubscribers(ctx)
			return DumpSubscribers(subs), err
		}},
		{"reactions", func() ([]byte, error) {
			rs, err := w.src.ListReactions(ctx)
			return DumpReactions(rs), err
		}},
	}

	var errs []error
	for _, t := range tables {
		data, err := t.dump()
		if err != nil {
			errs = append(errs, fmt.Errorf("dump %s: %w", t.name, err))
			continue
		}
		name := FileName(t.name, ts)
		if err := w.uploader.Upload(ctx, name, data); err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", t.name, err))
			continue
		}
		w.log.Debug("table backed up", "table", t.name, "file", name, "bytes", len(data))
	}
	if len(errs) == 0 {
		w.log.Info("backup finished", "timestamp", ts.UTC().Format(time.RFC3339))
	}
	return errors.Join(errs...)
}
