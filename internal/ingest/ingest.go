// Package ingest drives the fetch, transform, persist and notify loop for
// live polling and historical backfill.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"news_bot/internal/dispatcher"
	"news_bot/internal/fetcher"
	"news_bot/internal/filter"
	"news_bot/internal/metrics"
	"news_bot/internal/model"
	"news_bot/internal/storage"
	"news_bot/internal/transform"
)

// Default backfill page range.
const (
	DefaultBackfillStart = 1
	DefaultBackfillEnd   = 163
)

// Message fragments of a live notification.
const (
	liveHeader   = "🔔 Новая новость!\n\n"
	aiNote       = "\n\n💡 Текст сокращён нейросетью"
	sourceFooter = "\n\n📎 Новость на оф.сайте: "
)

var (
	// ErrBackfillRunning is returned when a backfill is already in progress.
	ErrBackfillRunning = errors.New("backfill already running")
	// ErrInvalidRange is returned for an empty or non-positive page range.
	ErrInvalidRange = errors.New("invalid page range")
)

// Source lists and downloads items.
type Source interface {
	ListPage(ctx context.Context, page int) (iter.Seq[fetcher.Candidate], error)
	Detail(ctx context.Context, link string) (fetcher.Detail, error)
}

// Transformer produces the stored and sent text of an item.
type Transformer interface {
	Process(ctx context.Context, title string, d fetcher.Detail) transform.Result
}

// Notifier fans a live item out to subscribers.
type Notifier interface {
	Dispatch(ctx context.Context, n dispatcher.Notification) (dispatcher.Result, error)
}

// BackupTrigger schedules a backup without waiting for it.
type BackupTrigger interface {
	Trigger()
}

// Stats summarizes one pass.
type Stats struct {
	Pages      int
	Candidates int
	Stored     int
	Duplicates int
	Failed     int
}

// Controller runs ingestion passes.
type Controller struct {
	store       storage.Storage
	source      Source
	transform   Transformer
	notifier    Notifier
	backup      BackupTrigger
	concurrency int
	pageDelay   time.Duration
	log         *slog.Logger

	backfilling atomic.Bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithBackup triggers b after every live insert.
func WithBackup(b BackupTrigger) Option {
	return func(c *Controller) { c.backup = b }
}

// WithConcurrency bounds parallel detail fetches within a page.
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithPageDelay sets the pause between backfill pages.
func WithPageDelay(d time.Duration) Option {
	return func(c *Controller) { c.pageDelay = d }
}

// New creates a Controller.
func New(store storage.Storage, source Source, tr Transformer, notifier Notifier, log *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		source:      source,
		transform:   tr,
		notifier:    notifier,
		concurrency: 4,
		pageDelay:   time.Second,
		log:         log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Poll ingests new items from the root listing and notifies subscribers
// about each one.
func (c *Controller) Poll(ctx context.Context) (Stats, error) {
	log := c.log.With("pass_id", uuid.NewString(), "mode", "live")
	start := time.Now()
	defer func() { metrics.ObservePass("live", time.Since(start)) }()

	cands, err := c.source.ListPage(ctx, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("list root page: %w", err)
	}

	stats := Stats{Pages: 1}
	c.processPage(ctx, log, cands, true, &stats)
	if stats.Stored > 0 || stats.Failed > 0 {
		log.Info("poll finished", "candidates", stats.Candidates, "stored", stats.Stored, "failed", stats.Failed)
	} else {
		log.Debug("poll finished", "candidates", stats.Candidates)
	}
	return stats, nil
}

// Backfill ingests listing pages start through end without notifying
// anyone. Pages are fetched one at a time with a pause in between; a page
// that fails to load is skipped.
func (c *Controller) Backfill(ctx context.Context, start, end int) (Stats, error) {
	if start < 1 || end < start {
		return Stats{}, fmt.Errorf("%w: %d..%d", ErrInvalidRange, start, end)
	}
	if !c.backfilling.CompareAndSwap(false, true) {
		return Stats{}, ErrBackfillRunning
	}
	defer c.backfilling.Store(false)

	log := c.log.With("pass_id", uuid.NewString(), "mode", "backfill")
	began := time.Now()
	defer func() { metrics.ObservePass("backfill", time.Since(began)) }()

	log.Info("backfill started", "start", start, "end", end)

	var stats Stats
	for page := start; page <= end; page++ {
		if page > start {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(c.pageDelay):
			}
		}

		cands, err := c.source.ListPage(ctx, page)
		if err != nil {
			log.Error("list page", "page", page, "error", err)
			continue
		}
		stats.Pages++
		c.processPage(ctx, log.With("page", page), cands, false, &stats)
	}

	log.Info("backfill finished", "pages", stats.Pages, "stored", stats.Stored, "failed", stats.Failed)
	return stats, nil
}

// Backfilling reports whether a backfill is in progress.
func (c *Controller) Backfilling() bool {
	return c.backfilling.Load()
}

type prepared struct {
	cand   fetcher.Candidate
	result transform.Result
}

func (c *Controller) processPage(ctx context.Context, log *slog.Logger, cands iter.Seq[fetcher.Candidate], live bool, stats *Stats) {
	var fresh []fetcher.Candidate
	for cand := range cands {
		stats.Candidates++
		_, err := c.store.GetItemByExternalID(ctx, cand.ExternalID)
		switch {
		case err == nil:
			continue
		case errors.Is(err, storage.ErrNotFound):
			fresh = append(fresh, cand)
		default:
			log.Error("check existing item", "external_id", cand.ExternalID, "error", err)
			stats.Failed++
		}
	}
	if len(fresh) == 0 {
		return
	}

	items := make([]prepared, len(fresh))
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, cand := range fresh {
		g.Go(func() error {
			d, err := c.source.Detail(ctx, cand.Link)
			if err != nil {
				log.Warn("fetch detail, storing without body", "external_id", cand.ExternalID, "error", err)
				d = fetcher.Detail{}
			}
			items[i] = prepared{cand: cand, result: c.transform.Process(ctx, cand.Title, d)}
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range items {
		c.persist(ctx, log, p, live, stats)
	}
}

func (c *Controller) persist(ctx context.Context, log *slog.Logger, p prepared, live bool, stats *Stats) {
	item := model.Item{
		ExternalID:    p.cand.ExternalID,
		Title:         p.cand.Title,
		SourceLink:    p.cand.Link,
		Body:          p.result.Body(),
		PublishedDate: p.cand.PublishedDate,
	}

	if err := c.store.InsertItem(ctx, &item); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			metrics.ObserveDuplicate()
			stats.Duplicates++
			return
		}
		log.Error("insert item", "external_id", item.ExternalID, "error", err)
		stats.Failed++
		return
	}
	stats.Stored++

	mode := "backfill"
	if live {
		mode = "live"
	}
	metrics.ObserveIngested(mode)
	log.Debug("item stored", "item_id", item.ID, "external_id", item.ExternalID, "utility", p.result.Utility)

	if !live {
		return
	}

	if c.backup != nil {
		c.backup.Trigger()
	}

	category := filter.Categorize(item.Title)
	res, err := c.notifier.Dispatch(ctx, dispatcher.Notification{
		Text:     LiveMessage(item.Title, item.SourceLink, p.result),
		Images:   p.result.Images,
		Category: category,
		ItemID:   item.ID,
	})
	if err != nil {
		log.Error("dispatch", "item_id", item.ID, "error", err)
		return
	}
	log.Info("item notified", "item_id", item.ID, "category", category, "sent", res.Sent, "total", res.Total)
}

// LiveMessage renders the notification text of a newly ingested item.
func LiveMessage(title, link string, r transform.Result) string {
	msg := liveHeader + title + "\n\n" + r.Text
	if r.WasShortened {
		msg += aiNote
	}
	return msg + transform.ImageBlock(r.Images) + sourceFooter + link
}
