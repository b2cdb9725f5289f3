// Package dispatcher fans a notification out to every interested subscriber.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"news_bot/internal/metrics"
	"news_bot/internal/model"
	"news_bot/internal/relevance"
)

// RelevanceBanner is prepended for recipients whose address the text
// mentions.
const RelevanceBanner = "📍 Новость может касаться вашего адреса\n\n"

const (
	// CaptionLimit is the longest caption the channel accepts on media.
	CaptionLimit = 1024
	// MediaGroupLimit is the largest media group the channel accepts.
	MediaGroupLimit = 10
)

// Channel delivers messages to one recipient. controls is nil when the
// message carries no reaction buttons.
type Channel interface {
	SendText(ctx context.Context, chatID int64, text string, controls *model.ReactionSummary) error
	SendPhoto(ctx context.Context, chatID int64, url, caption string, controls *model.ReactionSummary) error
	SendPhotoGroup(ctx context.Context, chatID int64, urls []string, caption string) error
	SendControls(ctx context.Context, chatID int64, controls *model.ReactionSummary) error
}

// Subscribers resolves recipients.
type Subscribers interface {
	ListSubscribersByCategory(ctx context.Context, c model.Category) ([]model.Subscriber, error)
}

// ReactionCounter renders the reaction state of an item for one viewer.
type ReactionCounter interface {
	Counts(ctx context.Context, itemID, viewerID int64) (model.ReactionSummary, error)
}

// Notification is one message to fan out.
type Notification struct {
	Text     string
	Images   []string
	Category model.Category
	// ItemID enables reaction controls when non-zero.
	ItemID int64
}

// Result reports how many recipients got the notification.
type Result struct {
	Sent  int
	Total int
}

// Dispatcher sends notifications.
type Dispatcher struct {
	subs        Subscribers
	channel     Channel
	reactions   ReactionCounter
	limiter     *rate.Limiter
	concurrency int
	log         *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithReactions enables reaction controls.
func WithReactions(rc ReactionCounter) Option {
	return func(d *Dispatcher) { d.reactions = rc }
}

// WithLimiter paces sends across all recipients.
func WithLimiter(l *rate.Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithConcurrency bounds the number of recipients served at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// New creates a Dispatcher.
func New(subs Subscribers, ch Channel, log *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subs:        subs,
		channel:     ch,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		concurrency: 4,
		log:         log,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch delivers n to every subscriber of its category. Failures are
// isolated per recipient; the returned error only reports that recipients
// could not be resolved.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (Result, error) {
	subs, err := d.subs.ListSubscribersByCategory(ctx, n.Category)
	if err != nil {
		return Result{}, fmt.Errorf("list subscribers: %w", err)
	}

	var sent atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			ok := d.deliver(ctx, sub, n)
			metrics.ObserveNotification(ok)
			if ok {
				sent.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Sent: int(sent.Load()), Total: len(subs)}
	d.log.Info("notification dispatched", "item_id", n.ItemID, "category", n.Category, "sent", res.Sent, "total", res.Total)
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub model.Subscriber, n Notification) bool {
	log := d.log.With("chat_id", sub.RecipientID, "item_id", n.ItemID)

	if err := d.limiter.Wait(ctx); err != nil {
		log.Warn("send skipped", "error", err)
		return false
	}

	text := n.Text
	if sub.Address != "" && relevance.Match(n.Text, sub.Address) {
		text = RelevanceBanner + text
	}

	var controls *model.ReactionSummary
	if n.ItemID != 0 && d.reactions != nil {
		sum, err := d.reactions.Counts(ctx, n.ItemID, sub.RecipientID)
		if err != nil {
			log.Warn("reaction counts unavailable", "error", err)
		} else {
			controls = &sum
		}
	}

	if err := d.send(ctx, sub.RecipientID, text, n.Images, controls); err != nil {
		log.Error("send notification", "error", err)
		return false
	}
	return true
}

// send picks the packaging by image count.
func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, images []string, controls *model.ReactionSummary) error {
	fits := utf8.RuneCountInString(text) <= CaptionLimit

	switch {
	case len(images) == 0:
		return d.channel.SendText(ctx, chatID, text, controls)

	case len(images) == 1:
		if fits {
			return d.channel.SendPhoto(ctx, chatID, images[0], text, controls)
		}
		if err := d.channel.SendPhoto(ctx, chatID, images[0], "", nil); err != nil {
			return err
		}
		return d.channel.SendText(ctx, chatID, text, controls)
	}

	caption := text
	if !fits {
		caption = ""
	}
	for i, group := range Chunk(images, MediaGroupLimit) {
		c := ""
		if i == 0 {
			c = caption
		}
		var err error
		if len(group) == 1 {
			err = d.channel.SendPhoto(ctx, chatID, group[0], c, nil)
		} else {
			err = d.channel.SendPhotoGroup(ctx, chatID, group, c)
		}
		if err != nil {
			if i == 0 {
				return err
			}
			d.log.Warn("send trailing media group", "chat_id", chatID, "error", err)
		}
	}

	if !fits {
		return d.channel.SendText(ctx, chatID, text, controls)
	}
	if controls != nil {
		if err := d.channel.SendControls(ctx, chatID, controls); err != nil {
			d.log.Warn("send reaction controls", "chat_id", chatID, "error", err)
		}
	}
	return nil
}

// Chunk splits s into consecutive groups of at most size elements.
func Chunk[T any](s []T, size int) [][]T {
	var out [][]T
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}
