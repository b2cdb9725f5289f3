// Package bot is the Telegram front end: it answers subscriber commands and
// implements the delivery channel used by the dispatcher.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_bot/internal/geocode"
	"news_bot/internal/ingest"
	"news_bot/internal/keymu"
	"news_bot/internal/model"
	"news_bot/internal/reactions"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Subscribers loads and saves subscriber records.
type Subscribers interface {
	GetSubscriber(ctx context.Context, recipientID int64) (*model.Subscriber, error)
	SaveSubscriber(ctx context.Context, sub *model.Subscriber) error
}

// Reactions toggles and renders reactions.
type Reactions interface {
	Toggle(ctx context.Context, itemID, recipientID int64, kind model.ReactionKind) (reactions.Action, error)
	Counts(ctx context.Context, itemID, viewerID int64) (model.ReactionSummary, error)
}

// Geocoder turns coordinates into a street address.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (geocode.Place, error)
}

// Backfiller runs a historical ingestion pass.
type Backfiller interface {
	Backfill(ctx context.Context, start, end int) (ingest.Stats, error)
}

// Bot handles Telegram updates.
type Bot struct {
	api        telegramAPI
	subs       Subscribers
	reactions  Reactions
	geocoder   Geocoder
	backfiller Backfiller
	admins     []int64
	locks      *keymu.Mutex[int64]
	log        *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Bot.
type Option func(*Bot)

// WithGeocoder enables address lookup for shared locations.
func WithGeocoder(g Geocoder) Option {
	return func(b *Bot) { b.geocoder = g }
}

// WithBackfill enables the /backfill command for the given admin users.
func WithBackfill(bf Backfiller, admins []int64) Option {
	return func(b *Bot) { b.EnableBackfill(bf, admins) }
}

// EnableBackfill is WithBackfill for a bot that already exists. It must be
// called before Run.
func (b *Bot) EnableBackfill(bf Backfiller, admins []int64) {
	b.backfiller = bf
	b.admins = admins
}

// New connects to the Bot API with token.
func New(token string, subs Subscribers, rs Reactions, log *slog.Logger, opts ...Option) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("authorized", "username", api.Self.UserName)
	return newBot(api, subs, rs, log, opts...), nil
}

func newBot(api telegramAPI, subs Subscribers, rs Reactions, log *slog.Logger, opts ...Option) *Bot {
	b := &Bot{
		api:       api,
		subs:      subs,
		reactions: rs,
		locks:     keymu.New[int64](),
		log:       log,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run receives updates until ctx is cancelled, then waits for background
// commands to finish.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message == nil:
	case update.Message.Location != nil:
		b.handleLocation(ctx, update.Message)
	case update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message.Text != "":
		b.handleText(ctx, update.Message)
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	return slices.Contains(b.admins, userID)
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Error("send message", "error", err)
	}
}
