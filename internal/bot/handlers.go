package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_bot/internal/geocode"
	"news_bot/internal/ingest"
	"news_bot/internal/model"
	"news_bot/internal/storage"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.reply(chatID, welcomeText)
	case "help":
		b.reply(chatID, helpText)
	case "about":
		b.reply(chatID, aboutText)
	case "subscribe":
		b.handleSubscribe(ctx, chatID)
	case "address":
		b.handleAddress(ctx, chatID)
	case "myaddress":
		b.handleMyAddress(ctx, chatID)
	case "deladdress":
		b.handleDelAddress(ctx, chatID)
	case "backfill":
		b.handleBackfill(ctx, msg, args)
	default:
		b.reply(chatID, unknownCommand)
	}
}

// loadSubscriber returns the stored subscriber or a fresh record for an
// unknown chat.
func (b *Bot) loadSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	sub, err := b.subs.GetSubscriber(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return &model.Subscriber{RecipientID: chatID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

// updateSubscriber applies fn to the subscriber under its lock and saves
// the result.
func (b *Bot) updateSubscriber(ctx context.Context, chatID int64, fn func(sub *model.Subscriber) bool) (*model.Subscriber, error) {
	unlock := b.locks.Lock(chatID)
	defer unlock()

	sub, err := b.loadSubscriber(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !fn(sub) {
		return sub, nil
	}
	if err := b.subs.SaveSubscriber(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscriber: %w", err)
	}
	return sub, nil
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64) {
	sub, err := b.loadSubscriber(ctx, chatID)
	if err != nil {
		b.log.Error("load subscriber", "chat_id", chatID, "error", err)
		b.reply(chatID, internalErrorText)
		return
	}
	msg := tgbotapi.NewMessage(chatID, subscribePrompt)
	msg.ReplyMarkup = CategoryKeyboard(sub)
	b.send(msg)
}

func (b *Bot) handleAddress(ctx context.Context, chatID int64) {
	_, err := b.updateSubscriber(ctx, chatID, func(sub *model.Subscriber) bool {
		sub.AddressPending = true
		return true
	})
	if err != nil {
		b.log.Error("set address pending", "chat_id", chatID, "error", err)
		b.reply(chatID, internalErrorText)
		return
	}

	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonLocation(locationButton)))
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true

	msg := tgbotapi.NewMessage(chatID, addressPrompt)
	msg.ReplyMarkup = kb
	b.send(msg)
}

func (b *Bot) handleMyAddress(ctx context.Context, chatID int64) {
	sub, err := b.loadSubscriber(ctx, chatID)
	if err != nil {
		b.log.Error("load subscriber", "chat_id", chatID, "error", err)
		b.reply(chatID, internalErrorText)
		return
	}
	b.reply(chatID, addressText(sub))
}

func (b *Bot) handleDelAddress(ctx context.Context, chatID int64) {
	_, err := b.updateSubscriber(ctx, chatID, func(sub *model.Subscriber) bool {
		sub.SetAddress("")
		return true
	})
	if err != nil {
		b.log.Error("delete address", "chat_id", chatID, "error", err)
		b.reply(chatID, internalErrorText)
		return
	}
	msg := tgbotapi.NewMessage(chatID, addressDeleted)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	b.send(msg)
}

// handleText stores free text as the address when one was requested.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	address := strings.TrimSpace(msg.Text)

	var saved bool
	_, err := b.updateSubscriber(ctx, chatID, func(sub *model.Subscriber) bool {
		if !sub.AddressPending || address == "" {
			return false
		}
		sub.SetAddress(address)
		saved = true
		return true
	})
	if err != nil {
		b.log.Error("save address", "chat_id", chatID, "error", err)
		b.reply(chatID, internalErrorText)
		return
	}
	if !saved {
		b.log.Debug("ignoring text", "chat_id", chatID)
		return
	}
	b.log.Info("address saved", "chat_id", chatID)
	b.confirmAddress(chatID, address)
}

func (b *Bot) handleLocation(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	lat, lon := msg.Location.Latitude, msg.Location.Longitude

	address := geocode.Coordinates(lat, lon)
	if b.geocoder != nil {
		place, err := b.geocoder.Reverse(ctx, lat, lon)
		if err != nil {
			b.log.Warn("reverse geocode, storing coordinates", "chat_id", chatID, "error", err)
		} else {
			address = place.Address()
		}
	}

	_, err := b.updateSubscriber(ctx, chatID, func(sub *model.Subscriber) bool {
		sub.SetLocation(address, lat, lon)
		return true
	})
	if err != nil {
		b.log.Error("save location", "chat_id", chatID, "error", err)
		b.reply(chatID, internalErrorText)
		return
	}
	b.log.Info("location saved", "chat_id", chatID)
	b.confirmAddress(chatID, address)
}

func (b *Bot) confirmAddress(chatID int64, address string) {
	reply := tgbotapi.NewMessage(chatID, addressSaved(address))
	reply.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	b.send(reply)
}

func (b *Bot) handleBackfill(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID
	if b.backfiller == nil || msg.From == nil || !b.isAdmin(msg.From.ID) {
		b.reply(chatID, accessDenied)
		return
	}

	start, end, err := ParseBackfillArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	b.reply(chatID, fmt.Sprintf(backfillStarted, start, end))
	b.log.Info("backfill requested", "user_id", msg.From.ID, "start", start, "end", end)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		stats, err := b.backfiller.Backfill(ctx, start, end)
		switch {
		case errors.Is(err, ingest.ErrBackfillRunning):
			b.reply(chatID, "⏳ Загрузка архива уже выполняется.")
		case err != nil:
			b.log.Error("backfill", "error", err)
			b.reply(chatID, internalErrorText)
		default:
			b.reply(chatID, fmt.Sprintf(backfillFinished, stats.Pages, stats.Stored))
		}
	}()
}
