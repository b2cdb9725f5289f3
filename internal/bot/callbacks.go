package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_bot/internal/model"
	"news_bot/internal/reactions"
)

const itemGoneNotice = "Новость не найдена"

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.From == nil {
		b.answer(cb.ID, "")
		return
	}

	b.log.Debug("callback", "data", cb.Data, "chat_id", cb.Message.Chat.ID, "user_id", cb.From.ID)

	if c, ok := ParseToggleCallback(cb.Data); ok {
		b.handleToggle(ctx, cb, c)
		return
	}
	if itemID, kind, ok := ParseReactCallback(cb.Data); ok {
		b.handleReact(ctx, cb, itemID, kind)
		return
	}
	b.answer(cb.ID, "")
}

func (b *Bot) handleToggle(ctx context.Context, cb *tgbotapi.CallbackQuery, c model.Category) {
	chatID := cb.Message.Chat.ID

	var enabled bool
	sub, err := b.updateSubscriber(ctx, chatID, func(sub *model.Subscriber) bool {
		enabled = sub.ToggleCategory(c)
		return true
	})
	if err != nil {
		b.log.Error("toggle category", "chat_id", chatID, "category", c, "error", err)
		b.answer(cb.ID, internalErrorText)
		return
	}

	b.answer(cb.ID, toggleNotice(c, enabled))
	b.editMarkup(chatID, cb.Message.MessageID, CategoryKeyboard(sub))
}

func (b *Bot) handleReact(ctx context.Context, cb *tgbotapi.CallbackQuery, itemID int64, kind model.ReactionKind) {
	userID := cb.From.ID

	action, err := b.reactions.Toggle(ctx, itemID, userID, kind)
	if err != nil {
		b.log.Error("toggle reaction", "item_id", itemID, "user_id", userID, "error", err)
		b.answer(cb.ID, internalErrorText)
		return
	}
	if action == reactions.ActionNone {
		b.answer(cb.ID, itemGoneNotice)
		return
	}

	sum, err := b.reactions.Counts(ctx, itemID, userID)
	if err != nil {
		b.log.Error("count reactions", "item_id", itemID, "error", err)
		b.answer(cb.ID, "")
		return
	}

	b.answer(cb.ID, "")
	b.editMarkup(cb.Message.Chat.ID, cb.Message.MessageID, ReactionKeyboard(sum))
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("answer callback", "error", err)
	}
}

func (b *Bot) editMarkup(chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, markup)
	if _, err := b.api.Request(edit); err != nil {
		b.log.Error("edit reply markup", "chat_id", chatID, "error", err)
	}
}
