package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_bot/internal/model"
)

const controlsPrompt = "Ваша реакция:"

// SendText sends a text message, with reaction buttons when controls is
// non-nil.
func (b *Bot) SendText(_ context.Context, chatID int64, text string, controls *model.ReactionSummary) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if controls != nil {
		msg.ReplyMarkup = ReactionKeyboard(*controls)
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendPhoto sends one photo by URL.
func (b *Bot) SendPhoto(_ context.Context, chatID int64, url, caption string, controls *model.ReactionSummary) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	photo.Caption = caption
	if controls != nil {
		photo.ReplyMarkup = ReactionKeyboard(*controls)
	}
	if _, err := b.api.Send(photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// SendPhotoGroup sends an album; the caption is attached to the first photo.
func (b *Bot) SendPhotoGroup(_ context.Context, chatID int64, urls []string, caption string) error {
	media := make([]any, 0, len(urls))
	for i, u := range urls {
		p := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(u))
		if i == 0 {
			p.Caption = caption
		}
		media = append(media, p)
	}
	if _, err := b.api.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media)); err != nil {
		return fmt.Errorf("send media group: %w", err)
	}
	return nil
}

// SendControls sends a short message carrying only the reaction buttons.
// Albums cannot carry inline keyboards.
func (b *Bot) SendControls(_ context.Context, chatID int64, controls *model.ReactionSummary) error {
	msg := tgbotapi.NewMessage(chatID, controlsPrompt)
	msg.ReplyMarkup = ReactionKeyboard(*controls)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send controls: %w", err)
	}
	return nil
}
