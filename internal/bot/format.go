package bot

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_bot/internal/model"
)

const (
	welcomeText = "👋 Добро пожаловать в бота новостей!\n\n" +
		"Бот присылает уведомления о новых новостях с официального сайта администрации.\n\n" +
		"Доступные команды:\n" +
		"• /subscribe - Управление подписками\n" +
		"• /address - Указать адрес\n" +
		"• /help - Список команд\n" +
		"• /about - Информация о боте"

	helpText = "Подписки:\n" +
		"/subscribe - выбрать категории новостей\n\n" +
		"Адрес:\n" +
		"/address - указать адрес или отправить геолокацию\n" +
		"/myaddress - показать сохранённый адрес\n" +
		"/deladdress - удалить адрес\n\n" +
		"Если новость упоминает ваш адрес, уведомление будет отмечено 📍"

	aboutText = "📱 Бот новостей\n\n" +
		"Бот автоматически отслеживает новости на официальном сайте администрации " +
		"и отправляет их подписчикам."

	subscribePrompt   = "Управление подписками на категории новостей:\n✅ - включено, ❌ - выключено"
	addressPrompt     = "Отправьте адрес текстом (например: Советская, 15) или поделитесь геолокацией."
	locationButton    = "📍 Отправить геолокацию"
	noAddressText     = "Адрес не указан. Используйте /address."
	addressDeleted    = "🗑 Адрес удалён."
	unknownCommand    = "Неизвестная команда. Список команд: /help"
	accessDenied      = "Команда доступна только администраторам."
	backfillStarted   = "⏳ Загрузка архива: страницы %d-%d"
	backfillFinished  = "✅ Архив загружен: страниц %d, новых новостей %d"
	internalErrorText = "⚠️ Что-то пошло не так, попробуйте позже."
)

var categoryLabels = map[model.Category]string{
	model.CategoryPower: "Отключение электроснабжения",
	model.CategoryWater: "Отключение воды",
	model.CategoryOther: "Прочие новости",
	model.CategoryAll:   "Все новости",
}

// CategoryKeyboard renders one toggle button per category, marking the ones
// sub is subscribed to.
func CategoryKeyboard(sub *model.Subscriber) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range append(append([]model.Category(nil), model.Categories...), model.CategoryAll) {
		mark := "❌"
		if sub.Has(c) {
			mark = "✅"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(mark+" "+categoryLabels[c], toggleCallback(c)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ReactionKeyboard renders the reaction buttons with their counts. The
// viewer's own reaction is marked.
func ReactionKeyboard(sum model.ReactionSummary) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(model.ReactionKinds))
	for _, k := range model.ReactionKinds {
		text := k.Emoji() + " " + strconv.Itoa(sum.Counts[k])
		if sum.Mine == k {
			text = "✓ " + text
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(text, reactCallback(sum.ItemID, k)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func toggleNotice(c model.Category, enabled bool) string {
	switch {
	case c == model.CategoryAll && enabled:
		return "🔔 Включены все уведомления"
	case c == model.CategoryAll:
		return "🔕 Отключены все уведомления"
	case enabled:
		return "🔔 Включены уведомления: " + categoryLabels[c]
	default:
		return "🔕 Отключены уведомления: " + categoryLabels[c]
	}
}

func addressText(sub *model.Subscriber) string {
	if sub == nil || sub.Address == "" {
		return noAddressText
	}
	return fmt.Sprintf("🏠 Ваш адрес: %s", sub.Address)
}

func addressSaved(address string) string {
	return fmt.Sprintf("✅ Адрес сохранён: %s\nНовости, упоминающие его, будут отмечены 📍", address)
}
