// Package common — telegram.go содержит общие типы для inline-кнопок и отправки сообщений.
// Callback data кнопки имеет вид "<action>:<arg>[:<arg>]", Telegram ограничивает её 64 байтами.
package common

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// TelegramAPI — методы tgbotapi.BotAPI, которыми пользуются обработчики.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Choice — inline-кнопка.
type Choice struct {
	Text string
	Data string
}

// Token собирает callback data из действия и аргументов.
func Token(action string, args ...string) string {
	if len(args) == 0 {
		return action
	}
	return action + ":" + strings.Join(args, ":")
}

// ParseToken разбирает callback data.
func ParseToken(data string) (string, []string) {
	parts := strings.Split(data, ":")
	return parts[0], parts[1:]
}

// Keyboard строит inline-клавиатуру по рядам кнопок.
func Keyboard(rows [][]Choice) tgbotapi.InlineKeyboardMarkup {
	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, c := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Text, c.Data))
		}
		markup = append(markup, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(markup...)
}

// SendText отправляет сообщение с кнопками (rows может быть пустым).
func SendText(api TelegramAPI, chatID int64, text string, rows [][]Choice) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(rows) > 0 {
		msg.ReplyMarkup = Keyboard(rows)
	}
	_, err := api.Send(msg)
	return err
}

// Reply — SendText, ошибка которого только логируется.
func Reply(api TelegramAPI, chatID int64, text string, rows ...[]Choice) {
	if err := SendText(api, chatID, text, rows); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
