// Package filters решает, какие апдейты бот обрабатывает.
// Сделки ведутся только в личных сообщениях: там видны кнопки оплаты и реквизиты.
package filters

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
)

// ChatFilter пропускает только личные чаты.
type ChatFilter struct {
	api common.TelegramAPI
}

// NewChatFilter создаёт фильтр. api нужен, чтобы ответить в группе.
func NewChatFilter(api common.TelegramAPI) *ChatFilter {
	return &ChatFilter{api: api}
}

// CheckAccess проверяет сообщение.
func (f *ChatFilter) CheckAccess(message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Warn("nil message.From (service/channel message?)")
		return false
	}

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
		"user_id":   message.From.ID,
	})

	if message.Chat.IsPrivate() {
		return true
	}

	// В группе отвечаем только на команды, чтобы не мешать переписке.
	if message.IsCommand() && f.api != nil {
		common.Reply(f.api, message.Chat.ID, "🔒 Сделки ведутся только в личных сообщениях с ботом")
	}
	logger.Debug("deny: not private")
	return false
}

// CheckCallback проверяет нажатие кнопки. Кнопки без сообщения (inline-режим) отклоняются.
func (f *ChatFilter) CheckCallback(cb *tgbotapi.CallbackQuery) bool {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return false
	}
	return cb.Message.Chat.IsPrivate()
}
