package filters

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

type stubAPI struct {
	sent int
}

func (a *stubAPI) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	a.sent++
	return tgbotapi.Message{}, nil
}

func (a *stubAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func message(chatType, text string, command bool) *tgbotapi.Message {
	m := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 10, Type: chatType},
		Text: text,
	}
	if command {
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return m
}

func TestCheckAccess(t *testing.T) {
	api := &stubAPI{}
	f := NewChatFilter(api)

	assert.True(t, f.CheckAccess(message("private", "привет", false)))
	assert.False(t, f.CheckAccess(nil))
	assert.False(t, f.CheckAccess(&tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 10, Type: "private"}}))

	assert.False(t, f.CheckAccess(message("group", "обычное сообщение", false)))
	assert.Zero(t, api.sent)

	assert.False(t, f.CheckAccess(message("supergroup", "/deal", true)))
	assert.Equal(t, 1, api.sent)
}

func TestCheckCallback(t *testing.T) {
	f := NewChatFilter(nil)

	assert.True(t, f.CheckCallback(&tgbotapi.CallbackQuery{
		From:    &tgbotapi.User{ID: 1},
		Message: message("private", "", false),
	}))
	assert.False(t, f.CheckCallback(&tgbotapi.CallbackQuery{
		From:    &tgbotapi.User{ID: 1},
		Message: message("group", "", false),
	}))
	assert.False(t, f.CheckCallback(&tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 1}}))
	assert.False(t, f.CheckCallback(nil))
}
