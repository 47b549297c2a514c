package middleware

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "коротко", truncate("коротко"))

	long := strings.Repeat("я", maxLoggedText+10)
	got := truncate(long)
	assert.Equal(t, strings.Repeat("я", maxLoggedText)+"...", got)
}

func TestLoggersTolerateNil(t *testing.T) {
	assert.NotPanics(t, func() {
		LogMessage(nil)
		LogMessage(&tgbotapi.Message{})
		LogCallback(nil)
		LogCallback(&tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 1}, Data: "menu"})
	})
}

func TestRecoverFromPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverFromPanic(7)
		panic("boom")
	})
}
