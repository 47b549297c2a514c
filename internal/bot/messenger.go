package bot

import (
	"context"

	"serotonyl.ru/garant-bot/internal/common"
)

// Messenger отправляет уведомления в личку пользователя (notifications.Messenger).
type Messenger struct {
	api common.TelegramAPI
}

// NewMessenger создаёт Messenger поверх Telegram API.
func NewMessenger(api common.TelegramAPI) *Messenger {
	return &Messenger{api: api}
}

// Send отправляет сообщение. В личке chat_id совпадает с user_id.
func (m *Messenger) Send(ctx context.Context, userID int64, text string, choices [][]common.Choice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return common.SendText(m.api, userID, text, choices)
}
