// Package users — handlers.go обрабатывает команды /start и /balance.
package users

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/features/deals"
	"serotonyl.ru/garant-bot/internal/features/notifications"
	"serotonyl.ru/garant-bot/internal/features/offers"
)

// Действия кнопок главного меню, которые обрабатывает этот пакет.
const (
	TokenMenu    = "menu"
	TokenBalance = "balance"
)

// UnreadCounter — число непрочитанных уведомлений для меню.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

// Handler обрабатывает команды пользователей.
type Handler struct {
	service *Service
	unread  UnreadCounter
	api     common.TelegramAPI
	asset   string
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service, unread UnreadCounter, api common.TelegramAPI, asset string) *Handler {
	return &Handler{service: service, unread: unread, api: api, asset: asset}
}

// HandleStart показывает главное меню.
// Кнопки ведут в обработчики сделок, предложений и уведомлений.
func (h *Handler) HandleStart(ctx context.Context, chatID, userID int64) {
	notifLabel := "🔔 Уведомления"
	if n, err := h.unread.UnreadCount(ctx, userID); err == nil && n > 0 {
		notifLabel = fmt.Sprintf("🔔 Уведомления (%d)", n)
	}

	text := "🤝 Гарант-бот\n\n" +
		"Заказчик создаёт сделку и оплачивает её через @CryptoBot. " +
		"Деньги хранятся у гаранта, пока заказчик не подтвердит работу. " +
		"При споре решение принимает администратор."

	common.Reply(h.api, chatID, text,
		[]common.Choice{{Text: "➕ Создать сделку", Data: deals.TokenCreate}},
		[]common.Choice{{Text: "📋 Мои сделки", Data: deals.TokenMyDeals}, {Text: "🔍 Доступные", Data: deals.TokenAvailable}},
		[]common.Choice{{Text: "📨 Предложения", Data: offers.TokenList}, {Text: notifLabel, Data: notifications.ActionList}},
		[]common.Choice{{Text: "💼 Баланс", Data: TokenBalance}},
	)
}

// HandleBalance показывает внутренний баланс.
func (h *Handler) HandleBalance(ctx context.Context, chatID, userID int64) {
	balance, err := h.service.Balance(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения баланса")
		common.Reply(h.api, chatID, "❌ Ошибка получения баланса")
		return
	}
	common.Reply(h.api, chatID, fmt.Sprintf(
		"💼 Внутренний баланс: %s\n\nСюда зачисляются выплаты, которые не удалось отправить через @CryptoBot.",
		common.FormatMoney(balance, h.asset)))
}
