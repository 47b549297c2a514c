// Package notifications — handlers.go показывает экран уведомлений.
package notifications

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
)

// Действия inline-кнопок.
const (
	ActionList     = "notif"
	ActionMarkRead = "notif_read"
)

// Handler обрабатывает экран уведомлений.
type Handler struct {
	service *Service
	api     common.TelegramAPI
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service, api common.TelegramAPI) *Handler {
	return &Handler{service: service, api: api}
}

// HandleList показывает последние уведомления.
func (h *Handler) HandleList(ctx context.Context, chatID, userID int64) {
	list, err := h.service.List(ctx, userID, false)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения уведомлений")
		common.Reply(h.api, chatID, "❌ Не удалось загрузить уведомления")
		return
	}
	if len(list) == 0 {
		common.Reply(h.api, chatID, "🔔 Уведомлений пока нет")
		return
	}

	var b strings.Builder
	b.WriteString("🔔 Уведомления:\n\n")
	unread := 0
	for _, n := range list {
		marker := "▫️"
		if !n.IsRead {
			marker = "🔵"
			unread++
		}
		fmt.Fprintf(&b, "%s %s\n%s\n\n", marker, common.FormatDateTime(n.CreatedAt), n.Message)
	}

	var rows [][]common.Choice
	if unread > 0 {
		rows = append(rows, []common.Choice{{Text: "✅ Отметить все прочитанными", Data: ActionMarkRead}})
	}
	common.Reply(h.api, chatID, b.String(), rows...)
}

// HandleMarkRead помечает всё прочитанным.
func (h *Handler) HandleMarkRead(ctx context.Context, chatID, userID int64) {
	n, err := h.service.MarkAllRead(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка обновления уведомлений")
		common.Reply(h.api, chatID, "❌ Не удалось обновить уведомления")
		return
	}
	common.Reply(h.api, chatID, fmt.Sprintf("✅ Прочитано: %d", n))
}
