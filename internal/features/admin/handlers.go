// Package admin — handlers.go обрабатывает взаимодействие с админ-панелью.
// Панель работает через Reply Keyboard в личных сообщениях.
// Поток: проверка ADMIN_IDS → клавиатура → выбор действия → пошаговый диалог.
package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/features/deals"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// Handler обрабатывает админ-команды.
type Handler struct {
	service *Service
	dialogs *common.Dialogs
	api     common.TelegramAPI
}

// NewHandler создаёт обработчик админ-панели.
func NewHandler(service *Service, dialogs *common.Dialogs, api common.TelegramAPI) *Handler {
	return &Handler{service: service, dialogs: dialogs, api: api}
}

// HandleAdminMessage обрабатывает сообщение администратора в DM.
// Возвращает false, если пользователь не админ или сообщение не относится к панели.
func (h *Handler) HandleAdminMessage(ctx context.Context, chatID, userID int64, text string) bool {
	if !h.service.IsAdmin(userID) {
		return false
	}

	if state := h.dialogs.Get(userID); state != nil && state.State == StateFindDeal {
		h.dialogs.Clear(userID)
		h.showDeal(ctx, chatID, strings.TrimSpace(text))
		return true
	}

	switch text {
	case ButtonStats:
		h.HandleStats(ctx, chatID)
	case ButtonDeals:
		h.HandleDeals(ctx, chatID)
	case ButtonUsers:
		h.HandleUsers(ctx, chatID)
	case ButtonFind:
		h.dialogs.Set(userID, StateFindDeal, nil)
		common.Reply(h.api, chatID, "Отправьте полный ID сделки:")
	case ButtonRepair:
		h.handleRepair(ctx, chatID)
	case ButtonArchive:
		h.handleArchive(ctx, chatID)
	default:
		return false
	}
	return true
}

// HandleCommand обрабатывает /admin, /stats, /deals, /users, /deal <id>.
func (h *Handler) HandleCommand(ctx context.Context, chatID, userID int64, cmd string, args []string) bool {
	switch cmd {
	case "admin", "stats", "deals", "users", "deal":
	default:
		return false
	}
	if !h.service.IsAdmin(userID) {
		common.Reply(h.api, chatID, common.UserMessage(common.Guard(common.ErrNotAdmin)))
		return true
	}

	switch cmd {
	case "admin":
		h.showKeyboard(chatID)
	case "stats":
		h.HandleStats(ctx, chatID)
	case "deals":
		h.HandleDeals(ctx, chatID)
	case "users":
		h.HandleUsers(ctx, chatID)
	case "deal":
		if len(args) == 0 {
			common.Reply(h.api, chatID, "❌ Формат: /deal <ID сделки>")
			return true
		}
		h.showDeal(ctx, chatID, args[0])
	}
	return true
}

// HandleCallback обрабатывает кнопки решения спора и карточки сделок.
func (h *Handler) HandleCallback(ctx context.Context, chatID, userID int64, action string, args []string) bool {
	switch action {
	case deals.TokenResolve:
		if len(args) < 2 {
			return true
		}
		h.handleResolve(ctx, chatID, userID, args[0], args[1])
		return true
	case TokenDeal:
		if !h.service.IsAdmin(userID) {
			return true
		}
		if len(args) > 0 {
			h.showDeal(ctx, chatID, args[0])
		}
		return true
	}
	return false
}

// HandleStats показывает сводку.
func (h *Handler) HandleStats(ctx context.Context, chatID int64) {
	st, err := h.service.Stats(ctx)
	if err != nil {
		log.WithError(err).Error("Ошибка получения статистики")
		common.Reply(h.api, chatID, common.UserMessage(err))
		return
	}
	common.Reply(h.api, chatID, FormatStats(st))
}

// HandleDeals показывает последние сделки.
func (h *Handler) HandleDeals(ctx context.Context, chatID int64) {
	list, err := h.service.RecentDeals(ctx)
	if err != nil {
		log.WithError(err).Error("Ошибка получения сделок")
		common.Reply(h.api, chatID, common.UserMessage(err))
		return
	}
	if len(list) == 0 {
		common.Reply(h.api, chatID, "Сделок пока нет")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 Последние сделки:\n\n")
	rows := make([][]common.Choice, 0, len(list))
	for _, d := range list {
		sb.WriteString(fmt.Sprintf("#%s · %s · %s · заказчик %d\n",
			common.ShortID(d.ID), common.FormatMoney(d.Amount, d.Asset), d.Status.Title(), d.CustomerID))
		rows = append(rows, []common.Choice{{
			Text: fmt.Sprintf("#%s %s", common.ShortID(d.ID), d.Status.Title()),
			Data: common.Token(TokenDeal, d.ID.String()),
		}})
	}
	common.Reply(h.api, chatID, sb.String(), rows...)
}

// HandleUsers показывает последних пользователей.
func (h *Handler) HandleUsers(ctx context.Context, chatID int64) {
	list, err := h.service.RecentUsers(ctx)
	if err != nil {
		log.WithError(err).Error("Ошибка получения пользователей")
		common.Reply(h.api, chatID, common.UserMessage(err))
		return
	}
	if len(list) == 0 {
		common.Reply(h.api, chatID, "Пользователей пока нет")
		return
	}

	var sb strings.Builder
	sb.WriteString("👥 Последние пользователи:\n\n")
	for i, u := range list {
		sb.WriteString(fmt.Sprintf("%d. %s (%d) · баланс %s\n", i+1, u.DisplayName(), u.UserID, u.Balance.String()))
	}
	common.Reply(h.api, chatID, sb.String())
}

func (h *Handler) showDeal(ctx context.Context, chatID int64, rawID string) {
	report, err := h.service.FindDeal(ctx, rawID)
	if err != nil {
		common.Reply(h.api, chatID, common.UserMessage(err))
		return
	}
	d := report.Deal

	text := fmt.Sprintf("%s\n\nЗаказчик: %d\n", deals.FormatCard(d, 0), d.CustomerID)
	if d.ExecutorID != nil {
		text += fmt.Sprintf("Исполнитель: %d\n", *d.ExecutorID)
	}
	text += "\n" + deals.FormatTransactions(d, report.Transactions)

	var rows [][]common.Choice
	if d.Status == ledger.StatusDisputed {
		rows = deals.ResolveChoices(d.ID)
	}
	common.Reply(h.api, chatID, text, rows...)
}

func (h *Handler) handleResolve(ctx context.Context, chatID, userID int64, rawSide, rawID string) {
	side, ok := ledger.ParseSide(rawSide)
	if !ok {
		common.Reply(h.api, chatID, common.UserMessage(common.Validation(common.ErrBadSide)))
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		common.Reply(h.api, chatID, "❌ Сделка не найдена")
		return
	}

	d, err := h.service.Resolve(ctx, userID, id, side)
	if err != nil {
		if !common.IsKind(err, common.KindGuard) && !common.IsKind(err, common.KindValidation) {
			log.WithError(err).WithFields(log.Fields{"deal_id": id, "admin": userID}).Error("Ошибка решения спора")
		}
		common.Reply(h.api, chatID, common.UserMessage(err))
		return
	}
	common.Reply(h.api, chatID, fmt.Sprintf("⚖️ Спор по сделке #%s решён: %s", common.ShortID(d.ID), d.Status.Title()))
}

func (h *Handler) handleRepair(ctx context.Context, chatID int64) {
	transfers, invoices, err := h.service.Repair(ctx)
	if err != nil {
		log.WithError(err).Error("Ошибка ручной сверки")
		common.Reply(h.api, chatID, fmt.Sprintf("⚠️ Сверка завершена с ошибками. Переводов: %d, счетов: %d", transfers, invoices))
		return
	}
	common.Reply(h.api, chatID, fmt.Sprintf("✅ Сверка завершена. Переводов: %d, счетов: %d", transfers, invoices))
}

func (h *Handler) handleArchive(ctx context.Context, chatID int64) {
	n, err := h.service.Archive(ctx)
	if err != nil {
		log.WithError(err).Error("Ошибка архивации")
		common.Reply(h.api, chatID, common.UserMessage(err))
		return
	}
	common.Reply(h.api, chatID, fmt.Sprintf("🗄 Архивировано: %s", common.CountDeals(n)))
}

// showKeyboard отображает клавиатуру админ-панели.
func (h *Handler) showKeyboard(chatID int64) {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonStats),
			tgbotapi.NewKeyboardButton(ButtonDeals),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonUsers),
			tgbotapi.NewKeyboardButton(ButtonFind),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonRepair),
			tgbotapi.NewKeyboardButton(ButtonArchive),
		),
	)

	msg := tgbotapi.NewMessage(chatID, "✅ Админ-панель открыта")
	msg.ReplyMarkup = keyboard
	if _, err := h.api.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки клавиатуры")
	}
}

// FormatStats — текст сводки.
func FormatStats(st *ledger.Stats) string {
	var sb strings.Builder
	sb.WriteString("📊 Статистика\n\n")
	sb.WriteString(fmt.Sprintf("Пользователей: %d\n", st.Users))
	sb.WriteString(fmt.Sprintf("Сделок: %d\n", st.Deals))
	sb.WriteString(fmt.Sprintf("Оборот: %s\n", st.TotalAmount.String()))
	sb.WriteString(fmt.Sprintf("Комиссия: %s\n\n", st.TotalCommission.String()))

	statuses := make([]ledger.Status, 0, len(st.ByStatus))
	for s := range st.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statusOrder(statuses[i]) < statusOrder(statuses[j]) })
	for _, s := range statuses {
		sb.WriteString(fmt.Sprintf("%s: %d\n", s.Title(), st.ByStatus[s]))
	}
	return sb.String()
}

func statusOrder(s ledger.Status) int {
	for i, st := range ledger.Statuses {
		if st == s {
			return i
		}
	}
	return len(ledger.Statuses)
}
