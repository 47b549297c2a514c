// Package deals — handlers.go показывает карточки сделок и обрабатывает кнопки.
// Создание сделки — диалог из двух шагов: сумма, затем описание.
package deals

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// Шаги диалогов сделок.
const (
	StateAmount      = "deal_amount"
	StateDescription = "deal_description"
	StatePayoutRef   = "deal_payout_ref"
)

// Handler обрабатывает экраны сделок.
type Handler struct {
	service *Service
	dialogs *common.Dialogs
	api     common.TelegramAPI
}

// NewHandler создаёт обработчик сделок.
func NewHandler(service *Service, dialogs *common.Dialogs, api common.TelegramAPI) *Handler {
	return &Handler{service: service, dialogs: dialogs, api: api}
}

// HandleMessage продолжает начатый диалог. Возвращает false, если диалога нет.
func (h *Handler) HandleMessage(ctx context.Context, chatID, userID int64, text string) bool {
	state := h.dialogs.Get(userID)
	if state == nil {
		return false
	}

	switch state.State {
	case StateAmount:
		amount, err := common.ParseAmount(text)
		if err != nil {
			common.Reply(h.api, chatID, "❌ Сумма должна быть положительным числом, не более 8 знаков после запятой. Попробуйте ещё раз:")
			return true
		}
		h.dialogs.Set(userID, StateDescription, amount)
		common.Reply(h.api, chatID, fmt.Sprintf(
			"📝 Опишите задачу (от %d до %d символов):", h.service.Config().MinDescription, maxDescription))
		return true

	case StateDescription:
		amount := state.Data.(decimal.Decimal)
		d, err := h.service.CreateDeal(ctx, userID, amount, text)
		if err != nil {
			if common.IsKind(err, common.KindValidation) {
				// Даём исправить описание, сумма сохраняется.
				common.Reply(h.api, chatID, common.UserMessage(err)+". Попробуйте ещё раз:")
				return true
			}
			h.dialogs.Clear(userID)
			h.fail(chatID, userID, "create", err)
			return true
		}
		h.dialogs.Clear(userID)
		common.Reply(h.api, chatID, "✅ Сделка создана!\n\n"+FormatCard(d, userID), Actions(d, userID)...)
		return true

	case StatePayoutRef:
		id := state.Data.(uuid.UUID)
		h.dialogs.Clear(userID)
		if _, err := h.service.SetPayoutRef(ctx, id, userID, strings.TrimSpace(text)); err != nil {
			h.fail(chatID, userID, "payout_ref", err)
			return true
		}
		common.Reply(h.api, chatID, "✅ Реквизиты сохранены", []common.Choice{{Text: "📄 К сделке", Data: common.Token(TokenView, id.String())}})
		return true
	}
	return false
}

// HandleCallback обрабатывает кнопки сделок. Возвращает false для чужих действий.
func (h *Handler) HandleCallback(ctx context.Context, chatID, userID int64, action string, args []string) bool {
	switch action {
	case TokenCreate:
		h.StartCreate(chatID, userID)
		return true
	case TokenMyDeals:
		h.HandleMyDeals(ctx, chatID, userID)
		return true
	case TokenAvailable:
		h.HandleAvailable(ctx, chatID, userID)
		return true
	}

	var run func(ctx context.Context, id uuid.UUID, userID int64) (*ledger.Deal, error)
	switch action {
	case TokenView:
	case TokenPay, TokenCheck, TokenPayout, TokenHistory:
	case TokenAccept:
		run = h.service.AcceptDeal
	case TokenUnassign:
		run = h.service.RemoveExecutor
	case TokenStart:
		run = h.service.StartWork
	case TokenComplete:
		run = h.service.CompleteWork
	case TokenConfirm:
		run = h.service.ConfirmCompletion
	case TokenDispute:
		run = h.service.OpenDispute
	case TokenVoid:
		run = h.service.VoidDeal
	default:
		return false
	}

	if len(args) == 0 {
		return true
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		common.Reply(h.api, chatID, "❌ Сделка не найдена")
		return true
	}

	switch action {
	case TokenView:
		h.HandleView(ctx, chatID, userID, id)
	case TokenPay:
		h.handlePay(ctx, chatID, userID, id)
	case TokenCheck:
		h.handleCheck(ctx, chatID, userID, id)
	case TokenPayout:
		h.dialogs.Set(userID, StatePayoutRef, id)
		common.Reply(h.api, chatID, "🧾 Отправьте ваш числовой ID пользователя @CryptoBot. На него придут выплаты по сделке.")
	case TokenHistory:
		h.handleHistory(ctx, chatID, userID, id)
	default:
		d, err := run(ctx, id, userID)
		if err != nil {
			h.fail(chatID, userID, action, err)
			return true
		}
		common.Reply(h.api, chatID, FormatCard(d, userID), Actions(d, userID)...)
	}
	return true
}

// StartCreate начинает диалог создания сделки.
func (h *Handler) StartCreate(chatID, userID int64) {
	h.dialogs.Set(userID, StateAmount, nil)
	common.Reply(h.api, chatID, fmt.Sprintf("💰 Введите сумму сделки в %s:", h.service.Config().Asset))
}

// HandleView показывает карточку сделки участнику или админу.
// Свободная ожидающая сделка видна всем, чтобы её можно было взять.
func (h *Handler) HandleView(ctx context.Context, chatID, userID int64, id uuid.UUID) {
	d, err := h.service.GetDeal(ctx, id)
	if err != nil {
		h.fail(chatID, userID, "view", err)
		return
	}
	open := d.Status == ledger.StatusPending && !d.HasExecutor()
	if !d.IsParticipant(userID) && !open && !h.service.Config().IsAdmin(userID) {
		common.Reply(h.api, chatID, "❌ Сделка не найдена")
		return
	}
	common.Reply(h.api, chatID, FormatCard(d, userID), Actions(d, userID)...)
}

// HandleMyDeals показывает сделки пользователя.
func (h *Handler) HandleMyDeals(ctx context.Context, chatID, userID int64) {
	list, err := h.service.ListUserDeals(ctx, userID)
	if err != nil {
		h.fail(chatID, userID, "my_deals", err)
		return
	}
	if len(list) == 0 {
		common.Reply(h.api, chatID, "📋 У вас пока нет сделок",
			[]common.Choice{{Text: "➕ Создать сделку", Data: TokenCreate}})
		return
	}
	h.sendList(chatID, "📋 Ваши сделки", list, userID)
}

// HandleAvailable показывает свободные сделки.
func (h *Handler) HandleAvailable(ctx context.Context, chatID, userID int64) {
	list, err := h.service.ListAvailable(ctx)
	if err != nil {
		h.fail(chatID, userID, "available", err)
		return
	}
	var others []*ledger.Deal
	for _, d := range list {
		if d.CustomerID != userID {
			others = append(others, d)
		}
	}
	if len(others) == 0 {
		common.Reply(h.api, chatID, "🔍 Свободных сделок нет")
		return
	}
	h.sendList(chatID, "🔍 Свободные сделки", others, userID)
}

// HandlePayoutCommand — /payout <id> <ref>.
func (h *Handler) HandlePayoutCommand(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) < 2 {
		common.Reply(h.api, chatID, "❌ Формат: /payout <ID сделки> <ID в @CryptoBot>")
		return
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		common.Reply(h.api, chatID, "❌ Сделка не найдена")
		return
	}
	if _, err := h.service.SetPayoutRef(ctx, id, userID, args[1]); err != nil {
		h.fail(chatID, userID, "payout_ref", err)
		return
	}
	common.Reply(h.api, chatID, "✅ Реквизиты сохранены")
}

func (h *Handler) handlePay(ctx context.Context, chatID, userID int64, id uuid.UUID) {
	inv, err := h.service.RequestPayment(ctx, id, userID)
	if err != nil {
		h.fail(chatID, userID, "pay", err)
		return
	}
	common.Reply(h.api, chatID, fmt.Sprintf(
		"💳 Счёт на %s выставлен.\n\nОплатите по ссылке: %s\n\nПосле оплаты сделка обновится сама, либо нажмите «Проверить оплату».",
		common.FormatMoney(inv.Amount, inv.Asset), inv.PayURL),
		[]common.Choice{{Text: "🔄 Проверить оплату", Data: common.Token(TokenCheck, id.String())}},
	)
}

func (h *Handler) handleCheck(ctx context.Context, chatID, userID int64, id uuid.UUID) {
	d, err := h.service.VerifyPayment(ctx, id, userID)
	if err != nil {
		h.fail(chatID, userID, "check", err)
		return
	}
	common.Reply(h.api, chatID, "✅ Оплата получена!\n\n"+FormatCard(d, userID), Actions(d, userID)...)
}

func (h *Handler) handleHistory(ctx context.Context, chatID, userID int64, id uuid.UUID) {
	d, err := h.service.GetDeal(ctx, id)
	if err != nil {
		h.fail(chatID, userID, "history", err)
		return
	}
	if !d.IsParticipant(userID) && !h.service.Config().IsAdmin(userID) {
		common.Reply(h.api, chatID, "❌ Сделка не найдена")
		return
	}
	txs, err := h.service.Transactions(ctx, id)
	if err != nil {
		h.fail(chatID, userID, "history", err)
		return
	}
	common.Reply(h.api, chatID, FormatTransactions(d, txs))
}

func (h *Handler) sendList(chatID int64, title string, list []*ledger.Deal, viewer int64) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s):\n\n", title, common.CountDeals(len(list)))
	rows := make([][]common.Choice, 0, len(list))
	for _, d := range list {
		fmt.Fprintf(&b, "#%s · %s · %s\n", common.ShortID(d.ID), common.FormatMoney(d.Amount, d.Asset), d.Status.Title())
		rows = append(rows, []common.Choice{{
			Text: fmt.Sprintf("#%s %s", common.ShortID(d.ID), short(d.Description, 24)),
			Data: common.Token(TokenView, d.ID.String()),
		}})
	}
	common.Reply(h.api, chatID, b.String(), rows...)
}

// fail отвечает пользователю и логирует ошибки, которые не являются отказом guard-а.
func (h *Handler) fail(chatID, userID int64, action string, err error) {
	switch common.KindOf(err) {
	case common.KindValidation, common.KindGuard:
	default:
		log.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"action":  action,
		}).Error("Ошибка обработки сделки")
	}
	common.Reply(h.api, chatID, common.UserMessage(err))
}

// FormatCard — карточка сделки для пользователя viewer.
func FormatCard(d *ledger.Deal, viewer int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📄 Сделка #%s\n\n", common.ShortID(d.ID))
	fmt.Fprintf(&b, "Статус: %s\n", d.Status.Title())
	if d.Resolution != nil {
		fmt.Fprintf(&b, "Решение: %s\n", sideTitle(*d.Resolution))
	}
	fmt.Fprintf(&b, "Сумма: %s\n", common.FormatMoney(d.Amount, d.Asset))
	fmt.Fprintf(&b, "Комиссия: %s\n", common.FormatMoney(d.Commission, d.Asset))
	fmt.Fprintf(&b, "Исполнитель получит: %s\n", common.FormatMoney(d.Payout(), d.Asset))

	switch {
	case viewer == d.CustomerID:
		b.WriteString("Ваша роль: заказчик\n")
	case d.IsExecutor(viewer):
		b.WriteString("Ваша роль: исполнитель\n")
	}
	if !d.HasExecutor() {
		b.WriteString("Исполнитель: не назначен\n")
	}
	fmt.Fprintf(&b, "Создана: %s\n\n%s", common.FormatDateTime(d.CreatedAt), d.Description)
	return b.String()
}

// Actions — кнопки, доступные viewer в текущем статусе сделки.
func Actions(d *ledger.Deal, viewer int64) [][]common.Choice {
	id := d.ID.String()
	btn := func(text, action string) common.Choice {
		return common.Choice{Text: text, Data: common.Token(action, id)}
	}

	isCustomer := viewer == d.CustomerID
	isExecutor := d.IsExecutor(viewer)
	var rows [][]common.Choice

	switch d.Status {
	case ledger.StatusPending:
		if isCustomer {
			rows = append(rows, []common.Choice{btn("💳 Оплатить", TokenPay), btn("🔄 Проверить оплату", TokenCheck)})
			if d.HasExecutor() {
				rows = append(rows, []common.Choice{btn("➖ Снять исполнителя", TokenUnassign)})
			} else {
				rows = append(rows, []common.Choice{btn("👤 Предложить исполнителю", TokenPropose)})
			}
			rows = append(rows, []common.Choice{btn("🚫 Отменить сделку", TokenVoid)})
		} else if !d.HasExecutor() {
			rows = append(rows, []common.Choice{btn("🤝 Взять сделку", TokenAccept)})
		}
	case ledger.StatusPaid:
		if isExecutor {
			rows = append(rows, []common.Choice{btn("🔨 Начать работу", TokenStart), btn("📦 Сдать работу", TokenComplete)})
		}
	case ledger.StatusInProgress:
		if isExecutor {
			rows = append(rows, []common.Choice{btn("📦 Сдать работу", TokenComplete)})
		}
	case ledger.StatusCompleted:
		if isCustomer {
			rows = append(rows, []common.Choice{btn("✅ Подтвердить выполнение", TokenConfirm)})
		}
	}

	disputable := d.Status == ledger.StatusPaid || d.Status == ledger.StatusInProgress || d.Status == ledger.StatusCompleted
	if disputable && (isCustomer || isExecutor) {
		rows = append(rows, []common.Choice{btn("⚠️ Открыть спор", TokenDispute)})
	}
	if (isCustomer || isExecutor) && !d.Status.Terminal() {
		rows = append(rows, []common.Choice{btn("🧾 Реквизиты для выплаты", TokenPayout)})
	}
	if isCustomer || isExecutor {
		rows = append(rows, []common.Choice{btn("📜 Операции", TokenHistory)})
	}
	return rows
}

// FormatTransactions — журнал операций сделки.
func FormatTransactions(d *ledger.Deal, txs []*ledger.Transaction) string {
	if len(txs) == 0 {
		return fmt.Sprintf("📜 По сделке #%s операций пока нет", common.ShortID(d.ID))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📜 Операции по сделке #%s:\n\n", common.ShortID(d.ID))
	for _, t := range txs {
		fmt.Fprintf(&b, "%s %s · %s", common.FormatDateTime(t.CreatedAt), txTitle(t.Kind), common.FormatMoney(t.Amount, d.Asset))
		if t.Settlement == ledger.SettlementFallback {
			b.WriteString(" · на внутренний баланс")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func txTitle(k ledger.TxKind) string {
	switch k {
	case ledger.TxPayment:
		return "💳 Оплата"
	case ledger.TxRefund:
		return "↩️ Возврат"
	case ledger.TxPayout:
		return "💰 Выплата"
	case ledger.TxCommission:
		return "🏦 Комиссия"
	}
	return string(k)
}

func short(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
