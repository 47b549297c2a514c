// Package offers — handlers.go: команды /offer и /assign, кнопки принятия и отказа.
package offers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/features/deals"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// TokenList — экран предложений.
const TokenList = "offers"

// StateUsername — ждём @username получателя предложения.
const StateUsername = "offer_username"

// Handler обрабатывает предложения.
type Handler struct {
	negotiator *Negotiator
	dialogs    *common.Dialogs
	api        common.TelegramAPI
}

// NewHandler создаёт обработчик.
func NewHandler(negotiator *Negotiator, dialogs *common.Dialogs, api common.TelegramAPI) *Handler {
	return &Handler{negotiator: negotiator, dialogs: dialogs, api: api}
}

// HandleMessage принимает @username после кнопки «Предложить исполнителю».
func (h *Handler) HandleMessage(ctx context.Context, chatID, userID int64, text string) bool {
	state := h.dialogs.Get(userID)
	if state == nil || state.State != StateUsername {
		return false
	}
	h.dialogs.Clear(userID)
	h.propose(ctx, chatID, userID, state.Data.(uuid.UUID), text)
	return true
}

// HandleCallback обрабатывает кнопки предложений.
func (h *Handler) HandleCallback(ctx context.Context, chatID, userID int64, action string, args []string) bool {
	switch action {
	case TokenList:
		h.HandleList(ctx, chatID, userID)
		return true

	case deals.TokenPropose:
		if len(args) == 0 {
			return true
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			common.Reply(h.api, chatID, "❌ Сделка не найдена")
			return true
		}
		h.dialogs.Set(userID, StateUsername, id)
		common.Reply(h.api, chatID, "👤 Отправьте @username пользователя, которому предложить сделку. Он должен хотя бы раз запустить бота.")
		return true

	case TokenAccept, TokenReject:
		if len(args) == 0 {
			return true
		}
		offerID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			common.Reply(h.api, chatID, "❌ Предложение не найдено")
			return true
		}
		if action == TokenAccept {
			h.accept(ctx, chatID, userID, offerID)
		} else {
			h.reject(ctx, chatID, userID, offerID)
		}
		return true
	}
	return false
}

// HandleOfferCommand — /offer <ID сделки> @username.
func (h *Handler) HandleOfferCommand(ctx context.Context, chatID, userID int64, args []string) {
	id, username, ok := h.parseArgs(chatID, "/offer", args)
	if !ok {
		return
	}
	h.propose(ctx, chatID, userID, id, username)
}

// HandleAssignCommand — /assign <ID сделки> @username, назначение без согласия исполнителя.
func (h *Handler) HandleAssignCommand(ctx context.Context, chatID, userID int64, args []string) {
	id, username, ok := h.parseArgs(chatID, "/assign", args)
	if !ok {
		return
	}
	d, err := h.negotiator.AssignByUsername(ctx, id, userID, username)
	if err != nil {
		h.fail(chatID, userID, "assign", err)
		return
	}
	common.Reply(h.api, chatID, "✅ Исполнитель назначен\n\n"+deals.FormatCard(d, userID), deals.Actions(d, userID)...)
}

// HandleList показывает входящие и отправленные предложения.
func (h *Handler) HandleList(ctx context.Context, chatID, userID int64) {
	incoming, err := h.negotiator.Incoming(ctx, userID)
	if err != nil {
		h.fail(chatID, userID, "offers", err)
		return
	}
	sent, err := h.negotiator.Sent(ctx, userID)
	if err != nil {
		h.fail(chatID, userID, "offers", err)
		return
	}
	if len(incoming) == 0 && len(sent) == 0 {
		common.Reply(h.api, chatID, "📨 Предложений нет")
		return
	}

	var b strings.Builder
	var rows [][]common.Choice
	if len(incoming) > 0 {
		b.WriteString("📥 Вам предлагают:\n")
		for _, o := range incoming {
			fmt.Fprintf(&b, "• сделка #%s\n", common.ShortID(o.DealID))
			offerID := strconv.FormatInt(o.ID, 10)
			rows = append(rows, []common.Choice{
				{Text: fmt.Sprintf("✅ #%s", common.ShortID(o.DealID)), Data: common.Token(TokenAccept, offerID)},
				{Text: "❌", Data: common.Token(TokenReject, offerID)},
			})
		}
		b.WriteString("\n")
	}
	if len(sent) > 0 {
		b.WriteString("📤 Вы предложили:\n")
		for _, o := range sent {
			fmt.Fprintf(&b, "• сделка #%s — %s\n", common.ShortID(o.DealID), statusTitle(o.Status))
		}
	}
	common.Reply(h.api, chatID, b.String(), rows...)
}

func (h *Handler) parseArgs(chatID int64, cmd string, args []string) (uuid.UUID, string, bool) {
	if len(args) < 2 {
		common.Reply(h.api, chatID, fmt.Sprintf("❌ Формат: %s <ID сделки> @username", cmd))
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		common.Reply(h.api, chatID, "❌ Сделка не найдена")
		return uuid.Nil, "", false
	}
	return id, args[1], true
}

func (h *Handler) propose(ctx context.Context, chatID, userID int64, dealID uuid.UUID, username string) {
	if _, err := h.negotiator.Propose(ctx, dealID, userID, username); err != nil {
		h.fail(chatID, userID, "propose", err)
		return
	}
	common.Reply(h.api, chatID, fmt.Sprintf("📨 Предложение по сделке #%s отправлено %s", common.ShortID(dealID), username))
}

func (h *Handler) accept(ctx context.Context, chatID, userID, offerID int64) {
	d, err := h.negotiator.Accept(ctx, offerID, userID)
	if err != nil {
		h.fail(chatID, userID, "offer_accept", err)
		return
	}
	common.Reply(h.api, chatID, "🤝 Вы исполнитель сделки\n\n"+deals.FormatCard(d, userID), deals.Actions(d, userID)...)
}

func (h *Handler) reject(ctx context.Context, chatID, userID, offerID int64) {
	if err := h.negotiator.Reject(ctx, offerID, userID); err != nil {
		h.fail(chatID, userID, "offer_reject", err)
		return
	}
	common.Reply(h.api, chatID, "❌ Предложение отклонено")
}

func (h *Handler) fail(chatID, userID int64, action string, err error) {
	switch common.KindOf(err) {
	case common.KindValidation, common.KindGuard:
	default:
		log.WithError(err).WithFields(log.Fields{"user_id": userID, "action": action}).Error("Ошибка обработки предложения")
	}
	common.Reply(h.api, chatID, common.UserMessage(err))
}

func statusTitle(s ledger.OfferStatus) string {
	switch s {
	case ledger.OfferPending:
		return "ждёт ответа"
	case ledger.OfferAccepted:
		return "принято"
	case ledger.OfferRejected:
		return "отклонено"
	}
	return string(s)
}
