// Package offers — назначение исполнителя по @username и предложения стать исполнителем.
// Предложение принимается в два шага: сначала CAS по статусу предложения фиксирует accepted
// (без блокировки сделки), затем назначение идёт тем же примитивом Assign под deal:<id>.
// Если сделку успели занять, предложение остаётся accepted, а вызывающий получает ErrExecutorBound.
package offers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/features/deals"
	"serotonyl.ru/garant-bot/internal/features/notifications"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// Действия inline-кнопок. Аргумент — ID предложения.
const (
	TokenAccept = "offer_accept"
	TokenReject = "offer_reject"
)

// usernameRe — формат Telegram username.
var usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{4,31}$`)

// Store — часть ledger.Store для предложений.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*ledger.User, error)
	GetDeal(ctx context.Context, id uuid.UUID) (*ledger.Deal, error)
	CreateOffer(ctx context.Context, o *ledger.Offer) error
	GetOffer(ctx context.Context, id int64) (*ledger.Offer, error)
	TransitionOffer(ctx context.Context, id int64, from, to ledger.OfferStatus) (*ledger.Offer, error)
	ListOffersByRecipient(ctx context.Context, userID int64, status ledger.OfferStatus) ([]*ledger.Offer, error)
	ListOffersBySender(ctx context.Context, userID int64) ([]*ledger.Offer, error)
}

// Assigner — примитив назначения исполнителя.
type Assigner interface {
	Assign(ctx context.Context, id uuid.UUID, actor, executor int64) (*ledger.Deal, error)
}

// Negotiator управляет предложениями.
type Negotiator struct {
	store    Store
	deals    Assigner
	notifier deals.Notifier
}

// NewNegotiator создаёт сервис предложений.
func NewNegotiator(store Store, assigner Assigner, notifier deals.Notifier) *Negotiator {
	return &Negotiator{store: store, deals: assigner, notifier: notifier}
}

// NormalizeUsername убирает @ и проверяет формат.
func NormalizeUsername(s string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(s), "@")
	if !usernameRe.MatchString(name) {
		return "", common.Validation(common.ErrBadUsername)
	}
	return name, nil
}

func (n *Negotiator) findUser(ctx context.Context, username string) (*ledger.User, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	u, err := n.store.GetUserByUsername(ctx, name)
	if err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			return nil, common.Validation(err)
		}
		return nil, common.Persistence("get_user_by_username", err)
	}
	return u, nil
}

// AssignByUsername — заказчик сразу назначает исполнителя по @username.
func (n *Negotiator) AssignByUsername(ctx context.Context, dealID uuid.UUID, customer int64, username string) (*ledger.Deal, error) {
	u, err := n.findUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return n.deals.Assign(ctx, dealID, customer, u.UserID)
}

// Propose отправляет пользователю предложение стать исполнителем.
// По сделке может быть только одно ожидающее предложение.
func (n *Negotiator) Propose(ctx context.Context, dealID uuid.UUID, customer int64, username string) (*ledger.Offer, error) {
	u, err := n.findUser(ctx, username)
	if err != nil {
		return nil, err
	}

	d, err := n.store.GetDeal(ctx, dealID)
	if err != nil {
		if errors.Is(err, common.ErrDealNotFound) {
			return nil, common.Validation(err)
		}
		return nil, common.Persistence("get_deal", err)
	}
	switch {
	case d.CustomerID != customer:
		return nil, common.Guard(common.ErrNotParticipant)
	case u.UserID == customer:
		return nil, common.Validation(common.ErrSelfDeal)
	case d.Status != ledger.StatusPending:
		return nil, common.Guard(common.ErrWrongStatus)
	case d.HasExecutor():
		return nil, common.Guard(common.ErrExecutorBound)
	}

	o := &ledger.Offer{DealID: dealID, FromUserID: customer, ToUserID: u.UserID}
	if err := n.store.CreateOffer(ctx, o); err != nil {
		if errors.Is(err, common.ErrOfferPending) {
			return nil, common.Guard(err)
		}
		return nil, common.Persistence("create_offer", err)
	}

	log.WithFields(log.Fields{
		"deal_id":  dealID,
		"offer_id": o.ID,
		"from":     customer,
		"to":       u.UserID,
	}).Info("Предложение отправлено")

	offerID := fmt.Sprint(o.ID)
	err = n.notifier.NotifyMany(ctx, notifications.Notice{
		UserID: u.UserID,
		DealID: &d.ID,
		Type:   notifications.TypeOffer,
		Text: fmt.Sprintf("📨 Вам предлагают стать исполнителем сделки #%s на %s:\n\n%s",
			common.ShortID(d.ID), common.FormatMoney(d.Amount, d.Asset), d.Description),
		Choices: [][]common.Choice{{
			{Text: "✅ Принять", Data: common.Token(TokenAccept, offerID)},
			{Text: "❌ Отклонить", Data: common.Token(TokenReject, offerID)},
		}},
	})
	if err != nil {
		log.WithError(err).WithField("offer_id", o.ID).Warn("Получатель не уведомлён о предложении")
	}
	return o, nil
}

func (n *Negotiator) recipientOffer(ctx context.Context, offerID, recipient int64) (*ledger.Offer, error) {
	o, err := n.store.GetOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, common.ErrOfferNotFound) {
			return nil, common.Validation(err)
		}
		return nil, common.Persistence("get_offer", err)
	}
	if o.ToUserID != recipient {
		return nil, common.Guard(common.ErrNotParticipant)
	}
	return o, nil
}

func (n *Negotiator) transition(ctx context.Context, o *ledger.Offer, to ledger.OfferStatus) (*ledger.Offer, error) {
	updated, err := n.store.TransitionOffer(ctx, o.ID, ledger.OfferPending, to)
	if err != nil {
		if errors.Is(err, common.ErrOfferClosed) {
			return nil, common.Guard(err)
		}
		return nil, common.Persistence("transition_offer", err)
	}
	return updated, nil
}

// Accept принимает предложение и назначает получателя исполнителем.
func (n *Negotiator) Accept(ctx context.Context, offerID, recipient int64) (*ledger.Deal, error) {
	o, err := n.recipientOffer(ctx, offerID, recipient)
	if err != nil {
		return nil, err
	}
	if _, err := n.transition(ctx, o, ledger.OfferAccepted); err != nil {
		return nil, err
	}

	d, err := n.deals.Assign(ctx, o.DealID, recipient, recipient)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"deal_id":  o.DealID,
			"offer_id": o.ID,
		}).Warn("Предложение принято, но назначить исполнителя не удалось")
		return nil, err
	}
	return d, nil
}

// Reject отклоняет предложение. Сделка не меняется.
func (n *Negotiator) Reject(ctx context.Context, offerID, recipient int64) error {
	o, err := n.recipientOffer(ctx, offerID, recipient)
	if err != nil {
		return err
	}
	if _, err := n.transition(ctx, o, ledger.OfferRejected); err != nil {
		return err
	}

	dealID := o.DealID
	err = n.notifier.NotifyMany(ctx, notifications.Notice{
		UserID: o.FromUserID,
		DealID: &dealID,
		Type:   notifications.TypeOfferAnswered,
		Text:   fmt.Sprintf("❌ Предложение по сделке #%s отклонено.", common.ShortID(o.DealID)),
	})
	if err != nil {
		log.WithError(err).WithField("offer_id", o.ID).Warn("Отправитель не уведомлён об отказе")
	}
	return nil
}

// Incoming — ожидающие предложения пользователю.
func (n *Negotiator) Incoming(ctx context.Context, userID int64) ([]*ledger.Offer, error) {
	list, err := n.store.ListOffersByRecipient(ctx, userID, ledger.OfferPending)
	if err != nil {
		return nil, common.Persistence("list_incoming_offers", err)
	}
	return list, nil
}

// Sent — предложения, отправленные пользователем.
func (n *Negotiator) Sent(ctx context.Context, userID int64) ([]*ledger.Offer, error) {
	list, err := n.store.ListOffersBySender(ctx, userID)
	if err != nil {
		return nil, common.Persistence("list_sent_offers", err)
	}
	return list, nil
}
