// Package notifications — уведомления участникам сделок.
// Каждое уведомление сохраняется в журнал и отправляется через Messenger.
// Ошибка доставки никогда не откатывает переход сделки.
package notifications

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// Типы уведомлений.
const (
	TypeDealCreated   = "deal_created"
	TypeDealAssigned  = "deal_assigned"
	TypeDealPaid      = "deal_paid"
	TypeWorkStarted   = "work_started"
	TypeWorkCompleted = "work_completed"
	TypeDealSettled   = "deal_settled"
	TypeDispute       = "dispute"
	TypeResolved      = "dispute_resolved"
	TypeDealVoided    = "deal_voided"
	TypeOffer         = "offer"
	TypeOfferAnswered = "offer_answered"
	TypeExecutorLeft  = "executor_removed"
)

// Notice — уведомление, которое нужно отправить.
type Notice struct {
	UserID  int64
	DealID  *uuid.UUID
	Type    string
	Text    string
	Choices [][]common.Choice
}

// Messenger доставляет сообщение пользователю.
type Messenger interface {
	Send(ctx context.Context, userID int64, text string, choices [][]common.Choice) error
}

// Store — часть ledger.Store для уведомлений.
type Store interface {
	AddNotification(ctx context.Context, n *ledger.Notification) error
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*ledger.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID int64) (int, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
}

// Service сохраняет и отправляет уведомления.
type Service struct {
	store     Store
	messenger Messenger
}

// NewService создаёт сервис. messenger может быть nil (CLI): тогда только сохраняем.
func NewService(store Store, messenger Messenger) *Service {
	return &Service{store: store, messenger: messenger}
}

// SetMessenger подключает отправку после создания бота.
func (s *Service) SetMessenger(m Messenger) {
	s.messenger = m
}

// Notify сохраняет и отправляет одно уведомление.
func (s *Service) Notify(ctx context.Context, n Notice) error {
	logger := log.WithFields(log.Fields{"user_id": n.UserID, "type": n.Type})
	var errs error

	rec := &ledger.Notification{UserID: n.UserID, DealID: n.DealID, Type: n.Type, Message: n.Text}
	if err := s.store.AddNotification(ctx, rec); err != nil {
		logger.WithError(err).Warn("Не удалось сохранить уведомление")
		errs = multierr.Append(errs, err)
	}

	if s.messenger != nil {
		if err := s.messenger.Send(ctx, n.UserID, n.Text, n.Choices); err != nil {
			logger.WithError(err).Warn("Не удалось доставить уведомление")
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		return common.Notification("notify", errs)
	}
	return nil
}

// NotifyMany отправляет все уведомления и собирает ошибки.
func (s *Service) NotifyMany(ctx context.Context, notices ...Notice) error {
	var errs error
	for _, n := range notices {
		errs = multierr.Append(errs, s.Notify(ctx, n))
	}
	return errs
}

// NotifyUsers отправляет одно уведомление нескольким получателям (например, всем админам).
func (s *Service) NotifyUsers(ctx context.Context, userIDs []int64, n Notice) error {
	notices := make([]Notice, 0, len(userIDs))
	for _, id := range userIDs {
		c := n
		c.UserID = id
		notices = append(notices, c)
	}
	return s.NotifyMany(ctx, notices...)
}

// List возвращает последние уведомления пользователя.
func (s *Service) List(ctx context.Context, userID int64, unreadOnly bool) ([]*ledger.Notification, error) {
	list, err := s.store.ListNotifications(ctx, userID, unreadOnly, 20)
	if err != nil {
		return nil, common.Persistence("list_notifications", err)
	}
	return list, nil
}

// MarkAllRead помечает все уведомления прочитанными.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	n, err := s.store.MarkNotificationsRead(ctx, userID)
	if err != nil {
		return 0, common.Persistence("mark_read", err)
	}
	return n, nil
}

// UnreadCount — число непрочитанных уведомлений.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	n, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, common.Persistence("count_unread", err)
	}
	return n, nil
}
