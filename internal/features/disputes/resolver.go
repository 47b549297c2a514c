// Package disputes — решение споров администратором.
// Спор закрывается переходом Disputed → Resolved{сторона}, затем деньги уходят
// выбранной стороне через общий конвейер выплат сделок.
package disputes

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/features/deals"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// DealService — часть deals.Service, нужная для решения спора.
type DealService interface {
	Apply(ctx context.Context, id uuid.UUID, cmd deals.Command) (*deals.Outcome, error)
	Settle(ctx context.Context, dealID uuid.UUID, transfers []ledger.Transfer) error
}

// Resolver решает споры.
type Resolver struct {
	deals    DealService
	notifier deals.Notifier
	adminIDs []int64
}

// NewResolver создаёт резолвер с явным списком администраторов.
func NewResolver(dealService DealService, notifier deals.Notifier, adminIDs []int64) *Resolver {
	return &Resolver{deals: dealService, notifier: notifier, adminIDs: adminIDs}
}

func (r *Resolver) isAdmin(userID int64) bool {
	for _, id := range r.adminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Resolve закрывает спор в пользу side.
// Ошибка уведомлений только логируется: решение и выплата уже зафиксированы.
func (r *Resolver) Resolve(ctx context.Context, adminID int64, dealID uuid.UUID, side ledger.Side) (*ledger.Deal, error) {
	if !r.isAdmin(adminID) {
		return nil, common.Guard(common.ErrNotAdmin)
	}
	if _, ok := ledger.ParseSide(string(side)); !ok {
		return nil, common.Validation(common.ErrBadSide)
	}

	out, err := r.deals.Apply(ctx, dealID, deals.Command{
		Action:  deals.ActionResolve,
		Actor:   adminID,
		IsAdmin: true,
		Side:    side,
	})
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"deal_id": dealID,
		"admin":   adminID,
		"side":    side,
	})
	logger.Info("Спор решён")

	if err := r.deals.Settle(ctx, dealID, out.Effects.Transfers); err != nil {
		// Намерения переводов сохранены, их доделает задача сверки.
		logger.WithError(err).Error("Выплата по спору не завершена")
	}

	if err := r.notifier.NotifyMany(ctx, out.Notices...); err != nil {
		logger.WithError(err).Warn("Не все стороны уведомлены о решении")
	}
	return &out.Deal, nil
}
