// Package admin — service.go содержит операции админ-панели: статистику,
// поиск сделок, решение споров и обслуживание журнала.
package admin

import (
	"context"
	"errors"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// Store — часть ledger.Store, которую читает админка.
type Store interface {
	Stats(ctx context.Context) (*ledger.Stats, error)
	ListRecentDeals(ctx context.Context, limit int) ([]*ledger.Deal, error)
	ListRecentUsers(ctx context.Context, limit int) ([]*ledger.User, error)
	GetDeal(ctx context.Context, id uuid.UUID) (*ledger.Deal, error)
	ListTransactions(ctx context.Context, dealID uuid.UUID) ([]*ledger.Transaction, error)
	ArchiveSettledDeals(ctx context.Context) (int, error)
}

// Resolver решает споры (disputes.Resolver).
type Resolver interface {
	Resolve(ctx context.Context, adminID int64, dealID uuid.UUID, side ledger.Side) (*ledger.Deal, error)
}

// Maintainer — фоновые операции сделок, которые админ может запустить вручную.
type Maintainer interface {
	RepairTransfers(ctx context.Context) (int, error)
	PollPendingInvoices(ctx context.Context) (int, error)
}

// DealReport — сделка вместе с журналом операций.
type DealReport struct {
	Deal         *ledger.Deal
	Transactions []*ledger.Transaction
}

// Service управляет админ-панелью.
type Service struct {
	store      Store
	resolver   Resolver
	maintainer Maintainer
	adminIDs   []int64
}

// NewService создаёт сервис админ-панели.
func NewService(store Store, resolver Resolver, maintainer Maintainer, adminIDs []int64) *Service {
	return &Service{
		store:      store,
		resolver:   resolver,
		maintainer: maintainer,
		adminIDs:   adminIDs,
	}
}

// IsAdmin проверяет allow-list.
func (s *Service) IsAdmin(userID int64) bool {
	for _, id := range s.adminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AdminIDs возвращает список администраторов.
func (s *Service) AdminIDs() []int64 { return s.adminIDs }

// Stats — сводка по пользователям и сделкам.
func (s *Service) Stats(ctx context.Context) (*ledger.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, common.Persistence("stats", err)
	}
	return st, nil
}

// RecentDeals — последние сделки.
func (s *Service) RecentDeals(ctx context.Context) ([]*ledger.Deal, error) {
	list, err := s.store.ListRecentDeals(ctx, listLimit)
	if err != nil {
		return nil, common.Persistence("list_recent_deals", err)
	}
	return list, nil
}

// RecentUsers — последние зарегистрированные пользователи.
func (s *Service) RecentUsers(ctx context.Context) ([]*ledger.User, error) {
	list, err := s.store.ListRecentUsers(ctx, listLimit)
	if err != nil {
		return nil, common.Persistence("list_recent_users", err)
	}
	return list, nil
}

// FindDeal ищет сделку по полному ID и возвращает её с журналом.
func (s *Service) FindDeal(ctx context.Context, rawID string) (*DealReport, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, common.Validation(common.ErrDealNotFound)
	}
	d, err := s.store.GetDeal(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrDealNotFound) {
			return nil, common.Validation(err)
		}
		return nil, common.Persistence("get_deal", err)
	}
	txs, err := s.store.ListTransactions(ctx, id)
	if err != nil {
		return nil, common.Persistence("list_transactions", err)
	}
	return &DealReport{Deal: d, Transactions: txs}, nil
}

// Resolve решает спор по сделке.
func (s *Service) Resolve(ctx context.Context, adminID int64, dealID uuid.UUID, side ledger.Side) (*ledger.Deal, error) {
	return s.resolver.Resolve(ctx, adminID, dealID, side)
}

// Archive удаляет завершённые сделки без денег в пути.
func (s *Service) Archive(ctx context.Context) (int, error) {
	n, err := s.store.ArchiveSettledDeals(ctx)
	if err != nil {
		return 0, common.Persistence("archive", err)
	}
	log.WithField("deals", n).Info("Завершённые сделки архивированы")
	return n, nil
}

// Repair запускает сверку переводов и опрос счетов.
func (s *Service) Repair(ctx context.Context) (transfers, invoices int, err error) {
	transfers, err = s.maintainer.RepairTransfers(ctx)
	if err != nil {
		return transfers, 0, err
	}
	invoices, err = s.maintainer.PollPendingInvoices(ctx)
	return transfers, invoices, err
}
