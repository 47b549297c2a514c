// Package users — service.go регистрирует пользователей бота и отдаёт их данные.
// Пользователь создаётся или обновляется при каждом входящем сообщении,
// поэтому назначение по @username видит актуальный handle.
package users

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// Store — часть ledger.Store для пользователей.
type Store interface {
	UpsertUser(ctx context.Context, u *ledger.User) error
	GetUser(ctx context.Context, userID int64) (*ledger.User, error)
	GetUserByUsername(ctx context.Context, username string) (*ledger.User, error)
}

// Service управляет пользователями.
type Service struct {
	store Store
}

// NewService создаёт сервис пользователей.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// EnsureUser гарантирует, что пользователь есть в базе, и обновляет имя и username.
func (s *Service) EnsureUser(ctx context.Context, userID int64, username, firstName, lastName string) error {
	err := s.store.UpsertUser(ctx, &ledger.User{
		UserID:    userID,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
	})
	if err != nil {
		return common.Persistence("upsert_user", err)
	}
	log.WithFields(log.Fields{"user_id": userID, "username": username}).Debug("Пользователь обновлён")
	return nil
}

// GetByUserID возвращает пользователя по Telegram ID.
func (s *Service) GetByUserID(ctx context.Context, userID int64) (*ledger.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, wrap("get_user", err)
	}
	return u, nil
}

// GetByUsername возвращает пользователя по @username (без @).
func (s *Service) GetByUsername(ctx context.Context, username string) (*ledger.User, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, wrap("get_user_by_username", err)
	}
	return u, nil
}

// Balance — внутренний баланс. Пополняется только fallback-выплатами.
func (s *Service) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, common.Persistence("get_user", err)
	}
	return u.Balance, nil
}

func wrap(op string, err error) error {
	if errors.Is(err, common.ErrUserNotFound) {
		return common.Validation(err)
	}
	return common.Persistence(op, err)
}
