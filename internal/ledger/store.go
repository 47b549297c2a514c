// Package ledger — store.go описывает контракт хранилища.
// Все изменения одной сделки идут через MutateDeal: проверка guard-а и запись
// эффектов выполняются в одной транзакции над заблокированной строкой.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MutateFunc получает заблокированную копию сделки, меняет её и возвращает эффекты.
// Ошибка отменяет всю операцию.
type MutateFunc func(d *Deal) (*Effects, error)

// Store — хранилище пользователей, сделок и журнала.
type Store interface {
	// Пользователи
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListRecentUsers(ctx context.Context, limit int) ([]*User, error)

	// Сделки
	CreateDeal(ctx context.Context, d *Deal) error
	GetDeal(ctx context.Context, id uuid.UUID) (*Deal, error)
	MutateDeal(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Deal, error)
	ListDealsByUser(ctx context.Context, userID int64, limit int) ([]*Deal, error)
	ListAvailableDeals(ctx context.Context, limit int) ([]*Deal, error)
	ListRecentDeals(ctx context.Context, limit int) ([]*Deal, error)
	ListTransactions(ctx context.Context, dealID uuid.UUID) ([]*Transaction, error)

	// Счета
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	LatestInvoice(ctx context.Context, dealID uuid.UUID) (*Invoice, error)
	ListPendingInvoices(ctx context.Context, since time.Time, limit int) ([]*Invoice, error)
	MarkInvoicePaid(ctx context.Context, invoiceID string) error

	// Предложения
	CreateOffer(ctx context.Context, o *Offer) error
	GetOffer(ctx context.Context, id int64) (*Offer, error)
	TransitionOffer(ctx context.Context, id int64, from, to OfferStatus) (*Offer, error)
	ListOffersByRecipient(ctx context.Context, userID int64, status OfferStatus) ([]*Offer, error)
	ListOffersBySender(ctx context.Context, userID int64) ([]*Offer, error)

	// Уведомления
	AddNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*Notification, error)
	MarkNotificationsRead(ctx context.Context, userID int64) (int, error)
	CountUnread(ctx context.Context, userID int64) (int, error)

	// Переводы
	GetTransfer(ctx context.Context, key string) (*Transfer, error)
	FinalizeTransfer(ctx context.Context, key string, out TransferOutcome) (*Transfer, bool, error)
	ListPendingTransfers(ctx context.Context, olderThan time.Time, limit int) ([]*Transfer, error)
	ListUncertainTransfers(ctx context.Context, limit int) ([]*Transfer, error)
	ResolveUncertain(ctx context.Context, key string, lateSuccess bool) (*Transfer, error)

	// Админка
	Stats(ctx context.Context) (*Stats, error)
	ArchiveSettledDeals(ctx context.Context) (int, error)
}

// terminalStatuses — статусы, которые можно архивировать.
var terminalStatuses = []Status{StatusSettled, StatusResolved, StatusVoided}

// TransactionSum считает сумму транзакций заданного типа.
func TransactionSum(txs []*Transaction, kinds ...TxKind) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range txs {
		for _, k := range kinds {
			if t.Kind == k {
				sum = sum.Add(t.Amount)
			}
		}
	}
	return sum
}
