// Package payments — работа с платёжным шлюзом.
// gateway.go описывает контракт шлюза. Реализация для CryptoPay в cryptopay.go,
// сервисы получают шлюз только через Adapter.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus — статус счёта на стороне шлюза.
type InvoiceStatus string

const (
	InvoiceActive  InvoiceStatus = "active"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceExpired InvoiceStatus = "expired"
)

// InvoiceLink — созданный счёт.
type InvoiceLink struct {
	ID     string
	PayURL string
}

// InvoiceState — текущее состояние счёта.
type InvoiceState struct {
	ID     string
	Status InvoiceStatus
	Amount decimal.Decimal
	Asset  string
	PaidAt *time.Time
}

// Gateway — внешний платёжный шлюз.
type Gateway interface {
	CreateInvoice(ctx context.Context, asset string, amount decimal.Decimal, description string) (*InvoiceLink, error)
	GetInvoice(ctx context.Context, invoiceID string) (*InvoiceState, error)
	// Transfer переводит деньги пользователю шлюза. spendID делает вызов идемпотентным.
	Transfer(ctx context.Context, userID int64, asset string, amount decimal.Decimal, spendID, comment string) error
	// Withdraw выводит деньги на внешний адрес.
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address, spendID string) error
	// FindTransfer проверяет, исполнен ли перевод с данным spendID.
	FindTransfer(ctx context.Context, spendID string) (bool, error)
}

var (
	// ErrAlreadySpent — шлюз уже исполнил перевод с этим spend_id. Для нас это успех.
	ErrAlreadySpent = errors.New("перевод с этим spend_id уже выполнен")
	// ErrInvoiceNotFound — шлюз не знает такой счёт.
	ErrInvoiceNotFound = errors.New("счёт не найден в шлюзе")
)

// APIError — ошибка из ответа шлюза.
type APIError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cryptopay: %d %s", e.Code, e.Name)
}

// Is позволяет проверять повтор через errors.Is(err, ErrAlreadySpent).
func (e *APIError) Is(target error) bool {
	return target == ErrAlreadySpent && strings.Contains(strings.ToUpper(e.Name), "ALREADY")
}

// IsTimeout — вызов не дождался ответа, результат на стороне шлюза неизвестен.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
