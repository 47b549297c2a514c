// Package paymentstest — шлюз в памяти для тестов сервисов сделок.
package paymentstest

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"serotonyl.ru/garant-bot/internal/payments"
)

// Gateway — payments.Gateway в памяти. Переводы фиксируются по spend_id,
// повтор того же spend_id отвечает ошибкой «уже исполнен», как у CryptoPay.
type Gateway struct {
	mu sync.Mutex

	nextID   int64
	invoices map[string]payments.InvoiceStatus
	spent    map[string]decimal.Decimal
	calls    []string

	transferErr    error
	executeOnError bool
	withdrawErr    error
	invoiceErr     error
	findErr        error
}

var _ payments.Gateway = (*Gateway)(nil)

// NewGateway создаёт пустой шлюз.
func NewGateway() *Gateway {
	return &Gateway{
		invoices: make(map[string]payments.InvoiceStatus),
		spent:    make(map[string]decimal.Decimal),
	}
}

// FailTransfers заставляет Transfer возвращать err. executed — деньги всё равно уходят
// (ответ потерян по таймауту).
func (g *Gateway) FailTransfers(err error, executed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transferErr, g.executeOnError = err, executed
}

// FailWithdraw заставляет Withdraw возвращать err.
func (g *Gateway) FailWithdraw(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.withdrawErr = err
}

// FailInvoices заставляет CreateInvoice и GetInvoice возвращать err.
func (g *Gateway) FailInvoices(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoiceErr = err
}

// FailFind заставляет FindTransfer возвращать err.
func (g *Gateway) FailFind(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.findErr = err
}

// Pay отмечает счёт оплаченным.
func (g *Gateway) Pay(invoiceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices[invoiceID] = payments.InvoicePaid
}

// Spend фиксирует перевод в обход Transfer: деньги ушли, а приложение об этом не знает.
func (g *Gateway) Spend(spendID string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spent[spendID] = amount
}

// Spent возвращает сумму исполненного перевода.
func (g *Gateway) Spent(spendID string) (decimal.Decimal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	amount, ok := g.spent[spendID]
	return amount, ok
}

// Calls возвращает вызовы в виде "op:spend_id".
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *Gateway) CreateInvoice(_ context.Context, _ string, _ decimal.Decimal, _ string) (*payments.InvoiceLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, "create_invoice:")
	if g.invoiceErr != nil {
		return nil, g.invoiceErr
	}
	g.nextID++
	id := strconv.FormatInt(g.nextID, 10)
	g.invoices[id] = payments.InvoiceActive
	return &payments.InvoiceLink{ID: id, PayURL: "https://t.me/CryptoBot?start=" + id}, nil
}

func (g *Gateway) GetInvoice(_ context.Context, invoiceID string) (*payments.InvoiceState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, "get_invoice:"+invoiceID)
	if g.invoiceErr != nil {
		return nil, g.invoiceErr
	}
	status, ok := g.invoices[invoiceID]
	if !ok {
		return nil, payments.ErrInvoiceNotFound
	}
	return &payments.InvoiceState{ID: invoiceID, Status: status}, nil
}

func (g *Gateway) Transfer(_ context.Context, _ int64, _ string, amount decimal.Decimal, spendID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, "transfer:"+spendID)
	return g.spend(spendID, amount, g.transferErr)
}

func (g *Gateway) Withdraw(_ context.Context, _ string, amount decimal.Decimal, _, spendID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, "withdraw:"+spendID)
	return g.spend(spendID, amount, g.withdrawErr)
}

func (g *Gateway) spend(spendID string, amount decimal.Decimal, failure error) error {
	if _, ok := g.spent[spendID]; ok {
		return &payments.APIError{Code: 400, Name: "SPEND_ID_ALREADY_USED"}
	}
	if failure != nil {
		if g.executeOnError {
			g.spent[spendID] = amount
		}
		return failure
	}
	g.spent[spendID] = amount
	return nil
}

func (g *Gateway) FindTransfer(_ context.Context, spendID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, "get_transfers:"+spendID)
	if g.findErr != nil {
		return false, g.findErr
	}
	_, ok := g.spent[spendID]
	return ok, nil
}
