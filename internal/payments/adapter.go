package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
	"serotonyl.ru/garant-bot/internal/metrics"
)

// Пометки в memo fallback-транзакций.
const (
	MemoNoRecipient  = "нет реквизитов"
	MemoGatewayError = "ошибка шлюза"
)

// Причины fallback для метрик.
const (
	reasonNoRecipient = "no_recipient"
	reasonGateway     = "gateway_error"
	reasonTimeout     = "timeout"
)

// AdapterConfig — настройки выплат.
type AdapterConfig struct {
	// Timeout ограничивает каждый вызов шлюза.
	Timeout time.Duration
	// CommissionAddress — внешний адрес для вывода комиссии. Пусто — вывод не пробуем.
	CommissionAddress string
	// FallbackWalletID — служебный аккаунт @CryptoBot для комиссии. 0 — не задан.
	FallbackWalletID int64
}

// Adapter оборачивает Gateway: таймауты, классификация ошибок, fallback, метрики.
type Adapter struct {
	gw      Gateway
	cfg     AdapterConfig
	metrics *metrics.Metrics
}

// NewAdapter создаёт адаптер.
func NewAdapter(gw Gateway, cfg AdapterConfig, m *metrics.Metrics) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{gw: gw, cfg: cfg, metrics: m}
}

// ParseRecipient разбирает реквизиты получателя: числовой ID пользователя @CryptoBot.
func ParseRecipient(ref string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// observe вызывает fn с таймаутом, пишет метрики и лог.
func (a *Adapter) observe(ctx context.Context, op, spendID string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	elapsed := time.Since(start)
	a.metrics.GatewayCall(op, err, elapsed)

	entry := log.WithFields(log.Fields{
		"op":       op,
		"spend_id": spendID,
		"duration": elapsed.String(),
	})
	if err != nil {
		entry.WithError(err).Warn("Вызов шлюза завершился ошибкой")
	} else {
		entry.Debug("Вызов шлюза выполнен")
	}
	return err
}

// CreateInvoice выставляет счёт на запрошенную сумму сделки.
func (a *Adapter) CreateInvoice(ctx context.Context, deal *ledger.Deal) (*ledger.Invoice, error) {
	amount := deal.InvoiceAmount()
	description := fmt.Sprintf("Оплата сделки #%s", common.ShortID(deal.ID))

	var link *InvoiceLink
	err := a.observe(ctx, "create_invoice", "", func(ctx context.Context) error {
		var err error
		link, err = a.gw.CreateInvoice(ctx, deal.Asset, amount, description)
		return err
	})
	if err != nil {
		return nil, common.Gateway("create_invoice", err)
	}
	if link == nil || link.ID == "" {
		return nil, common.Gateway("create_invoice", errors.New("шлюз не вернул ID счёта"))
	}

	return &ledger.Invoice{
		ID:          link.ID,
		DealID:      deal.ID,
		UserID:      deal.CustomerID,
		Amount:      amount,
		Asset:       deal.Asset,
		Description: description,
		PayURL:      link.PayURL,
		Status:      ledger.InvoicePending,
	}, nil
}

// PollStatus проверяет, оплачен ли счёт. Повторные вызовы безопасны.
func (a *Adapter) PollStatus(ctx context.Context, invoiceID string) (bool, error) {
	var state *InvoiceState
	err := a.observe(ctx, "get_invoice", "", func(ctx context.Context) error {
		var err error
		state, err = a.gw.GetInvoice(ctx, invoiceID)
		return err
	})
	if err != nil {
		return false, common.Gateway("get_invoice", err)
	}
	return state.Status == InvoicePaid, nil
}

// Execute исполняет перевод. Ошибки шлюза сюда не пробрасываются:
// любая неудача превращается в fallback-результат с пометкой в memo.
func (a *Adapter) Execute(ctx context.Context, t *ledger.Transfer) ledger.TransferOutcome {
	if t.Kind == ledger.TxCommission {
		return a.executeCommission(ctx, t)
	}

	userID, ok := ParseRecipient(t.RecipientRef)
	if !ok {
		a.metrics.Fallback(string(t.Kind), reasonNoRecipient)
		return ledger.TransferOutcome{Settlement: ledger.SettlementFallback, Memo: MemoNoRecipient}
	}

	comment := fmt.Sprintf("Сделка #%s", common.ShortID(t.DealID))
	err := a.observe(ctx, "transfer", t.Key, func(ctx context.Context) error {
		return a.gw.Transfer(ctx, userID, t.Asset, t.Amount, t.Key, comment)
	})
	return a.outcome(t, err)
}

// executeCommission: вывод на внешний адрес, затем перевод на служебный аккаунт,
// затем запись на платформу без движения денег.
func (a *Adapter) executeCommission(ctx context.Context, t *ledger.Transfer) ledger.TransferOutcome {
	var lastErr error
	if a.cfg.CommissionAddress != "" {
		lastErr = a.observe(ctx, "withdraw", t.Key, func(ctx context.Context) error {
			return a.gw.Withdraw(ctx, t.Asset, t.Amount, a.cfg.CommissionAddress, t.Key)
		})
		if lastErr == nil || errors.Is(lastErr, ErrAlreadySpent) {
			return ledger.TransferOutcome{Settlement: ledger.SettlementExternal}
		}
	}

	if a.cfg.FallbackWalletID != 0 {
		spendID := fallbackSpendID(t.Key)
		lastErr = a.observe(ctx, "transfer", spendID, func(ctx context.Context) error {
			return a.gw.Transfer(ctx, a.cfg.FallbackWalletID, t.Asset, t.Amount, spendID, "Комиссия")
		})
		if lastErr == nil || errors.Is(lastErr, ErrAlreadySpent) {
			return ledger.TransferOutcome{Settlement: ledger.SettlementExternal, Memo: "резервный кошелёк"}
		}
	}

	if lastErr == nil {
		a.metrics.Fallback(string(t.Kind), reasonNoRecipient)
		return ledger.TransferOutcome{Settlement: ledger.SettlementFallback, Memo: MemoNoRecipient}
	}
	return a.outcome(t, lastErr)
}

func (a *Adapter) outcome(t *ledger.Transfer, err error) ledger.TransferOutcome {
	if err == nil || errors.Is(err, ErrAlreadySpent) {
		return ledger.TransferOutcome{Settlement: ledger.SettlementExternal}
	}
	if IsTimeout(err) {
		a.metrics.Fallback(string(t.Kind), reasonTimeout)
		return ledger.TransferOutcome{
			Settlement: ledger.SettlementFallback,
			Memo:       MemoGatewayError + ": таймаут",
			Uncertain:  true,
		}
	}
	a.metrics.Fallback(string(t.Kind), reasonGateway)
	return ledger.TransferOutcome{
		Settlement: ledger.SettlementFallback,
		Memo:       MemoGatewayError + ": " + err.Error(),
	}
}

// Confirm спрашивает шлюз, исполнен ли перевод. Для комиссии проверяется
// и резервный перевод на служебный аккаунт.
func (a *Adapter) Confirm(ctx context.Context, t *ledger.Transfer) (bool, error) {
	spendIDs := []string{t.Key}
	if t.Kind == ledger.TxCommission && a.cfg.FallbackWalletID != 0 {
		spendIDs = append(spendIDs, fallbackSpendID(t.Key))
	}
	for _, spendID := range spendIDs {
		var found bool
		err := a.observe(ctx, "get_transfers", spendID, func(ctx context.Context) error {
			var err error
			found, err = a.gw.FindTransfer(ctx, spendID)
			return err
		})
		if err != nil {
			return false, common.Gateway("get_transfers", err)
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func fallbackSpendID(key string) string {
	return "fallback_" + key
}
