package payments_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
	"serotonyl.ru/garant-bot/internal/payments"
	"serotonyl.ru/garant-bot/internal/payments/paymentstest"
)

func payout(ref string) *ledger.Transfer {
	id := uuid.New()
	return &ledger.Transfer{
		Key:          ledger.TransferKey(ledger.TxPayout, id),
		DealID:       id,
		Kind:         ledger.TxPayout,
		Beneficiary:  20,
		Amount:       decimal.NewFromInt(95),
		Asset:        "USDT",
		RecipientRef: ref,
	}
}

func commission() *ledger.Transfer {
	id := uuid.New()
	return &ledger.Transfer{
		Key:         ledger.TransferKey(ledger.TxCommission, id),
		DealID:      id,
		Kind:        ledger.TxCommission,
		Beneficiary: ledger.PlatformUserID,
		Amount:      decimal.NewFromInt(5),
		Asset:       "USDT",
	}
}

func newAdapter(gw payments.Gateway, cfg payments.AdapterConfig) *payments.Adapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	return payments.NewAdapter(gw, cfg, nil)
}

func TestParseRecipient(t *testing.T) {
	id, ok := payments.ParseRecipient(" 12345 ")
	assert.True(t, ok)
	assert.Equal(t, int64(12345), id)

	for _, bad := range []string{"", "abc", "-5", "0", "12.5", "@user"} {
		_, ok := payments.ParseRecipient(bad)
		assert.False(t, ok, bad)
	}
}

func TestExecutePayout(t *testing.T) {
	gw := paymentstest.NewGateway()
	a := newAdapter(gw, payments.AdapterConfig{})
	tr := payout("555")

	out := a.Execute(context.Background(), tr)
	assert.Equal(t, ledger.SettlementExternal, out.Settlement)
	assert.False(t, out.Uncertain)

	spent, ok := gw.Spent(tr.Key)
	require.True(t, ok)
	assert.True(t, spent.Equal(tr.Amount))
}

func TestExecutePayoutWithoutRecipient(t *testing.T) {
	gw := paymentstest.NewGateway()
	out := newAdapter(gw, payments.AdapterConfig{}).Execute(context.Background(), payout(""))

	assert.Equal(t, ledger.SettlementFallback, out.Settlement)
	assert.Equal(t, payments.MemoNoRecipient, out.Memo)
	assert.Empty(t, gw.Calls())
}

func TestExecuteGatewayError(t *testing.T) {
	gw := paymentstest.NewGateway()
	gw.FailTransfers(errors.New("insufficient funds"), false)

	out := newAdapter(gw, payments.AdapterConfig{}).Execute(context.Background(), payout("555"))
	assert.Equal(t, ledger.SettlementFallback, out.Settlement)
	assert.True(t, strings.HasPrefix(out.Memo, payments.MemoGatewayError+": "), out.Memo)
	assert.Contains(t, out.Memo, "insufficient funds")
	assert.False(t, out.Uncertain)
}

func TestExecuteAlreadySpentIsSuccess(t *testing.T) {
	gw := paymentstest.NewGateway()
	tr := payout("555")
	gw.Spend(tr.Key, tr.Amount)

	out := newAdapter(gw, payments.AdapterConfig{}).Execute(context.Background(), tr)
	assert.Equal(t, ledger.SettlementExternal, out.Settlement)
}

// slowGateway не отвечает на переводы, пока не истечёт контекст.
type slowGateway struct {
	*paymentstest.Gateway
}

func (g slowGateway) Transfer(ctx context.Context, _ int64, _ string, _ decimal.Decimal, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestExecuteTimeoutIsUncertain(t *testing.T) {
	a := newAdapter(slowGateway{paymentstest.NewGateway()}, payments.AdapterConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	out := a.Execute(context.Background(), payout("555"))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, ledger.SettlementFallback, out.Settlement)
	assert.True(t, out.Uncertain)
	assert.Contains(t, out.Memo, payments.MemoGatewayError)
}

func TestExecuteCommission(t *testing.T) {
	t.Run("withdraw to address", func(t *testing.T) {
		gw := paymentstest.NewGateway()
		tr := commission()
		out := newAdapter(gw, payments.AdapterConfig{CommissionAddress: "UQ-platform"}).Execute(context.Background(), tr)

		assert.Equal(t, ledger.SettlementExternal, out.Settlement)
		assert.Equal(t, []string{"withdraw:" + tr.Key}, gw.Calls())
	})

	t.Run("withdraw fails, service wallet", func(t *testing.T) {
		gw := paymentstest.NewGateway()
		gw.FailWithdraw(errors.New("address invalid"))
		tr := commission()
		out := newAdapter(gw, payments.AdapterConfig{CommissionAddress: "UQ-platform", FallbackWalletID: 777}).
			Execute(context.Background(), tr)

		assert.Equal(t, ledger.SettlementExternal, out.Settlement)
		assert.NotEmpty(t, out.Memo)
		_, ok := gw.Spent("fallback_" + tr.Key)
		assert.True(t, ok)
	})

	t.Run("everything fails", func(t *testing.T) {
		gw := paymentstest.NewGateway()
		gw.FailWithdraw(errors.New("address invalid"))
		gw.FailTransfers(errors.New("wallet frozen"), false)
		out := newAdapter(gw, payments.AdapterConfig{CommissionAddress: "UQ-platform", FallbackWalletID: 777}).
			Execute(context.Background(), commission())

		assert.Equal(t, ledger.SettlementFallback, out.Settlement)
		assert.Contains(t, out.Memo, "wallet frozen")
	})

	t.Run("nothing configured", func(t *testing.T) {
		gw := paymentstest.NewGateway()
		out := newAdapter(gw, payments.AdapterConfig{}).Execute(context.Background(), commission())

		assert.Equal(t, ledger.SettlementFallback, out.Settlement)
		assert.Equal(t, payments.MemoNoRecipient, out.Memo)
		assert.Empty(t, gw.Calls())
	})
}

func TestConfirm(t *testing.T) {
	gw := paymentstest.NewGateway()
	a := newAdapter(gw, payments.AdapterConfig{FallbackWalletID: 777})
	ctx := context.Background()

	tr := payout("555")
	done, err := a.Confirm(ctx, tr)
	require.NoError(t, err)
	assert.False(t, done)

	gw.Spend(tr.Key, tr.Amount)
	done, err = a.Confirm(ctx, tr)
	require.NoError(t, err)
	assert.True(t, done)

	c := commission()
	gw.Spend("fallback_"+c.Key, c.Amount)
	done, err = a.Confirm(ctx, c)
	require.NoError(t, err)
	assert.True(t, done)

	gw.FailFind(errors.New("502"))
	_, err = a.Confirm(ctx, payout("555"))
	assert.True(t, common.IsKind(err, common.KindGateway))
}

func TestCreateInvoiceAndPoll(t *testing.T) {
	gw := paymentstest.NewGateway()
	a := newAdapter(gw, payments.AdapterConfig{})
	ctx := context.Background()

	d := &ledger.Deal{
		ID:            uuid.New(),
		CustomerID:    10,
		Amount:        decimal.NewFromInt(100),
		PaymentAmount: decimal.NewFromInt(40),
		Asset:         "USDT",
	}
	inv, err := a.CreateInvoice(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, d.ID, inv.DealID)
	assert.Equal(t, int64(10), inv.UserID)
	assert.True(t, inv.Amount.Equal(decimal.NewFromInt(40)))
	assert.True(t, d.RemainingAmount().Equal(decimal.NewFromInt(60)))
	assert.Equal(t, ledger.InvoicePending, inv.Status)
	assert.Contains(t, inv.Description, common.ShortID(d.ID))

	paid, err := a.PollStatus(ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, paid)

	gw.Pay(inv.ID)
	paid, err = a.PollStatus(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, paid)

	_, err = a.PollStatus(ctx, "999")
	assert.True(t, common.IsKind(err, common.KindGateway))
	assert.ErrorIs(t, err, payments.ErrInvoiceNotFound)

	gw.FailInvoices(errors.New("down"))
	_, err = a.CreateInvoice(ctx, d)
	assert.True(t, common.IsKind(err, common.KindGateway))
}
