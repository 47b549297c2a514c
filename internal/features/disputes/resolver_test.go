package disputes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/features/deals"
	"serotonyl.ru/garant-bot/internal/features/notifications"
	"serotonyl.ru/garant-bot/internal/ledger"
	"serotonyl.ru/garant-bot/internal/locks"
	"serotonyl.ru/garant-bot/internal/payments"
	"serotonyl.ru/garant-bot/internal/payments/paymentstest"
)

const (
	customer int64 = 10
	executor int64 = 20
	admin    int64 = 99
)

type env struct {
	store    *ledger.MemoryStore
	gw       *paymentstest.Gateway
	deals    *deals.Service
	resolver *Resolver
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := ledger.NewMemoryStore()
	gw := paymentstest.NewGateway()
	notifier := notifications.NewService(store, nil)
	cfg := deals.Config{
		CommissionPercent: decimal.NewFromInt(5),
		Asset:             "USDT",
		MinDescription:    5,
		AdminIDs:          []int64{admin},
		UncertainWindow:   time.Hour,
		InvoicePollWindow: time.Hour,
	}
	adapter := payments.NewAdapter(gw, payments.AdapterConfig{Timeout: time.Second}, nil)
	svc := deals.NewService(store, adapter, locks.NewKeyed(), notifier, cfg, nil)
	return &env{
		store:    store,
		gw:       gw,
		deals:    svc,
		resolver: NewResolver(svc, notifier, cfg.AdminIDs),
	}
}

// disputed создаёт оплаченную сделку с открытым спором.
func (e *env) disputed(t *testing.T, customerRef, executorRef string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	d, err := e.deals.CreateDeal(ctx, customer, decimal.NewFromInt(100), "Перевод статьи")
	require.NoError(t, err)
	_, err = e.deals.AcceptDeal(ctx, d.ID, executor)
	require.NoError(t, err)
	if customerRef != "" {
		_, err = e.deals.SetPayoutRef(ctx, d.ID, customer, customerRef)
		require.NoError(t, err)
	}
	if executorRef != "" {
		_, err = e.deals.SetPayoutRef(ctx, d.ID, executor, executorRef)
		require.NoError(t, err)
	}

	inv, err := e.deals.RequestPayment(ctx, d.ID, customer)
	require.NoError(t, err)
	e.gw.Pay(inv.ID)
	_, err = e.deals.VerifyPayment(ctx, d.ID, customer)
	require.NoError(t, err)

	_, err = e.deals.OpenDispute(ctx, d.ID, executor)
	require.NoError(t, err)
	return d.ID
}

func (e *env) txs(t *testing.T, id uuid.UUID, kind ledger.TxKind) []*ledger.Transaction {
	t.Helper()
	list, err := e.store.ListTransactions(context.Background(), id)
	require.NoError(t, err)
	var out []*ledger.Transaction
	for _, tx := range list {
		if tx.Kind == kind {
			out = append(out, tx)
		}
	}
	return out
}

func TestResolveForCustomer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.disputed(t, "111", "")

	d, err := e.resolver.Resolve(ctx, admin, id, ledger.SideCustomer)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusResolved, d.Status)
	require.NotNil(t, d.Resolution)
	assert.Equal(t, ledger.SideCustomer, *d.Resolution)

	refunds := e.txs(t, id, ledger.TxRefund)
	require.Len(t, refunds, 1)
	assert.Equal(t, ledger.SettlementExternal, refunds[0].Settlement)
	assert.True(t, refunds[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, e.txs(t, id, ledger.TxPayout))
	assert.Empty(t, e.txs(t, id, ledger.TxCommission))

	spent, ok := e.gw.Spent(ledger.TransferKey(ledger.TxRefund, id))
	require.True(t, ok)
	assert.True(t, spent.Equal(decimal.NewFromInt(100)))
}

func TestResolveForExecutor(t *testing.T) {
	e := newEnv(t)
	id := e.disputed(t, "", "222")

	d, err := e.resolver.Resolve(context.Background(), admin, id, ledger.SideExecutor)
	require.NoError(t, err)
	require.NotNil(t, d.Resolution)
	assert.Equal(t, ledger.SideExecutor, *d.Resolution)

	payouts := e.txs(t, id, ledger.TxPayout)
	require.Len(t, payouts, 1)
	assert.True(t, payouts[0].Amount.Equal(decimal.NewFromInt(95)))
	commissions := e.txs(t, id, ledger.TxCommission)
	require.Len(t, commissions, 1)
	assert.True(t, commissions[0].Amount.Equal(decimal.NewFromInt(5)))
	assert.Empty(t, e.txs(t, id, ledger.TxRefund))
}

func TestResolveGatewayFailureFallsBackOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.disputed(t, "111", "")
	e.gw.FailTransfers(errors.New("service unavailable"), false)

	_, err := e.resolver.Resolve(ctx, admin, id, ledger.SideCustomer)
	require.NoError(t, err)

	refunds := e.txs(t, id, ledger.TxRefund)
	require.Len(t, refunds, 1)
	assert.Equal(t, ledger.SettlementFallback, refunds[0].Settlement)
	assert.Contains(t, refunds[0].Memo, payments.MemoGatewayError)

	u, err := e.store.GetUser(ctx, customer)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(100)))

	// повторные нажатия админа не создают вторую транзакцию
	_, err = e.resolver.Resolve(ctx, admin, id, ledger.SideCustomer)
	assert.ErrorIs(t, err, common.ErrAlreadyInState)
	_, err = e.resolver.Resolve(ctx, admin, id, ledger.SideExecutor)
	assert.ErrorIs(t, err, common.ErrWrongStatus)
	assert.Len(t, e.txs(t, id, ledger.TxRefund), 1)
	assert.Empty(t, e.txs(t, id, ledger.TxPayout))
}

func TestResolveGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.disputed(t, "", "")

	_, err := e.resolver.Resolve(ctx, customer, id, ledger.SideCustomer)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindGuard))
	assert.ErrorIs(t, err, common.ErrNotAdmin)

	_, err = e.resolver.Resolve(ctx, admin, id, ledger.Side("both"))
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindValidation))
	assert.ErrorIs(t, err, common.ErrBadSide)

	_, err = e.resolver.Resolve(ctx, admin, uuid.New(), ledger.SideCustomer)
	assert.ErrorIs(t, err, common.ErrDealNotFound)

	d, err := e.deals.GetDeal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDisputed, d.Status)
}

func TestResolveRequiresDispute(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.deals.CreateDeal(ctx, customer, decimal.NewFromInt(10), "Перевод статьи")
	require.NoError(t, err)

	_, err = e.resolver.Resolve(ctx, admin, d.ID, ledger.SideCustomer)
	assert.ErrorIs(t, err, common.ErrWrongStatus)
	assert.Empty(t, e.txs(t, d.ID, ledger.TxRefund))
}
