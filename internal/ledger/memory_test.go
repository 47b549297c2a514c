package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/garant-bot/internal/common"
)

func newDeal(customer int64, status Status) *Deal {
	return &Deal{
		ID:            uuid.New(),
		CustomerID:    customer,
		Amount:        decimal.NewFromInt(100),
		Commission:    decimal.NewFromInt(5),
		Asset:         "USDT",
		Description:   "тестовая сделка",
		Status:        status,
		PaymentMethod: PaymentMethodCrypto,
		PaymentAmount: decimal.NewFromInt(100),
	}
}

func seedDeal(t *testing.T, m *MemoryStore, status Status) *Deal {
	t.Helper()
	d := newDeal(1, status)
	require.NoError(t, m.CreateDeal(context.Background(), d))
	return d
}

// registerTransfer записывает намерение перевода через MutateDeal.
func registerTransfer(t *testing.T, m *MemoryStore, d *Deal, kind TxKind, beneficiary int64, amount decimal.Decimal) string {
	t.Helper()
	key := TransferKey(kind, d.ID)
	_, err := m.MutateDeal(context.Background(), d.ID, func(*Deal) (*Effects, error) {
		return &Effects{Transfers: []Transfer{{
			Key: key, DealID: d.ID, Kind: kind, Beneficiary: beneficiary, Amount: amount, Asset: d.Asset,
		}}}, nil
	})
	require.NoError(t, err)
	return key
}

func TestMemoryMutateDealRollsBackOnError(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	d := seedDeal(t, m, StatusPending)

	boom := errors.New("guard")
	_, err := m.MutateDeal(ctx, d.ID, func(d *Deal) (*Effects, error) {
		d.Status = StatusPaid
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := m.GetDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestMemoryMutateDealRejectsDuplicateKey(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	d := seedDeal(t, m, StatusPending)

	pay := func(d *Deal) (*Effects, error) {
		d.Status = StatusPaid
		return &Effects{Transactions: []Transaction{{
			DealID: d.ID, UserID: d.CustomerID, Amount: d.Amount,
			Kind: TxPayment, Settlement: SettlementInternal, IdempotencyKey: TransferKey(TxPayment, d.ID),
		}}}, nil
	}

	updated, err := m.MutateDeal(ctx, d.ID, pay)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, updated.Status)

	_, err = m.MutateDeal(ctx, d.ID, func(d *Deal) (*Effects, error) {
		d.Status = StatusInProgress
		return pay(d)
	})
	require.Error(t, err)

	stored, err := m.GetDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, stored.Status)

	txs, err := m.ListTransactions(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestMemoryMutateDealMarksInvoicePaid(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	d := seedDeal(t, m, StatusPending)
	require.NoError(t, m.CreateInvoice(ctx, &Invoice{ID: "7", DealID: d.ID, Amount: d.Amount}))

	_, err := m.MutateDeal(ctx, d.ID, func(*Deal) (*Effects, error) {
		return &Effects{PaidInvoiceID: "404"}, nil
	})
	assert.ErrorIs(t, err, common.ErrInvoiceNotFound)

	_, err = m.MutateDeal(ctx, d.ID, func(*Deal) (*Effects, error) {
		return &Effects{PaidInvoiceID: "7"}, nil
	})
	require.NoError(t, err)

	inv, err := m.GetInvoice(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, inv.Status)
	assert.NotNil(t, inv.PaidAt)

	pending, err := m.ListPendingInvoices(ctx, inv.CreatedAt.Add(-1), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryFinalizeTransferOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	d := seedDeal(t, m, StatusSettled)
	key := registerTransfer(t, m, d, TxPayout, 2, decimal.NewFromInt(95))

	saved, applied, err := m.FinalizeTransfer(ctx, key, TransferOutcome{Settlement: SettlementFallback, Memo: "нет реквизитов"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, TransferFallback, saved.State)

	_, applied, err = m.FinalizeTransfer(ctx, key, TransferOutcome{Settlement: SettlementExternal})
	require.NoError(t, err)
	assert.False(t, applied)

	txs, err := m.ListTransactions(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, SettlementFallback, txs[0].Settlement)
	assert.Equal(t, key, txs[0].IdempotencyKey)

	u, err := m.GetUser(ctx, 2)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(95)))

	_, _, err = m.FinalizeTransfer(ctx, "payout_missing", TransferOutcome{Settlement: SettlementExternal})
	assert.ErrorIs(t, err, common.ErrTransferNotFound)
}

func TestMemoryFinalizeCommissionDoesNotCreditBalance(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	d := seedDeal(t, m, StatusSettled)
	key := registerTransfer(t, m, d, TxCommission, PlatformUserID, decimal.NewFromInt(5))

	_, applied, err := m.FinalizeTransfer(ctx, key, TransferOutcome{Settlement: SettlementFallback})
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = m.GetUser(ctx, PlatformUserID)
	assert.ErrorIs(t, err, common.ErrUserNotFound)
}

func TestMemoryResolveUncertain(t *testing.T) {
	t.Run("late success claws back", func(t *testing.T) {
		m := NewMemoryStore()
		ctx := context.Background()
		d := seedDeal(t, m, StatusSettled)
		key := registerTransfer(t, m, d, TxPayout, 2, decimal.NewFromInt(95))

		_, _, err := m.FinalizeTransfer(ctx, key, TransferOutcome{Settlement: SettlementFallback, Uncertain: true})
		require.NoError(t, err)

		uncertain, err := m.ListUncertainTransfers(ctx, 0)
		require.NoError(t, err)
		require.Len(t, uncertain, 1)

		tr, err := m.ResolveUncertain(ctx, key, true)
		require.NoError(t, err)
		assert.False(t, tr.Uncertain)
		assert.True(t, tr.LateSuccess)
		assert.Contains(t, tr.Memo, "списано")

		u, err := m.GetUser(ctx, 2)
		require.NoError(t, err)
		assert.True(t, u.Balance.IsZero())

		uncertain, err = m.ListUncertainTransfers(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, uncertain)
	})

	t.Run("spent balance needs admin", func(t *testing.T) {
		m := NewMemoryStore()
		ctx := context.Background()
		d := seedDeal(t, m, StatusSettled)
		key := registerTransfer(t, m, d, TxPayout, 2, decimal.NewFromInt(95))

		_, _, err := m.FinalizeTransfer(ctx, key, TransferOutcome{Settlement: SettlementFallback, Uncertain: true})
		require.NoError(t, err)
		m.users[2].Balance = decimal.NewFromInt(10)

		tr, err := m.ResolveUncertain(ctx, key, true)
		require.NoError(t, err)
		assert.Contains(t, tr.Memo, "нужна проверка админа")

		u, err := m.GetUser(ctx, 2)
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(decimal.NewFromInt(10)))
	})

	t.Run("no late success keeps fallback", func(t *testing.T) {
		m := NewMemoryStore()
		ctx := context.Background()
		d := seedDeal(t, m, StatusSettled)
		key := registerTransfer(t, m, d, TxPayout, 2, decimal.NewFromInt(95))

		_, _, err := m.FinalizeTransfer(ctx, key, TransferOutcome{Settlement: SettlementFallback, Uncertain: true})
		require.NoError(t, err)

		tr, err := m.ResolveUncertain(ctx, key, false)
		require.NoError(t, err)
		assert.False(t, tr.LateSuccess)

		u, err := m.GetUser(ctx, 2)
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(decimal.NewFromInt(95)))
	})
}

func TestMemoryArchiveSkipsMoneyInFlight(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	settled := seedDeal(t, m, StatusSettled)
	inFlight := seedDeal(t, m, StatusSettled)
	active := seedDeal(t, m, StatusPaid)
	registerTransfer(t, m, inFlight, TxPayout, 2, decimal.NewFromInt(95))
	require.NoError(t, m.AddNotification(ctx, &Notification{UserID: 1, DealID: &settled.ID, Type: "deal_settled"}))

	n, err := m.ArchiveSettledDeals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.GetDeal(ctx, settled.ID)
	assert.ErrorIs(t, err, common.ErrDealNotFound)
	_, err = m.GetDeal(ctx, inFlight.ID)
	assert.NoError(t, err)
	_, err = m.GetDeal(ctx, active.ID)
	assert.NoError(t, err)

	unread, err := m.CountUnread(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestMemoryOffers(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	d := seedDeal(t, m, StatusPending)

	o := &Offer{DealID: d.ID, FromUserID: 1, ToUserID: 2}
	require.NoError(t, m.CreateOffer(ctx, o))
	assert.NotZero(t, o.ID)
	assert.Equal(t, OfferPending, o.Status)

	err := m.CreateOffer(ctx, &Offer{DealID: d.ID, FromUserID: 1, ToUserID: 3})
	assert.ErrorIs(t, err, common.ErrOfferPending)

	_, err = m.TransitionOffer(ctx, o.ID, OfferPending, OfferRejected)
	require.NoError(t, err)
	_, err = m.TransitionOffer(ctx, o.ID, OfferPending, OfferAccepted)
	assert.ErrorIs(t, err, common.ErrOfferClosed)

	require.NoError(t, m.CreateOffer(ctx, &Offer{DealID: d.ID, FromUserID: 1, ToUserID: 3}))
	list, err := m.ListOffersBySender(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryUsersAndNotifications(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.UpsertUser(ctx, &User{UserID: 5, Username: "Alice_Dev", FirstName: "Алиса"}))
	require.NoError(t, m.UpsertUser(ctx, &User{UserID: 5, Username: "alice_dev", FirstName: "Алиса"}))

	u, err := m.GetUserByUsername(ctx, "ALICE_DEV")
	require.NoError(t, err)
	assert.Equal(t, int64(5), u.UserID)
	assert.Equal(t, "@alice_dev", u.DisplayName())

	_, err = m.GetUserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, common.ErrUserNotFound)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.AddNotification(ctx, &Notification{UserID: 5, Type: "offer", Message: "привет"}))
	}
	unread, err := m.CountUnread(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	n, err := m.MarkNotificationsRead(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := m.ListNotifications(ctx, 5, true, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStats(t *testing.T) {
	m := NewMemoryStore()
	seedDeal(t, m, StatusPending)
	seedDeal(t, m, StatusSettled)

	st, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Deals)
	assert.Equal(t, 1, st.ByStatus[StatusPending])
	assert.True(t, st.TotalAmount.Equal(decimal.NewFromInt(200)))
	assert.True(t, st.TotalCommission.Equal(decimal.NewFromInt(10)))
}

func TestTransactionSum(t *testing.T) {
	txs := []*Transaction{
		{Kind: TxPayment, Amount: decimal.NewFromInt(100)},
		{Kind: TxPayout, Amount: decimal.RequireFromString("94.5")},
		{Kind: TxCommission, Amount: decimal.RequireFromString("5.5")},
	}
	assert.True(t, TransactionSum(txs, TxPayout, TxCommission).Equal(decimal.NewFromInt(100)))
	assert.True(t, TransactionSum(txs, TxRefund).IsZero())
}

func TestDealPaymentAmounts(t *testing.T) {
	d := newDeal(1, StatusPending)
	assert.True(t, d.InvoiceAmount().Equal(decimal.NewFromInt(100)))
	assert.True(t, d.RemainingAmount().IsZero())

	d.PaymentAmount = decimal.NewFromInt(30)
	assert.True(t, d.InvoiceAmount().Equal(decimal.NewFromInt(30)))
	assert.True(t, d.RemainingAmount().Equal(decimal.NewFromInt(70)))

	// записи без payment_amount оплачиваются целиком
	d.PaymentAmount = decimal.Zero
	assert.True(t, d.InvoiceAmount().Equal(d.Amount))
}

func TestMemoryMutateDealKeepsPaymentMetadata(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	d := seedDeal(t, m, StatusPending)

	_, err := m.MutateDeal(ctx, d.ID, func(d *Deal) (*Effects, error) {
		d.Status = StatusPaid
		return nil, nil
	})
	require.NoError(t, err)

	got, err := m.GetDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, PaymentMethodCrypto, got.PaymentMethod)
	assert.True(t, got.PaymentAmount.Equal(d.Amount))
}
