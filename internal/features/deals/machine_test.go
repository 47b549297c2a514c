package deals

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
)

const (
	customerID int64 = 100
	executorID int64 = 200
	strangerID int64 = 300
)

func testDeal(status ledger.Status, executor int64) ledger.Deal {
	d := ledger.Deal{
		ID:            uuid.New(),
		CustomerID:    customerID,
		Amount:        decimal.NewFromInt(100),
		Commission:    decimal.NewFromInt(5),
		Asset:         "USDT",
		Description:   "логотип для магазина",
		Status:        status,
		PaymentMethod: ledger.PaymentMethodCrypto,
		PaymentAmount: decimal.NewFromInt(100),
	}
	if executor != 0 {
		d.ExecutorID = &executor
	}
	return d
}

func noticeUsers(out Outcome) []int64 {
	ids := make([]int64, 0, len(out.Notices))
	for _, n := range out.Notices {
		ids = append(ids, n.UserID)
	}
	return ids
}

func requireKind(t *testing.T, err error, kind common.Kind, target error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, common.KindOf(err), err.Error())
	assert.ErrorIs(t, err, target)
}

func TestDecideAssignBindsExecutor(t *testing.T) {
	d := testDeal(ledger.StatusPending, 0)

	out, err := Decide(d, Command{Action: ActionAssign, Actor: executorID, Executor: executorID})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPending, out.Deal.Status)
	require.NotNil(t, out.Deal.ExecutorID)
	assert.Equal(t, executorID, *out.Deal.ExecutorID)
	assert.ElementsMatch(t, []int64{customerID, executorID}, noticeUsers(out))
	assert.Empty(t, out.Effects.Transactions)
	assert.Empty(t, out.Effects.Transfers)

	// входная сделка не меняется
	assert.Nil(t, d.ExecutorID)
}

func TestDecideAssignGuards(t *testing.T) {
	tests := []struct {
		name   string
		deal   ledger.Deal
		cmd    Command
		kind   common.Kind
		target error
	}{
		{
			name:   "self deal",
			deal:   testDeal(ledger.StatusPending, 0),
			cmd:    Command{Action: ActionAssign, Actor: customerID, Executor: customerID},
			kind:   common.KindValidation,
			target: common.ErrSelfDeal,
		},
		{
			name:   "no executor given",
			deal:   testDeal(ledger.StatusPending, 0),
			cmd:    Command{Action: ActionAssign, Actor: customerID},
			kind:   common.KindValidation,
			target: common.ErrUserNotFound,
		},
		{
			name:   "stranger assigns someone else",
			deal:   testDeal(ledger.StatusPending, 0),
			cmd:    Command{Action: ActionAssign, Actor: strangerID, Executor: executorID},
			kind:   common.KindGuard,
			target: common.ErrNotParticipant,
		},
		{
			name:   "second executor",
			deal:   testDeal(ledger.StatusPending, executorID),
			cmd:    Command{Action: ActionAssign, Actor: strangerID, Executor: strangerID},
			kind:   common.KindGuard,
			target: common.ErrExecutorBound,
		},
		{
			name:   "same executor again",
			deal:   testDeal(ledger.StatusPending, executorID),
			cmd:    Command{Action: ActionAssign, Actor: executorID, Executor: executorID},
			kind:   common.KindGuard,
			target: common.ErrAlreadyInState,
		},
		{
			name:   "after payment",
			deal:   testDeal(ledger.StatusPaid, 0),
			cmd:    Command{Action: ActionAssign, Actor: executorID, Executor: executorID},
			kind:   common.KindGuard,
			target: common.ErrWrongStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decide(tt.deal, tt.cmd)
			requireKind(t, err, tt.kind, tt.target)
		})
	}
}

func TestDecideUnassign(t *testing.T) {
	d := testDeal(ledger.StatusPending, executorID)
	d.ExecutorPayoutRef = "555"

	_, err := Decide(d, Command{Action: ActionUnassign, Actor: executorID})
	requireKind(t, err, common.KindGuard, common.ErrNotParticipant)

	out, err := Decide(d, Command{Action: ActionUnassign, Actor: customerID})
	require.NoError(t, err)
	assert.Nil(t, out.Deal.ExecutorID)
	assert.Empty(t, out.Deal.ExecutorPayoutRef)
	assert.Equal(t, []int64{executorID}, noticeUsers(out))

	_, err = Decide(out.Deal, Command{Action: ActionUnassign, Actor: customerID})
	requireKind(t, err, common.KindGuard, common.ErrNoExecutor)
}

func TestDecideConfirmPayment(t *testing.T) {
	d := testDeal(ledger.StatusPending, executorID)

	_, err := Decide(d, Command{Action: ActionConfirmPayment, Actor: executorID, InvoiceID: "42"})
	requireKind(t, err, common.KindGuard, common.ErrNotParticipant)

	out, err := Decide(d, Command{Action: ActionConfirmPayment, Actor: customerID, InvoiceID: "42"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPending, out.From)
	assert.Equal(t, ledger.StatusPaid, out.Deal.Status)
	assert.True(t, out.Deal.PaymentAmount.Equal(d.PaymentAmount))
	assert.Equal(t, d.PaymentMethod, out.Deal.PaymentMethod)
	assert.Equal(t, "42", out.Effects.PaidInvoiceID)
	require.Len(t, out.Effects.Transactions, 1)

	tx := out.Effects.Transactions[0]
	assert.Equal(t, ledger.TxPayment, tx.Kind)
	assert.Equal(t, ledger.SettlementInternal, tx.Settlement)
	assert.Equal(t, customerID, tx.UserID)
	assert.True(t, tx.Amount.Equal(d.Amount))
	assert.Equal(t, "payment_"+d.ID.String(), tx.IdempotencyKey)
	assert.ElementsMatch(t, []int64{customerID, executorID}, noticeUsers(out))

	// повтор подтверждения — уже оплачено
	_, err = Decide(out.Deal, Command{Action: ActionConfirmPayment, Actor: customerID, InvoiceID: "42"})
	requireKind(t, err, common.KindGuard, common.ErrAlreadyInState)
}

func TestDecideConfirmPaymentWithoutExecutorNotifiesCustomerOnly(t *testing.T) {
	out, err := Decide(testDeal(ledger.StatusPending, 0), Command{Action: ActionConfirmPayment, Actor: customerID})
	require.NoError(t, err)
	assert.Equal(t, []int64{customerID}, noticeUsers(out))
}

func TestDecideWorkFlow(t *testing.T) {
	d := testDeal(ledger.StatusPaid, executorID)

	_, err := Decide(d, Command{Action: ActionStartWork, Actor: customerID})
	requireKind(t, err, common.KindGuard, common.ErrNotParticipant)

	_, err = Decide(d, Command{Action: ActionComplete, Actor: customerID})
	requireKind(t, err, common.KindGuard, common.ErrNotParticipant)

	_, err = Decide(testDeal(ledger.StatusPending, executorID), Command{Action: ActionComplete, Actor: executorID})
	requireKind(t, err, common.KindGuard, common.ErrWrongStatus)

	// сдать работу можно и сразу после оплаты
	direct, err := Decide(d, Command{Action: ActionComplete, Actor: executorID})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, direct.From)
	assert.Equal(t, ledger.StatusCompleted, direct.Deal.Status)
	assert.Equal(t, []int64{customerID}, noticeUsers(direct))

	_, err = Decide(direct.Deal, Command{Action: ActionComplete, Actor: executorID})
	requireKind(t, err, common.KindGuard, common.ErrAlreadyInState)

	out, err := Decide(d, Command{Action: ActionStartWork, Actor: executorID})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusInProgress, out.Deal.Status)
	assert.Equal(t, []int64{customerID}, noticeUsers(out))

	out, err = Decide(out.Deal, Command{Action: ActionComplete, Actor: executorID})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, out.Deal.Status)
	require.Len(t, out.Notices, 1)
	require.Len(t, out.Notices[0].Choices, 1)
	assert.Len(t, out.Notices[0].Choices[0], 2)
}

func TestDecideConfirmCompletionSplitsAmount(t *testing.T) {
	d := testDeal(ledger.StatusCompleted, executorID)
	d.ExecutorPayoutRef = "777"

	_, err := Decide(d, Command{Action: ActionConfirmCompletion, Actor: executorID})
	requireKind(t, err, common.KindGuard, common.ErrNotParticipant)

	out, err := Decide(d, Command{Action: ActionConfirmCompletion, Actor: customerID})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSettled, out.Deal.Status)
	require.Len(t, out.Effects.Transfers, 2)

	payout, commission := out.Effects.Transfers[0], out.Effects.Transfers[1]
	assert.Equal(t, ledger.TxPayout, payout.Kind)
	assert.Equal(t, executorID, payout.Beneficiary)
	assert.Equal(t, "777", payout.RecipientRef)
	assert.True(t, payout.Amount.Equal(decimal.NewFromInt(95)))
	assert.Equal(t, "payout_"+d.ID.String(), payout.Key)

	assert.Equal(t, ledger.TxCommission, commission.Kind)
	assert.Equal(t, ledger.PlatformUserID, commission.Beneficiary)
	assert.True(t, commission.Amount.Equal(decimal.NewFromInt(5)))
	assert.True(t, payout.Amount.Add(commission.Amount).Equal(d.Amount))

	_, err = Decide(out.Deal, Command{Action: ActionConfirmCompletion, Actor: customerID})
	requireKind(t, err, common.KindGuard, common.ErrAlreadyInState)
}

func TestDecideConfirmCompletionSkipsZeroCommission(t *testing.T) {
	d := testDeal(ledger.StatusCompleted, executorID)
	d.Commission = decimal.Zero

	out, err := Decide(d, Command{Action: ActionConfirmCompletion, Actor: customerID})
	require.NoError(t, err)
	require.Len(t, out.Effects.Transfers, 1)
	assert.Equal(t, ledger.TxPayout, out.Effects.Transfers[0].Kind)
	assert.True(t, out.Effects.Transfers[0].Amount.Equal(d.Amount))
}

func TestDecideOpenDispute(t *testing.T) {
	for _, status := range []ledger.Status{ledger.StatusPaid, ledger.StatusInProgress, ledger.StatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			d := testDeal(status, executorID)

			_, err := Decide(d, Command{Action: ActionOpenDispute, Actor: strangerID})
			requireKind(t, err, common.KindGuard, common.ErrNotParticipant)

			out, err := Decide(d, Command{Action: ActionOpenDispute, Actor: executorID})
			require.NoError(t, err)
			assert.Equal(t, ledger.StatusDisputed, out.Deal.Status)
			assert.Equal(t, []int64{customerID}, noticeUsers(out))
		})
	}

	_, err := Decide(testDeal(ledger.StatusPending, executorID), Command{Action: ActionOpenDispute, Actor: customerID})
	requireKind(t, err, common.KindGuard, common.ErrWrongStatus)

	_, err = Decide(testDeal(ledger.StatusSettled, executorID), Command{Action: ActionOpenDispute, Actor: customerID})
	requireKind(t, err, common.KindGuard, common.ErrWrongStatus)
}

func TestDecideResolveForCustomerRefundsFullAmount(t *testing.T) {
	d := testDeal(ledger.StatusDisputed, executorID)
	d.CustomerPayoutRef = "111"

	_, err := Decide(d, Command{Action: ActionResolve, Actor: customerID, Side: ledger.SideCustomer})
	requireKind(t, err, common.KindGuard, common.ErrNotAdmin)

	_, err = Decide(d, Command{Action: ActionResolve, IsAdmin: true, Side: "nobody"})
	requireKind(t, err, common.KindValidation, common.ErrBadSide)

	out, err := Decide(d, Command{Action: ActionResolve, IsAdmin: true, Side: ledger.SideCustomer})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusResolved, out.Deal.Status)
	require.NotNil(t, out.Deal.Resolution)
	assert.Equal(t, ledger.SideCustomer, *out.Deal.Resolution)

	require.Len(t, out.Effects.Transfers, 1)
	refund := out.Effects.Transfers[0]
	assert.Equal(t, ledger.TxRefund, refund.Kind)
	assert.Equal(t, customerID, refund.Beneficiary)
	assert.Equal(t, "111", refund.RecipientRef)
	assert.True(t, refund.Amount.Equal(d.Amount))
	assert.ElementsMatch(t, []int64{customerID, executorID}, noticeUsers(out))
}

func TestDecideResolveForExecutor(t *testing.T) {
	out, err := Decide(testDeal(ledger.StatusDisputed, executorID),
		Command{Action: ActionResolve, IsAdmin: true, Side: ledger.SideExecutor})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusResolved, out.Deal.Status)
	require.Len(t, out.Effects.Transfers, 2)
	assert.Equal(t, ledger.TxPayout, out.Effects.Transfers[0].Kind)
	assert.Equal(t, ledger.TxCommission, out.Effects.Transfers[1].Kind)

	_, err = Decide(testDeal(ledger.StatusDisputed, 0),
		Command{Action: ActionResolve, IsAdmin: true, Side: ledger.SideExecutor})
	requireKind(t, err, common.KindGuard, common.ErrNoExecutor)
}

func TestDecideResolveRepeated(t *testing.T) {
	d := testDeal(ledger.StatusResolved, executorID)
	side := ledger.SideCustomer
	d.Resolution = &side

	_, err := Decide(d, Command{Action: ActionResolve, IsAdmin: true, Side: ledger.SideCustomer})
	requireKind(t, err, common.KindGuard, common.ErrAlreadyInState)

	_, err = Decide(d, Command{Action: ActionResolve, IsAdmin: true, Side: ledger.SideExecutor})
	requireKind(t, err, common.KindGuard, common.ErrWrongStatus)
	assert.NotErrorIs(t, err, common.ErrAlreadyInState)
}

func TestDecideVoid(t *testing.T) {
	d := testDeal(ledger.StatusPending, executorID)

	_, err := Decide(d, Command{Action: ActionVoid, Actor: executorID})
	requireKind(t, err, common.KindGuard, common.ErrNotParticipant)

	out, err := Decide(d, Command{Action: ActionVoid, Actor: customerID})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusVoided, out.Deal.Status)
	assert.Empty(t, out.Effects.Transfers)
	assert.Equal(t, []int64{executorID}, noticeUsers(out))

	_, err = Decide(testDeal(ledger.StatusPaid, executorID), Command{Action: ActionVoid, Actor: customerID})
	requireKind(t, err, common.KindGuard, common.ErrWrongStatus)
}

func TestDecideRejectsUnknownInput(t *testing.T) {
	_, err := Decide(testDeal(ledger.StatusPending, 0), Command{Action: "teleport", Actor: customerID})
	assert.True(t, common.IsKind(err, common.KindValidation))

	_, err = Decide(testDeal("archived", 0), Command{Action: ActionVoid, Actor: customerID})
	requireKind(t, err, common.KindGuard, common.ErrWrongStatus)
}

func TestDecideTerminalStatusesRejectEverything(t *testing.T) {
	actions := []Action{
		ActionAssign, ActionUnassign, ActionConfirmPayment, ActionStartWork,
		ActionComplete, ActionConfirmCompletion, ActionOpenDispute, ActionVoid,
	}
	for _, status := range []ledger.Status{ledger.StatusSettled, ledger.StatusVoided} {
		for _, action := range actions {
			d := testDeal(status, executorID)
			actor := customerID
			if action == ActionStartWork || action == ActionComplete {
				actor = executorID
			}
			cmd := Command{Action: action, Actor: actor, Executor: strangerID}
			if action == ActionAssign {
				cmd.Actor = strangerID
			}

			_, err := Decide(d, cmd)
			require.Error(t, err, "%s from %s", action, status)
			assert.Equal(t, common.KindGuard, common.KindOf(err), "%s from %s", action, status)
		}
	}
}
