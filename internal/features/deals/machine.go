package deals

import (
	"fmt"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/features/notifications"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// transition — из каких статусов доступно действие и куда оно ведёт.
type transition struct {
	from []ledger.Status
	to   ledger.Status
}

var transitions = map[Action]transition{
	ActionAssign:            {from: []ledger.Status{ledger.StatusPending}, to: ledger.StatusPending},
	ActionUnassign:          {from: []ledger.Status{ledger.StatusPending}, to: ledger.StatusPending},
	ActionConfirmPayment:    {from: []ledger.Status{ledger.StatusPending}, to: ledger.StatusPaid},
	ActionStartWork:         {from: []ledger.Status{ledger.StatusPaid}, to: ledger.StatusInProgress},
	ActionComplete:          {from: []ledger.Status{ledger.StatusPaid, ledger.StatusInProgress}, to: ledger.StatusCompleted},
	ActionConfirmCompletion: {from: []ledger.Status{ledger.StatusCompleted}, to: ledger.StatusSettled},
	ActionOpenDispute: {
		from: []ledger.Status{ledger.StatusPaid, ledger.StatusInProgress, ledger.StatusCompleted},
		to:   ledger.StatusDisputed,
	},
	ActionResolve: {from: []ledger.Status{ledger.StatusDisputed}, to: ledger.StatusResolved},
	ActionVoid:    {from: []ledger.Status{ledger.StatusPending}, to: ledger.StatusVoided},
}

func (t transition) allows(s ledger.Status) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

// check: текущий статус разрешён, повтор уже выполненного перехода или недопустимый статус.
func (t transition) check(s ledger.Status) error {
	if t.allows(s) {
		return nil
	}
	if s == t.to {
		return common.Guard(common.ErrAlreadyInState)
	}
	return common.Guard(common.ErrWrongStatus)
}

// Decide применяет команду к сделке. Функция чистая: ничего не пишет и не отправляет,
// при ошибке сделка не меняется.
func Decide(deal ledger.Deal, cmd Command) (Outcome, error) {
	t, ok := transitions[cmd.Action]
	if !ok {
		return Outcome{}, common.Validation(fmt.Errorf("неизвестное действие %q", cmd.Action))
	}
	if !deal.Status.Valid() {
		return Outcome{}, common.Guard(fmt.Errorf("%w: %q", common.ErrWrongStatus, deal.Status))
	}

	d := deal.Clone()
	out := Outcome{From: deal.Status}
	var err error

	switch cmd.Action {
	case ActionAssign:
		err = assign(d, cmd, t, &out)
	case ActionUnassign:
		err = unassign(d, cmd, t, &out)
	case ActionConfirmPayment:
		err = confirmPayment(d, cmd, t, &out)
	case ActionStartWork:
		err = startWork(d, cmd, t, &out)
	case ActionComplete:
		err = complete(d, cmd, t, &out)
	case ActionConfirmCompletion:
		err = confirmCompletion(d, cmd, t, &out)
	case ActionOpenDispute:
		err = openDispute(d, cmd, t, &out)
	case ActionResolve:
		err = resolve(d, cmd, t, &out)
	case ActionVoid:
		err = void(d, cmd, t, &out)
	}
	if err != nil {
		return Outcome{}, err
	}

	out.Deal = *d
	return out, nil
}

func assign(d *ledger.Deal, cmd Command, t transition, out *Outcome) error {
	if cmd.Executor == 0 {
		return common.Validation(common.ErrUserNotFound)
	}
	if cmd.Executor == d.CustomerID {
		return common.Validation(common.ErrSelfDeal)
	}
	if cmd.Actor != cmd.Executor && cmd.Actor != d.CustomerID {
		return common.Guard(common.ErrNotParticipant)
	}
	if d.IsExecutor(cmd.Executor) {
		return common.Guard(common.ErrAlreadyInState)
	}
	if err := t.check(d.Status); err != nil {
		return err
	}
	if d.HasExecutor() {
		return common.Guard(common.ErrExecutorBound)
	}

	executor := cmd.Executor
	d.ExecutorID = &executor

	short := common.ShortID(d.ID)
	out.Notices = append(out.Notices,
		notice(d, d.CustomerID, notifications.TypeDealAssigned,
			fmt.Sprintf("👤 У сделки #%s появился исполнитель. Можно выставить счёт на оплату.", short),
			[]common.Choice{{Text: "💳 Оплатить", Data: common.Token(TokenPay, d.ID.String())}}),
		notice(d, executor, notifications.TypeDealAssigned,
			fmt.Sprintf("👤 Вы исполнитель сделки #%s на %s. Ждём оплату от заказчика.",
				short, common.FormatMoney(d.Amount, d.Asset)), nil),
	)
	return nil
}

func unassign(d *ledger.Deal, cmd Command, t transition, out *Outcome) error {
	if cmd.Actor != d.CustomerID {
		return common.Guard(common.ErrNotParticipant)
	}
	if err := t.check(d.Status); err != nil {
		return err
	}
	if !d.HasExecutor() {
		return common.Guard(common.ErrNoExecutor)
	}

	former := *d.ExecutorID
	d.ExecutorID = nil
	d.ExecutorPayoutRef = ""

	out.Notices = append(out.Notices, notice(d, former, notifications.TypeExecutorLeft,
		fmt.Sprintf("🚪 Заказчик снял вас с исполнения сделки #%s.", common.ShortID(d.ID)), nil))
	return nil
}

func confirmPayment(d *ledger.Deal, cmd Command, t transition, out *Outcome) error {
	if cmd.Actor != d.CustomerID {
		return common.Guard(common.ErrNotParticipant)
	}
	if err := t.check(d.Status); err != nil {
		return err
	}

	d.Status = t.to

	out.Effects.PaidInvoiceID = cmd.InvoiceID
	out.Effects.Transactions = append(out.Effects.Transactions, ledger.Transaction{
		DealID:         d.ID,
		UserID:         d.CustomerID,
		Amount:         d.Amount,
		Kind:           ledger.TxPayment,
		Settlement:     ledger.SettlementInternal,
		Memo:           "Оплата по счёту " + cmd.InvoiceID,
		IdempotencyKey: ledger.TransferKey(ledger.TxPayment, d.ID),
	})

	short := common.ShortID(d.ID)
	out.Notices = append(out.Notices, notice(d, d.CustomerID, notifications.TypeDealPaid,
		fmt.Sprintf("✅ Оплата по сделке #%s получена. Деньги на хранении у гаранта.", short), nil))
	if d.HasExecutor() {
		out.Notices = append(out.Notices, notice(d, *d.ExecutorID, notifications.TypeDealPaid,
			fmt.Sprintf("💳 Сделка #%s оплачена. Можно приступать к работе.", short),
			[]common.Choice{{Text: "🔨 Начать работу", Data: common.Token(TokenStart, d.ID.String())}}))
	}
	return nil
}

func startWork(d *ledger.Deal, cmd Command, t transition, out *Outcome) error {
	if !d.IsExecutor(cmd.Actor) {
		return common.Guard(common.ErrNotParticipant)
	}
	if err := t.check(d.Status); err != nil {
		return err
	}
	d.Status = t.to

	out.Notices = append(out.Notices, notice(d, d.CustomerID, notifications.TypeWorkStarted,
		fmt.Sprintf("🔨 Исполнитель начал работу по сделке #%s.", common.ShortID(d.ID)), nil))
	return nil
}

func complete(d *ledger.Deal, cmd Command, t transition, out *Outcome) error {
	if !d.IsExecutor(cmd.Actor) {
		return common.Guard(common.ErrNotParticipant)
	}
	if err := t.check(d.Status); err != nil {
		return err
	}
	d.Status = t.to

	id := d.ID.String()
	out.Notices = append(out.Notices, notice(d, d.CustomerID, notifications.TypeWorkCompleted,
		fmt.Sprintf("📦 Исполнитель сдал работу по сделке #%s. Проверьте и подтвердите.", common.ShortID(d.ID)),
		[]common.Choice{
			{Text: "✅ Подтвердить", Data: common.Token(TokenConfirm, id)},
			{Text: "⚠️ Открыть спор", Data: common.Token(TokenDispute, id)},
		}))
	return nil
}

func confirmCompletion(d *ledger.Deal, cmd Command, t transition, out *Outcome) error {
	if cmd.Actor != d.CustomerID {
		return common.Guard(common.ErrNotParticipant)
	}
	if err := t.check(d.Status); err != nil {
		return err
	}
	if !d.HasExecutor() {
		return common.Guard(common.ErrNoExecutor)
	}
	d.Status = t.to
	out.Effects.Transfers = executorSettlement(d)

	short := common.ShortID(d.ID)
	out.Notices = append(out.Notices,
		notice(d, *d.ExecutorID, notifications.TypeDealSettled,
			fmt.Sprintf("💰 Заказчик подтвердил сделку #%s. Выплата %s отправлена.",
				short, common.FormatMoney(d.Payout(), d.Asset)), nil),
		notice(d, d.CustomerID, notifications.TypeDealSettled,
			fmt.Sprintf("✅ Сделка #%s завершена.", short), nil),
	)
	return nil
}

func openDispute(d *ledger.Deal, cmd Command, t transition, out *Outcome) error {
	if !d.IsParticipant(cmd.Actor) {
		return common.Guard(common.ErrNotParticipant)
	}
	if err := t.check(d.Status); err != nil {
		return err
	}
	d.Status = t.to

	if other := d.Counterparty(cmd.Actor); other != 0 {
		out.Notices = append(out.Notices, notice(d, other, notifications.TypeDispute,
			fmt.Sprintf("⚠️ По сделке #%s открыт спор. Решение примет администратор.", common.ShortID(d.ID)), nil))
	}
	return nil
}

func resolve(d *ledger.Deal, cmd Command, t transition, out *Outcome) error {
	if !cmd.IsAdmin {
		return common.Guard(common.ErrNotAdmin)
	}
	side, ok := ledger.ParseSide(string(cmd.Side))
	if !ok {
		return common.Validation(common.ErrBadSide)
	}
	if err := t.check(d.Status); err != nil {
		if d.Status == ledger.StatusResolved && (d.Resolution == nil || *d.Resolution != side) {
			return common.Guard(common.ErrWrongStatus)
		}
		return err
	}

	d.Status = t.to
	d.Resolution = &side

	if side == ledger.SideCustomer {
		out.Effects.Transfers = []ledger.Transfer{{
			Key:          ledger.TransferKey(ledger.TxRefund, d.ID),
			DealID:       d.ID,
			Kind:         ledger.TxRefund,
			Beneficiary:  d.CustomerID,
			Amount:       d.Amount,
			Asset:        d.Asset,
			RecipientRef: d.CustomerPayoutRef,
		}}
	} else {
		if !d.HasExecutor() {
			return common.Guard(common.ErrNoExecutor)
		}
		out.Effects.Transfers = executorSettlement(d)
	}

	text := fmt.Sprintf("⚖️ Спор по сделке #%s решён в пользу %s.", common.ShortID(d.ID), sideTitle(side))
	out.Notices = append(out.Notices, notice(d, d.CustomerID, notifications.TypeResolved, text, nil))
	if d.HasExecutor() {
		out.Notices = append(out.Notices, notice(d, *d.ExecutorID, notifications.TypeResolved, text, nil))
	}
	return nil
}

func void(d *ledger.Deal, cmd Command, t transition, out *Outcome) error {
	if cmd.Actor != d.CustomerID {
		return common.Guard(common.ErrNotParticipant)
	}
	if err := t.check(d.Status); err != nil {
		return err
	}
	d.Status = t.to

	if d.HasExecutor() {
		out.Notices = append(out.Notices, notice(d, *d.ExecutorID, notifications.TypeDealVoided,
			fmt.Sprintf("🚫 Заказчик отменил сделку #%s.", common.ShortID(d.ID)), nil))
	}
	return nil
}

// executorSettlement — выплата исполнителю и комиссия платформе, в сумме ровно amount.
// Нулевые части не регистрируются.
func executorSettlement(d *ledger.Deal) []ledger.Transfer {
	var out []ledger.Transfer
	if payout := d.Payout(); payout.IsPositive() {
		out = append(out, ledger.Transfer{
			Key:          ledger.TransferKey(ledger.TxPayout, d.ID),
			DealID:       d.ID,
			Kind:         ledger.TxPayout,
			Beneficiary:  *d.ExecutorID,
			Amount:       payout,
			Asset:        d.Asset,
			RecipientRef: d.ExecutorPayoutRef,
		})
	}
	if d.Commission.IsPositive() {
		out = append(out, ledger.Transfer{
			Key:         ledger.TransferKey(ledger.TxCommission, d.ID),
			DealID:      d.ID,
			Kind:        ledger.TxCommission,
			Beneficiary: ledger.PlatformUserID,
			Amount:      d.Commission,
			Asset:       d.Asset,
		})
	}
	return out
}

func sideTitle(s ledger.Side) string {
	if s == ledger.SideCustomer {
		return "заказчика"
	}
	return "исполнителя"
}

func notice(d *ledger.Deal, userID int64, typ, text string, row []common.Choice) notifications.Notice {
	id := d.ID
	n := notifications.Notice{UserID: userID, DealID: &id, Type: typ, Text: text}
	if len(row) > 0 {
		n.Choices = [][]common.Choice{row}
	}
	return n
}
