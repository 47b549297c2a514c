// Package deals — service.go выполняет операции над сделками.
// Любое изменение сделки идёт под блокировкой "deal:<id>" и через Store.MutateDeal.
// Вызовы платёжного шлюза выполняются без блокировки, результат фиксируется
// повторным коротким захватом.
package deals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/features/notifications"
	"serotonyl.ru/garant-bot/internal/ledger"
	"serotonyl.ru/garant-bot/internal/locks"
	"serotonyl.ru/garant-bot/internal/metrics"
	"serotonyl.ru/garant-bot/internal/payments"
)

// Сколько записей обрабатывает фоновая задача за один запуск.
const batchSize = 50

// Notifier — отправка уведомлений.
type Notifier interface {
	NotifyMany(ctx context.Context, notices ...notifications.Notice) error
	NotifyUsers(ctx context.Context, userIDs []int64, n notifications.Notice) error
}

// Service — операции над сделками.
type Service struct {
	store    ledger.Store
	payments *payments.Adapter
	locker   locks.Locker
	notifier Notifier
	cfg      Config
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService создаёт сервис сделок.
func NewService(
	store ledger.Store,
	adapter *payments.Adapter,
	locker locks.Locker,
	notifier Notifier,
	cfg Config,
	m *metrics.Metrics,
) *Service {
	return &Service{
		store:    store,
		payments: adapter,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
	}
}

// Config возвращает параметры сделок.
func (s *Service) Config() Config { return s.cfg }

// --- Чтение ---

// GetDeal возвращает сделку.
func (s *Service) GetDeal(ctx context.Context, id uuid.UUID) (*ledger.Deal, error) {
	d, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, classify("get_deal", err)
	}
	return d, nil
}

// ListUserDeals — сделки пользователя (заказчик или исполнитель).
func (s *Service) ListUserDeals(ctx context.Context, userID int64) ([]*ledger.Deal, error) {
	list, err := s.store.ListDealsByUser(ctx, userID, 20)
	if err != nil {
		return nil, classify("list_user_deals", err)
	}
	return list, nil
}

// ListAvailable — ожидающие сделки без исполнителя.
func (s *Service) ListAvailable(ctx context.Context) ([]*ledger.Deal, error) {
	list, err := s.store.ListAvailableDeals(ctx, 20)
	if err != nil {
		return nil, classify("list_available", err)
	}
	return list, nil
}

// Transactions — журнал сделки.
func (s *Service) Transactions(ctx context.Context, id uuid.UUID) ([]*ledger.Transaction, error) {
	list, err := s.store.ListTransactions(ctx, id)
	if err != nil {
		return nil, classify("list_transactions", err)
	}
	return list, nil
}

// --- Создание ---

// CreateDeal создаёт сделку и сообщает админам.
func (s *Service) CreateDeal(ctx context.Context, customerID int64, amount decimal.Decimal, description string) (*ledger.Deal, error) {
	d, err := NewDeal(CreateInput{CustomerID: customerID, Amount: amount, Description: description}, s.cfg)
	if err != nil {
		s.metrics.Transition("create", metrics.ResultRejects)
		return nil, err
	}
	if err := s.store.CreateDeal(ctx, &d); err != nil {
		s.metrics.Transition("create", metrics.ResultError)
		return nil, classify("create_deal", err)
	}
	s.metrics.Transition("create", metrics.ResultOK)

	log.WithFields(log.Fields{
		"deal_id":    d.ID,
		"actor":      customerID,
		"amount":     d.Amount.String(),
		"commission": d.Commission.String(),
	}).Info("Сделка создана")

	id := d.ID
	err = s.notifier.NotifyUsers(ctx, s.cfg.AdminIDs, notifications.Notice{
		DealID: &id,
		Type:   notifications.TypeDealCreated,
		Text: fmt.Sprintf("🆕 Новая сделка #%s на %s от %d", common.ShortID(d.ID),
			common.FormatMoney(d.Amount, d.Asset), customerID),
	})
	logNotifyError(err, d.ID)
	return &d, nil
}

// --- Переходы ---

// Apply выполняет команду под блокировкой сделки и атомарно сохраняет результат.
// Уведомления и переводы из Outcome не отправляются: это делает вызывающий.
func (s *Service) Apply(ctx context.Context, id uuid.UUID, cmd Command) (*Outcome, error) {
	var out Outcome
	_, err := s.mutate(ctx, id, func(d *ledger.Deal) (*ledger.Effects, error) {
		o, err := Decide(*d, cmd)
		if err != nil {
			return nil, err
		}
		*d = o.Deal
		out = o
		return &o.Effects, nil
	})

	logger := log.WithFields(log.Fields{
		"deal_id": id,
		"actor":   cmd.Actor,
		"action":  cmd.Action,
	})
	switch {
	case err == nil:
		s.metrics.Transition(string(cmd.Action), metrics.ResultOK)
		logger.WithFields(log.Fields{"from": out.From, "to": out.Deal.Status}).Info("Переход сделки")
	case common.IsKind(err, common.KindGuard), common.IsKind(err, common.KindValidation):
		s.metrics.Transition(string(cmd.Action), metrics.ResultRejects)
		logger.WithError(err).Debug("Переход отклонён")
	default:
		s.metrics.Transition(string(cmd.Action), metrics.ResultError)
		logger.WithError(err).Error("Ошибка перехода сделки")
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// mutate захватывает блокировку сделки и вызывает Store.MutateDeal.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn ledger.MutateFunc) (*ledger.Deal, error) {
	unlock, err := s.locker.Lock(ctx, locks.DealKey(id.String()))
	if err != nil {
		return nil, common.Persistence("lock", err)
	}
	defer unlock()

	d, err := s.store.MutateDeal(ctx, id, fn)
	if err != nil {
		return nil, classify("mutate_deal", err)
	}
	return d, nil
}

// run — Apply, затем уведомления и выплаты.
func (s *Service) run(ctx context.Context, id uuid.UUID, cmd Command) (*ledger.Deal, error) {
	out, err := s.Apply(ctx, id, cmd)
	if err != nil {
		return nil, err
	}
	logNotifyError(s.notifier.NotifyMany(ctx, out.Notices...), id)

	if len(out.Effects.Transfers) > 0 {
		if err := s.Settle(ctx, id, out.Effects.Transfers); err != nil {
			// Переводы остались в pending, их доделает RepairTransfers.
			log.WithError(err).WithField("deal_id", id).Error("Выплаты по сделке не завершены")
		}
	}
	return &out.Deal, nil
}

// Assign назначает исполнителя. actor — сам исполнитель или заказчик.
func (s *Service) Assign(ctx context.Context, id uuid.UUID, actor, executor int64) (*ledger.Deal, error) {
	return s.run(ctx, id, Command{Action: ActionAssign, Actor: actor, Executor: executor})
}

// AcceptDeal — исполнитель сам берёт свободную сделку.
func (s *Service) AcceptDeal(ctx context.Context, id uuid.UUID, executor int64) (*ledger.Deal, error) {
	return s.Assign(ctx, id, executor, executor)
}

// RemoveExecutor снимает исполнителя, пока сделка не оплачена.
func (s *Service) RemoveExecutor(ctx context.Context, id uuid.UUID, customer int64) (*ledger.Deal, error) {
	return s.run(ctx, id, Command{Action: ActionUnassign, Actor: customer})
}

// StartWork — исполнитель начал работу.
func (s *Service) StartWork(ctx context.Context, id uuid.UUID, executor int64) (*ledger.Deal, error) {
	return s.run(ctx, id, Command{Action: ActionStartWork, Actor: executor})
}

// CompleteWork — исполнитель сдал работу.
func (s *Service) CompleteWork(ctx context.Context, id uuid.UUID, executor int64) (*ledger.Deal, error) {
	return s.run(ctx, id, Command{Action: ActionComplete, Actor: executor})
}

// ConfirmCompletion — заказчик принял работу, деньги уходят исполнителю и платформе.
func (s *Service) ConfirmCompletion(ctx context.Context, id uuid.UUID, customer int64) (*ledger.Deal, error) {
	return s.run(ctx, id, Command{Action: ActionConfirmCompletion, Actor: customer})
}

// OpenDispute открывает спор и зовёт админов.
func (s *Service) OpenDispute(ctx context.Context, id uuid.UUID, actor int64) (*ledger.Deal, error) {
	d, err := s.run(ctx, id, Command{Action: ActionOpenDispute, Actor: actor})
	if err != nil {
		return nil, err
	}

	dealID := d.ID
	err = s.notifier.NotifyUsers(ctx, s.cfg.AdminIDs, notifications.Notice{
		DealID: &dealID,
		Type:   notifications.TypeDispute,
		Text: fmt.Sprintf("⚠️ Спор по сделке #%s (%s). Открыл %d.\n\n%s",
			common.ShortID(d.ID), common.FormatMoney(d.Amount, d.Asset), actor, d.Description),
		Choices: ResolveChoices(d.ID),
	})
	logNotifyError(err, d.ID)
	return d, nil
}

// VoidDeal — заказчик отменяет неоплаченную сделку. Деньги не двигаются.
func (s *Service) VoidDeal(ctx context.Context, id uuid.UUID, customer int64) (*ledger.Deal, error) {
	return s.run(ctx, id, Command{Action: ActionVoid, Actor: customer})
}

// ResolveChoices — кнопки решения спора для админа.
func ResolveChoices(id uuid.UUID) [][]common.Choice {
	return [][]common.Choice{{
		{Text: "↩️ В пользу заказчика", Data: common.Token(TokenResolve, string(ledger.SideCustomer), id.String())},
		{Text: "💰 В пользу исполнителя", Data: common.Token(TokenResolve, string(ledger.SideExecutor), id.String())},
	}}
}

// SetPayoutRef сохраняет реквизиты участника: числовой ID пользователя @CryptoBot.
func (s *Service) SetPayoutRef(ctx context.Context, id uuid.UUID, actor int64, ref string) (*ledger.Deal, error) {
	if _, ok := payments.ParseRecipient(ref); !ok {
		return nil, common.Validation(common.ErrBadPayoutRef)
	}
	return s.mutate(ctx, id, func(d *ledger.Deal) (*ledger.Effects, error) {
		if d.Status.Terminal() {
			return nil, common.Guard(common.ErrWrongStatus)
		}
		switch {
		case actor == d.CustomerID:
			d.CustomerPayoutRef = ref
		case d.IsExecutor(actor):
			d.ExecutorPayoutRef = ref
		default:
			return nil, common.Guard(common.ErrNotParticipant)
		}
		return nil, nil
	})
}

// --- Оплата ---

// RequestPayment выставляет счёт на оплату сделки.
func (s *Service) RequestPayment(ctx context.Context, id uuid.UUID, customer int64) (*ledger.Invoice, error) {
	d, err := s.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.CustomerID != customer {
		return nil, common.Guard(common.ErrNotParticipant)
	}
	if err := transitions[ActionConfirmPayment].check(d.Status); err != nil {
		return nil, err
	}

	// Пока прежний счёт ждёт оплаты и опрашивается, отдаём его же:
	// два оплаченных счёта по одной сделке приходится разбирать вручную.
	if last, err := s.store.LatestInvoice(ctx, id); err == nil {
		if last.Status == ledger.InvoicePending && last.CreatedAt.After(s.now().Add(-s.cfg.InvoicePollWindow)) {
			log.WithFields(log.Fields{"deal_id": id, "invoice_id": last.ID}).Debug("Повторно выдан неоплаченный счёт")
			return last, nil
		}
	} else if !errors.Is(err, common.ErrInvoiceNotFound) {
		return nil, classify("latest_invoice", err)
	}

	inv, err := s.payments.CreateInvoice(ctx, d)
	if err != nil {
		log.WithError(err).WithField("deal_id", id).Warn("Не удалось выставить счёт")
		return nil, err
	}
	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, classify("create_invoice", err)
	}

	log.WithFields(log.Fields{"deal_id": id, "invoice_id": inv.ID, "amount": inv.Amount.String()}).Info("Счёт выставлен")
	return inv, nil
}

// VerifyPayment проверяет последний счёт сделки и, если он оплачен, переводит сделку в paid.
func (s *Service) VerifyPayment(ctx context.Context, id uuid.UUID, actor int64) (*ledger.Deal, error) {
	d, err := s.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.CustomerID != actor {
		return nil, common.Guard(common.ErrNotParticipant)
	}
	if err := transitions[ActionConfirmPayment].check(d.Status); err != nil {
		return nil, err
	}

	inv, err := s.store.LatestInvoice(ctx, id)
	if err != nil {
		return nil, classify("latest_invoice", err)
	}
	paid, err := s.payments.PollStatus(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	if !paid {
		return nil, common.Guard(common.ErrInvoiceNotPaid)
	}
	return s.run(ctx, id, Command{Action: ActionConfirmPayment, Actor: actor, InvoiceID: inv.ID})
}

// ConfirmInvoicePaid — шлюз сообщил об оплате счёта (вебхук или опрос).
// Повторный вызов по тому же счёту отвечает ErrAlreadyInState и ничего не пишет.
// Оплата лишнего счёта (сделка уже оплачена другим или не ждёт оплаты)
// фиксируется на счёте и уходит администраторам.
func (s *Service) ConfirmInvoicePaid(ctx context.Context, invoiceID string) (*ledger.Deal, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, classify("get_invoice", err)
	}
	d, err := s.GetDeal(ctx, inv.DealID)
	if err != nil {
		return nil, err
	}

	updated, err := s.run(ctx, d.ID, Command{Action: ActionConfirmPayment, Actor: d.CustomerID, InvoiceID: inv.ID})
	switch {
	case err == nil:
	case errors.Is(err, common.ErrWrongStatus):
		// Деньги пришли, а сделка уже не ждёт оплаты (например, отменена).
		s.reportStrayPayment(ctx, d, inv.ID)
	case errors.Is(err, common.ErrAlreadyInState):
		// Счёт, которым оплачена сделка, помечен paid в той же транзакции.
		// Если этот счёт всё ещё pending, деньги пришли второй раз.
		current, getErr := s.store.GetInvoice(ctx, inv.ID)
		if getErr != nil {
			return nil, classify("get_invoice", getErr)
		}
		if current.Status == ledger.InvoicePending {
			s.reportStrayPayment(ctx, d, inv.ID)
		}
	}
	return updated, err
}

// reportStrayPayment отмечает счёт оплаченным без перехода сделки и зовёт администраторов.
func (s *Service) reportStrayPayment(ctx context.Context, d *ledger.Deal, invoiceID string) {
	current, err := s.GetDeal(ctx, d.ID)
	if err == nil {
		d = current
	}
	log.WithFields(log.Fields{
		"deal_id":    d.ID,
		"invoice_id": invoiceID,
		"status":     d.Status,
	}).Error("Оплачен счёт сделки, которая не ждёт оплаты")
	if markErr := s.store.MarkInvoicePaid(ctx, invoiceID); markErr != nil {
		log.WithError(markErr).WithField("invoice_id", invoiceID).Error("Не удалось отметить счёт оплаченным")
	}
	dealID := d.ID
	logNotifyError(s.notifier.NotifyUsers(ctx, s.cfg.AdminIDs, notifications.Notice{
		DealID: &dealID,
		Type:   notifications.TypeDealPaid,
		Text: fmt.Sprintf("❗ Оплачен счёт %s по сделке #%s в статусе «%s». Нужна ручная проверка.",
			invoiceID, common.ShortID(d.ID), d.Status.Title()),
	}), d.ID)
}

// PollPendingInvoices опрашивает шлюз по неоплаченным счетам. Возвращает число подтверждённых.
func (s *Service) PollPendingInvoices(ctx context.Context) (int, error) {
	since := s.now().Add(-s.cfg.InvoicePollWindow)
	invoices, err := s.store.ListPendingInvoices(ctx, since, batchSize)
	if err != nil {
		return 0, classify("list_pending_invoices", err)
	}

	confirmed := 0
	var errs error
	for _, inv := range invoices {
		if ctx.Err() != nil {
			return confirmed, ctx.Err()
		}
		paid, err := s.payments.PollStatus(ctx, inv.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !paid {
			continue
		}
		_, err = s.ConfirmInvoicePaid(ctx, inv.ID)
		switch {
		case err == nil:
			confirmed++
		case errors.Is(err, common.ErrAlreadyInState):
		default:
			errs = multierr.Append(errs, err)
		}
	}
	return confirmed, errs
}

// --- Выплаты ---

// Settle исполняет зарегистрированные переводы сделки. Шлюз вызывается без блокировки,
// результат фиксируется под блокировкой ровно одной транзакцией на перевод.
func (s *Service) Settle(ctx context.Context, dealID uuid.UUID, transfers []ledger.Transfer) error {
	var errs error
	for i := range transfers {
		t := transfers[i]
		out := s.payments.Execute(ctx, &t)
		errs = multierr.Append(errs, s.finalize(ctx, &t, out))
	}
	return errs
}

func (s *Service) finalize(ctx context.Context, t *ledger.Transfer, out ledger.TransferOutcome) error {
	unlock, err := s.locker.Lock(ctx, locks.DealKey(t.DealID.String()))
	if err != nil {
		return common.Persistence("lock", err)
	}
	saved, applied, err := s.store.FinalizeTransfer(ctx, t.Key, out)
	unlock()
	if err != nil {
		return classify("finalize_transfer", err)
	}

	logger := log.WithFields(log.Fields{
		"deal_id":    t.DealID,
		"key":        t.Key,
		"settlement": saved.State,
		"uncertain":  saved.Uncertain,
	})
	if !applied {
		logger.Debug("Перевод уже зафиксирован")
		return nil
	}
	logger.Info("Перевод зафиксирован")

	if out.Settlement == ledger.SettlementFallback && t.Beneficiary != ledger.PlatformUserID {
		dealID := t.DealID
		logNotifyError(s.notifier.NotifyMany(ctx, notifications.Notice{
			UserID: t.Beneficiary,
			DealID: &dealID,
			Type:   notifications.TypeDealSettled,
			Text: fmt.Sprintf("💼 %s по сделке #%s зачислено на внутренний баланс (%s). Укажите реквизиты CryptoPay для вывода.",
				common.FormatMoney(t.Amount, t.Asset), common.ShortID(t.DealID), out.Memo),
		}), t.DealID)
	}
	return nil
}

// RepairTransfers доводит до конца переводы, застрявшие в pending,
// и сверяет fallback-переводы после таймаута шлюза. Возвращает число обработанных.
func (s *Service) RepairTransfers(ctx context.Context) (int, error) {
	now := s.now()
	var errs error
	done := 0

	pending, err := s.store.ListPendingTransfers(ctx, now.Add(-s.cfg.RepairAfter), batchSize)
	if err != nil {
		return 0, classify("list_pending_transfers", err)
	}
	for _, t := range pending {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		executed, err := s.payments.Confirm(ctx, t)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out := ledger.TransferOutcome{Settlement: ledger.SettlementExternal, Memo: "подтверждено сверкой"}
		if !executed {
			out = s.payments.Execute(ctx, t)
		}
		if err := s.finalize(ctx, t, out); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		done++
	}

	uncertain, err := s.store.ListUncertainTransfers(ctx, batchSize)
	if err != nil {
		return done, multierr.Append(errs, classify("list_uncertain_transfers", err))
	}
	for _, t := range uncertain {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		executed, err := s.payments.Confirm(ctx, t)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !executed && now.Sub(t.UpdatedAt) < s.cfg.UncertainWindow {
			continue
		}
		resolved, err := s.resolveUncertain(ctx, t, executed)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		log.WithFields(log.Fields{
			"deal_id":      t.DealID,
			"key":          t.Key,
			"late_success": executed,
			"memo":         resolved.Memo,
		}).Warn("Неопределённый перевод сверен")
		done++
	}
	return done, errs
}

func (s *Service) resolveUncertain(ctx context.Context, t *ledger.Transfer, lateSuccess bool) (*ledger.Transfer, error) {
	unlock, err := s.locker.Lock(ctx, locks.DealKey(t.DealID.String()))
	if err != nil {
		return nil, common.Persistence("lock", err)
	}
	defer unlock()

	resolved, err := s.store.ResolveUncertain(ctx, t.Key, lateSuccess)
	if err != nil {
		return nil, classify("resolve_uncertain", err)
	}
	return resolved, nil
}

// classify относит ошибки хранилища к классам. Ненайденные записи — ошибка ввода.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, common.ErrDealNotFound),
		errors.Is(err, common.ErrInvoiceNotFound),
		errors.Is(err, common.ErrUserNotFound),
		errors.Is(err, common.ErrTransferNotFound):
		if common.KindOf(err) != common.KindUnknown {
			return err
		}
		return common.Validation(err)
	default:
		return common.Persistence(op, err)
	}
}

func logNotifyError(err error, dealID uuid.UUID) {
	if err == nil {
		return
	}
	log.WithError(err).WithField("deal_id", dealID).Warn("Не все уведомления доставлены")
}
