// Package ledger — memory.go: хранилище в памяти процесса.
// Используется в тестах и при STORAGE_DRIVER=memory для локального запуска без БД.
// Один мьютекс на всё хранилище даёт ту же атомарность, что транзакция с FOR UPDATE.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/garant-bot/internal/common"
)

// MemoryStore — реализация Store в памяти.
type MemoryStore struct {
	mu sync.Mutex

	users         map[int64]*User
	deals         map[uuid.UUID]*Deal
	dealSeq       map[uuid.UUID]int64
	txs           []*Transaction
	invoices      map[string]*Invoice
	invoiceSeq    map[string]int64
	offers        map[int64]*Offer
	notifications []*Notification
	transfers     map[string]*Transfer

	seq int64
	now func() time.Time
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[int64]*User),
		deals:      make(map[uuid.UUID]*Deal),
		dealSeq:    make(map[uuid.UUID]int64),
		invoices:   make(map[string]*Invoice),
		invoiceSeq: make(map[string]int64),
		offers:     make(map[int64]*Offer),
		transfers:  make(map[string]*Transfer),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) next() int64 {
	m.seq++
	return m.seq
}

// --- Пользователи ---

// UpsertUser создаёт пользователя или обновляет его имя и username.
// Баланс и дата регистрации при обновлении не меняются.
func (m *MemoryStore) UpsertUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.users[u.UserID]; ok {
		existing.Username = u.Username
		existing.FirstName = u.FirstName
		existing.LastName = u.LastName
		existing.UpdatedAt = now
		return nil
	}
	m.users[u.UserID] = &User{
		UserID:    u.UserID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// GetUser возвращает копию пользователя или common.ErrUserNotFound.
func (m *MemoryStore) GetUser(_ context.Context, userID int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// GetUserByUsername ищет пользователя по username без учёта регистра.
func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username != "" && strings.EqualFold(u.Username, username) {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrUserNotFound
}

// ListRecentUsers — последние зарегистрированные пользователи, новые первыми.
func (m *MemoryStore) ListRecentUsers(_ context.Context, limit int) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID > out[j].UserID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limitSlice(out, limit), nil
}

// --- Сделки ---

// CreateDeal сохраняет новую сделку.
//
// Параметры:
//   - d: сделка с заполненным ID; пустой CreatedAt и UpdatedAt заполняются здесь
//
// Возвращает ошибку, если сделка с таким ID уже есть.
func (m *MemoryStore) CreateDeal(_ context.Context, d *Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deals[d.ID]; ok {
		return fmt.Errorf("сделка %s уже существует", d.ID)
	}
	now := m.now()
	c := d.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.deals[c.ID] = c
	m.dealSeq[c.ID] = m.next()
	d.CreatedAt, d.UpdatedAt = c.CreatedAt, c.UpdatedAt
	return nil
}

// GetDeal возвращает копию сделки или common.ErrDealNotFound.
func (m *MemoryStore) GetDeal(_ context.Context, id uuid.UUID) (*Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deals[id]
	if !ok {
		return nil, common.ErrDealNotFound
	}
	return d.Clone(), nil
}

// MutateDeal применяет fn к копии сделки и сохраняет результат вместе с эффектами.
// Если fn или проверка эффектов вернули ошибку, хранилище не меняется.
func (m *MemoryStore) MutateDeal(_ context.Context, id uuid.UUID, fn MutateFunc) (*Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.deals[id]
	if !ok {
		return nil, common.ErrDealNotFound
	}
	working := current.Clone()
	effects, err := fn(working)
	if err != nil {
		return nil, err
	}
	if effects == nil {
		effects = &Effects{}
	}

	// Сначала проверяем все эффекты, потом применяем: частичной записи быть не должно.
	for _, t := range effects.Transactions {
		if t.IdempotencyKey != "" && m.hasTxKey(t.IdempotencyKey) {
			return nil, fmt.Errorf("транзакция с ключом %s уже записана", t.IdempotencyKey)
		}
	}
	for _, tr := range effects.Transfers {
		if _, exists := m.transfers[tr.Key]; exists {
			return nil, fmt.Errorf("перевод %s уже зарегистрирован", tr.Key)
		}
	}
	var paid *Invoice
	if effects.PaidInvoiceID != "" {
		inv, ok := m.invoices[effects.PaidInvoiceID]
		if !ok {
			return nil, common.ErrInvoiceNotFound
		}
		paid = inv
	}

	now := m.now()
	working.ID = current.ID
	working.CreatedAt = current.CreatedAt
	working.UpdatedAt = now
	m.deals[id] = working

	for _, t := range effects.Transactions {
		m.appendTx(t, now)
	}
	for _, tr := range effects.Transfers {
		c := tr
		c.State = TransferPending
		c.CreatedAt, c.UpdatedAt = now, now
		m.transfers[c.Key] = &c
	}
	if paid != nil && paid.Status != InvoicePaid {
		paid.Status = InvoicePaid
		paidAt := now
		paid.PaidAt = &paidAt
	}
	return working.Clone(), nil
}

func (m *MemoryStore) hasTxKey(key string) bool {
	for _, t := range m.txs {
		if t.IdempotencyKey == key {
			return true
		}
	}
	return false
}

func (m *MemoryStore) appendTx(t Transaction, now time.Time) {
	t.ID = m.next()
	t.CreatedAt = now
	m.txs = append(m.txs, &t)
}

// ListDealsByUser — сделки, где пользователь заказчик или исполнитель.
func (m *MemoryStore) ListDealsByUser(_ context.Context, userID int64, limit int) ([]*Deal, error) {
	return m.filterDeals(limit, func(d *Deal) bool { return d.IsParticipant(userID) }), nil
}

// ListAvailableDeals — ожидающие сделки без исполнителя.
func (m *MemoryStore) ListAvailableDeals(_ context.Context, limit int) ([]*Deal, error) {
	return m.filterDeals(limit, func(d *Deal) bool {
		return d.Status == StatusPending && d.ExecutorID == nil
	}), nil
}

// ListRecentDeals — последние созданные сделки.
func (m *MemoryStore) ListRecentDeals(_ context.Context, limit int) ([]*Deal, error) {
	return m.filterDeals(limit, func(*Deal) bool { return true }), nil
}

// filterDeals возвращает сделки от новых к старым.
func (m *MemoryStore) filterDeals(limit int, keep func(*Deal) bool) []*Deal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Deal
	for _, d := range m.deals {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.dealSeq[out[i].ID] > m.dealSeq[out[j].ID] })
	return limitSlice(out, limit)
}

// ListTransactions — журнал сделки в порядке записи.
func (m *MemoryStore) ListTransactions(_ context.Context, dealID uuid.UUID) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Transaction
	for _, t := range m.txs {
		if t.DealID == dealID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

// --- Счета ---

// CreateInvoice сохраняет выставленный счёт. Пустой статус становится pending.
func (m *MemoryStore) CreateInvoice(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[inv.ID]; ok {
		return fmt.Errorf("счёт %s уже существует", inv.ID)
	}
	c := *inv
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	if c.Status == "" {
		c.Status = InvoicePending
	}
	m.invoices[c.ID] = &c
	m.invoiceSeq[c.ID] = m.next()
	inv.CreatedAt, inv.Status = c.CreatedAt, c.Status
	return nil
}

// GetInvoice возвращает счёт по ID шлюза или common.ErrInvoiceNotFound.
func (m *MemoryStore) GetInvoice(_ context.Context, invoiceID string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, common.ErrInvoiceNotFound
	}
	c := *inv
	return &c, nil
}

// LatestInvoice — последний выставленный счёт сделки.
func (m *MemoryStore) LatestInvoice(_ context.Context, dealID uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *Invoice
	for id, inv := range m.invoices {
		if inv.DealID != dealID {
			continue
		}
		if latest == nil || m.invoiceSeq[id] > m.invoiceSeq[latest.ID] {
			latest = inv
		}
	}
	if latest == nil {
		return nil, common.ErrInvoiceNotFound
	}
	c := *latest
	return &c, nil
}

// ListPendingInvoices — неоплаченные счета, созданные не раньше since.
//
// Параметры:
//   - since: нижняя граница окна опроса
//   - limit: сколько счетов вернуть, 0 — без ограничения
func (m *MemoryStore) ListPendingInvoices(_ context.Context, since time.Time, limit int) ([]*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.Status == InvoicePending && !inv.CreatedAt.Before(since) {
			c := *inv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.invoiceSeq[out[i].ID] < m.invoiceSeq[out[j].ID] })
	return limitSlice(out, limit), nil
}

// MarkInvoicePaid помечает счёт оплаченным без перехода сделки.
func (m *MemoryStore) MarkInvoicePaid(_ context.Context, invoiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[invoiceID]
	if !ok {
		return common.ErrInvoiceNotFound
	}
	if inv.Status != InvoicePaid {
		now := m.now()
		inv.Status = InvoicePaid
		inv.PaidAt = &now
	}
	return nil
}

// --- Предложения ---

// CreateOffer сохраняет предложение и присваивает ему ID.
// Второе ожидающее предложение по той же сделке отклоняется.
func (m *MemoryStore) CreateOffer(_ context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.offers {
		if existing.DealID == o.DealID && existing.Status == OfferPending {
			return common.ErrOfferPending
		}
	}
	now := m.now()
	c := *o
	c.ID = m.next()
	c.Status = OfferPending
	c.CreatedAt, c.UpdatedAt = now, now
	m.offers[c.ID] = &c
	*o = c
	return nil
}

// GetOffer возвращает предложение или common.ErrOfferNotFound.
func (m *MemoryStore) GetOffer(_ context.Context, id int64) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.offers[id]
	if !ok {
		return nil, common.ErrOfferNotFound
	}
	c := *o
	return &c, nil
}

// TransitionOffer переводит предложение из from в to, если оно всё ещё в from.
// Иначе возвращает common.ErrOfferClosed.
func (m *MemoryStore) TransitionOffer(_ context.Context, id int64, from, to OfferStatus) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.offers[id]
	if !ok {
		return nil, common.ErrOfferNotFound
	}
	if o.Status != from {
		return nil, common.ErrOfferClosed
	}
	o.Status = to
	o.UpdatedAt = m.now()
	c := *o
	return &c, nil
}

func (m *MemoryStore) ListOffersByRecipient(_ context.Context, userID int64, status OfferStatus) ([]*Offer, error) {
	return m.filterOffers(func(o *Offer) bool { return o.ToUserID == userID && o.Status == status }), nil
}

// ListOffersBySender — предложения, отправленные пользователем.
func (m *MemoryStore) ListOffersBySender(_ context.Context, userID int64) ([]*Offer, error) {
	return m.filterOffers(func(o *Offer) bool { return o.FromUserID == userID }), nil
}

func (m *MemoryStore) filterOffers(keep func(*Offer) bool) []*Offer {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Offer
	for _, o := range m.offers {
		if keep(o) {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// --- Уведомления ---

// AddNotification сохраняет уведомление и присваивает ему ID.
func (m *MemoryStore) AddNotification(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *n
	c.ID = m.next()
	c.CreatedAt = m.now()
	m.notifications = append(m.notifications, &c)
	n.ID, n.CreatedAt = c.ID, c.CreatedAt
	return nil
}

// ListNotifications — уведомления пользователя, новые первыми.
func (m *MemoryStore) ListNotifications(_ context.Context, userID int64, unreadOnly bool, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	return limitSlice(out, limit), nil
}

// MarkNotificationsRead помечает все уведомления прочитанными.
// Возвращает, сколько было отмечено.
func (m *MemoryStore) MarkNotificationsRead(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

// CountUnread — число непрочитанных уведомлений.
func (m *MemoryStore) CountUnread(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// --- Переводы ---

// GetTransfer возвращает намерение перевода по ключу идемпотентности.
func (m *MemoryStore) GetTransfer(_ context.Context, key string) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[key]
	if !ok {
		return nil, common.ErrTransferNotFound
	}
	c := *t
	return &c, nil
}

// FinalizeTransfer фиксирует результат перевода ровно одной транзакцией.
// Повторный вызов для уже завершённого перевода ничего не пишет и возвращает applied=false.
func (m *MemoryStore) FinalizeTransfer(_ context.Context, key string, out TransferOutcome) (*Transfer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[key]
	if !ok {
		return nil, false, common.ErrTransferNotFound
	}
	if t.State != TransferPending {
		c := *t
		return &c, false, nil
	}
	if out.Settlement != SettlementExternal && out.Settlement != SettlementFallback {
		return nil, false, fmt.Errorf("неизвестный способ расчёта %q", out.Settlement)
	}

	now := m.now()
	m.appendTx(Transaction{
		DealID:         t.DealID,
		UserID:         t.Beneficiary,
		Amount:         t.Amount,
		Kind:           t.Kind,
		Settlement:     out.Settlement,
		Memo:           out.Memo,
		IdempotencyKey: t.Key,
	}, now)

	if out.Settlement == SettlementFallback && t.Beneficiary != PlatformUserID {
		u, ok := m.users[t.Beneficiary]
		if !ok {
			u = &User{UserID: t.Beneficiary, Balance: decimal.Zero, CreatedAt: now}
			m.users[t.Beneficiary] = u
		}
		u.Balance = u.Balance.Add(t.Amount)
		u.UpdatedAt = now
		t.State = TransferFallback
	} else if out.Settlement == SettlementFallback {
		t.State = TransferFallback
	} else {
		t.State = TransferExternal
	}
	t.Memo = out.Memo
	t.Uncertain = out.Uncertain
	t.Attempts++
	t.UpdatedAt = now

	c := *t
	return &c, true, nil
}

// ListPendingTransfers — переводы, зарегистрированные раньше olderThan и не дошедшие до шлюза.
func (m *MemoryStore) ListPendingTransfers(_ context.Context, olderThan time.Time, limit int) ([]*Transfer, error) {
	return m.filterTransfers(limit, func(t *Transfer) bool {
		return t.State == TransferPending && !t.UpdatedAt.After(olderThan)
	}), nil
}

// ListUncertainTransfers — переводы, зачисленные на баланс после таймаута шлюза.
func (m *MemoryStore) ListUncertainTransfers(_ context.Context, limit int) ([]*Transfer, error) {
	return m.filterTransfers(limit, func(t *Transfer) bool {
		return t.Uncertain && t.State != TransferPending
	}), nil
}

func (m *MemoryStore) filterTransfers(limit int, keep func(*Transfer) bool) []*Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Transfer
	for _, t := range m.transfers {
		if keep(t) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return limitSlice(out, limit)
}

// ResolveUncertain снимает флаг неопределённости. При позднем успехе шлюза
// fallback-начисление списывается с баланса, вторая транзакция не пишется.
func (m *MemoryStore) ResolveUncertain(_ context.Context, key string, lateSuccess bool) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[key]
	if !ok {
		return nil, common.ErrTransferNotFound
	}
	if !t.Uncertain {
		c := *t
		return &c, nil
	}

	now := m.now()
	t.Uncertain = false
	t.UpdatedAt = now
	if lateSuccess && t.State == TransferFallback {
		t.LateSuccess = true
		t.Memo += clawbackMemo(m.clawback(t, now))
	}
	c := *t
	return &c, nil
}

// clawback списывает fallback-начисление, если на балансе хватает средств.
func (m *MemoryStore) clawback(t *Transfer, now time.Time) bool {
	if t.Beneficiary == PlatformUserID {
		return true
	}
	u, ok := m.users[t.Beneficiary]
	if !ok || u.Balance.LessThan(t.Amount) {
		return false
	}
	u.Balance = u.Balance.Sub(t.Amount)
	u.UpdatedAt = now
	return true
}

// --- Админка ---

// Stats — сводка для администратора.
func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &Stats{
		Users:           len(m.users),
		Deals:           len(m.deals),
		ByStatus:        make(map[Status]int),
		TotalAmount:     decimal.Zero,
		TotalCommission: decimal.Zero,
	}
	for _, d := range m.deals {
		st.ByStatus[d.Status]++
		st.TotalAmount = st.TotalAmount.Add(d.Amount)
		st.TotalCommission = st.TotalCommission.Add(d.Commission)
	}
	return st, nil
}

// ArchiveSettledDeals удаляет завершённые сделки вместе со всеми зависимыми записями.
// Сделки с незавершёнными или неопределёнными переводами не трогаются.
func (m *MemoryStore) ArchiveSettledDeals(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	archive := make(map[uuid.UUID]bool)
	for id, d := range m.deals {
		if d.Status.Terminal() && !m.moneyInFlight(id) {
			archive[id] = true
		}
	}
	if len(archive) == 0 {
		return 0, nil
	}

	for id := range archive {
		delete(m.deals, id)
		delete(m.dealSeq, id)
	}
	m.txs = filterByDeal(m.txs, archive, func(t *Transaction) uuid.UUID { return t.DealID })
	m.notifications = filterNotifications(m.notifications, archive)
	for id, inv := range m.invoices {
		if archive[inv.DealID] {
			delete(m.invoices, id)
			delete(m.invoiceSeq, id)
		}
	}
	for id, o := range m.offers {
		if archive[o.DealID] {
			delete(m.offers, id)
		}
	}
	for key, t := range m.transfers {
		if archive[t.DealID] {
			delete(m.transfers, key)
		}
	}
	return len(archive), nil
}

func (m *MemoryStore) moneyInFlight(dealID uuid.UUID) bool {
	for _, t := range m.transfers {
		if t.DealID == dealID && (t.State == TransferPending || t.Uncertain) {
			return true
		}
	}
	return false
}

func filterByDeal[T any](items []T, drop map[uuid.UUID]bool, dealOf func(T) uuid.UUID) []T {
	out := items[:0]
	for _, it := range items {
		if !drop[dealOf(it)] {
			out = append(out, it)
		}
	}
	return out
}

func filterNotifications(items []*Notification, drop map[uuid.UUID]bool) []*Notification {
	return filterByDeal(items, drop, func(n *Notification) uuid.UUID {
		if n.DealID == nil {
			return uuid.Nil
		}
		return *n.DealID
	})
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func clawbackMemo(applied bool) string {
	if applied {
		return " | поздний успех шлюза, начисление на баланс списано"
	}
	return " | поздний успех шлюза, списать начисление не удалось: нужна проверка админа"
}
