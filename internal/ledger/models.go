// Package ledger — хранилище сделок и всех денежных движений.
// models.go описывает пользователей, сделки, транзакции, счета, предложения,
// уведомления и переводы.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlatformUserID — получатель комиссии в таблице транзакций.
const PlatformUserID int64 = 0

// User — пользователь бота.
type User struct {
	UserID    int64           `db:"user_id"`    // Telegram user ID
	Username  string          `db:"username"`   // @username (может быть пустым)
	FirstName string          `db:"first_name"` // Имя
	LastName  string          `db:"last_name"`  // Фамилия (может быть пустой)
	Balance   decimal.Decimal `db:"balance"`    // Внутренний баланс, пополняется только fallback-выплатами
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// DisplayName возвращает @username или имя + фамилию.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}

// Status — статус сделки. Набор закрыт, другие значения невозможны.
type Status string

const (
	StatusPending    Status = "pending"     // Создана, ждёт оплаты
	StatusPaid       Status = "paid"        // Оплачена заказчиком
	StatusInProgress Status = "in_progress" // Исполнитель взялся за работу
	StatusCompleted  Status = "completed"   // Исполнитель сдал работу
	StatusSettled    Status = "settled"     // Заказчик подтвердил, деньги выплачены
	StatusDisputed   Status = "disputed"    // Открыт спор
	StatusResolved   Status = "resolved"    // Спор решён админом (см. Deal.Resolution)
	StatusVoided     Status = "voided"      // Отменена до оплаты, деньги не двигались
)

// Statuses перечисляет все статусы в порядке жизненного цикла.
var Statuses = []Status{
	StatusPending, StatusPaid, StatusInProgress, StatusCompleted,
	StatusSettled, StatusDisputed, StatusResolved, StatusVoided,
}

// Valid проверяет, что статус из закрытого набора.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal — сделка завершена, запись хранится только для аудита.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusResolved || s == StatusVoided
}

// Title возвращает название статуса для пользователя.
func (s Status) Title() string {
	switch s {
	case StatusPending:
		return "⏳ Ожидает оплаты"
	case StatusPaid:
		return "💳 Оплачена"
	case StatusInProgress:
		return "🔨 В работе"
	case StatusCompleted:
		return "📦 Работа сдана"
	case StatusSettled:
		return "✅ Завершена"
	case StatusDisputed:
		return "⚠️ Спор"
	case StatusResolved:
		return "⚖️ Спор решён"
	case StatusVoided:
		return "🚫 Отменена"
	}
	return string(s)
}

// Side — сторона, в пользу которой решён спор.
type Side string

const (
	SideCustomer Side = "customer"
	SideExecutor Side = "executor"
)

// ParseSide разбирает сторону спора.
func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case SideCustomer, SideExecutor:
		return Side(s), true
	}
	return "", false
}

// Deal — сделка между заказчиком и исполнителем.
type Deal struct {
	ID          uuid.UUID       `db:"deal_id"`
	CustomerID  int64           `db:"customer_id"`
	ExecutorID  *int64          `db:"executor_id"` // nil, пока исполнитель не назначен
	Amount      decimal.Decimal `db:"amount"`
	Commission  decimal.Decimal `db:"commission"` // amount * percent / 100, не меняется после создания
	Asset       string          `db:"asset"`
	Description string          `db:"description"`
	Status      Status          `db:"status"`
	// Resolution задан только для StatusResolved.
	Resolution *Side `db:"resolution"`

	PaymentMethod     string          `db:"payment_method"`
	PaymentAmount     decimal.Decimal `db:"payment_amount"` // Сколько запрошено к оплате, задаётся при создании
	CustomerPayoutRef string          `db:"customer_payout_ref"`
	ExecutorPayoutRef string          `db:"executor_payout_ref"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PaymentMethodCrypto — единственный способ оплаты сделки.
const PaymentMethodCrypto = "crypto"

// RemainingAmount — часть суммы сделки, не покрытая запрошенной оплатой.
// Для обычной сделки равна нулю.
func (d *Deal) RemainingAmount() decimal.Decimal {
	return d.Amount.Sub(d.PaymentAmount)
}

// InvoiceAmount — на какую сумму выставлять счёт. Старые записи без
// payment_amount оплачиваются на всю сумму.
func (d *Deal) InvoiceAmount() decimal.Decimal {
	if d.PaymentAmount.IsPositive() {
		return d.PaymentAmount
	}
	return d.Amount
}

// Payout — сколько получает исполнитель.
func (d *Deal) Payout() decimal.Decimal {
	return d.Amount.Sub(d.Commission)
}

// HasExecutor проверяет, назначен ли исполнитель.
func (d *Deal) HasExecutor() bool { return d.ExecutorID != nil }

// IsExecutor проверяет, что userID — исполнитель сделки.
func (d *Deal) IsExecutor(userID int64) bool {
	return d.ExecutorID != nil && *d.ExecutorID == userID
}

// IsParticipant — заказчик или исполнитель.
func (d *Deal) IsParticipant(userID int64) bool {
	return d.CustomerID == userID || d.IsExecutor(userID)
}

// Counterparty возвращает второго участника сделки (0, если его нет).
func (d *Deal) Counterparty(userID int64) int64 {
	if d.CustomerID == userID {
		if d.ExecutorID != nil {
			return *d.ExecutorID
		}
		return 0
	}
	return d.CustomerID
}

// Clone возвращает глубокую копию сделки.
func (d *Deal) Clone() *Deal {
	c := *d
	if d.ExecutorID != nil {
		id := *d.ExecutorID
		c.ExecutorID = &id
	}
	if d.Resolution != nil {
		side := *d.Resolution
		c.Resolution = &side
	}
	return &c
}

// TxKind — тип транзакции.
type TxKind string

const (
	TxPayment    TxKind = "payment"    // Заказчик оплатил сделку
	TxRefund     TxKind = "refund"     // Возврат заказчику по спору
	TxPayout     TxKind = "payout"     // Выплата исполнителю
	TxCommission TxKind = "commission" // Комиссия платформы
)

// Settlement — как фактически прошли деньги.
type Settlement string

const (
	SettlementExternal Settlement = "external" // Через CryptoPay
	SettlementFallback Settlement = "fallback" // На внутренний баланс
	SettlementInternal Settlement = "internal" // Запись без движения денег (оплата)
)

// Transaction — неизменяемая запись в журнале.
type Transaction struct {
	ID             int64           `db:"transaction_id"`
	DealID         uuid.UUID       `db:"deal_id"`
	UserID         int64           `db:"user_id"` // PlatformUserID для комиссии
	Amount         decimal.Decimal `db:"amount"`
	Kind           TxKind          `db:"transaction_type"`
	Settlement     Settlement      `db:"settlement"`
	Memo           string          `db:"description"`
	IdempotencyKey string          `db:"idempotency_key"` // payment_/refund_/payout_/commission_<deal_id>
	CreatedAt      time.Time       `db:"created_at"`
}

// InvoiceStatus — статус счёта.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
)

// Invoice — счёт CryptoPay, привязанный к сделке.
// По сделке может быть несколько счетов, актуален последний.
type Invoice struct {
	ID          string          `db:"invoice_id"`
	DealID      uuid.UUID       `db:"deal_id"`
	UserID      int64           `db:"user_id"`
	Amount      decimal.Decimal `db:"amount"`
	Asset       string          `db:"currency"`
	Description string          `db:"description"`
	PayURL      string          `db:"pay_url"`
	Status      InvoiceStatus   `db:"status"`
	CreatedAt   time.Time       `db:"created_at"`
	PaidAt      *time.Time      `db:"paid_at"`
}

// OfferStatus — статус предложения стать исполнителем.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Offer — предложение пользователю стать исполнителем сделки.
type Offer struct {
	ID         int64       `db:"offer_id"`
	DealID     uuid.UUID   `db:"deal_id"`
	FromUserID int64       `db:"from_user_id"`
	ToUserID   int64       `db:"to_user_id"`
	Status     OfferStatus `db:"status"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
}

// Notification — запись об уведомлении пользователю. Не влияет на состояние сделки.
type Notification struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`
	DealID    *uuid.UUID `db:"deal_id"`
	Type      string     `db:"type"`
	Message   string     `db:"message"`
	IsRead    bool       `db:"is_read"`
	CreatedAt time.Time  `db:"created_at"`
}

// TransferState — состояние перевода.
type TransferState string

const (
	TransferPending  TransferState = "pending"  // Намерение записано, результат шлюза ещё не сохранён
	TransferExternal TransferState = "external" // Деньги ушли через шлюз
	TransferFallback TransferState = "fallback" // Зачислено на внутренний баланс
)

// Transfer — намерение перевести деньги по сделке. Ключ — idempotency key,
// он же spend_id в CryptoPay.
type Transfer struct {
	Key          string          `db:"idempotency_key"`
	DealID       uuid.UUID       `db:"deal_id"`
	Kind         TxKind          `db:"kind"`
	Beneficiary  int64           `db:"beneficiary"`
	Amount       decimal.Decimal `db:"amount"`
	Asset        string          `db:"asset"`
	RecipientRef string          `db:"recipient_ref"`
	State        TransferState   `db:"state"`
	// Uncertain — вызов шлюза упал по таймауту, деньги могли уйти.
	Uncertain   bool      `db:"uncertain"`
	LateSuccess bool      `db:"late_success"`
	Attempts    int       `db:"attempts"`
	Memo        string    `db:"memo"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// TransferKey строит ключ идемпотентности: payment_<id>, refund_<id>, payout_<id>, commission_<id>.
func TransferKey(kind TxKind, dealID uuid.UUID) string {
	return string(kind) + "_" + dealID.String()
}

// TransferOutcome — результат исполнения перевода, который фиксирует FinalizeTransfer.
type TransferOutcome struct {
	Settlement Settlement // SettlementExternal или SettlementFallback
	Memo       string
	Uncertain  bool
}

// Effects — побочные эффекты перехода, применяемые атомарно вместе с изменением сделки.
type Effects struct {
	Transactions  []Transaction
	Transfers     []Transfer
	PaidInvoiceID string
}

// Stats — сводка для админки.
type Stats struct {
	Users           int
	Deals           int
	ByStatus        map[Status]int
	TotalAmount     decimal.Decimal
	TotalCommission decimal.Decimal
}
