// Package deals — жизненный цикл сделки.
// machine.go содержит чистую функцию переходов Decide, service.go — операции
// с блокировкой сделки, оплатой и выплатами, handlers.go — экраны бота.
package deals

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/garant-bot/internal/features/notifications"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// Action — действие над сделкой.
type Action string

const (
	ActionAssign            Action = "assign"
	ActionUnassign          Action = "unassign"
	ActionConfirmPayment    Action = "confirm_payment"
	ActionStartWork         Action = "start_work"
	ActionComplete          Action = "complete"
	ActionConfirmCompletion Action = "confirm_completion"
	ActionOpenDispute       Action = "open_dispute"
	ActionResolve           Action = "resolve"
	ActionVoid              Action = "void"
)

// Command — кто и что хочет сделать со сделкой.
type Command struct {
	Action  Action
	Actor   int64
	IsAdmin bool
	// Executor — кого назначить (ActionAssign).
	Executor int64
	// Side — в чью пользу решён спор (ActionResolve).
	Side ledger.Side
	// InvoiceID — оплаченный счёт (ActionConfirmPayment).
	InvoiceID string
}

// Outcome — результат перехода: новое состояние, эффекты для журнала и уведомления.
type Outcome struct {
	Deal    ledger.Deal
	From    ledger.Status
	Effects ledger.Effects
	Notices []notifications.Notice
}

// Config — параметры сделок, передаются явно при создании сервиса.
type Config struct {
	CommissionPercent decimal.Decimal
	Asset             string
	MinDescription    int
	AdminIDs          []int64

	RepairAfter       time.Duration
	UncertainWindow   time.Duration
	InvoicePollWindow time.Duration
}

// IsAdmin проверяет allow-list администраторов.
func (c Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// maxDescription — предел длины описания в символах.
const maxDescription = 1000

// Действия inline-кнопок. Аргумент — ID сделки.
const (
	TokenView      = "deal"
	TokenPay       = "pay"
	TokenCheck     = "check"
	TokenAccept    = "accept"
	TokenUnassign  = "unassign"
	TokenStart     = "start"
	TokenComplete  = "complete"
	TokenConfirm   = "confirm"
	TokenDispute   = "dispute"
	TokenVoid      = "void"
	TokenResolve   = "resolve" // resolve:<side>:<id>
	TokenMyDeals   = "my_deals"
	TokenAvailable = "available"
	TokenCreate    = "create"
	TokenPayout    = "payout"
	TokenHistory   = "history"
	// TokenPropose обрабатывает пакет offers.
	TokenPropose   = "propose"
)
