// Package common — errors.go определяет ошибки, которые используются во всех модулях бота.
// Сентинельные ошибки сгруппированы по фичам, а тип Error относит их
// к одному из классов (валидация, нарушение guard-а, шлюз, хранилище, уведомления),
// чтобы обработчики понимали, что показать пользователю и нужно ли повторять.
package common

import (
	"errors"
	"fmt"
)

// Kind — класс ошибки.
type Kind int

const (
	// KindUnknown — ошибка не классифицирована.
	KindUnknown Kind = iota
	// KindValidation — плохие входные данные, состояние не меняется.
	KindValidation
	// KindGuard — действие из неправильного статуса или не тем участником.
	KindGuard
	// KindGateway — платёжный шлюз не ответил или вернул ошибку.
	KindGateway
	// KindPersistence — ошибка хранилища, действие нужно повторить целиком.
	KindPersistence
	// KindNotification — не удалось доставить сообщение контрагенту.
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindGuard:
		return "guard"
	case KindGateway:
		return "gateway"
	case KindPersistence:
		return "persistence"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Error — классифицированная ошибка.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation помечает ошибку как ошибку валидации.
func Validation(err error) error { return &Error{Kind: KindValidation, Err: err} }

// Guard помечает ошибку как нарушение guard-а перехода.
func Guard(err error) error { return &Error{Kind: KindGuard, Err: err} }

// Gateway оборачивает ошибку платёжного шлюза.
func Gateway(op string, err error) error { return &Error{Kind: KindGateway, Op: op, Err: err} }

// Persistence оборачивает ошибку хранилища.
func Persistence(op string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// Notification оборачивает ошибку доставки уведомления.
func Notification(op string, err error) error {
	return &Error{Kind: KindNotification, Op: op, Err: err}
}

// KindOf возвращает класс ошибки (KindUnknown для nil и неклассифицированных).
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsKind проверяет класс ошибки.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage возвращает текст ошибки для ответа пользователю.
// Ошибки шлюза и хранилища не раскрываются.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindValidation, KindGuard:
		var ce *Error
		errors.As(err, &ce)
		return "❌ " + ce.Err.Error()
	case KindGateway:
		return "❌ Платёжный сервис недоступен, попробуйте позже"
	default:
		return "❌ Внутренняя ошибка, попробуйте позже"
	}
}

// Ошибки пользователей и баланса
var (
	// ErrUserNotFound — пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrBadUsername — некорректный @username
	ErrBadUsername = errors.New("некорректный username")
	// ErrInsufficientBalance — недостаточно средств на внутреннем балансе
	ErrInsufficientBalance = errors.New("недостаточно средств на балансе")
)

// Ошибки сделок
var (
	// ErrDealNotFound — сделка не найдена
	ErrDealNotFound = errors.New("сделка не найдена")
	// ErrInvalidAmount — сумма не положительная или слишком много знаков после запятой
	ErrInvalidAmount = errors.New("сумма должна быть положительной, не более 8 знаков после запятой")
	// ErrDescriptionTooShort — описание короче минимума
	ErrDescriptionTooShort = errors.New("описание слишком короткое")
	// ErrDescriptionTooLong — описание длиннее 1000 символов
	ErrDescriptionTooLong = errors.New("описание слишком длинное")
	// ErrWrongStatus — действие недоступно в текущем статусе сделки
	ErrWrongStatus = errors.New("действие недоступно в текущем статусе сделки")
	// ErrAlreadyInState — сделка уже в целевом статусе (повторное нажатие)
	ErrAlreadyInState = errors.New("сделка уже в этом состоянии")
	// ErrNotParticipant — действие может выполнить только другой участник сделки
	ErrNotParticipant = errors.New("это действие вам недоступно")
	// ErrExecutorBound — исполнитель уже назначен
	ErrExecutorBound = errors.New("сделка уже недоступна: исполнитель назначен")
	// ErrNoExecutor — исполнитель ещё не назначен
	ErrNoExecutor = errors.New("исполнитель не назначен")
	// ErrSelfDeal — нельзя быть исполнителем своей сделки
	ErrSelfDeal = errors.New("нельзя быть исполнителем своей сделки")
	// ErrBadPayoutRef — реквизиты CryptoPay должны быть числовым user_id
	ErrBadPayoutRef = errors.New("реквизиты должны быть числовым ID пользователя CryptoPay")
	// ErrBadSide — неизвестная сторона спора
	ErrBadSide = errors.New("неизвестная сторона спора")
)

// Ошибки оплаты
var (
	// ErrInvoiceNotFound — счёт по сделке не выставлялся
	ErrInvoiceNotFound = errors.New("счёт не найден")
	// ErrInvoiceNotPaid — счёт ещё не оплачен
	ErrInvoiceNotPaid = errors.New("счёт ещё не оплачен")
	// ErrTransferNotFound — перевод с таким ключом не найден
	ErrTransferNotFound = errors.New("перевод не найден")
)

// Ошибки предложений
var (
	// ErrOfferNotFound — предложение не найдено
	ErrOfferNotFound = errors.New("предложение не найдено")
	// ErrOfferPending — по сделке уже есть активное предложение
	ErrOfferPending = errors.New("по сделке уже есть активное предложение")
	// ErrOfferClosed — предложение уже принято или отклонено
	ErrOfferClosed = errors.New("предложение уже обработано")
)

// Ошибки админки
var (
	// ErrNotAdmin — пользователь не является администратором
	ErrNotAdmin = errors.New("у вас нет прав администратора")
)
