package deals

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
)

// CreateInput — данные новой сделки от заказчика.
type CreateInput struct {
	CustomerID  int64 `validate:"gt=0"`
	Amount      decimal.Decimal
	Description string
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// NewDeal проверяет ввод и собирает сделку в статусе pending.
// Комиссия считается здесь один раз: amount * percent / 100 без округления.
func NewDeal(in CreateInput, cfg Config) (ledger.Deal, error) {
	v := validatorInstance()
	if err := v.Struct(in); err != nil {
		return ledger.Deal{}, common.Validation(fmt.Errorf("некорректный заказчик: %w", err))
	}

	if !common.ValidAmount(in.Amount) {
		return ledger.Deal{}, common.Validation(common.ErrInvalidAmount)
	}

	description := strings.TrimSpace(in.Description)
	rule := fmt.Sprintf("min=%d,max=%d", cfg.MinDescription, maxDescription)
	if err := v.Var(description, rule); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
			return ledger.Deal{}, common.Validation(common.ErrDescriptionTooLong)
		}
		return ledger.Deal{}, common.Validation(common.ErrDescriptionTooShort)
	}

	commission := Commission(in.Amount, cfg.CommissionPercent)
	if !commission.Equal(commission.Truncate(common.MaxFractionDigits)) {
		// Комиссию нельзя записать без округления.
		return ledger.Deal{}, common.Validation(common.ErrInvalidAmount)
	}

	return ledger.Deal{
		ID:            uuid.New(),
		CustomerID:    in.CustomerID,
		Amount:        in.Amount,
		Commission:    commission,
		Asset:         cfg.Asset,
		Description:   description,
		Status:        ledger.StatusPending,
		PaymentMethod: ledger.PaymentMethodCrypto,
		PaymentAmount: in.Amount,
	}, nil
}

// Commission — amount * percent / 100, точно.
func Commission(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Shift(-2)
}
