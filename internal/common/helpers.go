// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: форматирование сумм, работа со временем и идентификаторами сделок.
package common

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxFractionDigits — сколько знаков после запятой допускаем в суммах (как в CryptoPay).
const MaxFractionDigits = 8

// ValidAmount проверяет, что сумма положительная и не длиннее 8 знаков после запятой.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return amount.Equal(amount.Truncate(MaxFractionDigits))
}

// ParseAmount разбирает сумму из текста пользователя. Запятая допускается как разделитель.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	amount, err := decimal.NewFromString(s)
	if err != nil || !ValidAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// FormatMoney форматирует сумму с активом.
// Пример: FormatMoney(decimal.NewFromInt(100), "USDT") → "100 USDT"
func FormatMoney(amount decimal.Decimal, asset string) string {
	return amount.String() + " " + asset
}

// ShortID возвращает первые 8 символов UUID для отображения.
func ShortID(id uuid.UUID) string {
	return id.String()[:8]
}

// Location возвращает часовой пояс по имени, при ошибке — UTC+3.
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" по Москве.
func FormatDateTime(t time.Time) string {
	return t.In(Location("Europe/Moscow")).Format("02.01.2006 15:04")
}
