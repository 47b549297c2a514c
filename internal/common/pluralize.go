// Package common — pluralize.go содержит склонение русских числительных для текстов бота.
package common

import "fmt"

// pluralize выбирает форму слова для числа n: one (1, 21), few (2-4, 22-24), many (0, 5-20).
func pluralize(n int, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// PluralizeDeals возвращает правильную форму слова «сделка».
//
//	PluralizeDeals(1)  → "сделка"
//	PluralizeDeals(3)  → "сделки"
//	PluralizeDeals(11) → "сделок"
func PluralizeDeals(n int) string {
	return pluralize(n, "сделка", "сделки", "сделок")
}

// PluralizeUsers возвращает правильную форму слова «пользователь».
func PluralizeUsers(n int) string {
	return pluralize(n, "пользователь", "пользователя", "пользователей")
}

// CountDeals создаёт строку вида "5 сделок".
func CountDeals(n int) string {
	return fmt.Sprintf("%d %s", n, PluralizeDeals(n))
}
