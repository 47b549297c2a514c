package common

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	assert.False(t, IsKind(nil, KindUnknown))

	err := fmt.Errorf("accept: %w", Guard(ErrWrongStatus))
	assert.True(t, IsKind(err, KindGuard))
	assert.ErrorIs(t, err, ErrWrongStatus)

	gw := Gateway("transfer", errors.New("timeout"))
	assert.Equal(t, "transfer: timeout", gw.Error())
	assert.Equal(t, KindGateway, KindOf(gw))

	// уже классифицированная ошибка не переупаковывается
	v := Validation(ErrInvalidAmount)
	assert.Same(t, v, Persistence("save", v))
	assert.True(t, IsKind(Persistence("save", errors.New("conn reset")), KindPersistence))

	assert.Equal(t, "notification", KindNotification.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "❌ "+ErrSelfDeal.Error(), UserMessage(Validation(ErrSelfDeal)))
	assert.Equal(t, "❌ "+ErrWrongStatus.Error(), UserMessage(fmt.Errorf("wrap: %w", Guard(ErrWrongStatus))))
	assert.Contains(t, UserMessage(Gateway("transfer", errors.New("secret details"))), "Платёжный сервис")
	assert.NotContains(t, UserMessage(Persistence("save", errors.New("pq: password"))), "pq")
	assert.Contains(t, UserMessage(errors.New("boom")), "Внутренняя ошибка")
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"100", "100", true},
		{" 12,5 ", "12.5", true},
		{"0.00000001", "0.00000001", true},
		{"0.000000001", "", false},
		{"0", "", false},
		{"-3", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), got.String())
		})
	}
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "12.5 USDT", FormatMoney(decimal.RequireFromString("12.50"), "USDT"))

	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.Equal(t, "0f8fad5b", ShortID(id))

	at := time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)
	assert.Equal(t, "01.05.2024 10:30", FormatDateTime(at))
	assert.NotNil(t, Location("No/Such_Zone"))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, "menu", Token("menu"))
	assert.Equal(t, "accept:abc:1", Token("accept", "abc", "1"))

	action, args := ParseToken("accept:abc:1")
	assert.Equal(t, "accept", action)
	assert.Equal(t, []string{"abc", "1"}, args)

	action, args = ParseToken("menu")
	assert.Equal(t, "menu", action)
	assert.Empty(t, args)
}

func TestKeyboard(t *testing.T) {
	kb := Keyboard([][]Choice{{{Text: "Да", Data: "yes"}, {Text: "Нет", Data: "no"}}, {{Text: "Меню", Data: "menu"}}})
	require.Len(t, kb.InlineKeyboard, 2)
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, "Нет", kb.InlineKeyboard[0][1].Text)
	require.NotNil(t, kb.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "menu", *kb.InlineKeyboard[1][0].CallbackData)
}

func TestDialogs(t *testing.T) {
	d := NewDialogs()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.Nil(t, d.Get(1))

	d.Set(1, "deal_amount", "draft")
	st := d.Get(1)
	require.NotNil(t, st)
	assert.Equal(t, "deal_amount", st.State)
	assert.Equal(t, "draft", st.Data)

	now = now.Add(DialogTTL + time.Second)
	assert.Nil(t, d.Get(1))

	d.Set(1, "payout_ref", nil)
	d.Clear(1)
	assert.Nil(t, d.Get(1))
}

func TestPluralize(t *testing.T) {
	cases := map[int]string{
		0: "сделок", 1: "сделка", 2: "сделки", 4: "сделки", 5: "сделок",
		11: "сделок", 12: "сделок", 21: "сделка", 22: "сделки", 111: "сделок", -1: "сделка",
	}
	for n, want := range cases {
		assert.Equal(t, want, PluralizeDeals(n), n)
	}
	assert.Equal(t, "3 сделки", CountDeals(3))
	assert.Equal(t, "пользователей", PluralizeUsers(25))
}
