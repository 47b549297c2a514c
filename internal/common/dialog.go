// Package common — dialog.go хранит состояние пошаговых диалогов в памяти.
// Состояние живёт 5 минут, после этого пользователь начинает заново.
package common

import (
	"sync"
	"time"
)

// DialogTTL — сколько живёт шаг диалога.
const DialogTTL = 5 * time.Minute

// DialogState — текущий шаг диалога пользователя.
type DialogState struct {
	State     string // Имя шага ("deal_amount", "payout_ref", ...)
	Data      any    // Данные, собранные на прошлых шагах
	ExpiresAt time.Time
}

// Dialogs — состояния диалогов всех пользователей.
type Dialogs struct {
	mu     sync.RWMutex
	states map[int64]*DialogState
	ttl    time.Duration
	now    func() time.Time
}

// NewDialogs создаёт хранилище состояний.
func NewDialogs() *Dialogs {
	return &Dialogs{
		states: make(map[int64]*DialogState),
		ttl:    DialogTTL,
		now:    time.Now,
	}
}

// Get возвращает текущий шаг или nil, если диалога нет или он истёк.
func (d *Dialogs) Get(userID int64) *DialogState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, ok := d.states[userID]
	if !ok || d.now().After(state.ExpiresAt) {
		return nil
	}
	return state
}

// Set запоминает шаг диалога.
func (d *Dialogs) Set(userID int64, state string, data any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.states[userID] = &DialogState{
		State:     state,
		Data:      data,
		ExpiresAt: d.now().Add(d.ttl),
	}
}

// Clear сбрасывает диалог.
func (d *Dialogs) Clear(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, userID)
}
