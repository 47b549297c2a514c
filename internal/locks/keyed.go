// Package locks — блокировки по ключу (обычно "deal:<id>").
// Разные сделки обрабатываются параллельно, одна сделка — строго последовательно.
package locks

import (
	"context"
	"sync"
)

// Locker выдаёт эксклюзивную блокировку ключа. unlock нужно вызвать ровно один раз.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// DealKey — ключ блокировки сделки.
func DealKey(id string) string { return "deal:" + id }

// Keyed — блокировки в памяти процесса. Запись ключа удаляется,
// когда её никто не держит и не ждёт.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{} // буфер 1: токен лежит в канале, пока ключ свободен
	refs int
}

// NewKeyed создаёт пустой набор блокировок.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*keyedEntry)}
}

// Lock ждёт освобождения ключа или отмены ctx.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case <-e.ch:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.ch <- struct{}{}
			k.release(key, e)
		})
	}, nil
}

func (k *Keyed) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// size — число живых записей (для тестов).
func (k *Keyed) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
