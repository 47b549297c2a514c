package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/garant-bot/internal/common"
)

const selectTransfer = `
	SELECT idempotency_key, deal_id, kind, beneficiary, amount, asset, recipient_ref, state,
	       uncertain, late_success, attempts, memo, created_at, updated_at
	FROM transfers
`

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var (
		t           Transfer
		kind, state string
	)
	err := row.Scan(&t.Key, &t.DealID, &kind, &t.Beneficiary, &t.Amount, &t.Asset, &t.RecipientRef, &state,
		&t.Uncertain, &t.LateSuccess, &t.Attempts, &t.Memo, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Kind, t.State = TxKind(kind), TransferState(state)
	return &t, nil
}

// GetTransfer возвращает перевод по ключу идемпотентности.
func (r *Repository) GetTransfer(ctx context.Context, key string) (*Transfer, error) {
	t, err := scanTransfer(r.db.QueryRow(ctx, selectTransfer+` WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrTransferNotFound
		}
		return nil, fmt.Errorf("ошибка чтения перевода %s: %w", key, err)
	}
	return t, nil
}

// FinalizeTransfer фиксирует результат перевода: ровно одна транзакция журнала
// и, для fallback, зачисление на внутренний баланс. Повторный вызов ничего не пишет.
func (r *Repository) FinalizeTransfer(ctx context.Context, key string, out TransferOutcome) (*Transfer, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTransfer(tx.QueryRow(ctx, selectTransfer+` WHERE idempotency_key = $1 FOR UPDATE`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, common.ErrTransferNotFound
		}
		return nil, false, fmt.Errorf("ошибка блокировки перевода %s: %w", key, err)
	}
	if t.State != TransferPending {
		return t, false, nil
	}

	state := TransferExternal
	if out.Settlement == SettlementFallback {
		state = TransferFallback
	}

	err = insertTransaction(ctx, tx, &Transaction{
		DealID:         t.DealID,
		UserID:         t.Beneficiary,
		Amount:         t.Amount,
		Kind:           t.Kind,
		Settlement:     out.Settlement,
		Memo:           out.Memo,
		IdempotencyKey: t.Key,
	})
	if err != nil {
		return nil, false, err
	}

	if state == TransferFallback && t.Beneficiary != PlatformUserID {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (user_id, balance) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET balance = users.balance + EXCLUDED.balance, updated_at = NOW()
		`, t.Beneficiary, t.Amount)
		if err != nil {
			return nil, false, fmt.Errorf("ошибка зачисления на баланс (user_id=%d): %w", t.Beneficiary, err)
		}
	}

	t, err = scanTransfer(tx.QueryRow(ctx, `
		UPDATE transfers
		SET state = $2, memo = $3, uncertain = $4, attempts = attempts + 1, updated_at = NOW()
		WHERE idempotency_key = $1
		RETURNING idempotency_key, deal_id, kind, beneficiary, amount, asset, recipient_ref, state,
		          uncertain, late_success, attempts, memo, created_at, updated_at
	`, key, string(state), out.Memo, out.Uncertain))
	if err != nil {
		return nil, false, fmt.Errorf("ошибка обновления перевода %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("ошибка фиксации перевода: %w", err)
	}
	return t, true, nil
}

func (r *Repository) queryTransfers(ctx context.Context, query string, args ...interface{}) ([]*Transfer, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса переводов: %w", err)
	}
	defer rows.Close()

	var out []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования перевода: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListPendingTransfers — незавершённые переводы, не обновлявшиеся с olderThan.
func (r *Repository) ListPendingTransfers(ctx context.Context, olderThan time.Time, limit int) ([]*Transfer, error) {
	return r.queryTransfers(ctx, selectTransfer+`
		WHERE state = 'pending' AND updated_at <= $1
		ORDER BY created_at LIMIT $2`, olderThan, limit)
}

// ListUncertainTransfers — fallback-переводы после таймаута шлюза, ждущие сверки.
func (r *Repository) ListUncertainTransfers(ctx context.Context, limit int) ([]*Transfer, error) {
	return r.queryTransfers(ctx, selectTransfer+`
		WHERE uncertain AND state <> 'pending'
		ORDER BY updated_at LIMIT $1`, limit)
}

// ResolveUncertain снимает флаг неопределённости. При позднем успехе шлюза
// зачисленный fallback списывается с баланса, если денег хватает.
// Иначе в memo остаётся пометка для ручного разбора.
func (r *Repository) ResolveUncertain(ctx context.Context, key string, lateSuccess bool) (*Transfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTransfer(tx.QueryRow(ctx, selectTransfer+` WHERE idempotency_key = $1 FOR UPDATE`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrTransferNotFound
		}
		return nil, fmt.Errorf("ошибка блокировки перевода %s: %w", key, err)
	}
	if !t.Uncertain {
		return t, nil
	}

	memo := t.Memo
	if lateSuccess && t.State == TransferFallback {
		applied := true
		if t.Beneficiary != PlatformUserID {
			tag, err := tx.Exec(ctx, `
				UPDATE users SET balance = balance - $2, updated_at = NOW()
				WHERE user_id = $1 AND balance >= $2
			`, t.Beneficiary, t.Amount)
			if err != nil {
				return nil, fmt.Errorf("ошибка списания с баланса (user_id=%d): %w", t.Beneficiary, err)
			}
			applied = tag.RowsAffected() == 1
		}
		memo += clawbackMemo(applied)
	}

	t, err = scanTransfer(tx.QueryRow(ctx, `
		UPDATE transfers
		SET uncertain = FALSE, late_success = $2, memo = $3, updated_at = NOW()
		WHERE idempotency_key = $1
		RETURNING idempotency_key, deal_id, kind, beneficiary, amount, asset, recipient_ref, state,
		          uncertain, late_success, attempts, memo, created_at, updated_at
	`, key, lateSuccess, memo))
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления перевода %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации перевода: %w", err)
	}
	return t, nil
}
