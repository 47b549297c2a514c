// Package ledger — repository.go выполняет операции с таблицами users, deals,
// transactions, invoices, deal_offers и notifications в PostgreSQL.
// Изменения сделки выполняются в транзакции БД с блокировкой строки FOR UPDATE.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/garant-bot/internal/common"
)

// Repository — реализация Store поверх pgxpool.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// uniqueViolation — код ошибки PostgreSQL для нарушения уникальности.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- Пользователи ---

// UpsertUser регистрирует пользователя или обновляет имя/username. Баланс не трогает.
func (r *Repository) UpsertUser(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (user_id, username, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, u.UserID, u.Username, u.FirstName, u.LastName); err != nil {
		return fmt.Errorf("ошибка создания/обновления пользователя: %w", err)
	}
	return nil
}

const selectUser = `
	SELECT user_id, username, first_name, last_name, balance, created_at, updated_at
	FROM users
`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.UserID, &u.Username, &u.FirstName, &u.LastName, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser возвращает пользователя по Telegram ID.
func (r *Repository) GetUser(ctx context.Context, userID int64) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка чтения пользователя (user_id=%d): %w", userID, err)
	}
	return u, nil
}

// GetUserByUsername ищет пользователя по @username без учёта регистра.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE LOWER(username) = LOWER($1)`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка чтения пользователя (username=%s): %w", username, err)
	}
	return u, nil
}

// ListRecentUsers возвращает последних зарегистрированных пользователей.
func (r *Repository) ListRecentUsers(ctx context.Context, limit int) ([]*User, error) {
	rows, err := r.db.Query(ctx, selectUser+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса пользователей: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Сделки ---

// CreateDeal сохраняет новую сделку.
func (r *Repository) CreateDeal(ctx context.Context, d *Deal) error {
	query := `
		INSERT INTO deals (
			deal_id, customer_id, executor_id, amount, commission, asset, description, status,
			payment_method, payment_amount, customer_payout_ref, executor_payout_ref
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		d.ID, d.CustomerID, d.ExecutorID, d.Amount, d.Commission, d.Asset, d.Description, string(d.Status),
		d.PaymentMethod, d.PaymentAmount, d.CustomerPayoutRef, d.ExecutorPayoutRef,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания сделки: %w", err)
	}
	return nil
}

const selectDeal = `
	SELECT deal_id, customer_id, executor_id, amount, commission, asset, description, status, resolution,
	       payment_method, payment_amount, customer_payout_ref, executor_payout_ref, created_at, updated_at
	FROM deals
`

func scanDeal(row pgx.Row) (*Deal, error) {
	var (
		d          Deal
		status     string
		resolution *string
	)
	err := row.Scan(
		&d.ID, &d.CustomerID, &d.ExecutorID, &d.Amount, &d.Commission, &d.Asset, &d.Description,
		&status, &resolution,
		&d.PaymentMethod, &d.PaymentAmount, &d.CustomerPayoutRef, &d.ExecutorPayoutRef,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)
	if !d.Status.Valid() {
		return nil, fmt.Errorf("неизвестный статус сделки %q", status)
	}
	if resolution != nil {
		side, ok := ParseSide(*resolution)
		if !ok {
			return nil, fmt.Errorf("неизвестная сторона спора %q", *resolution)
		}
		d.Resolution = &side
	}
	return &d, nil
}

// GetDeal возвращает сделку по ID.
func (r *Repository) GetDeal(ctx context.Context, id uuid.UUID) (*Deal, error) {
	d, err := scanDeal(r.db.QueryRow(ctx, selectDeal+` WHERE deal_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrDealNotFound
		}
		return nil, fmt.Errorf("ошибка чтения сделки %s: %w", id, err)
	}
	return d, nil
}

// MutateDeal блокирует строку сделки, вызывает fn и в той же транзакции
// сохраняет изменения сделки, транзакции журнала, намерения переводов и оплату счёта.
func (r *Repository) MutateDeal(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Deal, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := scanDeal(tx.QueryRow(ctx, selectDeal+` WHERE deal_id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrDealNotFound
		}
		return nil, fmt.Errorf("ошибка блокировки сделки %s: %w", id, err)
	}

	effects, err := fn(d)
	if err != nil {
		return nil, err
	}
	if effects == nil {
		effects = &Effects{}
	}

	var resolution *string
	if d.Resolution != nil {
		s := string(*d.Resolution)
		resolution = &s
	}
	err = tx.QueryRow(ctx, `
		UPDATE deals
		SET executor_id = $2, status = $3, resolution = $4,
		    customer_payout_ref = $5, executor_payout_ref = $6,
		    payment_method = $7, payment_amount = $8, updated_at = NOW()
		WHERE deal_id = $1
		RETURNING updated_at
	`, id, d.ExecutorID, string(d.Status), resolution, d.CustomerPayoutRef, d.ExecutorPayoutRef,
		d.PaymentMethod, d.PaymentAmount).Scan(&d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления сделки: %w", err)
	}

	for _, t := range effects.Transactions {
		if err := insertTransaction(ctx, tx, &t); err != nil {
			return nil, err
		}
	}

	for _, tr := range effects.Transfers {
		_, err := tx.Exec(ctx, `
			INSERT INTO transfers (idempotency_key, deal_id, kind, beneficiary, amount, asset, recipient_ref, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		`, tr.Key, tr.DealID, string(tr.Kind), tr.Beneficiary, tr.Amount, tr.Asset, tr.RecipientRef)
		if err != nil {
			return nil, fmt.Errorf("ошибка записи перевода %s: %w", tr.Key, err)
		}
	}

	if effects.PaidInvoiceID != "" {
		_, err := tx.Exec(ctx, `
			UPDATE invoices SET status = 'paid', paid_at = NOW()
			WHERE invoice_id = $1 AND status = 'pending'
		`, effects.PaidInvoiceID)
		if err != nil {
			return nil, fmt.Errorf("ошибка обновления счёта: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return d, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (deal_id, user_id, amount, transaction_type, settlement, description, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.DealID, t.UserID, t.Amount, string(t.Kind), string(t.Settlement), t.Memo, nullIfEmpty(t.IdempotencyKey))
	if err != nil {
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}
	return nil
}

func (r *Repository) queryDeals(ctx context.Context, query string, args ...interface{}) ([]*Deal, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса сделок: %w", err)
	}
	defer rows.Close()

	var out []*Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сделки: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

// ListDealsByUser — сделки, где пользователь заказчик или исполнитель.
func (r *Repository) ListDealsByUser(ctx context.Context, userID int64, limit int) ([]*Deal, error) {
	return r.queryDeals(ctx, selectDeal+`
		WHERE customer_id = $1 OR executor_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

// ListAvailableDeals — ожидающие сделки без исполнителя.
func (r *Repository) ListAvailableDeals(ctx context.Context, limit int) ([]*Deal, error) {
	return r.queryDeals(ctx, selectDeal+`
		WHERE status = 'pending' AND executor_id IS NULL
		ORDER BY created_at DESC LIMIT $1`, limit)
}

// ListRecentDeals — последние созданные сделки.
func (r *Repository) ListRecentDeals(ctx context.Context, limit int) ([]*Deal, error) {
	return r.queryDeals(ctx, selectDeal+` ORDER BY created_at DESC LIMIT $1`, limit)
}

// ListTransactions возвращает журнал сделки в порядке записи.
func (r *Repository) ListTransactions(ctx context.Context, dealID uuid.UUID) ([]*Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT transaction_id, deal_id, user_id, amount, transaction_type, settlement, description,
		       COALESCE(idempotency_key, ''), created_at
		FROM transactions
		WHERE deal_id = $1
		ORDER BY transaction_id
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var (
			t                Transaction
			kind, settlement string
		)
		if err := rows.Scan(&t.ID, &t.DealID, &t.UserID, &t.Amount, &kind, &settlement, &t.Memo, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		t.Kind, t.Settlement = TxKind(kind), Settlement(settlement)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- Счета ---

// CreateInvoice сохраняет выставленный счёт.
func (r *Repository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.Status == "" {
		inv.Status = InvoicePending
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO invoices (invoice_id, deal_id, user_id, amount, currency, description, pay_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, inv.ID, inv.DealID, inv.UserID, inv.Amount, inv.Asset, inv.Description, inv.PayURL, string(inv.Status)).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания счёта: %w", err)
	}
	return nil
}

const selectInvoice = `
	SELECT invoice_id, deal_id, user_id, amount, currency, description, pay_url, status, created_at, paid_at
	FROM invoices
`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv    Invoice
		status string
	)
	err := row.Scan(&inv.ID, &inv.DealID, &inv.UserID, &inv.Amount, &inv.Asset, &inv.Description,
		&inv.PayURL, &status, &inv.CreatedAt, &inv.PaidAt)
	if err != nil {
		return nil, err
	}
	inv.Status = InvoiceStatus(status)
	return &inv, nil
}

// GetInvoice возвращает счёт по ID шлюза.
func (r *Repository) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, selectInvoice+` WHERE invoice_id = $1`, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("ошибка чтения счёта: %w", err)
	}
	return inv, nil
}

// LatestInvoice — последний выставленный счёт по сделке, именно он проверяется.
func (r *Repository) LatestInvoice(ctx context.Context, dealID uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, selectInvoice+`
		WHERE deal_id = $1 ORDER BY created_at DESC LIMIT 1`, dealID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("ошибка чтения счёта: %w", err)
	}
	return inv, nil
}

// ListPendingInvoices — неоплаченные счета не старше since, от старых к новым.
func (r *Repository) ListPendingInvoices(ctx context.Context, since time.Time, limit int) ([]*Invoice, error) {
	rows, err := r.db.Query(ctx, selectInvoice+`
		WHERE status = 'pending' AND created_at >= $1
		ORDER BY created_at LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса счетов: %w", err)
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования счёта: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MarkInvoicePaid помечает счёт оплаченным без перехода сделки.
func (r *Repository) MarkInvoicePaid(ctx context.Context, invoiceID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices SET status = 'paid', paid_at = COALESCE(paid_at, NOW())
		WHERE invoice_id = $1
	`, invoiceID)
	if err != nil {
		return fmt.Errorf("ошибка обновления счёта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrInvoiceNotFound
	}
	return nil
}

// --- Предложения ---

// CreateOffer создаёт предложение. Второе активное предложение по сделке запрещено
// частичным уникальным индексом.
func (r *Repository) CreateOffer(ctx context.Context, o *Offer) error {
	o.Status = OfferPending
	err := r.db.QueryRow(ctx, `
		INSERT INTO deal_offers (deal_id, from_user_id, to_user_id, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING offer_id, created_at, updated_at
	`, o.DealID, o.FromUserID, o.ToUserID).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return common.ErrOfferPending
		}
		return fmt.Errorf("ошибка создания предложения: %w", err)
	}
	return nil
}

const selectOffer = `
	SELECT offer_id, deal_id, from_user_id, to_user_id, status, created_at, updated_at
	FROM deal_offers
`

func scanOffer(row pgx.Row) (*Offer, error) {
	var (
		o      Offer
		status string
	)
	if err := row.Scan(&o.ID, &o.DealID, &o.FromUserID, &o.ToUserID, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = OfferStatus(status)
	return &o, nil
}

// GetOffer возвращает предложение по ID.
func (r *Repository) GetOffer(ctx context.Context, id int64) (*Offer, error) {
	o, err := scanOffer(r.db.QueryRow(ctx, selectOffer+` WHERE offer_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrOfferNotFound
		}
		return nil, fmt.Errorf("ошибка чтения предложения: %w", err)
	}
	return o, nil
}

// TransitionOffer меняет статус, только если текущий равен from.
func (r *Repository) TransitionOffer(ctx context.Context, id int64, from, to OfferStatus) (*Offer, error) {
	o, err := scanOffer(r.db.QueryRow(ctx, `
		UPDATE deal_offers SET status = $3, updated_at = NOW()
		WHERE offer_id = $1 AND status = $2
		RETURNING offer_id, deal_id, from_user_id, to_user_id, status, created_at, updated_at
	`, id, string(from), string(to)))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка обновления предложения: %w", err)
	}
	if _, getErr := r.GetOffer(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, common.ErrOfferClosed
}

func (r *Repository) queryOffers(ctx context.Context, query string, args ...interface{}) ([]*Offer, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса предложений: %w", err)
	}
	defer rows.Close()

	var out []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования предложения: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOffersByRecipient — входящие предложения пользователя с заданным статусом.
func (r *Repository) ListOffersByRecipient(ctx context.Context, userID int64, status OfferStatus) ([]*Offer, error) {
	return r.queryOffers(ctx, selectOffer+`
		WHERE to_user_id = $1 AND status = $2 ORDER BY offer_id DESC`, userID, string(status))
}

// ListOffersBySender — отправленные предложения пользователя.
func (r *Repository) ListOffersBySender(ctx context.Context, userID int64) ([]*Offer, error) {
	return r.queryOffers(ctx, selectOffer+` WHERE from_user_id = $1 ORDER BY offer_id DESC`, userID)
}

// --- Уведомления ---

// AddNotification сохраняет уведомление.
func (r *Repository) AddNotification(ctx context.Context, n *Notification) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO notifications (user_id, deal_id, type, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, n.UserID, n.DealID, n.Type, n.Message).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения уведомления: %w", err)
	}
	return nil
}

// ListNotifications возвращает уведомления пользователя, новые первыми.
func (r *Repository) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, deal_id, type, message, is_read, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR is_read = FALSE)
		ORDER BY id DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уведомлений: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.DealID, &n.Type, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования уведомления: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead помечает все уведомления пользователя прочитанными.
func (r *Repository) MarkNotificationsRead(ctx context.Context, userID int64) (int, error) {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка обновления уведомлений: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountUnread — число непрочитанных уведомлений.
func (r *Repository) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта уведомлений: %w", err)
	}
	return count, nil
}

// --- Админка ---

// Stats собирает сводку по пользователям и сделкам.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByStatus:        make(map[Status]int),
		TotalAmount:     decimal.Zero,
		TotalCommission: decimal.Zero,
	}
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.Users); err != nil {
		return nil, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(commission), 0)
		FROM deals
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка статистики сделок: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status            string
			count             int
			amount, commision decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &amount, &commision); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		st.ByStatus[Status(status)] = count
		st.Deals += count
		st.TotalAmount = st.TotalAmount.Add(amount)
		st.TotalCommission = st.TotalCommission.Add(commision)
	}
	return st, rows.Err()
}

// ArchiveSettledDeals удаляет завершённые сделки и все их записи одной транзакцией.
// Сделки, по которым перевод ещё не завершён или не подтверждён, остаются.
func (r *Repository) ArchiveSettledDeals(ctx context.Context) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	statuses := make([]string, 0, len(terminalStatuses))
	for _, s := range terminalStatuses {
		statuses = append(statuses, string(s))
	}

	rows, err := tx.Query(ctx, `
		SELECT d.deal_id FROM deals d
		WHERE d.status = ANY($1)
		  AND NOT EXISTS (
		      SELECT 1 FROM transfers t
		      WHERE t.deal_id = d.deal_id AND (t.state = 'pending' OR t.uncertain)
		  )
		FOR UPDATE
	`, statuses)
	if err != nil {
		return 0, fmt.Errorf("ошибка выбора сделок для архивации: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("ошибка сканирования сделки: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, table := range []string{"transactions", "invoices", "deal_offers", "notifications", "transfers", "deals"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE deal_id = ANY($1)`, ids); err != nil {
			return 0, fmt.Errorf("ошибка очистки %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка фиксации архивации: %w", err)
	}
	return len(ids), nil
}
