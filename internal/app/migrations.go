package app

import "serotonyl.ru/garant-bot/internal/db/postgres"

// SQL-миграции встроены в код для упрощения деплоя.
// Деньги хранятся в NUMERIC(20,8), округление не выполняется нигде.
var migrations = []postgres.Migration{
	{Version: 1, Name: "users", SQL: migration001Users},
	{Version: 2, Name: "deals", SQL: migration002Deals},
	{Version: 3, Name: "transactions", SQL: migration003Transactions},
	{Version: 4, Name: "invoices", SQL: migration004Invoices},
	{Version: 5, Name: "deal_offers", SQL: migration005Offers},
	{Version: 6, Name: "notifications", SQL: migration006Notifications},
	{Version: 7, Name: "transfers", SQL: migration007Transfers},
}

var migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    user_id BIGINT PRIMARY KEY,
    username VARCHAR(255) NOT NULL DEFAULT '',
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    last_name VARCHAR(255) NOT NULL DEFAULT '',
    balance NUMERIC(20, 8) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_username ON users(LOWER(username));
`

var migration002Deals = `
CREATE TABLE IF NOT EXISTS deals (
    deal_id UUID PRIMARY KEY,
    customer_id BIGINT NOT NULL,
    executor_id BIGINT,
    amount NUMERIC(20, 8) NOT NULL CHECK (amount > 0),
    commission NUMERIC(20, 8) NOT NULL CHECK (commission >= 0 AND commission <= amount),
    asset VARCHAR(16) NOT NULL,
    description TEXT NOT NULL,
    status VARCHAR(32) NOT NULL CHECK (status IN (
        'pending', 'paid', 'in_progress', 'completed', 'settled', 'disputed', 'resolved', 'voided'
    )),
    resolution VARCHAR(16) CHECK (resolution IN ('customer', 'executor')),
    payment_method VARCHAR(32) NOT NULL DEFAULT 'crypto',
    payment_amount NUMERIC(20, 8) NOT NULL DEFAULT 0,
    customer_payout_ref VARCHAR(255) NOT NULL DEFAULT '',
    executor_payout_ref VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK ((status = 'resolved') = (resolution IS NOT NULL)),
    CHECK (executor_id IS NULL OR executor_id <> customer_id)
);
CREATE INDEX IF NOT EXISTS idx_deals_customer ON deals(customer_id);
CREATE INDEX IF NOT EXISTS idx_deals_executor ON deals(executor_id);
CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);
CREATE INDEX IF NOT EXISTS idx_deals_created_at ON deals(created_at DESC);
`

var migration003Transactions = `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id BIGSERIAL PRIMARY KEY,
    deal_id UUID NOT NULL REFERENCES deals(deal_id),
    user_id BIGINT NOT NULL,
    amount NUMERIC(20, 8) NOT NULL CHECK (amount > 0),
    transaction_type VARCHAR(32) NOT NULL CHECK (transaction_type IN ('payment', 'refund', 'payout', 'commission')),
    settlement VARCHAR(16) NOT NULL CHECK (settlement IN ('external', 'fallback', 'internal')),
    description TEXT NOT NULL DEFAULT '',
    idempotency_key VARCHAR(128) UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_deal ON transactions(deal_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
`

var migration004Invoices = `
CREATE TABLE IF NOT EXISTS invoices (
    invoice_id VARCHAR(64) PRIMARY KEY,
    deal_id UUID NOT NULL REFERENCES deals(deal_id),
    user_id BIGINT NOT NULL,
    amount NUMERIC(20, 8) NOT NULL CHECK (amount > 0),
    currency VARCHAR(16) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    pay_url TEXT NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'paid')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    paid_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_invoices_deal ON invoices(deal_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_invoices_pending ON invoices(created_at) WHERE status = 'pending';
`

var migration005Offers = `
CREATE TABLE IF NOT EXISTS deal_offers (
    offer_id BIGSERIAL PRIMARY KEY,
    deal_id UUID NOT NULL REFERENCES deals(deal_id),
    from_user_id BIGINT NOT NULL,
    to_user_id BIGINT NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'rejected')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_deal_offers_one_pending ON deal_offers(deal_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_deal_offers_to_user ON deal_offers(to_user_id, status);
CREATE INDEX IF NOT EXISTS idx_deal_offers_from_user ON deal_offers(from_user_id);
`

var migration006Notifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    deal_id UUID REFERENCES deals(deal_id),
    type VARCHAR(64) NOT NULL,
    message TEXT NOT NULL,
    is_read BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read);
`

var migration007Transfers = `
CREATE TABLE IF NOT EXISTS transfers (
    idempotency_key VARCHAR(128) PRIMARY KEY,
    deal_id UUID NOT NULL REFERENCES deals(deal_id),
    kind VARCHAR(32) NOT NULL CHECK (kind IN ('refund', 'payout', 'commission')),
    beneficiary BIGINT NOT NULL,
    amount NUMERIC(20, 8) NOT NULL CHECK (amount > 0),
    asset VARCHAR(16) NOT NULL,
    recipient_ref VARCHAR(255) NOT NULL DEFAULT '',
    state VARCHAR(16) NOT NULL DEFAULT 'pending' CHECK (state IN ('pending', 'external', 'fallback')),
    uncertain BOOLEAN NOT NULL DEFAULT FALSE,
    late_success BOOLEAN NOT NULL DEFAULT FALSE,
    attempts INTEGER NOT NULL DEFAULT 0,
    memo TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transfers_pending ON transfers(updated_at) WHERE state = 'pending';
CREATE INDEX IF NOT EXISTS idx_transfers_uncertain ON transfers(updated_at) WHERE uncertain;
CREATE INDEX IF NOT EXISTS idx_transfers_deal ON transfers(deal_id);
`
