package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/config"
	"serotonyl.ru/garant-bot/internal/db/postgres"
	"serotonyl.ru/garant-bot/internal/features/admin"
	"serotonyl.ru/garant-bot/internal/features/deals"
	"serotonyl.ru/garant-bot/internal/features/disputes"
	"serotonyl.ru/garant-bot/internal/features/notifications"
	"serotonyl.ru/garant-bot/internal/features/offers"
	"serotonyl.ru/garant-bot/internal/features/users"
	"serotonyl.ru/garant-bot/internal/ledger"
	"serotonyl.ru/garant-bot/internal/locks"
	"serotonyl.ru/garant-bot/internal/metrics"
	"serotonyl.ru/garant-bot/internal/payments"
)

// Core — сервисы без Telegram: их используют и бот, и garantctl.
type Core struct {
	Store    ledger.Store
	DB       *pgxpool.Pool // nil для STORAGE_DRIVER=memory
	Redis    *redis.Client // nil без REDIS_URL
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Notifications *notifications.Service
	Users         *users.Service
	Deals         *deals.Service
	Disputes      *disputes.Resolver
	Offers        *offers.Negotiator
	Admin         *admin.Service
}

// NewCore подключает хранилище, блокировки и платёжный шлюз и собирает сервисы.
// Уведомления только сохраняются, пока не задан Messenger.
func NewCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	c := &Core{Registry: prometheus.NewRegistry()}
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.New(c.Registry)

	// === 1. Хранилище ===
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("STORAGE_DRIVER=memory: данные не переживут перезапуск")
		c.Store = ledger.NewMemoryStore()
	default:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		c.DB = pool
		if err := postgres.Migrate(ctx, pool, migrations); err != nil {
			c.Close()
			return nil, fmt.Errorf("ошибка миграций: %w", err)
		}
		c.Store = ledger.NewRepository(pool)
	}

	// === 2. Блокировки сделок ===
	var locker locks.Locker = locks.NewKeyed()
	if cfg.RedisURL != "" {
		client, err := locks.Connect(ctx, cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
		}
		c.Redis = client
		locker = locks.NewRedis(client, cfg.RedisLockTTL)
		log.Info("Блокировки сделок через Redis")
	}

	// === 3. Платёжный шлюз ===
	var fallbackWallet int64
	if cfg.CryptoPayFallbackWalletID != "" {
		fallbackWallet, _ = strconv.ParseInt(cfg.CryptoPayFallbackWalletID, 10, 64)
	}
	gateway := payments.NewCryptoPay(cfg.CryptoPayAPIURL, cfg.CryptoPayToken, cfg.CryptoPayTimeout)
	adapter := payments.NewAdapter(gateway, payments.AdapterConfig{
		Timeout:           cfg.CryptoPayTimeout,
		CommissionAddress: cfg.CryptoPayCommissionAddress,
		FallbackWalletID:  fallbackWallet,
	}, c.Metrics)

	// === 4. Сервисы ===
	c.Notifications = notifications.NewService(c.Store, nil)
	c.Users = users.NewService(c.Store)
	c.Deals = deals.NewService(c.Store, adapter, locker, c.Notifications, deals.Config{
		CommissionPercent: cfg.CommissionPercent,
		Asset:             cfg.DealAsset,
		MinDescription:    cfg.DealMinDescription,
		AdminIDs:          cfg.AdminIDs,
		RepairAfter:       cfg.TransferRepairAfter,
		UncertainWindow:   cfg.TransferUncertainWindow,
		InvoicePollWindow: cfg.InvoicePollWindow,
	}, c.Metrics)
	c.Disputes = disputes.NewResolver(c.Deals, c.Notifications, cfg.AdminIDs)
	c.Offers = offers.NewNegotiator(c.Store, c.Deals, c.Notifications)
	c.Admin = admin.NewService(c.Store, c.Disputes, c.Deals, cfg.AdminIDs)

	return c, nil
}

// Close закрывает соединения.
func (c *Core) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
