// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// .env (если есть) подхватывается через godotenv.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Драйверы хранилища.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	// Список ID администраторов через запятую. Других способов стать админом нет.
	AdminIDsRaw string  `envconfig:"ADMIN_IDS" required:"true"`
	AdminIDs    []int64 `ignored:"true"`

	// --- Storage ---
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`

	// --- Database ---
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"garant"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"garant_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Redis (необязательно, для блокировок сделок между репликами) ---
	RedisURL     string        `envconfig:"REDIS_URL"`
	RedisLockTTL time.Duration `envconfig:"REDIS_LOCK_TTL" default:"30s"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Deals ---
	// Комиссия фиксируется в сделке при создании, смена значения не трогает старые сделки.
	CommissionPercent  decimal.Decimal `envconfig:"COMMISSION_PERCENT" default:"40"`
	DealAsset          string          `envconfig:"DEAL_ASSET" default:"USDT"`
	DealMinDescription int             `envconfig:"DEAL_MIN_DESCRIPTION" default:"10"`

	// --- CryptoPay ---
	CryptoPayAPIURL  string        `envconfig:"CRYPTOPAY_API_URL" default:"https://pay.crypt.bot/api"`
	CryptoPayToken   string        `envconfig:"CRYPTOPAY_TOKEN" required:"true"`
	CryptoPayTimeout time.Duration `envconfig:"CRYPTOPAY_TIMEOUT" default:"10s"`
	// Служебный аккаунт CryptoPay, куда уходит комиссия, если вывод не удался.
	CryptoPayFallbackWalletID string `envconfig:"CRYPTOPAY_FALLBACK_WALLET_ID"`
	// Внешний адрес для вывода комиссии.
	CryptoPayCommissionAddress string `envconfig:"CRYPTOPAY_COMMISSION_ADDRESS"`
	CryptoPayWebhookEnabled    bool   `envconfig:"CRYPTOPAY_WEBHOOK_ENABLED" default:"false"`

	// --- Jobs ---
	JobInvoicePollSpec      string        `envconfig:"JOB_INVOICE_POLL_SPEC" default:"@every 1m"`
	JobTransferRepairSpec   string        `envconfig:"JOB_TRANSFER_REPAIR_SPEC" default:"@every 5m"`
	JobArchiveSpec          string        `envconfig:"JOB_ARCHIVE_SPEC"`
	InvoicePollWindow       time.Duration `envconfig:"INVOICE_POLL_WINDOW" default:"48h"`
	TransferRepairAfter     time.Duration `envconfig:"TRANSFER_REPAIR_AFTER" default:"2m"`
	TransferUncertainWindow time.Duration `envconfig:"TRANSFER_UNCERTAIN_WINDOW" default:"24h"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"20"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsAdmin проверяет, входит ли пользователь в список администраторов.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Validate проверяет значения, которые envconfig проверить не может.
func (c *Config) Validate() error {
	if len(c.AdminIDs) == 0 {
		return fmt.Errorf("ADMIN_IDS пуст")
	}
	if c.StorageDriver != StoragePostgres && c.StorageDriver != StorageMemory {
		return fmt.Errorf("STORAGE_DRIVER должен быть %q или %q", StoragePostgres, StorageMemory)
	}
	if c.StorageDriver == StoragePostgres && c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD не задан")
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.CommissionPercent.IsNegative() || c.CommissionPercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("COMMISSION_PERCENT должен быть в диапазоне 0..100")
	}
	if c.DealMinDescription <= 0 {
		return fmt.Errorf("DEAL_MIN_DESCRIPTION должен быть > 0")
	}
	if c.CryptoPayTimeout <= 0 {
		return fmt.Errorf("CRYPTOPAY_TIMEOUT должен быть > 0")
	}
	if c.CryptoPayFallbackWalletID != "" {
		if _, err := strconv.ParseInt(c.CryptoPayFallbackWalletID, 10, 64); err != nil {
			return fmt.Errorf("CRYPTOPAY_FALLBACK_WALLET_ID должен быть числом")
		}
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	// .env не обязателен: в docker переменные приходят из compose
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
