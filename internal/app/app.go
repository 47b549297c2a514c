// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: к сервисам из core.go добавляет Telegram API,
// обработчики, фильтры, планировщик и HTTP-сервер.
package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/bot"
	"serotonyl.ru/garant-bot/internal/bot/filters"
	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/config"
	"serotonyl.ru/garant-bot/internal/features/admin"
	"serotonyl.ru/garant-bot/internal/features/deals"
	"serotonyl.ru/garant-bot/internal/features/notifications"
	"serotonyl.ru/garant-bot/internal/features/offers"
	"serotonyl.ru/garant-bot/internal/features/users"
	"serotonyl.ru/garant-bot/internal/jobs"
	"serotonyl.ru/garant-bot/internal/server"
)

// App содержит все компоненты приложения.
type App struct {
	*Core

	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	Server    *server.Server
	BotAPI    *tgbotapi.BotAPI
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. Хранилище, шлюз, сервисы ===
	core, err := NewCore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// === 2. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	core.Notifications.SetMessenger(bot.NewMessenger(botAPI))

	// === 3. Обработчики ===
	dialogs := common.NewDialogs()
	handlers := bot.Handlers{
		Users:         users.NewHandler(core.Users, core.Notifications, botAPI, cfg.DealAsset),
		Deals:         deals.NewHandler(core.Deals, dialogs, botAPI),
		Offers:        offers.NewHandler(core.Offers, dialogs, botAPI),
		Notifications: notifications.NewHandler(core.Notifications, botAPI),
		Admin:         admin.NewHandler(core.Admin, dialogs, botAPI),
	}

	// === 4. Фильтры и бот ===
	chatFilter := filters.NewChatFilter(botAPI)
	b := bot.New(botAPI, cfg, core.Users, handlers, dialogs, chatFilter)

	// === 5. Планировщик задач ===
	scheduler := jobs.NewScheduler(common.Location(cfg.AppTimezone), core.Deals, core.Admin, jobs.Specs{
		InvoicePoll:    cfg.JobInvoicePollSpec,
		TransferRepair: cfg.JobTransferRepairSpec,
		Archive:        cfg.JobArchiveSpec,
	}, core.Metrics)

	// === 6. HTTP ===
	srv := server.New(core.Registry, core.Deals, cfg.CryptoPayToken, cfg.CryptoPayWebhookEnabled)

	return &App{
		Core:      core,
		Bot:       b,
		Scheduler: scheduler,
		Server:    srv,
		BotAPI:    botAPI,
	}, nil
}
