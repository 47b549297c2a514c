// Package bot содержит главный модуль бота — маршрутизацию апдейтов, запуск и остановку.
// bot.go принимает сообщения и нажатия кнопок и передаёт их обработчикам фич.
package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/bot/filters"
	"serotonyl.ru/garant-bot/internal/bot/middleware"
	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/config"
	"serotonyl.ru/garant-bot/internal/features/admin"
	"serotonyl.ru/garant-bot/internal/features/deals"
	"serotonyl.ru/garant-bot/internal/features/notifications"
	"serotonyl.ru/garant-bot/internal/features/offers"
	"serotonyl.ru/garant-bot/internal/features/users"
)

// Handlers — обработчики фич.
type Handlers struct {
	Users         *users.Handler
	Deals         *deals.Handler
	Offers        *offers.Handler
	Notifications *notifications.Handler
	Admin         *admin.Handler
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api *tgbotapi.BotAPI
	cfg *config.Config

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter
	dialogs     *common.Dialogs

	userService *users.Service
	handlers    Handlers

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт новый экземпляр бота со всеми зависимостями.
func New(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	userService *users.Service,
	handlers Handlers,
	dialogs *common.Dialogs,
	chatFilter *filters.ChatFilter,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:         api,
		cfg:         cfg,
		chatFilter:  chatFilter,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		dialogs:     dialogs,
		userService: userService,
		handlers:    handlers,
		parser:      NewCommandParser(),
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram. Блокируется до отмены ctx.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			b.rateLimiter.Close()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic(update.UpdateID)

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Text != "":
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	middleware.LogMessage(message)

	if !b.chatFilter.CheckAccess(message) {
		return
	}
	if !b.rateLimiter.Allow(message.From.ID) {
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		return
	}

	chatID := message.Chat.ID
	userID := message.From.ID
	b.ensureUser(ctx, message.From)

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if isCommand {
		b.routeCommand(ctx, chatID, userID, cmd, args)
		return
	}

	// Кнопки админ-панели и шаги диалогов
	switch {
	case b.handlers.Admin.HandleAdminMessage(ctx, chatID, userID, message.Text):
	case b.handlers.Offers.HandleMessage(ctx, chatID, userID, message.Text):
	case b.handlers.Deals.HandleMessage(ctx, chatID, userID, message.Text):
	default:
		b.handlers.Users.HandleStart(ctx, chatID, userID)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	middleware.LogCallback(cb)

	// Убираем «часики» на кнопке в любом случае.
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.WithError(err).Debug("Не удалось ответить на callback")
	}

	if !b.chatFilter.CheckCallback(cb) {
		return
	}
	if !b.rateLimiter.Allow(cb.From.ID) {
		log.WithField("user_id", cb.From.ID).Debug("rate limited")
		return
	}

	chatID := cb.Message.Chat.ID
	userID := cb.From.ID
	b.ensureUser(ctx, cb.From)

	action, args := common.ParseToken(cb.Data)
	b.routeCallback(ctx, chatID, userID, action, args)
}

// routeCallback маршрутизирует нажатие кнопки к нужному обработчику.
func (b *Bot) routeCallback(ctx context.Context, chatID, userID int64, action string, args []string) {
	switch action {
	case users.TokenMenu:
		b.handlers.Users.HandleStart(ctx, chatID, userID)
		return
	case users.TokenBalance:
		b.handlers.Users.HandleBalance(ctx, chatID, userID)
		return
	case notifications.ActionList:
		b.handlers.Notifications.HandleList(ctx, chatID, userID)
		return
	case notifications.ActionMarkRead:
		b.handlers.Notifications.HandleMarkRead(ctx, chatID, userID)
		return
	}

	switch {
	case b.handlers.Admin.HandleCallback(ctx, chatID, userID, action, args):
	case b.handlers.Offers.HandleCallback(ctx, chatID, userID, action, args):
	case b.handlers.Deals.HandleCallback(ctx, chatID, userID, action, args):
	default:
		log.WithFields(log.Fields{"action": action, "user_id": userID}).Warn("Неизвестная кнопка")
	}
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID, userID int64, cmd string, args []string) {
	log.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("routing command")

	if b.handlers.Admin.HandleCommand(ctx, chatID, userID, cmd, args) {
		return
	}

	switch cmd {
	case "start", "help", "menu":
		b.dialogs.Clear(userID)
		b.handlers.Users.HandleStart(ctx, chatID, userID)
	case "cancel":
		b.dialogs.Clear(userID)
		common.Reply(b.api, chatID, "Действие отменено")
	case "balance":
		b.handlers.Users.HandleBalance(ctx, chatID, userID)
	case "new":
		b.handlers.Deals.StartCreate(chatID, userID)
	case "my":
		b.handlers.Deals.HandleMyDeals(ctx, chatID, userID)
	case "available":
		b.handlers.Deals.HandleAvailable(ctx, chatID, userID)
	case "payout":
		b.handlers.Deals.HandlePayoutCommand(ctx, chatID, userID, args)
	case "offer":
		b.handlers.Offers.HandleOfferCommand(ctx, chatID, userID, args)
	case "assign":
		b.handlers.Offers.HandleAssignCommand(ctx, chatID, userID, args)
	case "offers":
		b.handlers.Offers.HandleList(ctx, chatID, userID)
	case "notifications":
		b.handlers.Notifications.HandleList(ctx, chatID, userID)
	default:
		common.Reply(b.api, chatID, "Неизвестная команда. /start — главное меню")
	}
}

// ensureUser — ошибки нельзя игнорировать молча, иначе назначение по @username не найдёт пользователя.
func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) {
	if err := b.userService.EnsureUser(ctx, from.ID, from.UserName, from.FirstName, from.LastName); err != nil {
		log.WithError(err).WithField("user_id", from.ID).Warn("EnsureUser failed")
	}
}

// CommandParser парсит команды с префиксами / ! и .
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!", "."},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Суффикс @botname у команды отбрасывается.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
