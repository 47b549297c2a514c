// Package admin реализует админ-панель гаранта. Доступ — по списку ADMIN_IDS.
// models.go описывает кнопки панели и шаги диалогов.
package admin

// Кнопки reply-клавиатуры админ-панели.
const (
	ButtonStats   = "📊 Статистика"
	ButtonDeals   = "📋 Последние сделки"
	ButtonUsers   = "👥 Пользователи"
	ButtonFind    = "🔎 Найти сделку"
	ButtonRepair  = "🛠 Сверка переводов"
	ButtonArchive = "🗄 Архивировать"
)

// Возможные шаги админ-диалога
const (
	StateFindDeal = "admin_find_deal" // Ждём ID сделки
)

// TokenDeal — карточка сделки для админа: admin_deal:<id>.
const TokenDeal = "admin_deal"

// Сколько записей показывать в списках.
const listLimit = 10
