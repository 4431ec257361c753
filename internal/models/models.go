// Package models содержит доменные структуры локального хранилища:
// аккаунты, подписки, сквады серверов и промо-группы.
package models

import "time"

// Статусы аккаунта.
const (
	AccountActive  = "active"
	AccountBlocked = "blocked"
	AccountDeleted = "deleted"
)

// Статусы подписки.
const (
	SubscriptionTrial    = "trial"
	SubscriptionActive   = "active"
	SubscriptionExpired  = "expired"
	SubscriptionDisabled = "disabled"
)

// Account хранит пользователя магазина. Баланс — в копейках.
type Account struct {
	ID           int
	TelegramID   int64   // Внешняя идентичность (Telegram)
	Balance      int     // Кошелёк в минорных единицах валюты
	TotalSpent   int     // Суммарные траты за всё время, для автоназначения промо-группы
	Status       string  // active | blocked | deleted
	PanelUUID    *string // Идентичность на удалённой панели, nil — не привязан
	PromoGroupID int
}

// LocalAccount — аккаунт вместе с его подпиской на момент снапшота.
type LocalAccount struct {
	Account      Account
	Subscription *Subscription
}

// Subscription — подписка, один к одному с аккаунтом.
//
// Инвариант связки: ShortUUID и SubscriptionURL заполняются и очищаются
// только вместе с Account.PanelUUID.
type Subscription struct {
	ID              int
	AccountID       int
	StartDate       time.Time
	EndDate         time.Time
	Status          string  // trial | active | expired | disabled
	TrafficLimitGB  int     // 0 — безлимит
	TrafficUsedGB   float64 // Только для отображения
	DeviceLimit     int
	ConnectedSquads []string // UUID сквадов в порядке подключения
	Autopay         bool
	AutopayDays     int
	ShortUUID       *string
	SubscriptionURL *string
}

// EffectiveStatus пересчитывает статус по дате окончания: после end_date
// подписка считается expired независимо от сохранённого значения.
func (s *Subscription) EffectiveStatus(now time.Time) string {
	if s.Status == SubscriptionDisabled {
		return SubscriptionDisabled
	}
	if !s.EndDate.After(now) {
		return SubscriptionExpired
	}
	return s.Status
}

// ServerSquad — регион/группа нод, доступная для подключения.
type ServerSquad struct {
	ID           int
	SquadUUID    string
	Name         string
	PriceKopeks  int // Цена за месяц
	IsAvailable  bool
	AllowTrial   bool
	MaxUsers     int
	CurrentUsers int
}

// PromoGroup — скидочная группа аккаунта. Проценты на каждое измерение
// применяются к цене за единицу до прорейта.
type PromoGroup struct {
	ID                     int
	Name                   string
	ServerDiscountPercent  int
	TrafficDiscountPercent int
	DeviceDiscountPercent  int
	PeriodDiscountPercent  int
	AutoAssignTotalKopeks  int // Порог трат для автоназначения, 0 — выключено
	IsDefault              bool
}

// SyncReport — итог одного прохода синхронизации.
type SyncReport struct {
	Created              int `json:"created"`
	Updated              int `json:"updated"`
	Retired              int `json:"retired"`
	Errors               int `json:"errors"`
	SquadsCreated        int `json:"squads_created"`
	SquadsRemoved        int `json:"squads_removed"`
	SubscriptionsTouched int `json:"subscriptions_touched"`
}
