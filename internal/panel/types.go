// Package panel реализует типизированный HTTP-клиент удалённой панели
// провижининга. Сырые JSON-ответы разбираются на границе клиента в
// неизменяемые снапшоты; дальше по коду нетипизированные map не ходят.
package panel

import (
	"time"

	"github.com/ruslanovk/vpnshop-sync/internal/lib/timeparse"
)

// Статусы пользователя на панели.
const (
	UserStatusActive   = "ACTIVE"
	UserStatusDisabled = "DISABLED"
	UserStatusLimited  = "LIMITED"
	UserStatusExpired  = "EXPIRED"
)

// RemoteUser — снапшот пользователя панели на момент одного прохода
// синхронизации. Не персистится.
//
// ExpireAt равен nil, если панель прислала непарсибельную дату — такие
// записи отбрасывает дедупликация.
type RemoteUser struct {
	UUID              string
	ShortUUID         string
	Username          string
	TelegramID        int64
	Status            string
	ExpireAt          *time.Time
	TrafficLimitBytes int64
	UsedTrafficBytes  int64
	HWIDDeviceLimit   int
	SubscriptionURL   string
	SquadUUIDs        []string
}

// TrafficLimitGB переводит лимит трафика в гигабайты (0 — безлимит).
func (u *RemoteUser) TrafficLimitGB() int {
	return int(u.TrafficLimitBytes / (1024 * 1024 * 1024))
}

// UsedTrafficGB переводит использованный трафик в гигабайты.
// Единственное место домена, где допустима плавающая точка — значение
// используется только для отображения.
func (u *RemoteUser) UsedTrafficGB() float64 {
	return float64(u.UsedTrafficBytes) / (1024 * 1024 * 1024)
}

// RemoteSquad — снапшот сквада панели.
type RemoteSquad struct {
	UUID         string
	Name         string
	MembersCount int
}

type remoteSquadRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

type remoteUserDTO struct {
	UUID                 string           `json:"uuid"`
	ShortUUID            string           `json:"shortUuid"`
	Username             string           `json:"username"`
	TelegramID           int64            `json:"telegramId"`
	Status               string           `json:"status"`
	ExpireAt             string           `json:"expireAt"`
	TrafficLimitBytes    int64            `json:"trafficLimitBytes"`
	UsedTrafficBytes     int64            `json:"usedTrafficBytes"`
	HWIDDeviceLimit      int              `json:"hwidDeviceLimit"`
	SubscriptionURL      string           `json:"subscriptionUrl"`
	ActiveInternalSquads []remoteSquadRef `json:"activeInternalSquads"`
}

func (d remoteUserDTO) toSnapshot() RemoteUser {
	u := RemoteUser{
		UUID:              d.UUID,
		ShortUUID:         d.ShortUUID,
		Username:          d.Username,
		TelegramID:        d.TelegramID,
		Status:            d.Status,
		TrafficLimitBytes: d.TrafficLimitBytes,
		UsedTrafficBytes:  d.UsedTrafficBytes,
		HWIDDeviceLimit:   d.HWIDDeviceLimit,
		SubscriptionURL:   d.SubscriptionURL,
	}
	if t, err := timeparse.ParsePanelTime(d.ExpireAt); err == nil {
		u.ExpireAt = &t
	}
	for _, s := range d.ActiveInternalSquads {
		u.SquadUUIDs = append(u.SquadUUIDs, s.UUID)
	}
	return u
}

type remoteSquadDTO struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Info struct {
		MembersCount int `json:"membersCount"`
	} `json:"info"`
}

func (d remoteSquadDTO) toSnapshot() RemoteSquad {
	return RemoteSquad{
		UUID:         d.UUID,
		Name:         d.Name,
		MembersCount: d.Info.MembersCount,
	}
}

// CreateUserRequest — параметры создания пользователя на панели.
type CreateUserRequest struct {
	Username          string   `json:"username"`
	TelegramID        int64    `json:"telegramId,omitempty"`
	Status            string   `json:"status,omitempty"`
	ExpireAt          string   `json:"expireAt"`
	TrafficLimitBytes int64    `json:"trafficLimitBytes"`
	HWIDDeviceLimit   int      `json:"hwidDeviceLimit,omitempty"`
	SquadUUIDs        []string `json:"activeInternalSquads,omitempty"`
}

// UpdateUserRequest — частичное обновление пользователя по UUID.
type UpdateUserRequest struct {
	UUID              string   `json:"uuid"`
	Status            string   `json:"status,omitempty"`
	ExpireAt          string   `json:"expireAt,omitempty"`
	TrafficLimitBytes *int64   `json:"trafficLimitBytes,omitempty"`
	HWIDDeviceLimit   *int     `json:"hwidDeviceLimit,omitempty"`
	SquadUUIDs        []string `json:"activeInternalSquads,omitempty"`
}
