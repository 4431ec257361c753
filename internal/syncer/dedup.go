package syncer

import "github.com/ruslanovk/vpnshop-sync/internal/panel"

// PickCanonical выбирает по одной каноничной записи панели на каждую
// идентичность (telegram id). Панель может вернуть несколько записей
// для одного пользователя после ручных правок администратора.
//
// Порядок выбора: записи без парсибельной даты окончания отбрасываются;
// предпочитается более поздняя дата; при точном совпадении дат —
// статус ACTIVE; оставшиеся ничьи решаются в пользу первой встреченной
// записи. Чистая функция, результат не зависит от порядка входа
// (кроме последнего правила, применяемого к полностью равным парам).
func PickCanonical(users []panel.RemoteUser) map[int64]panel.RemoteUser {
	canonical := make(map[int64]panel.RemoteUser)
	for _, u := range users {
		if u.TelegramID == 0 || u.ExpireAt == nil {
			continue
		}
		current, ok := canonical[u.TelegramID]
		if !ok || preferable(u, current) {
			canonical[u.TelegramID] = u
		}
	}
	return canonical
}

// preferable сообщает, что candidate должен вытеснить current.
func preferable(candidate, current panel.RemoteUser) bool {
	if candidate.ExpireAt.After(*current.ExpireAt) {
		return true
	}
	if candidate.ExpireAt.Before(*current.ExpireAt) {
		return false
	}
	return candidate.Status == panel.UserStatusActive && current.Status != panel.UserStatusActive
}
