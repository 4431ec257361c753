// Package months считает оставшийся оплачиваемый период подписки.
package months

import "time"

// Remaining возвращает количество целых месяцев до конца подписки:
// ceil(оставшиеся дни / 30), но не меньше одного — частично истёкший
// месяц тарифицируется как полный.
func Remaining(endDate, now time.Time) int {
	days := int(endDate.Sub(now).Hours() / 24)
	if days <= 0 {
		return 1
	}
	m := (days + 29) / 30
	if m < 1 {
		return 1
	}
	return m
}
