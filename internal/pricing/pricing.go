// Package pricing содержит чистые функции расчёта стоимости подписки
// и докупаемых опций. Вся денежная арифметика — целочисленная, в
// минорных единицах валюты (копейках).
package pricing

import "errors"

// ErrNegativeAmount возвращается при отрицательных входных значениях
// количества или цены — до любой попытки списания.
var ErrNegativeAmount = errors.New("pricing: negative amount")

// DimensionDiscounts — проценты скидки промо-группы по измерениям.
type DimensionDiscounts struct {
	Servers int
	Traffic int
	Devices int
	Period  int
}

// AddonPrices — цены за единицу каждого измерения в месяц.
type AddonPrices struct {
	PerSquadKopeks  int
	PerTrafficTier  int
	PerDeviceKopeks int
}

// AddonSelection — состояние измерений подписки: количество сквадов,
// ступень трафика и лимит устройств.
type AddonSelection struct {
	Squads      int
	TrafficTier int
	Devices     int
}

// Quote — результат расчёта доплаты за изменение опций.
type Quote struct {
	ChargeableSquads  int `json:"chargeable_squads"`
	ChargeableTraffic int `json:"chargeable_traffic"`
	ChargeableDevices int `json:"chargeable_devices"`
	MonthlyKopeks     int `json:"monthly_kopeks"`
	Months            int `json:"months"`
	TotalKopeks       int `json:"total_kopeks"`
}

// clampPercent ограничивает процент скидки диапазоном [0, 100].
func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ApplyDiscount возвращает цену со скидкой: floor(price*(100-percent)/100).
func ApplyDiscount(priceKopeks, percent int) int {
	if priceKopeks <= 0 {
		return 0
	}
	return priceKopeks * (100 - clampPercent(percent)) / 100
}

// Prorate умножает месячную цену на количество оставшихся целых месяцев.
func Prorate(monthlyKopeks, months int) int {
	if monthlyKopeks <= 0 || months <= 0 {
		return 0
	}
	return monthlyKopeks * months
}

// ApplyPromoOffer применяет глобальную временную скидку к уже
// рассчитанному итогу. Применяется последней.
func ApplyPromoOffer(totalKopeks, percent int) int {
	return ApplyDiscount(totalKopeks, percent)
}

// chargeableDelta возвращает оплачиваемую разницу измерения: даунгрейд
// и отсутствие изменений бесплатны, возврата нет.
func chargeableDelta(current, requested int) int {
	if requested <= current {
		return 0
	}
	return requested - current
}

// AddonQuote считает доплату за переход от current к requested.
//
// Порядок скидок: процент промо-группы по каждому измерению применяется
// к цене за единицу, затем итог прорейтится на months. Скидка
// промо-оффера сюда не входит — её применяет вызывающая сторона через
// ApplyPromoOffer поверх общей суммы.
func AddonQuote(current, requested AddonSelection, prices AddonPrices, discounts DimensionDiscounts, monthsLeft int) (*Quote, error) {
	if requested.Squads < 0 || requested.TrafficTier < 0 || requested.Devices < 0 {
		return nil, ErrNegativeAmount
	}
	if prices.PerSquadKopeks < 0 || prices.PerTrafficTier < 0 || prices.PerDeviceKopeks < 0 {
		return nil, ErrNegativeAmount
	}

	q := &Quote{
		ChargeableSquads:  chargeableDelta(current.Squads, requested.Squads),
		ChargeableTraffic: chargeableDelta(current.TrafficTier, requested.TrafficTier),
		ChargeableDevices: chargeableDelta(current.Devices, requested.Devices),
	}

	q.MonthlyKopeks = q.ChargeableSquads*ApplyDiscount(prices.PerSquadKopeks, discounts.Servers) +
		q.ChargeableTraffic*ApplyDiscount(prices.PerTrafficTier, discounts.Traffic) +
		q.ChargeableDevices*ApplyDiscount(prices.PerDeviceKopeks, discounts.Devices)

	if q.MonthlyKopeks == 0 {
		return q, nil
	}

	if monthsLeft < 1 {
		monthsLeft = 1
	}
	q.Months = monthsLeft
	q.TotalKopeks = Prorate(q.MonthlyKopeks, monthsLeft)
	return q, nil
}

// RenewalPrice считает стоимость продления: скидка периода применяется
// к базовой цене тарифа, затем цена умножается на количество месяцев.
func RenewalPrice(baseMonthlyKopeks, monthsCount, periodDiscountPercent int) int {
	if monthsCount <= 0 {
		return 0
	}
	return Prorate(ApplyDiscount(baseMonthlyKopeks, periodDiscountPercent), monthsCount)
}
