// Package billing содержит бизнес-логику платных операций: докупку
// опций подписки и продление. Все суммы в копейках, списание и
// применение изменений выполняются одной транзакцией хранилища.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruslanovk/vpnshop-sync/internal/lib/months"
	"github.com/ruslanovk/vpnshop-sync/internal/lib/sl"
	"github.com/ruslanovk/vpnshop-sync/internal/models"
	"github.com/ruslanovk/vpnshop-sync/internal/pricing"
	"github.com/ruslanovk/vpnshop-sync/internal/storage/repository"
)

// ErrInsufficientBalance возвращается, когда баланса не хватает на всю
// сумму. Частичных списаний не бывает.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ValidationError — ошибка проверки запроса, возникающая до любой
// попытки списания.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// trafficTierGB — размер одной ступени трафика.
const trafficTierGB = 100

const promoGroupCacheTTL = 10 * time.Minute

// Repository определяет методы хранилища, нужные биллингу.
type Repository interface {
	GetAccountByID(ctx context.Context, id int) (*models.Account, error)
	GetSubscriptionByAccountID(ctx context.Context, accountID int) (*models.Subscription, error)
	GetPromoGroupByID(ctx context.Context, id int) (*models.PromoGroup, error)
	GetSquadsByUUIDs(ctx context.Context, uuids []string) ([]*models.ServerSquad, error)
	ApplyAddonPurchase(ctx context.Context, accountID, totalKopeks int, sub models.Subscription) error
	ApplyRenewal(ctx context.Context, accountID, totalKopeks int, newEnd time.Time) error
	FindAutoAssignGroup(ctx context.Context, totalSpentKopeks int) (*models.PromoGroup, error)
	AssignPromoGroup(ctx context.Context, accountID, groupID int) error
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Prices — ценовая конфигурация сервиса.
type Prices struct {
	BaseMonthlyKopeks int
	Addons            pricing.AddonPrices
	PromoOfferPercent int // Глобальная акция, применяется к итогу последней
}

// AddonRequest — запрошенное состояние опций подписки.
type AddonRequest struct {
	SquadUUIDs     []string `json:"squad_uuids" validate:"required"`
	TrafficLimitGB int      `json:"traffic_limit_gb" validate:"min=0"`
	DeviceLimit    int      `json:"device_limit" validate:"min=0"`
}

// Service реализует платные операции над подпиской.
type Service struct {
	repo   Repository
	cache  Cache
	prices Prices
	log    *slog.Logger
	now    func() time.Time
}

// NewService создает новый экземпляр Service.
func NewService(repo Repository, cache Cache, prices Prices, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		prices: prices,
		log:    log,
		now:    time.Now,
	}
}

// PurchaseAddons рассчитывает доплату за изменение опций, списывает её
// и применяет новое состояние. Даунгрейды применяются бесплатно,
// возвратов нет.
func (s *Service) PurchaseAddons(ctx context.Context, accountID int, req AddonRequest) (*pricing.Quote, error) {
	const op = "billing.PurchaseAddons"

	if req.TrafficLimitGB < 0 {
		return nil, &ValidationError{Field: "traffic_limit_gb", Reason: "must not be negative"}
	}
	if req.DeviceLimit < 0 {
		return nil, &ValidationError{Field: "device_limit", Reason: "must not be negative"}
	}

	acc, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub, err := s.repo.GetSubscriptionByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.checkSquads(ctx, req.SquadUUIDs); err != nil {
		return nil, err
	}

	group, err := s.promoGroup(ctx, acc.PromoGroupID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	current := pricing.AddonSelection{
		Squads:      len(sub.ConnectedSquads),
		TrafficTier: sub.TrafficLimitGB / trafficTierGB,
		Devices:     sub.DeviceLimit,
	}
	requested := pricing.AddonSelection{
		Squads:      len(req.SquadUUIDs),
		TrafficTier: req.TrafficLimitGB / trafficTierGB,
		Devices:     req.DeviceLimit,
	}

	quote, err := pricing.AddonQuote(current, requested, s.prices.Addons, discounts(group),
		months.Remaining(sub.EndDate, s.now()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	quote.TotalKopeks = pricing.ApplyPromoOffer(quote.TotalKopeks, s.prices.PromoOfferPercent)

	if acc.Balance < quote.TotalKopeks {
		return nil, ErrInsufficientBalance
	}

	updated := *sub
	updated.TrafficLimitGB = req.TrafficLimitGB
	updated.DeviceLimit = req.DeviceLimit
	updated.ConnectedSquads = req.SquadUUIDs

	if err := s.repo.ApplyAddonPurchase(ctx, accountID, quote.TotalKopeks, updated); err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("addon purchase applied",
		slog.Int("account_id", accountID), slog.Int("total_kopeks", quote.TotalKopeks))

	s.maybeUpgradePromoGroup(ctx, acc, group, quote.TotalKopeks)
	return quote, nil
}

// Renew продлевает подписку на monthsCount месяцев. Отсчёт идёт от даты
// окончания, если она ещё не прошла, иначе от текущего момента.
func (s *Service) Renew(ctx context.Context, accountID, monthsCount int) (int, error) {
	const op = "billing.Renew"

	if monthsCount <= 0 {
		return 0, &ValidationError{Field: "months", Reason: "must be positive"}
	}

	acc, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	sub, err := s.repo.GetSubscriptionByAccountID(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	group, err := s.promoGroup(ctx, acc.PromoGroupID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	total := pricing.RenewalPrice(s.prices.BaseMonthlyKopeks, monthsCount, group.PeriodDiscountPercent)
	total = pricing.ApplyPromoOffer(total, s.prices.PromoOfferPercent)

	if acc.Balance < total {
		return 0, ErrInsufficientBalance
	}

	now := s.now()
	from := sub.EndDate
	if from.Before(now) {
		from = now
	}
	newEnd := from.AddDate(0, monthsCount, 0)

	if err := s.repo.ApplyRenewal(ctx, accountID, total, newEnd); err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return 0, ErrInsufficientBalance
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("subscription renewed",
		slog.Int("account_id", accountID), slog.Int("months", monthsCount),
		slog.Int("total_kopeks", total))

	s.maybeUpgradePromoGroup(ctx, acc, group, total)
	return total, nil
}

// checkSquads валидирует запрошенные сквады до расчёта: все должны
// существовать и быть доступными для подключения.
func (s *Service) checkSquads(ctx context.Context, uuids []string) error {
	const op = "billing.checkSquads"
	if len(uuids) == 0 {
		return nil
	}

	squads, err := s.repo.GetSquadsByUUIDs(ctx, uuids)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	byUUID := make(map[string]*models.ServerSquad, len(squads))
	for _, sq := range squads {
		byUUID[sq.SquadUUID] = sq
	}
	for _, uuid := range uuids {
		sq, ok := byUUID[uuid]
		if !ok {
			return &ValidationError{Field: "squad_uuids", Reason: fmt.Sprintf("unknown squad %s", uuid)}
		}
		if !sq.IsAvailable {
			return &ValidationError{Field: "squad_uuids", Reason: fmt.Sprintf("squad %s is not available", uuid)}
		}
	}
	return nil
}

// promoGroup возвращает промо-группу аккаунта, кешируя её в redis.
func (s *Service) promoGroup(ctx context.Context, groupID int) (*models.PromoGroup, error) {
	cacheKey := fmt.Sprintf("promo_group:%d", groupID)

	var cached models.PromoGroup
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("promo group cache read failed", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	group, err := s.repo.GetPromoGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(cacheKey, group, promoGroupCacheTTL); err != nil {
		s.log.Warn("promo group cache write failed", slog.String("key", cacheKey), sl.Err(err))
	}
	return group, nil
}

// maybeUpgradePromoGroup переводит аккаунт в более выгодную промо-группу,
// когда суммарные траты пересекли её порог. Отказ не влияет на успех
// самой покупки.
func (s *Service) maybeUpgradePromoGroup(ctx context.Context, acc *models.Account, current *models.PromoGroup, chargedKopeks int) {
	totalSpent := acc.TotalSpent + chargedKopeks
	group, err := s.repo.FindAutoAssignGroup(ctx, totalSpent)
	if err != nil {
		s.log.Warn("promo group auto-assign lookup failed",
			slog.Int("account_id", acc.ID), sl.Err(err))
		return
	}
	if group == nil || group.ID == current.ID {
		return
	}
	if group.AutoAssignTotalKopeks <= current.AutoAssignTotalKopeks {
		return
	}

	if err := s.repo.AssignPromoGroup(ctx, acc.ID, group.ID); err != nil {
		s.log.Warn("promo group auto-assign failed",
			slog.Int("account_id", acc.ID), slog.Int("group_id", group.ID), sl.Err(err))
		return
	}
	s.log.Info("promo group auto-assigned",
		slog.Int("account_id", acc.ID), slog.String("group", group.Name))
}

func discounts(group *models.PromoGroup) pricing.DimensionDiscounts {
	return pricing.DimensionDiscounts{
		Servers: group.ServerDiscountPercent,
		Traffic: group.TrafficDiscountPercent,
		Devices: group.DeviceDiscountPercent,
		Period:  group.PeriodDiscountPercent,
	}
}
