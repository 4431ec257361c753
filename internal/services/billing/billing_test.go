package billing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruslanovk/vpnshop-sync/internal/models"
	"github.com/ruslanovk/vpnshop-sync/internal/pricing"
)

type RepositoryMock struct {
	mock.Mock
}

func (m *RepositoryMock) GetAccountByID(ctx context.Context, id int) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *RepositoryMock) GetSubscriptionByAccountID(ctx context.Context, accountID int) (*models.Subscription, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepositoryMock) GetPromoGroupByID(ctx context.Context, id int) (*models.PromoGroup, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PromoGroup), args.Error(1)
}

func (m *RepositoryMock) GetSquadsByUUIDs(ctx context.Context, uuids []string) ([]*models.ServerSquad, error) {
	args := m.Called(ctx, uuids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ServerSquad), args.Error(1)
}

func (m *RepositoryMock) ApplyAddonPurchase(ctx context.Context, accountID, totalKopeks int, sub models.Subscription) error {
	args := m.Called(ctx, accountID, totalKopeks, sub)
	return args.Error(0)
}

func (m *RepositoryMock) ApplyRenewal(ctx context.Context, accountID, totalKopeks int, newEnd time.Time) error {
	args := m.Called(ctx, accountID, totalKopeks, newEnd)
	return args.Error(0)
}

func (m *RepositoryMock) FindAutoAssignGroup(ctx context.Context, totalSpentKopeks int) (*models.PromoGroup, error) {
	args := m.Called(ctx, totalSpentKopeks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PromoGroup), args.Error(1)
}

func (m *RepositoryMock) AssignPromoGroup(ctx context.Context, accountID, groupID int) error {
	args := m.Called(ctx, accountID, groupID)
	return args.Error(0)
}

type CacheMock struct {
	mock.Mock
}

func (m *CacheMock) Get(key string, result any) (bool, error) {
	args := m.Called(key, result)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(key string, value any, expiration time.Duration) error {
	args := m.Called(key, value, expiration)
	return args.Error(0)
}

func (m *CacheMock) Invalidate(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testPrices() Prices {
	return Prices{
		BaseMonthlyKopeks: 100000,
		Addons: pricing.AddonPrices{
			PerSquadKopeks:  100000,
			PerTrafficTier:  50000,
			PerDeviceKopeks: 30000,
		},
	}
}

func newTestService(repo *RepositoryMock, cache *CacheMock, prices Prices) *Service {
	s := NewService(repo, cache, prices, newNoopLogger())
	s.now = func() time.Time { return testNow }
	return s
}

func missCache(cache *CacheMock) {
	cache.On("Get", mock.Anything, mock.Anything).Return(false, nil)
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func baseGroup() *models.PromoGroup {
	return &models.PromoGroup{ID: 1, Name: "base", IsDefault: true}
}

func testAccount(balanceKopeks int) *models.Account {
	return &models.Account{ID: 7, TelegramID: 100, Balance: balanceKopeks, PromoGroupID: 1}
}

// 45 дней до конца подписки, то есть два расчётных месяца.
func testSubscription() *models.Subscription {
	return &models.Subscription{
		ID:        3,
		AccountID: 7,
		EndDate:   testNow.AddDate(0, 0, 45),
		Status:    models.SubscriptionActive,
	}
}

func TestPurchaseAddons_DeviceUpgrade(t *testing.T) {
	repo := new(RepositoryMock)
	cache := new(CacheMock)
	missCache(cache)

	sub := testSubscription()
	sub.DeviceLimit = 3
	repo.On("GetAccountByID", mock.Anything, 7).Return(testAccount(500000), nil)
	repo.On("GetSubscriptionByAccountID", mock.Anything, 7).Return(sub, nil)
	repo.On("GetPromoGroupByID", mock.Anything, 1).Return(baseGroup(), nil)
	repo.On("ApplyAddonPurchase", mock.Anything, 7, 120000,
		mock.MatchedBy(func(s models.Subscription) bool { return s.DeviceLimit == 5 })).Return(nil)
	repo.On("FindAutoAssignGroup", mock.Anything, 120000).Return(nil, nil)

	svc := newTestService(repo, cache, testPrices())
	quote, err := svc.PurchaseAddons(context.Background(), 7, AddonRequest{DeviceLimit: 5})

	require.NoError(t, err)
	// 2 устройства по 30000 на 2 расчётных месяца.
	assert.Equal(t, 2, quote.ChargeableDevices)
	assert.Equal(t, 60000, quote.MonthlyKopeks)
	assert.Equal(t, 120000, quote.TotalKopeks)
	repo.AssertExpectations(t)
}

func TestPurchaseAddons_NegativeInputRejectedBeforeCharge(t *testing.T) {
	repo := new(RepositoryMock)
	cache := new(CacheMock)

	svc := newTestService(repo, cache, testPrices())
	_, err := svc.PurchaseAddons(context.Background(), 7, AddonRequest{DeviceLimit: -1})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "device_limit", vErr.Field)
	repo.AssertNotCalled(t, "ApplyAddonPurchase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchaseAddons_UnknownSquad(t *testing.T) {
	repo := new(RepositoryMock)
	cache := new(CacheMock)

	repo.On("GetAccountByID", mock.Anything, 7).Return(testAccount(500000), nil)
	repo.On("GetSubscriptionByAccountID", mock.Anything, 7).Return(testSubscription(), nil)
	repo.On("GetSquadsByUUIDs", mock.Anything, []string{"ghost"}).Return([]*models.ServerSquad{}, nil)

	svc := newTestService(repo, cache, testPrices())
	_, err := svc.PurchaseAddons(context.Background(), 7, AddonRequest{SquadUUIDs: []string{"ghost"}})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "squad_uuids", vErr.Field)
	repo.AssertNotCalled(t, "ApplyAddonPurchase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchaseAddons_InsufficientBalance(t *testing.T) {
	repo := new(RepositoryMock)
	cache := new(CacheMock)
	missCache(cache)

	sub := testSubscription()
	sub.DeviceLimit = 3
	repo.On("GetAccountByID", mock.Anything, 7).Return(testAccount(1000), nil)
	repo.On("GetSubscriptionByAccountID", mock.Anything, 7).Return(sub, nil)
	repo.On("GetPromoGroupByID", mock.Anything, 1).Return(baseGroup(), nil)

	svc := newTestService(repo, cache, testPrices())
	_, err := svc.PurchaseAddons(context.Background(), 7, AddonRequest{DeviceLimit: 5})

	require.ErrorIs(t, err, ErrInsufficientBalance)
	repo.AssertNotCalled(t, "ApplyAddonPurchase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Даунгрейд бесплатен, но применяется.
func TestPurchaseAddons_DowngradeIsFree(t *testing.T) {
	repo := new(RepositoryMock)
	cache := new(CacheMock)
	missCache(cache)

	sub := testSubscription()
	sub.DeviceLimit = 5
	sub.TrafficLimitGB = 300
	repo.On("GetAccountByID", mock.Anything, 7).Return(testAccount(0), nil)
	repo.On("GetSubscriptionByAccountID", mock.Anything, 7).Return(sub, nil)
	repo.On("GetPromoGroupByID", mock.Anything, 1).Return(baseGroup(), nil)
	repo.On("ApplyAddonPurchase", mock.Anything, 7, 0,
		mock.MatchedBy(func(s models.Subscription) bool {
			return s.DeviceLimit == 2 && s.TrafficLimitGB == 100
		})).Return(nil)
	repo.On("FindAutoAssignGroup", mock.Anything, 0).Return(nil, nil)

	svc := newTestService(repo, cache, testPrices())
	quote, err := svc.PurchaseAddons(context.Background(), 7, AddonRequest{DeviceLimit: 2, TrafficLimitGB: 100})

	require.NoError(t, err)
	assert.Zero(t, quote.TotalKopeks)
	repo.AssertExpectations(t)
}

// Скидки промо-группы применяются к цене за единицу, промо-оффер — к
// итогу последней.
func TestPurchaseAddons_DiscountStacking(t *testing.T) {
	repo := new(RepositoryMock)
	cache := new(CacheMock)
	missCache(cache)

	group := &models.PromoGroup{ID: 2, Name: "gold", DeviceDiscountPercent: 10}
	acc := testAccount(500000)
	acc.PromoGroupID = 2
	sub := testSubscription()
	sub.DeviceLimit = 3

	prices := testPrices()
	prices.PromoOfferPercent = 5

	repo.On("GetAccountByID", mock.Anything, 7).Return(acc, nil)
	repo.On("GetSubscriptionByAccountID", mock.Anything, 7).Return(sub, nil)
	repo.On("GetPromoGroupByID", mock.Anything, 2).Return(group, nil)
	// 2 устройства: 30000 со скидкой 10% = 27000, на 2 месяца = 108000,
	// промо-оффер 5% поверх = 102600.
	repo.On("ApplyAddonPurchase", mock.Anything, 7, 102600, mock.Anything).Return(nil)
	repo.On("FindAutoAssignGroup", mock.Anything, 102600).Return(nil, nil)

	svc := newTestService(repo, cache, prices)
	quote, err := svc.PurchaseAddons(context.Background(), 7, AddonRequest{DeviceLimit: 5})

	require.NoError(t, err)
	assert.Equal(t, 102600, quote.TotalKopeks)
	repo.AssertExpectations(t)
}

func TestPurchaseAddons_PromoGroupCacheHit(t *testing.T) {
	repo := new(RepositoryMock)
	cache := new(CacheMock)

	cache.On("Get", "promo_group:1", mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(1).(*models.PromoGroup) = *baseGroup()
		}).
		Return(true, nil)

	sub := testSubscription()
	sub.DeviceLimit = 3
	repo.On("GetAccountByID", mock.Anything, 7).Return(testAccount(500000), nil)
	repo.On("GetSubscriptionByAccountID", mock.Anything, 7).Return(sub, nil)
	repo.On("ApplyAddonPurchase", mock.Anything, 7, 120000, mock.Anything).Return(nil)
	repo.On("FindAutoAssignGroup", mock.Anything, 120000).Return(nil, nil)

	svc := newTestService(repo, cache, testPrices())
	_, err := svc.PurchaseAddons(context.Background(), 7, AddonRequest{DeviceLimit: 5})

	require.NoError(t, err)
	repo.AssertNotCalled(t, "GetPromoGroupByID", mock.Anything, mock.Anything)
}

func TestPurchaseAddons_AutoAssignsPromoGroup(t *testing.T) {
	repo := new(RepositoryMock)
	cache := new(CacheMock)
	missCache(cache)

	gold := &models.PromoGroup{ID: 2, Name: "gold", AutoAssignTotalKopeks: 100000}
	sub := testSubscription()
	sub.DeviceLimit = 3
	repo.On("GetAccountByID", mock.Anything, 7).Return(testAccount(500000), nil)
	repo.On("GetSubscriptionByAccountID", mock.Anything, 7).Return(sub, nil)
	repo.On("GetPromoGroupByID", mock.Anything, 1).Return(baseGroup(), nil)
	repo.On("ApplyAddonPurchase", mock.Anything, 7, 120000, mock.Anything).Return(nil)
	repo.On("FindAutoAssignGroup", mock.Anything, 120000).Return(gold, nil)
	repo.On("AssignPromoGroup", mock.Anything, 7, 2).Return(nil)

	svc := newTestService(repo, cache, testPrices())
	_, err := svc.PurchaseAddons(context.Background(), 7, AddonRequest{DeviceLimit: 5})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestRenew(t *testing.T) {
	tests := []struct {
		name       string
		months     int
		balance    int
		group      *models.PromoGroup
		promoOffer int
		endDate    time.Time
		wantTotal  int
		wantEnd    time.Time
		wantErr    error
	}{
		{
			name:      "plain renewal from future end date",
			months:    3,
			balance:   500000,
			group:     baseGroup(),
			endDate:   testNow.AddDate(0, 0, 45),
			wantTotal: 300000,
			wantEnd:   testNow.AddDate(0, 0, 45).AddDate(0, 3, 0),
		},
		{
			name:       "period discount then promo offer",
			months:     3,
			balance:    500000,
			group:      &models.PromoGroup{ID: 2, PeriodDiscountPercent: 10},
			promoOffer: 5,
			endDate:    testNow.AddDate(0, 0, 45),
			// 100000 со скидкой 10% = 90000, за 3 месяца = 270000, минус 5% = 256500.
			wantTotal: 256500,
			wantEnd:   testNow.AddDate(0, 0, 45).AddDate(0, 3, 0),
		},
		{
			name:      "expired subscription extends from now",
			months:    1,
			balance:   500000,
			group:     baseGroup(),
			endDate:   testNow.AddDate(0, 0, -10),
			wantTotal: 100000,
			wantEnd:   testNow.AddDate(0, 1, 0),
		},
		{
			name:    "insufficient balance",
			months:  3,
			balance: 1000,
			group:   baseGroup(),
			endDate: testNow.AddDate(0, 0, 45),
			wantErr: ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepositoryMock)
			cache := new(CacheMock)
			missCache(cache)

			acc := testAccount(tt.balance)
			acc.PromoGroupID = tt.group.ID
			sub := testSubscription()
			sub.EndDate = tt.endDate

			repo.On("GetAccountByID", mock.Anything, 7).Return(acc, nil)
			repo.On("GetSubscriptionByAccountID", mock.Anything, 7).Return(sub, nil)
			repo.On("GetPromoGroupByID", mock.Anything, tt.group.ID).Return(tt.group, nil)
			if tt.wantErr == nil {
				repo.On("ApplyRenewal", mock.Anything, 7, tt.wantTotal, tt.wantEnd).Return(nil)
				repo.On("FindAutoAssignGroup", mock.Anything, mock.Anything).Return(nil, nil)
			}

			prices := testPrices()
			prices.PromoOfferPercent = tt.promoOffer

			svc := newTestService(repo, cache, prices)
			total, err := svc.Renew(context.Background(), 7, tt.months)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				repo.AssertNotCalled(t, "ApplyRenewal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			repo.AssertExpectations(t)
		})
	}
}

func TestRenew_RejectsNonPositiveMonths(t *testing.T) {
	repo := new(RepositoryMock)
	cache := new(CacheMock)

	svc := newTestService(repo, cache, testPrices())
	_, err := svc.Renew(context.Background(), 7, 0)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	repo.AssertNotCalled(t, "GetAccountByID", mock.Anything, mock.Anything)
}
