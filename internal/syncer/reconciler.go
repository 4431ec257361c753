// Package syncer сводит локальное хранилище аккаунтов с состоянием
// удалённой панели: один проход — полный снапшот обеих сторон, затем
// независимые операции create/update/retire по каждому аккаунту.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/ruslanovk/vpnshop-sync/internal/config"
	"github.com/ruslanovk/vpnshop-sync/internal/lib/sl"
	"github.com/ruslanovk/vpnshop-sync/internal/models"
	"github.com/ruslanovk/vpnshop-sync/internal/panel"
)

// ErrNoPanelCredentials — конфигурация без доступа к панели; проход не
// запускается.
var ErrNoPanelCredentials = errors.New("panel credentials are not configured")

// LocalAccount — локальный аккаунт вместе с его подпиской на момент
// снапшота.
type LocalAccount = models.LocalAccount

// Repository определяет методы хранилища, нужные проходу синхронизации.
// Каждая мутация выполняется в собственной транзакции: падение позднего
// аккаунта не откатывает уже закоммиченные.
type Repository interface {
	// SnapshotAccounts возвращает все аккаунты с подписками.
	SnapshotAccounts(ctx context.Context) ([]*LocalAccount, error)
	// CreateAccountWithSubscription атомарно заводит аккаунт и подписку.
	CreateAccountWithSubscription(ctx context.Context, acc models.Account, sub models.Subscription) error
	// UpdateSubscription пишет подписку и приводит связи со сквадами.
	UpdateSubscription(ctx context.Context, sub models.Subscription) error
	// RetireSubscription переводит подписку в disabled, снимает связи
	// со сквадами и очищает поля привязки; кошелёк не трогает.
	RetireSubscription(ctx context.Context, accountID int) error
	// ClearPanelLink очищает обе половины привязки к панели разом.
	ClearPanelLink(ctx context.Context, accountID int) error
	// RelinkAccount выставляет UUID панели у аккаунта и пишет подписку
	// одной транзакцией: обе половины привязки появляются вместе.
	RelinkAccount(ctx context.Context, accountID int, panelUUID string, sub models.Subscription) error
	// SnapshotSquads возвращает все локальные сквады.
	SnapshotSquads(ctx context.Context) ([]*models.ServerSquad, error)
	// CreateSquad заводит сквад, привязывая его к промо-группе
	// по умолчанию.
	CreateSquad(ctx context.Context, squad models.ServerSquad) error
	// RemoveSquad удаляет сквад после отвязки всех подписок,
	// возвращает количество затронутых подписок.
	RemoveSquad(ctx context.Context, squadUUID string) (int, error)
}

// PanelGateway — операции панели, используемые проходом.
type PanelGateway interface {
	FetchAllUsers(ctx context.Context, pageSize int) ([]panel.RemoteUser, error)
	FetchAllSquads(ctx context.Context) ([]panel.RemoteSquad, error)
	ResetUserDevices(ctx context.Context, uuid string) error
}

// EventPublisher публикует события синхронизации. Ошибки публикации
// логируются и никогда не прерывают проход.
type EventPublisher interface {
	Publish(routingKey string, message any) error
}

// Reconciler выполняет один проход синхронизации.
type Reconciler struct {
	panel  PanelGateway
	repo   Repository
	events EventPublisher // может быть nil
	cfg    config.PanelConnection
	log    *slog.Logger
	now    func() time.Time
}

// NewReconciler создает новый экземпляр Reconciler.
func NewReconciler(gateway PanelGateway, repo Repository, events EventPublisher, cfg config.PanelConnection, log *slog.Logger) *Reconciler {
	return &Reconciler{
		panel:  gateway,
		repo:   repo,
		events: events,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// Run выполняет полный проход: снапшоты, самолечение ссылок, сквады,
// аккаунты. Ошибка конфигурации или панели прерывает проход целиком;
// ошибка по отдельному аккаунту только увеличивает счётчик.
func (r *Reconciler) Run(ctx context.Context) (*models.SyncReport, error) {
	const op = "syncer.Run"

	if r.cfg.BaseURL == "" || r.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoPanelCredentials)
	}

	remoteUsers, err := r.panel.FetchAllUsers(ctx, r.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	remoteSquads, err := r.panel.FetchAllSquads(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.log.Info("fetched remote snapshot",
		slog.Int("users", len(remoteUsers)), slog.Int("squads", len(remoteSquads)))

	canonical := PickCanonical(remoteUsers)

	locals, err := r.repo.SnapshotAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	report := &models.SyncReport{}

	r.selfHeal(ctx, locals, remoteUsers, report)
	r.reconcileSquads(ctx, remoteSquads, report)
	r.reconcileAccounts(ctx, locals, canonical, report)

	r.publish("sync_finished", report)
	return report, nil
}

// reconcileAccounts прогоняет машину состояний по каждому аккаунту.
func (r *Reconciler) reconcileAccounts(ctx context.Context, locals []*LocalAccount, canonical map[int64]panel.RemoteUser, report *models.SyncReport) {
	localByTg := make(map[int64]*LocalAccount, len(locals))
	for _, l := range locals {
		localByTg[l.Account.TelegramID] = l
	}

	// Детерминированный порядок обработки для воспроизводимых логов.
	tgIDs := make([]int64, 0, len(canonical))
	for tgID := range canonical {
		tgIDs = append(tgIDs, tgID)
	}
	sort.Slice(tgIDs, func(i, j int) bool { return tgIDs[i] < tgIDs[j] })

	for _, tgID := range tgIDs {
		remote := canonical[tgID]
		local, ok := localByTg[tgID]
		if !ok {
			if err := r.createLocal(ctx, remote); err != nil {
				r.log.Error("failed to create local account",
					slog.Int64("telegram_id", tgID), sl.Err(err))
				report.Errors++
				continue
			}
			report.Created++
			r.publish("account_created", map[string]any{"telegram_id": tgID, "panel_uuid": remote.UUID})
			continue
		}

		updated, err := r.updateLocal(ctx, local, remote)
		if err != nil {
			r.log.Error("failed to update local account",
				slog.Int64("telegram_id", tgID), sl.Err(err))
			report.Errors++
			continue
		}
		if updated {
			report.Updated++
		}
	}

	// Локальные аккаунты с привязкой, которых панель больше не отдаёт.
	for _, local := range locals {
		if local.Account.PanelUUID == nil {
			continue
		}
		if _, ok := canonical[local.Account.TelegramID]; ok {
			continue
		}
		if err := r.retireLocal(ctx, local); err != nil {
			r.log.Error("failed to retire local account",
				slog.Int64("telegram_id", local.Account.TelegramID), sl.Err(err))
			report.Errors++
			continue
		}
		report.Retired++
		r.publish("account_retired", map[string]any{"telegram_id": local.Account.TelegramID})
	}
}

// createLocal заводит аккаунт и подписку по снапшоту панели.
func (r *Reconciler) createLocal(ctx context.Context, remote panel.RemoteUser) error {
	now := r.now()

	acc := models.Account{
		TelegramID: remote.TelegramID,
		Status:     models.AccountActive,
		PanelUUID:  &remote.UUID,
	}
	sub := models.Subscription{
		StartDate:       now,
		EndDate:         *remote.ExpireAt,
		Status:          subscriptionStatus(remote.Status, models.SubscriptionActive, *remote.ExpireAt, now),
		TrafficLimitGB:  remote.TrafficLimitGB(),
		TrafficUsedGB:   remote.UsedTrafficGB(),
		DeviceLimit:     remote.HWIDDeviceLimit,
		ConnectedSquads: slices.Clone(remote.SquadUUIDs),
		ShortUUID:       &remote.ShortUUID,
		SubscriptionURL: &remote.SubscriptionURL,
	}
	return r.repo.CreateAccountWithSubscription(ctx, acc, sub)
}

// updateLocal пишет поля из снапшота панели только при фактическом
// расхождении, чтобы не плодить пустые записи в журнале транзакций.
func (r *Reconciler) updateLocal(ctx context.Context, local *LocalAccount, remote panel.RemoteUser) (bool, error) {
	if local.Subscription == nil {
		// Подписка 1:1 с аккаунтом; её отсутствие — повреждение
		// локальных данных, чинить его молча нельзя.
		return false, fmt.Errorf("account %d has no subscription row", local.Account.ID)
	}

	now := r.now()
	updated := *local.Subscription

	updated.EndDate = *remote.ExpireAt
	updated.Status = subscriptionStatus(remote.Status, local.Subscription.Status, *remote.ExpireAt, now)
	updated.TrafficLimitGB = remote.TrafficLimitGB()
	updated.TrafficUsedGB = remote.UsedTrafficGB()
	updated.DeviceLimit = remote.HWIDDeviceLimit
	updated.ConnectedSquads = slices.Clone(remote.SquadUUIDs)
	updated.ShortUUID = &remote.ShortUUID
	updated.SubscriptionURL = &remote.SubscriptionURL

	relink := local.Account.PanelUUID == nil || *local.Account.PanelUUID != remote.UUID
	if !relink && subscriptionsEqual(local.Subscription, &updated) {
		return false, nil
	}

	if relink {
		// Обе половины привязки пишутся одной транзакцией: short_uuid
		// не должен закоммититься без panel_uuid и наоборот.
		if err := r.repo.RelinkAccount(ctx, local.Account.ID, remote.UUID, updated); err != nil {
			return false, err
		}
		local.Account.PanelUUID = &remote.UUID
	} else if err := r.repo.UpdateSubscription(ctx, updated); err != nil {
		return false, err
	}
	*local.Subscription = updated
	return true, nil
}

// retireLocal гасит подписку, когда панель перестала отдавать аккаунт.
// Отвязка устройств — best-effort: её отказ не срывает ретайр.
func (r *Reconciler) retireLocal(ctx context.Context, local *LocalAccount) error {
	if local.Account.PanelUUID != nil {
		if err := r.panel.ResetUserDevices(ctx, *local.Account.PanelUUID); err != nil {
			r.log.Warn("device reset failed during retirement",
				slog.Int64("telegram_id", local.Account.TelegramID), sl.Err(err))
		}
	}
	return r.repo.RetireSubscription(ctx, local.Account.ID)
}

// reconcileSquads сводит список сквадов. Локальный сквад удаляется
// только после отвязки всех подписок — хранилище гарантирует это в
// одной транзакции.
func (r *Reconciler) reconcileSquads(ctx context.Context, remote []panel.RemoteSquad, report *models.SyncReport) {
	locals, err := r.repo.SnapshotSquads(ctx)
	if err != nil {
		r.log.Error("failed to snapshot local squads", sl.Err(err))
		report.Errors++
		return
	}

	remoteByUUID := make(map[string]panel.RemoteSquad, len(remote))
	for _, sq := range remote {
		remoteByUUID[sq.UUID] = sq
	}
	localByUUID := make(map[string]*models.ServerSquad, len(locals))
	for _, sq := range locals {
		localByUUID[sq.SquadUUID] = sq
	}

	for _, sq := range remote {
		if _, ok := localByUUID[sq.UUID]; ok {
			continue
		}
		err := r.repo.CreateSquad(ctx, models.ServerSquad{
			SquadUUID:   sq.UUID,
			Name:        sq.Name,
			IsAvailable: true,
			AllowTrial:  true,
		})
		if err != nil {
			r.log.Error("failed to create squad", slog.String("squad", sq.UUID), sl.Err(err))
			report.Errors++
			continue
		}
		report.SquadsCreated++
	}

	for _, sq := range locals {
		if _, ok := remoteByUUID[sq.SquadUUID]; ok {
			continue
		}
		touched, err := r.repo.RemoveSquad(ctx, sq.SquadUUID)
		if err != nil {
			r.log.Error("failed to remove squad", slog.String("squad", sq.SquadUUID), sl.Err(err))
			report.Errors++
			continue
		}
		report.SquadsRemoved++
		report.SubscriptionsTouched += touched
		r.log.Info("removed stale squad",
			slog.String("squad", sq.SquadUUID), slog.Int("subscriptions_touched", touched))
	}
}

func (r *Reconciler) publish(routingKey string, message any) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(routingKey, message); err != nil {
		r.log.Warn("failed to publish sync event", slog.String("event", routingKey), sl.Err(err))
	}
}

// subscriptionStatus пересчитывает статус подписки из статуса панели и
// даты окончания. Истёкшая дата всегда даёт expired; активный статус
// панели сохраняет локальный trial, пока тот не истёк.
func subscriptionStatus(remoteStatus, localStatus string, end, now time.Time) string {
	if !end.After(now) {
		return models.SubscriptionExpired
	}
	switch remoteStatus {
	case panel.UserStatusDisabled:
		return models.SubscriptionDisabled
	case panel.UserStatusExpired:
		return models.SubscriptionExpired
	default:
		if localStatus == models.SubscriptionTrial {
			return models.SubscriptionTrial
		}
		return models.SubscriptionActive
	}
}

func subscriptionsEqual(a, b *models.Subscription) bool {
	return a.EndDate.Equal(b.EndDate) &&
		a.Status == b.Status &&
		a.TrafficLimitGB == b.TrafficLimitGB &&
		a.TrafficUsedGB == b.TrafficUsedGB &&
		a.DeviceLimit == b.DeviceLimit &&
		slices.Equal(a.ConnectedSquads, b.ConnectedSquads) &&
		strPtrEqual(a.ShortUUID, b.ShortUUID) &&
		strPtrEqual(a.SubscriptionURL, b.SubscriptionURL)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
