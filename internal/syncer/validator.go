package syncer

import (
	"context"
	"log/slog"

	"github.com/ruslanovk/vpnshop-sync/internal/lib/sl"
	"github.com/ruslanovk/vpnshop-sync/internal/models"
	"github.com/ruslanovk/vpnshop-sync/internal/panel"
)

// selfHeal чинит битые привязки до любых синхронизирующих записей.
//
// Если аккаунт ссылается на UUID панели, а панель либо отдаёт под этим
// UUID другую идентичность, либо не отдаёт его вовсе при том, что сама
// идентичность на панели есть под другим UUID, — обе половины привязки
// (panel_uuid аккаунта и short_uuid/URL/сквады подписки) очищаются
// разом. Половинчатая очистка запрещена: она ломает инвариант связки.
//
// Аккаунты, чью идентичность панель не отдаёт совсем, здесь не
// трогаются — их гасит фаза ретайра.
func (r *Reconciler) selfHeal(ctx context.Context, locals []*LocalAccount, remoteUsers []panel.RemoteUser, report *models.SyncReport) {
	remoteByUUID := make(map[string]panel.RemoteUser, len(remoteUsers))
	knownTelegramIDs := make(map[int64]struct{}, len(remoteUsers))
	for _, u := range remoteUsers {
		remoteByUUID[u.UUID] = u
		if u.TelegramID != 0 {
			knownTelegramIDs[u.TelegramID] = struct{}{}
		}
	}

	for _, local := range locals {
		if local.Account.PanelUUID == nil {
			continue
		}

		remote, found := remoteByUUID[*local.Account.PanelUUID]
		mismatch := found && remote.TelegramID != local.Account.TelegramID
		stale := false
		if !found {
			_, identityKnown := knownTelegramIDs[local.Account.TelegramID]
			stale = identityKnown
		}
		if !mismatch && !stale {
			continue
		}

		if err := r.repo.ClearPanelLink(ctx, local.Account.ID); err != nil {
			r.log.Error("failed to heal panel link",
				slog.Int64("telegram_id", local.Account.TelegramID), sl.Err(err))
			report.Errors++
			continue
		}

		local.Account.PanelUUID = nil
		if local.Subscription != nil {
			local.Subscription.ShortUUID = nil
			local.Subscription.SubscriptionURL = nil
			local.Subscription.ConnectedSquads = nil
		}
		r.log.Warn("healed broken panel link",
			slog.Int64("telegram_id", local.Account.TelegramID),
			slog.Bool("identity_mismatch", mismatch))
	}
}
