package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ruslanovk/vpnshop-sync/internal/models"
)

// ErrInsufficientFunds возвращается при попытке списать больше, чем
// есть на балансе.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrNotFound возвращается, когда запрошенная строка отсутствует.
var ErrNotFound = errors.New("not found")

// SnapshotAccounts возвращает все аккаунты вместе с их подписками и
// подключёнными сквадами.
func (s *Storage) SnapshotAccounts(ctx context.Context) ([]*models.LocalAccount, error) {
	const op = "storage.SnapshotAccounts"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT a.id, a.telegram_id, a.balance, a.total_spent, a.status, a.panel_uuid, a.promo_group_id,
			      s.id, s.account_id, s.start_date, s.end_date, s.status,
			      s.traffic_limit_gb, s.traffic_used_gb, s.device_limit,
			      s.autopay, s.autopay_days, s.short_uuid, s.subscription_url
			  FROM accounts a
			  LEFT JOIN subscriptions s ON s.account_id = a.id
			  ORDER BY a.id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.LocalAccount
	bySubID := make(map[int]*models.Subscription)
	for rows.Next() {
		var item models.LocalAccount
		var subID, subAccountID sql.NullInt64
		var sub models.Subscription
		var start, end sql.NullTime
		var subStatus, shortUUID, subURL sql.NullString
		var trafficLimit, deviceLimit, autopayDays sql.NullInt64
		var trafficUsed sql.NullFloat64
		var autopay sql.NullBool

		if err := rows.Scan(&item.Account.ID, &item.Account.TelegramID, &item.Account.Balance,
			&item.Account.TotalSpent, &item.Account.Status, &item.Account.PanelUUID, &item.Account.PromoGroupID,
			&subID, &subAccountID, &start, &end, &subStatus,
			&trafficLimit, &trafficUsed, &deviceLimit,
			&autopay, &autopayDays, &shortUUID, &subURL); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if subID.Valid {
			sub.ID = int(subID.Int64)
			sub.AccountID = int(subAccountID.Int64)
			sub.StartDate = start.Time
			sub.EndDate = end.Time
			sub.Status = subStatus.String
			sub.TrafficLimitGB = int(trafficLimit.Int64)
			sub.TrafficUsedGB = trafficUsed.Float64
			sub.DeviceLimit = int(deviceLimit.Int64)
			sub.Autopay = autopay.Bool
			sub.AutopayDays = int(autopayDays.Int64)
			if shortUUID.Valid {
				sub.ShortUUID = &shortUUID.String
			}
			if subURL.Valid {
				sub.SubscriptionURL = &subURL.String
			}
			item.Subscription = &sub
			bySubID[sub.ID] = item.Subscription
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.loadSquadLinks(ctx, bySubID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// loadSquadLinks раскладывает строки subscription_squads по подпискам в
// порядке подключения.
func (s *Storage) loadSquadLinks(ctx context.Context, bySubID map[int]*models.Subscription) error {
	if len(bySubID) == 0 {
		return nil
	}

	query := `SELECT subscription_id, squad_uuid
			  FROM subscription_squads
			  ORDER BY subscription_id, position`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var subID int
		var squadUUID string
		if err := rows.Scan(&subID, &squadUUID); err != nil {
			return err
		}
		if sub, ok := bySubID[subID]; ok {
			sub.ConnectedSquads = append(sub.ConnectedSquads, squadUUID)
		}
	}
	return rows.Err()
}

// GetAccountByID возвращает аккаунт по его ID.
func (s *Storage) GetAccountByID(ctx context.Context, id int) (*models.Account, error) {
	const op = "storage.GetAccountByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, telegram_id, balance, total_spent, status, panel_uuid, promo_group_id
			  FROM accounts WHERE id = $1`
	var acc models.Account
	err := s.DB.QueryRowContext(ctx, query, id).Scan(&acc.ID, &acc.TelegramID, &acc.Balance,
		&acc.TotalSpent, &acc.Status, &acc.PanelUUID, &acc.PromoGroupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &acc, nil
}

// CreateAccountWithSubscription атомарно заводит аккаунт и его подписку,
// включая связи со сквадами.
func (s *Storage) CreateAccountWithSubscription(ctx context.Context, acc models.Account, sub models.Subscription) error {
	const op = "storage.CreateAccountWithSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO accounts (telegram_id, balance, status, panel_uuid, promo_group_id)
			  VALUES ($1, $2, $3, $4,
			      (SELECT id FROM promo_groups WHERE is_default = TRUE LIMIT 1))
			  RETURNING id`
	var accountID int
	err = tx.QueryRowContext(ctx, query, acc.TelegramID, acc.Balance, acc.Status, acc.PanelUUID).Scan(&accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query = `INSERT INTO subscriptions (account_id, start_date, end_date, status,
			     traffic_limit_gb, traffic_used_gb, device_limit, autopay, autopay_days,
			     short_uuid, subscription_url)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING id`
	var subID int
	err = tx.QueryRowContext(ctx, query, accountID, sub.StartDate, sub.EndDate, sub.Status,
		sub.TrafficLimitGB, sub.TrafficUsedGB, sub.DeviceLimit, sub.Autopay, sub.AutopayDays,
		sub.ShortUUID, sub.SubscriptionURL).Scan(&subID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := replaceSquadLinks(ctx, tx, subID, nil, sub.ConnectedSquads); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RelinkAccount выставляет UUID панели у аккаунта и пишет подписку
// одной транзакцией. Привязка не бывает наполовину установленной:
// panel_uuid не может закоммититься без short_uuid подписки.
func (s *Storage) RelinkAccount(ctx context.Context, accountID int, panelUUID string, sub models.Subscription) error {
	const op = "storage.RelinkAccount"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET panel_uuid = $1 WHERE id = $2`, panelUUID, accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	if err := writeSubscription(ctx, tx, sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClearPanelLink очищает привязку к панели целиком: UUID аккаунта,
// short_uuid и URL подписки, связи со сквадами. Половинчатых состояний
// не бывает, всё выполняется в одной транзакции.
func (s *Storage) ClearPanelLink(ctx context.Context, accountID int) error {
	const op = "storage.ClearPanelLink"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET panel_uuid = NULL WHERE id = $1`, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET short_uuid = NULL, subscription_url = NULL
		 WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := detachAllSquads(ctx, tx, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AssignPromoGroup переводит аккаунт в указанную промо-группу.
func (s *Storage) AssignPromoGroup(ctx context.Context, accountID, groupID int) error {
	const op = "storage.AssignPromoGroup"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx,
		`UPDATE accounts SET promo_group_id = $1 WHERE id = $2`, groupID, accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
