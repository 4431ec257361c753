package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ruslanovk/vpnshop-sync/internal/models"
)

// GetSubscriptionByAccountID возвращает подписку аккаунта вместе со
// связями со сквадами.
func (s *Storage) GetSubscriptionByAccountID(ctx context.Context, accountID int) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByAccountID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, account_id, start_date, end_date, status,
			      traffic_limit_gb, traffic_used_gb, device_limit,
			      autopay, autopay_days, short_uuid, subscription_url
			  FROM subscriptions WHERE account_id = $1`
	var sub models.Subscription
	err := s.DB.QueryRowContext(ctx, query, accountID).Scan(&sub.ID, &sub.AccountID,
		&sub.StartDate, &sub.EndDate, &sub.Status,
		&sub.TrafficLimitGB, &sub.TrafficUsedGB, &sub.DeviceLimit,
		&sub.Autopay, &sub.AutopayDays, &sub.ShortUUID, &sub.SubscriptionURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT squad_uuid FROM subscription_squads WHERE subscription_id = $1 ORDER BY position`,
		sub.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var squadUUID string
		if err := rows.Scan(&squadUUID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sub.ConnectedSquads = append(sub.ConnectedSquads, squadUUID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

// UpdateSubscription пишет подписку и приводит связи со сквадами к
// переданному списку в одной транзакции.
func (s *Storage) UpdateSubscription(ctx context.Context, sub models.Subscription) error {
	const op = "storage.UpdateSubscription"
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

	if err := writeSubscription(ctx, tx, sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// writeSubscription обновляет строку подписки и её связи со сквадами в
// рамках переданной транзакции.
func writeSubscription(ctx context.Context, tx *sql.Tx, sub models.Subscription) error {
	query := `UPDATE subscriptions
			  SET start_date = $1, end_date = $2, status = $3,
			      traffic_limit_gb = $4, traffic_used_gb = $5, device_limit = $6,
			      autopay = $7, autopay_days = $8, short_uuid = $9, subscription_url = $10
			  WHERE id = $11`
	result, err := tx.ExecContext(ctx, query, sub.StartDate, sub.EndDate, sub.Status,
		sub.TrafficLimitGB, sub.TrafficUsedGB, sub.DeviceLimit,
		sub.Autopay, sub.AutopayDays, sub.ShortUUID, sub.SubscriptionURL, sub.ID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	existing, err := currentSquadLinks(ctx, tx, sub.ID)
	if err != nil {
		return err
	}
	return replaceSquadLinks(ctx, tx, sub.ID, existing, sub.ConnectedSquads)
}

// RetireSubscription гасит подписку аккаунта: статус disabled, связи со
// сквадами сняты, обе половины привязки к панели очищены. Баланс и
// история аккаунта не трогаются.
func (s *Storage) RetireSubscription(ctx context.Context, accountID int) error {
	const op = "storage.RetireSubscription"
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

	if err := detachAllSquads(ctx, tx, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET status = $1, short_uuid = NULL, subscription_url = NULL
		 WHERE account_id = $2`, models.SubscriptionDisabled, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET panel_uuid = NULL WHERE id = $1`, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ApplyAddonPurchase списывает стоимость и применяет новые лимиты
// подписки одной транзакцией. Недостаток средств откатывает всё.
func (s *Storage) ApplyAddonPurchase(ctx context.Context, accountID, totalKopeks int, sub models.Subscription) error {
	const op = "storage.ApplyAddonPurchase"
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

	if err := debitBalance(ctx, tx, accountID, totalKopeks); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE subscriptions
			  SET traffic_limit_gb = $1, device_limit = $2
			  WHERE id = $3`
	if _, err := tx.ExecContext(ctx, query, sub.TrafficLimitGB, sub.DeviceLimit, sub.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	existing, err := currentSquadLinks(ctx, tx, sub.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := replaceSquadLinks(ctx, tx, sub.ID, existing, sub.ConnectedSquads); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ApplyRenewal списывает стоимость продления и сдвигает дату окончания
// одной транзакцией.
func (s *Storage) ApplyRenewal(ctx context.Context, accountID, totalKopeks int, newEnd time.Time) error {
	const op = "storage.ApplyRenewal"
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

	if err := debitBalance(ctx, tx, accountID, totalKopeks); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE subscriptions
			  SET end_date = $1, status = $2
			  WHERE account_id = $3`
	if _, err := tx.ExecContext(ctx, query, newEnd, models.SubscriptionActive, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// debitBalance списывает сумму под защитой остатка и накапливает
// суммарные траты. Нулевая сумма допустима и ничего не меняет.
func debitBalance(ctx context.Context, tx *sql.Tx, accountID, amountKopeks int) error {
	if amountKopeks == 0 {
		return nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts
		 SET balance = balance - $1, total_spent = total_spent + $1
		 WHERE id = $2 AND balance >= $1`, amountKopeks, accountID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// currentSquadLinks возвращает подключённые сквады подписки в порядке
// позиций.
func currentSquadLinks(ctx context.Context, tx *sql.Tx, subscriptionID int) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT squad_uuid FROM subscription_squads
		 WHERE subscription_id = $1 ORDER BY position`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []string
	for rows.Next() {
		var squadUUID string
		if err := rows.Scan(&squadUUID); err != nil {
			return nil, err
		}
		result = append(result, squadUUID)
	}
	return result, rows.Err()
}

// replaceSquadLinks приводит связи подписки к списку want, поддерживая
// счётчики занятости сквадов.
func replaceSquadLinks(ctx context.Context, tx *sql.Tx, subscriptionID int, existing, want []string) error {
	wanted := make(map[string]int, len(want))
	for i, squadUUID := range want {
		wanted[squadUUID] = i
	}
	present := make(map[string]struct{}, len(existing))
	for _, squadUUID := range existing {
		present[squadUUID] = struct{}{}
	}

	for _, squadUUID := range existing {
		if _, keep := wanted[squadUUID]; keep {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM subscription_squads WHERE subscription_id = $1 AND squad_uuid = $2`,
			subscriptionID, squadUUID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE server_squads SET current_users = GREATEST(current_users - 1, 0)
			 WHERE squad_uuid = $1`, squadUUID); err != nil {
			return err
		}
	}

	for squadUUID, position := range wanted {
		if _, exists := present[squadUUID]; exists {
			if _, err := tx.ExecContext(ctx,
				`UPDATE subscription_squads SET position = $1
				 WHERE subscription_id = $2 AND squad_uuid = $3`,
				position, subscriptionID, squadUUID); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscription_squads (subscription_id, squad_uuid, position)
			 VALUES ($1, $2, $3)`, subscriptionID, squadUUID, position); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE server_squads SET current_users = current_users + 1
			 WHERE squad_uuid = $1`, squadUUID); err != nil {
			return err
		}
	}
	return nil
}

// detachAllSquads снимает все связи подписок аккаунта со сквадами,
// уменьшая счётчики занятости.
func detachAllSquads(ctx context.Context, tx *sql.Tx, accountID int) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE server_squads SET current_users = GREATEST(current_users - 1, 0)
		 WHERE squad_uuid IN (
		     SELECT ss.squad_uuid FROM subscription_squads ss
		     JOIN subscriptions s ON s.id = ss.subscription_id
		     WHERE s.account_id = $1
		 )`, accountID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`DELETE FROM subscription_squads
		 WHERE subscription_id IN (SELECT id FROM subscriptions WHERE account_id = $1)`,
		accountID)
	return err
}
