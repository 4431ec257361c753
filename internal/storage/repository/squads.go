package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruslanovk/vpnshop-sync/internal/models"
)

// SnapshotSquads возвращает все локальные сквады.
func (s *Storage) SnapshotSquads(ctx context.Context) ([]*models.ServerSquad, error) {
	const op = "storage.SnapshotSquads"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, squad_uuid, name, price_kopeks, is_available, allow_trial,
			      max_users, current_users
			  FROM server_squads
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ServerSquad
	for rows.Next() {
		var item models.ServerSquad
		if err := rows.Scan(&item.ID, &item.SquadUUID, &item.Name, &item.PriceKopeks,
			&item.IsAvailable, &item.AllowTrial, &item.MaxUsers, &item.CurrentUsers); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// GetSquadsByUUIDs возвращает сквады по списку UUID.
func (s *Storage) GetSquadsByUUIDs(ctx context.Context, uuids []string) ([]*models.ServerSquad, error) {
	const op = "storage.GetSquadsByUUIDs"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if len(uuids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(uuids))
	args := make([]any, len(uuids))
	for i, uuid := range uuids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = uuid
	}
	query := `SELECT id, squad_uuid, name, price_kopeks, is_available, allow_trial,
			      max_users, current_users
			  FROM server_squads
			  WHERE squad_uuid IN (` + strings.Join(placeholders, ", ") + `)
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ServerSquad
	for rows.Next() {
		var item models.ServerSquad
		if err := rows.Scan(&item.ID, &item.SquadUUID, &item.Name, &item.PriceKopeks,
			&item.IsAvailable, &item.AllowTrial, &item.MaxUsers, &item.CurrentUsers); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CreateSquad заводит сквад и в той же транзакции привязывает его к
// промо-группе по умолчанию: сквад без единой промо-группы существовать
// не должен.
func (s *Storage) CreateSquad(ctx context.Context, squad models.ServerSquad) error {
	const op = "storage.CreateSquad"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	group, err := s.GetDefaultPromoGroup(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO server_squads (squad_uuid, name, price_kopeks, is_available,
			      allow_trial, max_users, current_users)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  RETURNING id`
	var squadID int
	err = tx.QueryRowContext(ctx, query, squad.SquadUUID, squad.Name, squad.PriceKopeks,
		squad.IsAvailable, squad.AllowTrial, squad.MaxUsers, squad.CurrentUsers).Scan(&squadID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO server_squad_promo_groups (server_squad_id, promo_group_id)
		 VALUES ($1, $2)`, squadID, group.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RemoveSquad удаляет сквад, предварительно отвязав все подписки.
// Возвращает количество затронутых подписок. Всё в одной транзакции:
// подписка не может остаться со ссылкой на исчезнувший сквад.
func (s *Storage) RemoveSquad(ctx context.Context, squadUUID string) (int, error) {
	const op = "storage.RemoveSquad"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM subscription_squads WHERE squad_uuid = $1`, squadUUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	touched, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM server_squads WHERE squad_uuid = $1`, squadUUID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(touched), nil
}
