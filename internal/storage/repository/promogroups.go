package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ruslanovk/vpnshop-sync/internal/models"
)

const promoGroupColumns = `id, name, server_discount_percent, traffic_discount_percent,
		device_discount_percent, period_discount_percent, auto_assign_total_kopeks, is_default`

func scanPromoGroup(row *sql.Row) (*models.PromoGroup, error) {
	var g models.PromoGroup
	err := row.Scan(&g.ID, &g.Name, &g.ServerDiscountPercent, &g.TrafficDiscountPercent,
		&g.DeviceDiscountPercent, &g.PeriodDiscountPercent, &g.AutoAssignTotalKopeks, &g.IsDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetPromoGroupByID возвращает промо-группу по ID.
func (s *Storage) GetPromoGroupByID(ctx context.Context, id int) (*models.PromoGroup, error) {
	const op = "storage.GetPromoGroupByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+promoGroupColumns+` FROM promo_groups WHERE id = $1`, id)
	g, err := scanPromoGroup(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}

// GetDefaultPromoGroup возвращает промо-группу по умолчанию.
func (s *Storage) GetDefaultPromoGroup(ctx context.Context) (*models.PromoGroup, error) {
	const op = "storage.GetDefaultPromoGroup"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+promoGroupColumns+` FROM promo_groups WHERE is_default = TRUE LIMIT 1`)
	g, err := scanPromoGroup(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}

// FindAutoAssignGroup ищет промо-группу с наибольшим порогом
// автоназначения, не превышающим суммарные траты. Нулевой порог
// означает выключенное автоназначение.
func (s *Storage) FindAutoAssignGroup(ctx context.Context, totalSpentKopeks int) (*models.PromoGroup, error) {
	const op = "storage.FindAutoAssignGroup"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+promoGroupColumns+`
		 FROM promo_groups
		 WHERE auto_assign_total_kopeks > 0 AND auto_assign_total_kopeks <= $1
		 ORDER BY auto_assign_total_kopeks DESC
		 LIMIT 1`, totalSpentKopeks)
	g, err := scanPromoGroup(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}
