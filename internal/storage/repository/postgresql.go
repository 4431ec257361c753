// Package repository реализует хранилище данных на основе PostgreSQL
// для аккаунтов, подписок, сквадов и промо-групп. Каждая мутация
// прохода синхронизации выполняется в собственной транзакции: сбой
// позднего аккаунта не откатывает уже зафиксированные.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и инициализирует необходимые
// таблицы и индексы.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Storage{DB: db}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	const op = "storage.initSchema"

	schema := `
	CREATE TABLE IF NOT EXISTS promo_groups (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		server_discount_percent INT NOT NULL DEFAULT 0,
		traffic_discount_percent INT NOT NULL DEFAULT 0,
		device_discount_percent INT NOT NULL DEFAULT 0,
		period_discount_percent INT NOT NULL DEFAULT 0,
		auto_assign_total_kopeks BIGINT NOT NULL DEFAULT 0,
		is_default BOOLEAN NOT NULL DEFAULT FALSE
	);

	INSERT INTO promo_groups (name, is_default)
	VALUES ('base', TRUE)
	ON CONFLICT (name) DO NOTHING;

	CREATE TABLE IF NOT EXISTS accounts (
		id SERIAL PRIMARY KEY,
		telegram_id BIGINT NOT NULL UNIQUE,
		balance BIGINT NOT NULL DEFAULT 0,
		total_spent BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		panel_uuid TEXT UNIQUE,
		promo_group_id INT NOT NULL REFERENCES promo_groups(id)
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id SERIAL PRIMARY KEY,
		account_id INT NOT NULL UNIQUE REFERENCES accounts(id) ON DELETE CASCADE,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		traffic_limit_gb INT NOT NULL DEFAULT 0,
		traffic_used_gb DOUBLE PRECISION NOT NULL DEFAULT 0,
		device_limit INT NOT NULL DEFAULT 0,
		autopay BOOLEAN NOT NULL DEFAULT FALSE,
		autopay_days INT NOT NULL DEFAULT 3,
		short_uuid TEXT,
		subscription_url TEXT
	);

	CREATE TABLE IF NOT EXISTS server_squads (
		id SERIAL PRIMARY KEY,
		squad_uuid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		price_kopeks BIGINT NOT NULL DEFAULT 0,
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		allow_trial BOOLEAN NOT NULL DEFAULT TRUE,
		max_users INT NOT NULL DEFAULT 0,
		current_users INT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS server_squad_promo_groups (
		server_squad_id INT NOT NULL REFERENCES server_squads(id) ON DELETE CASCADE,
		promo_group_id INT NOT NULL REFERENCES promo_groups(id) ON DELETE CASCADE,
		PRIMARY KEY (server_squad_id, promo_group_id)
	);

	CREATE TABLE IF NOT EXISTS subscription_squads (
		subscription_id INT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
		squad_uuid TEXT NOT NULL REFERENCES server_squads(squad_uuid) ON DELETE CASCADE,
		position INT NOT NULL DEFAULT 0,
		PRIMARY KEY (subscription_id, squad_uuid)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_panel_uuid ON accounts(panel_uuid);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_end_date ON subscriptions(end_date);`

	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'subscriptions'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table subscriptions missing or query error: %w", err)
	}
	return nil
}
