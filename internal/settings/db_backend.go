package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sifter/internal/database"
)

// DBBackend stores settings in the workflow_settings table.
type DBBackend struct {
	db *database.DB
}

// NewDBBackend wraps an opened database.
func NewDBBackend(db *database.DB) *DBBackend {
	return &DBBackend{db: db}
}

// Name implements Backend.
func (b *DBBackend) Name() string { return "database" }

// Get implements Backend.
func (b *DBBackend) Get(ctx context.Context, workflow, key string) (string, bool, error) {
	var value string
	err := b.db.QueryRow(
		ctx,
		`SELECT setting_value FROM workflow_settings WHERE workflow_name = ? AND setting_key = ? AND is_active = 1`,
		workflow, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s/%s: %w", workflow, key, err)
	}
	return value, true, nil
}

// Set upserts a setting and reactivates it if it was deleted. An empty
// description keeps the stored one.
func (b *DBBackend) Set(ctx context.Context, setting Setting) error {
	now := database.FormatTime(time.Now())
	_, err := b.db.Exec(
		ctx,
		`INSERT INTO workflow_settings (workflow_name, setting_key, setting_value, description, is_active, created_at, updated_at)
        VALUES (?, ?, ?, ?, 1, ?, ?)
        ON CONFLICT (workflow_name, setting_key) DO UPDATE SET
            setting_value = excluded.setting_value,
            description = COALESCE(excluded.description, workflow_settings.description),
            is_active = 1,
            updated_at = excluded.updated_at`,
		setting.Workflow,
		setting.Key,
		setting.Value,
		database.NullableString(setting.Description),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("set setting %s/%s: %w", setting.Workflow, setting.Key, err)
	}
	return nil
}

// All implements Backend, returning active settings ordered by key.
func (b *DBBackend) All(ctx context.Context, workflow string) ([]Setting, error) {
	rows, err := b.db.Query(
		ctx,
		`SELECT setting_key, setting_value, description, updated_at FROM workflow_settings
        WHERE workflow_name = ? AND is_active = 1 ORDER BY setting_key`,
		workflow,
	)
	if err != nil {
		return nil, fmt.Errorf("list settings %s: %w", workflow, err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var (
			setting     = Setting{Workflow: workflow}
			description sql.NullString
			updatedRaw  string
		)
		if err := rows.Scan(&setting.Key, &setting.Value, &description, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		setting.Description = description.String
		if ts, err := database.ParseTime(updatedRaw); err == nil {
			setting.UpdatedAt = ts
		}
		out = append(out, setting)
	}
	return out, rows.Err()
}

// Delete soft-deletes a setting.
func (b *DBBackend) Delete(ctx context.Context, workflow, key string) (bool, error) {
	res, err := b.db.Exec(
		ctx,
		`UPDATE workflow_settings SET is_active = 0, updated_at = ?
        WHERE workflow_name = ? AND setting_key = ? AND is_active = 1`,
		database.FormatTime(time.Now()), workflow, key,
	)
	if err != nil {
		return false, fmt.Errorf("delete setting %s/%s: %w", workflow, key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete setting rows affected: %w", err)
	}
	return affected > 0, nil
}
