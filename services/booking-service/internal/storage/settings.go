package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// BusinessSetting decodes the JSON value stored under key into dst.
// It returns false when the key is not set.
func (r *Repository) BusinessSetting(ctx context.Context, key string, dst any) (bool, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `
		SELECT setting_value
		FROM business_settings
		WHERE setting_key = $1
	`, key).Scan(&raw)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("business setting %s: %w", key, err)
	}
	return true, nil
}

func (r *Repository) PutBusinessSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO business_settings (setting_key, setting_value)
		VALUES ($1, $2)
		ON CONFLICT (setting_key) DO UPDATE
		SET setting_value = EXCLUDED.setting_value, updated_at = now()
	`, key, raw)
	return err
}
