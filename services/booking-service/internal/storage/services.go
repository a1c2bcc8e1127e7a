package storage

import (
	"context"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

const serviceSettingColumns = `s.id::text, s.name, s.price_cents, ss.duration_minutes, ss.buffer_minutes, ss.is_bookable, ss.max_concurrent`

// ServiceSettings loads the settings of the given services keyed by service id.
// Services without a settings row are absent from the map.
func (r *Repository) ServiceSettings(ctx context.Context, serviceIDs []string) (map[string]model.ServiceSetting, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+serviceSettingColumns+`
		FROM services s
		JOIN service_settings ss ON ss.service_id = s.id
		WHERE s.id::text = ANY($1::text[])
	`, serviceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.ServiceSetting, len(serviceIDs))
	for rows.Next() {
		st, err := scanServiceSetting(rows)
		if err != nil {
			return nil, err
		}
		out[st.ServiceID] = st
	}
	return out, rows.Err()
}

func (r *Repository) ListServiceSettings(ctx context.Context, bookableOnly bool) ([]model.ServiceSetting, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+serviceSettingColumns+`
		FROM services s
		JOIN service_settings ss ON ss.service_id = s.id
		WHERE ss.is_bookable OR NOT $1
		ORDER BY s.name
	`, bookableOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ServiceSetting
	for rows.Next() {
		st, err := scanServiceSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertServiceSetting writes the booking settings for an existing service.
// It returns false when the service does not exist.
func (r *Repository) UpsertServiceSetting(ctx context.Context, st model.ServiceSetting) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO service_settings (service_id, duration_minutes, buffer_minutes, is_bookable, max_concurrent)
		SELECT id, $2, $3, $4, $5 FROM services WHERE id::text = $1
		ON CONFLICT (service_id) DO UPDATE
		SET duration_minutes = EXCLUDED.duration_minutes,
			buffer_minutes = EXCLUDED.buffer_minutes,
			is_bookable = EXCLUDED.is_bookable,
			max_concurrent = EXCLUDED.max_concurrent,
			updated_at = now()
	`, st.ServiceID, st.DurationMinutes, st.BufferMinutes, st.Bookable, st.MaxConcurrent)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanServiceSetting(row scanner) (model.ServiceSetting, error) {
	var st model.ServiceSetting
	err := row.Scan(&st.ServiceID, &st.Name, &st.PriceCents, &st.DurationMinutes, &st.BufferMinutes, &st.Bookable, &st.MaxConcurrent)
	return st, err
}
