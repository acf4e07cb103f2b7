package store

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
)

const selectConfigsSQL = `
	SELECT name, slave_id, address, count, function_code, unit,
	       scale, "offset", color, created_at
	FROM register_configs
	ORDER BY id`

// LoadConfigs returns every saved channel config. Columns added by later
// schema versions default when NULL.
func (s *Store) LoadConfigs(ctx context.Context) ([]channel.Config, error) {
	rows, err := s.db.QueryContext(ctx, selectConfigsSQL)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []channel.Config
	for rows.Next() {
		var (
			cfg       channel.Config
			fc        int
			unit      sql.NullString
			scale     sql.NullFloat64
			offset    sql.NullFloat64
			color     sql.NullString
			createdAt sql.NullString
		)
		if err := rows.Scan(&cfg.Name, &cfg.Identity.SlaveID, &cfg.Identity.Address, &cfg.Count,
			&fc, &unit, &scale, &offset, &color, &createdAt); err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}

		cfg.Identity.Function = channel.FunctionCode(fc)
		cfg.Unit = unit.String
		cfg.Scale = 1.0
		if scale.Valid {
			cfg.Scale = scale.Float64
		}
		cfg.Offset = offset.Float64
		cfg.Color = channel.Color(color.String).OrDefault()
		if createdAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, createdAt.String); err == nil {
				cfg.CreatedAt = t
			}
		}

		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}

	return out, nil
}

func (s *Store) InsertConfig(ctx context.Context, cfg channel.Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO register_configs
		    (name, slave_id, address, count, function_code, unit, scale, "offset", color, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		configArgs(cfg)...)
	if err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

// UpdateConfig rewrites the config stored as oldName, renaming it if needed.
func (s *Store) UpdateConfig(ctx context.Context, oldName string, cfg channel.Config) error {
	args := append(configArgs(cfg), oldName)
	res, err := s.db.ExecContext(ctx, `
		UPDATE register_configs
		SET name = ?, slave_id = ?, address = ?, count = ?, function_code = ?, unit = ?,
		    scale = ?, "offset" = ?, color = ?, created_at = ?
		WHERE name = ?`,
		args...)
	if err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.New().WithData(ErrConfigNotFound, oldName)
	}

	return nil
}

// UpsertConfig inserts cfg or replaces the config with the same name.
func (s *Store) UpsertConfig(ctx context.Context, cfg channel.Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO register_configs
		    (name, slave_id, address, count, function_code, unit, scale, "offset", color, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		    slave_id = excluded.slave_id,
		    address = excluded.address,
		    count = excluded.count,
		    function_code = excluded.function_code,
		    unit = excluded.unit,
		    scale = excluded.scale,
		    "offset" = excluded."offset",
		    color = excluded.color,
		    created_at = excluded.created_at`,
		configArgs(cfg)...)
	if err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (s *Store) DeleteConfig(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM register_configs WHERE name = ?`, name); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

func configArgs(cfg channel.Config) []any {
	var createdAt any
	if !cfg.CreatedAt.IsZero() {
		createdAt = cfg.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	return []any{
		cfg.Name, cfg.Identity.SlaveID, cfg.Identity.Address, cfg.Count, int(cfg.Identity.Function),
		cfg.Unit, cfg.Scale, cfg.Offset, string(cfg.Color), createdAt,
	}
}
