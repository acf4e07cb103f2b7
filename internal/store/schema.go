package store

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
)

const (
	SchemaVersion = 4

	recordsTable = "modbus_data"
	configsTable = "register_configs"

	createVersionsSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );`
)

// migration upgrades the schema by one version inside a transaction.
// Every step must tolerate databases created before versioning existed.
type migration struct {
	version     int
	description string
	apply       func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{
		version:     1,
		description: "create records and configs tables",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
			   CREATE TABLE IF NOT EXISTS modbus_data (
			       id            INTEGER PRIMARY KEY AUTOINCREMENT,
			       timestamp     TEXT NOT NULL,
			       slave_id      INTEGER NOT NULL,
			       address       INTEGER NOT NULL,
			       function_code TEXT NOT NULL,
			       value         REAL,
			       unit          TEXT
			   );
			   CREATE TABLE IF NOT EXISTS register_configs (
			       id            INTEGER PRIMARY KEY AUTOINCREMENT,
			       name          TEXT UNIQUE NOT NULL,
			       slave_id      INTEGER NOT NULL,
			       address       INTEGER NOT NULL,
			       count         INTEGER NOT NULL,
			       function_code INTEGER NOT NULL,
			       unit          TEXT
			   );`)
			return err
		},
	},
	{
		version:     2,
		description: "add channel transform",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			if err := addColumn(ctx, tx, configsTable, "scale", "REAL DEFAULT 1.0"); err != nil {
				return err
			}
			return addColumn(ctx, tx, configsTable, "offset", "REAL DEFAULT 0.0")
		},
	},
	{
		version:     3,
		description: "add channel color",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			return addColumn(ctx, tx, configsTable, "color", "TEXT DEFAULT 'blue'")
		},
	},
	{
		version:     4,
		description: "add config creation time and record time index",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			if err := addColumn(ctx, tx, configsTable, "created_at", "TEXT"); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`CREATE INDEX IF NOT EXISTS idx_modbus_data_timestamp ON modbus_data (timestamp)`)
			return err
		},
	},
}

// GetSchemaVersion returns the current schema version, 0 if unversioned.
func GetSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(ctx, db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version sql.NullInt64
	err = db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_versions`).Scan(&version)
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return int(version.Int64), nil
}

// TableExists checks if a table exists
func TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}

	return false, rows.Err()
}

func addColumn(ctx context.Context, tx *sql.Tx, table, column, definition string) error {
	exists, err := columnExists(ctx, tx, table, column)
	if err != nil || exists {
		return err
	}

	_, err = tx.ExecContext(ctx, `ALTER TABLE `+table+` ADD COLUMN "`+column+`" `+definition)
	return err
}

// applyMigrations runs every migration newer than current, one transaction
// per step, recording each applied version.
func applyMigrations(ctx context.Context, db *sql.DB, current int, log logger.Logger) error {
	errFactory := errors.New()

	if _, err := db.ExecContext(ctx, createVersionsSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		if err := runMigration(ctx, db, m, log); err != nil {
			return err
		}

		log.Info().
			Int("version", m.version).
			Str("description", m.description).
			Msg("Schema migration applied")
	}

	return nil
}

func runMigration(ctx context.Context, db *sql.DB, m migration, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback migration")
			}
		}
	}()

	if err := m.apply(ctx, tx); err != nil {
		return errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Version int
			Error   string
		}{
			Version: m.version,
			Error:   err.Error(),
		})
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)`,
		m.version, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return nil
}
