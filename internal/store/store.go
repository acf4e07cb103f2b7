// Package store is the SQLite durable store for persisted samples and saved
// channel configurations.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultDirPerm = 0o755

	// MaxQueryRows caps the rows returned by one history query.
	MaxQueryRows = 1000

	timestampLayout = "2006-01-02 15:04:05.000000"
	// Fractional seconds are accepted after the seconds field when parsing.
	parseLayout = "2006-01-02 15:04:05"
)

type Config struct {
	DBPath          string
	BackupOnMigrate bool
	BackupDir       string
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	return nil
}

// Record is one persisted sample.
type Record struct {
	ID        int64            `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Identity  channel.Identity `json:"identity"`
	Value     float64          `json:"value"`
	Unit      string           `json:"unit"`
}

// Filter selects records. Start and End bound the timestamp inclusively;
// nil pointer fields match everything. Limit <= 0 means MaxQueryRows.
type Filter struct {
	Start    time.Time
	End      time.Time
	SlaveID  *int
	Address  *int
	Function *channel.FunctionCode
	Limit    int
}

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log logger.Logger
	loc *time.Location
}

// Open opens or creates the database at cfg.DBPath and migrates it to the
// current schema.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("store")

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	db.SetMaxOpenConns(1)

	backupDir := ""
	if cfg.BackupOnMigrate {
		backupDir = cfg.BackupDir
		if backupDir == "" {
			backupDir = filepath.Join(filepath.Dir(cfg.DBPath), "backups")
		}
	}

	if err := ValidateAndUpdateSchema(ctx, db, backupDir, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Store initialized")

	return &Store{db: db, log: log, loc: time.Local}, nil
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sql.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: db, log: log.With("store"), loc: time.Local}
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Debug().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := s.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.log.Info().Msg("Store closed")

	return nil
}

// InsertRecord appends one record and returns its id.
func (s *Store) InsertRecord(ctx context.Context, r Record) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO modbus_data (timestamp, slave_id, address, function_code, value, unit)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.formatTime(r.Timestamp), r.Identity.SlaveID, r.Identity.Address,
		r.Identity.Function.Tag(), r.Value, r.Unit)
	if err != nil {
		return 0, errors.New().Wrap(ErrWriteFailed, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.New().Wrap(ErrWriteFailed, err)
	}

	return id, nil
}

// Query returns matching records, most recent first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	where, args := s.where(f)
	limit := f.Limit
	if limit <= 0 || limit > MaxQueryRows {
		limit = MaxQueryRows
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, slave_id, address, function_code, value, unit
		 FROM modbus_data`+where+`
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r     Record
			ts    string
			fc    string
			value sql.NullFloat64
			unit  sql.NullString
		)
		if err := rows.Scan(&r.ID, &ts, &r.Identity.SlaveID, &r.Identity.Address, &fc, &value, &unit); err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}

		r.Timestamp, err = time.ParseInLocation(parseLayout, ts, s.loc)
		if err != nil {
			s.log.Debug().Int64("id", r.ID).Str("timestamp", ts).Msg("Skipping record with unreadable timestamp")
			continue
		}
		if r.Identity.Function, err = channel.ParseFunctionCode(fc); err != nil {
			s.log.Debug().Int64("id", r.ID).Str("function_code", fc).Msg("Record has unknown function code")
		}
		r.Value = value.Float64
		r.Unit = unit.String

		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}

	return out, nil
}

// DeleteRange removes every record matching f and returns the count.
func (s *Store) DeleteRange(ctx context.Context, f Filter) (int64, error) {
	where, args := s.where(f)

	res, err := s.db.ExecContext(ctx, `DELETE FROM modbus_data`+where, args...)
	if err != nil {
		return 0, errors.New().Wrap(ErrWriteFailed, err)
	}

	return res.RowsAffected()
}

// DeleteIDs removes the records with the given ids and returns the count.
func (s *Store) DeleteIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM modbus_data WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, errors.New().Wrap(ErrWriteFailed, err)
	}

	return res.RowsAffected()
}

// DistinctIdentities lists every identity with persisted records.
func (s *Store) DistinctIdentities(ctx context.Context) ([]channel.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT slave_id, address, function_code FROM modbus_data
		 ORDER BY slave_id, address, function_code`)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	seen := make(map[channel.Identity]bool)
	var out []channel.Identity
	for rows.Next() {
		var (
			id channel.Identity
			fc string
		)
		if err := rows.Scan(&id.SlaveID, &id.Address, &fc); err != nil {
			return nil, errors.New().Wrap(ErrQueryFailed, err)
		}
		id.Function, _ = channel.ParseFunctionCode(fc)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	return out, rows.Err()
}

func (s *Store) where(f Filter) (string, []any) {
	clauses := []string{"timestamp BETWEEN ? AND ?"}
	args := []any{s.formatTime(f.Start), s.formatTime(f.End)}

	if f.SlaveID != nil {
		clauses = append(clauses, "slave_id = ?")
		args = append(args, *f.SlaveID)
	}
	if f.Address != nil {
		clauses = append(clauses, "address = ?")
		args = append(args, *f.Address)
	}
	if f.Function != nil {
		clauses = append(clauses, "function_code IN (?, ?)")
		args = append(args, f.Function.Tag(), strconv.Itoa(int(*f.Function)))
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) formatTime(t time.Time) string {
	return t.In(s.loc).Format(timestampLayout)
}
