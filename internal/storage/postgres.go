package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	_ "github.com/lib/pq"

	"github.com/triggerkit/triggerkit/internal/config"
	"github.com/triggerkit/triggerkit/internal/domain"
)

// PostgresStore persists runtime records in PostgreSQL. Status transitions
// run inside a transaction that rereads the row, so concurrent provisioners
// cannot resurrect a COMPLETED record.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(cfg config.PostgresConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runtime_records (
		id              TEXT PRIMARY KEY,
		runtime_type    TEXT NOT NULL,
		config_hash     TEXT NOT NULL UNIQUE,
		config          JSONB,
		creation_status TEXT NOT NULL,
		creation_logs   JSONB NOT NULL DEFAULT '[]',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_invoked_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_runtime_records_status ON runtime_records(creation_status);
	CREATE INDEX IF NOT EXISTS idx_runtime_records_last_invoked ON runtime_records(last_invoked_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, record *domain.RuntimeRecord) error {
	if record.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		record.ID = id.String()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	logs, err := json.Marshal(record.CreationLogs)
	if err != nil {
		return fmt.Errorf("encoding creation logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runtime_records
			(id, runtime_type, config_hash, config, creation_status, creation_logs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.RuntimeType, record.ConfigHash, []byte(record.Config),
		string(record.CreationStatus), logs, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting runtime record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByHash(ctx context.Context, configHash string) (*domain.RuntimeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, runtime_type, config_hash, config, creation_status, creation_logs,
		       created_at, updated_at, last_invoked_at
		FROM runtime_records WHERE config_hash = $1`,
		configHash,
	)
	return scanRecord(row)
}

func (s *PostgresStore) SetStatus(ctx context.Context, configHash string, status domain.CreationStatus, logs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, runtime_type, config_hash, config, creation_status, creation_logs,
		       created_at, updated_at, last_invoked_at
		FROM runtime_records WHERE config_hash = $1 FOR UPDATE`,
		configHash,
	)
	record, err := scanRecord(row)
	if err != nil {
		return err
	}

	if err := record.TransitionTo(status); err != nil {
		return err
	}
	record.CreationLogs = append(record.CreationLogs, logs...)

	encodedLogs, err := json.Marshal(record.CreationLogs)
	if err != nil {
		return fmt.Errorf("encoding creation logs: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE runtime_records
		SET creation_status = $1, creation_logs = $2, updated_at = $3
		WHERE config_hash = $4`,
		string(record.CreationStatus), encodedLogs, record.UpdatedAt, configHash,
	)
	if err != nil {
		return fmt.Errorf("updating runtime record: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) TouchInvoked(ctx context.Context, configHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runtime_records SET last_invoked_at = NOW(), updated_at = NOW()
		WHERE config_hash = $1`,
		configHash,
	)
	if err != nil {
		return fmt.Errorf("stamping invocation time: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (s *PostgresStore) ListIdle(ctx context.Context, cutoff time.Time) ([]*domain.RuntimeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, runtime_type, config_hash, config, creation_status, creation_logs,
		       created_at, updated_at, last_invoked_at
		FROM runtime_records
		WHERE creation_status = $1
		  AND COALESCE(last_invoked_at, created_at) < $2`,
		string(domain.CreationCompleted), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("listing idle records: %w", err)
	}
	defer rows.Close()

	var records []*domain.RuntimeRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, configHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runtime_records WHERE config_hash = $1`, configHash)
	if err != nil {
		return fmt.Errorf("deleting runtime record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.RuntimeRecord, error) {
	var record domain.RuntimeRecord
	var configBytes, logsBytes []byte
	var status string
	var lastInvoked sql.NullTime

	err := row.Scan(
		&record.ID, &record.RuntimeType, &record.ConfigHash, &configBytes,
		&status, &logsBytes, &record.CreatedAt, &record.UpdatedAt, &lastInvoked,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning runtime record: %w", err)
	}

	record.Config = json.RawMessage(configBytes)
	record.CreationStatus = domain.CreationStatus(status)
	if lastInvoked.Valid {
		record.LastInvokedAt = lastInvoked.Time
	}
	if len(logsBytes) > 0 {
		if err := json.Unmarshal(logsBytes, &record.CreationLogs); err != nil {
			return nil, fmt.Errorf("decoding creation logs: %w", err)
		}
	}
	return &record, nil
}
