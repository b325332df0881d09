package frames

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresFramesTableName  = "doorbot_frames"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend keeps the latest frame per user in a single table,
// upserted on every write. Connection setup is deferred to first use so
// constructing the backend never blocks startup on the database.
type PostgresBackend struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresBackend{
		dsn:       dsn,
		tableName: postgresFramesTableName,
		openDB:    sql.Open,
	}, nil
}

func (b *PostgresBackend) SaveFrame(uid string, data []byte, at time.Time) error {
	if uid == "" || len(data) == 0 {
		return ErrInvalidInput
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (uid, frame, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (uid)
		DO UPDATE SET frame = EXCLUDED.frame, updated_at = EXCLUDED.updated_at`,
		postgresQuoteIdentifier(b.tableName))
	_, err := b.db.ExecContext(ctx, query, uid, data, at)
	return err
}

func (b *PostgresBackend) LoadFrames() (map[string][]byte, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT uid, frame FROM %s", postgresQuoteIdentifier(b.tableName))
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	frames := map[string][]byte{}
	for rows.Next() {
		var uid string
		var frame []byte
		if err := rows.Scan(&uid, &frame); err != nil {
			return nil, err
		}
		frames[uid] = frame
	}
	return frames, rows.Err()
}

func (b *PostgresBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		createTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				uid TEXT PRIMARY KEY,
				frame BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`, postgresQuoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, createTable); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
