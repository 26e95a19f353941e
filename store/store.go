// Package store provides the ClickHouse-backed columnar store for the
// explorer core: append-oriented tables, row-parameterised query
// builders and batched inserts.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/withObsrvr/qubic-explorer-core/logging"
)

// InsertBatchSize caps rows per insert statement
const InsertBatchSize = 10000

// ErrNotFound is returned when a single-row lookup matches nothing
var ErrNotFound = errors.New("store: not found")

// Store wraps a ClickHouse connection pool
type Store struct {
	conn driver.Conn
	log  *logging.ComponentLogger
}

// Open connects to ClickHouse using a DSN and verifies the connection
func Open(ctx context.Context, dsn string, log *logging.ComponentLogger) (*Store, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clickhouse dsn: %w", err)
	}
	opts.MaxOpenConns = 10
	opts.MaxIdleConns = 5
	opts.DialTimeout = 10 * time.Second

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &Store{conn: conn, log: log}, nil
}

// EnsureSchema creates all tables that do not exist yet
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.log.Info().Int("tables", len(schemaDDL)).Msg("Schema ensured")
	return nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.conn.Close()
}

// sendBatch appends rows to a prepared batch in chunks of InsertBatchSize.
// appendRow receives the batch and the row index.
func (s *Store) sendBatch(ctx context.Context, insert string, count int, appendRow func(batch driver.Batch, i int) error) error {
	for offset := 0; offset < count; offset += InsertBatchSize {
		end := offset + InsertBatchSize
		if end > count {
			end = count
		}

		batch, err := s.conn.PrepareBatch(ctx, insert)
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		for i := offset; i < end; i++ {
			if err := appendRow(batch, i); err != nil {
				return fmt.Errorf("failed to append row: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
	}
	return nil
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
