package store

import (
	"context"
	"fmt"
	"time"
)

// MaxTickEpoch returns the highest epoch observed in the ticks table
func (s *Store) MaxTickEpoch(ctx context.Context) (uint32, error) {
	var epoch uint32
	err := s.conn.QueryRow(ctx, `SELECT max(epoch) FROM ticks`).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("failed to query max tick epoch: %w", err)
	}
	return epoch, nil
}

// FirstTick returns the earliest tick in the store
func (s *Store) FirstTick(ctx context.Context) (*Tick, error) {
	return s.scanTick(ctx, `
		SELECT tick_number, epoch, timestamp, tx_count, log_count
		FROM ticks
		ORDER BY tick_number ASC
		LIMIT 1`)
}

// FirstTickAfter returns the earliest tick strictly greater than tickNumber
func (s *Store) FirstTickAfter(ctx context.Context, tickNumber uint64) (*Tick, error) {
	return s.scanTick(ctx, `
		SELECT tick_number, epoch, timestamp, tx_count, log_count
		FROM ticks
		WHERE tick_number > ?
		ORDER BY tick_number ASC
		LIMIT 1`, tickNumber)
}

// LatestTick returns the most recent tick in the store
func (s *Store) LatestTick(ctx context.Context) (*Tick, error) {
	return s.scanTick(ctx, `
		SELECT tick_number, epoch, timestamp, tx_count, log_count
		FROM ticks
		ORDER BY tick_number DESC
		LIMIT 1`)
}

// LatestTickAtOrBefore returns the latest tick whose timestamp is <= ts
func (s *Store) LatestTickAtOrBefore(ctx context.Context, ts time.Time) (*Tick, error) {
	return s.scanTick(ctx, `
		SELECT tick_number, epoch, timestamp, tx_count, log_count
		FROM ticks
		WHERE timestamp <= ?
		ORDER BY tick_number DESC
		LIMIT 1`, ts)
}

func (s *Store) scanTick(ctx context.Context, query string, args ...any) (*Tick, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tick: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var t Tick
	if err := rows.Scan(&t.TickNumber, &t.Epoch, &t.Timestamp, &t.TxCount, &t.LogCount); err != nil {
		return nil, fmt.Errorf("failed to scan tick: %w", err)
	}
	return &t, nil
}
