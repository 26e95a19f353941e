package store

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DeleteBalanceSnapshots removes any balance snapshot rows for an epoch
// ahead of a re-import
func (s *Store) DeleteBalanceSnapshots(ctx context.Context, epoch uint32) error {
	err := s.conn.Exec(ctx, `ALTER TABLE balance_snapshots DELETE WHERE epoch = ?`, epoch)
	if err != nil {
		return fmt.Errorf("failed to delete balance snapshots: %w", err)
	}
	return nil
}

// InsertBalanceSnapshots bulk-inserts spectrum records for an epoch
func (s *Store) InsertBalanceSnapshots(ctx context.Context, snapshots []BalanceSnapshot) error {
	return s.sendBatch(ctx, `INSERT INTO balance_snapshots`, len(snapshots), func(batch driver.Batch, i int) error {
		b := snapshots[i]
		return batch.Append(
			b.Epoch, b.Address, b.Balance, b.IncomingAmount, b.OutgoingAmount,
			b.NumIncoming, b.NumOutgoing, b.LatestIncomingTick, b.LatestOutgoingTick,
		)
	})
}

// HasSpectrumImport reports whether a spectrum file is already imported
func (s *Store) HasSpectrumImport(ctx context.Context, epoch uint32) (bool, error) {
	return s.hasImportMarker(ctx, "spectrum_imports", epoch)
}

// InsertSpectrumImport records a completed spectrum import
func (s *Store) InsertSpectrumImport(ctx context.Context, m *ImportMarker) error {
	return s.insertImportMarker(ctx, "spectrum_imports", m)
}

// LatestSpectrumImport returns the most recent spectrum import marker
func (s *Store) LatestSpectrumImport(ctx context.Context) (*ImportMarker, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, tick_number, record_count, file_size, duration_ms, imported_at
		FROM spectrum_imports FINAL
		ORDER BY epoch DESC
		LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest spectrum import: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	var m ImportMarker
	if err := rows.Scan(&m.Epoch, &m.TickNumber, &m.RecordCount, &m.FileSize, &m.DurationMs, &m.ImportedAt); err != nil {
		return nil, fmt.Errorf("failed to scan spectrum import: %w", err)
	}
	return &m, nil
}

// DeleteAssetSnapshots removes any asset snapshot rows for an epoch
// ahead of a re-import
func (s *Store) DeleteAssetSnapshots(ctx context.Context, epoch uint32) error {
	err := s.conn.Exec(ctx, `ALTER TABLE asset_snapshots DELETE WHERE epoch = ?`, epoch)
	if err != nil {
		return fmt.Errorf("failed to delete asset snapshots: %w", err)
	}
	return nil
}

// InsertAssetSnapshots bulk-inserts resolved universe records for an epoch
func (s *Store) InsertAssetSnapshots(ctx context.Context, snapshots []AssetSnapshot) error {
	return s.sendBatch(ctx, `INSERT INTO asset_snapshots`, len(snapshots), func(batch driver.Batch, i int) error {
		a := snapshots[i]
		return batch.Append(
			a.Epoch, a.Issuer, a.AssetName, a.Holder, a.RecordType,
			a.ManagingContractIndex, a.NumberOfShares, a.NumberOfDecimalPlaces,
		)
	})
}

// HasUniverseImport reports whether a universe file is already imported
func (s *Store) HasUniverseImport(ctx context.Context, epoch uint32) (bool, error) {
	return s.hasImportMarker(ctx, "universe_imports", epoch)
}

// InsertUniverseImport records a completed universe import
func (s *Store) InsertUniverseImport(ctx context.Context, m *ImportMarker) error {
	return s.insertImportMarker(ctx, "universe_imports", m)
}

func (s *Store) hasImportMarker(ctx context.Context, table string, epoch uint32) (bool, error) {
	var count uint64
	query := fmt.Sprintf(`SELECT count() FROM %s FINAL WHERE epoch = ?`, table)
	if err := s.conn.QueryRow(ctx, query, epoch).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count import markers: %w", err)
	}
	return count > 0, nil
}

func (s *Store) insertImportMarker(ctx context.Context, table string, m *ImportMarker) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (epoch, tick_number, record_count, file_size, duration_ms, imported_at)
		VALUES (?, ?, ?, ?, ?, ?)`, table)
	err := s.conn.Exec(ctx, query, m.Epoch, m.TickNumber, m.RecordCount, m.FileSize, m.DurationMs, m.ImportedAt)
	if err != nil {
		return fmt.Errorf("failed to insert import marker: %w", err)
	}
	return nil
}
