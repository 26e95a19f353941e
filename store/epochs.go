package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// GetEpochMeta returns the epoch_meta row for an epoch
func (s *Store) GetEpochMeta(ctx context.Context, epoch uint32) (*EpochMeta, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, initial_tick, end_tick, end_tick_start_log_id,
		       end_tick_end_log_id, is_complete, stats_computed,
		       tx_count, transfer_volume, burn_total, active_addresses,
		       reward_per_share
		FROM epoch_meta FINAL
		WHERE epoch = ?`, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to query epoch meta: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var m EpochMeta
	var isComplete, statsComputed uint8
	if err := rows.Scan(
		&m.Epoch, &m.InitialTick, &m.EndTick, &m.EndTickStartLogID,
		&m.EndTickEndLogID, &isComplete, &statsComputed,
		&m.TxCount, &m.TransferVolume, &m.BurnTotal, &m.ActiveAddresses,
		&m.RewardPerShare,
	); err != nil {
		return nil, fmt.Errorf("failed to scan epoch meta: %w", err)
	}
	m.IsComplete = isComplete != 0
	m.StatsComputed = statsComputed != 0
	return &m, nil
}

// UpsertEpochMeta writes an epoch_meta row; the ReplacingMergeTree keeps
// the latest version per epoch
func (s *Store) UpsertEpochMeta(ctx context.Context, m *EpochMeta) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO epoch_meta (
			epoch, initial_tick, end_tick, end_tick_start_log_id,
			end_tick_end_log_id, is_complete, stats_computed,
			tx_count, transfer_volume, burn_total, active_addresses,
			reward_per_share, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Epoch, m.InitialTick, m.EndTick, m.EndTickStartLogID,
		m.EndTickEndLogID, b2u8(m.IsComplete), b2u8(m.StatsComputed),
		m.TxCount, m.TransferVolume, m.BurnTotal, m.ActiveAddresses,
		m.RewardPerShare, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert epoch meta: %w", err)
	}
	return nil
}

// LastCompletedEpochs returns the most recent complete epochs, newest first
func (s *Store) LastCompletedEpochs(ctx context.Context, limit int) ([]EpochMeta, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, initial_tick, end_tick, end_tick_start_log_id,
		       end_tick_end_log_id, is_complete, stats_computed,
		       tx_count, transfer_volume, burn_total, active_addresses,
		       reward_per_share
		FROM epoch_meta FINAL
		WHERE is_complete = 1
		ORDER BY epoch DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed epochs: %w", err)
	}
	defer rows.Close()

	var metas []EpochMeta
	for rows.Next() {
		var m EpochMeta
		var isComplete, statsComputed uint8
		if err := rows.Scan(
			&m.Epoch, &m.InitialTick, &m.EndTick, &m.EndTickStartLogID,
			&m.EndTickEndLogID, &isComplete, &statsComputed,
			&m.TxCount, &m.TransferVolume, &m.BurnTotal, &m.ActiveAddresses,
			&m.RewardPerShare,
		); err != nil {
			return nil, fmt.Errorf("failed to scan epoch meta: %w", err)
		}
		m.IsComplete = isComplete != 0
		m.StatsComputed = statsComputed != 0
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// EpochAggregates computes the final statistics for a completed epoch
// from the transactions and logs tables
func (s *Store) EpochAggregates(ctx context.Context, epoch uint32, burnAddress string) (txCount, transferVolume, burnTotal, activeAddresses uint64, err error) {
	err = s.conn.QueryRow(ctx, `
		SELECT count()
		FROM transactions
		WHERE epoch = ?`, epoch).Scan(&txCount)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	err = s.conn.QueryRow(ctx, `
		SELECT
			toUInt64(sumIf(amount, log_type = ?)),
			toUInt64(sumIf(amount, log_type IN (?, ?) OR (log_type = ? AND dest = ?))),
			uniqExact(source) + uniqExact(dest)
		FROM logs
		WHERE epoch = ?`,
		LogTypeQuTransfer,
		LogTypeBurn, LogTypeDustBurn, LogTypeQuTransfer, burnAddress,
		epoch).Scan(&transferVolume, &burnTotal, &activeAddresses)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("failed to aggregate logs: %w", err)
	}
	return txCount, transferVolume, burnTotal, activeAddresses, nil
}

// HasComputors reports whether an epoch's computor list is imported
func (s *Store) HasComputors(ctx context.Context, epoch uint32) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM computors FINAL WHERE epoch = ?`, epoch).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count computors: %w", err)
	}
	return count >= NumberOfComputors, nil
}

// InsertComputors persists an epoch's ordered computor list
func (s *Store) InsertComputors(ctx context.Context, epoch uint32, addresses []string) error {
	return s.sendBatch(ctx, `INSERT INTO computors`, len(addresses), func(batch driver.Batch, i int) error {
		return batch.Append(epoch, uint16(i), addresses[i])
	})
}

// ComputorAddresses returns an epoch's computor list in index order
func (s *Store) ComputorAddresses(ctx context.Context, epoch uint32) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT address FROM computors FINAL
		WHERE epoch = ?
		ORDER BY idx ASC`, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to query computors: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan computor: %w", err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

// EmissionReceipts aggregates, per computor, the amount received from
// the burn address in the epoch's end tick
func (s *Store) EmissionReceipts(ctx context.Context, epoch uint32, endTick uint64, burnAddress string, computors []string) ([]ComputorEmission, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT dest, sum(amount), max(timestamp)
		FROM logs
		WHERE epoch = ?
		  AND log_type = ?
		  AND tick_number = ?
		  AND source = ?
		  AND dest IN (?)
		GROUP BY dest`,
		epoch, LogTypeQuTransfer, endTick, burnAddress, computors)
	if err != nil {
		return nil, fmt.Errorf("failed to query emission receipts: %w", err)
	}
	defer rows.Close()

	var receipts []ComputorEmission
	for rows.Next() {
		r := ComputorEmission{Epoch: epoch, EmissionTick: endTick}
		if err := rows.Scan(&r.Address, &r.Amount, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan emission receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// InsertComputorEmissions persists emission rows for an epoch
func (s *Store) InsertComputorEmissions(ctx context.Context, emissions []ComputorEmission) error {
	return s.sendBatch(ctx, `INSERT INTO computor_emissions`, len(emissions), func(batch driver.Batch, i int) error {
		e := emissions[i]
		return batch.Append(e.Epoch, e.Address, e.Amount, e.EmissionTick, e.Timestamp)
	})
}

// ComputorEmissions returns the captured emission rows for an epoch
func (s *Store) ComputorEmissions(ctx context.Context, epoch uint32) ([]ComputorEmission, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, address, amount, emission_tick, timestamp
		FROM computor_emissions FINAL
		WHERE epoch = ?
		ORDER BY address ASC`, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to query computor emissions: %w", err)
	}
	defer rows.Close()

	var emissions []ComputorEmission
	for rows.Next() {
		var e ComputorEmission
		if err := rows.Scan(&e.Epoch, &e.Address, &e.Amount, &e.EmissionTick, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan computor emission: %w", err)
		}
		emissions = append(emissions, e)
	}
	return emissions, rows.Err()
}

// HasEmissionImport reports whether emission capture already ran for an epoch
func (s *Store) HasEmissionImport(ctx context.Context, epoch uint32) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM emission_imports FINAL WHERE epoch = ?`, epoch).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count emission imports: %w", err)
	}
	return count > 0, nil
}

// InsertEmissionImport writes the per-epoch emission summary row
func (s *Store) InsertEmissionImport(ctx context.Context, imp *EmissionImport) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO emission_imports (epoch, computor_count, total_emission, emission_tick, imported_at)
		VALUES (?, ?, ?, ?, ?)`,
		imp.Epoch, imp.ComputorCount, imp.TotalEmission, imp.EmissionTick, imp.ImportedAt)
	if err != nil {
		return fmt.Errorf("failed to insert emission import: %w", err)
	}
	return nil
}

// EmissionImportFor returns the emission summary row for an epoch
func (s *Store) EmissionImportFor(ctx context.Context, epoch uint32) (*EmissionImport, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, computor_count, total_emission, emission_tick, imported_at
		FROM emission_imports FINAL
		WHERE epoch = ?`, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to query emission import: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	var imp EmissionImport
	if err := rows.Scan(&imp.Epoch, &imp.ComputorCount, &imp.TotalEmission, &imp.EmissionTick, &imp.ImportedAt); err != nil {
		return nil, fmt.Errorf("failed to scan emission import: %w", err)
	}
	return &imp, nil
}
