package store

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// MaxLogID returns the highest log id recorded for an epoch. The second
// return reports whether the epoch has any logs at all.
func (s *Store) MaxLogID(ctx context.Context, epoch uint32) (uint64, bool, error) {
	var maxID uint64
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT max(log_id), count()
		FROM logs
		WHERE epoch = ?`, epoch).Scan(&maxID, &count)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query max log id: %w", err)
	}
	return maxID, count > 0, nil
}

// InsertLogs bulk-inserts log rows
func (s *Store) InsertLogs(ctx context.Context, logs []Log) error {
	if len(logs) == 0 {
		return nil
	}
	return s.sendBatch(ctx, `INSERT INTO logs`, len(logs), func(batch driver.Batch, i int) error {
		l := logs[i]
		return batch.Append(
			l.Epoch, l.LogID, l.TickNumber, l.LogType, l.TxHash,
			l.Source, l.Dest, l.Amount, l.AssetName, l.RawData, l.Timestamp,
		)
	})
}

// CountEndEpochMarkers counts custom-message logs in [startID, endID]
// whose sub-opcode is END_EPOCH
func (s *Store) CountEndEpochMarkers(ctx context.Context, epoch uint32, startID, endID uint64) (uint64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count()
		FROM logs
		WHERE epoch = ?
		  AND log_id >= ? AND log_id <= ?
		  AND log_type = ?
		  AND JSONExtractString(raw_data, 'customMessage') = ?`,
		epoch, startID, endID, LogTypeCustomMessage, CustomMessageEndEpoch).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count end-epoch markers: %w", err)
	}
	return count, nil
}

// LogsInTick returns all logs of a single tick ordered by log id
func (s *Store) LogsInTick(ctx context.Context, epoch uint32, tickNumber uint64) ([]Log, error) {
	return s.queryLogs(ctx, `
		SELECT epoch, log_id, tick_number, log_type, tx_hash,
		       source, dest, amount, asset_name, raw_data, timestamp
		FROM logs
		WHERE epoch = ? AND tick_number = ?
		ORDER BY log_id ASC`, epoch, tickNumber)
}

// OutboundTransfers returns all QU transfer logs whose source is in
// addresses within the inclusive tick range, ordered strictly by
// (tick_number, log_id). This ordering is load-bearing for flow tracking.
func (s *Store) OutboundTransfers(ctx context.Context, epoch uint32, tickStart, tickEnd uint64, addresses []string) ([]Log, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	return s.queryLogs(ctx, `
		SELECT epoch, log_id, tick_number, log_type, tx_hash,
		       source, dest, amount, asset_name, raw_data, timestamp
		FROM logs
		WHERE epoch = ?
		  AND tick_number >= ? AND tick_number <= ?
		  AND log_type = ?
		  AND source IN (?)
		ORDER BY tick_number ASC, log_id ASC`,
		epoch, tickStart, tickEnd, LogTypeQuTransfer, addresses)
}

// TransfersFrom returns all QU transfer logs from one source address in
// the inclusive tick range, ordered by (tick_number, log_id)
func (s *Store) TransfersFrom(ctx context.Context, epoch uint32, tickStart, tickEnd uint64, source string) ([]Log, error) {
	return s.queryLogs(ctx, `
		SELECT epoch, log_id, tick_number, log_type, tx_hash,
		       source, dest, amount, asset_name, raw_data, timestamp
		FROM logs
		WHERE epoch = ?
		  AND tick_number >= ? AND tick_number <= ?
		  AND log_type = ?
		  AND source = ?
		ORDER BY tick_number ASC, log_id ASC`,
		epoch, tickStart, tickEnd, LogTypeQuTransfer, source)
}

// TransfersTo returns QU transfers arriving at addresses in the
// inclusive tick range, excluding those originating from the burn address
func (s *Store) TransfersTo(ctx context.Context, epoch uint32, tickStart, tickEnd uint64, addresses []string, excludeSource string) ([]Log, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	return s.queryLogs(ctx, `
		SELECT epoch, log_id, tick_number, log_type, tx_hash,
		       source, dest, amount, asset_name, raw_data, timestamp
		FROM logs
		WHERE epoch = ?
		  AND tick_number >= ? AND tick_number <= ?
		  AND log_type = ?
		  AND dest IN (?)
		  AND source != ?
		ORDER BY tick_number ASC, log_id ASC`,
		epoch, tickStart, tickEnd, LogTypeQuTransfer, addresses, excludeSource)
}

// LatestTransfersForAddress returns the most recent QU transfers that
// touch the address as source or destination
func (s *Store) LatestTransfersForAddress(ctx context.Context, address string, limit int) ([]Log, error) {
	return s.queryLogs(ctx, `
		SELECT epoch, log_id, tick_number, log_type, tx_hash,
		       source, dest, amount, asset_name, raw_data, timestamp
		FROM logs
		WHERE log_type = ?
		  AND (source = ? OR dest = ?)
		ORDER BY tick_number DESC, log_id DESC
		LIMIT ?`,
		LogTypeQuTransfer, address, address, limit)
}

func (s *Store) queryLogs(ctx context.Context, query string, args ...any) ([]Log, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(
			&l.Epoch, &l.LogID, &l.TickNumber, &l.LogType, &l.TxHash,
			&l.Source, &l.Dest, &l.Amount, &l.AssetName, &l.RawData, &l.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
