package store

import (
	"context"
	"fmt"
)

// analyticsTables maps snapshot kinds to their history tables
var analyticsTables = map[string]string{
	SnapshotKindHolder:    "holder_distribution_history",
	SnapshotKindNetwork:   "network_stats_history",
	SnapshotKindBurn:      "burn_stats_history",
	SnapshotKindMinerFlow: "miner_flow_stats",
}

// LastAnalyticsTickEnd returns the max tick_end across snapshot rows of
// a kind, or 0 when no row exists yet
func (s *Store) LastAnalyticsTickEnd(ctx context.Context, kind string) (uint64, error) {
	table, ok := analyticsTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown snapshot kind %q", kind)
	}
	var tickEnd uint64
	query := fmt.Sprintf(`SELECT max(tick_end) FROM %s`, table)
	if err := s.conn.QueryRow(ctx, query).Scan(&tickEnd); err != nil {
		return 0, fmt.Errorf("failed to query last %s tick end: %w", kind, err)
	}
	return tickEnd, nil
}

// HolderAggregates carries the balance-bracket aggregation of one window
type HolderAggregates struct {
	TotalHolders uint64
	WhaleCount   uint64
	LargeCount   uint64
	MediumCount  uint64
	SmallCount   uint64
	MicroCount   uint64
	TotalBalance int64
	TopBalances  []int64 // descending, at most 100
}

// Holder bracket boundaries, in base units (B = 1e9)
const (
	bracketWhale  = int64(100_000_000_000)
	bracketLarge  = int64(20_000_000_000)
	bracketMedium = int64(5_000_000_000)
	bracketSmall  = int64(500_000_000)
)

// snapshot-delta balance set: spectrum snapshot plus transfer deltas
// after the snapshot tick up to the window end
const balancesFromSnapshotDelta = `
	SELECT address, sum(bal) AS bal FROM (
		SELECT address, balance AS bal
		FROM balance_snapshots
		WHERE epoch = ?
		UNION ALL
		SELECT dest AS address, toInt64(sum(amount)) AS bal
		FROM logs
		WHERE log_type = 0 AND tick_number > ? AND tick_number <= ?
		GROUP BY dest
		UNION ALL
		SELECT source AS address, -toInt64(sum(amount)) AS bal
		FROM logs
		WHERE log_type = 0 AND tick_number > ? AND tick_number <= ?
		GROUP BY source
	)
	WHERE address != ?
	GROUP BY address
	HAVING bal > 0`

// transfer-only balance set: net of all transfer logs up to the window end
const balancesFromTransfers = `
	SELECT address, sum(bal) AS bal FROM (
		SELECT dest AS address, toInt64(sum(amount)) AS bal
		FROM logs
		WHERE log_type = 0 AND tick_number <= ?
		GROUP BY dest
		UNION ALL
		SELECT source AS address, -toInt64(sum(amount)) AS bal
		FROM logs
		WHERE log_type = 0 AND tick_number <= ?
		GROUP BY source
	)
	WHERE address != ?
	GROUP BY address
	HAVING bal > 0`

// HolderAggregatesFromSnapshot computes holder brackets from the latest
// spectrum snapshot plus transfer deltas
func (s *Store) HolderAggregatesFromSnapshot(ctx context.Context, snapshotEpoch uint32, snapshotTick, upToTick uint64, burnAddress string) (*HolderAggregates, error) {
	args := []any{snapshotEpoch, snapshotTick, upToTick, snapshotTick, upToTick, burnAddress}
	return s.holderAggregates(ctx, balancesFromSnapshotDelta, args)
}

// HolderAggregatesFromTransfers computes holder brackets from transfer
// logs alone, used before any spectrum snapshot exists
func (s *Store) HolderAggregatesFromTransfers(ctx context.Context, upToTick uint64, burnAddress string) (*HolderAggregates, error) {
	args := []any{upToTick, upToTick, burnAddress}
	return s.holderAggregates(ctx, balancesFromTransfers, args)
}

func (s *Store) holderAggregates(ctx context.Context, balancesQuery string, args []any) (*HolderAggregates, error) {
	var agg HolderAggregates

	bracketQuery := fmt.Sprintf(`
		SELECT count(),
		       countIf(bal >= %d),
		       countIf(bal >= %d AND bal < %d),
		       countIf(bal >= %d AND bal < %d),
		       countIf(bal >= %d AND bal < %d),
		       countIf(bal < %d),
		       toInt64(sum(bal))
		FROM (%s)`,
		bracketWhale,
		bracketLarge, bracketWhale,
		bracketMedium, bracketLarge,
		bracketSmall, bracketMedium,
		bracketSmall,
		balancesQuery)

	err := s.conn.QueryRow(ctx, bracketQuery, args...).Scan(
		&agg.TotalHolders, &agg.WhaleCount, &agg.LargeCount,
		&agg.MediumCount, &agg.SmallCount, &agg.MicroCount, &agg.TotalBalance,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate holder brackets: %w", err)
	}

	topQuery := fmt.Sprintf(`SELECT bal FROM (%s) ORDER BY bal DESC LIMIT 100`, balancesQuery)
	rows, err := s.conn.Query(ctx, topQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bal int64
		if err := rows.Scan(&bal); err != nil {
			return nil, fmt.Errorf("failed to scan top balance: %w", err)
		}
		agg.TopBalances = append(agg.TopBalances, bal)
	}
	return &agg, rows.Err()
}

// InsertHolderDistribution writes one holder-distribution window row
func (s *Store) InsertHolderDistribution(ctx context.Context, r *HolderDistributionRow) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO holder_distribution_history (
			epoch, snapshot_at, tick_start, tick_end, total_holders,
			whale_count, large_count, medium_count, small_count, micro_count,
			total_balance, top10_share, top50_share, top100_share, data_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Epoch, r.SnapshotAt, r.TickStart, r.TickEnd, r.TotalHolders,
		r.WhaleCount, r.LargeCount, r.MediumCount, r.SmallCount, r.MicroCount,
		r.TotalBalance, r.Top10Share, r.Top50Share, r.Top100Share, r.DataSource)
	if err != nil {
		return fmt.Errorf("failed to insert holder distribution: %w", err)
	}
	return nil
}

// BurnAggregates carries the burn aggregation of one window
type BurnAggregates struct {
	BurnCount         uint64
	BurnTotal         int64
	DustBurnCount     uint64
	DustBurnTotal     int64
	TransferBurnCount uint64
	TransferBurnTotal int64
	UniqueBurners     uint64
	LargestBurn       int64
}

// BurnAggregatesFor categorises burn activity in the inclusive tick range
func (s *Store) BurnAggregatesFor(ctx context.Context, tickStart, tickEnd uint64, burnAddress string) (*BurnAggregates, error) {
	var agg BurnAggregates
	err := s.conn.QueryRow(ctx, `
		SELECT
			countIf(log_type = ?),
			toInt64(sumIf(amount, log_type = ?)),
			countIf(log_type = ?),
			toInt64(sumIf(amount, log_type = ?)),
			countIf(log_type = ? AND dest = ?),
			toInt64(sumIf(amount, log_type = ? AND dest = ?)),
			uniqExactIf(source, log_type IN (?, ?) OR (log_type = ? AND dest = ?)),
			toInt64(maxIf(amount, log_type IN (?, ?) OR (log_type = ? AND dest = ?)))
		FROM logs
		WHERE tick_number >= ? AND tick_number <= ?`,
		LogTypeBurn, LogTypeBurn,
		LogTypeDustBurn, LogTypeDustBurn,
		LogTypeQuTransfer, burnAddress, LogTypeQuTransfer, burnAddress,
		LogTypeBurn, LogTypeDustBurn, LogTypeQuTransfer, burnAddress,
		LogTypeBurn, LogTypeDustBurn, LogTypeQuTransfer, burnAddress,
		tickStart, tickEnd).Scan(
		&agg.BurnCount, &agg.BurnTotal,
		&agg.DustBurnCount, &agg.DustBurnTotal,
		&agg.TransferBurnCount, &agg.TransferBurnTotal,
		&agg.UniqueBurners, &agg.LargestBurn,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate burns: %w", err)
	}
	return &agg, nil
}

// LastCumulativeBurned returns the running burn total of the most recent
// burn-stats row, or 0 when none exists. The running total is monotonic,
// so max() over the table is the latest value.
func (s *Store) LastCumulativeBurned(ctx context.Context) (int64, error) {
	var cumulative int64
	err := s.conn.QueryRow(ctx, `
		SELECT max(cumulative_burned) FROM burn_stats_history`).Scan(&cumulative)
	if err != nil {
		return 0, fmt.Errorf("failed to query cumulative burned: %w", err)
	}
	return cumulative, nil
}

// InsertBurnStats writes one burn-stats window row
func (s *Store) InsertBurnStats(ctx context.Context, r *BurnStatsRow) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO burn_stats_history (
			epoch, snapshot_at, tick_start, tick_end,
			burn_count, burn_total, dust_burn_count, dust_burn_total,
			transfer_burn_count, transfer_burn_total, unique_burners,
			largest_burn, cumulative_burned
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Epoch, r.SnapshotAt, r.TickStart, r.TickEnd,
		r.BurnCount, r.BurnTotal, r.DustBurnCount, r.DustBurnTotal,
		r.TransferBurnCount, r.TransferBurnTotal, r.UniqueBurners,
		r.LargestBurn, r.CumulativeBurned)
	if err != nil {
		return fmt.Errorf("failed to insert burn stats: %w", err)
	}
	return nil
}

// NetworkAggregates carries the network aggregation of one window
type NetworkAggregates struct {
	TxCount         uint64
	TransferCount   uint64
	TransferVolume  int64
	UniqueSenders   uint64
	UniqueReceivers uint64
	ExchangeInflow  int64
	ExchangeOutflow int64
	SCCallCount     uint64
}

// NetworkAggregatesFor computes transaction and transfer statistics for
// the inclusive tick range. The exchange and smart-contract address sets
// come from the label registry.
func (s *Store) NetworkAggregatesFor(ctx context.Context, tickStart, tickEnd uint64, exchanges, contracts []string) (*NetworkAggregates, error) {
	var agg NetworkAggregates

	err := s.conn.QueryRow(ctx, `
		SELECT count(), uniqExact(from_address), uniqExact(to_address)
		FROM transactions
		WHERE tick_number >= ? AND tick_number <= ?`,
		tickStart, tickEnd).Scan(&agg.TxCount, &agg.UniqueSenders, &agg.UniqueReceivers)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	err = s.conn.QueryRow(ctx, `
		SELECT countIf(log_type = ?), toInt64(sumIf(amount, log_type = ?))
		FROM logs
		WHERE tick_number >= ? AND tick_number <= ?`,
		LogTypeQuTransfer, LogTypeQuTransfer,
		tickStart, tickEnd).Scan(&agg.TransferCount, &agg.TransferVolume)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transfers: %w", err)
	}

	if len(exchanges) > 0 {
		err = s.conn.QueryRow(ctx, `
			SELECT toInt64(sumIf(amount, dest IN (?))),
			       toInt64(sumIf(amount, source IN (?)))
			FROM logs
			WHERE log_type = ? AND tick_number >= ? AND tick_number <= ?`,
			exchanges, exchanges,
			LogTypeQuTransfer, tickStart, tickEnd).Scan(&agg.ExchangeInflow, &agg.ExchangeOutflow)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate exchange flows: %w", err)
		}
	}

	if len(contracts) > 0 {
		err = s.conn.QueryRow(ctx, `
			SELECT count()
			FROM transactions
			WHERE tick_number >= ? AND tick_number <= ?
			  AND executed = 1
			  AND to_address IN (?)`,
			tickStart, tickEnd, contracts).Scan(&agg.SCCallCount)
		if err != nil {
			return nil, fmt.Errorf("failed to count contract calls: %w", err)
		}
	}

	return &agg, nil
}

// InsertNetworkStats writes one network-stats window row
func (s *Store) InsertNetworkStats(ctx context.Context, r *NetworkStatsRow) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO network_stats_history (
			epoch, snapshot_at, tick_start, tick_end,
			tx_count, transfer_count, transfer_volume,
			unique_senders, unique_receivers,
			exchange_inflow, exchange_outflow, exchange_net_flow,
			sc_call_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Epoch, r.SnapshotAt, r.TickStart, r.TickEnd,
		r.TxCount, r.TransferCount, r.TransferVolume,
		r.UniqueSenders, r.UniqueReceivers,
		r.ExchangeInflow, r.ExchangeOutflow, r.ExchangeNetFlow,
		r.SCCallCount)
	if err != nil {
		return fmt.Errorf("failed to insert network stats: %w", err)
	}
	return nil
}

// InsertMinerFlowStats writes one miner-flow window row
func (s *Store) InsertMinerFlowStats(ctx context.Context, r *MinerFlowStatsRow) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO miner_flow_stats (
			emission_epoch, current_epoch, snapshot_at, tick_start, tick_end,
			transfers_processed, hops_written, active_states, completed_states,
			total_emission, total_to_exchanges, total_to_contracts,
			total_pending, additional_inflow
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.EmissionEpoch, r.CurrentEpoch, r.SnapshotAt, r.TickStart, r.TickEnd,
		r.TransfersProcessed, r.HopsWritten, r.ActiveStates, r.CompletedStates,
		r.TotalEmission, r.TotalToExchanges, r.TotalToContracts,
		r.TotalPending, r.AdditionalInflow)
	if err != nil {
		return fmt.Errorf("failed to insert miner flow stats: %w", err)
	}
	return nil
}
