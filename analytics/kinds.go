package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/flowtracker"
	"github.com/withObsrvr/qubic-explorer-core/labels"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

// emitHolderRow computes the holder distribution of one window. When a
// spectrum snapshot exists, balances are snapshot plus transfer delta;
// otherwise they are reconstructed from transfer logs alone, and the
// row is tagged so callers can tell the sources apart.
func (s *Snapshotter) emitHolderRow(ctx context.Context, first, last *store.Tick) error {
	var agg *store.HolderAggregates
	dataSource := store.DataSourceTransferOnly

	imp, err := s.store.LatestSpectrumImport(ctx)
	switch {
	case err == nil:
		agg, err = s.store.HolderAggregatesFromSnapshot(ctx, imp.Epoch, imp.TickNumber, last.TickNumber, s.burnAddress)
		if err != nil {
			return err
		}
		dataSource = store.DataSourceSnapshotDelta
	case errors.Is(err, store.ErrNotFound):
		agg, err = s.store.HolderAggregatesFromTransfers(ctx, last.TickNumber, s.burnAddress)
		if err != nil {
			return err
		}
	default:
		return err
	}

	row := &store.HolderDistributionRow{
		Epoch:        first.Epoch,
		SnapshotAt:   time.Now().UTC(),
		TickStart:    first.TickNumber,
		TickEnd:      last.TickNumber,
		TotalHolders: agg.TotalHolders,
		WhaleCount:   agg.WhaleCount,
		LargeCount:   agg.LargeCount,
		MediumCount:  agg.MediumCount,
		SmallCount:   agg.SmallCount,
		MicroCount:   agg.MicroCount,
		TotalBalance: agg.TotalBalance,
		DataSource:   dataSource,
	}
	if agg.TotalBalance > 0 {
		row.Top10Share = concentration(agg.TopBalances, 10, agg.TotalBalance)
		row.Top50Share = concentration(agg.TopBalances, 50, agg.TotalBalance)
		row.Top100Share = concentration(agg.TopBalances, 100, agg.TotalBalance)
	}

	return s.store.InsertHolderDistribution(ctx, row)
}

// concentration is the share of total balance held by the top n holders
func concentration(topBalances []int64, n int, total int64) float64 {
	if n > len(topBalances) {
		n = len(topBalances)
	}
	var sum int64
	for _, bal := range topBalances[:n] {
		sum += bal
	}
	return float64(sum) / float64(total)
}

// emitNetworkRow computes transaction, transfer and exchange-flow
// statistics of one window
func (s *Snapshotter) emitNetworkRow(ctx context.Context, first, last *store.Tick) error {
	exchanges := s.labels.AddressesByType(labels.KindExchange)
	contracts := s.labels.AddressesByType(labels.KindSmartContract)

	agg, err := s.store.NetworkAggregatesFor(ctx, first.TickNumber, last.TickNumber, exchanges, contracts)
	if err != nil {
		return err
	}

	row := &store.NetworkStatsRow{
		Epoch:           first.Epoch,
		SnapshotAt:      time.Now().UTC(),
		TickStart:       first.TickNumber,
		TickEnd:         last.TickNumber,
		TxCount:         agg.TxCount,
		TransferCount:   agg.TransferCount,
		TransferVolume:  agg.TransferVolume,
		UniqueSenders:   agg.UniqueSenders,
		UniqueReceivers: agg.UniqueReceivers,
		ExchangeInflow:  agg.ExchangeInflow,
		ExchangeOutflow: agg.ExchangeOutflow,
		ExchangeNetFlow: agg.ExchangeInflow - agg.ExchangeOutflow,
		SCCallCount:     agg.SCCallCount,
	}
	return s.store.InsertNetworkStats(ctx, row)
}

// emitBurnRow categorises burn activity of one window and extends the
// running cumulative total
func (s *Snapshotter) emitBurnRow(ctx context.Context, first, last *store.Tick) error {
	agg, err := s.store.BurnAggregatesFor(ctx, first.TickNumber, last.TickNumber, s.burnAddress)
	if err != nil {
		return err
	}
	cumulative, err := s.store.LastCumulativeBurned(ctx)
	if err != nil {
		return err
	}

	windowTotal := agg.BurnTotal + agg.DustBurnTotal + agg.TransferBurnTotal
	row := &store.BurnStatsRow{
		Epoch:             first.Epoch,
		SnapshotAt:        time.Now().UTC(),
		TickStart:         first.TickNumber,
		TickEnd:           last.TickNumber,
		BurnCount:         agg.BurnCount,
		BurnTotal:         agg.BurnTotal,
		DustBurnCount:     agg.DustBurnCount,
		DustBurnTotal:     agg.DustBurnTotal,
		TransferBurnCount: agg.TransferBurnCount,
		TransferBurnTotal: agg.TransferBurnTotal,
		UniqueBurners:     agg.UniqueBurners,
		LargestBurn:       agg.LargestBurn,
		CumulativeBurned:  cumulative + windowTotal,
	}
	return s.store.InsertBurnStats(ctx, row)
}

// emitMinerFlowRow advances the flow tracker over the window. Emissions
// are distributed at the end of the emission epoch (current - 1) and
// spent during the current epoch. During epoch 0, or before emissions
// are captured, the row is written zeroed so the window tiling advances.
func (s *Snapshotter) emitMinerFlowRow(ctx context.Context, first, last *store.Tick) error {
	row := &store.MinerFlowStatsRow{
		CurrentEpoch: last.Epoch,
		SnapshotAt:   time.Now().UTC(),
		TickStart:    first.TickNumber,
		TickEnd:      last.TickNumber,
	}

	if last.Epoch > 0 {
		emissionEpoch := last.Epoch - 1
		row.EmissionEpoch = emissionEpoch

		stats, err := s.flow.ProcessWindow(ctx, flowtracker.Window{
			EmissionEpoch: emissionEpoch,
			CurrentEpoch:  last.Epoch,
			TickStart:     first.TickNumber,
			TickEnd:       last.TickNumber,
		})
		switch {
		case errors.Is(err, flowtracker.ErrEmissionsNotCaptured):
			s.log.Debug().Uint32("emission_epoch", emissionEpoch).Msg("Emissions not captured yet, zero miner-flow row")
		case err != nil:
			return err
		default:
			row.TransfersProcessed = stats.TransfersProcessed
			row.HopsWritten = stats.HopsWritten
			row.ActiveStates = stats.ActiveStates
			row.CompletedStates = stats.CompletedStates
			row.TotalEmission = stats.TotalEmission
			row.TotalToExchanges = stats.TotalToExchanges
			row.TotalToContracts = stats.TotalToContracts
			row.TotalPending = stats.TotalPending
			row.AdditionalInflow = stats.AdditionalInflow
		}
	}

	return s.store.InsertMinerFlowStats(ctx, row)
}
