// Package analytics slices the tick history into fixed wall-clock
// windows and emits immutable snapshot rows per window: holder
// distribution, network stats, burn stats and miner-flow stats.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/flowtracker"
	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/metrics"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

const (
	snapshotPeriod = 5 * time.Minute
	windowWidth    = 4 * time.Hour
)

// snapshotKinds in emission order per cycle
var snapshotKinds = []string{
	store.SnapshotKindHolder,
	store.SnapshotKindNetwork,
	store.SnapshotKindBurn,
	store.SnapshotKindMinerFlow,
}

// Store is the slice of the columnar store the snapshotter needs
type Store interface {
	LastAnalyticsTickEnd(ctx context.Context, kind string) (uint64, error)
	FirstTick(ctx context.Context) (*store.Tick, error)
	FirstTickAfter(ctx context.Context, tickNumber uint64) (*store.Tick, error)
	LatestTick(ctx context.Context) (*store.Tick, error)
	LatestTickAtOrBefore(ctx context.Context, ts time.Time) (*store.Tick, error)

	LatestSpectrumImport(ctx context.Context) (*store.ImportMarker, error)
	HolderAggregatesFromSnapshot(ctx context.Context, snapshotEpoch uint32, snapshotTick, upToTick uint64, burnAddress string) (*store.HolderAggregates, error)
	HolderAggregatesFromTransfers(ctx context.Context, upToTick uint64, burnAddress string) (*store.HolderAggregates, error)
	InsertHolderDistribution(ctx context.Context, r *store.HolderDistributionRow) error

	NetworkAggregatesFor(ctx context.Context, tickStart, tickEnd uint64, exchanges, contracts []string) (*store.NetworkAggregates, error)
	InsertNetworkStats(ctx context.Context, r *store.NetworkStatsRow) error

	BurnAggregatesFor(ctx context.Context, tickStart, tickEnd uint64, burnAddress string) (*store.BurnAggregates, error)
	LastCumulativeBurned(ctx context.Context) (int64, error)
	InsertBurnStats(ctx context.Context, r *store.BurnStatsRow) error

	InsertMinerFlowStats(ctx context.Context, r *store.MinerFlowStatsRow) error
}

// FlowProcessor advances the continuous flow tracker over a window
type FlowProcessor interface {
	ProcessWindow(ctx context.Context, w flowtracker.Window) (*flowtracker.WindowStats, error)
}

// Labels is the slice of the label registry the snapshotter needs
type Labels interface {
	AddressesByType(kind string) []string
}

// Snapshotter emits analytics rows per 4-hour wall-clock window
type Snapshotter struct {
	store       Store
	flow        FlowProcessor
	labels      Labels
	log         *logging.ComponentLogger
	burnAddress string
}

// New creates an analytics snapshotter
func New(st Store, flow FlowProcessor, lab Labels, burnAddress string, log *logging.ComponentLogger) *Snapshotter {
	return &Snapshotter{
		store:       st,
		flow:        flow,
		labels:      lab,
		log:         log,
		burnAddress: burnAddress,
	}
}

// Run emits snapshot rows every five minutes, starting with a catch-up
// pass that drains every backlogged window
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(snapshotPeriod)
	defer ticker.Stop()

	for {
		start := time.Now()
		err := s.cycle(ctx)
		s.log.LogWorkerCycle("analytics-snapshotter", time.Since(start), err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle emits rows for every kind until no new full window fits
func (s *Snapshotter) cycle(ctx context.Context) error {
	for _, kind := range snapshotKinds {
		for {
			emitted, err := s.emitNext(ctx, kind)
			if err != nil {
				return fmt.Errorf("failed to emit %s snapshot: %w", kind, err)
			}
			if !emitted {
				break
			}
			metrics.SnapshotRowsEmitted.WithLabelValues(kind).Inc()
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// nextWindow computes the next 4-hour window of a kind. Windows tile
// contiguously: each next window begins at the tick immediately
// following the previous tick_end.
func (s *Snapshotter) nextWindow(ctx context.Context, kind string) (tickStart, tickEnd *store.Tick, err error) {
	lastEnd, err := s.store.LastAnalyticsTickEnd(ctx, kind)
	if err != nil {
		return nil, nil, err
	}

	var first *store.Tick
	if lastEnd == 0 {
		first, err = s.store.FirstTick(ctx)
	} else {
		first, err = s.store.FirstTickAfter(ctx, lastEnd)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	windowEnd := first.Timestamp.Add(windowWidth)

	latest, err := s.store.LatestTick(ctx)
	if err != nil {
		return nil, nil, err
	}
	if latest.Timestamp.Before(windowEnd) {
		// Not enough data for a full window yet
		return nil, nil, nil
	}

	last, err := s.store.LatestTickAtOrBefore(ctx, windowEnd)
	if err != nil {
		return nil, nil, err
	}
	if last.TickNumber <= first.TickNumber {
		return nil, nil, nil
	}

	return first, last, nil
}

// emitNext tries to emit one more row of a kind; false means no new
// full window fits yet
func (s *Snapshotter) emitNext(ctx context.Context, kind string) (bool, error) {
	first, last, err := s.nextWindow(ctx, kind)
	if err != nil || first == nil {
		return false, err
	}

	switch kind {
	case store.SnapshotKindHolder:
		err = s.emitHolderRow(ctx, first, last)
	case store.SnapshotKindNetwork:
		err = s.emitNetworkRow(ctx, first, last)
	case store.SnapshotKindBurn:
		err = s.emitBurnRow(ctx, first, last)
	case store.SnapshotKindMinerFlow:
		err = s.emitMinerFlowRow(ctx, first, last)
	default:
		err = fmt.Errorf("unknown snapshot kind %q", kind)
	}
	if err != nil {
		return false, err
	}

	s.log.Debug().
		Str("kind", kind).
		Uint64("tick_start", first.TickNumber).
		Uint64("tick_end", last.TickNumber).
		Msg("Snapshot row emitted")
	return true, nil
}
