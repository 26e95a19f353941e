package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/qubic-explorer-core/flowtracker"
	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

// fakeStore implements the snapshotter's Store interface over an
// in-memory tick series
type fakeStore struct {
	ticks []store.Tick

	holderRows    []store.HolderDistributionRow
	networkRows   []store.NetworkStatsRow
	burnRows      []store.BurnStatsRow
	minerFlowRows []store.MinerFlowStatsRow
}

func (f *fakeStore) LastAnalyticsTickEnd(_ context.Context, kind string) (uint64, error) {
	var last uint64
	switch kind {
	case store.SnapshotKindHolder:
		for _, r := range f.holderRows {
			if r.TickEnd > last {
				last = r.TickEnd
			}
		}
	case store.SnapshotKindNetwork:
		for _, r := range f.networkRows {
			if r.TickEnd > last {
				last = r.TickEnd
			}
		}
	case store.SnapshotKindBurn:
		for _, r := range f.burnRows {
			if r.TickEnd > last {
				last = r.TickEnd
			}
		}
	case store.SnapshotKindMinerFlow:
		for _, r := range f.minerFlowRows {
			if r.TickEnd > last {
				last = r.TickEnd
			}
		}
	}
	return last, nil
}

func (f *fakeStore) FirstTick(_ context.Context) (*store.Tick, error) {
	if len(f.ticks) == 0 {
		return nil, store.ErrNotFound
	}
	t := f.ticks[0]
	return &t, nil
}

func (f *fakeStore) FirstTickAfter(_ context.Context, tickNumber uint64) (*store.Tick, error) {
	for _, t := range f.ticks {
		if t.TickNumber > tickNumber {
			tick := t
			return &tick, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) LatestTick(_ context.Context) (*store.Tick, error) {
	if len(f.ticks) == 0 {
		return nil, store.ErrNotFound
	}
	t := f.ticks[len(f.ticks)-1]
	return &t, nil
}

func (f *fakeStore) LatestTickAtOrBefore(_ context.Context, ts time.Time) (*store.Tick, error) {
	for i := len(f.ticks) - 1; i >= 0; i-- {
		if !f.ticks[i].Timestamp.After(ts) {
			t := f.ticks[i]
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) LatestSpectrumImport(context.Context) (*store.ImportMarker, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) HolderAggregatesFromSnapshot(context.Context, uint32, uint64, uint64, string) (*store.HolderAggregates, error) {
	return &store.HolderAggregates{}, nil
}

func (f *fakeStore) HolderAggregatesFromTransfers(context.Context, uint64, string) (*store.HolderAggregates, error) {
	return &store.HolderAggregates{
		TotalHolders: 3,
		MicroCount:   3,
		TotalBalance: 600,
		TopBalances:  []int64{300, 200, 100},
	}, nil
}

func (f *fakeStore) InsertHolderDistribution(_ context.Context, r *store.HolderDistributionRow) error {
	f.holderRows = append(f.holderRows, *r)
	return nil
}

func (f *fakeStore) NetworkAggregatesFor(context.Context, uint64, uint64, []string, []string) (*store.NetworkAggregates, error) {
	return &store.NetworkAggregates{TxCount: 10}, nil
}

func (f *fakeStore) InsertNetworkStats(_ context.Context, r *store.NetworkStatsRow) error {
	f.networkRows = append(f.networkRows, *r)
	return nil
}

func (f *fakeStore) BurnAggregatesFor(context.Context, uint64, uint64, string) (*store.BurnAggregates, error) {
	return &store.BurnAggregates{BurnCount: 1, BurnTotal: 50}, nil
}

func (f *fakeStore) LastCumulativeBurned(_ context.Context) (int64, error) {
	var last int64
	for _, r := range f.burnRows {
		if r.CumulativeBurned > last {
			last = r.CumulativeBurned
		}
	}
	return last, nil
}

func (f *fakeStore) InsertBurnStats(_ context.Context, r *store.BurnStatsRow) error {
	f.burnRows = append(f.burnRows, *r)
	return nil
}

func (f *fakeStore) InsertMinerFlowStats(_ context.Context, r *store.MinerFlowStatsRow) error {
	f.minerFlowRows = append(f.minerFlowRows, *r)
	return nil
}

// fakeFlow records the windows it was asked to process
type fakeFlow struct {
	windows []flowtracker.Window
}

func (f *fakeFlow) ProcessWindow(_ context.Context, w flowtracker.Window) (*flowtracker.WindowStats, error) {
	f.windows = append(f.windows, w)
	return &flowtracker.WindowStats{TransfersProcessed: 7, TotalEmission: 1000}, nil
}

type fakeLabels struct{}

func (fakeLabels) AddressesByType(string) []string { return nil }

// minuteTicks builds one tick per minute for the given count, all in
// epoch `epoch`, starting at tick number base
func minuteTicks(base uint64, epoch uint32, count int) []store.Tick {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ticks := make([]store.Tick, count)
	for i := range ticks {
		ticks[i] = store.Tick{
			TickNumber: base + uint64(i),
			Epoch:      epoch,
			Timestamp:  start.Add(time.Duration(i) * time.Minute),
		}
	}
	return ticks
}

func newTestSnapshotter(st *fakeStore, flow *fakeFlow) *Snapshotter {
	return New(st, flow, fakeLabels{}, "BURN", logging.NewComponentLogger("analytics-test", "test"))
}

// Catch-up: a 20-hour backlog yields exactly five consecutive windows
// per kind; the sixth attempt finds no full window.
func TestCatchUpEmitsFiveWindows(t *testing.T) {
	ctx := context.Background()

	// Each window spans 4 h plus one tick interval of drift, so five
	// full windows need slightly more than 20 h of ticks
	st := &fakeStore{ticks: minuteTicks(50_000, 1, 1206)}
	flow := &fakeFlow{}
	snap := newTestSnapshotter(st, flow)

	require.NoError(t, snap.cycle(ctx))

	assert.Len(t, st.holderRows, 5)
	assert.Len(t, st.networkRows, 5)
	assert.Len(t, st.burnRows, 5)
	assert.Len(t, st.minerFlowRows, 5)

	// Sixth attempt: not enough data
	emitted, err := snap.emitNext(ctx, store.SnapshotKindHolder)
	require.NoError(t, err)
	assert.False(t, emitted)
}

// Snapshot tiling: each next window begins at the smallest tick number
// strictly greater than the previous tick_end
func TestWindowTiling(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{ticks: minuteTicks(50_000, 1, 1206)}
	snap := newTestSnapshotter(st, &fakeFlow{})

	require.NoError(t, snap.cycle(ctx))

	rows := st.burnRows
	require.Len(t, rows, 5)
	for i := 1; i < len(rows); i++ {
		next, err := st.FirstTickAfter(ctx, rows[i-1].TickEnd)
		require.NoError(t, err)
		assert.Equal(t, next.TickNumber, rows[i].TickStart)
		assert.Greater(t, rows[i].TickEnd, rows[i].TickStart)
	}

	// Window width: at least 4h minus epsilon, at most 4h plus one
	// tick interval
	byNumber := make(map[uint64]store.Tick)
	for _, tick := range st.ticks {
		byNumber[tick.TickNumber] = tick
	}
	for _, r := range rows {
		width := byNumber[r.TickEnd].Timestamp.Sub(byNumber[r.TickStart].Timestamp)
		assert.GreaterOrEqual(t, width, 4*time.Hour-time.Minute)
		assert.LessOrEqual(t, width, 4*time.Hour+time.Minute)
	}
}

// Burn rows extend a running cumulative total
func TestBurnCumulative(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{ticks: minuteTicks(50_000, 1, 1206)}
	snap := newTestSnapshotter(st, &fakeFlow{})

	require.NoError(t, snap.cycle(ctx))

	require.Len(t, st.burnRows, 5)
	for i, r := range st.burnRows {
		assert.Equal(t, int64(50*(i+1)), r.CumulativeBurned)
	}
}

// Miner-flow windows feed the flow tracker with emission epoch
// current-1, and epoch 0 windows are zeroed instead of processed
func TestMinerFlowWindowWiring(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{ticks: minuteTicks(50_000, 5, 1206)}
	flow := &fakeFlow{}
	snap := newTestSnapshotter(st, flow)

	require.NoError(t, snap.cycle(ctx))

	require.Len(t, flow.windows, 5)
	for i, w := range flow.windows {
		assert.Equal(t, uint32(4), w.EmissionEpoch)
		assert.Equal(t, uint32(5), w.CurrentEpoch)
		assert.Equal(t, st.minerFlowRows[i].TickStart, w.TickStart)
		assert.Equal(t, st.minerFlowRows[i].TickEnd, w.TickEnd)
	}

	// Epoch 0: the step is skipped but the zeroed row still advances
	// the tiling
	st0 := &fakeStore{ticks: minuteTicks(100, 0, 300)}
	flow0 := &fakeFlow{}
	snap0 := newTestSnapshotter(st0, flow0)
	require.NoError(t, snap0.cycle(ctx))
	assert.Empty(t, flow0.windows)
	require.Len(t, st0.minerFlowRows, 1)
	assert.Equal(t, uint64(0), st0.minerFlowRows[0].TransfersProcessed)
}