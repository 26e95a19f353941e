package flowtracker

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/qubic-explorer-core/labels"
	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

const (
	testEmissionEpoch = uint32(100)
	testCurrentEpoch  = uint32(101)

	exchangeX  = "EXCHANGEX"
	exchangeY  = "EXCHANGEY"
	contractQ  = "MULTICASTQ"
	burnAddr   = "BURNADDRESS"
	computor1  = "COMPUTOR1"
	computor2  = "COMPUTOR2"
	middlemanI = "INTERMEDIARYI"
)

// fakeStore implements the tracker's Store interface in memory
type fakeStore struct {
	states    map[stateKey]store.FlowState
	hops      []store.FlowHop
	emissions []store.ComputorEmission
	computors []string
	imports   map[uint32]*store.EmissionImport
	logs      []store.Log
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:  make(map[stateKey]store.FlowState),
		imports: make(map[uint32]*store.EmissionImport),
	}
}

func (f *fakeStore) FlowStates(_ context.Context, _ uint32) ([]store.FlowState, error) {
	var states []store.FlowState
	for _, st := range f.states {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].Address != states[j].Address {
			return states[i].Address < states[j].Address
		}
		return states[i].Origin < states[j].Origin
	})
	return states, nil
}

func (f *fakeStore) UpsertFlowStates(_ context.Context, states []store.FlowState) error {
	for _, st := range states {
		f.states[stateKey{st.Address, st.Origin}] = st
	}
	return nil
}

func (f *fakeStore) InsertFlowHops(_ context.Context, hops []store.FlowHop) error {
	f.hops = append(f.hops, hops...)
	return nil
}

func (f *fakeStore) ComputorEmissions(_ context.Context, _ uint32) ([]store.ComputorEmission, error) {
	return f.emissions, nil
}

func (f *fakeStore) ComputorAddresses(_ context.Context, _ uint32) ([]string, error) {
	return f.computors, nil
}

func (f *fakeStore) EmissionImportFor(_ context.Context, epoch uint32) (*store.EmissionImport, error) {
	imp, ok := f.imports[epoch]
	if !ok {
		return nil, store.ErrNotFound
	}
	return imp, nil
}

func (f *fakeStore) OutboundTransfers(_ context.Context, _ uint32, tickStart, tickEnd uint64, addresses []string) ([]store.Log, error) {
	inSet := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		inSet[a] = true
	}
	var transfers []store.Log
	for _, l := range f.logs {
		if l.LogType == store.LogTypeQuTransfer &&
			l.TickNumber >= tickStart && l.TickNumber <= tickEnd && inSet[l.Source] {
			transfers = append(transfers, l)
		}
	}
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].TickNumber != transfers[j].TickNumber {
			return transfers[i].TickNumber < transfers[j].TickNumber
		}
		return transfers[i].LogID < transfers[j].LogID
	})
	return transfers, nil
}

func (f *fakeStore) TransfersFrom(_ context.Context, _ uint32, tickStart, tickEnd uint64, source string) ([]store.Log, error) {
	var transfers []store.Log
	for _, l := range f.logs {
		if l.LogType == store.LogTypeQuTransfer &&
			l.TickNumber >= tickStart && l.TickNumber <= tickEnd && l.Source == source {
			transfers = append(transfers, l)
		}
	}
	return transfers, nil
}

func (f *fakeStore) TransfersTo(_ context.Context, _ uint32, tickStart, tickEnd uint64, addresses []string, excludeSource string) ([]store.Log, error) {
	inSet := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		inSet[a] = true
	}
	var transfers []store.Log
	for _, l := range f.logs {
		if l.LogType == store.LogTypeQuTransfer &&
			l.TickNumber >= tickStart && l.TickNumber <= tickEnd &&
			inSet[l.Dest] && l.Source != excludeSource {
			transfers = append(transfers, l)
		}
	}
	return transfers, nil
}

func (f *fakeStore) FlowHopsByEpoch(_ context.Context, _ uint32) ([]store.FlowHop, error) {
	return f.hops, nil
}

// fakeLabels implements the tracker's Labels interface
type fakeLabels struct {
	metas map[string]labels.Meta
}

func newFakeLabels() *fakeLabels {
	return &fakeLabels{metas: map[string]labels.Meta{
		exchangeX: {Address: exchangeX, Label: "Exchange X", Kind: labels.KindExchange},
		exchangeY: {Address: exchangeY, Label: "Exchange Y", Kind: labels.KindExchange},
		contractQ: {Address: contractQ, Label: "Multicast", Kind: labels.KindSmartContract},
	}}
}

func (f *fakeLabels) Lookup(address string) (labels.Meta, bool) {
	meta, ok := f.metas[address]
	return meta, ok
}

func (f *fakeLabels) ByType(kind string) []labels.Meta {
	var metas []labels.Meta
	for _, m := range f.metas {
		if m.Kind == kind {
			metas = append(metas, m)
		}
	}
	return metas
}

func (f *fakeLabels) AddressesByType(kind string) []string {
	var addresses []string
	for _, m := range f.metas {
		if m.Kind == kind {
			addresses = append(addresses, m.Address)
		}
	}
	sort.Strings(addresses)
	return addresses
}

func newTestTracker(st *fakeStore) *Tracker {
	return New(st, newFakeLabels(), contractQ, burnAddr, logging.NewComponentLogger("flow-test", "test"))
}

func transfer(tick, logID uint64, source, dest string, amount int64) store.Log {
	return store.Log{
		Epoch: testCurrentEpoch, LogID: logID, TickNumber: tick,
		LogType: store.LogTypeQuTransfer,
		Source:  source, Dest: dest, Amount: amount,
	}
}

func window(tickStart, tickEnd uint64) Window {
	return Window{
		EmissionEpoch: testEmissionEpoch,
		CurrentEpoch:  testCurrentEpoch,
		TickStart:     tickStart,
		TickEnd:       tickEnd,
	}
}

// Trivial flow: a computor sends part of its emission straight to an
// exchange; one hop row, the remainder stays pending.
func TestFlowTrivial(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.emissions = []store.ComputorEmission{{Epoch: testEmissionEpoch, Address: computor1, Amount: 1000}}
	st.computors = []string{computor1}
	st.logs = []store.Log{transfer(50_001, 1, computor1, exchangeX, 600)}

	tracker := newTestTracker(st)
	stats, err := tracker.ProcessWindow(ctx, window(50_001, 50_100))
	require.NoError(t, err)

	require.Len(t, st.hops, 1)
	hop := st.hops[0]
	assert.Equal(t, computor1, hop.Origin)
	assert.Equal(t, computor1, hop.Source)
	assert.Equal(t, exchangeX, hop.Dest)
	assert.Equal(t, int64(600), hop.Amount)
	assert.Equal(t, uint8(1), hop.HopLevel)
	assert.Equal(t, store.FlowAddressExchange, hop.DestType)

	src := st.states[stateKey{computor1, computor1}]
	assert.Equal(t, int64(400), src.Pending)
	assert.Equal(t, int64(600), src.Sent)
	assert.False(t, src.IsComplete)

	dst := st.states[stateKey{exchangeX, computor1}]
	assert.True(t, dst.IsTerminal)
	assert.True(t, dst.IsComplete)
	assert.Equal(t, int64(600), dst.Received)
	assert.Equal(t, int64(0), dst.Pending)

	assert.Equal(t, int64(600), stats.TotalToExchanges)
	assert.Equal(t, uint64(1), stats.HopsWritten)
}

// Multi-origin attribution: two computors fund an intermediary; its
// outbound spend is attributed in proportion of each origin's pending.
func TestMultiOriginAttribution(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.emissions = []store.ComputorEmission{
		{Epoch: testEmissionEpoch, Address: computor1, Amount: 300},
		{Epoch: testEmissionEpoch, Address: computor2, Amount: 700},
	}
	st.computors = []string{computor1, computor2}
	st.logs = []store.Log{
		transfer(100, 1, computor1, middlemanI, 300),
		transfer(101, 2, computor2, middlemanI, 700),
		transfer(102, 3, middlemanI, exchangeX, 500),
	}

	tracker := newTestTracker(st)
	_, err := tracker.ProcessWindow(ctx, window(100, 200))
	require.NoError(t, err)

	// Level-2 hops out of the intermediary
	var level2 []store.FlowHop
	for _, h := range st.hops {
		if h.Source == middlemanI {
			level2 = append(level2, h)
		}
	}
	require.Len(t, level2, 2)
	sort.Slice(level2, func(i, j int) bool { return level2[i].Origin < level2[j].Origin })

	assert.Equal(t, computor1, level2[0].Origin)
	assert.Equal(t, int64(150), level2[0].Amount) // 500 * 300/1000
	assert.Equal(t, uint8(2), level2[0].HopLevel)

	assert.Equal(t, computor2, level2[1].Origin)
	assert.Equal(t, int64(350), level2[1].Amount) // 500 * 700/1000

	assert.Equal(t, int64(150), st.states[stateKey{middlemanI, computor1}].Pending)
	assert.Equal(t, int64(350), st.states[stateKey{middlemanI, computor2}].Pending)
}

// Multicast pass-through: the contract's outputs in the call tick are
// attributed to the original sender, Q never appears, and the sender is
// debited by the full inbound amount.
func TestMulticastPassThrough(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.emissions = []store.ComputorEmission{{Epoch: testEmissionEpoch, Address: computor1, Amount: 1000}}
	st.computors = []string{computor1}
	st.logs = []store.Log{
		transfer(150, 1, computor1, middlemanI, 1000),
		transfer(200, 2, middlemanI, contractQ, 400),
		transfer(200, 3, contractQ, exchangeX, 240),
		transfer(200, 4, contractQ, exchangeY, 160),
	}

	tracker := newTestTracker(st)
	_, err := tracker.ProcessWindow(ctx, window(100, 300))
	require.NoError(t, err)

	// No hop row may reference the pass-through contract
	for _, h := range st.hops {
		assert.NotEqual(t, contractQ, h.Source)
		assert.NotEqual(t, contractQ, h.Dest)
	}

	var toX, toY *store.FlowHop
	for i := range st.hops {
		h := &st.hops[i]
		if h.Source == middlemanI && h.Dest == exchangeX {
			toX = h
		}
		if h.Source == middlemanI && h.Dest == exchangeY {
			toY = h
		}
	}
	require.NotNil(t, toX)
	require.NotNil(t, toY)
	assert.Equal(t, int64(240), toX.Amount)
	assert.Equal(t, int64(160), toY.Amount)
	assert.Equal(t, computor1, toX.Origin)

	// Source debited by the inbound 400
	mid := st.states[stateKey{middlemanI, computor1}]
	assert.Equal(t, int64(600), mid.Pending)
	assert.Equal(t, int64(400), mid.Sent)

	// No state was created for Q
	_, ok := st.states[stateKey{contractQ, computor1}]
	assert.False(t, ok)
}

// The mandatory debit applies even when no multicast outputs share the
// inbound call's tick.
func TestMulticastDebitWithoutOutputs(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.emissions = []store.ComputorEmission{{Epoch: testEmissionEpoch, Address: computor1, Amount: 1000}}
	st.computors = []string{computor1}
	st.logs = []store.Log{
		transfer(200, 1, computor1, contractQ, 400),
	}

	tracker := newTestTracker(st)
	_, err := tracker.ProcessWindow(ctx, window(100, 300))
	require.NoError(t, err)

	assert.Empty(t, st.hops)
	src := st.states[stateKey{computor1, computor1}]
	assert.Equal(t, int64(600), src.Pending)
	assert.Equal(t, int64(400), src.Sent)
}

// Continuity across windows: pending intermediaries stay active until
// they spend, and later windows see the cumulative state.
func TestContinuityAcrossWindows(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.emissions = []store.ComputorEmission{{Epoch: testEmissionEpoch, Address: computor1, Amount: 1000}}
	st.computors = []string{computor1}
	st.logs = []store.Log{
		transfer(100, 1, computor1, middlemanI, 1000),
	}

	tracker := newTestTracker(st)
	_, err := tracker.ProcessWindow(ctx, window(100, 199))
	require.NoError(t, err)

	src := st.states[stateKey{computor1, computor1}]
	assert.True(t, src.IsComplete)
	assert.Equal(t, int64(0), src.Pending)

	// Second window: the intermediary spends what it received earlier
	st.logs = append(st.logs, transfer(250, 2, middlemanI, exchangeX, 1000))
	_, err = tracker.ProcessWindow(ctx, window(200, 299))
	require.NoError(t, err)

	mid := st.states[stateKey{middlemanI, computor1}]
	assert.True(t, mid.IsComplete)
	assert.Equal(t, int64(1000), mid.Sent)

	dst := st.states[stateKey{exchangeX, computor1}]
	assert.Equal(t, int64(1000), dst.Received)
	assert.Equal(t, uint8(3), dst.HopLevel)
}

// Consecutive spends from one source within a window must see the
// cumulative effect of prior transfers (the write-through property).
func TestWriteThroughPending(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.emissions = []store.ComputorEmission{{Epoch: testEmissionEpoch, Address: computor1, Amount: 1000}}
	st.computors = []string{computor1}
	st.logs = []store.Log{
		transfer(100, 1, computor1, exchangeX, 600),
		transfer(101, 2, computor1, exchangeX, 600), // only 400 tracked remains
	}

	tracker := newTestTracker(st)
	_, err := tracker.ProcessWindow(ctx, window(100, 200))
	require.NoError(t, err)

	require.Len(t, st.hops, 2)
	assert.Equal(t, int64(600), st.hops[0].Amount)
	assert.Equal(t, int64(400), st.hops[1].Amount)

	src := st.states[stateKey{computor1, computor1}]
	assert.True(t, src.IsComplete)
	assert.Equal(t, int64(0), src.Pending)
	assert.Equal(t, int64(1000), src.Sent)

	dst := st.states[stateKey{exchangeX, computor1}]
	assert.Equal(t, int64(1000), dst.Received)
}

// Funds never flow back into computors
func TestNoFlowBackIntoComputors(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.emissions = []store.ComputorEmission{{Epoch: testEmissionEpoch, Address: computor1, Amount: 1000}}
	st.computors = []string{computor1, computor2}
	st.logs = []store.Log{
		transfer(100, 1, computor1, computor2, 500),
	}

	tracker := newTestTracker(st)
	_, err := tracker.ProcessWindow(ctx, window(100, 200))
	require.NoError(t, err)

	// The hop is recorded but no state tracks the receiving computor
	require.Len(t, st.hops, 1)
	_, ok := st.states[stateKey{computor2, computor1}]
	assert.False(t, ok)

	src := st.states[stateKey{computor1, computor1}]
	assert.Equal(t, int64(500), src.Pending)
}

func TestValidateConservation(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.emissions = []store.ComputorEmission{
		{Epoch: testEmissionEpoch, Address: computor1, Amount: 300},
		{Epoch: testEmissionEpoch, Address: computor2, Amount: 700},
	}
	st.computors = []string{computor1, computor2}
	st.imports[testEmissionEpoch] = &store.EmissionImport{
		Epoch: testEmissionEpoch, ComputorCount: 2, TotalEmission: 1000,
	}
	st.logs = []store.Log{
		transfer(100, 1, computor1, middlemanI, 300),
		transfer(101, 2, computor2, middlemanI, 700),
		transfer(102, 3, middlemanI, exchangeX, 500),
	}

	tracker := newTestTracker(st)
	_, err := tracker.ProcessWindow(ctx, window(100, 200))
	require.NoError(t, err)

	result, err := tracker.Validate(ctx, testEmissionEpoch)
	require.NoError(t, err)
	assert.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
}

func TestValidateDetectsViolation(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.states[stateKey{middlemanI, computor1}] = store.FlowState{
		EmissionEpoch: testEmissionEpoch,
		Address:       middlemanI, Origin: computor1,
		AddressType: store.FlowAddressIntermediary,
		Received:    100, Sent: 20, Pending: -5, HopLevel: 2,
	}

	tracker := newTestTracker(st)
	result, err := tracker.Validate(ctx, testEmissionEpoch)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Errors)
}

func TestBuildGraph(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.emissions = []store.ComputorEmission{{Epoch: testEmissionEpoch, Address: computor1, Amount: 1000}}
	st.computors = []string{computor1}
	st.logs = []store.Log{
		transfer(100, 1, computor1, middlemanI, 1000),
		transfer(150, 2, middlemanI, exchangeX, 600),
	}

	tracker := newTestTracker(st)
	_, err := tracker.ProcessWindow(ctx, window(100, 200))
	require.NoError(t, err)

	graph, err := tracker.BuildGraph(ctx, testEmissionEpoch)
	require.NoError(t, err)

	byAddress := make(map[string]FlowNode)
	for _, n := range graph.Nodes {
		byAddress[n.Address] = n
	}

	require.Len(t, graph.Nodes, 3)
	assert.Equal(t, 0, byAddress[computor1].Depth)
	assert.Equal(t, store.FlowAddressComputor, byAddress[computor1].Type)
	assert.Equal(t, 2, byAddress[middlemanI].Depth)
	assert.True(t, byAddress[exchangeX].IsSink)
	assert.Equal(t, int64(600), byAddress[exchangeX].TotalIn)

	require.Len(t, graph.Edges, 2)
}
