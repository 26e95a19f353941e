// Package flowtracker follows newly-minted computor emissions forward
// through every outbound transfer, across overlapping analysis windows,
// until the funds arrive at an exchange or smart contract. State is
// keyed by (emission epoch, address, origin) so each computor's share
// of a mixed balance is attributed independently.
package flowtracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/withObsrvr/qubic-explorer-core/labels"
	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/metrics"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

// MaxHops bounds how far an emission is followed from its computor
const MaxHops = 10

// Store is the slice of the columnar store the tracker needs
type Store interface {
	FlowStates(ctx context.Context, emissionEpoch uint32) ([]store.FlowState, error)
	UpsertFlowStates(ctx context.Context, states []store.FlowState) error
	InsertFlowHops(ctx context.Context, hops []store.FlowHop) error
	ComputorEmissions(ctx context.Context, epoch uint32) ([]store.ComputorEmission, error)
	ComputorAddresses(ctx context.Context, epoch uint32) ([]string, error)
	EmissionImportFor(ctx context.Context, epoch uint32) (*store.EmissionImport, error)
	OutboundTransfers(ctx context.Context, epoch uint32, tickStart, tickEnd uint64, addresses []string) ([]store.Log, error)
	TransfersFrom(ctx context.Context, epoch uint32, tickStart, tickEnd uint64, source string) ([]store.Log, error)
	TransfersTo(ctx context.Context, epoch uint32, tickStart, tickEnd uint64, addresses []string, excludeSource string) ([]store.Log, error)
	FlowHopsByEpoch(ctx context.Context, emissionEpoch uint32) ([]store.FlowHop, error)
}

// Labels is the slice of the label registry the tracker needs
type Labels interface {
	Lookup(address string) (labels.Meta, bool)
	AddressesByType(kind string) []string
}

// Window identifies one tick range of one current epoch to process for
// an emission epoch
type Window struct {
	EmissionEpoch uint32
	CurrentEpoch  uint32
	TickStart     uint64
	TickEnd       uint64
}

// Tracker is the continuous multi-hop flow tracker
type Tracker struct {
	store       Store
	labels      Labels
	log         *logging.ComponentLogger
	multicast   string // pass-through disbursement contract Q
	burnAddress string
}

// New creates a flow tracker. multicastAddress is the disbursement
// contract whose outputs are attributed to the original sender.
func New(st Store, lab Labels, multicastAddress, burnAddress string, log *logging.ComponentLogger) *Tracker {
	return &Tracker{
		store:       st,
		labels:      lab,
		log:         log,
		multicast:   multicastAddress,
		burnAddress: burnAddress,
	}
}

// ErrEmissionsNotCaptured is returned when the emission epoch has no
// captured emissions yet; the caller retries on a later window
var ErrEmissionsNotCaptured = errors.New("flowtracker: emissions not captured for epoch")

// initializeEpoch seeds one state per emission-receiving computor. Runs
// at most once per emission epoch.
func (t *Tracker) initializeEpoch(ctx context.Context, emissionEpoch uint32, existing []store.FlowState) ([]store.FlowState, error) {
	if len(existing) > 0 {
		return existing, nil
	}

	emissions, err := t.store.ComputorEmissions(ctx, emissionEpoch)
	if err != nil {
		return nil, err
	}
	if len(emissions) == 0 {
		return nil, ErrEmissionsNotCaptured
	}

	states := make([]store.FlowState, 0, len(emissions))
	for _, e := range emissions {
		states = append(states, store.FlowState{
			EmissionEpoch: emissionEpoch,
			Address:       e.Address,
			Origin:        e.Address,
			AddressType:   store.FlowAddressComputor,
			Received:      e.Amount,
			Sent:          0,
			Pending:       e.Amount,
			HopLevel:      1,
		})
	}
	if err := t.store.UpsertFlowStates(ctx, states); err != nil {
		return nil, err
	}

	t.log.Info().
		Uint32("emission_epoch", emissionEpoch).
		Int("computors", len(states)).
		Msg("Flow tracking initialized")
	return states, nil
}

// ProcessWindow advances tracking state over one tick range. Transfers
// are applied strictly in (tick, log_id) order; the write-through state
// set guarantees later transfers see the effect of earlier ones.
func (t *Tracker) ProcessWindow(ctx context.Context, w Window) (*WindowStats, error) {
	existing, err := t.store.FlowStates(ctx, w.EmissionEpoch)
	if err != nil {
		return nil, err
	}
	existing, err = t.initializeEpoch(ctx, w.EmissionEpoch, existing)
	if err != nil {
		return nil, err
	}

	sess := newSession(w.EmissionEpoch, w.CurrentEpoch)
	sess.load(existing)
	sess.multicast = t.multicast
	sess.burn = t.burnAddress

	for _, addr := range t.labels.AddressesByType(labels.KindExchange) {
		sess.exchanges[addr] = true
	}
	for _, addr := range t.labels.AddressesByType(labels.KindSmartContract) {
		sess.contracts[addr] = true
	}

	computors, err := t.store.ComputorAddresses(ctx, w.EmissionEpoch)
	if err != nil {
		return nil, err
	}
	for _, addr := range computors {
		sess.computors[addr] = true
	}

	// Multicast output map: every transfer out of Q in the window,
	// keyed by the tick of the originating call
	if t.multicast != "" {
		outputs, err := t.store.TransfersFrom(ctx, w.CurrentEpoch, w.TickStart, w.TickEnd, t.multicast)
		if err != nil {
			return nil, err
		}
		for _, out := range outputs {
			sess.multicastOutputs[out.TickNumber] = append(sess.multicastOutputs[out.TickNumber], out)
		}
	}

	// Funds received early in the window can be spent later in the same
	// window, so the outbound-transfer load repeats as new addresses
	// become active, until a fixed point. Each round is processed in
	// strict (tick, log_id) order; a fresh address cannot have had
	// pending before the round that discovered it.
	processed := make(map[[2]uint64]bool)
	queried := make(map[string]bool)
	for round := 0; round <= MaxHops+1; round++ {
		active := activeAddresses(sess)
		fresh := false
		for _, addr := range active {
			if !queried[addr] {
				fresh = true
			}
		}
		if round > 0 && !fresh {
			break
		}
		for _, addr := range active {
			queried[addr] = true
		}

		transfers, err := t.store.OutboundTransfers(ctx, w.CurrentEpoch, w.TickStart, w.TickEnd, active)
		if err != nil {
			return nil, err
		}

		advanced := false
		for i := range transfers {
			key := [2]uint64{transfers[i].TickNumber, transfers[i].LogID}
			if processed[key] {
				continue
			}
			processed[key] = true
			advanced = true
			t.processTransfer(sess, &transfers[i])
		}
		if !advanced {
			break
		}
	}
	sess.stats.TransfersProcessed = uint64(len(processed))
	metrics.FlowTransfersProcessed.Add(float64(len(processed)))

	// Additional inflow: non-emission transfers arriving at computors
	// during the window. Observational only; it never touches received.
	if len(computors) > 0 {
		inflows, err := t.store.TransfersTo(ctx, w.CurrentEpoch, w.TickStart, w.TickEnd, computors, t.burnAddress)
		if err != nil {
			return nil, err
		}
		for _, in := range inflows {
			sess.stats.AdditionalInflow += in.Amount
		}
	}

	if err := t.persist(ctx, sess); err != nil {
		return nil, err
	}

	t.finishStats(sess)
	return &sess.stats, nil
}

// activeAddresses returns every address holding a pending balance
func activeAddresses(sess *session) []string {
	seen := make(map[string]bool)
	var active []string
	for key, st := range sess.states {
		if st.IsComplete || st.Pending <= 0 || seen[key.address] {
			continue
		}
		seen[key.address] = true
		active = append(active, key.address)
	}
	return active
}

// processTransfer applies one outbound transfer to the session. The
// effective pending per origin is snapshotted first; every share is
// computed against that snapshot, then sources are debited.
func (t *Tracker) processTransfer(sess *session, transfer *store.Log) {
	sources, total := sess.effectiveSources(transfer.Source)
	if total <= 0 {
		return
	}

	if transfer.Dest == sess.multicast && sess.multicast != "" {
		t.processMulticast(sess, transfer, sources, total)
		return
	}

	destType := sess.classify(transfer.Dest)
	terminal := isTerminalType(destType)

	// Only the tracked part of the transfer is attributable; anything
	// beyond the summed pending is untracked money mixed in by the source
	spend := transfer.Amount
	if spend > total {
		spend = total
	}

	for _, src := range sources {
		share := proportionalShare(spend, src.pending, total)
		if share <= 0 {
			continue
		}
		t.emitHop(sess, transfer, transfer.Source, transfer.Dest, share, src.state, destType)
		t.creditDestination(sess, transfer.Dest, src.state, share, destType, terminal)
		t.debitSource(sess, src.state, share)
	}
}

// processMulticast handles a transfer into the pass-through contract:
// the contract's outputs in the same tick are attributed to the original
// sender, and the sender is debited by the inbound amount regardless of
// whether any outputs matched.
func (t *Tracker) processMulticast(sess *session, transfer *store.Log, sources []sourceShare, total int64) {
	for _, out := range sess.multicastOutputs[transfer.TickNumber] {
		if out.Dest == sess.multicast || out.Dest == sess.burn {
			continue
		}
		destType := sess.classify(out.Dest)
		terminal := isTerminalType(destType)

		outAmount := out.Amount
		if outAmount > total {
			outAmount = total
		}

		for _, src := range sources {
			share := proportionalShare(outAmount, src.pending, total)
			if share <= 0 {
				continue
			}
			// The hop's source is the original sender; Q never appears
			t.emitHop(sess, transfer, transfer.Source, out.Dest, share, src.state, destType)
			t.creditDestination(sess, out.Dest, src.state, share, destType, terminal)
		}
	}

	// Mandatory debit: the transfer into Q is a real spend even when no
	// outputs matched the tick
	spend := transfer.Amount
	if spend > total {
		spend = total
	}
	for _, src := range sources {
		share := proportionalShare(spend, src.pending, total)
		if share <= 0 {
			continue
		}
		t.debitSource(sess, src.state, share)
	}
}

func (t *Tracker) emitHop(sess *session, transfer *store.Log, source, dest string, share int64, srcState *store.FlowState, destType string) {
	label := ""
	if meta, ok := t.labels.Lookup(dest); ok {
		label = meta.Label
	}
	sess.hops = append(sess.hops, store.FlowHop{
		EmissionEpoch: sess.emissionEpoch,
		CurrentEpoch:  sess.currentEpoch,
		TickNumber:    transfer.TickNumber,
		LogID:         transfer.LogID,
		TxHash:        transfer.TxHash,
		Source:        source,
		Dest:          dest,
		Amount:        share,
		Origin:        srcState.Origin,
		HopLevel:      srcState.HopLevel,
		DestType:      destType,
		DestLabel:     label,
		Timestamp:     transfer.Timestamp,
	})

	if destType == store.FlowAddressExchange {
		sess.stats.TotalToExchanges += share
	} else if destType == store.FlowAddressSmartContract {
		sess.stats.TotalToContracts += share
	}
}

// creditDestination updates or inserts the destination state. Funds
// never flow back into computors, completed states stay untouched, and
// new intermediaries beyond the hop limit are not tracked further.
func (t *Tracker) creditDestination(sess *session, dest string, srcState *store.FlowState, share int64, destType string, terminal bool) {
	if sess.computors[dest] {
		return
	}

	nextLevel := srcState.HopLevel + 1
	existing, ok := sess.get(dest, srcState.Origin)
	if ok {
		if existing.IsComplete && !existing.IsTerminal {
			// Completed intermediaries are immutable
			return
		}
		existing.Received += share
		if terminal {
			existing.IsTerminal = true
			existing.IsComplete = true
		} else {
			existing.Pending += share
			if nextLevel < existing.HopLevel {
				existing.HopLevel = nextLevel
			}
		}
		sess.markDirty(existing)
		return
	}

	if !terminal && nextLevel > MaxHops {
		return
	}

	st := &store.FlowState{
		EmissionEpoch: sess.emissionEpoch,
		Address:       dest,
		Origin:        srcState.Origin,
		AddressType:   destType,
		Received:      share,
		HopLevel:      nextLevel,
	}
	if terminal {
		st.IsTerminal = true
		st.IsComplete = true
	} else {
		st.Pending = share
	}
	sess.put(st)
}

// debitSource reduces the source's pending by the attributed share and
// completes it once exhausted
func (t *Tracker) debitSource(sess *session, srcState *store.FlowState, share int64) {
	srcState.Sent += share
	srcState.Pending -= share
	if srcState.Pending <= 0 {
		srcState.Pending = 0
		srcState.IsComplete = true
	}
	sess.markDirty(srcState)
}

func (t *Tracker) persist(ctx context.Context, sess *session) error {
	dirty := sess.dirtyStates()
	if err := t.store.UpsertFlowStates(ctx, dirty); err != nil {
		return fmt.Errorf("failed to persist flow states: %w", err)
	}
	if err := t.store.InsertFlowHops(ctx, sess.hops); err != nil {
		return fmt.Errorf("failed to persist flow hops: %w", err)
	}
	sess.stats.HopsWritten = uint64(len(sess.hops))
	metrics.FlowHopsWritten.Add(float64(len(sess.hops)))
	return nil
}

// finishStats fills the state-census fields of the window stats
func (t *Tracker) finishStats(sess *session) {
	for _, st := range sess.states {
		if st.IsComplete {
			sess.stats.CompletedStates++
		} else {
			sess.stats.ActiveStates++
		}
		if st.AddressType == store.FlowAddressComputor {
			sess.stats.TotalEmission += st.Received
		}
		sess.stats.TotalPending += st.Pending
	}
}
