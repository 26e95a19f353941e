package flowtracker

import (
	"math/bits"
	"sort"

	"github.com/withObsrvr/qubic-explorer-core/store"
)

// stateKey identifies one tracking state within a session
type stateKey struct {
	address string
	origin  string
}

// session is the in-memory working set of one window pass. States are
// written through immediately, so two transfers from the same source in
// the same window see the cumulative effect of prior ones.
type session struct {
	emissionEpoch uint32
	currentEpoch  uint32

	states map[stateKey]*store.FlowState
	dirty  map[stateKey]bool
	hops   []store.FlowHop

	exchanges map[string]bool
	contracts map[string]bool
	computors map[string]bool
	multicast string
	burn      string

	// multicast outputs keyed by the originating tick
	multicastOutputs map[uint64][]store.Log

	stats WindowStats
}

// WindowStats summarises one window pass for the miner-flow snapshot
type WindowStats struct {
	TransfersProcessed uint64
	HopsWritten        uint64
	ActiveStates       uint64
	CompletedStates    uint64
	TotalEmission      int64
	TotalToExchanges   int64
	TotalToContracts   int64
	TotalPending       int64
	AdditionalInflow   int64
}

func newSession(emissionEpoch, currentEpoch uint32) *session {
	return &session{
		emissionEpoch:    emissionEpoch,
		currentEpoch:     currentEpoch,
		states:           make(map[stateKey]*store.FlowState),
		dirty:            make(map[stateKey]bool),
		exchanges:        make(map[string]bool),
		contracts:        make(map[string]bool),
		computors:        make(map[string]bool),
		multicastOutputs: make(map[uint64][]store.Log),
	}
}

func (s *session) load(states []store.FlowState) {
	for i := range states {
		st := states[i]
		s.states[stateKey{st.Address, st.Origin}] = &st
	}
}

func (s *session) get(address, origin string) (*store.FlowState, bool) {
	st, ok := s.states[stateKey{address, origin}]
	return st, ok
}

func (s *session) put(st *store.FlowState) {
	key := stateKey{st.Address, st.Origin}
	s.states[key] = st
	s.dirty[key] = true
}

func (s *session) markDirty(st *store.FlowState) {
	s.dirty[stateKey{st.Address, st.Origin}] = true
}

// dirtyStates returns the states touched during this pass
func (s *session) dirtyStates() []store.FlowState {
	states := make([]store.FlowState, 0, len(s.dirty))
	for key := range s.dirty {
		states = append(states, *s.states[key])
	}
	return states
}

// sourceShare is one (origin, effective pending) pair captured at the
// start of a transfer's processing
type sourceShare struct {
	state   *store.FlowState
	pending int64
}

// effectiveSources reads the write-through state set for every origin
// with positive pending at the source address, ordered by origin so
// attribution is deterministic
func (s *session) effectiveSources(source string) ([]sourceShare, int64) {
	var sources []sourceShare
	var total int64
	for key, st := range s.states {
		if key.address != source || st.IsComplete || st.Pending <= 0 {
			continue
		}
		sources = append(sources, sourceShare{state: st, pending: st.Pending})
		total += st.Pending
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].state.Origin < sources[j].state.Origin
	})
	return sources, total
}

// classify returns the flow address type of a destination
func (s *session) classify(address string) string {
	switch {
	case s.exchanges[address]:
		return store.FlowAddressExchange
	case s.contracts[address]:
		return store.FlowAddressSmartContract
	default:
		return store.FlowAddressIntermediary
	}
}

func isTerminalType(addressType string) bool {
	return addressType == store.FlowAddressExchange || addressType == store.FlowAddressSmartContract
}

// proportionalShare computes amount * pending / total without
// intermediate overflow. The amount is clamped to total so a share can
// never exceed the origin's pending.
func proportionalShare(amount, pending, total int64) int64 {
	if amount <= 0 || pending <= 0 || total <= 0 {
		return 0
	}
	if amount > total {
		amount = total
	}
	hi, lo := bits.Mul64(uint64(amount), uint64(pending))
	quo, _ := bits.Div64(hi, lo, uint64(total))
	return int64(quo)
}
