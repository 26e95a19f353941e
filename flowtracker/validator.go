package flowtracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/withObsrvr/qubic-explorer-core/store"
)

// ValidationResult is the outcome of an on-demand conservation check.
// Violations are reported, never auto-remediated.
type ValidationResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
}

// emissionTolerancePct is the allowed rounding drift between captured
// emission and the sum received by computor states
const emissionTolerancePct = 1.0

// Validate checks the flow conservation invariants of an emission epoch
func (t *Tracker) Validate(ctx context.Context, emissionEpoch uint32) (*ValidationResult, error) {
	result := &ValidationResult{IsValid: true}
	fail := func(format string, args ...any) {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	states, err := t.store.FlowStates(ctx, emissionEpoch)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		warn("no tracking states for epoch %d", emissionEpoch)
		return result, nil
	}

	// Per state: pending >= 0, terminal implies complete, hop limit.
	// Live states are summed per hop level for the conservation check below.
	var computorReceived int64
	levelReceived := make(map[uint8]int64)
	levelSent := make(map[uint8]int64)
	levelPending := make(map[uint8]int64)

	for _, st := range states {
		if st.Pending < 0 {
			fail("state (%s, %s) has negative pending %d", st.Address, st.Origin, st.Pending)
		}
		if st.IsTerminal && !st.IsComplete {
			fail("state (%s, %s) is terminal but not complete", st.Address, st.Origin)
		}
		if st.HopLevel > MaxHops {
			warn("state (%s, %s) exceeds hop limit at level %d", st.Address, st.Origin, st.HopLevel)
		}
		if st.AddressType == store.FlowAddressComputor {
			computorReceived += st.Received
		}
		if !st.IsTerminal {
			// Terminal states absorb funds and never spend; the
			// received = sent + pending identity applies to live states
			levelReceived[st.HopLevel] += st.Received
			levelSent[st.HopLevel] += st.Sent
			levelPending[st.HopLevel] += st.Pending
		}
	}

	// Captured emission vs computor receipts, within rounding tolerance
	imp, err := t.store.EmissionImportFor(ctx, emissionEpoch)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if imp == nil {
		warn("no emission import for epoch %d", emissionEpoch)
	} else if imp.TotalEmission > 0 {
		diff := computorReceived - imp.TotalEmission
		if diff < 0 {
			diff = -diff
		}
		pct := float64(diff) * 100 / float64(imp.TotalEmission)
		if pct > emissionTolerancePct {
			fail("computor received %d deviates from captured emission %d by %.2f%%",
				computorReceived, imp.TotalEmission, pct)
		} else if diff > 0 {
			warn("computor received %d deviates from captured emission %d by %d units",
				computorReceived, imp.TotalEmission, diff)
		}
	}

	// Per hop level: received = sent + pending. Terminal states never
	// spend, so the identity holds level by level up to rounding.
	for level, received := range levelReceived {
		diff := received - levelSent[level] - levelPending[level]
		if diff < 0 {
			diff = -diff
		}
		if diff > 1 {
			fail("hop level %d: received %d != sent %d + pending %d",
				level, received, levelSent[level], levelPending[level])
		}
	}

	return result, nil
}
