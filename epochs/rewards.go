package epochs

import (
	"context"
	"encoding/json"

	"github.com/withObsrvr/qubic-explorer-core/store"
)

// rewardBracket is one half-open distribution range within a tick
type rewardBracket struct {
	source     string
	startLogID uint64
	endLogID   uint64
}

// rewardPerShare extracts the per-share reward distributed in the end
// tick. Distributions are bracketed by START/END custom markers; each
// START pairs with the earliest END in the same tick whose log id is
// greater. The bracketed QU transfers from the rewarding contract are
// summed and divided by the computor count.
func (m *Manager) rewardPerShare(ctx context.Context, epoch uint32, endTick uint64) (uint64, error) {
	logs, err := m.store.LogsInTick(ctx, epoch, endTick)
	if err != nil {
		return 0, err
	}

	brackets := pairRewardBrackets(logs)
	if len(brackets) == 0 {
		return 0, nil
	}

	var total uint64
	for _, b := range brackets {
		for _, l := range logs {
			if l.LogType != store.LogTypeQuTransfer {
				continue
			}
			if l.LogID <= b.startLogID || l.LogID >= b.endLogID {
				continue
			}
			if l.Source != b.source {
				continue
			}
			total += uint64(l.Amount)
		}
	}

	return total / store.NumberOfComputors, nil
}

// pairRewardBrackets pairs each START marker with the earliest later
// END marker of the same tick. Logs must be ordered by log id.
func pairRewardBrackets(logs []store.Log) []rewardBracket {
	var brackets []rewardBracket
	var open []rewardBracket

	for _, l := range logs {
		if l.LogType != store.LogTypeCustomMessage {
			continue
		}
		switch customMessage(l.RawData) {
		case store.CustomMessageStartDistributeRewards:
			open = append(open, rewardBracket{source: l.Source, startLogID: l.LogID})
		case store.CustomMessageEndDistributeRewards:
			for _, b := range open {
				b.endLogID = l.LogID
				brackets = append(brackets, b)
			}
			open = nil
		}
	}
	return brackets
}

// customMessage extracts the sub-opcode of a type-255 log
func customMessage(rawData string) string {
	var payload struct {
		CustomMessage string `json:"customMessage"`
	}
	if err := json.Unmarshal([]byte(rawData), &payload); err != nil {
		return ""
	}
	return payload.CustomMessage
}
