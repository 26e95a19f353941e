package bobclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/store"
)

// RPC method names exposed by the Bob node
const (
	methodGetBalance         = "qubic_getBalance"
	methodGetEpochInfo       = "qubic_getEpochInfo"
	methodGetEndEpochLogs    = "qubic_getEndEpochLogs"
	methodGetLogsByIdRange   = "qubic_getLogsByIdRange"
	methodGetComputors       = "qubic_getComputors"
	methodQuerySmartContract = "qubic_querySmartContract"
	methodSubscribe          = "qubic_subscribe"
	notificationNewTicks     = "newTicks"
)

// BalanceInfo is the response of qubic_getBalance
type BalanceInfo struct {
	Balance            int64  `json:"balance"`
	CurrentTick        uint64 `json:"currentTick"`
	Identity           string `json:"identity"`
	IncomingAmount     int64  `json:"incomingAmount"`
	OutgoingAmount     int64  `json:"outgoingAmount"`
	NumberOfIncoming   uint32 `json:"numberOfIncomingTransfers"`
	NumberOfOutgoing   uint32 `json:"numberOfOutgoingTransfers"`
	LatestIncomingTick uint32 `json:"latestIncomingTransferTick"`
	LatestOutgoingTick uint32 `json:"latestOutgoingTransferTick"`
}

// EpochInfo is the response of qubic_getEpochInfo
type EpochInfo struct {
	Epoch                uint32 `json:"epoch"`
	InitialTick          uint64 `json:"initialTick"`
	EndTick              uint64 `json:"endTick"`
	FinalTick            uint64 `json:"finalTick"`
	EndTickStartLogID    uint64 `json:"endTickStartLogId"`
	EndTickEndLogID      uint64 `json:"endTickEndLogId"`
	NumberOfTransactions uint64 `json:"numberOfTransactions"`
}

// BobLog is one effect log as delivered by the node
type BobLog struct {
	Epoch      uint32          `json:"epoch"`
	LogID      uint64          `json:"logId"`
	TickNumber uint64          `json:"tick"`
	LogType    uint8           `json:"logType"`
	TxHash     string          `json:"txHash"`
	Source     string          `json:"source"`
	Dest       string          `json:"dest"`
	Amount     int64           `json:"amount"`
	AssetName  string          `json:"assetName"`
	Timestamp  int64           `json:"timestamp"` // unix milliseconds
	RawData    json.RawMessage `json:"logData"`
}

// ToStoreLog converts a node log into a store row
func (l *BobLog) ToStoreLog() store.Log {
	raw := "{}"
	if len(l.RawData) > 0 {
		raw = string(l.RawData)
	}
	return store.Log{
		Epoch:      l.Epoch,
		LogID:      l.LogID,
		TickNumber: l.TickNumber,
		LogType:    l.LogType,
		TxHash:     l.TxHash,
		Source:     l.Source,
		Dest:       l.Dest,
		Amount:     l.Amount,
		AssetName:  l.AssetName,
		RawData:    raw,
		Timestamp:  time.UnixMilli(l.Timestamp).UTC(),
	}
}

// computorsResult is the response of qubic_getComputors
type computorsResult struct {
	Epoch     uint32   `json:"epoch"`
	Computors []string `json:"computors"`
}

// TickEvent is one live tick notification. The node re-emits the same
// tick for every computor vote, so consumers deduplicate against a
// high-water mark.
type TickEvent struct {
	TickNumber       uint64 `json:"tickNumber"`
	Epoch            uint32 `json:"epoch"`
	TransactionCount uint32 `json:"transactionCount"`
}

// SanitizeComputorAddress strips trailing garbage from a computor list
// entry, keeping the leading run of uppercase ASCII letters. Entries
// shorter than a full identity after stripping are rejected.
func SanitizeComputorAddress(raw string) (string, bool) {
	end := len(raw)
	for i := 0; i < len(raw); i++ {
		if raw[i] < 'A' || raw[i] > 'Z' {
			end = i
			break
		}
	}
	addr := raw[:end]
	if len(addr) != 60 {
		return "", false
	}
	return addr, true
}

// scCacheKey builds the lookup key of a cached smart-contract query
func scCacheKey(contract string, fn uint32, inputHex string) string {
	return fmt.Sprintf("%s|%d|%s", contract, fn, inputHex)
}
