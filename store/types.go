package store

import "time"

// Log type discriminators as emitted by the node
const (
	LogTypeQuTransfer      uint8 = 0
	LogTypeAssetIssuance   uint8 = 1
	LogTypeAssetOwnership  uint8 = 2
	LogTypeAssetPossession uint8 = 3
	LogTypeBurn            uint8 = 8
	LogTypeDustBurn        uint8 = 9
	LogTypeCustomMessage   uint8 = 255
)

// Custom-message sub-opcodes carried in raw_data.customMessage for log type 255
const (
	CustomMessageEndEpoch               = "END_EPOCH"
	CustomMessageStartDistributeRewards = "OP_START_DISTRIBUTE_REWARDS"
	CustomMessageEndDistributeRewards   = "OP_END_DISTRIBUTE_REWARDS"
)

// NumberOfComputors is fixed by the protocol
const NumberOfComputors = 676

// Tick is one on-chain tick; inserted once, never mutated
type Tick struct {
	TickNumber uint64
	Epoch      uint32
	Timestamp  time.Time
	TxCount    uint32
	LogCount   uint32
}

// Transaction references an inclusive log range recording its effects
type Transaction struct {
	Hash        string
	TickNumber  uint64
	Epoch       uint32
	From        string
	To          string
	Amount      int64
	InputType   uint16
	InputData   string
	Executed    bool
	LogIDFrom   uint64
	LogIDLength uint64
	Timestamp   time.Time
}

// Log is a transfer or event record; log ids are monotonic within an epoch
type Log struct {
	Epoch      uint32
	LogID      uint64
	TickNumber uint64
	LogType    uint8
	TxHash     string
	Source     string
	Dest       string
	Amount     int64
	AssetName  string
	RawData    string
	Timestamp  time.Time
}

// EpochMeta is one row per epoch; final stats are filled exactly once
// when the transition validator completes the epoch
type EpochMeta struct {
	Epoch             uint32
	InitialTick       uint64
	EndTick           uint64
	EndTickStartLogID uint64
	EndTickEndLogID   uint64
	IsComplete        bool

	// Final stats, immutable once written
	StatsComputed   bool
	TxCount         uint64
	TransferVolume  uint64
	BurnTotal       uint64
	ActiveAddresses uint64
	RewardPerShare  uint64
}

// Computor is one entry of an epoch's ordered 676-address computor list
type Computor struct {
	Epoch   uint32
	Index   uint16
	Address string
}

// ComputorEmission is the amount a computor received from the burn
// address in the epoch's end tick
type ComputorEmission struct {
	Epoch        uint32
	Address      string
	Amount       int64
	EmissionTick uint64
	Timestamp    time.Time
}

// EmissionImport is the idempotency marker for emission capture
type EmissionImport struct {
	Epoch         uint32
	ComputorCount uint32
	TotalEmission int64
	EmissionTick  uint64
	ImportedAt    time.Time
}

// BalanceSnapshot is one spectrum record captured at the start of an epoch
type BalanceSnapshot struct {
	Epoch              uint32
	Address            string
	Balance            int64
	IncomingAmount     int64
	OutgoingAmount     int64
	NumIncoming        uint32
	NumOutgoing        uint32
	LatestIncomingTick uint32
	LatestOutgoingTick uint32
}

// ImportMarker records one completed snapshot archive import
type ImportMarker struct {
	Epoch       uint32
	TickNumber  uint64
	RecordCount uint64
	FileSize    int64
	DurationMs  int64
	ImportedAt  time.Time
}

// Asset snapshot record types
const (
	AssetRecordIssuance   = "issuance"
	AssetRecordOwnership  = "ownership"
	AssetRecordPossession = "possession"
)

// AssetSnapshot is one resolved universe record for an epoch
type AssetSnapshot struct {
	Epoch                 uint32
	Issuer                string
	AssetName             string
	Holder                string
	RecordType            string
	ManagingContractIndex uint16
	NumberOfShares        int64
	NumberOfDecimalPlaces int8
}

// Analytics snapshot kinds; each kind has its own history table
const (
	SnapshotKindHolder    = "holder"
	SnapshotKindNetwork   = "network"
	SnapshotKindBurn      = "burn"
	SnapshotKindMinerFlow = "miner_flow"
)

// Holder distribution data sources
const (
	DataSourceSnapshotDelta = "snapshot_delta"
	DataSourceTransferOnly  = "transfer_only"
)

// HolderDistributionRow is one immutable holder-distribution window
type HolderDistributionRow struct {
	Epoch        uint32
	SnapshotAt   time.Time
	TickStart    uint64
	TickEnd      uint64
	TotalHolders uint64
	WhaleCount   uint64
	LargeCount   uint64
	MediumCount  uint64
	SmallCount   uint64
	MicroCount   uint64
	TotalBalance int64
	Top10Share   float64
	Top50Share   float64
	Top100Share  float64
	DataSource   string
}

// NetworkStatsRow is one immutable network-stats window
type NetworkStatsRow struct {
	Epoch           uint32
	SnapshotAt      time.Time
	TickStart       uint64
	TickEnd         uint64
	TxCount         uint64
	TransferCount   uint64
	TransferVolume  int64
	UniqueSenders   uint64
	UniqueReceivers uint64
	ExchangeInflow  int64
	ExchangeOutflow int64
	ExchangeNetFlow int64
	SCCallCount     uint64
}

// BurnStatsRow is one immutable burn-stats window
type BurnStatsRow struct {
	Epoch             uint32
	SnapshotAt        time.Time
	TickStart         uint64
	TickEnd           uint64
	BurnCount         uint64
	BurnTotal         int64
	DustBurnCount     uint64
	DustBurnTotal     int64
	TransferBurnCount uint64
	TransferBurnTotal int64
	UniqueBurners     uint64
	LargestBurn       int64
	CumulativeBurned  int64
}

// MinerFlowStatsRow is one immutable miner-flow window for an emission epoch
type MinerFlowStatsRow struct {
	EmissionEpoch      uint32
	CurrentEpoch       uint32
	SnapshotAt         time.Time
	TickStart          uint64
	TickEnd            uint64
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

// Flow tracking address types
const (
	FlowAddressComputor      = "computor"
	FlowAddressIntermediary  = "intermediary"
	FlowAddressExchange      = "exchange"
	FlowAddressSmartContract = "smartcontract"
)

// FlowState is the per-(emission epoch, address, origin) tracking state;
// mutable until IsComplete, then read-only
type FlowState struct {
	EmissionEpoch uint32
	Address       string
	Origin        string
	AddressType   string
	Received      int64
	Sent          int64
	Pending       int64
	HopLevel      uint8
	IsTerminal    bool
	IsComplete    bool
	UpdatedAt     time.Time
}

// FlowHop is one immutable attributed transfer slice
type FlowHop struct {
	EmissionEpoch uint32
	CurrentEpoch  uint32
	TickNumber    uint64
	LogID         uint64
	TxHash        string
	Source        string
	Dest          string
	Amount        int64
	Origin        string
	HopLevel      uint8
	DestType      string
	DestLabel     string
	Timestamp     time.Time
}

// Push notification event kinds
const (
	PushEventIncoming      = "incoming"
	PushEventOutgoing      = "outgoing"
	PushEventLargeTransfer = "large_transfer"
)

// PushSubscription is one web-push endpoint watching a set of addresses
type PushSubscription struct {
	ID        string
	Endpoint  string
	P256dh    string
	Auth      string
	Addresses []string
	Events    []string
	Threshold int64
	CreatedAt time.Time
}

// NotificationRecord deduplicates pushes per (subscription, address, tick)
type NotificationRecord struct {
	SubscriptionID string
	Address        string
	TickNumber     uint64
	SentAt         time.Time
}
