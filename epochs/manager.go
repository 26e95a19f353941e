// Package epochs hosts the epoch lifecycle manager: a meta sync worker
// mirroring upstream epoch metadata into the store, and a transition
// validator that reconciles end-of-epoch log ranges, finalises per-epoch
// statistics once and captures computor emissions.
package epochs

import (
	"context"
	"sync"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/bobclient"
	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/metrics"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

const (
	metaSyncPeriod        = time.Minute
	metaSyncInitialDelay  = 10 * time.Second
	validatorPeriod       = time.Minute
	validatorCriticalWait = 30 * time.Minute
	validatorInitialDelay = 15 * time.Second
)

// Store is the slice of the columnar store the manager needs
type Store interface {
	MaxTickEpoch(ctx context.Context) (uint32, error)
	GetEpochMeta(ctx context.Context, epoch uint32) (*store.EpochMeta, error)
	UpsertEpochMeta(ctx context.Context, m *store.EpochMeta) error
	MaxLogID(ctx context.Context, epoch uint32) (uint64, bool, error)
	InsertLogs(ctx context.Context, logs []store.Log) error
	CountEndEpochMarkers(ctx context.Context, epoch uint32, startID, endID uint64) (uint64, error)
	LogsInTick(ctx context.Context, epoch uint32, tickNumber uint64) ([]store.Log, error)
	EpochAggregates(ctx context.Context, epoch uint32, burnAddress string) (txCount, transferVolume, burnTotal, activeAddresses uint64, err error)
	HasComputors(ctx context.Context, epoch uint32) (bool, error)
	InsertComputors(ctx context.Context, epoch uint32, addresses []string) error
	ComputorAddresses(ctx context.Context, epoch uint32) ([]string, error)
	EmissionReceipts(ctx context.Context, epoch uint32, endTick uint64, burnAddress string, computors []string) ([]store.ComputorEmission, error)
	InsertComputorEmissions(ctx context.Context, emissions []store.ComputorEmission) error
	HasEmissionImport(ctx context.Context, epoch uint32) (bool, error)
	InsertEmissionImport(ctx context.Context, imp *store.EmissionImport) error
}

// RPC is the slice of the upstream client the manager needs
type RPC interface {
	GetEpochInfo(ctx context.Context, epoch uint32) (*bobclient.EpochInfo, error)
	GetEndEpochLogs(ctx context.Context, epoch uint32) ([]bobclient.BobLog, error)
	GetComputors(ctx context.Context, epoch uint32) ([]string, error)
}

// Manager runs the two epoch lifecycle workers
type Manager struct {
	store       Store
	rpc         RPC
	log         *logging.ComponentLogger
	burnAddress string

	mu               sync.Mutex
	hasCriticalError bool
	errorEpoch       uint32
	errorMessage     string

	syncedEpoch     uint32 // highest epoch the meta sync has observed
	validatedEpoch  uint32 // highest epoch the validator has observed
	startupValidate bool
}

// New creates an epoch lifecycle manager
func New(st Store, rpc RPC, burnAddress string, log *logging.ComponentLogger) *Manager {
	return &Manager{
		store:       st,
		rpc:         rpc,
		log:         log,
		burnAddress: burnAddress,
	}
}

// CriticalError reports the validator's latched critical state
func (m *Manager) CriticalError() (bool, uint32, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasCriticalError, m.errorEpoch, m.errorMessage
}

func (m *Manager) setCriticalError(epoch uint32, message string) {
	m.mu.Lock()
	m.hasCriticalError = true
	m.errorEpoch = epoch
	m.errorMessage = message
	m.mu.Unlock()

	metrics.CriticalTransitionError.Set(1)
	m.log.Error().
		Uint32("epoch", epoch).
		Str("reason", message).
		Dur("retry_in", validatorCriticalWait).
		Msg("Epoch transition critical error")
}

func (m *Manager) clearCriticalError() {
	m.mu.Lock()
	wasSet := m.hasCriticalError
	m.hasCriticalError = false
	m.errorMessage = ""
	m.mu.Unlock()

	metrics.CriticalTransitionError.Set(0)
	if wasSet {
		m.log.Info().Msg("Epoch transition critical error cleared")
	}
}

// RunMetaSync syncs epoch_meta from upstream every minute. On startup
// it syncs the previous and current epoch; afterwards it re-syncs
// whenever the store's max tick epoch advances.
func (m *Manager) RunMetaSync(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(metaSyncInitialDelay):
	}

	ticker := time.NewTicker(metaSyncPeriod)
	defer ticker.Stop()

	for {
		start := time.Now()
		err := m.metaSyncCycle(ctx)
		m.log.LogWorkerCycle("meta-sync", time.Since(start), err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunTransitionValidator validates epoch transitions. It runs every
// minute, backing off to 30 minutes while a critical error is latched.
func (m *Manager) RunTransitionValidator(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(validatorInitialDelay):
	}

	for {
		start := time.Now()
		err := m.validatorCycle(ctx)
		m.log.LogWorkerCycle("transition-validator", time.Since(start), err)

		wait := validatorPeriod
		if critical, _, _ := m.CriticalError(); critical {
			wait = validatorCriticalWait
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
