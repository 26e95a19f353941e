package epochs

import (
	"context"
	"fmt"

	"github.com/withObsrvr/qubic-explorer-core/metrics"
)

// validatorCycle validates the previous epoch once on startup, then on
// every detected rollover
func (m *Manager) validatorCycle(ctx context.Context) error {
	current, err := m.store.MaxTickEpoch(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return nil
	}

	if !m.startupValidate {
		// One-shot validation of the previous epoch on startup
		m.startupValidate = true
		m.validatedEpoch = current
		return m.validateEpoch(ctx, current-1)
	}

	if critical, epoch, _ := m.CriticalError(); critical {
		// Retry the offending epoch on the slow cadence
		return m.validateEpoch(ctx, epoch)
	}

	if current > m.validatedEpoch {
		previous := current - 1
		m.validatedEpoch = current
		return m.validateEpoch(ctx, previous)
	}
	return nil
}

// validateEpoch reconciles epoch E's end-of-epoch log range with
// upstream and finalises the epoch. No data is guessed: any gap latches
// the critical error state.
func (m *Manager) validateEpoch(ctx context.Context, epoch uint32) error {
	info, err := m.rpc.GetEpochInfo(ctx, epoch)
	if err != nil {
		return fmt.Errorf("failed to fetch epoch %d info: %w", epoch, err)
	}

	if info.EndTickStartLogID == 0 || info.EndTickEndLogID == 0 {
		m.setCriticalError(epoch, "incomplete end-tick info")
		return nil
	}

	maxLogID, hasLogs, err := m.store.MaxLogID(ctx, epoch)
	if err != nil {
		return err
	}
	if !hasLogs {
		maxLogID = 0
	}
	startID, endID := info.EndTickStartLogID, info.EndTickEndLogID

	if maxLogID < startID-1 {
		m.setCriticalError(epoch, "missing logs before end tick")
		return nil
	}

	if maxLogID < endID {
		logs, err := m.rpc.GetEndEpochLogs(ctx, epoch)
		if err != nil {
			return fmt.Errorf("failed to fetch end-epoch logs for %d: %w", epoch, err)
		}
		converted := convertLogs(logs)
		if err := m.store.InsertLogs(ctx, converted); err != nil {
			return fmt.Errorf("failed to insert end-epoch logs for %d: %w", epoch, err)
		}
		m.log.Info().
			Uint32("epoch", epoch).
			Int("logs", len(converted)).
			Msg("End-epoch logs reconciled")
	}

	markers, err := m.store.CountEndEpochMarkers(ctx, epoch, startID, endID)
	if err != nil {
		return err
	}
	if markers == 0 {
		m.setCriticalError(epoch, "END_EPOCH marker absent in end-tick log range")
		return nil
	}

	if err := m.finalizeEpoch(ctx, epoch, info); err != nil {
		return err
	}

	m.clearCriticalError()
	metrics.EpochsFinalized.Inc()
	return nil
}
