package epochs

import (
	"context"
	"errors"
	"fmt"

	"github.com/withObsrvr/qubic-explorer-core/store"
)

// metaSyncCycle mirrors upstream epoch metadata for the previous and
// current epoch whenever the store's max tick epoch advances
func (m *Manager) metaSyncCycle(ctx context.Context) error {
	current, err := m.store.MaxTickEpoch(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		// No ticks ingested yet
		return nil
	}
	if current == m.syncedEpoch {
		return nil
	}

	if current > 0 {
		if err := m.syncEpoch(ctx, current-1); err != nil {
			return fmt.Errorf("failed to sync epoch %d: %w", current-1, err)
		}
	}
	if err := m.syncEpoch(ctx, current); err != nil {
		return fmt.Errorf("failed to sync epoch %d: %w", current, err)
	}

	m.syncedEpoch = current
	return nil
}

// syncEpoch upserts one epoch_meta row from upstream, preserving any
// already-computed final stats
func (m *Manager) syncEpoch(ctx context.Context, epoch uint32) error {
	info, err := m.rpc.GetEpochInfo(ctx, epoch)
	if err != nil {
		return err
	}

	meta := &store.EpochMeta{
		Epoch:             epoch,
		InitialTick:       info.InitialTick,
		EndTick:           info.EndTick,
		EndTickStartLogID: info.EndTickStartLogID,
		EndTickEndLogID:   info.EndTickEndLogID,
		IsComplete:        info.EndTick > info.InitialTick && info.EndTick > 0,
	}

	existing, err := m.store.GetEpochMeta(ctx, epoch)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil && existing.StatsComputed {
		// Final stats are immutable once written
		meta.StatsComputed = true
		meta.TxCount = existing.TxCount
		meta.TransferVolume = existing.TransferVolume
		meta.BurnTotal = existing.BurnTotal
		meta.ActiveAddresses = existing.ActiveAddresses
		meta.RewardPerShare = existing.RewardPerShare
	}

	if err := m.store.UpsertEpochMeta(ctx, meta); err != nil {
		return err
	}

	m.log.Debug().
		Uint32("epoch", epoch).
		Uint64("initial_tick", meta.InitialTick).
		Uint64("end_tick", meta.EndTick).
		Bool("is_complete", meta.IsComplete).
		Msg("Epoch meta synced")
	return nil
}
