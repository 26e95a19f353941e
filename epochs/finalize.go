package epochs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/bobclient"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

// convertLogs maps upstream logs to store rows
func convertLogs(logs []bobclient.BobLog) []store.Log {
	rows := make([]store.Log, len(logs))
	for i := range logs {
		rows[i] = logs[i].ToStoreLog()
	}
	return rows
}

// finalizeEpoch marks the epoch complete and computes its final stats
// exactly once, then captures computor emissions
func (m *Manager) finalizeEpoch(ctx context.Context, epoch uint32, info *bobclient.EpochInfo) error {
	meta := &store.EpochMeta{
		Epoch:             epoch,
		InitialTick:       info.InitialTick,
		EndTick:           info.EndTick,
		EndTickStartLogID: info.EndTickStartLogID,
		EndTickEndLogID:   info.EndTickEndLogID,
		IsComplete:        true,
	}

	existing, err := m.store.GetEpochMeta(ctx, epoch)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if existing != nil && existing.StatsComputed {
		meta.StatsComputed = true
		meta.TxCount = existing.TxCount
		meta.TransferVolume = existing.TransferVolume
		meta.BurnTotal = existing.BurnTotal
		meta.ActiveAddresses = existing.ActiveAddresses
		meta.RewardPerShare = existing.RewardPerShare
	} else {
		txCount, transferVolume, burnTotal, activeAddresses, err := m.store.EpochAggregates(ctx, epoch, m.burnAddress)
		if err != nil {
			return fmt.Errorf("failed to compute final stats for epoch %d: %w", epoch, err)
		}
		rewardPerShare, err := m.rewardPerShare(ctx, epoch, info.EndTick)
		if err != nil {
			return fmt.Errorf("failed to compute reward per share for epoch %d: %w", epoch, err)
		}

		meta.StatsComputed = true
		meta.TxCount = txCount
		meta.TransferVolume = transferVolume
		meta.BurnTotal = burnTotal
		meta.ActiveAddresses = activeAddresses
		meta.RewardPerShare = rewardPerShare

		m.log.Info().
			Uint32("epoch", epoch).
			Uint64("tx_count", txCount).
			Uint64("transfer_volume", transferVolume).
			Uint64("reward_per_share", rewardPerShare).
			Msg("Epoch final stats computed")
	}

	if err := m.store.UpsertEpochMeta(ctx, meta); err != nil {
		return err
	}

	return m.captureEmissions(ctx, epoch, info.EndTick)
}

// captureEmissions persists per-computor emission rows and the summary
// row for a completed epoch. Guarded by emission_imports so it runs at
// most once per epoch.
func (m *Manager) captureEmissions(ctx context.Context, epoch uint32, endTick uint64) error {
	done, err := m.store.HasEmissionImport(ctx, epoch)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	imported, err := m.store.HasComputors(ctx, epoch)
	if err != nil {
		return err
	}
	if !imported {
		addresses, err := m.rpc.GetComputors(ctx, epoch)
		if err != nil {
			return fmt.Errorf("failed to fetch computors for epoch %d: %w", epoch, err)
		}
		if err := m.store.InsertComputors(ctx, epoch, addresses); err != nil {
			return fmt.Errorf("failed to persist computors for epoch %d: %w", epoch, err)
		}
	}

	computors, err := m.store.ComputorAddresses(ctx, epoch)
	if err != nil {
		return err
	}

	receipts, err := m.store.EmissionReceipts(ctx, epoch, endTick, m.burnAddress, computors)
	if err != nil {
		return err
	}
	if err := m.store.InsertComputorEmissions(ctx, receipts); err != nil {
		return err
	}

	var total int64
	for _, r := range receipts {
		total += r.Amount
	}
	imp := &store.EmissionImport{
		Epoch:         epoch,
		ComputorCount: uint32(len(receipts)),
		TotalEmission: total,
		EmissionTick:  endTick,
		ImportedAt:    time.Now().UTC(),
	}
	if err := m.store.InsertEmissionImport(ctx, imp); err != nil {
		return err
	}

	m.log.Info().
		Uint32("epoch", epoch).
		Int("computors_paid", len(receipts)).
		Int64("total_emission", total).
		Uint64("emission_tick", endTick).
		Msg("Computor emissions captured")
	return nil
}
