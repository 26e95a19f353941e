package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// PendingFlowStates loads all not-yet-complete tracking states for an
// emission epoch
func (s *Store) PendingFlowStates(ctx context.Context, emissionEpoch uint32) ([]FlowState, error) {
	return s.queryFlowStates(ctx, `
		SELECT emission_epoch, address, origin, address_type,
		       received, sent, pending, hop_level, is_terminal, is_complete, updated_at
		FROM flow_tracking_state FINAL
		WHERE emission_epoch = ? AND is_complete = 0`, emissionEpoch)
}

// FlowStates loads all tracking states for an emission epoch
func (s *Store) FlowStates(ctx context.Context, emissionEpoch uint32) ([]FlowState, error) {
	return s.queryFlowStates(ctx, `
		SELECT emission_epoch, address, origin, address_type,
		       received, sent, pending, hop_level, is_terminal, is_complete, updated_at
		FROM flow_tracking_state FINAL
		WHERE emission_epoch = ?`, emissionEpoch)
}

func (s *Store) queryFlowStates(ctx context.Context, query string, args ...any) ([]FlowState, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow states: %w", err)
	}
	defer rows.Close()

	var states []FlowState
	for rows.Next() {
		var st FlowState
		var isTerminal, isComplete uint8
		if err := rows.Scan(
			&st.EmissionEpoch, &st.Address, &st.Origin, &st.AddressType,
			&st.Received, &st.Sent, &st.Pending, &st.HopLevel,
			&isTerminal, &isComplete, &st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flow state: %w", err)
		}
		st.IsTerminal = isTerminal != 0
		st.IsComplete = isComplete != 0
		states = append(states, st)
	}
	return states, rows.Err()
}

// UpsertFlowStates writes tracking states; the ReplacingMergeTree keeps
// the latest version per (emission_epoch, address, origin)
func (s *Store) UpsertFlowStates(ctx context.Context, states []FlowState) error {
	now := time.Now().UTC()
	return s.sendBatch(ctx, `INSERT INTO flow_tracking_state`, len(states), func(batch driver.Batch, i int) error {
		st := states[i]
		return batch.Append(
			st.EmissionEpoch, st.Address, st.Origin, st.AddressType,
			st.Received, st.Sent, st.Pending, st.HopLevel,
			b2u8(st.IsTerminal), b2u8(st.IsComplete), now,
		)
	})
}

// InsertFlowHops bulk-inserts immutable flow hop rows
func (s *Store) InsertFlowHops(ctx context.Context, hops []FlowHop) error {
	return s.sendBatch(ctx, `INSERT INTO flow_hops`, len(hops), func(batch driver.Batch, i int) error {
		h := hops[i]
		return batch.Append(
			h.EmissionEpoch, h.CurrentEpoch, h.TickNumber, h.LogID, h.TxHash,
			h.Source, h.Dest, h.Amount, h.Origin, h.HopLevel,
			h.DestType, h.DestLabel, h.Timestamp,
		)
	})
}

// FlowHopsByEpoch returns all hop rows of an emission epoch across every
// processed window, in processing order
func (s *Store) FlowHopsByEpoch(ctx context.Context, emissionEpoch uint32) ([]FlowHop, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT emission_epoch, current_epoch, tick_number, log_id, tx_hash,
		       source, dest, amount, origin, hop_level, dest_type, dest_label, timestamp
		FROM flow_hops
		WHERE emission_epoch = ?
		ORDER BY tick_number ASC, log_id ASC`, emissionEpoch)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow hops: %w", err)
	}
	defer rows.Close()

	var hops []FlowHop
	for rows.Next() {
		var h FlowHop
		if err := rows.Scan(
			&h.EmissionEpoch, &h.CurrentEpoch, &h.TickNumber, &h.LogID, &h.TxHash,
			&h.Source, &h.Dest, &h.Amount, &h.Origin, &h.HopLevel,
			&h.DestType, &h.DestLabel, &h.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flow hop: %w", err)
		}
		hops = append(hops, h)
	}
	return hops, rows.Err()
}
