// Package pushmon watches subscribed addresses for new transfers and
// fans them out to web-push endpoints with deduplication.
package pushmon

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/metrics"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

const (
	monitorPeriod       = 30 * time.Second
	monitorStartupDelay = 20 * time.Second
	transfersPerAddress = 5
)

// Store is the slice of the columnar store the monitor needs
type Store interface {
	ListPushSubscriptions(ctx context.Context) ([]store.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id string) error
	HasNotification(ctx context.Context, subscriptionID, address string, tickNumber uint64) (bool, error)
	InsertNotification(ctx context.Context, rec *store.NotificationRecord) error
	LatestTransfersForAddress(ctx context.Context, address string, limit int) ([]store.Log, error)
}

// Monitor is the address watch worker
type Monitor struct {
	store  Store
	sender Sender
	log    *logging.ComponentLogger

	// per-address high-water mark; first observation initialises it
	// without notifying
	lastTick map[string]uint64
}

// New creates an address monitor
func New(st Store, sender Sender, log *logging.ComponentLogger) *Monitor {
	return &Monitor{
		store:    st,
		sender:   sender,
		log:      log,
		lastTick: make(map[string]uint64),
	}
}

// notificationPayload is the JSON body delivered to push endpoints
type notificationPayload struct {
	Address   string `json:"address"`
	Direction string `json:"direction"`
	Amount    int64  `json:"amount"`
	Tick      uint64 `json:"tick"`
	TxHash    string `json:"txHash,omitempty"`
	Peer      string `json:"peer"`
}

// Run watches subscribed addresses every 30 seconds
func (m *Monitor) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(monitorStartupDelay):
	}

	ticker := time.NewTicker(monitorPeriod)
	defer ticker.Stop()

	for {
		start := time.Now()
		err := m.cycle(ctx)
		m.log.LogWorkerCycle("address-monitor", time.Since(start), err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle fetches the latest transfers of every watched address and
// notifies the subscriptions they apply to
func (m *Monitor) cycle(ctx context.Context) error {
	subs, err := m.store.ListPushSubscriptions(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	// Union of watched addresses across all subscriptions
	watched := make(map[string][]*store.PushSubscription)
	for i := range subs {
		for _, addr := range subs[i].Addresses {
			watched[addr] = append(watched[addr], &subs[i])
		}
	}

	addresses := make([]string, 0, len(watched))
	for addr := range watched {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	removed := make(map[string]bool)
	for _, addr := range addresses {
		if err := m.watchAddress(ctx, addr, watched[addr], removed); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) watchAddress(ctx context.Context, address string, subs []*store.PushSubscription, removed map[string]bool) error {
	transfers, err := m.store.LatestTransfersForAddress(ctx, address, transfersPerAddress)
	if err != nil {
		return err
	}
	if len(transfers) == 0 {
		return nil
	}

	var maxTick uint64
	for _, t := range transfers {
		if t.TickNumber > maxTick {
			maxTick = t.TickNumber
		}
	}

	highWater, seen := m.lastTick[address]
	m.lastTick[address] = maxTick
	if !seen {
		// First observation establishes the baseline silently
		return nil
	}

	// Oldest first so notifications arrive in chain order
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].TickNumber != transfers[j].TickNumber {
			return transfers[i].TickNumber < transfers[j].TickNumber
		}
		return transfers[i].LogID < transfers[j].LogID
	})

	for _, transfer := range transfers {
		if transfer.TickNumber <= highWater {
			continue
		}
		for _, sub := range subs {
			if removed[sub.ID] {
				continue
			}
			if err := m.notify(ctx, address, sub, &transfer, removed); err != nil {
				return err
			}
		}
	}
	return nil
}

// notify sends one push if the subscription's event kinds apply and no
// notification was sent for this (subscription, address, tick) yet
func (m *Monitor) notify(ctx context.Context, address string, sub *store.PushSubscription, transfer *store.Log, removed map[string]bool) error {
	if !eventApplies(address, sub, transfer) {
		return nil
	}

	sent, err := m.store.HasNotification(ctx, sub.ID, address, transfer.TickNumber)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	payload := notificationPayload{
		Address: address,
		Amount:  transfer.Amount,
		Tick:    transfer.TickNumber,
		TxHash:  transfer.TxHash,
	}
	if transfer.Dest == address {
		payload.Direction = "incoming"
		payload.Peer = transfer.Source
	} else {
		payload.Direction = "outgoing"
		payload.Peer = transfer.Dest
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := m.sender.Send(ctx, sub, body); err != nil {
		if errors.Is(err, ErrSubscriptionGone) {
			m.log.Info().Str("subscription", sub.ID).Msg("Push endpoint gone, removing subscription")
			metrics.SubscriptionsRemoved.Inc()
			removed[sub.ID] = true
			return m.store.DeletePushSubscription(ctx, sub.ID)
		}
		// Transient push failures keep the subscription
		metrics.PushesFailed.Inc()
		m.log.Warn().Str("subscription", sub.ID).Err(err).Msg("Push delivery failed")
		return nil
	}

	metrics.PushesSent.Inc()
	return m.store.InsertNotification(ctx, &store.NotificationRecord{
		SubscriptionID: sub.ID,
		Address:        address,
		TickNumber:     transfer.TickNumber,
		SentAt:         time.Now().UTC(),
	})
}

// eventApplies reports whether any of the subscription's enabled event
// kinds match the transfer
func eventApplies(address string, sub *store.PushSubscription, transfer *store.Log) bool {
	for _, event := range sub.Events {
		switch event {
		case store.PushEventIncoming:
			if transfer.Dest == address {
				return true
			}
		case store.PushEventOutgoing:
			if transfer.Source == address {
				return true
			}
		case store.PushEventLargeTransfer:
			if sub.Threshold > 0 && transfer.Amount >= sub.Threshold {
				return true
			}
		}
	}
	return false
}
