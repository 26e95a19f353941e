package pushmon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

type sentPush struct {
	subscriptionID string
	payload        []byte
}

// fakeStore implements the monitor's Store interface in memory
type fakeStore struct {
	subs          []store.PushSubscription
	transfers     map[string][]store.Log
	notifications map[[3]any]bool
	deleted       []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transfers:     make(map[string][]store.Log),
		notifications: make(map[[3]any]bool),
	}
}

func (f *fakeStore) ListPushSubscriptions(context.Context) ([]store.PushSubscription, error) {
	var live []store.PushSubscription
	deleted := make(map[string]bool)
	for _, id := range f.deleted {
		deleted[id] = true
	}
	for _, s := range f.subs {
		if !deleted[s.ID] {
			live = append(live, s)
		}
	}
	return live, nil
}

func (f *fakeStore) DeletePushSubscription(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) HasNotification(_ context.Context, subID, address string, tick uint64) (bool, error) {
	return f.notifications[[3]any{subID, address, tick}], nil
}

func (f *fakeStore) InsertNotification(_ context.Context, rec *store.NotificationRecord) error {
	f.notifications[[3]any{rec.SubscriptionID, rec.Address, rec.TickNumber}] = true
	return nil
}

func (f *fakeStore) LatestTransfersForAddress(_ context.Context, address string, limit int) ([]store.Log, error) {
	transfers := f.transfers[address]
	if len(transfers) > limit {
		transfers = transfers[:limit]
	}
	return transfers, nil
}

// fakeSender records pushes and can fail with a fixed error
type fakeSender struct {
	sent []sentPush
	err  error
}

func (f *fakeSender) Send(_ context.Context, sub *store.PushSubscription, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentPush{subscriptionID: sub.ID, payload: payload})
	return nil
}

const watchedAddr = "WATCHEDADDRESS"

func subscription(id string, events []string, threshold int64) store.PushSubscription {
	return store.PushSubscription{
		ID:        id,
		Endpoint:  "https://push.example/" + id,
		Addresses: []string{watchedAddr},
		Events:    events,
		Threshold: threshold,
	}
}

func newTestMonitor(st *fakeStore, sender Sender) *Monitor {
	return New(st, sender, logging.NewComponentLogger("pushmon-test", "test"))
}

// First observation establishes the high-water mark without notifying
func TestFirstObservationIsSilent(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.subs = []store.PushSubscription{subscription("sub1", []string{store.PushEventIncoming}, 0)}
	st.transfers[watchedAddr] = []store.Log{
		{TickNumber: 12_000, Dest: watchedAddr, Amount: 100},
	}
	sender := &fakeSender{}
	m := newTestMonitor(st, sender)

	require.NoError(t, m.cycle(ctx))
	assert.Empty(t, sender.sent)
	assert.Equal(t, uint64(12_000), m.lastTick[watchedAddr])
}

// Dedup: running two cycles over the same transfer emits exactly one
// push, and the pre-send dedup check blocks a resend even when the
// high-water mark is lost
func TestPushDedup(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	sub := subscription("sub1", []string{store.PushEventIncoming, store.PushEventLargeTransfer}, 1_000_000_000)
	st.subs = []store.PushSubscription{sub}
	st.transfers[watchedAddr] = []store.Log{
		{TickNumber: 12_345, Dest: watchedAddr, Source: "PEER", Amount: 5_000_000_000},
	}
	sender := &fakeSender{}
	m := newTestMonitor(st, sender)
	m.lastTick[watchedAddr] = 12_000 // already observing this address

	require.NoError(t, m.cycle(ctx))
	require.Len(t, sender.sent, 1)
	assert.Len(t, st.notifications, 1)

	// Second cycle without new ticks: high-water mark filters it out
	require.NoError(t, m.cycle(ctx))
	assert.Len(t, sender.sent, 1)

	// Even with the high-water mark rolled back, the notification log
	// reports the push as already sent
	m.lastTick[watchedAddr] = 12_000
	require.NoError(t, m.cycle(ctx))
	assert.Len(t, sender.sent, 1)
	assert.Len(t, st.notifications, 1)
}

func TestEventKindFiltering(t *testing.T) {
	transferIn := store.Log{TickNumber: 1, Dest: watchedAddr, Source: "PEER", Amount: 500}
	transferOut := store.Log{TickNumber: 1, Dest: "PEER", Source: watchedAddr, Amount: 500}

	incoming := subscription("s", []string{store.PushEventIncoming}, 0)
	outgoing := subscription("s", []string{store.PushEventOutgoing}, 0)
	large := subscription("s", []string{store.PushEventLargeTransfer}, 400)
	largeHigh := subscription("s", []string{store.PushEventLargeTransfer}, 501)

	assert.True(t, eventApplies(watchedAddr, &incoming, &transferIn))
	assert.False(t, eventApplies(watchedAddr, &incoming, &transferOut))
	assert.True(t, eventApplies(watchedAddr, &outgoing, &transferOut))
	assert.False(t, eventApplies(watchedAddr, &outgoing, &transferIn))
	assert.True(t, eventApplies(watchedAddr, &large, &transferIn))
	assert.False(t, eventApplies(watchedAddr, &largeHigh, &transferIn))
}

// Gone endpoints remove the subscription; other failures retain it
func TestGoneEndpointRemovesSubscription(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.subs = []store.PushSubscription{subscription("sub1", []string{store.PushEventIncoming}, 0)}
	st.transfers[watchedAddr] = []store.Log{
		{TickNumber: 12_345, Dest: watchedAddr, Amount: 100},
	}
	sender := &fakeSender{err: ErrSubscriptionGone}
	m := newTestMonitor(st, sender)
	m.lastTick[watchedAddr] = 12_000

	require.NoError(t, m.cycle(ctx))
	assert.Equal(t, []string{"sub1"}, st.deleted)

	// Transient failure: subscription stays, nothing recorded
	st2 := newFakeStore()
	st2.subs = []store.PushSubscription{subscription("sub2", []string{store.PushEventIncoming}, 0)}
	st2.transfers[watchedAddr] = []store.Log{
		{TickNumber: 12_345, Dest: watchedAddr, Amount: 100},
	}
	m2 := newTestMonitor(st2, &fakeSender{err: assert.AnError})
	m2.lastTick[watchedAddr] = 12_000

	require.NoError(t, m2.cycle(ctx))
	assert.Empty(t, st2.deleted)
	assert.Empty(t, st2.notifications)
}
