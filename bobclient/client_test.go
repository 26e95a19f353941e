package bobclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeComputorAddress(t *testing.T) {
	clean := "BZBQFLLBNCXEMGLOBHUVFTLUPLVCPQUASSILFABOFFBCADQSSUPNWLZBQEXK"
	require.Len(t, clean, 60)

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"clean address", clean, clean, true},
		{"trailing non-ascii garbage", clean + "\xc3\xa9\x00", clean, true},
		{"trailing lowercase", clean + "xyz", clean, true},
		{"too short after strip", clean[:40] + "123", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SanitizeComputorAddress(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCacheFreshnessAndStaleFallback(t *testing.T) {
	cache := newRPCCache()

	// Unknown address: no entry at all
	_, ok, _ := cache.getBalance("ADDR")
	assert.False(t, ok)

	cache.setBalance("ADDR", &BalanceInfo{Balance: 42})
	info, ok, fresh := cache.getBalance("ADDR")
	require.True(t, ok)
	assert.True(t, fresh)
	assert.Equal(t, int64(42), info.Balance)

	// Expired entries stay retrievable for the stale-fallback path
	expired := cachedValue[*BalanceInfo]{
		value:     &BalanceInfo{Balance: 7},
		fetchedAt: time.Now().Add(-time.Minute),
	}
	cache.balances.Add("OLD", expired)
	info, ok, fresh = cache.getBalance("OLD")
	require.True(t, ok)
	assert.False(t, fresh)
	assert.Equal(t, int64(7), info.Balance)
}

func TestComputorCacheTTL(t *testing.T) {
	cache := newRPCCache()

	cache.setComputors(100, []string{"A", "B"})
	addrs, ok, fresh := cache.getComputors(100)
	require.True(t, ok)
	assert.True(t, fresh)
	assert.Len(t, addrs, 2)

	_, ok, _ = cache.getComputors(101)
	assert.False(t, ok)
}

func TestBobLogToStoreLog(t *testing.T) {
	l := BobLog{
		Epoch:      120,
		LogID:      555,
		TickNumber: 1_000_000,
		LogType:    0,
		Source:     "SRC",
		Dest:       "DST",
		Amount:     1234,
		Timestamp:  1700000000000,
	}

	row := l.ToStoreLog()
	assert.Equal(t, uint32(120), row.Epoch)
	assert.Equal(t, uint64(555), row.LogID)
	assert.Equal(t, "{}", row.RawData)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), row.Timestamp)
}
