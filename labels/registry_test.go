package labels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/qubic-explorer-core/identity"
	"github.com/withObsrvr/qubic-explorer-core/logging"
)

func testRegistry(t *testing.T, entries []bundleEntry) *Registry {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(entries))
	}))
	t.Cleanup(server.Close)

	r := New(server.URL, logging.NewComponentLogger("labels-test", "test"))
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

func TestBurnAddressAlwaysRegistered(t *testing.T) {
	r := New("http://unused.invalid", logging.NewComponentLogger("labels-test", "test"))

	meta, ok := r.Lookup(identity.BurnAddress)
	require.True(t, ok)
	assert.Equal(t, KindBurn, meta.Kind)
}

func TestLookupAndByType(t *testing.T) {
	r := testRegistry(t, []bundleEntry{
		{Address: "EXCHANGEA", Label: "Gate", Kind: KindExchange},
		{Address: "EXCHANGEB", Label: "MEXC", Kind: KindExchange},
		{Address: "CONTRACTQ", Label: "QUtil", Kind: KindSmartContract, ContractIndex: 4,
			Procedures: map[string]string{"1": "SendToManyV1", "2": "BurnQubic"}},
	})

	meta, ok := r.Lookup("CONTRACTQ")
	require.True(t, ok)
	assert.Equal(t, "QUtil", meta.Label)
	assert.Equal(t, uint32(4), meta.ContractIndex)

	exchanges := r.AddressesByType(KindExchange)
	assert.ElementsMatch(t, []string{"EXCHANGEA", "EXCHANGEB"}, exchanges)

	name, ok := r.ProcedureName("CONTRACTQ", 1)
	require.True(t, ok)
	assert.Equal(t, "SendToManyV1", name)

	_, ok = r.ProcedureName("CONTRACTQ", 99)
	assert.False(t, ok)
}

func TestSearchRanking(t *testing.T) {
	r := testRegistry(t, []bundleEntry{
		{Address: "A1", Label: "Gate", Kind: KindExchange},
		{Address: "A2", Label: "Gateway Fund", Kind: KindKnown},
		{Address: "A3", Label: "Gate.io Hot Wallet", Kind: KindExchange},
		{Address: "A4", Label: "Stargate", Kind: KindKnown},
	})

	results := r.SearchByLabel("gate", 10)
	require.Len(t, results, 4)

	// exact > prefix > contains; prefix ties broken by label length
	assert.Equal(t, "Gate", results[0].Label)
	assert.Equal(t, "Gateway Fund", results[1].Label)
	assert.Equal(t, "Gate.io Hot Wallet", results[2].Label)
	assert.Equal(t, "Stargate", results[3].Label)

	limited := r.SearchByLabel("gate", 2)
	assert.Len(t, limited, 2)

	assert.Empty(t, r.SearchByLabel("", 10))
}
