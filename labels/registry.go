// Package labels provides the process-wide address label registry.
// Lookups read an immutable snapshot behind an atomic pointer; refresh
// builds a new snapshot and swaps it in wholesale, so readers never
// block writers.
package labels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/identity"
	"github.com/withObsrvr/qubic-explorer-core/logging"
)

// Address kinds carried by the bundle
const (
	KindKnown         = "known"
	KindExchange      = "exchange"
	KindSmartContract = "smartcontract"
	KindTokenIssuer   = "tokenissuer"
	KindBurn          = "burn"
)

const refreshInterval = time.Hour

// Meta is the label metadata of one address
type Meta struct {
	Address       string `json:"address"`
	Label         string `json:"label"`
	Kind          string `json:"type"`
	ContractIndex uint32 `json:"contractIndex,omitempty"`
	Website       string `json:"website,omitempty"`
}

// bundleEntry is one record of the JSON label bundle
type bundleEntry struct {
	Address       string            `json:"address"`
	Label         string            `json:"label"`
	Kind          string            `json:"type"`
	ContractIndex uint32            `json:"contractIndex"`
	Website       string            `json:"website"`
	Procedures    map[string]string `json:"procedures"` // inputType -> name
}

// snapshot is one immutable generation of the registry
type snapshot struct {
	byAddress  map[string]Meta
	byKind     map[string][]Meta
	procedures map[string]map[uint16]string // contract address -> inputType -> name
	loadedAt   time.Time
}

// Registry is the refreshable label dictionary
type Registry struct {
	bundleURL string
	client    *http.Client
	log       *logging.ComponentLogger

	current   atomic.Pointer[snapshot]
	refreshMu sync.Mutex
}

// New creates a registry pre-seeded with the burn address only; call
// EnsureFresh or Run to load the bundle
func New(bundleURL string, log *logging.ComponentLogger) *Registry {
	r := &Registry{
		bundleURL: bundleURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
	r.current.Store(buildSnapshot(nil))
	return r
}

// Lookup returns the metadata of an address, if labelled
func (r *Registry) Lookup(address string) (Meta, bool) {
	meta, ok := r.current.Load().byAddress[address]
	return meta, ok
}

// ByType returns all labelled addresses of a kind
func (r *Registry) ByType(kind string) []Meta {
	return r.current.Load().byKind[kind]
}

// AddressesByType returns just the addresses of a kind
func (r *Registry) AddressesByType(kind string) []string {
	metas := r.ByType(kind)
	addresses := make([]string, len(metas))
	for i, m := range metas {
		addresses[i] = m.Address
	}
	return addresses
}

// SearchByLabel matches labels by exact, prefix, then substring match,
// tie-breaking by ascending label length
func (r *Registry) SearchByLabel(query string, limit int) []Meta {
	if query == "" || limit <= 0 {
		return nil
	}
	q := strings.ToLower(query)
	snap := r.current.Load()

	type ranked struct {
		meta Meta
		rank int
	}
	var matches []ranked
	for _, meta := range snap.byAddress {
		label := strings.ToLower(meta.Label)
		switch {
		case label == q:
			matches = append(matches, ranked{meta, 0})
		case strings.HasPrefix(label, q):
			matches = append(matches, ranked{meta, 1})
		case strings.Contains(label, q):
			matches = append(matches, ranked{meta, 2})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		if len(matches[i].meta.Label) != len(matches[j].meta.Label) {
			return len(matches[i].meta.Label) < len(matches[j].meta.Label)
		}
		return matches[i].meta.Label < matches[j].meta.Label
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	result := make([]Meta, len(matches))
	for i, m := range matches {
		result[i] = m.meta
	}
	return result
}

// ProcedureName resolves a contract procedure id to its name
func (r *Registry) ProcedureName(contractAddress string, inputType uint16) (string, bool) {
	procs, ok := r.current.Load().procedures[contractAddress]
	if !ok {
		return "", false
	}
	name, ok := procs[inputType]
	return name, ok
}

// EnsureFresh refreshes the registry if the current snapshot is older
// than one hour
func (r *Registry) EnsureFresh(ctx context.Context) error {
	if time.Since(r.current.Load().loadedAt) < refreshInterval {
		return nil
	}
	return r.Refresh(ctx)
}

// Refresh fetches the bundle and swaps in a new snapshot
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	entries, err := r.fetchBundle(ctx)
	if err != nil {
		return err
	}

	r.current.Store(buildSnapshot(entries))
	r.log.Info().Int("labels", len(entries)).Msg("Label registry refreshed")
	return nil
}

// Run refreshes the registry hourly until ctx is cancelled
func (r *Registry) Run(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Initial label refresh failed")
	}

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn().Err(err).Msg("Label refresh failed")
			}
		}
	}
}

func (r *Registry) fetchBundle(ctx context.Context) ([]bundleEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.bundleURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build bundle request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch label bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("label bundle returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read label bundle: %w", err)
	}

	var entries []bundleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse label bundle: %w", err)
	}
	return entries, nil
}

// buildSnapshot assembles an immutable registry generation. The burn
// address is always present with kind burn.
func buildSnapshot(entries []bundleEntry) *snapshot {
	snap := &snapshot{
		byAddress:  make(map[string]Meta, len(entries)+1),
		byKind:     make(map[string][]Meta),
		procedures: make(map[string]map[uint16]string),
		loadedAt:   time.Now(),
	}

	add := func(meta Meta) {
		snap.byAddress[meta.Address] = meta
		snap.byKind[meta.Kind] = append(snap.byKind[meta.Kind], meta)
	}

	for _, entry := range entries {
		if entry.Address == "" {
			continue
		}
		add(Meta{
			Address:       entry.Address,
			Label:         entry.Label,
			Kind:          entry.Kind,
			ContractIndex: entry.ContractIndex,
			Website:       entry.Website,
		})
		if len(entry.Procedures) > 0 {
			procs := make(map[uint16]string, len(entry.Procedures))
			for id, name := range entry.Procedures {
				inputType, err := strconv.ParseUint(id, 10, 16)
				if err != nil {
					continue
				}
				procs[uint16(inputType)] = name
			}
			snap.procedures[entry.Address] = procs
		}
	}

	if _, ok := snap.byAddress[identity.BurnAddress]; !ok {
		add(Meta{
			Address: identity.BurnAddress,
			Label:   "Burn Address",
			Kind:    KindBurn,
		})
	}

	for kind := range snap.byKind {
		metas := snap.byKind[kind]
		sort.Slice(metas, func(i, j int) bool { return metas[i].Label < metas[j].Label })
	}

	return snap
}
