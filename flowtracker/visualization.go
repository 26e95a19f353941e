package flowtracker

import (
	"context"
	"sort"

	"github.com/withObsrvr/qubic-explorer-core/store"
)

// FlowNode is one address in the aggregated flow graph
type FlowNode struct {
	Address  string `json:"address"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type"`
	Depth    int    `json:"depth"`
	TotalIn  int64  `json:"totalIn"`
	TotalOut int64  `json:"totalOut"`
	IsSink   bool   `json:"isSink"`
}

// FlowEdge is one aggregated (source, dest) transfer edge
type FlowEdge struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
	Amount int64  `json:"amount"`
	Hops   uint64 `json:"hops"`
}

// FlowGraph is the visualisation of an emission epoch's flow
type FlowGraph struct {
	EmissionEpoch uint32     `json:"emissionEpoch"`
	Nodes         []FlowNode `json:"nodes"`
	Edges         []FlowEdge `json:"edges"`
}

// BuildGraph aggregates every hop row of an emission epoch into a
// node/edge graph. Each node's depth is the smallest hop level at which
// it appears as a source, with computors fixed at depth 0; the
// pass-through contract never appears because its hops were rewritten
// to the original sender.
func (t *Tracker) BuildGraph(ctx context.Context, emissionEpoch uint32) (*FlowGraph, error) {
	hops, err := t.store.FlowHopsByEpoch(ctx, emissionEpoch)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*FlowNode)
	edges := make(map[[2]string]*FlowEdge)
	origins := make(map[string]bool)

	for _, h := range hops {
		origins[h.Origin] = true
	}

	node := func(address string) *FlowNode {
		n, ok := nodes[address]
		if !ok {
			n = &FlowNode{Address: address, Depth: int(MaxHops) + 1}
			if meta, found := t.labels.Lookup(address); found {
				n.Label = meta.Label
			}
			nodes[address] = n
		}
		return n
	}

	for _, h := range hops {
		src := node(h.Source)
		dst := node(h.Dest)

		src.TotalOut += h.Amount
		dst.TotalIn += h.Amount

		// Source depth: smallest hop level at which the node sends
		srcDepth := int(h.HopLevel)
		if srcDepth < src.Depth {
			src.Depth = srcDepth
		}
		// Destination-only nodes sit one level below their source
		if srcDepth+1 < dst.Depth {
			dst.Depth = srcDepth + 1
		}

		if dst.Type == "" || dst.Type == store.FlowAddressIntermediary {
			dst.Type = h.DestType
		}
		if isTerminalType(h.DestType) {
			dst.IsSink = true
		}

		key := [2]string{h.Source, h.Dest}
		e, ok := edges[key]
		if !ok {
			e = &FlowEdge{Source: h.Source, Dest: h.Dest}
			edges[key] = e
		}
		e.Amount += h.Amount
		e.Hops++
	}

	// Computors are fixed at depth 0
	for address := range origins {
		if n, ok := nodes[address]; ok {
			n.Depth = 0
			n.Type = store.FlowAddressComputor
		}
	}

	graph := &FlowGraph{EmissionEpoch: emissionEpoch}
	for _, n := range nodes {
		if n.Type == "" {
			n.Type = store.FlowAddressIntermediary
		}
		graph.Nodes = append(graph.Nodes, *n)
	}
	for _, e := range edges {
		graph.Edges = append(graph.Edges, *e)
	}

	sort.Slice(graph.Nodes, func(i, j int) bool {
		if graph.Nodes[i].Depth != graph.Nodes[j].Depth {
			return graph.Nodes[i].Depth < graph.Nodes[j].Depth
		}
		return graph.Nodes[i].Address < graph.Nodes[j].Address
	})
	sort.Slice(graph.Edges, func(i, j int) bool {
		if graph.Edges[i].Source != graph.Edges[j].Source {
			return graph.Edges[i].Source < graph.Edges[j].Source
		}
		return graph.Edges[i].Dest < graph.Edges[j].Dest
	})

	return graph, nil
}
