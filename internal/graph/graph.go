// Package graph builds the collapsed transaction graph of a batch and runs the
// graph-level computations on it: flow metrics, bounded cycle search and the
// degree-based influence score.
package graph

import (
	"maps"
	"slices"

	"github.com/opensource-finance/ringscan/internal/domain"
)

// Build folds a transaction batch into a sender→receiver graph whose edge
// weight is the total amount sent over that pair. An empty batch yields an
// empty, non-nil graph.
func Build(txs []domain.Transaction) domain.Graph {
	g := make(domain.Graph)
	for _, tx := range txs {
		out, ok := g[tx.SenderID]
		if !ok {
			out = make(map[string]float64)
			g[tx.SenderID] = out
		}
		out[tx.ReceiverID] += tx.Amount
	}
	return g
}

// Edges flattens the graph into an edge list ordered by source, then target.
func Edges(g domain.Graph) []domain.Edge {
	edges := make([]domain.Edge, 0, len(g))
	for _, source := range sortedKeys(g) {
		out := g[source]
		for _, target := range slices.Sorted(maps.Keys(out)) {
			edges = append(edges, domain.Edge{
				Source: source,
				Target: target,
				Weight: out[target],
			})
		}
	}
	return edges
}

// Accounts returns the number of accounts keyed in the graph, i.e. the
// accounts that sent at least once.
func Accounts(g domain.Graph) int {
	return len(g)
}

func sortedKeys(g domain.Graph) []string {
	return slices.Sorted(maps.Keys(g))
}
