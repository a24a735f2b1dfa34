package graph

import "github.com/opensource-finance/ringscan/internal/domain"

// InfluenceScores returns each sending account's out-degree: the number of
// distinct accounts it sent money to.
//
// This is a cheap stand-in for an eigenvector ranking such as PageRank, not an
// implementation of one. Scores do not iterate or converge and ignore weights.
func InfluenceScores(g domain.Graph) map[string]float64 {
	scores := make(map[string]float64, len(g))
	for node, out := range g {
		scores[node] = float64(len(out))
	}
	return scores
}
