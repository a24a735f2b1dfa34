package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/opensource-finance/ringscan/internal/domain"
)

// MaxCycleLength is the hard cap on cycle length. The search is exponential
// in the length bound, so callers cannot raise it.
const MaxCycleLength = 5

// ErrInvalidCycleBounds is returned for length bounds outside [1, MaxCycleLength]
// or with minLen > maxLen.
var ErrInvalidCycleBounds = errors.New("invalid cycle length bounds")

// DetectCycles finds simple directed cycles whose length lies in [minLen, maxLen].
//
// Every node is tried as a start. A depth-first search extends the current path
// with each neighbour of its last node: reaching the start again with at least
// minLen nodes records a copy of the path, any neighbour not already on the path
// is explored, and paths longer than maxLen are pruned.
//
// The same cycle is reported once per rotation (one per member used as start).
// Nodes and neighbours are visited in sorted order so the output is stable.
func DetectCycles(g domain.Graph, minLen, maxLen int) ([]domain.Cycle, error) {
	if err := ValidateCycleBounds(minLen, maxLen); err != nil {
		return nil, err
	}

	s := &cycleSearch{
		adjacency: make(map[string][]string, len(g)),
		minLen:    minLen,
		maxLen:    maxLen,
		onPath:    make(map[string]bool, maxLen+1),
	}
	for node, out := range g {
		s.adjacency[node] = slices.Sorted(maps.Keys(out))
	}

	for _, start := range sortedKeys(g) {
		s.start = start
		s.path = append(s.path[:0], start)
		clear(s.onPath)
		s.onPath[start] = true
		s.visit(start)
	}

	return s.cycles, nil
}

// ValidateCycleBounds reports whether [minLen, maxLen] is an allowed search range.
func ValidateCycleBounds(minLen, maxLen int) error {
	if minLen < 1 || maxLen > MaxCycleLength || minLen > maxLen {
		return fmt.Errorf("%w: min=%d max=%d", ErrInvalidCycleBounds, minLen, maxLen)
	}
	return nil
}

type cycleSearch struct {
	adjacency map[string][]string
	minLen    int
	maxLen    int

	start  string
	path   []string
	onPath map[string]bool
	cycles []domain.Cycle
}

func (s *cycleSearch) visit(node string) {
	if len(s.path) > s.maxLen {
		return
	}

	for _, next := range s.adjacency[node] {
		if next == s.start && len(s.path) >= s.minLen {
			s.cycles = append(s.cycles, domain.Cycle(slices.Clone(s.path)))
			continue
		}
		if s.onPath[next] {
			continue
		}

		s.path = append(s.path, next)
		s.onPath[next] = true
		s.visit(next)
		s.path = s.path[:len(s.path)-1]
		delete(s.onPath, next)
	}
}
