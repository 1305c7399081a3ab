// Package invalidation declares which cached resources a successful
// mutation makes stale. The graph is built once at composition time, is
// read-only afterwards and performs no I/O.
package invalidation

import (
	"fmt"
	"sort"

	"github.com/mazza/sellerd/internal/cache"
)

// MutationKind identifies a side-effecting write.
type MutationKind string

const (
	CompleteOrder MutationKind = "complete_order"
	ToggleStore   MutationKind = "toggle_store"
)

// Cache keys for the seller views.
var (
	KeyLiveOrders     = cache.NewKey("seller", "orders", "live")
	KeyDashboardStats = cache.NewKey("seller", "dashboard", "stats")
)

// Target is one graph edge destination. A prefix target covers every cached
// key under Key.
type Target struct {
	Key    cache.Key
	Prefix bool
}

func (t Target) String() string {
	if t.Prefix {
		return t.Key.String() + "/*"
	}
	return t.Key.String()
}

// Edge maps a mutation kind to the targets it invalidates.
type Edge struct {
	Kind    MutationKind
	Targets []Target
}

// Keys is shorthand for exact-key targets.
func Keys(keys ...cache.Key) []Target {
	out := make([]Target, len(keys))
	for i, k := range keys {
		out[i] = Target{Key: k}
	}
	return out
}

// Graph is the static mutation-to-keys mapping.
type Graph struct {
	edges map[MutationKind][]Target
}

// New builds a graph. Each kind may be declared once.
func New(edges ...Edge) (*Graph, error) {
	g := &Graph{edges: make(map[MutationKind][]Target, len(edges))}
	for _, e := range edges {
		if e.Kind == "" {
			return nil, fmt.Errorf("invalidation: empty mutation kind")
		}
		if _, dup := g.edges[e.Kind]; dup {
			return nil, fmt.Errorf("invalidation: %s declared twice", e.Kind)
		}
		for _, t := range e.Targets {
			if len(t.Key) == 0 {
				return nil, fmt.Errorf("invalidation: %s has an empty target key", e.Kind)
			}
		}
		g.edges[e.Kind] = append([]Target(nil), e.Targets...)
	}
	return g, nil
}

// Default returns the seller graph: completing an order changes the live
// orders list and the dashboard aggregate; toggling the store changes only
// the dashboard aggregate.
func Default() *Graph {
	g, err := New(
		Edge{Kind: CompleteOrder, Targets: Keys(KeyLiveOrders, KeyDashboardStats)},
		Edge{Kind: ToggleStore, Targets: Keys(KeyDashboardStats)},
	)
	if err != nil {
		panic(err)
	}
	return g
}

// Targets returns a copy of the targets for kind, or nil if none are declared.
func (g *Graph) Targets(kind MutationKind) []Target {
	ts, ok := g.edges[kind]
	if !ok {
		return nil
	}
	out := make([]Target, len(ts))
	for i, t := range ts {
		out[i] = Target{Key: cache.NewKey(t.Key...), Prefix: t.Prefix}
	}
	return out
}

// Declared reports whether kind has an entry.
func (g *Graph) Declared(kind MutationKind) bool {
	_, ok := g.edges[kind]
	return ok
}

// Kinds returns every declared kind, sorted.
func (g *Graph) Kinds() []MutationKind {
	out := make([]MutationKind, 0, len(g.edges))
	for k := range g.edges {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Covers reports whether invalidating kind's targets marks key stale.
func (g *Graph) Covers(kind MutationKind, key cache.Key) bool {
	for _, t := range g.edges[kind] {
		if t.Key.Equal(key) || (t.Prefix && key.HasPrefix(t.Key)) {
			return true
		}
	}
	return false
}
