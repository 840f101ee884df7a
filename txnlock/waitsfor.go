package txnlock

import (
	"sort"
	"sync"

	"coredb/txn"
)

// waitsForGraph tracks wait-for edges between transactions for deadlock
// detection: an edge waiter -> holder exists while waiter blocks on a
// queue where holder has a granted, conflicting request (spec §4.5,
// "Deadlock detection").
type waitsForGraph struct {
	mu    sync.Mutex
	edges map[txn.TxnID]map[txn.TxnID]struct{}
}

func newWaitsForGraph() *waitsForGraph {
	return &waitsForGraph{edges: make(map[txn.TxnID]map[txn.TxnID]struct{})}
}

func (g *waitsForGraph) addEdge(waiter, holder txn.TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.edges[waiter] == nil {
		g.edges[waiter] = make(map[txn.TxnID]struct{})
	}
	g.edges[waiter][holder] = struct{}{}
}

func (g *waitsForGraph) removeEdge(waiter, holder txn.TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if holders, ok := g.edges[waiter]; ok {
		delete(holders, holder)
		if len(holders) == 0 {
			delete(g.edges, waiter)
		}
	}
}

// clearOutgoing drops every edge where waiter is the source, without
// touching edges where it appears as a holder. Called before rebuilding
// a waiter's blocking set on each wake-up so stale edges to since-
// released holders never survive into the next detector scan (spec
// §4.5, "the detector must never falsely accuse").
func (g *waitsForGraph) clearOutgoing(waiter txn.TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, waiter)
}

// removeTransaction drops every edge where id appears as waiter or
// holder — called once a transaction stops waiting, whether by being
// granted, aborting, or being chosen as a deadlock victim.
func (g *waitsForGraph) removeTransaction(id txn.TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.edges, id)
	for waiter, holders := range g.edges {
		delete(holders, id)
		if len(holders) == 0 {
			delete(g.edges, waiter)
		}
	}
}

// snapshot returns a defensive copy of the current edge set, sorted by
// ascending waiter then holder id so Tarjan's algorithm visits nodes in
// a deterministic order (spec §4.5 requires deterministic SCC discovery
// order).
func (g *waitsForGraph) snapshot() (nodes []txn.TxnID, edges map[txn.TxnID][]txn.TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[txn.TxnID]struct{})
	edges = make(map[txn.TxnID][]txn.TxnID, len(g.edges))
	for waiter, holders := range g.edges {
		seen[waiter] = struct{}{}
		list := make([]txn.TxnID, 0, len(holders))
		for h := range holders {
			list = append(list, h)
			seen[h] = struct{}{}
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		edges[waiter] = list
	}

	nodes = make([]txn.TxnID, 0, len(seen))
	for id := range seen {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes, edges
}

// tarjanState is the scratch space for one run of Tarjan's strongly
// connected components algorithm over a waits-for snapshot.
type tarjanState struct {
	edges   map[txn.TxnID][]txn.TxnID
	index   map[txn.TxnID]int
	lowlink map[txn.TxnID]int
	onStack map[txn.TxnID]bool
	stack   []txn.TxnID
	counter int
	sccs    [][]txn.TxnID
}

// stronglyConnectedComponents runs Tarjan's algorithm over nodes/edges
// (as returned by snapshot) and returns every SCC, visiting nodes in
// ascending id order for determinism.
func stronglyConnectedComponents(nodes []txn.TxnID, edges map[txn.TxnID][]txn.TxnID) [][]txn.TxnID {
	st := &tarjanState{
		edges:   edges,
		index:   make(map[txn.TxnID]int),
		lowlink: make(map[txn.TxnID]int),
		onStack: make(map[txn.TxnID]bool),
	}
	for _, n := range nodes {
		if _, ok := st.index[n]; !ok {
			st.strongConnect(n)
		}
	}
	return st.sccs
}

func (st *tarjanState) strongConnect(v txn.TxnID) {
	st.index[v] = st.counter
	st.lowlink[v] = st.counter
	st.counter++
	st.stack = append(st.stack, v)
	st.onStack[v] = true

	for _, w := range st.edges[v] {
		if _, ok := st.index[w]; !ok {
			st.strongConnect(w)
			if st.lowlink[w] < st.lowlink[v] {
				st.lowlink[v] = st.lowlink[w]
			}
		} else if st.onStack[w] {
			if st.index[w] < st.lowlink[v] {
				st.lowlink[v] = st.index[w]
			}
		}
	}

	if st.lowlink[v] != st.index[v] {
		return
	}

	var component []txn.TxnID
	for {
		n := len(st.stack) - 1
		w := st.stack[n]
		st.stack = st.stack[:n]
		st.onStack[w] = false
		component = append(component, w)
		if w == v {
			break
		}
	}
	st.sccs = append(st.sccs, component)
}

// youngestVictim returns the highest transaction id among non-trivial
// SCCs (size > 1, or a single node with a self-loop) found in the
// waits-for graph, or 0 if none deadlock.
func youngestVictim(nodes []txn.TxnID, edges map[txn.TxnID][]txn.TxnID) (txn.TxnID, bool) {
	var victim txn.TxnID
	found := false

	for _, scc := range stronglyConnectedComponents(nodes, edges) {
		if !isDeadlocked(scc, edges) {
			continue
		}
		for _, id := range scc {
			if id > victim {
				victim = id
			}
		}
		found = true
	}
	return victim, found
}

func isDeadlocked(scc []txn.TxnID, edges map[txn.TxnID][]txn.TxnID) bool {
	if len(scc) > 1 {
		return true
	}
	only := scc[0]
	for _, h := range edges[only] {
		if h == only {
			return true
		}
	}
	return false
}
