// Package depgraph implements the dependency analyzer and the
// recursion-termination check: one vertex per definition, an
// edge A→B for every Ref(B) reachable from A's body, Tarjan SCCs assigned to
// DefIds in reverse topological order, and a per-SCC escape-path check.
package depgraph

import (
	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/resolve"
)

// Edge is one dependency edge A→B, with whether the reference occurs in a
// skippable context (inside an Alt with another branch, an Optional, or a
// Star-family quantifier), the condition that lets a cycle terminate.
type Edge struct {
	From, To  int
	Skippable bool
	Ref       ast.Ref
}

// Graph is the dependency graph plus the analysis results.
type Graph struct {
	Defs  []resolve.Def
	Edges []Edge
	// DefID maps a definition's index in Defs to its assigned DefId.
	DefID []int
	// SCC maps a definition's index to the index of its SCC in SCCs.
	SCC []int
	// SCCs lists each strongly connected component's member indices, in
	// Tarjan emission order (reverse topological).
	SCCs [][]int
	// Recursive[i] is true iff Defs[i]'s SCC has size > 1 or Defs[i] has a
	// self-loop.
	Recursive []bool
}

// Analyze builds the dependency graph over t's definitions, computes SCCs,
// assigns DefIds, and checks recursion termination, reporting
// RecursionCannotTerminate into sink for any SCC with no escaping cycle.
func Analyze(t *resolve.Table, sink *diag.Sink) *Graph {
	g := &Graph{Defs: t.Defs}
	nameIndex := make(map[string]int, len(t.Defs))
	for i, d := range t.Defs {
		if d.Name != ast.UnnamedDefName {
			nameIndex[d.Name] = i
		}
	}

	for i, d := range t.Defs {
		collectEdges(d.Body, i, nameIndex, false, g)
	}

	g.tarjan()
	g.assignDefIDs()
	g.markRecursive()
	g.checkTermination(sink)
	return g
}

func collectEdges(e ast.Expr, from int, nameIndex map[string]int, skippable bool, g *Graph) {
	switch n := e.(type) {
	case ast.Ref:
		if to, ok := nameIndex[n.Name]; ok {
			g.Edges = append(g.Edges, Edge{From: from, To: to, Skippable: skippable, Ref: n})
		}
	case ast.NamedNode:
		for _, c := range n.Children {
			collectEdges(c, from, nameIndex, skippable, g)
		}
	case ast.Field:
		collectEdges(n.Inner, from, nameIndex, skippable, g)
	case ast.Capture:
		collectEdges(n.Inner, from, nameIndex, skippable, g)
	case ast.Quantified:
		inner := skippable || n.Quant == ast.QuantOpt || n.Quant == ast.QuantOptLazy ||
			n.Quant == ast.QuantStar || n.Quant == ast.QuantStarLazy
		collectEdges(n.Inner, from, nameIndex, inner, g)
	case ast.Seq:
		for _, c := range n.Items {
			collectEdges(c, from, nameIndex, skippable, g)
		}
	case ast.Alt:
		inner := skippable || len(n.Branches) > 1
		for _, b := range n.Branches {
			collectEdges(b.Body, from, nameIndex, inner, g)
		}
	case ast.Predicated:
		collectEdges(n.Inner, from, nameIndex, skippable, g)
	}
}

// tarjan runs Tarjan's SCC algorithm over g.Edges, populating g.SCC and
// g.SCCs in emission (reverse topological) order.
func (g *Graph) tarjan() {
	n := len(g.Defs)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	counter := 0

	adj := make([][]int, n)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	g.SCC = make([]int, n)
	for i := range g.SCC {
		g.SCC[i] = -1
	}

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if index[w] == -1 {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sccIdx := len(g.SCCs)
			for _, w := range comp {
				g.SCC[w] = sccIdx
			}
			g.SCCs = append(g.SCCs, comp)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] == -1 {
			strongconnect(v)
		}
	}
}

// assignDefIDs assigns DefIds by flattening g.SCCs in emission order, which
// is already reverse topological.
func (g *Graph) assignDefIDs() {
	g.DefID = make([]int, len(g.Defs))
	id := 0
	for _, comp := range g.SCCs {
		for _, v := range comp {
			g.DefID[v] = id
			id++
		}
	}
}

func (g *Graph) markRecursive() {
	g.Recursive = make([]bool, len(g.Defs))
	for _, comp := range g.SCCs {
		if len(comp) > 1 {
			for _, v := range comp {
				g.Recursive[v] = true
			}
		}
	}
	for _, e := range g.Edges {
		if e.From == e.To {
			g.Recursive[e.From] = true
		}
	}
}

func (g *Graph) hasSelfLoop(v int) bool {
	for _, e := range g.Edges {
		if e.From == v && e.To == v {
			return true
		}
	}
	return false
}

// checkTermination verifies that every recursive SCC has
// at least one skippable edge on every cycle: equivalently, the subgraph of
// non-skippable edges restricted to the SCC must be acyclic. A cycle found in
// that restricted subgraph is reported as RecursionCannotTerminate with the
// cycle chain as related spans.
func (g *Graph) checkTermination(sink *diag.Sink) {
	for sccIdx, comp := range g.SCCs {
		if len(comp) < 2 && !g.hasSelfLoop(comp[0]) {
			continue
		}
		member := make(map[int]bool, len(comp))
		for _, v := range comp {
			member[v] = true
		}
		nonSkippable := make(map[int][]Edge)
		for _, e := range g.Edges {
			if g.SCC[e.From] == sccIdx && g.SCC[e.To] == sccIdx && !e.Skippable {
				nonSkippable[e.From] = append(nonSkippable[e.From], e)
			}
		}

		color := make(map[int]int) // 0=white,1=gray,2=black
		var path []Edge
		var cycle []Edge
		var dfs func(v int) bool
		dfs = func(v int) bool {
			color[v] = 1
			for _, e := range nonSkippable[v] {
				path = append(path, e)
				if color[e.To] == 1 {
					// found a cycle: extract the suffix of path starting at e.To
					start := 0
					for i, pe := range path {
						if pe.From == e.To {
							start = i
							break
						}
					}
					cycle = append([]Edge(nil), path[start:]...)
					return true
				}
				if color[e.To] == 0 {
					if dfs(e.To) {
						return true
					}
				}
				path = path[:len(path)-1]
			}
			color[v] = 2
			return false
		}

		found := false
		for _, v := range comp {
			if color[v] == 0 {
				path = nil
				if dfs(v) {
					found = true
					break
				}
			}
		}

		if found {
			var related []diag.Related
			for _, e := range cycle {
				related = append(related, diag.Related{Range: e.Ref.Rng, Message: "cycles back through " + e.Ref.Name + " here"})
			}
			primary := g.Defs[comp[0]].NameRange
			if len(cycle) > 0 {
				primary = cycle[0].Ref.Rng
			}
			sink.Report(diag.Diagnostic{
				Kind:    diag.RecursionCannotTerminate,
				Message: "recursive definitions have no escaping path",
				Primary: primary,
				Related: related,
			})
		}
	}
}
