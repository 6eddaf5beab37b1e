// Package dag orders models by the references between them.
// A model that holds a ref property depends on the ref's target.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Graph is a directed graph of model references.
type Graph struct {
	nodes   map[schema.ModelID]bool
	edges   map[schema.ModelID][]schema.ModelID // target -> referrers
	parents map[schema.ModelID][]schema.ModelID // referrer -> targets
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[schema.ModelID]bool),
		edges:   make(map[schema.ModelID][]schema.ModelID),
		parents: make(map[schema.ModelID][]schema.ModelID),
	}
}

// FromSchema builds the reference graph of every model in g.
// Self references are skipped.
func FromSchema(g *schema.Graph) *Graph {
	out := NewGraph()
	for _, m := range g.Models() {
		out.AddNode(m.ID())
	}
	for _, m := range g.Models() {
		for _, target := range References(m) {
			if target == m.ID() {
				continue
			}
			// Targets were validated when the schema froze.
			_ = out.AddEdge(target, m.ID())
		}
	}
	return out
}

// References returns the distinct models m refers to, including refs
// nested in objects and arrays, in declaration order.
func References(m *schema.Model) []schema.ModelID {
	var out []schema.ModelID
	seen := make(map[schema.ModelID]bool)
	var walk func(ds []*schema.Descriptor)
	walk = func(ds []*schema.Descriptor) {
		for _, d := range ds {
			e := schema.Element(d)
			switch e.Kind() {
			case schema.KindRef:
				if !seen[e.Target()] {
					seen[e.Target()] = true
					out = append(out, e.Target())
				}
			case schema.KindObject:
				walk(e.Properties())
			}
		}
	}
	walk(m.Properties())
	return out
}

// AddNode adds a model to the graph.
func (g *Graph) AddNode(id schema.ModelID) {
	if g.nodes[id] {
		return
	}
	g.nodes[id] = true
	g.edges[id] = nil
	g.parents[id] = nil
}

// AddEdge records that child refers to parent.
func (g *Graph) AddEdge(parent, child schema.ModelID) error {
	if !g.nodes[parent] {
		return fmt.Errorf("model %q is not in the graph", parent)
	}
	if !g.nodes[child] {
		return fmt.Errorf("model %q is not in the graph", child)
	}
	if parent == child {
		return fmt.Errorf("self-loop detected: %s", parent)
	}

	if !contains(g.edges[parent], child) {
		g.edges[parent] = append(g.edges[parent], child)
	}
	if !contains(g.parents[child], parent) {
		g.parents[child] = append(g.parents[child], parent)
	}
	return nil
}

// Parents returns the models id refers to.
func (g *Graph) Parents(id schema.ModelID) []schema.ModelID { return g.parents[id] }

// Children returns the models that refer to id.
func (g *Graph) Children(id schema.ModelID) []schema.ModelID { return g.edges[id] }

// Len returns the number of models in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount returns the number of references in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// CycleError reports a reference cycle. Path starts and ends on the same model.
type CycleError struct {
	Path []schema.ModelID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return "reference cycle: " + strings.Join(parts, " -> ")
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
func (g *Graph) HasCycle() (bool, []schema.ModelID) {
	visited := make(map[schema.ModelID]bool)
	onStack := make(map[schema.ModelID]bool)
	from := make(map[schema.ModelID]schema.ModelID)

	var cycle []schema.ModelID
	var dfs func(id schema.ModelID) bool
	dfs = func(id schema.ModelID) bool {
		visited[id] = true
		onStack[id] = true
		for _, child := range g.edges[id] {
			if !visited[child] {
				from[child] = id
				if dfs(child) {
					return true
				}
				continue
			}
			if onStack[child] {
				cycle = []schema.ModelID{child}
				for curr := id; curr != child; curr = from[curr] {
					cycle = append([]schema.ModelID{curr}, cycle...)
				}
				cycle = append([]schema.ModelID{child}, cycle...)
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, id := range g.sortedIDs() {
		if !visited[id] && dfs(id) {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSort returns models with every ref target before its referrers.
// Ties break by model id.
func (g *Graph) TopologicalSort() ([]schema.ModelID, error) {
	if hasCycle, path := g.HasCycle(); hasCycle {
		return nil, &CycleError{Path: path}
	}

	visited := make(map[schema.ModelID]bool)
	result := make([]schema.ModelID, 0, len(g.nodes))
	var visit func(id schema.ModelID)
	visit = func(id schema.ModelID) {
		if visited[id] {
			return
		}
		visited[id] = true
		parents := append([]schema.ModelID(nil), g.parents[id]...)
		sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })
		for _, p := range parents {
			visit(p)
		}
		result = append(result, id)
	}

	for _, id := range g.sortedIDs() {
		visit(id)
	}
	return result, nil
}

// Levels groups models by reference depth. Level 0 holds models that refer
// to nothing; models on level N refer only to models below N.
func (g *Graph) Levels() ([][]schema.ModelID, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	level := make(map[schema.ModelID]int, len(order))
	var levels [][]schema.ModelID
	for _, id := range order {
		l := 0
		for _, p := range g.parents[id] {
			if level[p]+1 > l {
				l = level[p] + 1
			}
		}
		level[id] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels, nil
}

// Dependents returns ids and every model that refers to them, directly or
// through other models, sorted by id.
func (g *Graph) Dependents(ids ...schema.ModelID) []schema.ModelID {
	seen := make(map[schema.ModelID]bool)
	var visit func(id schema.ModelID)
	visit = func(id schema.ModelID) {
		if seen[id] || !g.nodes[id] {
			return
		}
		seen[id] = true
		for _, child := range g.edges[id] {
			visit(child)
		}
	}
	for _, id := range ids {
		visit(id)
	}

	out := make([]schema.ModelID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Graph) sortedIDs() []schema.ModelID {
	ids := make([]schema.ModelID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func contains(ids []schema.ModelID, id schema.ModelID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
