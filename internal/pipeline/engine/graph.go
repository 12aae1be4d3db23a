package engine

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/cond"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

// Edge is one row of the routing table. An empty Condition always matches
// but only wins when no conditional edge of the same stage matched.
type Edge struct {
	From      runtime.StageID
	To        runtime.StageID
	Condition string
	Weight    int
	Label     string

	order int
}

// Graph is the static edge table plus the entry stage.
type Graph struct {
	Start runtime.StageID
	Edges []Edge
}

// DefaultGraph returns the assistant's workflow:
//
//	gate -> router -> planner -> producer <-> verifier -> committer
//
// with the rejection exit after the gate and the administrative shortcut
// from the gate straight to the planner.
func DefaultGraph() *Graph {
	return NewGraph(runtime.StageGate,
		Edge{From: runtime.StageGate, To: runtime.End, Condition: "in_scope=false", Weight: 10, Label: "rejected"},
		Edge{From: runtime.StageGate, To: runtime.StagePlanner, Condition: "admin=true", Label: "admin"},
		Edge{From: runtime.StageGate, To: runtime.StageRouter},

		Edge{From: runtime.StageRouter, To: runtime.StageProducer, Condition: "route=direct", Label: "direct"},
		Edge{From: runtime.StageRouter, To: runtime.StagePlanner},

		Edge{From: runtime.StagePlanner, To: runtime.StageCommitter, Condition: "loop_done=true", Label: "short-circuit"},
		Edge{From: runtime.StagePlanner, To: runtime.StageProducer},

		Edge{From: runtime.StageProducer, To: runtime.StageVerifier},

		Edge{From: runtime.StageVerifier, To: runtime.StageCommitter, Condition: "loop_done=true", Label: "approved"},
		Edge{From: runtime.StageVerifier, To: runtime.StageProducer, Label: "retry"},

		Edge{From: runtime.StageCommitter, To: runtime.End},
	)
}

func NewGraph(start runtime.StageID, edges ...Edge) *Graph {
	g := &Graph{Start: start}
	for i, e := range edges {
		e.order = i
		g.Edges = append(g.Edges, e)
	}
	return g
}

func (g *Graph) Outgoing(from runtime.StageID) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == from {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks the table against the registered stages: the entry stage
// exists, every endpoint is registered or End, conditions only use known
// keys, every stage has an outgoing edge, and End is reachable.
func (g *Graph) Validate(reg *Registry) error {
	if g == nil {
		return errors.New("graph is nil")
	}
	var errs []error
	if _, ok := reg.Resolve(g.Start); !ok {
		errs = append(errs, fmt.Errorf("entry stage %q is not registered", g.Start))
	}
	known := func(id runtime.StageID) bool {
		if id == runtime.End {
			return true
		}
		_, ok := reg.Resolve(id)
		return ok
	}
	for _, e := range g.Edges {
		if e.From == runtime.End {
			errs = append(errs, fmt.Errorf("edge %s -> %s: end has no outgoing edges", e.From, e.To))
		} else if !known(e.From) {
			errs = append(errs, fmt.Errorf("edge %s -> %s: unknown stage %q", e.From, e.To, e.From))
		}
		if !known(e.To) {
			errs = append(errs, fmt.Errorf("edge %s -> %s: unknown stage %q", e.From, e.To, e.To))
		}
		keys, err := cond.Keys(e.Condition)
		if err != nil {
			errs = append(errs, fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err))
			continue
		}
		for _, k := range keys {
			if !slices.Contains(runtime.RoutingKeys, k) {
				errs = append(errs, fmt.Errorf("edge %s -> %s: unknown condition key %q", e.From, e.To, k))
			}
		}
	}
	for _, id := range reg.IDs() {
		if len(g.Outgoing(id)) == 0 {
			errs = append(errs, fmt.Errorf("stage %q has no outgoing edge", id))
		}
	}
	if len(errs) == 0 && !g.reachesEnd() {
		errs = append(errs, errors.New("end is not reachable from the entry stage"))
	}
	return errors.Join(errs...)
}

func (g *Graph) reachesEnd() bool {
	seen := map[runtime.StageID]bool{}
	queue := []runtime.StageID{g.Start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == runtime.End {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, e := range g.Outgoing(cur) {
			queue = append(queue, e.To)
		}
	}
	return false
}

// selectNextEdge picks the next hop: matching conditional edges first, then
// unconditional ones; ties break on weight desc, target asc, then declaration
// order. A nil edge means the stage has nowhere to go.
func selectNextEdge(g *Graph, from runtime.StageID, rc cond.Resolver) (*Edge, error) {
	edges := g.Outgoing(from)
	if len(edges) == 0 {
		return nil, nil
	}

	var condMatched []Edge
	for _, e := range edges {
		c := strings.TrimSpace(e.Condition)
		if c == "" {
			continue
		}
		ok, err := cond.Evaluate(c, rc)
		if err != nil {
			return nil, err
		}
		if ok {
			condMatched = append(condMatched, e)
		}
	}
	if len(condMatched) > 0 {
		return bestEdge(condMatched), nil
	}

	var uncond []Edge
	for _, e := range edges {
		if strings.TrimSpace(e.Condition) == "" {
			uncond = append(uncond, e)
		}
	}
	if len(uncond) == 0 {
		return nil, nil
	}
	return bestEdge(uncond), nil
}

func bestEdge(edges []Edge) *Edge {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight > edges[j].Weight
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].order < edges[j].order
	})
	e := edges[0]
	return &e
}
