package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

type mapResolver map[string]string

func (m mapResolver) Lookup(k string) string { return m[k] }

func noopStage(id runtime.StageID) Stage {
	return StageFunc{StageID: id, Fn: func(context.Context, runtime.RunContext) (runtime.Outcome, error) {
		return runtime.Outcome{}, nil
	}}
}

func TestSelectNextEdge_DefaultGraph(t *testing.T) {
	g := DefaultGraph()
	cases := []struct {
		from runtime.StageID
		ctx  mapResolver
		want runtime.StageID
	}{
		{runtime.StageGate, mapResolver{"in_scope": "false"}, runtime.End},
		{runtime.StageGate, mapResolver{"in_scope": "false", "admin": "true"}, runtime.End},
		{runtime.StageGate, mapResolver{"in_scope": "true", "admin": "true"}, runtime.StagePlanner},
		{runtime.StageGate, mapResolver{"in_scope": "true", "admin": "false"}, runtime.StageRouter},
		{runtime.StageRouter, mapResolver{"route": "direct"}, runtime.StageProducer},
		{runtime.StageRouter, mapResolver{"route": "plan"}, runtime.StagePlanner},
		{runtime.StagePlanner, mapResolver{"loop_done": "true"}, runtime.StageCommitter},
		{runtime.StagePlanner, mapResolver{"loop_done": "false"}, runtime.StageProducer},
		{runtime.StageProducer, mapResolver{"loop_done": "true"}, runtime.StageVerifier},
		{runtime.StageVerifier, mapResolver{"loop_done": "true"}, runtime.StageCommitter},
		{runtime.StageVerifier, mapResolver{"loop_done": "false"}, runtime.StageProducer},
		{runtime.StageCommitter, mapResolver{}, runtime.End},
	}
	for _, tc := range cases {
		e, err := selectNextEdge(g, tc.from, tc.ctx)
		if err != nil {
			t.Fatalf("%s %v: %v", tc.from, tc.ctx, err)
		}
		if e == nil || e.To != tc.want {
			t.Fatalf("%s %v: got %+v want %s", tc.from, tc.ctx, e, tc.want)
		}
	}
}

func TestSelectNextEdge_TieBreaks(t *testing.T) {
	g := NewGraph("a",
		Edge{From: "a", To: "z", Condition: "k=v"},
		Edge{From: "a", To: "y", Condition: "k=v"},
		Edge{From: "a", To: "x", Condition: "k=v", Weight: -1},
		Edge{From: "a", To: "w"},
	)
	e, err := selectNextEdge(g, "a", mapResolver{"k": "v"})
	if err != nil || e.To != "y" {
		t.Fatalf("got %+v err %v, want y", e, err)
	}
	e, err = selectNextEdge(g, "a", mapResolver{})
	if err != nil || e.To != "w" {
		t.Fatalf("got %+v err %v, want unconditional w", e, err)
	}
	if e, _ := selectNextEdge(g, "nowhere", mapResolver{}); e != nil {
		t.Fatalf("expected nil edge, got %+v", e)
	}
}

func TestGraphValidate(t *testing.T) {
	reg, err := NewRegistry(noopStage("a"), noopStage("b"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cases := []struct {
		name string
		g    *Graph
		want string
	}{
		{"ok", NewGraph("a", Edge{From: "a", To: "b"}, Edge{From: "b", To: runtime.End}), ""},
		{"missing entry", NewGraph("q", Edge{From: "a", To: "b"}, Edge{From: "b", To: runtime.End}), "entry stage"},
		{"unknown target", NewGraph("a", Edge{From: "a", To: "c"}, Edge{From: "b", To: runtime.End}), "unknown stage \"c\""},
		{"dead end", NewGraph("a", Edge{From: "a", To: "b"}), "no outgoing edge"},
		{"bad key", NewGraph("a", Edge{From: "a", To: "b", Condition: "mood=happy"}, Edge{From: "a", To: "b"}, Edge{From: "b", To: runtime.End}), "unknown condition key"},
		{"unreachable end", NewGraph("a", Edge{From: "a", To: "b"}, Edge{From: "b", To: "a"}), "not reachable"},
	}
	for _, tc := range cases {
		err := tc.g.Validate(reg)
		if tc.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v want %q", tc.name, err, tc.want)
		}
	}
}

func TestRegistry_RejectsDuplicatesAndEnd(t *testing.T) {
	if _, err := NewRegistry(noopStage("a"), noopStage("a")); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := NewRegistry(noopStage(runtime.End)); err == nil {
		t.Fatalf("expected error registering end")
	}
}
