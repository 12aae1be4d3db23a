package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

// Stage is one node of the workflow. It reads a snapshot of the run context
// and returns a patch; it never mutates the engine's copy.
//
// Stages convert collaborator failures into context fields. A returned error
// is an engine-level fault and ends the run.
type Stage interface {
	ID() runtime.StageID
	Execute(ctx context.Context, rc runtime.RunContext) (runtime.Outcome, error)
}

// StageFunc adapts a function into a Stage.
type StageFunc struct {
	StageID runtime.StageID
	Fn      func(ctx context.Context, rc runtime.RunContext) (runtime.Outcome, error)
}

func (s StageFunc) ID() runtime.StageID { return s.StageID }

func (s StageFunc) Execute(ctx context.Context, rc runtime.RunContext) (runtime.Outcome, error) {
	return s.Fn(ctx, rc)
}

type Registry struct {
	stages map[runtime.StageID]Stage
}

func NewRegistry(stages ...Stage) (*Registry, error) {
	reg := &Registry{stages: map[runtime.StageID]Stage{}}
	for _, s := range stages {
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *Registry) Register(s Stage) error {
	if s == nil {
		return fmt.Errorf("register: nil stage")
	}
	id := s.ID()
	if id == "" || id == runtime.End {
		return fmt.Errorf("register: invalid stage id %q", id)
	}
	if _, ok := r.stages[id]; ok {
		return fmt.Errorf("register: duplicate stage %q", id)
	}
	r.stages[id] = s
	return nil
}

func (r *Registry) Resolve(id runtime.StageID) (Stage, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.stages[id]
	return s, ok
}

// IDs returns the registered stage ids in sorted order.
func (r *Registry) IDs() []runtime.StageID {
	if r == nil {
		return nil
	}
	ids := make([]runtime.StageID, 0, len(r.stages))
	for id := range r.stages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
