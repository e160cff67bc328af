package pipeline

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// Builder collects stages and the directed edges between them.
type Builder struct {
	stages []Stage
	index  map[string]int
	edges  [][2]string
	errs   []string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{index: map[string]int{}}
}

// AddStage registers s. Names must be unique.
func (b *Builder) AddStage(s Stage) *Builder {
	if _, dup := b.index[s.Name()]; dup {
		b.errs = append(b.errs, fmt.Sprintf("duplicate stage %q", s.Name()))
		return b
	}
	b.index[s.Name()] = len(b.stages)
	b.stages = append(b.stages, s)
	return b
}

// AddEdge declares that from must run before to.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, [2]string{from, to})
	return b
}

// Chain registers stages and links each one to the next.
func (b *Builder) Chain(stages ...Stage) *Builder {
	for i, s := range stages {
		b.AddStage(s)
		if i > 0 {
			b.AddEdge(stages[i-1].Name(), s.Name())
		}
	}
	return b
}

// Plan is a compiled, runnable stage order.
type Plan struct {
	stages []Stage
}

// Stages returns the stages in execution order.
func (p *Plan) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Names returns the stage names in execution order.
func (p *Plan) Names() []string {
	out := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, s.Name())
	}
	return out
}

// Compile orders the stages topologically and checks that every stage's
// requirements are seeded or produced by an upstream stage. Ties are broken
// by registration order so the plan is deterministic.
func (b *Builder) Compile(seed ...models.Field) (*Plan, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("invalid pipeline: %s", strings.Join(b.errs, "; "))
	}

	n := len(b.stages)
	preds := make([][]int, n)
	succs := make([][]int, n)
	indegree := make([]int, n)
	for _, e := range b.edges {
		from, ok := b.index[e[0]]
		if !ok {
			return nil, fmt.Errorf("invalid pipeline: edge from unknown stage %q", e[0])
		}
		to, ok := b.index[e[1]]
		if !ok {
			return nil, fmt.Errorf("invalid pipeline: edge to unknown stage %q", e[1])
		}
		succs[from] = append(succs[from], to)
		preds[to] = append(preds[to], from)
		indegree[to]++
	}

	order := make([]int, 0, n)
	done := make([]bool, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i := 0; i < n; i++ {
				if !done[i] {
					stuck = append(stuck, b.stages[i].Name())
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
		}
		done[next] = true
		order = append(order, next)
		for _, s := range succs[next] {
			indegree[s]--
		}
	}

	// available[i] holds the fields visible to stage i: the seed plus what
	// every ancestor produces.
	available := make([]map[models.Field]bool, n)
	for _, i := range order {
		avail := map[models.Field]bool{}
		for _, f := range seed {
			avail[f] = true
		}
		for _, p := range preds[i] {
			for f := range available[p] {
				avail[f] = true
			}
			for _, f := range b.stages[p].Produces() {
				avail[f] = true
			}
		}
		for _, f := range b.stages[i].Requires() {
			if !avail[f] {
				return nil, fmt.Errorf("%w: stage %q requires %q", ErrUnsatisfied, b.stages[i].Name(), f)
			}
		}
		available[i] = avail
	}

	plan := &Plan{stages: make([]Stage, 0, n)}
	for _, i := range order {
		plan.stages = append(plan.stages, b.stages[i])
	}
	return plan, nil
}
