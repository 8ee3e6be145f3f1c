// Package graph implements the routed execution graph that drives a report
// pipeline: named units connected by unconditional and conditional edges,
// compiled up front and run until a terminal marker or an interrupt point.
package graph

import (
	"context"
	"fmt"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

// End is the terminal routing marker. Routing to End finishes the run.
const End = "__end__"

// DefaultMaxSteps bounds unit invocations per run to stop routing loops.
const DefaultMaxSteps = 25

// Unit is the smallest schedulable element. It receives a cloned snapshot of
// the session record and returns a partial update; it must not retain or
// mutate the snapshot beyond the call.
type Unit interface {
	Invoke(ctx context.Context, snap *state.State) (*state.Delta, error)
}

// UnitFunc adapts an ordinary function to the Unit interface.
type UnitFunc func(ctx context.Context, snap *state.State) (*state.Delta, error)

// Invoke calls the underlying function.
func (f UnitFunc) Invoke(ctx context.Context, snap *state.State) (*state.Delta, error) {
	return f(ctx, snap)
}

// Decide inspects state after the source node's delta has been applied and
// returns a routing label. Routing may depend on fields that delta just set.
type Decide func(s *state.State) string

type conditionalEdge struct {
	decide  Decide
	targets map[string]string // label -> node
}

// Builder accumulates nodes and edges before Compile validates them.
type Builder struct {
	nodes           map[string]Unit
	order           []string
	edges           map[string]string
	conditional     map[string]conditionalEdge
	entry           string
	interruptBefore map[string]bool
	maxSteps        int
}

// NewBuilder creates an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes:           make(map[string]Unit),
		edges:           make(map[string]string),
		conditional:     make(map[string]conditionalEdge),
		interruptBefore: make(map[string]bool),
		maxSteps:        DefaultMaxSteps,
	}
}

// AddNode registers a unit under a name. Registering a taken or reserved
// name is an error.
func (b *Builder) AddNode(name string, unit Unit) error {
	if name == "" || name == End {
		return errors.New(errors.ErrCodeInvalidInput, "node name is reserved").WithContext("name", name)
	}
	if unit == nil {
		return errors.New(errors.ErrCodeInvalidInput, "unit is nil").WithContext("name", name)
	}
	if _, taken := b.nodes[name]; taken {
		return errors.New(errors.ErrCodeNodeDuplicate, "node name already registered").WithContext("name", name)
	}
	b.nodes[name] = unit
	b.order = append(b.order, name)
	return nil
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges[from] = to
	return b
}

// AddConditionalEdge adds a routed edge: after from's delta is applied,
// decide picks a label and targets maps it to the next node.
func (b *Builder) AddConditionalEdge(from string, decide Decide, targets map[string]string) *Builder {
	b.conditional[from] = conditionalEdge{decide: decide, targets: targets}
	return b
}

// SetEntry designates the entry node.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// InterruptBefore marks nodes the runner suspends in front of, persisting
// state and waiting for external input.
func (b *Builder) InterruptBefore(names ...string) *Builder {
	for _, n := range names {
		b.interruptBefore[n] = true
	}
	return b
}

// WithMaxSteps overrides the step ceiling.
func (b *Builder) WithMaxSteps(n int) *Builder {
	if n > 0 {
		b.maxSteps = n
	}
	return b
}

// Compile validates the graph and returns an executable form: the entry must
// exist, every edge endpoint must resolve to a registered node or End, and
// conditional targets must all be mapped.
func (b *Builder) Compile() (*Graph, error) {
	if b.entry == "" {
		return nil, errors.New(errors.ErrCodeGraphInvalid, "entry node not set")
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, errors.New(errors.ErrCodeGraphInvalid, "entry node not registered").WithContext("entry", b.entry)
	}

	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, edgeError("edge source not registered", from, to)
		}
		if !b.targetExists(to) {
			return nil, edgeError("edge target not registered", from, to)
		}
	}
	for from, ce := range b.conditional {
		if _, ok := b.nodes[from]; !ok {
			return nil, errors.New(errors.ErrCodeGraphInvalid, "conditional edge source not registered").WithContext("from", from)
		}
		if ce.decide == nil {
			return nil, errors.New(errors.ErrCodeGraphInvalid, "conditional edge has no decide function").WithContext("from", from)
		}
		if len(ce.targets) == 0 {
			return nil, errors.New(errors.ErrCodeGraphInvalid, "conditional edge has no targets").WithContext("from", from)
		}
		for label, to := range ce.targets {
			if !b.targetExists(to) {
				return nil, errors.New(errors.ErrCodeGraphInvalid, "conditional target not registered").
					WithContext("from", from).
					WithContext("label", label).
					WithContext("to", to)
			}
		}
	}
	for name := range b.interruptBefore {
		if _, ok := b.nodes[name]; !ok {
			return nil, errors.New(errors.ErrCodeGraphInvalid, "interrupt node not registered").WithContext("node", name)
		}
	}

	nodes := make(map[string]Unit, len(b.nodes))
	for k, v := range b.nodes {
		nodes[k] = v
	}
	edges := make(map[string]string, len(b.edges))
	for k, v := range b.edges {
		edges[k] = v
	}
	conditional := make(map[string]conditionalEdge, len(b.conditional))
	for k, v := range b.conditional {
		conditional[k] = v
	}
	interrupts := make(map[string]bool, len(b.interruptBefore))
	for k, v := range b.interruptBefore {
		interrupts[k] = v
	}

	return &Graph{
		nodes:           nodes,
		edges:           edges,
		conditional:     conditional,
		entry:           b.entry,
		interruptBefore: interrupts,
		maxSteps:        b.maxSteps,
	}, nil
}

func (b *Builder) targetExists(to string) bool {
	if to == End {
		return true
	}
	_, ok := b.nodes[to]
	return ok
}

func edgeError(msg, from, to string) error {
	return errors.New(errors.ErrCodeGraphInvalid, msg).WithContext("from", from).WithContext("to", to)
}

// Graph is a compiled, immutable execution graph.
type Graph struct {
	nodes           map[string]Unit
	edges           map[string]string
	conditional     map[string]conditionalEdge
	entry           string
	interruptBefore map[string]bool
	maxSteps        int
}

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

// HasNode reports whether a node is registered.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// route computes the next node after current, with current's delta already
// applied to s.
func (g *Graph) route(current string, s *state.State) (string, error) {
	if ce, ok := g.conditional[current]; ok {
		label := ce.decide(s)
		next, mapped := ce.targets[label]
		if !mapped {
			return "", errors.New(errors.ErrCodeUnknownRoute, "decision label has no mapped target").
				WithContext("from", current).
				WithContext("label", label)
		}
		return next, nil
	}
	if next, ok := g.edges[current]; ok {
		return next, nil
	}
	return End, nil
}

func (g *Graph) unit(name string) (Unit, error) {
	u, ok := g.nodes[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownRoute, fmt.Sprintf("no unit registered for node %q", name))
	}
	return u, nil
}
