// Package executor implements the graph executor: topological
// validation, dependency-ordered evaluation with multi-input fan-in,
// progress reporting, cooperative cancellation, and the batch/streaming
// execution modes.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/petal-labs/nodeflow/catalog"
	"github.com/petal-labs/nodeflow/core"
)

// Mode is the executor's evaluation mode, determined at construction time
// by whether any node declares the Streaming capability variant.
type Mode string

const (
	ModeBatch     Mode = "batch"
	ModeStreaming Mode = "streaming"
)

// StepController is an optional hook a caller can supply to pause execution
// before/after each node. It is dormant unless supplied: nothing in this
// package requires it. A future UI can use it to single-step a run.
type StepController interface {
	// BeforeNode is called before a node is invoked; it may block until the
	// controller decides to let execution continue, or return an error to
	// abort the run.
	BeforeNode(ctx context.Context, nodeID int, nodeType string) error
	// AfterNode is called after a node completes (successfully or not).
	AfterNode(ctx context.Context, nodeID int, nodeType string, result core.Result, err error)
}

// Options configures an Executor at construction time.
type Options struct {
	Emit           core.EventEmitter
	Types          *core.TypeRegistry
	StepController StepController
	// RunID identifies this run in emitted events. If empty, New generates
	// a random one.
	RunID string
}

type link struct {
	core.LinkDescriptor
}

// Executor evaluates one GraphDescription. It is single-use: construct one
// per job, call Run or Stream once, discard.
type Executor struct {
	graph core.GraphDescription
	nodes map[int]core.Node
	order []int // topological order, ties broken by ascending node id

	linksByDest map[int][]link // destination node id -> incoming links
	streaming   map[int]bool   // node id -> is a StreamingNode

	mode  Mode
	emit  core.EventEmitter
	types *core.TypeRegistry
	step  StepController
	runID string

	mu       sync.Mutex
	results  map[int]core.Result
	cancel   atomic.Bool
	ctx      context.Context
	cancelFn context.CancelFunc
}

// New validates and constructs an Executor for graph using cat to
// instantiate node types. It returns *core.UnknownNodeTypeError,
// *core.CycleDetectedError, or *core.LinkInvalidError on structural
// problems.
func New(graph core.GraphDescription, cat *catalog.Catalog, opts Options) (*Executor, error) {
	if opts.Types == nil {
		opts.Types = core.DefaultTypeRegistry
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	nodes := make(map[int]core.Node, len(graph.Nodes))
	for _, nd := range graph.Nodes {
		node, err := cat.Build(nd.ID, nd.Type, nd.Properties)
		if err != nil {
			return nil, err
		}
		nodes[nd.ID] = node
	}

	linksByDest := make(map[int][]link)
	for _, ld := range graph.Links {
		if err := validateLink(ld, nodes); err != nil {
			return nil, err
		}
		linksByDest[ld.ToNodeID] = append(linksByDest[ld.ToNodeID], link{ld})
	}
	for dest, links := range linksByDest {
		sort.Slice(links, func(i, j int) bool {
			if links[i].FromNodeID != links[j].FromNodeID {
				return links[i].FromNodeID < links[j].FromNodeID
			}
			return links[i].FromSlot < links[j].FromSlot
		})
		linksByDest[dest] = links
	}

	if err := checkSlotTypeCompatibility(graph, nodes, linksByDest, opts.Types); err != nil {
		return nil, err
	}

	order, err := topologicalOrder(graph, linksByDest)
	if err != nil {
		return nil, err
	}

	streaming := make(map[int]bool, len(nodes))
	mode := ModeBatch
	for id, n := range nodes {
		if _, ok := n.(core.StreamingNode); ok {
			streaming[id] = true
			mode = ModeStreaming
		}
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	return &Executor{
		graph:       graph,
		nodes:       nodes,
		order:       order,
		linksByDest: linksByDest,
		streaming:   streaming,
		mode:        mode,
		emit:        opts.Emit,
		types:       opts.Types,
		step:        opts.StepController,
		runID:       opts.RunID,
		results:     make(map[int]core.Result),
		ctx:         ctx,
		cancelFn:    cancelFn,
	}, nil
}

// Mode reports whether the executor will run in batch or streaming mode.
func (e *Executor) Mode() Mode { return e.mode }

// Stop requests cooperative cancellation: it sets the internal cancel flag,
// cancels the executor's derived context (unblocking any suspension point
// that honors ctx.Done()), and asks every instantiated node that supports
// Stop/ForceStop to release its resources. Stop is idempotent and never
// blocks.
func (e *Executor) Stop() {
	if !e.cancel.CompareAndSwap(false, true) {
		return
	}
	e.cancelFn()
	for _, n := range e.nodes {
		if s, ok := n.(core.Stopper); ok {
			s.Stop()
		}
		if f, ok := n.(core.ForceStopper); ok {
			f.ForceStop()
		}
	}
}

func (e *Executor) cancelled() bool {
	return e.cancel.Load()
}

func validateLink(ld core.LinkDescriptor, nodes map[int]core.Node) error {
	src, ok := nodes[ld.FromNodeID]
	if !ok {
		return &core.LinkInvalidError{LinkID: ld.LinkID, Reason: fmt.Sprintf("source node %d does not exist", ld.FromNodeID)}
	}
	dst, ok := nodes[ld.ToNodeID]
	if !ok {
		return &core.LinkInvalidError{LinkID: ld.LinkID, Reason: fmt.Sprintf("destination node %d does not exist", ld.ToNodeID)}
	}
	outs := src.OutputSchema()
	if ld.FromSlot < 0 || ld.FromSlot >= len(outs) {
		return &core.LinkInvalidError{LinkID: ld.LinkID, Reason: fmt.Sprintf("source slot %d out of range for node %d", ld.FromSlot, ld.FromNodeID)}
	}
	ins := dst.InputSchema()
	if ld.ToSlot < 0 || ld.ToSlot >= len(ins) {
		return &core.LinkInvalidError{LinkID: ld.LinkID, Reason: fmt.Sprintf("destination slot %d out of range for node %d", ld.ToSlot, ld.ToNodeID)}
	}
	return nil
}

func checkSlotTypeCompatibility(graph core.GraphDescription, nodes map[int]core.Node, linksByDest map[int][]link, types *core.TypeRegistry) error {
	for dest, links := range linksByDest {
		dst := nodes[dest]
		ins := dst.InputSchema()
		for _, ld := range links {
			src := nodes[ld.FromNodeID]
			outs := src.OutputSchema()
			srcType := outs[ld.FromSlot].Type
			dstType := ins[ld.ToSlot].Type
			if !types.Assignable(srcType, dstType) {
				return &core.LinkInvalidError{
					LinkID: ld.LinkID,
					Reason: fmt.Sprintf("slot type %q is not assignable to %q", srcType, dstType),
				}
			}
		}
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm with ties broken by ascending node
// id, so the evaluation order is deterministic across runs of the same
// graph.
func topologicalOrder(graph core.GraphDescription, linksByDest map[int][]link) ([]int, error) {
	indegree := make(map[int]int, len(graph.Nodes))
	successors := make(map[int][]int, len(graph.Nodes))
	for _, nd := range graph.Nodes {
		indegree[nd.ID] = 0
	}
	for dest, links := range linksByDest {
		seen := make(map[int]bool)
		for _, ld := range links {
			if seen[ld.FromNodeID] {
				continue // multi-input: count each distinct predecessor once
			}
			seen[ld.FromNodeID] = true
			successors[ld.FromNodeID] = append(successors[ld.FromNodeID], dest)
			indegree[dest]++
		}
	}

	var ready []int
	for _, nd := range graph.Nodes {
		if indegree[nd.ID] == 0 {
			ready = append(ready, nd.ID)
		}
	}
	sort.Ints(ready)

	order := make([]int, 0, len(graph.Nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, succ := range successors[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	if len(order) < len(graph.Nodes) {
		var remaining []int
		for _, nd := range graph.Nodes {
			if indegree[nd.ID] > 0 {
				remaining = append(remaining, nd.ID)
			}
		}
		sort.Ints(remaining)
		return nil, &core.CycleDetectedError{NodeIDs: remaining}
	}
	return order, nil
}
