package executor

import (
	"context"
	"sync"

	"github.com/petal-labs/nodeflow/core"
)

// Tick is one incremental whole-graph snapshot emitted by Stream.
type Tick struct {
	Results map[int]core.Result
	Err     error
}

// Stream evaluates the graph incrementally. Non-streaming nodes that do not depend, even transitively,
// on a streaming node are executed once up front; streaming nodes are then
// started concurrently, and any non-streaming node downstream of a
// streaming source is re-evaluated at most once per tick, in topological
// order, using the latest available upstream values. The returned channel
// is closed once every streaming node has signalled done or Stop is called.
func (e *Executor) Stream(ctx context.Context) (<-chan Tick, error) {
	ctx, cancel := e.withStop(ctx)

	out := make(chan Tick)
	successors := e.buildSuccessors()
	dynamic := e.reachableFromStreaming(successors)

	// Static pass: every node not streaming and not downstream of streaming.
	for _, id := range e.order {
		if dynamic[id] || e.streaming[id] {
			continue
		}
		if e.cancelled() {
			cancel()
			close(out)
			return out, core.ErrCancelled
		}
		result, err := e.runOneBatchNode(ctx, e.nodes[id], id)
		if err != nil {
			cancel()
			close(out)
			return out, err
		}
		e.mu.Lock()
		e.results[id] = result
		e.mu.Unlock()
	}

	type item struct {
		nodeID int
		it     core.StreamItem
	}
	fanin := make(chan item)
	var wg sync.WaitGroup

	streamingIDs := make([]int, 0, len(e.streaming))
	for id := range e.streaming {
		streamingIDs = append(streamingIDs, id)
	}

	for _, id := range streamingIDs {
		node := e.nodes[id].(core.StreamingNode)
		inputs := e.assembleInputs(id, e.nodes[id])
		if err := node.ValidateInputs(inputs); err != nil {
			close(out)
			cancel()
			return out, &core.InputValidationError{NodeID: id, Details: err.Error()}
		}
		ch, err := node.Start(ctx, inputs)
		if err != nil {
			close(out)
			cancel()
			return out, &core.NodeExecutionError{NodeID: id, Cause: err}
		}
		wg.Add(1)
		go func(id int, ch <-chan core.StreamItem) {
			defer wg.Done()
			for it := range ch {
				select {
				case fanin <- item{id, it}:
				case <-ctx.Done():
					return
				}
			}
		}(id, ch)
	}

	go func() {
		wg.Wait()
		close(fanin)
	}()

	go func() {
		defer cancel()
		defer close(out)

		done := make(map[int]bool, len(streamingIDs))
		remaining := len(streamingIDs)

		for remaining > 0 {
			select {
			case <-ctx.Done():
				return
			case it, ok := <-fanin:
				if !ok {
					return
				}
				if e.cancelled() {
					return
				}
				if it.it.Err != nil {
					out <- Tick{Err: &core.NodeExecutionError{NodeID: it.nodeID, Cause: it.it.Err}}
					return
				}

				e.mu.Lock()
				if it.it.Result != nil {
					e.results[it.nodeID] = it.it.Result
				}
				e.mu.Unlock()

				if it.it.Done && !done[it.nodeID] {
					done[it.nodeID] = true
					remaining--
				}

				if err := e.recomputeDynamic(ctx, dynamic); err != nil {
					out <- Tick{Err: err}
					return
				}

				out <- Tick{Results: e.snapshot()}
			}
		}
	}()

	return out, nil
}

// recomputeDynamic re-evaluates every non-streaming node downstream of a
// streaming source, in topological order, each at most once, using
// currently available upstream values.
func (e *Executor) recomputeDynamic(ctx context.Context, dynamic map[int]bool) error {
	for _, id := range e.order {
		if !dynamic[id] || e.streaming[id] {
			continue
		}
		node := e.nodes[id]
		inputs := e.assembleInputs(id, node)
		if err := node.ValidateInputs(inputs); err != nil {
			continue // upstream values not all available yet this tick
		}
		result, err := e.runOneBatchNode(ctx, node, id)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.results[id] = result
		e.mu.Unlock()
	}
	return nil
}

func (e *Executor) snapshot() map[int]core.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int]core.Result, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

func (e *Executor) buildSuccessors() map[int][]int {
	successors := make(map[int][]int)
	for dest, links := range e.linksByDest {
		seen := map[int]bool{}
		for _, ld := range links {
			if seen[ld.FromNodeID] {
				continue
			}
			seen[ld.FromNodeID] = true
			successors[ld.FromNodeID] = append(successors[ld.FromNodeID], dest)
		}
	}
	return successors
}

// reachableFromStreaming returns the set of node ids reachable (downstream)
// from any streaming node, via breadth-first traversal of successors.
func (e *Executor) reachableFromStreaming(successors map[int][]int) map[int]bool {
	visited := map[int]bool{}
	var queue []int
	for id := range e.streaming {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, succ := range successors[id] {
			if e.streaming[succ] {
				continue
			}
			if !visited[succ] {
				visited[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	return visited
}
