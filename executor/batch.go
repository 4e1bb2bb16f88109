package executor

import (
	"context"
	"time"

	"github.com/petal-labs/nodeflow/core"
)

// Run evaluates the whole graph once in topological order and returns the
// final whole-graph result. It is only valid
// to call when Mode() == ModeBatch; callers should use Stream otherwise.
func (e *Executor) Run(ctx context.Context) (map[int]core.Result, error) {
	ctx, cancel := e.withStop(ctx)
	defer cancel()

	start := time.Now()
	core.EmitEvent(e.emit, core.NewEvent(core.EventRunStarted, e.runID))

	total := len(e.order)
	for i, id := range e.order {
		if e.cancelled() || ctx.Err() != nil {
			return nil, core.ErrCancelled
		}

		node := e.nodes[id]
		nodeType := nodeTypeOf(e.graph, id)

		if e.step != nil {
			if err := e.step.BeforeNode(ctx, id, nodeType); err != nil {
				return nil, err
			}
		}

		e.reportProgress(float64(i)/float64(total)*100, "starting "+nodeType, id, nodeType)

		nodeStart := time.Now()
		core.EmitEvent(e.emit, core.NewEvent(core.EventNodeStarted, e.runID).WithNode(id, nodeType))
		result, err := e.runOneBatchNode(ctx, node, id)

		if e.step != nil {
			e.step.AfterNode(ctx, id, nodeType, result, err)
		}

		if err != nil {
			if e.cancelled() {
				return nil, core.ErrCancelled
			}
			core.EmitEvent(e.emit, core.NewEvent(core.EventNodeFailed, e.runID).WithNode(id, nodeType).WithPayload("error", err.Error()))
			return nil, err
		}

		e.mu.Lock()
		e.results[id] = result
		e.mu.Unlock()

		core.EmitEvent(e.emit, core.NewEvent(core.EventNodeFinished, e.runID).WithNode(id, nodeType).WithElapsed(time.Since(nodeStart)))
		e.reportProgress(float64(i+1)/float64(total)*100, "finished "+nodeType, id, nodeType)
	}

	core.EmitEvent(e.emit, core.NewEvent(core.EventRunFinished, e.runID).WithElapsed(time.Since(start)))

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int]core.Result, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out, nil
}

// runOneBatchNode assembles inputs, validates them, and invokes a batch
// node's Execute, wrapping input-validation and execution failures into
// their respective error types.
func (e *Executor) runOneBatchNode(ctx context.Context, node core.Node, id int) (core.Result, error) {
	inputs := e.assembleInputs(id, node)

	if err := node.ValidateInputs(inputs); err != nil {
		return nil, &core.InputValidationError{NodeID: id, Details: err.Error()}
	}

	batch, ok := node.(core.BatchNode)
	if !ok {
		return nil, &core.NodeExecutionError{NodeID: id, Cause: errNotBatchNode}
	}

	if pr, ok := node.(core.ProgressReporter); ok {
		nodeType := nodeTypeOf(e.graph, id)
		pr.SetProgressFunc(func(percent float64, text string) {
			core.EmitEvent(e.emit, core.NewEvent(core.EventNodeProgress, e.runID).WithNode(id, nodeType).
				WithPayload("percent", percent).WithPayload("text", text))
		})
	}

	result, err := batch.Execute(ctx, inputs)
	if err != nil {
		return nil, &core.NodeExecutionError{NodeID: id, Cause: err}
	}
	return result, nil
}

// assembleInputs binds every declared input slot of node from the links
// targeting it, aggregating multi-input slots into an ordered sequence.
func (e *Executor) assembleInputs(id int, node core.Node) core.Inputs {
	schema := node.InputSchema()
	byName := make(map[string]core.InputSlot, len(schema))
	for _, s := range schema {
		byName[s.Name] = s
	}

	inputs := core.Inputs{}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ld := range e.linksByDest[id] {
		srcNode := e.nodes[ld.FromNodeID]
		outs := srcNode.OutputSchema()
		if ld.FromSlot >= len(outs) {
			continue
		}
		outputName := outs[ld.FromSlot].Name
		srcResult, ok := e.results[ld.FromNodeID]
		if !ok {
			continue // source produced no value (upstream omitted optional output)
		}
		val, ok := srcResult[outputName]
		if !ok {
			continue
		}

		dstSlot := node.InputSchema()
		if ld.ToSlot >= len(dstSlot) {
			continue
		}
		inputName := dstSlot[ld.ToSlot].Name
		slot := byName[inputName]

		if slot.Multi {
			seq, _ := inputs[inputName].([]any)
			inputs[inputName] = append(seq, val)
		} else {
			inputs[inputName] = val
		}
	}
	return inputs
}

func (e *Executor) reportProgress(percent float64, text string, nodeID int, nodeType string) {
	core.EmitEvent(e.emit, core.NewEvent(core.EventRunProgress, e.runID).WithNode(nodeID, nodeType).
		WithPayload("percent", percent).WithPayload("text", text))
}

func (e *Executor) withStop(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-e.ctx.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged, cancel
}

func nodeTypeOf(graph core.GraphDescription, id int) string {
	if nd, ok := graph.NodeByID(id); ok {
		return nd.Type
	}
	return ""
}

var errNotBatchNode = errNotBatch{}

type errNotBatch struct{}

func (errNotBatch) Error() string { return "node does not implement BatchNode" }
