package queue

import (
	"context"
	"errors"

	"github.com/petal-labs/nodeflow/catalog"
	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/executor"
	"github.com/petal-labs/nodeflow/wire"
)

// Worker pulls jobs one at a time, drives
// batch or streaming execution, and forwards status/data/error frames to
// the job's client session. A single Worker.Run goroutine is the entire
// concurrency guarantee behind "no two jobs execute concurrently": it never
// starts a second job before the first returns from processOne.
type Worker struct {
	Queue   *Queue
	Catalog *catalog.Catalog
	Emit    core.EventEmitter
}

// NewWorker constructs a Worker bound to queue and cat.
func NewWorker(queue *Queue, cat *catalog.Catalog, emit core.EventEmitter) *Worker {
	return &Worker{Queue: queue, Catalog: cat, Emit: emit}
}

// Run is the worker loop: it blocks on Queue.GetNext until ctx is
// cancelled, processing exactly one job at a time.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.Queue.GetNext(ctx)
		if err != nil {
			return
		}
		w.processOne(ctx, job)
		w.Queue.MarkDone(job)
	}
}

func (w *Worker) processOne(ctx context.Context, job *Job) {
	send := job.Session.Send

	_ = send(wire.StatusMessage(wire.StatusStarting))

	exec, err := executor.New(job.Graph, w.Catalog, executor.Options{Emit: w.Emit})
	if err != nil {
		_ = send(wire.ErrorMessage(err.Error()))
		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		select {
		case <-job.CancelSignal():
			exec.Stop()
			cancelRun()
		case <-job.Session.Done():
			exec.Stop()
			cancelRun()
		case <-runCtx.Done():
		}
	}()
	defer func() { <-monitorDone }()

	if exec.Mode() == executor.ModeBatch {
		w.runBatch(runCtx, job, exec, send)
		return
	}
	w.runStreaming(runCtx, job, exec, send)
}

func (w *Worker) runBatch(ctx context.Context, job *Job, exec *executor.Executor, send func(wire.Message) error) {
	_ = send(wire.StatusMessage(wire.StatusExecutingBatch))

	result, err := exec.Run(ctx)
	if err != nil {
		if errors.Is(err, core.ErrCancelled) || job.CancelRequested() {
			_ = send(wire.StatusMessage(wire.StatusStopped))
			return
		}
		_ = send(wire.ErrorMessage(err.Error()))
		return
	}

	_ = send(wire.DataMessage(false, graphResult(result)))
	_ = send(wire.StatusMessage(wire.StatusBatchFinished))
}

func (w *Worker) runStreaming(ctx context.Context, job *Job, exec *executor.Executor, send func(wire.Message) error) {
	_ = send(wire.StatusMessage(wire.StatusStreamStarting))

	ticks, err := exec.Stream(ctx)
	if err != nil {
		if errors.Is(err, core.ErrCancelled) || job.CancelRequested() {
			_ = send(wire.StatusMessage(wire.StatusStopped))
			return
		}
		_ = send(wire.ErrorMessage(err.Error()))
		return
	}

	for tick := range ticks {
		if tick.Err != nil {
			if job.CancelRequested() {
				_ = send(wire.StatusMessage(wire.StatusStopped))
				return
			}
			_ = send(wire.ErrorMessage(tick.Err.Error()))
			return
		}
		if err := send(wire.DataMessage(true, graphResult(tick.Results))); err != nil {
			// Client gone: cancellation is picked up by the session-done
			// monitor; stop draining.
			return
		}
	}

	if job.CancelRequested() {
		_ = send(wire.StatusMessage(wire.StatusStopped))
		return
	}
	_ = send(wire.StatusMessage(wire.StatusStreamFinished))
}

// graphResult converts the executor's per-node results into the plain
// mapping shape wire.DataMessage accepts.
func graphResult(results map[int]core.Result) map[int]map[string]any {
	out := make(map[int]map[string]any, len(results))
	for id, r := range results {
		out[id] = r
	}
	return out
}
