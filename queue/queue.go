// Package queue implements the execution queue: FIFO admission
// of graph jobs, at most one running job, and cancellation of queued or
// running jobs.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/transport"
)

// Job is one admitted graph execution.
type Job struct {
	ID      int64
	Session transport.ClientSession
	Graph   core.GraphDescription

	cancelRequested atomic.Bool
	cancelCh        chan struct{}
	cancelOnce      sync.Once
	done            atomic.Bool
	doneCh          chan struct{}
	doneOnce        sync.Once

	mu       sync.Mutex
	position int
}

func newJob(id int64, session transport.ClientSession, graph core.GraphDescription) *Job {
	return &Job{ID: id, Session: session, Graph: graph, doneCh: make(chan struct{}), cancelCh: make(chan struct{})}
}

// CancelRequested reports whether the job has been asked to stop.
func (j *Job) CancelRequested() bool { return j.cancelRequested.Load() }

// CancelSignal is closed exactly once, the moment a running job is
// cancelled, so a worker can select on it instead of polling
// CancelRequested.
func (j *Job) CancelSignal() <-chan struct{} { return j.cancelCh }

func (j *Job) requestCancel() {
	j.cancelRequested.Store(true)
	j.cancelOnce.Do(func() { close(j.cancelCh) })
}

// Done returns a channel closed exactly once, when the job's terminal
// status has been delivered (spec invariant: "done_flag is always set
// exactly once").
func (j *Job) Done() <-chan struct{} { return j.doneCh }

// markDone closes doneCh exactly once.
func (j *Job) markDone() {
	j.doneOnce.Do(func() {
		j.done.Store(true)
		close(j.doneCh)
	})
}

// Position returns the job's last-known queue position (0 = running,
// otherwise its zero-based index in the pending slice). It is a snapshot;
// call Queue.Position for a live value.
func (j *Job) Position() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.position
}

func (j *Job) setPosition(p int) {
	j.mu.Lock()
	j.position = p
	j.mu.Unlock()
}

// Queue is the single-worker FIFO admission queue. All operations are
// safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending   []*Job
	running   *Job
	cancelled map[int64]bool
	nextID    int64

	emit core.EventEmitter
}

// New creates an empty Queue. emit may be nil.
func New(emit core.EventEmitter) *Queue {
	q := &Queue{cancelled: make(map[int64]bool), emit: emit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a new job to the pending queue and returns it
// immediately.
func (q *Queue) Enqueue(session transport.ClientSession, graph core.GraphDescription) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	job := newJob(q.nextID, session, graph)
	q.pending = append(q.pending, job)
	job.setPosition(len(q.pending) - 1)

	core.EmitEvent(q.emit, core.NewEvent(core.EventQueueEnqueued, "").WithJob(job.ID).
		WithPayload("position", job.Position()))

	q.cond.Broadcast()
	return job
}

// GetNext blocks until a non-cancelled job reaches the head of the pending
// queue, atomically moves it to running, and returns it. Cancelled jobs at
// the head are silently dropped (their done channel is closed and they are
// removed) before a candidate is returned. GetNext returns ctx.Err() if ctx
// is cancelled first.
func (q *Queue) GetNext(ctx context.Context) (*Job, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for len(q.pending) > 0 && q.cancelled[q.pending[0].ID] {
			job := q.pending[0]
			q.pending = q.pending[1:]
			delete(q.cancelled, job.ID)
			job.markDone()
			q.reindexLocked()
		}

		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			q.running = job
			job.setPosition(0)
			q.reindexLocked()
			return job, nil
		}

		q.cond.Wait()
	}
}

// CancelJob marks a job cancelled. If the job is
// pending, it is removed immediately and its done channel closed. If it is
// running, the job's cancel flag is set and the worker is expected to stop
// it. Returns false if the job id is unknown to the queue.
func (q *Queue) CancelJob(jobID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.cancelled[jobID] = true
	core.EmitEvent(q.emit, core.NewEvent(core.EventQueueCancel, "").WithJob(jobID))

	for i, job := range q.pending {
		if job.ID == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			delete(q.cancelled, jobID)
			job.markDone()
			q.reindexLocked()
			q.cond.Broadcast()
			return true
		}
	}

	if q.running != nil && q.running.ID == jobID {
		q.running.requestCancel()
		return true
	}

	return false
}

// MarkDone clears the running slot for job and
// wakes any blocked GetNext callers.
func (q *Queue) MarkDone(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running == job {
		q.running = nil
	}
	job.markDone()
	q.cond.Broadcast()
}

// Position returns 0 if job is running, otherwise its live zero-based
// index in the pending slice, or -1 if the job is neither.
func (q *Queue) Position(job *Job) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running == job {
		return 0
	}
	for i, j := range q.pending {
		if j == job {
			return i
		}
	}
	return -1
}

// reindexLocked recomputes every pending job's cached position. Callers
// must hold q.mu.
func (q *Queue) reindexLocked() {
	for i, j := range q.pending {
		j.setPosition(i)
	}
}
