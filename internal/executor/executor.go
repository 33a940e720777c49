package executor

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by InvokeBlocking once the executor has been closed.
	ErrClosed = errors.New("executor closed")
	// ErrTaskPanicked is returned by InvokeBlocking when the task panicked.
	ErrTaskPanicked = errors.New("executor task panicked")
)

// Scheduler is the subset of Executor needed by code that only posts work.
type Scheduler interface {
	Schedule(task func()) bool
}

// Executor runs tasks one at a time, in submission order, on a single worker
// goroutine.
//
// Tasks must not block on external I/O. Work that completes later should be
// modeled as a new Schedule call from whoever finishes it.
type Executor struct {
	log *slog.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool
	tasks    []func()

	done    chan struct{}
	dropped atomic.Uint64
	ran     atomic.Uint64
}

func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		log:  logger,
		done: make(chan struct{}),
	}
	e.notEmpty = sync.NewCond(&e.mu)
	go e.run()
	return e
}

// Schedule enqueues task and returns immediately. It reports false when the
// executor is closed; the task is dropped.
func (e *Executor) Schedule(task func()) bool {
	if task == nil {
		return false
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.dropped.Add(1)
		e.log.Debug("executor closed; dropping task")
		return false
	}
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
	e.notEmpty.Signal()
	return true
}

// InvokeBlocking schedules task and waits for it to finish, returning its error.
//
// If ctx is done before the task starts, the task is abandoned and never runs.
// Calling InvokeBlocking from inside a task deadlocks.
func (e *Executor) InvokeBlocking(ctx context.Context, task func() error) error {
	const (
		pending int32 = iota
		started
		abandoned
	)
	var state atomic.Int32
	result := make(chan error, 1)

	ok := e.Schedule(func() {
		if !state.CompareAndSwap(pending, started) {
			return
		}
		err := ErrTaskPanicked
		defer func() { result <- err }()
		err = task()
	})
	if !ok {
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(pending, abandoned) {
			return ctx.Err()
		}
		// Already running; the result is on its way.
		return <-result
	}
}

// Invoke is InvokeBlocking for tasks that produce a value.
func Invoke[T any](ctx context.Context, e *Executor, task func() (T, error)) (T, error) {
	var out T
	err := e.InvokeBlocking(ctx, func() error {
		v, err := task()
		out = v
		return err
	})
	return out, err
}

// Shutdown stops accepting tasks without waiting. Tasks already queued still
// run; Done reports when the worker has exited.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.notEmpty.Broadcast()
}

// Close stops accepting tasks, runs everything already queued and waits for
// the worker to exit. It is safe to call more than once.
func (e *Executor) Close() {
	e.Shutdown()
	<-e.done
}

// Done is closed once the worker has exited.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

func (e *Executor) DroppedCount() uint64 {
	return e.dropped.Load()
}

func (e *Executor) RanCount() uint64 {
	return e.ran.Load()
}

func (e *Executor) run() {
	defer close(e.done)
	for {
		task, ok := e.next()
		if !ok {
			return
		}
		e.runTask(task)
	}
}

// next blocks until a task is available or the executor is closed and drained.
func (e *Executor) next() (func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.tasks) == 0 && !e.closed {
		e.notEmpty.Wait()
	}
	if len(e.tasks) == 0 {
		return nil, false
	}
	task := e.tasks[0]
	e.tasks[0] = nil
	e.tasks = e.tasks[1:]
	return task, true
}

func (e *Executor) runTask(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("panic in executor task", "recover", rec, "stack", string(debug.Stack()))
		}
	}()
	task()
	e.ran.Add(1)
}
