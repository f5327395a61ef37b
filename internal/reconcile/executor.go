// Package reconcile implements the three CR reconcilers (Job,
// Function, Endpoint) and the per-key serialization they share: at
// most one reconcile in flight for a given CR key, while distinct
// keys run concurrently and preserve the order events for the same
// key arrived in.
package reconcile

import (
	"context"
	"sync"

	"github.com/catalystcommunity/app-utils-go/logging"
)

// KeyedExecutor serializes work per key: Submit blocks the caller
// while a task for the same key runs, queuing subsequent tasks for
// that key behind it, but never blocks tasks for a different key.
// Generalized from the teacher's per-worker LifecycleManager
// active-job bookkeeping into a general-purpose per-key queue.
type KeyedExecutor struct {
	mu      sync.Mutex
	queues  map[string]chan func()
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewKeyedExecutor() *KeyedExecutor {
	return &KeyedExecutor{
		queues:  make(map[string]chan func()),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit runs fn(ctx) serialized against any other task sharing key.
// The context passed to fn is cancelled if Cancel(key) is called
// while fn runs; a Cancel issued while the task is still queued does
// not reach it.
func (e *KeyedExecutor) Submit(ctx context.Context, key string, fn func(context.Context)) {
	queue := e.queueFor(key)
	done := make(chan struct{})
	queue <- func() {
		defer close(done)
		taskCtx, cancel := context.WithCancel(ctx)
		e.mu.Lock()
		e.cancels[key] = cancel
		e.mu.Unlock()
		defer cancel()
		fn(taskCtx)
	}
	<-done
}

// Cancel cancels the in-flight task for key, if any. It does not
// prevent queued-but-not-yet-started tasks from starting.
func (e *KeyedExecutor) Cancel(key string) {
	e.mu.Lock()
	cancel, ok := e.cancels[key]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *KeyedExecutor) queueFor(key string) chan func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	queue, ok := e.queues[key]
	if ok {
		return queue
	}

	queue = make(chan func(), 32)
	e.queues[key] = queue
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for task := range queue {
			task()
		}
	}()
	return queue
}

// Close stops accepting new keys' workers once their queues drain.
// Existing queued tasks still run to completion.
func (e *KeyedExecutor) Close() {
	e.mu.Lock()
	queues := make([]chan func(), 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	e.mu.Unlock()

	for _, q := range queues {
		close(q)
	}
	e.wg.Wait()
	logging.Log.Debug("keyed executor drained")
}
