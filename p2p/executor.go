package p2p

import (
	"context"
	"sync"

	"github.com/JekaMas/workerpool"
	"github.com/inconshreveable/log15"

	"github.com/bcosnet/go-bcosnet/common"
)

// Executor runs user callbacks away from the socket goroutines.
// Post return false if fn was not accepted.
type Executor interface {
	Post(fn func()) bool
}

type executor struct {
	mu      sync.RWMutex
	stopped bool
	pool    *workerpool.WorkerPool
	log     log15.Logger
}

func newExecutor(workers int) *executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &executor{
		pool: workerpool.New(workers),
		log:  log15.New("module", "p2p/executor"),
	}
}

func (e *executor) Post(fn func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.stopped {
		return false
	}

	e.pool.Submit(context.Background(), func() error {
		if common.Catch(fn) {
			e.log.Error("callback panic recovered")
		}
		return nil
	}, 0)

	return true
}

// Pending is the count of callbacks waiting for a worker
func (e *executor) Pending() int {
	return e.pool.WaitingQueueSize()
}

// Stop wait queued callbacks to finish, later Post calls are refused
func (e *executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.pool.StopWait()
}

// post run fn on exec, or inline if exec refuses it, so a callback is never lost
func post(exec Executor, fn func()) {
	if exec == nil || !exec.Post(fn) {
		common.Catch(fn)
	}
}
