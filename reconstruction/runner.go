package reconstruction

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
)

var errRunPanicked = errors.New("reconstruction panicked")

// Runner executes one run on a dedicated goroutine and delivers its events over a channel. Events
// are queued without bound so a slow reader never stalls integration.
type Runner struct {
	cancel   context.CancelFunc
	events   chan Event
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup

	mu       sync.Mutex
	queue    []Event
	finished bool
	notify   chan struct{}

	result *Result
	err    error
}

// Start begins reconstructing the capture at root. Any event handler in opts is replaced by the
// runner's channel. Close must be called to release the runner.
func Start(ctx context.Context, root string, cfg *config.Config, logger logging.Logger, opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	r := &Runner{
		cancel:  cancel,
		events:  make(chan Event),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		notify:  make(chan struct{}, 1),
		err:     errRunPanicked,
	}
	opts = append(opts, WithEventHandler(r.enqueue))

	r.workers.Add(2)
	goutils.PanicCapturingGo(func() {
		defer r.workers.Done()
		defer close(r.done)
		defer r.finish()
		defer cancel()
		r.result, r.err = Run(ctx, root, cfg, logger, opts...)
	})
	goutils.PanicCapturingGo(func() {
		defer r.workers.Done()
		r.forward()
	})
	return r
}

// Events returns the run's events. The channel is closed after the last event has been
// delivered or the runner is closed.
func (r *Runner) Events() <-chan Event {
	return r.events
}

// Wait blocks until the run ends and returns its outcome.
func (r *Runner) Wait() (*Result, error) {
	<-r.done
	return r.result, r.err
}

// Cancel asks the run to stop; it returns ErrCancelled within one frame set.
func (r *Runner) Cancel() {
	r.cancel()
}

// Close cancels the run if it is still going, stops event delivery and waits for both
// goroutines to exit.
func (r *Runner) Close() {
	r.cancel()
	r.stopOnce.Do(func() { close(r.stopped) })
	r.workers.Wait()
}

func (r *Runner) enqueue(e Event) {
	r.mu.Lock()
	r.queue = append(r.queue, e)
	r.mu.Unlock()
	r.wake()
}

func (r *Runner) finish() {
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()
	r.wake()
}

func (r *Runner) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest queued event, waiting for one. ok is false once the run has finished and
// the queue is drained, or the runner is closed.
func (r *Runner) next() (Event, bool) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			e := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return e, true
		}
		finished := r.finished
		r.mu.Unlock()
		if finished {
			return Event{}, false
		}
		select {
		case <-r.notify:
		case <-r.stopped:
			return Event{}, false
		}
	}
}

func (r *Runner) forward() {
	defer close(r.events)
	for {
		e, ok := r.next()
		if !ok {
			return
		}
		select {
		case r.events <- e:
		case <-r.stopped:
			return
		}
	}
}
