package supervisor

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Loop serializes everything a supervisor does. Callbacks never run
// concurrently with each other.
type Loop interface {
	Now() time.Time
	// Post queues fn to run on the loop.
	Post(fn func())
	// After queues fn to run on the loop once d has elapsed.
	After(d time.Duration, fn func()) Timer
	// Spawn runs work off the loop and posts the callback it returns.
	Spawn(work func() func())
}

// eventLoop is the production Loop: one goroutine draining an unbounded queue.
// The queue is unbounded so a Player goroutine posting events can never
// block on a loop that is waiting on that Player.
type eventLoop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run drains the queue until Stop is called.
func (l *eventLoop) Run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}

		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, fn := range batch {
			select {
			case <-l.done:
				return
			default:
			}
			fn()
		}
	}
}

// Stop ends Run. Queued callbacks are dropped.
func (l *eventLoop) Stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *eventLoop) Now() time.Time { return time.Now() }

func (l *eventLoop) Post(fn func()) {
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		return
	default:
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *eventLoop) After(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

func (l *eventLoop) Spawn(work func() func()) {
	go func() {
		if done := work(); done != nil {
			l.Post(done)
		}
	}()
}
