package scratchomised

import (
	"sync"
	"time"
)

// mailbox is an unbounded FIFO with a single consumer. push never blocks,
// so transport readers and timers cannot stall on a slow handler.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{notify: make(chan struct{}, 1)}
}

// push reports false once the mailbox is closed.
func (m *mailbox[T]) push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()
	m.wake()
	return true
}

// pop blocks until an item is available. It reports false when the mailbox
// is closed and drained.
func (m *mailbox[T]) pop() (T, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			var zero T
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, true
		}
		if m.closed {
			m.mu.Unlock()
			var zero T
			return zero, false
		}
		m.mu.Unlock()
		<-m.notify
	}
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox[T]) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// scheduler runs f after d on its own goroutine. The returned func cancels
// the call if it has not started.
type scheduler interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
