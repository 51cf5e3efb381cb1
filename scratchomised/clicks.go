package scratchomised

import (
	"slices"
	"sync"
)

// ClickLedger remembers which objects were clicked since they were last read.
type ClickLedger struct {
	mu      sync.Mutex
	pending map[string]bool
}

func NewClickLedger() *ClickLedger {
	return &ClickLedger{pending: map[string]bool{}}
}

// Record marks id as clicked. Repeated clicks before a read collapse into one.
func (l *ClickLedger) Record(id string) {
	l.mu.Lock()
	l.pending[id] = true
	l.mu.Unlock()
}

// Consume returns whether id was clicked and clears the flag in the same step.
func (l *ClickLedger) Consume(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.pending[id]
	l.pending[id] = false
	return was
}

// Pending lists the ids with an unread click, sorted.
func (l *ClickLedger) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for id, p := range l.pending {
		if p {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (l *ClickLedger) Clear() {
	l.mu.Lock()
	l.pending = map[string]bool{}
	l.mu.Unlock()
}
