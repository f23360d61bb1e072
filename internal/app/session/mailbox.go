package session

import "sync"

// mailbox is an unbounded FIFO feeding the session loop. post never blocks,
// so negotiator callbacks and the loop itself can enqueue safely.
type mailbox struct {
	mu     sync.Mutex
	queue  []any
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev any) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []any {
	m.mu.Lock()
	q := m.queue
	m.queue = nil
	m.mu.Unlock()
	return q
}
