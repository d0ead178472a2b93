package tsdb

import "sync"

// lineQueue holds encoded lines until the next flush.
type lineQueue struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newLineQueue(limit int) *lineQueue {
	return &lineQueue{lines: make([]string, 0, limit), limit: limit}
}

// push appends a line and reports whether the queue has reached its limit.
func (q *lineQueue) push(line string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lines = append(q.lines, line)
	return len(q.lines) >= q.limit
}

// drain empties the queue and returns what it held, or nil.
func (q *lineQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.lines) == 0 {
		return nil
	}
	out := q.lines
	q.lines = make([]string, 0, q.limit)
	return out
}
