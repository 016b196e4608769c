package delivery

import (
	"sort"
	"sync"
)

// fifo is a bounded slice-backed queue. head advances on pop; the backing
// slice is compacted once the dead prefix dominates.
type fifo struct {
	items []Message
	head  int
}

func (f *fifo) len() int { return len(f.items) - f.head }

func (f *fifo) push(m Message) { f.items = append(f.items, m) }

func (f *fifo) pop() (Message, bool) {
	if f.len() == 0 {
		return Message{}, false
	}
	m := f.items[f.head]
	f.items[f.head] = Message{}
	f.head++
	switch {
	case f.head == len(f.items):
		f.items = f.items[:0]
		f.head = 0
	case f.head > 32 && f.head*2 >= len(f.items):
		n := copy(f.items, f.items[f.head:])
		f.items = f.items[:n]
		f.head = 0
	}
	return m, true
}

// Queue is a set of bounded per-group FIFOs. Nothing in it blocks.
type Queue struct {
	size int

	mu     sync.Mutex
	groups map[string]*fifo
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{size: size, groups: map[string]*fifo{}}
}

// Enqueue validates m and appends it to its group's FIFO.
// Validation errors are returned as is; a full group yields ErrQueueFull.
func (q *Queue) Enqueue(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	f := q.groups[m.GroupID]
	if f == nil {
		f = &fifo{}
		q.groups[m.GroupID] = f
	}
	if f.len() >= q.size {
		return ErrQueueFull
	}
	f.push(m)
	return nil
}

// Dequeue pops the group's oldest message. ok is false when there is none.
func (q *Queue) Dequeue(groupID string) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f := q.groups[groupID]
	if f == nil {
		return Message{}, false
	}
	return f.pop()
}

func (q *Queue) Len(groupID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if f := q.groups[groupID]; f != nil {
		return f.len()
	}
	return 0
}

// Total is the number of queued messages across all groups.
func (q *Queue) Total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, f := range q.groups {
		n += f.len()
	}
	return n
}

// Groups lists groups that currently own a FIFO (possibly empty), sorted.
func (q *Queue) Groups() []string {
	q.mu.Lock()
	out := make([]string, 0, len(q.groups))
	for g := range q.groups {
		out = append(out, g)
	}
	q.mu.Unlock()
	sort.Strings(out)
	return out
}

// Cleanup removes empty FIFOs and returns how many went.
func (q *Queue) Cleanup() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for g, f := range q.groups {
		if f.len() == 0 {
			delete(q.groups, g)
			n++
		}
	}
	return n
}
