package executor

const minQueueCap = 8

// queue is FIFO ring buffer of tasks. It grows on demand and never shrinks.
// Not safe for concurrent use.
type queue struct {
	buf  []Task
	head int
	len  int
}

func (q *queue) empty() bool { return q.len == 0 }

func (q *queue) push(t Task) {
	if q.len == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.len)%len(q.buf)] = t
	q.len++
}

func (q *queue) pop() Task {
	if q.len == 0 {
		panic("pop from empty queue")
	}
	t := q.buf[q.head]
	q.buf[q.head] = nil // Let closure be collected.
	q.head = (q.head + 1) % len(q.buf)
	q.len--
	return t
}

func (q *queue) grow() {
	newCap := 2 * len(q.buf)
	if newCap < minQueueCap {
		newCap = minQueueCap
	}
	buf := make([]Task, newCap)
	n := copy(buf, q.buf[q.head:])
	copy(buf[n:], q.buf[:q.head])
	q.buf = buf
	q.head = 0
}
