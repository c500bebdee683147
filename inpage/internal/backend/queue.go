package backend

import (
	"context"
	"sync"

	"github.com/hazyhaar/overlay/inpage/message"
)

// requestQueue is an unbounded FIFO shared by one or more consumers. push
// never blocks, so a pipeline handing requests over can never stall on a
// consumer that is itself waiting to deliver a response.
type requestQueue struct {
	mu    sync.Mutex
	items []message.Request
	wake  chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{wake: make(chan struct{}, 1)}
}

func (q *requestQueue) push(r message.Request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
	q.signal()
}

// pop waits for the oldest request. It returns false once ctx is done.
func (q *requestQueue) pop(ctx context.Context) (message.Request, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			r := q.items[0]
			q.items[0] = message.Request{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// Pass the token on so another idle consumer picks up the rest.
				q.signal()
			}
			return r, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return message.Request{}, false
		case <-q.wake:
		}
	}
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *requestQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
