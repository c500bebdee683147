package host

import "sync"

// Notifier fans change notifications out to subscribers. Each subscriber
// gets its own goroutine and an unbounded ordered queue, so Emit never
// blocks and a subscriber that mutates the tree from inside its callback
// path is not re-entered synchronously. The zero value is ready to use.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]*subscription
	n    int
}

type subscription struct {
	fn    ChangeFunc
	mu    sync.Mutex
	queue []Change
	wake  chan struct{}
	done  chan struct{}
}

// Subscribe registers fn and returns its cancel func.
func (n *Notifier) Subscribe(fn ChangeFunc) func() {
	s := &subscription{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[int]*subscription)
	}
	n.n++
	id := n.n
	n.subs[id] = s
	n.mu.Unlock()

	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(s.done)
		})
	}
}

// Emit queues c for every current subscriber.
func (n *Notifier) Emit(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subs {
		s.push(c)
	}
}

func (s *subscription) push(c Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			c := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(c)
		}
	}
}
