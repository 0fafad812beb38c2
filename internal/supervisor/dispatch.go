package supervisor

import (
	"context"
	"log"
	"sync"
)

// dispatcher delivers completion events in order through an unbounded
// queue so a slow consumer never blocks a finishing run.
type dispatcher struct {
	mu     sync.Mutex
	queue  []Event
	closed bool

	wake chan struct{}
	out  chan Event
	quit chan struct{}
	done chan struct{}
}

func newDispatcher(buffer int) *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		out:  make(chan Event, buffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) push(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Printf("[WARN] dropping event for %s after close", ev.Account)
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)
	defer close(d.out)

	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for i, ev := range batch {
			select {
			case d.out <- ev:
			case <-d.quit:
				log.Printf("[WARN] event consumer gone, dropped %d event(s)", len(batch)-i)
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

// close stops accepting events and waits for the queue to drain. If ctx
// ends first the remaining events are dropped.
func (d *dispatcher) close(ctx context.Context) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()

	select {
	case <-d.done:
	case <-ctx.Done():
		close(d.quit)
		<-d.done
	}
}
