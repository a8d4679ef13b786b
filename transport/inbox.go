package transport

import (
	"sync"
	"time"

	"github.com/unixpickle/distvec/protocol"
	"github.com/unixpickle/essentials"
)

// An inbox queues incoming messages and feeds them to a
// handler from a single Goroutine.
type inbox struct {
	lock    sync.Mutex
	cond    *sync.Cond
	queue   []*pendingMessage
	handler func(msg *protocol.Message)
	closed  bool

	// lastReady keeps delivery times non-decreasing so
	// that no network can reorder a single channel.
	lastReady time.Time
}

type pendingMessage struct {
	msg     *protocol.Message
	readyAt time.Time
}

func newInbox() *inbox {
	res := &inbox{}
	res.cond = sync.NewCond(&res.lock)
	go res.run()
	return res
}

// push queues a message for delivery no sooner than
// readyAt.
//
// Returns false if the inbox is closed.
func (i *inbox) push(msg *protocol.Message, readyAt time.Time) bool {
	i.lock.Lock()
	defer i.lock.Unlock()
	if i.closed {
		return false
	}
	if readyAt.Before(i.lastReady) {
		readyAt = i.lastReady
	}
	i.lastReady = readyAt
	i.queue = append(i.queue, &pendingMessage{msg: msg, readyAt: readyAt})
	i.cond.Signal()
	return true
}

func (i *inbox) setHandler(h func(msg *protocol.Message)) {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.handler = h
	i.cond.Signal()
}

func (i *inbox) close() {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.closed = true
	i.queue = nil
	i.cond.Signal()
}

func (i *inbox) run() {
	for {
		i.lock.Lock()
		for !i.closed && (len(i.queue) == 0 || i.handler == nil) {
			i.cond.Wait()
		}
		if i.closed {
			i.lock.Unlock()
			return
		}
		next := i.queue[0]
		essentials.OrderedDelete(&i.queue, 0)
		i.lock.Unlock()

		if wait := time.Until(next.readyAt); wait > 0 {
			time.Sleep(wait)
		}

		// Re-read the handler after sleeping so that a
		// replacement takes effect for delayed messages.
		i.lock.Lock()
		handler, closed := i.handler, i.closed
		i.lock.Unlock()
		if closed {
			return
		}
		handler(next.msg)
	}
}
