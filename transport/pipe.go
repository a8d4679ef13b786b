package transport

import (
	"sync"

	"github.com/unixpickle/distvec/protocol"
)

// An Endpoint is one end of an in-process channel.
//
// Buffers sent through an Endpoint are handed to the peer
// without copying.
type Endpoint struct {
	network Network
	inbox   *inbox
	peer    *Endpoint
	link    *pipeLink
}

type pipeLink struct {
	closeOnce sync.Once
	done      chan struct{}
}

// NewPipe creates two connected endpoints.
//
// If network is nil, a DirectNetwork is used.
func NewPipe(network Network) (*Endpoint, *Endpoint) {
	if network == nil {
		network = DirectNetwork{}
	}
	link := &pipeLink{done: make(chan struct{})}
	a := &Endpoint{network: network, inbox: newInbox(), link: link}
	b := &Endpoint{network: network, inbox: newInbox(), link: link}
	a.peer = b
	b.peer = a
	return a, b
}

// Send moves the message to the peer endpoint.
func (e *Endpoint) Send(msg *protocol.Message) error {
	select {
	case <-e.link.done:
		return ErrClosed
	default:
	}
	out, err := moveMessage(msg)
	if err != nil {
		return err
	}
	if !e.peer.inbox.push(out, e.network.DeliveryTime(e.peer, out.Size())) {
		return ErrClosed
	}
	return nil
}

// OnMessage sets the delivery callback.
func (e *Endpoint) OnMessage(handler func(msg *protocol.Message)) {
	e.inbox.setHandler(handler)
}

// Close terminates both ends of the pipe.
func (e *Endpoint) Close() error {
	e.link.closeOnce.Do(func() {
		e.inbox.close()
		e.peer.inbox.close()
		close(e.link.done)
	})
	return nil
}

// Done is closed when either end is closed.
func (e *Endpoint) Done() <-chan struct{} {
	return e.link.done
}

// A GoSpawner runs every worker in its own Goroutine,
// connected to the coordinator by a pipe.
type GoSpawner struct {
	// Network is shared by every pipe.
	// If nil, a DirectNetwork is used.
	Network Network

	// Entry is run in a new Goroutine with the worker's
	// end of the pipe.
	Entry func(t Transport)
}

// Spawn starts a worker Goroutine.
func (g *GoSpawner) Spawn(id int) (Transport, error) {
	if g.Entry == nil {
		return nil, ErrNoWorkerContext
	}
	coordSide, workerSide := NewPipe(g.Network)
	go g.Entry(workerSide)
	return coordSide, nil
}
