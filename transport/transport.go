// Package transport implements the channels between a
// coordinator and its workers.
package transport

import (
	"errors"
	"fmt"

	"github.com/unixpickle/distvec/protocol"
)

var (
	ErrClosed          = errors.New("transport is closed")
	ErrNoWorkerContext = errors.New("no worker execution context available")
)

// A Transport is one bidirectional message channel to a
// peer execution context.
type Transport interface {
	// Send transmits a message.
	//
	// Every Buffer in msg.Buffers is moved to the peer;
	// the sender's Buffers are released and must not be
	// read afterwards.
	//
	// This is a non-blocking operation.
	Send(msg *protocol.Message) error

	// OnMessage sets the delivery callback.
	//
	// There is exactly one callback: registering a new
	// one replaces the old one.
	// Messages are delivered one at a time in the order
	// they were sent, and messages that arrive before any
	// callback is registered are queued.
	OnMessage(handler func(msg *protocol.Message))

	// Close terminates the channel.
	Close() error

	// Done is closed once the channel is terminated by
	// either side.
	Done() <-chan struct{}
}

// A Spawner creates worker execution contexts.
type Spawner interface {
	// Spawn starts a worker and returns the coordinator's
	// end of the channel to it.
	Spawn(id int) (Transport, error)
}

// moveMessage creates a copy of msg that owns all of its
// buffers, releasing the originals.
func moveMessage(msg *protocol.Message) (*protocol.Message, error) {
	for i, b := range msg.Buffers {
		if b == nil || b.Released() {
			return nil, fmt.Errorf("send %s: buffer %d was already transferred", msg.Handle, i)
		}
	}
	res := msg.ShallowCopy()
	if len(msg.Buffers) > 0 {
		res.Buffers = make([]*protocol.Buffer, len(msg.Buffers))
		for i, b := range msg.Buffers {
			res.Buffers[i] = b.Move()
		}
	}
	return res, nil
}
