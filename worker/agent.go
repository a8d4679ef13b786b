// Package worker implements the agent that runs inside
// every worker execution context.
//
// An Agent owns the operands broadcast to it, runs
// handlers when the coordinator triggers them, and
// reports its partition of each result back through the
// gather and reduce protocol.
package worker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/partition"
	"github.com/unixpickle/distvec/protocol"
	"github.com/unixpickle/distvec/transport"
	"go.uber.org/zap"
)

var (
	ErrUnregisteredTag = errors.New("no handler registered for tag")
	ErrMissingOperand  = errors.New("operand has not been broadcast")
	ErrNotReady        = errors.New("worker has not been initialized")
)

// A Handler runs inside a worker when its tag is
// triggered, or when a value is broadcast under its tag.
//
// For broadcasts, call is nil and the value is available
// through the Agent's accessors.
type Handler func(a *Agent, call *protocol.Call) error

// An Agent is a worker's view of the pool.
//
// Messages are handled one at a time on the transport's
// delivery Goroutine; handlers need no locking to access
// the Agent's operands.
type Agent struct {
	transport transport.Transport
	logger    *zap.Logger

	lock sync.RWMutex

	// Set by _init, guarded by lock.
	id    int
	count int
	ready bool

	handlers map[string]Handler
	funcs    map[string]func(float64) float64

	vectors  map[string]*linalg.Vector
	matrices map[string]*linalg.Matrix
	values   map[string]interface{}
}

// NewAgent creates an Agent for a transport.
// The Agent ignores t until Start is called, so handlers
// can be registered before _init arrives.
//
// If logger is nil, nothing is logged.
func NewAgent(t transport.Transport, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		transport: t,
		logger:    logger,
		handlers:  map[string]Handler{},
		funcs:     map[string]func(float64) float64{},
		vectors:   map[string]*linalg.Vector{},
		matrices:  map[string]*linalg.Matrix{},
		values:    map[string]interface{}{},
	}
	return a
}

// Start begins handling messages from the transport.
func (a *Agent) Start() {
	a.transport.OnMessage(a.handleMessage)
}

// ID gets the worker's ID, assigned by _init.
func (a *Agent) ID() int {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.id
}

// Count gets the number of workers in the pool.
func (a *Agent) Count() int {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.count
}

// Ready checks if _init has been received.
func (a *Agent) Ready() bool {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.ready
}

// Range gets this worker's partition of [0, n).
func (a *Agent) Range(n int) partition.Range {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return partition.Partition(n, a.count, a.id)
}

// Done is closed when the transport terminates.
func (a *Agent) Done() <-chan struct{} {
	return a.transport.Done()
}

// On registers the handler for a tag.
//
// There is at most one handler per tag: registering a
// new one replaces the previous one.
func (a *Agent) On(tag string, h Handler) error {
	if tag == "" {
		return errors.New("register handler: empty tag")
	}
	if h == nil {
		return fmt.Errorf("register handler %q: nil handler", tag)
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	a.handlers[tag] = h
	return nil
}

// Off removes the handler for a tag, if there is one.
func (a *Agent) Off(tag string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	delete(a.handlers, tag)
}

// RegisterFunc names an elementwise function for apply
// operations, replacing any function with the same name.
func (a *Agent) RegisterFunc(name string, f func(float64) float64) error {
	if name == "" || f == nil {
		return errors.New("register function: empty name or nil function")
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	a.funcs[name] = f
	return nil
}

// Func looks up a registered elementwise function.
func (a *Agent) Func(name string) (func(float64) float64, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	if f, ok := a.funcs[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown function %q", name)
}

// Vector gets a vector broadcast under tag.
func (a *Agent) Vector(tag string) (*linalg.Vector, error) {
	if v, ok := a.vectors[tag]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: vector %q", ErrMissingOperand, tag)
}

// Matrix gets a matrix broadcast under tag.
func (a *Agent) Matrix(tag string) (*linalg.Matrix, error) {
	if m, ok := a.matrices[tag]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: matrix %q", ErrMissingOperand, tag)
}

// Value gets a value broadcast under tag with
// _broadcastData.
func (a *Agent) Value(tag string) (interface{}, error) {
	if v, ok := a.values[tag]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: value %q", ErrMissingOperand, tag)
}

// SetVector stores a vector locally, as if it had been
// broadcast.
func (a *Agent) SetVector(tag string, v *linalg.Vector) {
	a.vectors[tag] = v
}

// SetMatrix stores a matrix locally, as if it had been
// broadcast.
func (a *Agent) SetMatrix(tag string, m *linalg.Matrix) {
	a.matrices[tag] = m
}

// Release drops every operand stored under the tags.
func (a *Agent) Release(tags ...string) {
	for _, tag := range tags {
		delete(a.vectors, tag)
		delete(a.matrices, tag)
		delete(a.values, tag)
	}
}

func (a *Agent) handleMessage(msg *protocol.Message) {
	var err error
	switch msg.Handle {
	case protocol.Init:
		err = a.handleInit(msg)
	case protocol.Trigger:
		err = a.handleTrigger(msg)
	case protocol.BroadcastData:
		a.values[msg.Tag] = msg.Value
		err = a.dispatchBroadcast(msg.Tag)
	case protocol.BroadcastVector:
		if err = expectBuffers(msg, 1); err == nil {
			a.vectors[msg.Tag] = &linalg.Vector{Data: msg.Buffers[0].Take()}
			err = a.dispatchBroadcast(msg.Tag)
		}
	case protocol.BroadcastMatrix:
		if err = expectBuffers(msg, 1); err == nil {
			data := msg.Buffers[0].Take()
			if len(data) != msg.Rows*msg.Cols {
				err = fmt.Errorf("broadcast matrix %q: %d entries for %dx%d", msg.Tag, len(data),
					msg.Rows, msg.Cols)
				break
			}
			a.matrices[msg.Tag] = &linalg.Matrix{Rows: msg.Rows, Cols: msg.Cols, Data: data}
			err = a.dispatchBroadcast(msg.Tag)
		}
	case protocol.Release:
		a.Release(msg.Tags...)
	default:
		err = fmt.Errorf("%w: %s", protocol.ErrUnknownHandle, msg.Handle)
	}
	if err != nil {
		a.logger.Warn("failed to handle message",
			zap.Int("worker", a.ID()),
			zap.Stringer("handle", msg.Handle),
			zap.String("tag", msg.Tag),
			zap.Error(err))
	}
}

func (a *Agent) handleInit(msg *protocol.Message) error {
	if msg.WorkerCount < 1 || msg.WorkerID < 0 || msg.WorkerID >= msg.WorkerCount {
		return fmt.Errorf("invalid identity %d of %d", msg.WorkerID, msg.WorkerCount)
	}
	a.lock.Lock()
	a.id = msg.WorkerID
	a.count = msg.WorkerCount
	a.ready = true
	a.lock.Unlock()
	a.logger.Debug("worker ready", zap.Int("worker", msg.WorkerID), zap.Int("count", msg.WorkerCount))
	return a.transport.Send(&protocol.Message{
		Handle:   protocol.WorkerReady,
		Tag:      protocol.ReadyTag,
		WorkerID: msg.WorkerID,
	})
}

func (a *Agent) handleTrigger(msg *protocol.Message) error {
	if !a.Ready() {
		return ErrNotReady
	}
	h := a.handler(msg.Tag)
	if h == nil {
		return fmt.Errorf("%w: %q", ErrUnregisteredTag, msg.Tag)
	}
	call := msg.Call
	if call == nil {
		call = &protocol.Call{Result: msg.Tag}
	}
	return h(a, call)
}

// dispatchBroadcast runs the handler registered for a
// broadcast tag, if any.
// Without a handler, the value is simply stored.
func (a *Agent) dispatchBroadcast(tag string) error {
	if h := a.handler(tag); h != nil {
		return h(a, nil)
	}
	return nil
}

func (a *Agent) handler(tag string) Handler {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.handlers[tag]
}

func expectBuffers(msg *protocol.Message, n int) error {
	if len(msg.Buffers) != n {
		return fmt.Errorf("%s %q: expected %d buffers but got %d", msg.Handle, msg.Tag, n,
			len(msg.Buffers))
	}
	return nil
}
