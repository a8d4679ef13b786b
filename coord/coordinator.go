// Package coord implements the coordinator that owns a
// pool of workers, distributes operands to them, and
// merges their partial results.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/protocol"
	"github.com/unixpickle/distvec/transport"
	"github.com/unixpickle/essentials"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("coordinator is closed")

// A WorkerState is the lifecycle phase of one worker.
type WorkerState int32

const (
	// Created means the worker was spawned and sent its
	// identity, but has not reported ready.
	Created WorkerState = iota

	// Ready means the worker acknowledged its identity.
	Ready

	// Active means the worker was asked to run at least
	// one operation.
	Active
)

func (w WorkerState) String() string {
	switch w {
	case Created:
		return "Created"
	case Ready:
		return "Ready"
	case Active:
		return "Active"
	}
	return fmt.Sprintf("WorkerState(%d)", int(w))
}

// A WorkerHandle is a snapshot of one worker in the pool.
type WorkerHandle struct {
	ID    int
	State WorkerState
}

// Config configures a Coordinator.
type Config struct {
	// Workers is the number of workers to spawn.
	Workers int

	// Spawner creates the worker execution contexts.
	Spawner transport.Spawner

	// Logger receives protocol violations.
	// If nil, nothing is logged.
	Logger *zap.Logger
}

// A Listener is called with the merged result of a tag
// each time its barrier closes.
//
// Listeners run on the coordinator's report loop, so they
// must not block on other results.
type Listener func(res *protocol.Result)

type envelope struct {
	worker int
	msg    *protocol.Message
}

// A Coordinator owns a pool of workers.
//
// Reports from every worker are funneled into a single
// loop Goroutine, which is the only code that touches
// the barrier table.
type Coordinator struct {
	logger     *zap.Logger
	transports []transport.Transport
	states     []int32

	inbox   chan envelope
	table   *protocol.Table
	readyCh chan struct{}

	lock      sync.Mutex
	listeners map[string]Listener
	expects   map[string][]chan *protocol.Result

	// stored maps every unreleased broadcast tag to the
	// value it carried, so Refs can be validated.
	stored map[string]interface{}

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New spawns a pool of workers and waits until every
// worker has acknowledged its identity.
//
// If ctx ends before the pool is ready, the pool is torn
// down and ctx's error is returned.
func New(ctx context.Context, cfg Config) (*Coordinator, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("create pool: invalid worker count %d", cfg.Workers)
	}
	if cfg.Spawner == nil {
		return nil, fmt.Errorf("create pool: %w", transport.ErrNoWorkerContext)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		logger:     logger,
		transports: make([]transport.Transport, cfg.Workers),
		states:     make([]int32, cfg.Workers),
		inbox:      make(chan envelope, 16*cfg.Workers),
		table:      protocol.NewTable(cfg.Workers),
		readyCh:    make(chan struct{}),
		listeners:  map[string]Listener{},
		expects:    map[string][]chan *protocol.Result{},
		stored:     map[string]interface{}{},
		done:       make(chan struct{}),
	}

	var g errgroup.Group
	for i := range c.transports {
		id := i
		g.Go(func() error {
			t, err := cfg.Spawner.Spawn(id)
			if err != nil {
				return fmt.Errorf("spawn worker %d: %w", id, err)
			}
			c.transports[id] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.closeTransports()
		return nil, err
	}

	go c.loop()
	for i, t := range c.transports {
		id := i
		t.OnMessage(func(msg *protocol.Message) {
			select {
			case c.inbox <- envelope{worker: id, msg: msg}:
			case <-c.done:
			}
		})
		err := t.Send(&protocol.Message{
			Handle:      protocol.Init,
			WorkerID:    id,
			WorkerCount: len(c.transports),
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("initialize worker %d: %w", id, err)
		}
	}

	select {
	case <-c.readyCh:
		c.logger.Debug("pool ready", zap.Int("workers", cfg.Workers))
		return c, nil
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

// Size gets the number of workers in the pool.
func (c *Coordinator) Size() int {
	return len(c.transports)
}

// Workers gets a snapshot of every worker, ordered by ID.
func (c *Coordinator) Workers() []WorkerHandle {
	res := make([]WorkerHandle, len(c.states))
	for i := range res {
		res[i] = WorkerHandle{ID: i, State: WorkerState(atomic.LoadInt32(&c.states[i]))}
	}
	return res
}

// BroadcastData sends an arbitrary value to every worker.
//
// Values must be gob-encodable for process workers.
func (c *Coordinator) BroadcastData(tag string, value interface{}) error {
	c.store(tag, value)
	return c.broadcast(func() *protocol.Message {
		return &protocol.Message{Handle: protocol.BroadcastData, Tag: tag, Value: value}
	})
}

// BroadcastVector sends a copy of v to every worker.
func (c *Coordinator) BroadcastVector(tag string, v *linalg.Vector) error {
	if err := linalg.CheckVector("broadcast", v); err != nil {
		return err
	}
	c.store(tag, v)
	return c.broadcast(func() *protocol.Message {
		return &protocol.Message{
			Handle:  protocol.BroadcastVector,
			Tag:     tag,
			Buffers: []*protocol.Buffer{protocol.NewBuffer(append([]float64{}, v.Data...))},
		}
	})
}

// BroadcastMatrix sends a copy of m to every worker.
func (c *Coordinator) BroadcastMatrix(tag string, m *linalg.Matrix) error {
	if err := linalg.CheckMatrix("broadcast", m); err != nil {
		return err
	}
	c.store(tag, m)
	return c.broadcast(func() *protocol.Message {
		return &protocol.Message{
			Handle:  protocol.BroadcastMatrix,
			Tag:     tag,
			Rows:    m.Rows,
			Cols:    m.Cols,
			Buffers: []*protocol.Buffer{protocol.NewBuffer(append([]float64{}, m.Data...))},
		}
	})
}

// Trigger asks every worker to run the handler for tag.
func (c *Coordinator) Trigger(tag string, call *protocol.Call) error {
	if tag == "" {
		return errors.New("trigger: empty tag")
	}
	for i := range c.states {
		atomic.CompareAndSwapInt32(&c.states[i], int32(Ready), int32(Active))
	}
	return c.broadcast(func() *protocol.Message {
		return &protocol.Message{Handle: protocol.Trigger, Tag: tag, Call: call}
	})
}

// Release asks every worker to drop the operands stored
// under the tags.
func (c *Coordinator) Release(tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	c.lock.Lock()
	for _, tag := range tags {
		delete(c.stored, tag)
	}
	c.lock.Unlock()
	return c.broadcast(func() *protocol.Message {
		return &protocol.Message{Handle: protocol.Release, Tags: tags}
	})
}

// On registers the listener for a tag.
//
// There is at most one listener per tag: registering a
// new one replaces the previous one.
func (c *Coordinator) On(tag string, l Listener) error {
	if tag == "" {
		return errors.New("register listener: empty tag")
	}
	if l == nil {
		return fmt.Errorf("register listener %q: nil listener", tag)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.listeners[tag] = l
	return nil
}

// Off removes the listener for a tag, if there is one.
func (c *Coordinator) Off(tag string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.listeners, tag)
}

// Expect creates a channel which receives the next result
// for tag.
//
// Expect must be called before the operation is
// triggered, or the result may be missed.
// Unlike On, any number of channels may wait on one tag.
func (c *Coordinator) Expect(tag string) <-chan *protocol.Result {
	ch := make(chan *protocol.Result, 1)
	c.lock.Lock()
	defer c.lock.Unlock()
	c.expects[tag] = append(c.expects[tag], ch)
	return ch
}

// Wait blocks until a channel from Expect yields a result,
// ctx ends, or the coordinator is closed.
//
// If the wait is abandoned, ch is unregistered.
func (c *Coordinator) Wait(ctx context.Context, tag string, ch <-chan *protocol.Result) (*protocol.Result, error) {
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		c.cancelExpect(tag, ch)
		return nil, ctx.Err()
	case <-c.done:
		c.cancelExpect(tag, ch)
		return nil, ErrClosed
	}
}

// Done is closed when the coordinator is closed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Close shuts down every worker.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.closeTransports()
	})
	return c.closeErr
}

func (c *Coordinator) closeTransports() error {
	var g errgroup.Group
	errs := make([]error, len(c.transports))
	for i, t := range c.transports {
		if t == nil {
			continue
		}
		idx, t := i, t
		g.Go(func() error {
			errs[idx] = t.Close()
			return nil
		})
	}
	g.Wait()
	return multierr.Combine(errs...)
}

func (c *Coordinator) store(tag string, value interface{}) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.stored[tag] = value
}

func (c *Coordinator) broadcast(makeMsg func() *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	var err error
	for i, t := range c.transports {
		msg := makeMsg()
		if sendErr := t.Send(msg); sendErr != nil {
			err = multierr.Append(err, fmt.Errorf("send %s to worker %d: %w", msg.Handle, i, sendErr))
		}
	}
	return err
}

func (c *Coordinator) loop() {
	for {
		select {
		case env := <-c.inbox:
			c.handleReport(env)
		case <-c.done:
			return
		}
	}
}

func (c *Coordinator) handleReport(env envelope) {
	msg := env.msg
	if msg.WorkerID != env.worker {
		c.logger.Warn("rejected report",
			zap.Int("worker", env.worker),
			zap.Stringer("handle", msg.Handle),
			zap.String("tag", msg.Tag),
			zap.Error(fmt.Errorf("%w: claims worker ID %d", protocol.ErrBadReport, msg.WorkerID)))
		return
	}
	res, err := c.table.Report(msg)
	if err != nil {
		c.logger.Warn("rejected report",
			zap.Int("worker", env.worker),
			zap.Stringer("handle", msg.Handle),
			zap.String("tag", msg.Tag),
			zap.Error(err))
		return
	}
	if msg.Handle == protocol.WorkerReady {
		atomic.CompareAndSwapInt32(&c.states[env.worker], int32(Created), int32(Ready))
	}
	if res == nil {
		return
	}
	if res.Kind == protocol.WorkerReady && res.Tag == protocol.ReadyTag {
		select {
		case <-c.readyCh:
		default:
			close(c.readyCh)
		}
		return
	}
	if res.Rebroadcast {
		if err := c.rebroadcast(res); err != nil {
			c.logger.Warn("rebroadcast failed", zap.String("tag", res.Tag), zap.Error(err))
		}
	}
	c.emit(res)
}

func (c *Coordinator) rebroadcast(res *protocol.Result) error {
	switch res.Kind {
	case protocol.GatherVector, protocol.VectorSendToCoordinator:
		return c.BroadcastVector(res.Tag, res.Vector)
	case protocol.GatherMatrixRows, protocol.GatherMatrixColumns, protocol.MatrixSendToCoordinator:
		return c.BroadcastMatrix(res.Tag, res.Matrix)
	case protocol.SendData:
		return c.BroadcastData(res.Tag, res.Values)
	default:
		return c.BroadcastData(res.Tag, res.Scalar)
	}
}

func (c *Coordinator) emit(res *protocol.Result) {
	c.lock.Lock()
	l := c.listeners[res.Tag]
	waiters := c.expects[res.Tag]
	delete(c.expects, res.Tag)
	c.lock.Unlock()

	for _, ch := range waiters {
		ch <- res
	}
	if l != nil {
		l(res)
	}
	if l == nil && len(waiters) == 0 {
		c.logger.Debug("unobserved result", zap.String("tag", res.Tag),
			zap.Stringer("handle", res.Kind))
	}
}

func (c *Coordinator) cancelExpect(tag string, ch <-chan *protocol.Result) {
	c.lock.Lock()
	defer c.lock.Unlock()
	waiters := c.expects[tag]
	for i, w := range waiters {
		if w == ch {
			essentials.UnorderedDelete(&waiters, i)
			break
		}
	}
	if len(waiters) == 0 {
		delete(c.expects, tag)
	} else {
		c.expects[tag] = waiters
	}
}
