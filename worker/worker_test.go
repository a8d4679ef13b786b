package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/protocol"
	"github.com/unixpickle/distvec/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeCoordinator struct {
	t        *testing.T
	end      transport.Transport
	messages chan *protocol.Message
}

func newTestAgent(t *testing.T, id, count int) (*Agent, *fakeCoordinator, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	coordSide, workerSide := transport.NewPipe(nil)
	t.Cleanup(func() { coordSide.Close() })

	a := NewAgent(workerSide, zap.New(core))
	RegisterBuiltins(a)
	a.Start()

	fc := &fakeCoordinator{t: t, end: coordSide, messages: make(chan *protocol.Message, 100)}
	coordSide.OnMessage(func(msg *protocol.Message) {
		fc.messages <- msg
	})
	fc.send(&protocol.Message{Handle: protocol.Init, WorkerID: id, WorkerCount: count})
	ready := fc.next()
	require.Equal(t, protocol.WorkerReady, ready.Handle)
	require.Equal(t, protocol.ReadyTag, ready.Tag)
	require.Equal(t, id, ready.WorkerID)
	return a, fc, logs
}

func (f *fakeCoordinator) send(msg *protocol.Message) {
	require.NoError(f.t, f.end.Send(msg))
}

func (f *fakeCoordinator) next() *protocol.Message {
	select {
	case msg := <-f.messages:
		return msg
	case <-time.After(10 * time.Second):
		f.t.Fatal("timed out waiting for worker")
	}
	return nil
}

func (f *fakeCoordinator) expectSilence() {
	select {
	case msg := <-f.messages:
		f.t.Fatalf("unexpected message: %s %q", msg.Handle, msg.Tag)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fakeCoordinator) broadcastVector(tag string, data ...float64) {
	f.send(&protocol.Message{
		Handle:  protocol.BroadcastVector,
		Tag:     tag,
		Buffers: []*protocol.Buffer{protocol.NewBuffer(data)},
	})
}

func (f *fakeCoordinator) broadcastMatrix(tag string, m *linalg.Matrix) {
	f.send(&protocol.Message{
		Handle:  protocol.BroadcastMatrix,
		Tag:     tag,
		Rows:    m.Rows,
		Cols:    m.Cols,
		Buffers: []*protocol.Buffer{protocol.NewBuffer(append([]float64{}, m.Data...))},
	})
}

func (f *fakeCoordinator) trigger(op string, call *protocol.Call) {
	f.send(&protocol.Message{Handle: protocol.Trigger, Tag: op, Call: call})
}

func TestAgentPartitionedGather(t *testing.T) {
	_, fc, _ := newTestAgent(t, 1, 3)
	fc.broadcastVector("x", 1, 2, 3, 4, 5, 6, 7)
	fc.broadcastVector("y", 7, 6, 5, 4, 3, 2, 1)
	fc.trigger(protocol.OpPlus, &protocol.Call{Result: "r", Inputs: []string{"x", "y"}})

	msg := fc.next()
	require.Equal(t, protocol.GatherVector, msg.Handle)
	require.Equal(t, "r", msg.Tag)
	require.Equal(t, 1, msg.WorkerID)

	// Worker 1 of 3 owns [3, 5) of 7 elements.
	require.Equal(t, 3, msg.Offset)
	require.Equal(t, 7, msg.Length)
	require.Equal(t, []float64{8, 8}, msg.Buffers[0].Data())
}

func TestAgentReduce(t *testing.T) {
	_, fc, _ := newTestAgent(t, 0, 2)
	fc.broadcastVector("x", 1, 2, 3, 4)
	fc.broadcastVector("y", 2, 2, 2, 2)
	fc.trigger(protocol.OpDot, &protocol.Call{Result: "d", Inputs: []string{"x", "y"}, Rebroadcast: true})

	msg := fc.next()
	require.Equal(t, protocol.VectorSum, msg.Handle)
	require.Equal(t, 6.0, msg.Scalar)
	require.True(t, msg.Rebroadcast)
}

func TestAgentHandlerReplacement(t *testing.T) {
	a, fc, _ := newTestAgent(t, 0, 1)
	require.NoError(t, a.On("custom", func(a *Agent, c *protocol.Call) error {
		return a.SendData(c.Result, "first")
	}))
	require.NoError(t, a.On("custom", func(a *Agent, c *protocol.Call) error {
		return a.SendData(c.Result, "second")
	}))
	fc.trigger("custom", nil)

	msg := fc.next()
	require.Equal(t, protocol.SendData, msg.Handle)
	require.Equal(t, "custom", msg.Tag)
	require.Equal(t, "second", msg.Value)

	a.Off("custom")
	fc.trigger("custom", nil)
	fc.expectSilence()

	require.Error(t, a.On("", func(a *Agent, c *protocol.Call) error { return nil }))
	require.Error(t, a.On("nil", nil))
}

func TestAgentUnregisteredTrigger(t *testing.T) {
	_, fc, logs := newTestAgent(t, 0, 2)
	fc.trigger("nonexistent", &protocol.Call{Result: "r"})
	fc.expectSilence()

	entries := logs.FilterMessage("failed to handle message").All()
	require.Len(t, entries, 1)
	require.Equal(t, "nonexistent", entries[0].ContextMap()["tag"])
	require.Contains(t, entries[0].ContextMap()["error"], ErrUnregisteredTag.Error())
}

func TestAgentBroadcastHandler(t *testing.T) {
	a, fc, _ := newTestAgent(t, 0, 1)
	require.NoError(t, a.On("shared", func(a *Agent, c *protocol.Call) error {
		if c != nil {
			return errors.New("unexpected call")
		}
		v, err := a.Vector("shared")
		if err != nil {
			return err
		}
		return a.SendData("seen", v.Len())
	}))
	fc.broadcastVector("shared", 1, 2, 3)

	msg := fc.next()
	require.Equal(t, "seen", msg.Tag)
	require.Equal(t, 3, msg.Value)
}

func TestAgentShapeErrorSendsNothing(t *testing.T) {
	_, fc, logs := newTestAgent(t, 0, 2)
	fc.broadcastVector("x", 1, 2, 3)
	fc.broadcastVector("y", 1, 2)
	fc.trigger(protocol.OpPlus, &protocol.Call{Result: "r", Inputs: []string{"x", "y"}})
	fc.trigger(protocol.OpDot, &protocol.Call{Result: "r", Inputs: []string{"x", "missing"}})
	fc.expectSilence()
	require.Equal(t, 2, logs.FilterMessage("failed to handle message").Len())
}

func TestAgentRelease(t *testing.T) {
	_, fc, _ := newTestAgent(t, 0, 1)
	fc.broadcastVector("x", 1, 2)
	fc.send(&protocol.Message{Handle: protocol.Release, Tags: []string{"x"}})
	fc.trigger(protocol.OpSum, &protocol.Call{Result: "s", Inputs: []string{"x"}})
	fc.expectSilence()

	fc.broadcastVector("x", 3, 4)
	fc.trigger(protocol.OpSum, &protocol.Call{Result: "s", Inputs: []string{"x"}})
	require.Equal(t, 7.0, fc.next().Scalar)
}

func TestAgentGemmLeavesOperands(t *testing.T) {
	a, fc, _ := newTestAgent(t, 1, 2)
	x := linalg.MatrixFromRows([][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}})
	y := linalg.MatrixFromRows([][]float64{{1, 0, 2}, {0, 1, 0}, {3, 0, 1}})
	z := linalg.MatrixFromRows([][]float64{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}})
	fc.broadcastMatrix("x", x)
	fc.broadcastMatrix("y", y)
	fc.broadcastMatrix("z", z)
	fc.trigger(protocol.OpGemm, &protocol.Call{
		Result:  "g",
		Inputs:  []string{"x", "y", "z"},
		Scalars: []float64{2, 1},
	})

	msg := fc.next()
	require.Equal(t, protocol.GatherMatrixRows, msg.Handle)

	// Worker 1 of 2 owns row 2 of 3.
	require.Equal(t, 2, msg.Offset)
	require.Equal(t, 3, msg.Rows)
	require.Equal(t, 3, msg.Cols)
	expected := linalg.MatMul(x, y)
	var row []float64
	for _, v := range expected.Row(2) {
		row = append(row, 2*v+1)
	}
	require.Equal(t, row, msg.Buffers[0].Data())

	stored, err := a.Matrix("y")
	require.NoError(t, err)
	require.True(t, stored.Equal(y, 0))
}

func TestAgentGemmAliased(t *testing.T) {
	a, fc, _ := newTestAgent(t, 0, 1)
	x := linalg.MatrixFromRows([][]float64{{1, 2}, {3, 4}})
	fc.broadcastMatrix("x", x)
	fc.trigger(protocol.OpGemm, &protocol.Call{
		Result:  "g",
		Inputs:  []string{"x", "x"},
		Scalars: []float64{1, 0},
	})
	msg := fc.next()
	require.Equal(t, []float64{7, 10, 15, 22}, msg.Buffers[0].Data())

	stored, err := a.Matrix("x")
	require.NoError(t, err)
	require.True(t, stored.Equal(x, 0))
}

func TestAgentGemmMissingAddend(t *testing.T) {
	a := NewAgent(nil, nil)
	a.id, a.count, a.ready = 0, 1, true
	x := linalg.MatrixFromRows([][]float64{{1, 2}, {3, 4}})
	err := a.WkGemm("g", 1, x, x, 1, nil, false)
	var shapeErr *linalg.ShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestAgentNotReady(t *testing.T) {
	a := NewAgent(nil, nil)
	require.ErrorIs(t, a.WkSum("s", linalg.VectorOf(1), false), ErrNotReady)
}

func TestAgentBroadcastUnderOperationName(t *testing.T) {
	_, fc, logs := newTestAgent(t, 0, 1)
	fc.broadcastVector(protocol.OpSum, 1, 2, 3)
	fc.expectSilence()
	require.Equal(t, 0, logs.FilterMessage("failed to handle message").Len())

	fc.trigger(protocol.OpSum, &protocol.Call{Result: "s", Inputs: []string{protocol.OpSum}})
	require.Equal(t, 6.0, fc.next().Scalar)
}

func TestAgentIdentityConcurrentReads(t *testing.T) {
	coordSide, workerSide := transport.NewPipe(nil)
	defer coordSide.Close()
	a := NewAgent(workerSide, nil)
	a.Start()
	require.False(t, a.Ready())

	go coordSide.Send(&protocol.Message{Handle: protocol.Init, WorkerID: 2, WorkerCount: 3})
	require.Eventually(t, a.Ready, 10*time.Second, time.Millisecond)
	require.Equal(t, 2, a.ID())
	require.Equal(t, 3, a.Count())
	require.Equal(t, 5, a.Range(7).From)
}
