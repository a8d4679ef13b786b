package coord_test

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/distvec/coord"
	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/protocol"
	"github.com/unixpickle/distvec/transport"
	"github.com/unixpickle/distvec/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const processWorkerEnv = "DISTVEC_COORD_PROCESS_WORKER"

// TestMain turns the test binary into a builtin worker
// when it is re-executed by TestProcessPool.
func TestMain(m *testing.M) {
	if os.Getenv(processWorkerEnv) == "1" {
		if err := worker.Serve(transport.Stdio(), nil); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func goPool(network transport.Network, logger *zap.Logger,
	setup ...func(a *worker.Agent) error) coord.PoolFactory {
	return func(t *testing.T, workers int) *coord.Coordinator {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c, err := coord.New(ctx, coord.Config{
			Workers: workers,
			Spawner: &transport.GoSpawner{Network: network, Entry: worker.Entry(nil, setup...)},
			Logger:  logger,
		})
		require.NoError(t, err)
		return c
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOperations(t *testing.T) {
	runAll := func(t *testing.T, network transport.Network) {
		coord.RunOperationTests(t, goPool(network, nil))
	}
	t.Run("Direct", func(t *testing.T) {
		runAll(t, transport.DirectNetwork{})
	})
	t.Run("Random", func(t *testing.T) {
		runAll(t, transport.RandomNetwork{MaxLatency: 200 * time.Microsecond})
	})
	t.Run("Ordered", func(t *testing.T) {
		runAll(t, transport.NewOrderedNetwork(1e9, 100*time.Microsecond))
	})
}

func TestIdentityRoundTrip(t *testing.T) {
	c := goPool(nil, nil)(t, 4)
	defer c.Close()

	x := linalg.NewVector(1000)
	for i := range x.Data {
		x.Data[i] = float64(i) * 0.5
	}
	actual, err := c.Identity(testContext(t), x)
	require.NoError(t, err)
	require.Equal(t, x.Data, actual.Data)
}

func TestDotScenario(t *testing.T) {
	c := goPool(transport.RandomNetwork{MaxLatency: time.Millisecond}, nil)(t, 4)
	defer c.Close()

	x := linalg.NewVector(1000)
	y := linalg.NewVector(1000)
	for i := range x.Data {
		x.Data[i] = rand.Float64() + 0.5
		y.Data[i] = rand.Float64() + 0.5
	}
	dot, err := c.Dot(testContext(t), x, y)
	require.NoError(t, err)
	require.InEpsilon(t, linalg.Dot(x.Data, y.Data), dot, 1e-9)
}

func TestProcessPool(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	c, err := coord.New(testContext(t), coord.Config{
		Workers: 3,
		Spawner: &transport.ProcessSpawner{Path: exe, Env: []string{processWorkerEnv + "=1"}},
	})
	require.NoError(t, err)
	defer c.Close()

	x := linalg.VectorOf(1, 2, 3, 4, 5, 6, 7)
	y := linalg.VectorOf(7, 6, 5, 4, 3, 2, 1)
	sum, err := c.Plus(testContext(t), x, y)
	require.NoError(t, err)
	require.Equal(t, []float64{8, 8, 8, 8, 8, 8, 8}, sum.Data)

	a := linalg.MatrixFromRows([][]float64{{1, 2}, {3, 4}, {5, 6}})
	b := linalg.MatrixFromRows([][]float64{{1, 0, 1}, {0, 1, 1}})
	prod, err := c.MatMulColumns(testContext(t), a, b)
	require.NoError(t, err)
	require.True(t, linalg.MatMul(a, b).Equal(prod, 0))
}

func TestWorkerStates(t *testing.T) {
	c := goPool(nil, nil)(t, 3)
	defer c.Close()

	for i, w := range c.Workers() {
		require.Equal(t, i, w.ID)
		require.Equal(t, coord.Ready, w.State)
	}
	_, err := c.Sum(testContext(t), linalg.VectorOf(1, 2, 3))
	require.NoError(t, err)
	for _, w := range c.Workers() {
		require.Equal(t, coord.Active, w.State)
	}
}

func TestRebroadcast(t *testing.T) {
	// Every worker echoes the rebroadcast total back, so
	// the coordinator can check what each one received.
	echo := func(a *worker.Agent) error {
		return a.On("total", func(a *worker.Agent, c *protocol.Call) error {
			v, err := a.Value("total")
			if err != nil {
				return err
			}
			return a.SendData("echo", v)
		})
	}
	c := goPool(nil, nil, echo)(t, 4)
	defer c.Close()

	ctx := testContext(t)
	echoes := c.Expect("echo")
	x := linalg.VectorOf(1, 2, 3, 4, 5)
	res, err := c.Invoke(ctx, coord.Operation{
		Op:          protocol.OpSum,
		Operands:    []interface{}{x},
		Result:      "total",
		Rebroadcast: true,
	})
	require.NoError(t, err)
	require.Equal(t, 15.0, res.Scalar)
	require.True(t, res.Rebroadcast)

	echoed, err := c.Wait(ctx, "echo", echoes)
	require.NoError(t, err)
	require.Equal(t, []interface{}{15.0, 15.0, 15.0, 15.0}, echoed.Values)
}

func TestRebroadcastChain(t *testing.T) {
	c := goPool(transport.RandomNetwork{MaxLatency: time.Millisecond}, nil)(t, 3)
	defer c.Close()

	ctx := testContext(t)
	x := linalg.VectorOf(1, 2, 3, 4)
	y := linalg.VectorOf(4, 3, 2, 1)
	sum, err := c.Invoke(ctx, coord.Operation{
		Op:          protocol.OpPlus,
		Operands:    []interface{}{x, y},
		Result:      "sum",
		Rebroadcast: true,
	})
	require.NoError(t, err)
	require.Equal(t, []float64{5, 5, 5, 5}, sum.Vector.Data)

	dot, err := c.ScalarOp(ctx, coord.Operation{
		Op:       protocol.OpDot,
		Operands: []interface{}{coord.Ref("sum"), x},
	})
	require.NoError(t, err)
	require.Equal(t, 50.0, dot)
	require.NoError(t, c.Release("sum"))
}

func TestRebroadcastFidelity(t *testing.T) {
	// Every worker echoes the buffers it stored for the
	// rebroadcast results.
	echo := func(a *worker.Agent) error {
		if err := a.On("vec", func(a *worker.Agent, c *protocol.Call) error {
			v, err := a.Vector("vec")
			if err != nil {
				return err
			}
			return a.SendData("vec-echo", v.Data)
		}); err != nil {
			return err
		}
		return a.On("mat", func(a *worker.Agent, c *protocol.Call) error {
			m, err := a.Matrix("mat")
			if err != nil {
				return err
			}
			return a.SendData("mat-echo", []interface{}{m.Rows, m.Cols, m.Data})
		})
	}
	c := goPool(transport.RandomNetwork{MaxLatency: time.Millisecond}, nil, echo)(t, 3)
	defer c.Close()
	ctx := testContext(t)

	x := linalg.NewVector(10)
	for i := range x.Data {
		x.Data[i] = 1 / float64(i+3)
	}
	vecEchoes := c.Expect("vec-echo")
	vec, err := c.Invoke(ctx, coord.Operation{
		Op:          protocol.OpScale,
		Operands:    []interface{}{x},
		Scalars:     []float64{0.1},
		Result:      "vec",
		Rebroadcast: true,
	})
	require.NoError(t, err)
	echoed, err := c.Wait(ctx, "vec-echo", vecEchoes)
	require.NoError(t, err)
	require.Len(t, echoed.Values, 3)
	for _, v := range echoed.Values {
		require.Equal(t, vec.Vector.Data, v)
	}

	a := linalg.MatrixFromRows([][]float64{{0.1, 0.2, 0.3}, {1.0 / 3, 2.0 / 3, 1}})
	b := linalg.MatrixFromRows([][]float64{{0.7, 0.1}, {0.3, 1.0 / 7}, {0.9, 0.01}})
	matEchoes := c.Expect("mat-echo")
	mat, err := c.Invoke(ctx, coord.Operation{
		Op:          protocol.OpMatMulColumns,
		Operands:    []interface{}{a, b},
		Result:      "mat",
		Rebroadcast: true,
	})
	require.NoError(t, err)
	echoed, err = c.Wait(ctx, "mat-echo", matEchoes)
	require.NoError(t, err)
	require.Len(t, echoed.Values, 3)
	for _, v := range echoed.Values {
		require.Equal(t, []interface{}{2, 2, mat.Matrix.Data}, v)
	}
	require.NoError(t, c.Release("vec", "mat"))
}

func TestRefValidation(t *testing.T) {
	c := goPool(nil, nil)(t, 2)
	defer c.Close()
	ctx := testContext(t)

	_, err := c.Invoke(ctx, coord.Operation{
		Op:          protocol.OpPlus,
		Operands:    []interface{}{linalg.VectorOf(1, 2, 3, 4), linalg.VectorOf(4, 3, 2, 1)},
		Result:      "sum",
		Rebroadcast: true,
	})
	require.NoError(t, err)

	var shapeErr *linalg.ShapeError
	_, err = c.ScalarOp(ctx, coord.Operation{
		Op:       protocol.OpDot,
		Operands: []interface{}{coord.Ref("sum"), linalg.VectorOf(1, 2, 3)},
	})
	require.ErrorAs(t, err, &shapeErr)
	_, err = c.VectorOp(ctx, coord.Operation{
		Op:       protocol.OpMatVec,
		Operands: []interface{}{coord.Ref("sum"), linalg.VectorOf(1, 2, 3, 4)},
	})
	require.ErrorAs(t, err, &shapeErr)
	_, err = c.ScalarOp(ctx, coord.Operation{
		Op:       protocol.OpDot,
		Operands: []interface{}{coord.Ref("missing"), linalg.VectorOf(1, 2, 3)},
	})
	require.ErrorIs(t, err, coord.ErrUnknownRef)

	require.NoError(t, c.Release("sum"))
	_, err = c.ScalarOp(ctx, coord.Operation{
		Op:       protocol.OpDot,
		Operands: []interface{}{coord.Ref("sum"), linalg.VectorOf(1, 2, 3, 4)},
	})
	require.ErrorIs(t, err, coord.ErrUnknownRef)
}

func TestListeners(t *testing.T) {
	c := goPool(nil, nil)(t, 2)
	defer c.Close()

	results := make(chan string, 10)
	require.NoError(t, c.On("result", func(res *protocol.Result) {
		results <- "first"
	}))
	require.NoError(t, c.On("result", func(res *protocol.Result) {
		results <- "second"
	}))
	require.Error(t, c.On("", func(res *protocol.Result) {}))
	require.Error(t, c.On("result", nil))

	_, err := c.Invoke(testContext(t), coord.Operation{
		Op:       protocol.OpSum,
		Operands: []interface{}{linalg.VectorOf(1, 2)},
		Result:   "result",
	})
	require.NoError(t, err)
	require.Equal(t, "second", <-results)

	c.Off("result")
	_, err = c.Invoke(testContext(t), coord.Operation{
		Op:       protocol.OpSum,
		Operands: []interface{}{linalg.VectorOf(1, 2)},
		Result:   "result",
	})
	require.NoError(t, err)
	select {
	case name := <-results:
		t.Fatalf("unexpected call to %s listener", name)
	default:
	}
}

func TestUnregisteredTrigger(t *testing.T) {
	c := goPool(nil, nil)(t, 2)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Invoke(ctx, coord.Operation{Op: "nonexistent"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRejectedReports(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dup := func(a *worker.Agent) error {
		return a.On("dup", func(a *worker.Agent, c *protocol.Call) error {
			if a.ID() != 0 {
				return nil
			}
			if err := a.SendData(c.Result, 1); err != nil {
				return err
			}
			return a.ReduceSum(c.Result, 1, false)
		})
	}
	c := goPool(nil, zap.New(core), dup)(t, 2)
	defer c.Close()

	require.NoError(t, c.Trigger("dup", nil))
	require.Eventually(t, func() bool {
		return logs.FilterMessage("rejected report").Len() == 1
	}, 10*time.Second, time.Millisecond)
	entry := logs.FilterMessage("rejected report").All()[0]
	require.Equal(t, "dup", entry.ContextMap()["tag"])
	require.Contains(t, entry.ContextMap()["error"], protocol.ErrKindMismatch.Error())
}

func TestPreconditions(t *testing.T) {
	c := goPool(nil, nil)(t, 2)
	defer c.Close()
	ctx := testContext(t)

	var shapeErr *linalg.ShapeError
	_, err := c.Plus(ctx, linalg.VectorOf(1, 2), linalg.VectorOf(1))
	require.ErrorAs(t, err, &shapeErr)
	_, err = c.Dot(ctx, linalg.VectorOf(1, 2), nil)
	require.ErrorAs(t, err, &shapeErr)
	_, err = c.MatMul(ctx, linalg.NewMatrix(2, 3), linalg.NewMatrix(2, 3))
	require.ErrorAs(t, err, &shapeErr)
	_, err = c.MatVec(ctx, linalg.NewMatrix(2, 3), linalg.NewVector(2))
	require.ErrorAs(t, err, &shapeErr)
	_, err = c.Apply(ctx, linalg.VectorOf(1), "")
	require.ErrorAs(t, err, &shapeErr)

	// The pool is unaffected by rejected calls.
	sum, err := c.Sum(ctx, linalg.VectorOf(1, 2))
	require.NoError(t, err)
	require.Equal(t, 3.0, sum)
}

func TestNewErrors(t *testing.T) {
	ctx := testContext(t)
	_, err := coord.New(ctx, coord.Config{Workers: 0, Spawner: &transport.GoSpawner{}})
	require.Error(t, err)
	_, err = coord.New(ctx, coord.Config{Workers: 2})
	require.ErrorIs(t, err, transport.ErrNoWorkerContext)
	_, err = coord.New(ctx, coord.Config{Workers: 2, Spawner: &transport.GoSpawner{}})
	require.ErrorIs(t, err, transport.ErrNoWorkerContext)

	// Workers that never acknowledge keep the pool from
	// becoming ready.
	silent := &transport.GoSpawner{Entry: func(t transport.Transport) {}}
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = coord.New(shortCtx, coord.Config{Workers: 2, Spawner: silent})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	c := goPool(nil, nil)(t, 2)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	<-c.Done()

	_, err := c.Sum(testContext(t), linalg.VectorOf(1))
	require.ErrorIs(t, err, coord.ErrClosed)
}
