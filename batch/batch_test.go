package batch

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/distvec/coord"
	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/transport"
	"github.com/unixpickle/distvec/worker"
)

func newPool(t *testing.T, workers int) *coord.Coordinator {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := coord.New(ctx, coord.Config{
		Workers: workers,
		Spawner: &transport.GoSpawner{
			Network: transport.RandomNetwork{MaxLatency: 100 * time.Microsecond},
			Entry:   worker.Entry(nil),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func randomMatrix(rows, cols int) *linalg.Matrix {
	res := linalg.NewMatrix(rows, cols)
	for i := range res.Data {
		res.Data[i] = rand.NormFloat64()
	}
	return res
}

func TestGemmScenario(t *testing.T) {
	c := newPool(t, 2)
	a := linalg.MatrixFromRows([][]float64{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
	})
	b := linalg.MatrixFromRows([][]float64{
		{1, 0, 0, 1},
		{0, 1, 1, 0},
		{2, 0, 1, 0},
		{0, 3, 0, 1},
	})
	addend := linalg.MatrixFromRows([][]float64{
		{1, 1, 1, 1},
		{2, 2, 2, 2},
		{3, 3, 3, 3},
		{4, 4, 4, 4},
	})
	bCopy := b.Copy()

	actual, err := Gemm(testContext(t), c, 2, a, b, 1, addend)
	require.NoError(t, err)

	expected := linalg.MatMul(a, b)
	linalg.Scale(expected.Data, expected.Data, 2)
	linalg.AddScaled(expected.Data, addend.Data, 1)
	require.True(t, expected.Equal(actual, 1e-9), "expected %v but got %v", expected.Data,
		actual.Data)
	require.True(t, bCopy.Equal(b, 0))

	// Row 0 of 2AB+C by hand: 2*[7, 14, 5, 5] + 1.
	require.Equal(t, []float64{15, 29, 11, 11}, actual.Row(0))
}

func TestGemmShapes(t *testing.T) {
	for _, workers := range []int{1, 3, 4} {
		for _, shape := range [][3]int{{1, 1, 1}, {5, 3, 7}, {4, 4, 4}, {2, 6, 1}} {
			testName := fmt.Sprintf("Workers=%d,Shape=%v", workers, shape)
			t.Run(testName, func(t *testing.T) {
				c := newPool(t, workers)
				a := randomMatrix(shape[0], shape[1])
				b := randomMatrix(shape[1], shape[2])
				addend := randomMatrix(shape[0], shape[2])

				actual, err := Gemm(testContext(t), c, -0.5, a, b, 3, addend)
				require.NoError(t, err)
				expected := linalg.MatMul(a, b)
				linalg.Scale(expected.Data, expected.Data, -0.5)
				linalg.AddScaled(expected.Data, addend.Data, 3)
				require.True(t, expected.Equal(actual, 1e-9))

				actual, err = Gemm(testContext(t), c, 1, a, b, 0, nil)
				require.NoError(t, err)
				require.True(t, linalg.MatMul(a, b).Equal(actual, 1e-9))
			})
		}
	}
}

func TestGemv(t *testing.T) {
	c := newPool(t, 3)
	m := linalg.MatrixFromRows([][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}})
	x := linalg.VectorOf(1, -1)
	y := linalg.VectorOf(1, 2, 3, 4)

	actual, err := Gemv(testContext(t), c, 2, m, x, 0.5, y)
	require.NoError(t, err)
	require.Equal(t, []float64{-1.5, -1, -0.5, 0}, actual.Data)

	actual, err = Gemv(testContext(t), c, 1, m, x, 0, nil)
	require.NoError(t, err)
	require.Equal(t, []float64{-1, -1, -1, -1}, actual.Data)
}

func TestLinComb(t *testing.T) {
	c := newPool(t, 4)
	x := linalg.VectorOf(1, 2, 3, 4, 5)
	y := linalg.VectorOf(5, 4, 3, 2, 1)
	z := linalg.VectorOf(1, 1, 1, 1, 1)

	actual, err := LinComb(testContext(t), c, []float64{1, 2, -3}, x, y, z)
	require.NoError(t, err)
	require.Equal(t, []float64{8, 7, 6, 5, 4}, actual.Data)

	a := linalg.MatrixFromRows([][]float64{{1, 2}, {3, 4}, {5, 6}})
	b := linalg.MatrixFromRows([][]float64{{1, 1}, {1, 1}, {1, 1}})
	mat, err := LinCombMatrix(testContext(t), c, []float64{2, -1}, a, b)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 3, 5, 7, 9, 11}, mat.Data)
}

func TestValidation(t *testing.T) {
	c := newPool(t, 2)
	ctx := testContext(t)
	var shapeErr *linalg.ShapeError

	a := linalg.NewMatrix(3, 2)
	b := linalg.NewMatrix(2, 4)
	_, err := Gemm(ctx, c, 1, a, b, 1, nil)
	require.ErrorAs(t, err, &shapeErr)
	_, err = Gemm(ctx, c, 1, a, b, 1, linalg.NewMatrix(4, 3))
	require.ErrorAs(t, err, &shapeErr)
	_, err = Gemm(ctx, c, 1, b, a, 0, nil)
	require.ErrorAs(t, err, &shapeErr)

	_, err = Gemv(ctx, c, 1, a, linalg.NewVector(2), 2, nil)
	require.ErrorAs(t, err, &shapeErr)
	_, err = Gemv(ctx, c, 1, a, linalg.NewVector(2), 2, linalg.NewVector(2))
	require.ErrorAs(t, err, &shapeErr)

	_, err = LinComb(ctx, c, []float64{1})
	require.ErrorAs(t, err, &shapeErr)
	_, err = LinComb(ctx, c, []float64{1}, linalg.NewVector(2), linalg.NewVector(2))
	require.ErrorAs(t, err, &shapeErr)
	_, err = LinCombMatrix(ctx, c, []float64{1, 1}, a, b)
	require.ErrorAs(t, err, &shapeErr)
}
