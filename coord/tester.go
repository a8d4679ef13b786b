package coord

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/unixpickle/distvec/linalg"
)

// A PoolFactory creates a ready pool of builtin workers
// for a test.
type PoolFactory func(t *testing.T, workers int) *Coordinator

// RunOperationTests runs a battery of tests on the
// builtin operations of pools created by newPool.
//
// Every distributed result is compared against the serial
// kernel from package linalg.
func RunOperationTests(t *testing.T, newPool PoolFactory) {
	for _, numWorkers := range []int{1, 2, 3, 4, 7} {
		for _, size := range []int{0, 1, 13, 100} {
			testName := fmt.Sprintf("Workers=%d,Size=%d", numWorkers, size)
			t.Run(testName, func(t *testing.T) {
				c := newPool(t, numWorkers)
				defer c.Close()
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				runVectorOps(ctx, t, c, size)
				runMatrixOps(ctx, t, c, size)
			})
		}
	}
}

func runVectorOps(ctx context.Context, t *testing.T, c *Coordinator, size int) {
	x := randomVector(size)
	y := randomVector(size)
	for i := range y.Data {
		// Keep divisors and products away from zero.
		y.Data[i] = 1 + 0.01*y.Data[i]
	}

	elementwise := []struct {
		name string
		op   func(ctx context.Context, x, y *linalg.Vector) (*linalg.Vector, error)
		f    func(dst, a, b []float64)
	}{
		{"Plus", c.Plus, linalg.Plus},
		{"Minus", c.Minus, linalg.Minus},
		{"Times", c.Times, linalg.Times},
		{"Divide", c.Divide, linalg.Divide},
	}
	for _, e := range elementwise {
		expected := linalg.NewVector(size)
		e.f(expected.Data, x.Data, y.Data)
		actual, err := e.op(ctx, x, y)
		checkVector(t, e.name, expected, actual, err)
	}

	actual, err := c.Identity(ctx, x)
	checkVector(t, "Identity", x, actual, err)

	expected := linalg.NewVector(size)
	linalg.Scale(expected.Data, x.Data, -2.5)
	actual, err = c.Scale(ctx, x, -2.5)
	checkVector(t, "Scale", expected, actual, err)

	linalg.Apply(expected.Data, x.Data, math.Abs)
	actual, err = c.Apply(ctx, x, "abs")
	checkVector(t, "Apply", expected, actual, err)

	sum, err := c.Sum(ctx, x)
	checkScalar(t, "Sum", linalg.Sum(x.Data), sum, err)
	prod, err := c.Product(ctx, y)
	checkScalar(t, "Product", linalg.Product(y.Data), prod, err)
	dot, err := c.Dot(ctx, x, y)
	checkScalar(t, "Dot", linalg.Dot(x.Data, y.Data), dot, err)
}

func runMatrixOps(ctx context.Context, t *testing.T, c *Coordinator, size int) {
	a := randomMatrix(size, 5)
	b := randomMatrix(5, 3)
	x := randomVector(5)
	z := randomVector(size)

	actual, err := c.MatVec(ctx, a, x)
	checkVector(t, "MatVec", linalg.MatVec(a, x), actual, err)
	actual, err = c.VecMat(ctx, z, a)
	checkVector(t, "VecMat", linalg.VecMat(z, a), actual, err)

	expected := linalg.MatMul(a, b)
	for name, op := range map[string]func(ctx context.Context, a, b *linalg.Matrix) (*linalg.Matrix, error){
		"MatMul":        c.MatMul,
		"MatMulColumns": c.MatMulColumns,
	} {
		actual, err := op(ctx, a, b)
		if err != nil {
			t.Errorf("%s: %s", name, err)
		} else if !expected.Equal(actual, 1e-9) {
			t.Errorf("%s: expected %v but got %v", name, expected.Data, actual.Data)
		}
	}
}

func checkVector(t *testing.T, name string, expected, actual *linalg.Vector, err error) {
	if err != nil {
		t.Errorf("%s: %s", name, err)
	} else if !expected.Equal(actual, 1e-9) {
		t.Errorf("%s: expected %v but got %v", name, expected.Data, actual.Data)
	}
}

func checkScalar(t *testing.T, name string, expected, actual float64, err error) {
	if err != nil {
		t.Errorf("%s: %s", name, err)
	} else if math.Abs(expected-actual) > 1e-9*math.Max(1, math.Abs(expected)) {
		t.Errorf("%s: expected %f but got %f", name, expected, actual)
	}
}

func randomVector(size int) *linalg.Vector {
	res := linalg.NewVector(size)
	for i := range res.Data {
		res.Data[i] = rand.NormFloat64()
	}
	return res
}

func randomMatrix(rows, cols int) *linalg.Matrix {
	res := linalg.NewMatrix(rows, cols)
	for i := range res.Data {
		res.Data[i] = rand.NormFloat64()
	}
	return res
}
