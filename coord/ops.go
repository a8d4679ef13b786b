package coord

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/protocol"
	"go.uber.org/zap"
)

// A Ref is an operand that is already stored on every
// worker under the given tag, such as a rebroadcast
// result.
//
// The tag must have been broadcast by the same
// Coordinator and not yet released.
type Ref string

// An Operation is one partitioned computation to run on
// every worker.
type Operation struct {
	// Op is the tag of the worker handler to trigger,
	// usually one of the Op constants in package protocol.
	Op string

	// Operands are broadcast to the workers before the
	// trigger and released afterwards.
	// Each operand is a *linalg.Vector, a *linalg.Matrix,
	// a Ref, or a gob-encodable value.
	Operands []interface{}

	Scalars []float64
	Func    string

	// Result is the tag to report under.
	// If empty, a fresh tag is used.
	Result string

	// Rebroadcast leaves the merged result on every
	// worker under the result tag, in addition to
	// returning it.
	Rebroadcast bool
}

// Invoke runs an operation and waits for its result.
//
// Builtin operations are validated before anything is
// sent. A Ref is checked against the value that was
// broadcast under its tag.
// If ctx ends first, ctx's error is returned, and the
// workers' eventual reports are discarded.
func (c *Coordinator) Invoke(ctx context.Context, op Operation) (*protocol.Result, error) {
	if op.Op == "" {
		return nil, errors.New("invoke: empty operation")
	}
	resolved, err := c.resolveRefs(op)
	if err != nil {
		return nil, err
	}
	if err = validateOperation(resolved); err != nil {
		return nil, err
	}

	resultTag := op.Result
	if resultTag == "" {
		resultTag = uuid.NewString()
	}
	call := &protocol.Call{
		Result:      resultTag,
		Scalars:     op.Scalars,
		Func:        op.Func,
		Rebroadcast: op.Rebroadcast,
	}
	var owned []string
	defer func() {
		if err := c.Release(owned...); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("release failed", zap.String("tag", resultTag), zap.Error(err))
		}
	}()
	for i, operand := range op.Operands {
		if ref, ok := operand.(Ref); ok {
			call.Inputs = append(call.Inputs, string(ref))
			continue
		}
		tag := uuid.NewString()
		var err error
		switch operand := operand.(type) {
		case *linalg.Vector:
			err = c.BroadcastVector(tag, operand)
		case *linalg.Matrix:
			err = c.BroadcastMatrix(tag, operand)
		default:
			err = c.BroadcastData(tag, operand)
		}
		owned = append(owned, tag)
		if err != nil {
			return nil, fmt.Errorf("%s: broadcast operand %d: %w", op.Op, i, err)
		}
		call.Inputs = append(call.Inputs, tag)
	}

	ch := c.Expect(resultTag)
	if err := c.Trigger(op.Op, call); err != nil {
		c.cancelExpect(resultTag, ch)
		return nil, err
	}
	return c.Wait(ctx, resultTag, ch)
}

// Identity gathers a distributed copy of x.
func (c *Coordinator) Identity(ctx context.Context, x *linalg.Vector) (*linalg.Vector, error) {
	return c.VectorOp(ctx, Operation{Op: protocol.OpIdentity, Operands: []interface{}{x}})
}

// Plus computes x + y.
func (c *Coordinator) Plus(ctx context.Context, x, y *linalg.Vector) (*linalg.Vector, error) {
	return c.VectorOp(ctx, Operation{Op: protocol.OpPlus, Operands: []interface{}{x, y}})
}

// Minus computes x - y.
func (c *Coordinator) Minus(ctx context.Context, x, y *linalg.Vector) (*linalg.Vector, error) {
	return c.VectorOp(ctx, Operation{Op: protocol.OpMinus, Operands: []interface{}{x, y}})
}

// Times computes the elementwise product of x and y.
func (c *Coordinator) Times(ctx context.Context, x, y *linalg.Vector) (*linalg.Vector, error) {
	return c.VectorOp(ctx, Operation{Op: protocol.OpTimes, Operands: []interface{}{x, y}})
}

// Divide computes the elementwise quotient of x and y.
func (c *Coordinator) Divide(ctx context.Context, x, y *linalg.Vector) (*linalg.Vector, error) {
	return c.VectorOp(ctx, Operation{Op: protocol.OpDivide, Operands: []interface{}{x, y}})
}

// Scale computes s*x.
func (c *Coordinator) Scale(ctx context.Context, x *linalg.Vector, s float64) (*linalg.Vector, error) {
	return c.VectorOp(ctx, Operation{
		Op:       protocol.OpScale,
		Operands: []interface{}{x},
		Scalars:  []float64{s},
	})
}

// Apply applies a named elementwise function to x.
// The function must be registered on every worker.
func (c *Coordinator) Apply(ctx context.Context, x *linalg.Vector, fn string) (*linalg.Vector, error) {
	return c.VectorOp(ctx, Operation{
		Op:       protocol.OpApply,
		Operands: []interface{}{x},
		Func:     fn,
	})
}

// Sum adds up the entries of x.
func (c *Coordinator) Sum(ctx context.Context, x *linalg.Vector) (float64, error) {
	return c.ScalarOp(ctx, Operation{Op: protocol.OpSum, Operands: []interface{}{x}})
}

// Product multiplies the entries of x.
func (c *Coordinator) Product(ctx context.Context, x *linalg.Vector) (float64, error) {
	return c.ScalarOp(ctx, Operation{Op: protocol.OpProduct, Operands: []interface{}{x}})
}

// Dot computes the dot product of x and y.
func (c *Coordinator) Dot(ctx context.Context, x, y *linalg.Vector) (float64, error) {
	return c.ScalarOp(ctx, Operation{Op: protocol.OpDot, Operands: []interface{}{x, y}})
}

// MatVec computes m*x, partitioned by rows of m.
func (c *Coordinator) MatVec(ctx context.Context, m *linalg.Matrix, x *linalg.Vector) (*linalg.Vector, error) {
	return c.VectorOp(ctx, Operation{Op: protocol.OpMatVec, Operands: []interface{}{m, x}})
}

// VecMat computes x^T*m, partitioned by columns of m.
func (c *Coordinator) VecMat(ctx context.Context, x *linalg.Vector, m *linalg.Matrix) (*linalg.Vector, error) {
	return c.VectorOp(ctx, Operation{Op: protocol.OpVecMat, Operands: []interface{}{x, m}})
}

// MatMul computes a*b, partitioned by rows of a.
func (c *Coordinator) MatMul(ctx context.Context, a, b *linalg.Matrix) (*linalg.Matrix, error) {
	return c.MatrixOp(ctx, Operation{Op: protocol.OpMatMul, Operands: []interface{}{a, b}})
}

// MatMulColumns computes a*b, partitioned by columns of
// b.
func (c *Coordinator) MatMulColumns(ctx context.Context, a, b *linalg.Matrix) (*linalg.Matrix, error) {
	return c.MatrixOp(ctx, Operation{Op: protocol.OpMatMulColumns, Operands: []interface{}{a, b}})
}

// MatrixOp invokes an operation whose result is a matrix.
func (c *Coordinator) MatrixOp(ctx context.Context, op Operation) (*linalg.Matrix, error) {
	res, err := c.Invoke(ctx, op)
	if err != nil {
		return nil, err
	}
	if res.Matrix == nil {
		return nil, fmt.Errorf("%s: expected matrix result but got %s", op.Op, res.Kind)
	}
	return res.Matrix, nil
}

// VectorOp invokes an operation whose result is a vector.
func (c *Coordinator) VectorOp(ctx context.Context, op Operation) (*linalg.Vector, error) {
	res, err := c.Invoke(ctx, op)
	if err != nil {
		return nil, err
	}
	if res.Vector == nil {
		return nil, fmt.Errorf("%s: expected vector result but got %s", op.Op, res.Kind)
	}
	return res.Vector, nil
}

// ScalarOp invokes an operation whose result is a
// reduced scalar.
func (c *Coordinator) ScalarOp(ctx context.Context, op Operation) (float64, error) {
	res, err := c.Invoke(ctx, op)
	if err != nil {
		return 0, err
	}
	if res.Kind != protocol.VectorSum && res.Kind != protocol.VectorProduct {
		return 0, fmt.Errorf("%s: expected scalar result but got %s", op.Op, res.Kind)
	}
	return res.Scalar, nil
}
