// Package batch implements fused operations which do the
// work of several primitive operations in one round trip
// to the workers.
package batch

import (
	"context"

	"github.com/unixpickle/distvec/coord"
	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/protocol"
)

// LinComb computes sum_i coeffs[i]*vecs[i].
//
// Each worker accumulates all terms for its partition and
// gathers once, instead of once per term.
func LinComb(ctx context.Context, c *coord.Coordinator, coeffs []float64,
	vecs ...*linalg.Vector) (*linalg.Vector, error) {
	operands := make([]interface{}, len(vecs))
	for i, v := range vecs {
		operands[i] = v
	}
	return c.VectorOp(ctx, coord.Operation{
		Op:       protocol.OpLinComb,
		Operands: operands,
		Scalars:  coeffs,
	})
}

// LinCombMatrix is like LinComb, but for matrices.
func LinCombMatrix(ctx context.Context, c *coord.Coordinator, coeffs []float64,
	mats ...*linalg.Matrix) (*linalg.Matrix, error) {
	operands := make([]interface{}, len(mats))
	for i, m := range mats {
		operands[i] = m
	}
	return c.MatrixOp(ctx, coord.Operation{
		Op:       protocol.OpLinCombMatrix,
		Operands: operands,
		Scalars:  coeffs,
	})
}

// Gemv computes alpha*m*x + beta*y.
//
// The second term may be omitted by passing a nil y, in
// which case beta must be 0.
func Gemv(ctx context.Context, c *coord.Coordinator, alpha float64, m *linalg.Matrix,
	x *linalg.Vector, beta float64, y *linalg.Vector) (*linalg.Vector, error) {
	operands := []interface{}{m, x}
	if y != nil {
		operands = append(operands, y)
	} else if beta != 0 {
		return nil, linalg.CheckGemv(protocol.OpGemv, m, x, beta, nil)
	}
	return c.VectorOp(ctx, coord.Operation{
		Op:       protocol.OpGemv,
		Operands: operands,
		Scalars:  []float64{alpha, beta},
	})
}

// Gemm computes alpha*a*b + beta*addend.
//
// The second term may be omitted by passing a nil addend,
// in which case beta must be 0.
// The workers' copies of b are transposed for the
// product, but b itself is never modified.
func Gemm(ctx context.Context, c *coord.Coordinator, alpha float64, a, b *linalg.Matrix,
	beta float64, addend *linalg.Matrix) (*linalg.Matrix, error) {
	operands := []interface{}{a, b}
	if addend != nil {
		operands = append(operands, addend)
	} else if beta != 0 {
		return nil, linalg.CheckGemm(protocol.OpGemm, a, b, beta, nil)
	}
	return c.MatrixOp(ctx, coord.Operation{
		Op:       protocol.OpGemm,
		Operands: operands,
		Scalars:  []float64{alpha, beta},
	})
}
