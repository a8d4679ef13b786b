package coord

import (
	"errors"
	"fmt"

	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/protocol"
)

// ErrUnknownRef is returned when a Ref names a tag that
// the coordinator never broadcast, or already released.
var ErrUnknownRef = errors.New("reference to unknown tag")

// resolveRefs replaces every Ref operand with the value
// the coordinator last broadcast under its tag.
func (c *Coordinator) resolveRefs(op Operation) (Operation, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	var resolved []interface{}
	for i, operand := range op.Operands {
		ref, ok := operand.(Ref)
		if !ok {
			continue
		}
		value, ok := c.stored[string(ref)]
		if !ok {
			return op, fmt.Errorf("%s: operand %d: %w %q", op.Op, i, ErrUnknownRef, string(ref))
		}
		if resolved == nil {
			resolved = append([]interface{}{}, op.Operands...)
		}
		resolved[i] = value
	}
	if resolved != nil {
		op.Operands = resolved
	}
	return op, nil
}

// validateOperation checks the operands of a builtin
// operation, so that a malformed call fails before any
// message is sent.
//
// Refs must already be resolved.
func validateOperation(op Operation) error {
	switch op.Op {
	case protocol.OpIdentity, protocol.OpSum, protocol.OpProduct:
		vecs, err := vectorOperands(op, 1)
		if err != nil {
			return err
		}
		return linalg.CheckSameLen(op.Op, vecs...)
	case protocol.OpPlus, protocol.OpMinus, protocol.OpTimes, protocol.OpDivide, protocol.OpDot:
		vecs, err := vectorOperands(op, 2)
		if err != nil {
			return err
		}
		return linalg.CheckSameLen(op.Op, vecs...)
	case protocol.OpScale:
		if _, err := vectorOperands(op, 1); err != nil {
			return err
		}
		return expectScalarCount(op, 1)
	case protocol.OpApply:
		if _, err := vectorOperands(op, 1); err != nil {
			return err
		}
		if op.Func == "" {
			return &linalg.ShapeError{Op: op.Op, Expected: "function name", Actual: "none"}
		}
	case protocol.OpMatVec:
		if err := expectOperandCount(op, 2); err != nil {
			return err
		}
		m, x := asMatrix(op.Operands[0]), asVector(op.Operands[1])
		return linalg.CheckMatVec(op.Op, m, x)
	case protocol.OpVecMat:
		if err := expectOperandCount(op, 2); err != nil {
			return err
		}
		x, m := asVector(op.Operands[0]), asMatrix(op.Operands[1])
		return linalg.CheckVecMat(op.Op, x, m)
	case protocol.OpMatMul, protocol.OpMatMulColumns:
		mats, err := matrixOperands(op, 2)
		if err != nil {
			return err
		}
		return linalg.CheckMatMul(op.Op, mats[0], mats[1])
	case protocol.OpLinComb:
		vecs := make([]*linalg.Vector, len(op.Operands))
		for i, operand := range op.Operands {
			vecs[i] = asVector(operand)
		}
		return linalg.CheckLinComb(op.Op, op.Scalars, vecs)
	case protocol.OpLinCombMatrix:
		mats := make([]*linalg.Matrix, len(op.Operands))
		for i, operand := range op.Operands {
			mats[i] = asMatrix(operand)
		}
		return linalg.CheckLinCombMatrix(op.Op, op.Scalars, mats)
	case protocol.OpGemv:
		if err := expectScalarCount(op, 2); err != nil {
			return err
		}
		if len(op.Operands) != 2 && len(op.Operands) != 3 {
			return operandCountError(op, "2 or 3")
		}
		var y *linalg.Vector
		if len(op.Operands) == 3 {
			if y = asVector(op.Operands[2]); y == nil {
				return linalg.CheckVector(op.Op, y)
			}
		}
		m, x := asMatrix(op.Operands[0]), asVector(op.Operands[1])
		return linalg.CheckGemv(op.Op, m, x, op.Scalars[1], y)
	case protocol.OpGemm:
		if err := expectScalarCount(op, 2); err != nil {
			return err
		}
		if len(op.Operands) != 2 && len(op.Operands) != 3 {
			return operandCountError(op, "2 or 3")
		}
		mats := make([]*linalg.Matrix, 3)
		for i, operand := range op.Operands {
			if mats[i] = asMatrix(operand); mats[i] == nil {
				return linalg.CheckMatrix(op.Op, nil)
			}
		}
		return linalg.CheckGemm(op.Op, mats[0], mats[1], op.Scalars[1], mats[2])
	}
	return nil
}

func vectorOperands(op Operation, n int) ([]*linalg.Vector, error) {
	if err := expectOperandCount(op, n); err != nil {
		return nil, err
	}
	res := make([]*linalg.Vector, n)
	for i, operand := range op.Operands {
		res[i] = asVector(operand)
		if err := linalg.CheckVector(op.Op, res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func matrixOperands(op Operation, n int) ([]*linalg.Matrix, error) {
	if err := expectOperandCount(op, n); err != nil {
		return nil, err
	}
	res := make([]*linalg.Matrix, n)
	for i, operand := range op.Operands {
		res[i] = asMatrix(operand)
		if err := linalg.CheckMatrix(op.Op, res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func expectOperandCount(op Operation, n int) error {
	if len(op.Operands) != n {
		return operandCountError(op, fmt.Sprint(n))
	}
	return nil
}

func operandCountError(op Operation, expected string) error {
	return &linalg.ShapeError{
		Op:       op.Op,
		Expected: expected + " operands",
		Actual:   fmt.Sprint(len(op.Operands)),
	}
}

func expectScalarCount(op Operation, n int) error {
	if len(op.Scalars) != n {
		return &linalg.ShapeError{
			Op:       op.Op,
			Expected: fmt.Sprintf("%d scalars", n),
			Actual:   fmt.Sprint(len(op.Scalars)),
		}
	}
	return nil
}

// asVector gets a vector operand, or nil if the operand
// is not a non-nil vector.
func asVector(operand interface{}) *linalg.Vector {
	v, _ := operand.(*linalg.Vector)
	return v
}

// asMatrix is like asVector, but for matrices.
func asMatrix(operand interface{}) *linalg.Matrix {
	m, _ := operand.(*linalg.Matrix)
	return m
}
