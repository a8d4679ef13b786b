package linalg

import "fmt"

// A ShapeError reports an operand that does not fit an
// operation, before any work is distributed.
type ShapeError struct {
	Op       string
	Expected string
	Actual   string
}

func (s *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected %s but got %s", s.Op, s.Expected, s.Actual)
}

// CheckVector validates that v is non-nil.
func CheckVector(op string, v *Vector) error {
	if v == nil {
		return &ShapeError{Op: op, Expected: "vector", Actual: "nil"}
	}
	return nil
}

// CheckMatrix validates that m is non-nil and its buffer
// matches its shape.
func CheckMatrix(op string, m *Matrix) error {
	if m == nil {
		return &ShapeError{Op: op, Expected: "matrix", Actual: "nil"}
	}
	if len(m.Data) != m.Rows*m.Cols {
		return &ShapeError{
			Op:       op,
			Expected: fmt.Sprintf("%d entries", m.Rows*m.Cols),
			Actual:   fmt.Sprintf("%d entries", len(m.Data)),
		}
	}
	return nil
}

// CheckSameLen validates that all vectors exist and have
// the same length.
func CheckSameLen(op string, vecs ...*Vector) error {
	for _, v := range vecs {
		if err := CheckVector(op, v); err != nil {
			return err
		}
	}
	for _, v := range vecs[1:] {
		if v.Len() != vecs[0].Len() {
			return &ShapeError{
				Op:       op,
				Expected: fmt.Sprintf("length %d", vecs[0].Len()),
				Actual:   fmt.Sprintf("length %d", v.Len()),
			}
		}
	}
	return nil
}

// CheckSameShape validates that all matrices exist and
// have the same shape.
func CheckSameShape(op string, mats ...*Matrix) error {
	for _, m := range mats {
		if err := CheckMatrix(op, m); err != nil {
			return err
		}
	}
	for _, m := range mats[1:] {
		if m.Rows != mats[0].Rows || m.Cols != mats[0].Cols {
			return &ShapeError{
				Op:       op,
				Expected: fmt.Sprintf("%dx%d", mats[0].Rows, mats[0].Cols),
				Actual:   fmt.Sprintf("%dx%d", m.Rows, m.Cols),
			}
		}
	}
	return nil
}

// CheckMatVec validates the operands of m*x.
func CheckMatVec(op string, m *Matrix, x *Vector) error {
	if err := CheckMatrix(op, m); err != nil {
		return err
	}
	if err := CheckVector(op, x); err != nil {
		return err
	}
	if m.Cols != x.Len() {
		return &ShapeError{
			Op:       op,
			Expected: fmt.Sprintf("vector of length %d", m.Cols),
			Actual:   fmt.Sprintf("length %d", x.Len()),
		}
	}
	return nil
}

// CheckVecMat validates the operands of x^T*m.
func CheckVecMat(op string, x *Vector, m *Matrix) error {
	if err := CheckMatrix(op, m); err != nil {
		return err
	}
	if err := CheckVector(op, x); err != nil {
		return err
	}
	if m.Rows != x.Len() {
		return &ShapeError{
			Op:       op,
			Expected: fmt.Sprintf("vector of length %d", m.Rows),
			Actual:   fmt.Sprintf("length %d", x.Len()),
		}
	}
	return nil
}

// CheckMatMul validates the operands of a*b.
func CheckMatMul(op string, a, b *Matrix) error {
	if err := CheckMatrix(op, a); err != nil {
		return err
	}
	if err := CheckMatrix(op, b); err != nil {
		return err
	}
	if a.Cols != b.Rows {
		return &ShapeError{
			Op:       op,
			Expected: fmt.Sprintf("right operand with %d rows", a.Cols),
			Actual:   b.String(),
		}
	}
	return nil
}

// CheckLinComb validates the terms of a linear
// combination of vectors.
func CheckLinComb(op string, coeffs []float64, vecs []*Vector) error {
	if len(vecs) == 0 {
		return &ShapeError{Op: op, Expected: "at least one term", Actual: "none"}
	}
	if len(coeffs) != len(vecs) {
		return &ShapeError{
			Op:       op,
			Expected: fmt.Sprintf("%d coefficients", len(vecs)),
			Actual:   fmt.Sprintf("%d", len(coeffs)),
		}
	}
	return CheckSameLen(op, vecs...)
}

// CheckLinCombMatrix validates the terms of a linear
// combination of matrices.
func CheckLinCombMatrix(op string, coeffs []float64, mats []*Matrix) error {
	if len(mats) == 0 {
		return &ShapeError{Op: op, Expected: "at least one term", Actual: "none"}
	}
	if len(coeffs) != len(mats) {
		return &ShapeError{
			Op:       op,
			Expected: fmt.Sprintf("%d coefficients", len(mats)),
			Actual:   fmt.Sprintf("%d", len(coeffs)),
		}
	}
	return CheckSameShape(op, mats...)
}

// CheckGemv validates the operands of alpha*m*x + beta*y.
//
// The second term is optional: y may be nil, but only if
// beta is 0.
func CheckGemv(op string, m *Matrix, x *Vector, beta float64, y *Vector) error {
	if err := CheckMatVec(op, m, x); err != nil {
		return err
	}
	if y == nil {
		if beta != 0 {
			return &ShapeError{Op: op, Expected: "vector for nonzero beta", Actual: "nil"}
		}
		return nil
	}
	if y.Len() != m.Rows {
		return &ShapeError{
			Op:       op,
			Expected: fmt.Sprintf("addend of length %d", m.Rows),
			Actual:   fmt.Sprintf("length %d", y.Len()),
		}
	}
	return nil
}

// CheckGemm validates the operands of alpha*a*b + beta*c.
//
// The second term is optional: c may be nil, but only if
// beta is 0.
func CheckGemm(op string, a, b *Matrix, beta float64, c *Matrix) error {
	if err := CheckMatMul(op, a, b); err != nil {
		return err
	}
	if c == nil {
		if beta != 0 {
			return &ShapeError{Op: op, Expected: "matrix for nonzero beta", Actual: "nil"}
		}
		return nil
	}
	if err := CheckMatrix(op, c); err != nil {
		return err
	}
	if c.Rows != a.Rows || c.Cols != b.Cols {
		return &ShapeError{
			Op:       op,
			Expected: fmt.Sprintf("%dx%d addend", a.Rows, b.Cols),
			Actual:   c.String(),
		}
	}
	return nil
}
