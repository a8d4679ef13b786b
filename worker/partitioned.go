package worker

import (
	"github.com/unixpickle/distvec/linalg"
)

// The Wk* methods compute only this worker's partition of
// a result and report it to the coordinator under tag.
//
// Operands are validated before anything is sent, so a
// shape error never leaves a partial report behind.
// Every worker reports even if its partition is empty, so
// that the coordinator's barrier always closes.

// WkIdentity gathers this worker's slice of x unchanged.
func (a *Agent) WkIdentity(tag string, x *linalg.Vector, rebroadcast bool) error {
	if err := a.checkVectors("identity", x); err != nil {
		return err
	}
	r := a.Range(x.Len())
	part := append([]float64{}, x.Data[r.From:r.To]...)
	return a.GatherVector(tag, r.From, x.Len(), part, rebroadcast)
}

// WkPlus gathers this worker's slice of x + y.
func (a *Agent) WkPlus(tag string, x, y *linalg.Vector, rebroadcast bool) error {
	return a.wkBinary("plus", linalg.Plus, tag, x, y, rebroadcast)
}

// WkMinus gathers this worker's slice of x - y.
func (a *Agent) WkMinus(tag string, x, y *linalg.Vector, rebroadcast bool) error {
	return a.wkBinary("minus", linalg.Minus, tag, x, y, rebroadcast)
}

// WkTimes gathers this worker's slice of x * y.
func (a *Agent) WkTimes(tag string, x, y *linalg.Vector, rebroadcast bool) error {
	return a.wkBinary("times", linalg.Times, tag, x, y, rebroadcast)
}

// WkDivide gathers this worker's slice of x / y.
func (a *Agent) WkDivide(tag string, x, y *linalg.Vector, rebroadcast bool) error {
	return a.wkBinary("divide", linalg.Divide, tag, x, y, rebroadcast)
}

func (a *Agent) wkBinary(op string, f func(dst, x, y []float64), tag string, x, y *linalg.Vector,
	rebroadcast bool) error {
	if err := a.checkVectors(op, x, y); err != nil {
		return err
	}
	r := a.Range(x.Len())
	part := make([]float64, r.Len())
	f(part, x.Data[r.From:r.To], y.Data[r.From:r.To])
	return a.GatherVector(tag, r.From, x.Len(), part, rebroadcast)
}

// WkScale gathers this worker's slice of s * x.
func (a *Agent) WkScale(tag string, x *linalg.Vector, s float64, rebroadcast bool) error {
	if err := a.checkVectors("scale", x); err != nil {
		return err
	}
	r := a.Range(x.Len())
	part := make([]float64, r.Len())
	linalg.Scale(part, x.Data[r.From:r.To], s)
	return a.GatherVector(tag, r.From, x.Len(), part, rebroadcast)
}

// WkApply gathers this worker's slice of f(x).
func (a *Agent) WkApply(tag string, x *linalg.Vector, f func(float64) float64,
	rebroadcast bool) error {
	if err := a.checkVectors("apply", x); err != nil {
		return err
	}
	r := a.Range(x.Len())
	part := make([]float64, r.Len())
	linalg.Apply(part, x.Data[r.From:r.To], f)
	return a.GatherVector(tag, r.From, x.Len(), part, rebroadcast)
}

// WkSum reports this worker's partial sum of x.
func (a *Agent) WkSum(tag string, x *linalg.Vector, rebroadcast bool) error {
	if err := a.checkVectors("sum", x); err != nil {
		return err
	}
	r := a.Range(x.Len())
	return a.ReduceSum(tag, linalg.Sum(x.Data[r.From:r.To]), rebroadcast)
}

// WkProduct reports this worker's partial product of x.
func (a *Agent) WkProduct(tag string, x *linalg.Vector, rebroadcast bool) error {
	if err := a.checkVectors("product", x); err != nil {
		return err
	}
	r := a.Range(x.Len())
	return a.ReduceProduct(tag, linalg.Product(x.Data[r.From:r.To]), rebroadcast)
}

// WkDot reports this worker's partial dot product.
func (a *Agent) WkDot(tag string, x, y *linalg.Vector, rebroadcast bool) error {
	if err := a.checkVectors("dot", x, y); err != nil {
		return err
	}
	r := a.Range(x.Len())
	return a.ReduceSum(tag, linalg.Dot(x.Data[r.From:r.To], y.Data[r.From:r.To]), rebroadcast)
}

// WkMatVec gathers this worker's rows of m*x.
func (a *Agent) WkMatVec(tag string, m *linalg.Matrix, x *linalg.Vector, rebroadcast bool) error {
	if err := a.checkReady(); err != nil {
		return err
	}
	if err := linalg.CheckMatVec("matvec", m, x); err != nil {
		return err
	}
	r := a.Range(m.Rows)
	part := make([]float64, r.Len())
	linalg.MatVecRows(part, m, x.Data, r.From, r.To)
	return a.GatherVector(tag, r.From, m.Rows, part, rebroadcast)
}

// WkVecMat gathers this worker's columns of x^T*m.
func (a *Agent) WkVecMat(tag string, x *linalg.Vector, m *linalg.Matrix, rebroadcast bool) error {
	if err := a.checkReady(); err != nil {
		return err
	}
	if err := linalg.CheckVecMat("vecmat", x, m); err != nil {
		return err
	}
	r := a.Range(m.Cols)
	part := make([]float64, r.Len())
	linalg.VecMatCols(part, x.Data, m, r.From, r.To)
	return a.GatherVector(tag, r.From, m.Cols, part, rebroadcast)
}

// WkMatMul gathers this worker's rows of x*y.
func (a *Agent) WkMatMul(tag string, x, y *linalg.Matrix, rebroadcast bool) error {
	if err := a.checkReady(); err != nil {
		return err
	}
	if err := linalg.CheckMatMul("matmul", x, y); err != nil {
		return err
	}
	r := a.Range(x.Rows)
	block := make([]float64, r.Len()*y.Cols)
	linalg.MatMulRows(block, x, y, r.From, r.To)
	return a.GatherRows(tag, r.From, x.Rows, y.Cols, block, rebroadcast)
}

// WkMatMulColumns gathers this worker's columns of x*y.
//
// The columns are shipped transposed, and the coordinator
// places them into the final column range.
func (a *Agent) WkMatMulColumns(tag string, x, y *linalg.Matrix, rebroadcast bool) error {
	if err := a.checkReady(); err != nil {
		return err
	}
	if err := linalg.CheckMatMul("matmulColumns", x, y); err != nil {
		return err
	}
	r := a.Range(y.Cols)
	block := make([]float64, r.Len()*x.Rows)
	linalg.MatMulColsT(block, x, y, r.From, r.To)
	return a.GatherColumns(tag, r.From, x.Rows, y.Cols, block, rebroadcast)
}

func (a *Agent) checkReady() error {
	if !a.Ready() {
		return ErrNotReady
	}
	return nil
}

func (a *Agent) checkVectors(op string, vecs ...*linalg.Vector) error {
	if err := a.checkReady(); err != nil {
		return err
	}
	return linalg.CheckSameLen(op, vecs...)
}
