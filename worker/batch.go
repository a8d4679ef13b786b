package worker

import (
	"github.com/unixpickle/distvec/linalg"
)

// WkLinComb gathers this worker's slice of
// sum_i coeffs[i]*vecs[i].
//
// All terms are accumulated into one local buffer and
// gathered once.
func (a *Agent) WkLinComb(tag string, coeffs []float64, vecs []*linalg.Vector,
	rebroadcast bool) error {
	if err := a.checkReady(); err != nil {
		return err
	}
	if err := linalg.CheckLinComb("lincomb", coeffs, vecs); err != nil {
		return err
	}
	n := vecs[0].Len()
	r := a.Range(n)
	part := make([]float64, r.Len())
	for i, v := range vecs {
		linalg.AddScaled(part, v.Data[r.From:r.To], coeffs[i])
	}
	return a.GatherVector(tag, r.From, n, part, rebroadcast)
}

// WkLinCombMatrix gathers this worker's rows of
// sum_i coeffs[i]*mats[i].
func (a *Agent) WkLinCombMatrix(tag string, coeffs []float64, mats []*linalg.Matrix,
	rebroadcast bool) error {
	if err := a.checkReady(); err != nil {
		return err
	}
	if err := linalg.CheckLinCombMatrix("lincombMatrix", coeffs, mats); err != nil {
		return err
	}
	rows, cols := mats[0].Rows, mats[0].Cols
	r := a.Range(rows)
	block := make([]float64, r.Len()*cols)
	for i, m := range mats {
		linalg.AddScaled(block, m.Data[r.From*cols:r.To*cols], coeffs[i])
	}
	return a.GatherRows(tag, r.From, rows, cols, block, rebroadcast)
}

// WkGemv gathers this worker's rows of alpha*m*x + beta*y.
//
// If y is nil, beta must be 0 and only the product is
// computed.
func (a *Agent) WkGemv(tag string, alpha float64, m *linalg.Matrix, x *linalg.Vector,
	beta float64, y *linalg.Vector, rebroadcast bool) error {
	if err := a.checkReady(); err != nil {
		return err
	}
	if err := linalg.CheckGemv("gemv", m, x, beta, y); err != nil {
		return err
	}
	r := a.Range(m.Rows)
	part := make([]float64, r.Len())
	linalg.MatVecRows(part, m, x.Data, r.From, r.To)
	linalg.Scale(part, part, alpha)
	if y != nil {
		linalg.AddScaled(part, y.Data[r.From:r.To], beta)
	}
	return a.GatherVector(tag, r.From, m.Rows, part, rebroadcast)
}

// WkGemm gathers this worker's rows of
// alpha*x*y + beta*z.
//
// If z is nil, beta must be 0 and only the product is
// computed.
//
// The right operand y is transposed once before the pass
// so that every entry is a dot product of two contiguous
// rows.
// A square y that is not aliased by another operand is
// transposed in place and restored afterwards, so y is
// observably unchanged; y must not be read concurrently.
func (a *Agent) WkGemm(tag string, alpha float64, x, y *linalg.Matrix, beta float64,
	z *linalg.Matrix, rebroadcast bool) error {
	if err := a.checkReady(); err != nil {
		return err
	}
	if err := linalg.CheckGemm("gemm", x, y, beta, z); err != nil {
		return err
	}

	r := a.Range(x.Rows)
	cols := y.Cols
	block := make([]float64, r.Len()*cols)
	if y.Rows == y.Cols && y != x && y != z {
		y.TransposeInPlace()
		linalg.MatMulRowsT(block, x, y, r.From, r.To)
		y.TransposeInPlace()
	} else {
		linalg.MatMulRowsT(block, x, y.Transpose(), r.From, r.To)
	}
	linalg.Scale(block, block, alpha)
	if z != nil {
		linalg.AddScaled(block, z.Data[r.From*cols:r.To*cols], beta)
	}
	return a.GatherRows(tag, r.From, x.Rows, cols, block, rebroadcast)
}
