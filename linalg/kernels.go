package linalg

// These kernels operate on raw slices so that workers can
// run them over a partition without allocating views.
// Length mismatches are programmer errors and panic.

// Plus computes dst = a + b.
func Plus(dst, a, b []float64) {
	checkLens(dst, a, b)
	for i, x := range a {
		dst[i] = x + b[i]
	}
}

// Minus computes dst = a - b.
func Minus(dst, a, b []float64) {
	checkLens(dst, a, b)
	for i, x := range a {
		dst[i] = x - b[i]
	}
}

// Times computes the elementwise product dst = a * b.
func Times(dst, a, b []float64) {
	checkLens(dst, a, b)
	for i, x := range a {
		dst[i] = x * b[i]
	}
}

// Divide computes the elementwise quotient dst = a / b.
func Divide(dst, a, b []float64) {
	checkLens(dst, a, b)
	for i, x := range a {
		dst[i] = x / b[i]
	}
}

// Scale computes dst = s * a.
func Scale(dst, a []float64, s float64) {
	checkLens(dst, a)
	for i, x := range a {
		dst[i] = s * x
	}
}

// Apply computes dst[i] = f(a[i]).
func Apply(dst, a []float64, f func(float64) float64) {
	checkLens(dst, a)
	for i, x := range a {
		dst[i] = f(x)
	}
}

// AddScaled computes dst += s * a.
func AddScaled(dst, a []float64, s float64) {
	checkLens(dst, a)
	for i, x := range a {
		dst[i] += s * x
	}
}

// Sum adds up the entries of a.
func Sum(a []float64) float64 {
	var res float64
	for _, x := range a {
		res += x
	}
	return res
}

// Product multiplies the entries of a.
func Product(a []float64) float64 {
	res := 1.0
	for _, x := range a {
		res *= x
	}
	return res
}

// Dot computes the inner product of a and b.
func Dot(a, b []float64) float64 {
	checkLens(a, b)
	var res float64
	for i, x := range a {
		res += x * b[i]
	}
	return res
}

// MatVecRows computes rows [from, to) of m*x into dst,
// which must have length to-from.
func MatVecRows(dst []float64, m *Matrix, x []float64, from, to int) {
	if len(x) != m.Cols || len(dst) != to-from {
		panic("mismatching lengths")
	}
	for i := from; i < to; i++ {
		dst[i-from] = Dot(m.Row(i), x)
	}
}

// VecMatCols computes columns [from, to) of x^T*m into
// dst, which must have length to-from.
func VecMatCols(dst []float64, x []float64, m *Matrix, from, to int) {
	if len(x) != m.Rows || len(dst) != to-from {
		panic("mismatching lengths")
	}
	for j := range dst {
		dst[j] = 0
	}
	for i, scale := range x {
		row := m.Row(i)[from:to]
		for j, y := range row {
			dst[j] += scale * y
		}
	}
}

// MatMulRows computes rows [from, to) of a*b into dst,
// a row-major block of (to-from)*b.Cols entries.
func MatMulRows(dst []float64, a, b *Matrix, from, to int) {
	if a.Cols != b.Rows || len(dst) != (to-from)*b.Cols {
		panic("mismatching shapes")
	}
	for i := from; i < to; i++ {
		out := dst[(i-from)*b.Cols : (i-from+1)*b.Cols]
		for j := range out {
			out[j] = 0
		}
		for k, scale := range a.Row(i) {
			AddScaled(out, b.Row(k), scale)
		}
	}
}

// MatMulRowsT is like MatMulRows, but takes the right
// operand already transposed so that every output entry
// is a dot product of two contiguous rows.
func MatMulRowsT(dst []float64, a, bt *Matrix, from, to int) {
	if a.Cols != bt.Cols || len(dst) != (to-from)*bt.Rows {
		panic("mismatching shapes")
	}
	for i := from; i < to; i++ {
		row := a.Row(i)
		for j := 0; j < bt.Rows; j++ {
			dst[(i-from)*bt.Rows+j] = Dot(row, bt.Row(j))
		}
	}
}

// MatMulColsT computes columns [from, to) of a*b and
// stores them transposed in dst: column j of the result
// becomes row j-from of dst.
func MatMulColsT(dst []float64, a, b *Matrix, from, to int) {
	if a.Cols != b.Rows || len(dst) != (to-from)*a.Rows {
		panic("mismatching shapes")
	}
	for j := from; j < to; j++ {
		out := dst[(j-from)*a.Rows : (j-from+1)*a.Rows]
		for i := range out {
			var sum float64
			for k := 0; k < a.Cols; k++ {
				sum += a.Data[i*a.Cols+k] * b.Data[k*b.Cols+j]
			}
			out[i] = sum
		}
	}
}

// MatVec computes m*x in a single context.
func MatVec(m *Matrix, x *Vector) *Vector {
	res := NewVector(m.Rows)
	MatVecRows(res.Data, m, x.Data, 0, m.Rows)
	return res
}

// VecMat computes x^T*m in a single context.
func VecMat(x *Vector, m *Matrix) *Vector {
	res := NewVector(m.Cols)
	VecMatCols(res.Data, x.Data, m, 0, m.Cols)
	return res
}

// MatMul computes a*b in a single context.
func MatMul(a, b *Matrix) *Matrix {
	res := NewMatrix(a.Rows, b.Cols)
	MatMulRows(res.Data, a, b, 0, a.Rows)
	return res
}

func checkLens(slices ...[]float64) {
	for _, s := range slices[1:] {
		if len(s) != len(slices[0]) {
			panic("mismatching lengths")
		}
	}
}
