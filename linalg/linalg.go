// Package linalg provides the dense vector and matrix
// containers passed between coordinators and workers,
// along with the numeric kernels workers run over their
// partitions.
package linalg

import (
	"fmt"
	"math"
)

// A Vector is a dense vector of float64 values.
type Vector struct {
	Data []float64
}

// NewVector creates an all-zero vector.
func NewVector(n int) *Vector {
	return &Vector{Data: make([]float64, n)}
}

// VectorOf wraps values in a Vector without copying.
func VectorOf(values ...float64) *Vector {
	return &Vector{Data: values}
}

// Len gets the number of components.
func (v *Vector) Len() int {
	return len(v.Data)
}

// Copy creates a deep copy of the vector.
func (v *Vector) Copy() *Vector {
	return &Vector{Data: append([]float64{}, v.Data...)}
}

// A Matrix is a dense row-major matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix creates an all-zero matrix.
func NewMatrix(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		panic("negative matrix dimension")
	}
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// MatrixFromRows creates a matrix by copying rows.
func MatrixFromRows(rows [][]float64) *Matrix {
	if len(rows) == 0 {
		return NewMatrix(0, 0)
	}
	res := NewMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		if len(row) != res.Cols {
			panic("ragged rows")
		}
		copy(res.Row(i), row)
	}
	return res
}

// At gets an entry in the matrix.
func (m *Matrix) At(row, col int) float64 {
	if row < 0 || col < 0 || row >= m.Rows || col >= m.Cols {
		panic("index out of bounds")
	}
	return m.Data[row*m.Cols+col]
}

// Set an entry in the matrix.
func (m *Matrix) Set(row, col int, value float64) {
	if row < 0 || col < 0 || row >= m.Rows || col >= m.Cols {
		panic("index out of bounds")
	}
	m.Data[row*m.Cols+col] = value
}

// Row gets a slice aliasing a row of the matrix.
func (m *Matrix) Row(row int) []float64 {
	return m.Data[row*m.Cols : (row+1)*m.Cols]
}

// Copy creates a deep copy of the matrix.
func (m *Matrix) Copy() *Matrix {
	return &Matrix{Rows: m.Rows, Cols: m.Cols, Data: append([]float64{}, m.Data...)}
}

// Transpose creates a transposed copy of the matrix.
func (m *Matrix) Transpose() *Matrix {
	res := NewMatrix(m.Cols, m.Rows)
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			res.Data[j*m.Rows+i] = m.Data[i*m.Cols+j]
		}
	}
	return res
}

// TransposeInPlace transposes a square matrix by
// swapping entries in its own buffer.
//
// This mutates m; it panics for non-square matrices.
func (m *Matrix) TransposeInPlace() {
	if m.Rows != m.Cols {
		panic("in-place transpose requires a square matrix")
	}
	n := m.Rows
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m.Data[i*n+j], m.Data[j*n+i] = m.Data[j*n+i], m.Data[i*n+j]
		}
	}
}

// Equal checks if two matrices have the same shape and
// their entries differ by no more than tol.
func (m *Matrix) Equal(other *Matrix, tol float64) bool {
	if m.Rows != other.Rows || m.Cols != other.Cols {
		return false
	}
	return approxEqual(m.Data, other.Data, tol)
}

// Equal checks if two vectors have the same length and
// their entries differ by no more than tol.
func (v *Vector) Equal(other *Vector, tol float64) bool {
	if v.Len() != other.Len() {
		return false
	}
	return approxEqual(v.Data, other.Data, tol)
}

func approxEqual(a, b []float64, tol float64) bool {
	for i, x := range a {
		if math.Abs(x-b[i]) > tol {
			return false
		}
	}
	return true
}

// String formats the shape of the matrix.
func (m *Matrix) String() string {
	return fmt.Sprintf("Matrix(%dx%d)", m.Rows, m.Cols)
}
