package protocol

import (
	"fmt"

	"github.com/unixpickle/distvec/linalg"
)

// An accumulator merges the reports of one barrier round.
type accumulator interface {
	Add(msg *Message) error
	Fill(res *Result)
}

func newAccumulator(first *Message, size int) (accumulator, error) {
	switch first.Handle {
	case WorkerReady:
		return countAccumulator{}, nil
	case SendData:
		return &valuesAccumulator{values: make([]interface{}, size)}, nil
	case VectorSendToCoordinator:
		return &wholeAccumulator{}, nil
	case MatrixSendToCoordinator:
		return &wholeAccumulator{matrix: true}, nil
	case GatherVector:
		if first.Length < 0 {
			return nil, fmt.Errorf("%w: negative length %d", ErrBadReport, first.Length)
		}
		return &vectorAccumulator{data: make([]float64, first.Length)}, nil
	case GatherMatrixRows, GatherMatrixColumns:
		if first.Rows < 0 || first.Cols < 0 {
			return nil, fmt.Errorf("%w: negative shape %dx%d", ErrBadReport, first.Rows, first.Cols)
		}
		return &matrixAccumulator{
			columns: first.Handle == GatherMatrixColumns,
			matrix:  linalg.NewMatrix(first.Rows, first.Cols),
		}, nil
	case VectorSum, VectorProduct:
		fn, identity, _ := reduceFnFor(first.Handle)
		return &reduceAccumulator{fn: fn, value: identity}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, first.Handle)
}

type countAccumulator struct{}

func (c countAccumulator) Add(msg *Message) error {
	return nil
}

func (c countAccumulator) Fill(res *Result) {
}

type valuesAccumulator struct {
	values []interface{}
}

func (v *valuesAccumulator) Add(msg *Message) error {
	if msg.WorkerID < 0 || msg.WorkerID >= len(v.values) {
		return fmt.Errorf("%w: worker ID %d out of range", ErrBadReport, msg.WorkerID)
	}
	v.values[msg.WorkerID] = msg.Value
	return nil
}

func (v *valuesAccumulator) Fill(res *Result) {
	res.Values = v.values
}

type wholeAccumulator struct {
	matrix bool
	res    Result
}

func (w *wholeAccumulator) Add(msg *Message) error {
	data, err := singleBuffer(msg)
	if err != nil {
		return err
	}
	if !w.matrix {
		w.res.Vector = &linalg.Vector{Data: data}
		return nil
	}
	if len(data) != msg.Rows*msg.Cols {
		return fmt.Errorf("%w: %d entries for %dx%d matrix", ErrBadReport, len(data),
			msg.Rows, msg.Cols)
	}
	w.res.Matrix = &linalg.Matrix{Rows: msg.Rows, Cols: msg.Cols, Data: data}
	return nil
}

func (w *wholeAccumulator) Fill(res *Result) {
	res.Vector = w.res.Vector
	res.Matrix = w.res.Matrix
}

type vectorAccumulator struct {
	data []float64
}

func (v *vectorAccumulator) Add(msg *Message) error {
	if msg.Length != len(v.data) {
		return fmt.Errorf("%w: length %d in round of length %d", ErrBadReport, msg.Length,
			len(v.data))
	}
	if err := checkBuffer(msg); err != nil {
		return err
	}
	n := msg.Buffers[0].Len()
	if msg.Offset < 0 || msg.Offset+n > len(v.data) {
		return fmt.Errorf("%w: slice [%d,%d) outside length %d", ErrBadReport, msg.Offset,
			msg.Offset+n, len(v.data))
	}
	copy(v.data[msg.Offset:], msg.Buffers[0].Take())
	return nil
}

func (v *vectorAccumulator) Fill(res *Result) {
	res.Vector = &linalg.Vector{Data: v.data}
}

// A matrixAccumulator assembles row blocks, or
// transposed column blocks, into a matrix.
type matrixAccumulator struct {
	columns bool
	matrix  *linalg.Matrix
}

func (m *matrixAccumulator) Add(msg *Message) error {
	if msg.Rows != m.matrix.Rows || msg.Cols != m.matrix.Cols {
		return fmt.Errorf("%w: shape %dx%d in round of shape %dx%d", ErrBadReport,
			msg.Rows, msg.Cols, m.matrix.Rows, m.matrix.Cols)
	}
	if err := checkBuffer(msg); err != nil {
		return err
	}
	if m.columns {
		return m.addColumns(msg)
	}
	return m.addRows(msg)
}

func (m *matrixAccumulator) addRows(msg *Message) error {
	n := msg.Buffers[0].Len()
	cols := m.matrix.Cols
	if cols == 0 {
		if n != 0 {
			return fmt.Errorf("%w: non-empty block for zero columns", ErrBadReport)
		}
		msg.Buffers[0].Take()
		return nil
	}
	if n%cols != 0 {
		return fmt.Errorf("%w: %d entries is not a whole number of rows", ErrBadReport, n)
	}
	if msg.Offset < 0 || msg.Offset+n/cols > m.matrix.Rows {
		return fmt.Errorf("%w: rows [%d,%d) outside %d rows", ErrBadReport, msg.Offset,
			msg.Offset+n/cols, m.matrix.Rows)
	}
	copy(m.matrix.Data[msg.Offset*cols:], msg.Buffers[0].Take())
	return nil
}

func (m *matrixAccumulator) addColumns(msg *Message) error {
	n := msg.Buffers[0].Len()
	rows := m.matrix.Rows
	if rows == 0 {
		if n != 0 {
			return fmt.Errorf("%w: non-empty block for zero rows", ErrBadReport)
		}
		msg.Buffers[0].Take()
		return nil
	}
	if n%rows != 0 {
		return fmt.Errorf("%w: %d entries is not a whole number of columns", ErrBadReport, n)
	}
	numCols := n / rows
	if msg.Offset < 0 || msg.Offset+numCols > m.matrix.Cols {
		return fmt.Errorf("%w: columns [%d,%d) outside %d columns", ErrBadReport, msg.Offset,
			msg.Offset+numCols, m.matrix.Cols)
	}
	block := msg.Buffers[0].Take()
	for j := 0; j < numCols; j++ {
		column := block[j*rows : (j+1)*rows]
		for i, x := range column {
			m.matrix.Data[i*m.matrix.Cols+msg.Offset+j] = x
		}
	}
	return nil
}

func (m *matrixAccumulator) Fill(res *Result) {
	res.Matrix = m.matrix
}

type reduceAccumulator struct {
	fn    ReduceFn
	value float64
}

func (r *reduceAccumulator) Add(msg *Message) error {
	r.value = r.fn(r.value, msg.Scalar)
	return nil
}

func (r *reduceAccumulator) Fill(res *Result) {
	res.Scalar = r.value
}

func checkBuffer(msg *Message) error {
	if len(msg.Buffers) != 1 {
		return fmt.Errorf("%w: expected 1 buffer but got %d", ErrBadReport, len(msg.Buffers))
	}
	if msg.Buffers[0] == nil || msg.Buffers[0].Released() {
		return fmt.Errorf("%w: missing buffer", ErrBadReport)
	}
	return nil
}

func singleBuffer(msg *Message) ([]float64, error) {
	if err := checkBuffer(msg); err != nil {
		return nil, err
	}
	return msg.Buffers[0].Take(), nil
}
