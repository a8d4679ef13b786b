package worker

import (
	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/protocol"
)

// GatherVector ships this worker's slice of a vector of
// the given length, starting at offset.
//
// The part is moved to the coordinator and must not be
// used afterwards.
func (a *Agent) GatherVector(tag string, offset, length int, part []float64,
	rebroadcast bool) error {
	return a.transport.Send(&protocol.Message{
		Handle:      protocol.GatherVector,
		Tag:         tag,
		WorkerID:    a.ID(),
		Offset:      offset,
		Length:      length,
		Rebroadcast: rebroadcast,
		Buffers:     []*protocol.Buffer{protocol.NewBuffer(part)},
	})
}

// GatherRows ships a row-major block of rows starting at
// row offset of a rows-by-cols matrix.
func (a *Agent) GatherRows(tag string, offset, rows, cols int, block []float64,
	rebroadcast bool) error {
	return a.transport.Send(&protocol.Message{
		Handle:      protocol.GatherMatrixRows,
		Tag:         tag,
		WorkerID:    a.ID(),
		Offset:      offset,
		Rows:        rows,
		Cols:        cols,
		Rebroadcast: rebroadcast,
		Buffers:     []*protocol.Buffer{protocol.NewBuffer(block)},
	})
}

// GatherColumns ships a block of columns starting at
// column offset of a rows-by-cols matrix.
//
// The block is transposed: each column of the result is
// one contiguous run of rows entries.
func (a *Agent) GatherColumns(tag string, offset, rows, cols int, block []float64,
	rebroadcast bool) error {
	return a.transport.Send(&protocol.Message{
		Handle:      protocol.GatherMatrixColumns,
		Tag:         tag,
		WorkerID:    a.ID(),
		Offset:      offset,
		Rows:        rows,
		Cols:        cols,
		Rebroadcast: rebroadcast,
		Buffers:     []*protocol.Buffer{protocol.NewBuffer(block)},
	})
}

// ReduceSum reports a partial sum.
func (a *Agent) ReduceSum(tag string, partial float64, rebroadcast bool) error {
	return a.reduce(protocol.VectorSum, tag, partial, rebroadcast)
}

// ReduceProduct reports a partial product.
func (a *Agent) ReduceProduct(tag string, partial float64, rebroadcast bool) error {
	return a.reduce(protocol.VectorProduct, tag, partial, rebroadcast)
}

func (a *Agent) reduce(h protocol.Handle, tag string, partial float64, rebroadcast bool) error {
	return a.transport.Send(&protocol.Message{
		Handle:      h,
		Tag:         tag,
		WorkerID:    a.ID(),
		Scalar:      partial,
		Rebroadcast: rebroadcast,
	})
}

// SendData reports an arbitrary value from this worker.
// The coordinator gathers one value per worker.
func (a *Agent) SendData(tag string, value interface{}) error {
	return a.transport.Send(&protocol.Message{
		Handle:   protocol.SendData,
		Tag:      tag,
		WorkerID: a.ID(),
		Value:    value,
	})
}

// SendVector ships a full vector to the coordinator.
//
// Only worker 0 sends; on other workers this is a no-op.
// The vector's buffer is moved.
func (a *Agent) SendVector(tag string, v *linalg.Vector) error {
	if a.ID() != 0 {
		return nil
	}
	return a.transport.Send(&protocol.Message{
		Handle:   protocol.VectorSendToCoordinator,
		Tag:      tag,
		WorkerID: a.ID(),
		Buffers:  []*protocol.Buffer{protocol.NewBuffer(v.Data)},
	})
}

// SendMatrix is like SendVector, but for matrices.
func (a *Agent) SendMatrix(tag string, m *linalg.Matrix) error {
	if a.ID() != 0 {
		return nil
	}
	return a.transport.Send(&protocol.Message{
		Handle:   protocol.MatrixSendToCoordinator,
		Tag:      tag,
		WorkerID: a.ID(),
		Rows:     m.Rows,
		Cols:     m.Cols,
		Buffers:  []*protocol.Buffer{protocol.NewBuffer(m.Data)},
	})
}
