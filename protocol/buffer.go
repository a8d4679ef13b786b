package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// A Buffer is a numeric buffer with exactly one owner.
//
// Ownership is handed off with Move, after which the old
// Buffer is released and must not be read.
// Transports move every Buffer attached to a Message, so
// a sender gives up its buffers when it sends.
type Buffer struct {
	data     []float64
	released bool
}

// NewBuffer wraps data in a Buffer.
//
// The caller should not use data after this unless it
// can guarantee the Buffer is never moved.
func NewBuffer(data []float64) *Buffer {
	return &Buffer{data: data}
}

// Data gets the underlying values.
//
// It panics if the buffer has been released.
func (b *Buffer) Data() []float64 {
	if b.released {
		panic("buffer has been transferred")
	}
	return b.data
}

// Len gets the number of values, or 0 for a released
// buffer.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Released checks if ownership has been given away.
func (b *Buffer) Released() bool {
	return b.released
}

// Move transfers the underlying values to a new Buffer
// without copying them, and releases b.
func (b *Buffer) Move() *Buffer {
	if b.released {
		panic("buffer has been transferred")
	}
	res := &Buffer{data: b.data}
	b.data = nil
	b.released = true
	return res
}

// Take releases b and returns its values.
func (b *Buffer) Take() []float64 {
	return b.Move().data
}

// Clone creates an independent copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{data: append([]float64{}, b.Data()...)}
}

// GobEncode encodes the values as little-endian floats.
func (b *Buffer) GobEncode() ([]byte, error) {
	if b.released {
		return nil, errors.New("encode released buffer")
	}
	res := make([]byte, 8*len(b.data))
	for i, x := range b.data {
		binary.LittleEndian.PutUint64(res[i*8:], math.Float64bits(x))
	}
	return res, nil
}

// GobDecode decodes the result of GobEncode.
func (b *Buffer) GobDecode(data []byte) error {
	if len(data)%8 != 0 {
		return errors.New("decode buffer: length is not a multiple of 8")
	}
	b.data = make([]float64, len(data)/8)
	for i := range b.data {
		b.data[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	b.released = false
	return nil
}
