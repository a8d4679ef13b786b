// Package protocol defines the messages exchanged between
// a coordinator and its workers, and the barriers that
// merge per-worker reports into a single result.
package protocol

import (
	"encoding/gob"
	"fmt"
)

func init() {
	// Merged SendData results may be rebroadcast as data.
	gob.Register([]interface{}{})
}

// A Handle identifies the kind of a Message.
type Handle int

const (
	Init Handle = iota
	WorkerReady
	Trigger
	BroadcastData
	BroadcastVector
	BroadcastMatrix
	SendData
	VectorSendToCoordinator
	MatrixSendToCoordinator
	GatherVector
	GatherMatrixRows
	GatherMatrixColumns
	VectorSum
	VectorProduct
	Release
)

var handleNames = []string{
	"_init",
	"_workerReady",
	"_trigger",
	"_broadcastData",
	"_broadcastVector",
	"_broadcastMatrix",
	"_sendData",
	"_vectorSendToCoordinator",
	"_matrixSendToCoordinator",
	"_gatherVector",
	"_gatherMatrixRows",
	"_gatherMatrixColumns",
	"_vectorSum",
	"_vectorProduct",
	"_release",
}

// String gets the wire name of the handle.
func (h Handle) String() string {
	if h < 0 || int(h) >= len(handleNames) {
		return fmt.Sprintf("Handle(%d)", int(h))
	}
	return handleNames[h]
}

// ReadyTag is the tag under which workers report
// readiness after _init.
const ReadyTag = "_ready"

// Names of the handlers every builtin worker registers.
const (
	OpIdentity      = "identity"
	OpPlus          = "plus"
	OpMinus         = "minus"
	OpTimes         = "times"
	OpDivide        = "divide"
	OpScale         = "scale"
	OpApply         = "apply"
	OpSum           = "sum"
	OpProduct       = "product"
	OpDot           = "dot"
	OpMatVec        = "matvec"
	OpVecMat        = "vecmat"
	OpMatMul        = "matmul"
	OpMatMulColumns = "matmulColumns"
	OpLinComb       = "lincomb"
	OpLinCombMatrix = "lincombMatrix"
	OpGemv          = "gemv"
	OpGemm          = "gemm"
)

// A Call describes a triggered operation.
type Call struct {
	// Result is the tag under which workers report.
	Result string

	// Inputs are the tags of previously broadcast
	// operands, in operation order.
	Inputs []string

	// Scalars holds coefficients for the operation.
	Scalars []float64

	// Func names an elementwise function for apply.
	Func string

	// Rebroadcast asks the coordinator to send the merged
	// result back to every worker.
	Rebroadcast bool
}

// A Message is the unit of communication between a
// coordinator and a worker.
//
// Which fields are meaningful depends on Handle.
type Message struct {
	Handle Handle
	Tag    string

	// WorkerID is the sender's ID for worker reports, or
	// the assigned ID for _init.
	WorkerID    int
	WorkerCount int

	// Offset locates a gathered slice: an element offset
	// for vectors, a row offset for row gathers, and a
	// column offset for column gathers.
	Offset int

	// Length is the full length of a gathered vector.
	Length int

	// Rows and Cols give the full shape of a matrix.
	Rows int
	Cols int

	Scalar      float64
	Value       interface{}
	Call        *Call
	Tags        []string
	Rebroadcast bool

	// Buffers are moved, not copied, by Transport.Send.
	Buffers []*Buffer
}

// Size approximates the encoded size of the message in
// bytes.
func (m *Message) Size() float64 {
	headerSize := 64 + len(m.Tag)
	for _, b := range m.Buffers {
		headerSize += 8 * b.Len()
	}
	return float64(headerSize)
}

// ShallowCopy creates a copy of the message that shares
// all fields, including the Buffers slice.
func (m *Message) ShallowCopy() *Message {
	res := *m
	return &res
}
