package protocol

import (
	"errors"
	"fmt"

	"github.com/unixpickle/distvec/linalg"
)

var (
	ErrUnknownHandle   = errors.New("unrecognized message handle")
	ErrDuplicateReport = errors.New("worker already reported this round")
	ErrKindMismatch    = errors.New("report kind differs from the open round")
	ErrBadReport       = errors.New("malformed report")
)

// A State is the phase of a Barrier's current round.
type State int

const (
	// Open means no worker has reported.
	Open State = iota

	// Accumulating means some, but not all, workers have
	// reported.
	Accumulating

	// Closed means every worker reported. A Barrier is
	// only Closed while its result is being produced; it
	// then resets to Open.
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case Accumulating:
		return "Accumulating"
	case Closed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// A Result is the merged outcome of a closed Barrier.
type Result struct {
	Tag  string
	Kind Handle

	// Exactly one of these is meaningful, depending on
	// Kind.
	Vector *linalg.Vector
	Matrix *linalg.Matrix
	Scalar float64
	Values []interface{}

	// Rebroadcast is copied from the reports.
	Rebroadcast bool
}

// A Barrier waits for a fixed number of reports under
// one tag and merges them as they arrive.
//
// Merges are independent of arrival order: gathers write
// at an offset, reductions use an associative and
// commutative operator, and data reports land in a slot
// indexed by worker ID.
//
// A Barrier is not safe for concurrent use.
type Barrier struct {
	Tag  string
	Kind Handle
	Size int

	rebroadcast bool
	state       State
	reports     int
	reported    map[int]bool
	acc         accumulator
}

// NewBarrier creates an Open barrier for a report kind.
func NewBarrier(tag string, kind Handle, size int) (*Barrier, error) {
	if size < 1 {
		return nil, errors.New("barrier size must be positive")
	}
	if !isReport(kind) {
		return nil, fmt.Errorf("%w: %s is not a report", ErrUnknownHandle, kind)
	}
	return &Barrier{Tag: tag, Kind: kind, Size: size, reported: map[int]bool{}}, nil
}

// State gets the phase of the current round.
func (b *Barrier) State() State {
	return b.state
}

// Reports gets the number of reports in the current
// round.
func (b *Barrier) Reports() int {
	return b.reports
}

// Report merges a worker's report.
//
// When the final report arrives, the merged Result is
// returned and the barrier resets to Open so the tag can
// be reused.
// Otherwise, the Result is nil.
//
// A report that cannot be merged is rejected with an
// error and does not count toward the barrier.
func (b *Barrier) Report(msg *Message) (*Result, error) {
	if msg.Handle != b.Kind {
		return nil, fmt.Errorf("%w: got %s for %s round of %q", ErrKindMismatch,
			msg.Handle, b.Kind, b.Tag)
	}
	if b.reported[msg.WorkerID] {
		return nil, fmt.Errorf("%w: worker %d, tag %q", ErrDuplicateReport, msg.WorkerID, b.Tag)
	}
	if b.state == Open {
		acc, err := newAccumulator(msg, b.Size)
		if err != nil {
			return nil, err
		}
		b.acc = acc
		b.rebroadcast = msg.Rebroadcast
	}
	if err := b.acc.Add(msg); err != nil {
		if b.reports == 0 {
			b.reset()
		}
		return nil, err
	}
	b.reported[msg.WorkerID] = true
	b.reports++
	b.state = Accumulating
	if b.reports < b.Size {
		return nil, nil
	}

	b.state = Closed
	res := &Result{Tag: b.Tag, Kind: b.Kind, Rebroadcast: b.rebroadcast}
	b.acc.Fill(res)
	b.reset()
	return res, nil
}

func (b *Barrier) reset() {
	b.state = Open
	b.reports = 0
	b.reported = map[int]bool{}
	b.acc = nil
	b.rebroadcast = false
}

// A Table tracks the open barriers of one coordinator,
// keyed by tag.
//
// Barriers are created by the first report for a tag and
// dropped as soon as they close.
type Table struct {
	size    int
	pending map[string]*Barrier
}

// NewTable creates a table for a pool of workers.
func NewTable(size int) *Table {
	return &Table{size: size, pending: map[string]*Barrier{}}
}

// Report routes a report to the barrier for its tag.
func (t *Table) Report(msg *Message) (*Result, error) {
	b, ok := t.pending[msg.Tag]
	if !ok {
		size := t.size
		if isSingleSender(msg.Handle) {
			size = 1
		}
		var err error
		b, err = NewBarrier(msg.Tag, msg.Handle, size)
		if err != nil {
			return nil, err
		}
	}
	res, err := b.Report(msg)
	if err != nil {
		return nil, err
	}
	if res != nil {
		delete(t.pending, msg.Tag)
	} else {
		t.pending[msg.Tag] = b
	}
	return res, nil
}

// Reports gets the number of reports so far for a tag.
func (t *Table) Reports(tag string) int {
	if b, ok := t.pending[tag]; ok {
		return b.Reports()
	}
	return 0
}

// Len gets the number of open barriers.
func (t *Table) Len() int {
	return len(t.pending)
}

func isReport(h Handle) bool {
	switch h {
	case WorkerReady, SendData, VectorSendToCoordinator, MatrixSendToCoordinator,
		GatherVector, GatherMatrixRows, GatherMatrixColumns, VectorSum, VectorProduct:
		return true
	}
	return false
}

func isSingleSender(h Handle) bool {
	return h == VectorSendToCoordinator || h == MatrixSendToCoordinator
}
