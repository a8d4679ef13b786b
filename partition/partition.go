// Package partition splits index ranges across a fixed
// number of workers.
package partition

import "fmt"

// A Range is a half-open interval [From, To) of indices.
type Range struct {
	From int
	To   int
}

// Len gets the number of indices in the range.
func (r Range) Len() int {
	return r.To - r.From
}

// Contains checks if an index falls inside the range.
func (r Range) Contains(i int) bool {
	return i >= r.From && i < r.To
}

// String formats the range like [From,To).
func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.From, r.To)
}

// Partition computes the contiguous chunk of [0, n) owned
// by a worker.
//
// Every worker gets n/workerCount indices, and the first
// n%workerCount workers get one extra.
// Thus, the ranges for all worker IDs are ordered,
// disjoint, cover [0, n), and differ in length by at most
// one.
func Partition(n, workerCount, workerID int) Range {
	if workerCount < 1 {
		panic("worker count must be positive")
	}
	if workerID < 0 || workerID >= workerCount {
		panic("worker ID out of bounds")
	}
	if n < 0 {
		panic("negative extent")
	}
	div := n / workerCount
	rem := n % workerCount
	if workerID < rem {
		from := workerID * (div + 1)
		return Range{From: from, To: from + div + 1}
	}
	from := rem*(div+1) + (workerID-rem)*div
	return Range{From: from, To: from + div}
}

// All returns the ranges for every worker, ordered by ID.
func All(n, workerCount int) []Range {
	res := make([]Range, workerCount)
	for i := range res {
		res[i] = Partition(n, workerCount, i)
	}
	return res
}

// Owner finds the worker whose range contains index.
func Owner(n, workerCount, index int) int {
	if index < 0 || index >= n {
		panic("index out of bounds")
	}
	div := n / workerCount
	rem := n % workerCount
	boundary := rem * (div + 1)
	if index < boundary {
		return index / (div + 1)
	}
	return rem + (index-boundary)/div
}
