package protocol

// A ReduceFn is an associative, commutative operator used
// to combine scalar partials as they arrive.
type ReduceFn func(a, b float64) float64

// Sum is a ReduceFn that adds partials.
func Sum(a, b float64) float64 {
	return a + b
}

// Product is a ReduceFn that multiplies partials.
func Product(a, b float64) float64 {
	return a * b
}

// reduceFnFor gets the operator and its identity for a
// reduction handle.
func reduceFnFor(h Handle) (ReduceFn, float64, bool) {
	switch h {
	case VectorSum:
		return Sum, 0, true
	case VectorProduct:
		return Product, 1, true
	}
	return nil, 0, false
}
