// Package sentinel defines the typed marker values recognized by the
// flattening pipeline and the promise machinery: AWAIT, CLEAR, and the
// internal NO_VALUE placeholder.
package sentinel

// Kind identifies a sentinel's role so callers can switch on it without
// relying on pointer identity.
type Kind int

const (
	// KindAwait marks a synchronization barrier in a flattening input: the
	// flattener suspends emission until all previously-declared background
	// resolutions have terminated.
	KindAwait Kind = iota + 1
	// KindClear discards the items declared before it in a flattening input
	// back to the most recent AWAIT (or the start of input) and continues.
	// Items declared before that AWAIT have already been emitted and are
	// not discarded.
	KindClear
)

// Sentinel is a typed marker value accepted wherever a FlatteningSequence
// input item is accepted.
type Sentinel struct {
	kind Kind
}

// Kind reports which sentinel this value represents.
func (s Sentinel) Kind() Kind { return s.kind }

// AWAIT is the synchronization barrier sentinel.
var AWAIT = Sentinel{kind: KindAwait}

// CLEAR is the accumulator-reset sentinel.
var CLEAR = Sentinel{kind: KindClear}

// NoValue is a distinct placeholder for an unresolved Promise created without
// a resolver, to be resolved externally via a paired setter (the NO_VALUE
// placeholder). It is distinct from a zero value of T: promise.NewDeferred
// returns a Promise that has not resolved at all, whereas a Promise resolved
// to the zero value of T has resolved.
type NoValue struct{}
