package flatten

// Appender is the write handle used to declare items into an open Sequence
// over time. AWAIT and CLEAR
// are declared as ordinary items carrying a sentinel.Sentinel value.
type Appender struct {
	seq *Sequence
}

// ReplyStrict declares item as the next strict-order position: its content
// is emitted only after every earlier position has finished emitting.
func (a *Appender) ReplyStrict(item any) {
	a.seq.declare(item, false)
}

// ReplyOutOfOrder declares item as a position whose content is emitted as
// soon as it is ready, interleaved with any other out-of-order positions
// declared without an intervening strict position between them. Earlier and
// later strict positions still bracket it.
func (a *Appender) ReplyOutOfOrder(item any) {
	a.seq.declare(item, true)
}

// Close signals that no further items will be declared, letting the
// Sequence's producer finish once everything pending has been drained.
// Close must be called exactly once, and never after Fail.
func (a *Appender) Close() {
	close(a.seq.decls)
}

// Fail abruptly terminates the sequence with err: nothing declared since the
// last checkpoint is emitted, and err becomes the terminal error every
// iterator re-raises. Fail must be called instead of, not before, Close.
func (a *Appender) Fail(err error) {
	a.seq.fail(err)
}
