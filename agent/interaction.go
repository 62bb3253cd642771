package agent

import (
	"context"

	"github.com/goadesign/agentcore/flatten"
	"github.com/goadesign/agentcore/message"
	"github.com/goadesign/agentcore/promise"
)

// InteractionContext is passed to an agent's ProducerFunc. It
// exposes the input sequence and the two output append modes.
type InteractionContext struct {
	messagePromises *message.MessageSequencePromise
	appender        *flatten.Appender
}

// MessagePromises returns the input sequence: already flattening, lazily
// awaited piece by piece.
func (ic *InteractionContext) MessagePromises() *message.MessageSequencePromise {
	return ic.messagePromises
}

// Reply appends item(s) to the output in strict order at this position.
// item may itself be nested (a string, a Message, a MessagePromise, a
// MessageSequencePromise, a []any, a nested *promise.Promise[any], or an
// AWAIT/CLEAR sentinel) and will be flattened.
func (ic *InteractionContext) Reply(item any) {
	ic.appender.ReplyStrict(item)
}

// ReplyOutOfOrder appends item to the output as-ready relative to other
// ReplyOutOfOrder positions; strict-order positions still bracket it.
func (ic *InteractionContext) ReplyOutOfOrder(item any) {
	ic.appender.ReplyOutOfOrder(item)
}

// AsSingleTextPromise is shorthand for
// ic.MessagePromises().AsSingleTextPromise(ctx).
func (ic *InteractionContext) AsSingleTextPromise(ctx context.Context) *promise.Promise[string] {
	return ic.messagePromises.AsSingleTextPromise(ctx)
}
