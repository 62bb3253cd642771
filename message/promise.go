package message

import (
	"context"
	"reflect"
	"strings"

	"github.com/goadesign/agentcore/agenterror"
	"github.com/goadesign/agentcore/promise"
)

// Token is an opaque piece produced while streaming a message's content. For
// text messages, the concatenation of all tokens equals the final payload
// field.
type Token string

// MessagePromise is a Promise whose resolved value is a Message, plus the
// Token stream produced while it was generated. It may carry
// known-beforehand metadata: fields guaranteed to be present on the resolved
// message without awaiting it.
type MessagePromise struct {
	*promise.Promise[*Message]
	Tokens *promise.StreamedPromise[Token]
	known  map[string]any
}

// NewMessagePromise constructs a MessagePromise backed by resolver. known
// declares the known-beforehand metadata; the wrapped resolver enforces the
// guarantee that the resolved message matches every declared key, failing
// with agenterror.ErrInvariantViolation otherwise.
func NewMessagePromise(
	ctx context.Context,
	resolver promise.Resolver[*Message],
	tokens *promise.StreamedPromise[Token],
	known map[string]any,
	opts ...promise.Option,
) *MessagePromise {
	knownCopy := make(map[string]any, len(known))
	for k, v := range known {
		knownCopy[k] = v
	}
	wrapped := func(ctx context.Context) (*Message, error) {
		m, err := resolver(ctx)
		if err != nil {
			return m, err
		}
		for k, want := range knownCopy {
			got, ok := m.Field(k)
			if !ok || !reflect.DeepEqual(got, want) {
				return nil, agenterror.Wrapf(agenterror.ErrInvariantViolation, "known-beforehand field %q mismatch", k)
			}
		}
		return m, nil
	}
	return &MessagePromise{
		Promise: promise.New(ctx, wrapped, opts...),
		Tokens:  tokens,
		known:   knownCopy,
	}
}

// Known returns a copy of the known-beforehand metadata.
func (mp *MessagePromise) Known() map[string]any {
	out := make(map[string]any, len(mp.known))
	for k, v := range mp.known {
		out[k] = v
	}
	return out
}

// Ready wraps an already-built Message as a resolved MessagePromise, with its
// token stream replaying the message's payload as a single token.
func Ready(m *Message) *MessagePromise {
	tokens := promise.NewStreamed(context.Background(), func(ctx context.Context, a *promise.StreamAppender[Token]) error {
		if payload := m.Payload(); payload != "" {
			a.Append(Token(payload))
		}
		return nil
	})
	p, set := promise.NewDeferred[*Message](context.Background())
	_ = set(m, nil)
	return &MessagePromise{Promise: p, Tokens: tokens, known: m.Fields()}
}

// MessageSequencePromise is a StreamedPromise whose pieces are MessagePromise
// values. Awaiting it yields the ordered tuple of resolved
// Messages; iterating it yields MessagePromises in delivery order.
type MessageSequencePromise struct {
	*promise.StreamedPromise[*MessagePromise]
}

// NewMessageSequencePromise wraps sp as a MessageSequencePromise.
func NewMessageSequencePromise(sp *promise.StreamedPromise[*MessagePromise]) *MessageSequencePromise {
	return &MessageSequencePromise{StreamedPromise: sp}
}

// AwaitMessages drains the sequence and resolves every MessagePromise it
// contained, in delivery order.
func (s *MessageSequencePromise) AwaitMessages(ctx context.Context) ([]*Message, error) {
	mps, err := s.Await(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(mps))
	for _, mp := range mps {
		m, err := mp.Await(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

// AsSingleTextPromise returns a Promise resolving to the concatenation of
// every resolved message's payload, separated by a blank line.
func (s *MessageSequencePromise) AsSingleTextPromise(ctx context.Context) *promise.Promise[string] {
	return promise.New(ctx, func(ctx context.Context) (string, error) {
		msgs, err := s.AwaitMessages(ctx)
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, len(msgs))
		for _, m := range msgs {
			parts = append(parts, m.Payload())
		}
		return strings.Join(parts, "\n\n"), nil
	})
}
