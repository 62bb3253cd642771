// Package agent implements the Agent abstraction and invocation protocol:
// a producer function decorated with a config schema, callable via Trigger
// (fire-and-return-a-stream), Fork (partial config binding), and
// InitiateCall (incrementally assembled input).
package agent

import (
	"context"
	"fmt"
	"maps"

	"github.com/goadesign/agentcore/agenterror"
	"github.com/goadesign/agentcore/flatten"
	"github.com/goadesign/agentcore/message"
	"github.com/goadesign/agentcore/promise"
	"github.com/goadesign/agentcore/runtime"
)

// ProducerFunc is an agent's body: it reads ic.MessagePromises() and writes
// to the output via ic.Reply/ic.ReplyOutOfOrder, returning an error (or
// panicking) to signal an uncaught failure. config carries the agent's
// merged, named parameters as a map, since Go has no keyword-argument
// splatting.
type ProducerFunc func(ctx context.Context, ic *InteractionContext, config map[string]any) error

// Agent wraps a ProducerFunc with a name and base configuration captured at
// construction or Fork time.
type Agent struct {
	name       string
	fn         ProducerFunc
	baseConfig map[string]any
}

type agentOptions struct {
	name   string
	config map[string]any
}

// AgentOption configures Agent construction.
type AgentOption func(*agentOptions)

// WithName sets the agent's name, used in error context and telemetry.
func WithName(name string) AgentOption { return func(o *agentOptions) { o.name = name } }

// WithBaseConfig sets the agent's initial bound configuration.
func WithBaseConfig(config map[string]any) AgentOption {
	return func(o *agentOptions) { o.config = config }
}

// New decorates fn as an Agent.
func New(fn ProducerFunc, opts ...AgentOption) *Agent {
	var o agentOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Agent{name: o.name, fn: fn, baseConfig: cloneConfig(o.config)}
}

// Name returns the agent's configured name, or "" if unset.
func (a *Agent) Name() string { return a.name }

// Fork returns a new Agent wrapping the same producer function, with
// partialConfig pre-bound; config overrides given at Trigger/InitiateCall
// time still take precedence. partialConfig is copied shallowly: a mutable
// value in it (a map, slice or pointer) is shared by every invocation of the
// returned Agent, invocations may run concurrently on separate goroutines,
// and Fork adds no synchronization around such a value.
func (a *Agent) Fork(partialConfig map[string]any) *Agent {
	return &Agent{
		name:       a.name,
		fn:         a.fn,
		baseConfig: mergeConfig(a.baseConfig, partialConfig),
	}
}

// Option configures a single Trigger/InitiateCall invocation.
type Option func(*invokeOptions)

type invokeOptions struct {
	overrides    map[string]any
	startSoon    bool
	startSoonSet bool
}

// WithOverride sets a single config override for this invocation.
func WithOverride(key string, value any) Option {
	return func(o *invokeOptions) {
		if o.overrides == nil {
			o.overrides = map[string]any{}
		}
		o.overrides[key] = value
	}
}

// WithOverrides merges config overrides for this invocation.
func WithOverrides(overrides map[string]any) Option {
	return func(o *invokeOptions) { o.overrides = mergeConfig(o.overrides, overrides) }
}

// WithStartSoon overrides the Runtime Context's start_soon_default for this
// invocation only.
func WithStartSoon(b bool) Option {
	return func(o *invokeOptions) { o.startSoon, o.startSoonSet = b, true }
}

func mergeConfig(base, overrides map[string]any) map[string]any {
	merged := cloneConfig(base)
	if merged == nil && len(overrides) > 0 {
		merged = map[string]any{}
	}
	maps.Copy(merged, overrides)
	return merged
}

func cloneConfig(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Trigger constructs the input FlatteningSequence from input, schedules the
// producer under the Runtime Context ambient on ctx, and returns the output
// MessageSequencePromise immediately. It fails synchronously with
// agenterror.ErrNoActiveContext or agenterror.ErrContextClosed if ctx carries
// no usable Runtime Context — a Go-idiomatic explicit error return in place
// of the source's raise-on-call behavior.
func (a *Agent) Trigger(ctx context.Context, input []any, overrides ...Option) (*message.MessageSequencePromise, error) {
	rc, cfg, startSoon, err := a.prepare(ctx, overrides...)
	if err != nil {
		return nil, err
	}
	inputSeq := flatten.New(ctx, input, promise.WithScheduler(rc), promise.WithStartSoon(startSoon))
	return a.start(ctx, rc, cfg, inputSeq, startSoon), nil
}

// AgentCall is a pending invocation with an open input, for assembling input
// incrementally.
type AgentCall struct {
	input  *flatten.Appender
	output *message.MessageSequencePromise
}

// InitiateCall creates a pending invocation whose input is open for
// SendMessage calls until ReplySequence closes it.
func (a *Agent) InitiateCall(ctx context.Context, overrides ...Option) (*AgentCall, error) {
	rc, cfg, startSoon, err := a.prepare(ctx, overrides...)
	if err != nil {
		return nil, err
	}
	inputSeq, inputAppender := flatten.NewOpen(ctx, promise.WithScheduler(rc), promise.WithStartSoon(startSoon))
	output := a.start(ctx, rc, cfg, inputSeq, startSoon)
	return &AgentCall{input: inputAppender, output: output}, nil
}

// SendMessage pushes item into the call's input sequence.
func (c *AgentCall) SendMessage(item any) { c.input.ReplyStrict(item) }

// ReplySequence closes the input sequence and returns the output
// MessageSequencePromise.
func (c *AgentCall) ReplySequence() *message.MessageSequencePromise {
	c.input.Close()
	return c.output
}

func (a *Agent) prepare(ctx context.Context, overrides ...Option) (*runtime.Context, map[string]any, bool, error) {
	rc := runtime.FromContext(ctx)
	if rc == nil {
		return nil, nil, false, agenterror.ErrNoActiveContext
	}
	if !rc.CanTrigger() {
		return nil, nil, false, agenterror.ErrContextClosed
	}
	var o invokeOptions
	for _, opt := range overrides {
		opt(&o)
	}
	cfg := mergeConfig(a.baseConfig, o.overrides)
	startSoon := rc.StartSoonDefault()
	if o.startSoonSet {
		startSoon = o.startSoon
	}
	return rc, cfg, startSoon, nil
}

// start schedules the agent's producer body against inputSeq and returns the
// output MessageSequencePromise it writes to. Shared by Trigger and
// InitiateCall.
func (a *Agent) start(ctx context.Context, rc *runtime.Context, cfg map[string]any, inputSeq *flatten.Sequence, startSoon bool) *message.MessageSequencePromise {
	outSeq, outAppender := flatten.NewOpen(ctx, promise.WithScheduler(rc), promise.WithStartSoon(startSoon))
	ic := &InteractionContext{
		messagePromises: message.NewMessageSequencePromise(inputSeq.StreamedPromise),
		appender:        outAppender,
	}

	rc.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				a.handleError(rc, outAppender, agenterror.Errorf("%s: producer panicked: %v", a.label(), r))
			}
		}()
		if err := a.fn(ctx, ic, cfg); err != nil {
			a.handleError(rc, outAppender, err)
			return
		}
		outAppender.Close()
	})

	if rc.LLMLoggerAgent() {
		observe(ctx, rc, inputSeq.StreamedPromise)
		observe(ctx, rc, outSeq.StreamedPromise)
	}

	return message.NewMessageSequencePromise(outSeq.StreamedPromise)
}

func (a *Agent) label() string {
	if a.name != "" {
		return a.name
	}
	return "agent"
}

// handleError routes an uncaught producer error per errors_as_messages:
// either a terminal error-Message, or the stream's own terminal error marker
// re-raised to consumers.
func (a *Agent) handleError(rc *runtime.Context, appender *flatten.Appender, err error) {
	rc.Logger().Error(context.Background(), "agent producer failed", "agent", a.label(), "error", err)
	if !rc.ErrorsAsMessages() {
		appender.Fail(agenterror.WrapProducerError(err.Error(), err))
		return
	}
	errMsg, buildErr := message.NewError(errorTypeName(err), err.Error())
	if buildErr != nil {
		appender.Fail(agenterror.WrapProducerError(err.Error(), err))
		return
	}
	appender.ReplyStrict(errMsg)
	appender.Close()
}

func errorTypeName(err error) string {
	return fmt.Sprintf("%T", err)
}

// observe watches every MessagePromise a sequence delivers and forwards its
// resolved Message to rc's persistence hooks ("visible to any
// agent, sender or receiver").
func observe(ctx context.Context, rc *runtime.Context, sp *promise.StreamedPromise[*message.MessagePromise]) {
	rc.Go(func() {
		for mp, err := range sp.All(ctx) {
			if err != nil {
				return
			}
			if m, merr := mp.Await(ctx); merr == nil {
				rc.NotifyMessage(ctx, m)
			}
		}
	})
}
