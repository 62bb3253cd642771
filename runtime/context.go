// Package runtime implements the Runtime Context: the ambient,
// scoped lifecycle object that hosts the scheduler and default policies for a
// block of agent execution. The ambient-context/scheduler split mirrors an
// engine/workflow-context design, simplified here to a single in-process
// cooperative engine rather than a durable workflow backend.
package runtime

import (
	"context"
	"sync"

	"github.com/goadesign/agentcore/agenterror"
	"github.com/goadesign/agentcore/message"
	"github.com/goadesign/agentcore/telemetry"
)

type state int32

const (
	stateCreated state = iota
	stateActive
	stateFinalizing
	stateFinalized
)

type contextKey struct{}

var activeKey contextKey

// PersistenceHook is invoked once per Message passed to NotifyMessage,
// deduplicated by hash key. Agents report the Messages of their input and
// output sequences to NotifyMessage only when LLMLoggerAgent is enabled;
// with it disabled, agent traffic reaches no hook.
type PersistenceHook func(ctx context.Context, m *message.Message)

// Options configures a Context's default policies.
type Options struct {
	startSoonDefault bool
	errorsAsMessages bool
	llmLoggerAgent   bool
	logger           telemetry.Logger
	metrics          telemetry.Metrics
	tracer           telemetry.Tracer
}

// Option configures Context construction.
type Option func(*Options)

// WithStartSoonDefault sets whether newly created promises/agent invocations
// schedule their producers eagerly by default. Defaults to true; per-call
// overrides are supported at trigger time.
func WithStartSoonDefault(b bool) Option { return func(o *Options) { o.startSoonDefault = b } }

// WithErrorsAsMessages sets whether an agent producer's uncaught error is
// converted into a terminal error-Message (true) or re-raised to consumers
// (false, the default).
func WithErrorsAsMessages(b bool) Option { return func(o *Options) { o.errorsAsMessages = b } }

// WithLLMLoggerAgent opts into routing every observed Message through a
// registered persistence hook sink. The core places no semantics on this
// beyond calling registered hooks; see persistence/redishook for one such
// sink.
func WithLLMLoggerAgent(b bool) Option { return func(o *Options) { o.llmLoggerAgent = b } }

// WithLogger supplies the Logger used for the Context's own lifecycle
// messages. Defaults to telemetry.NoopLogger.
func WithLogger(l telemetry.Logger) Option { return func(o *Options) { o.logger = l } }

// WithMetrics supplies the Metrics sink exposed through Context.Metrics. The
// core itself records no metrics on it.
func WithMetrics(m telemetry.Metrics) Option { return func(o *Options) { o.metrics = m } }

// WithTracer supplies the Tracer exposed through Context.Tracer. The core
// itself starts no spans on it.
func WithTracer(t telemetry.Tracer) Option { return func(o *Options) { o.tracer = t } }

func defaultOptions() Options {
	return Options{
		startSoonDefault: true,
		logger:           telemetry.NewNoopLogger(),
		metrics:          telemetry.NewNoopMetrics(),
		tracer:           telemetry.NewNoopTracer(),
	}
}

// Context is the Runtime Context: exactly one is active per task tree.
// Agent.Trigger and Agent.InitiateCall fail with
// agenterror.ErrNoActiveContext outside an active Context; Promise and
// StreamedPromise construction does not check for one. The state machine is
// CREATED -> ACTIVE -> FINALIZING -> FINALIZED.
type Context struct {
	mu         sync.Mutex
	state      state
	opts       Options
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	hooks      []PersistenceHook
	seenHashes map[string]struct{}
}

// New constructs a Context in the CREATED state.
func New(opts ...Option) *Context {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Context{opts: o}
}

// FromContext returns the Context installed as ambient on ctx, or nil.
func FromContext(ctx context.Context) *Context {
	c, _ := ctx.Value(activeKey).(*Context)
	return c
}

// Activate installs c as the ambient Context on a child of ctx and moves c
// to ACTIVE. It fails with agenterror.ErrNestedContext if a Context is
// already active within ctx's tree, matching the "exactly one active
// Runtime Context per task tree" rule.
func (c *Context) Activate(ctx context.Context) (context.Context, error) {
	if FromContext(ctx) != nil {
		return nil, agenterror.ErrNestedContext
	}
	c.mu.Lock()
	if c.state != stateCreated {
		c.mu.Unlock()
		return nil, agenterror.ErrNestedContext
	}
	c.state = stateActive
	c.mu.Unlock()

	derived, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return context.WithValue(derived, activeKey, c), nil
}

// Deactivate removes c's ACTIVE marking without finalizing it. Most callers
// should use Run or Finalize instead; Deactivate exists for the manual usage
// form (activate/.../deactivate without finalize).
func (c *Context) Deactivate() {
	c.mu.Lock()
	if c.state == stateActive {
		c.state = stateCreated
	}
	c.mu.Unlock()
}

// CanTrigger reports whether new agent invocations may currently be
// scheduled under c (ACTIVE, not yet FINALIZING/FINALIZED).
func (c *Context) CanTrigger() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateActive
}

// Go implements promise.Scheduler: every task dispatched through c is
// tracked and joined during Finalize.
func (c *Context) Go(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Finalize requests cancellation of every live task and waits for all tasks
// registered with c to complete. It returns ctx.Err() if ctx is cancelled
// before every task has finished; when ctx is the context returned by
// Activate (or derives from it), the cancellation Finalize itself causes is
// not counted, and Finalize waits for every task.
func (c *Context) Finalize(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateActive {
		c.mu.Unlock()
		return agenterror.ErrContextClosed
	}
	c.state = stateFinalizing
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	// cancel() above also cancels every ctx derived from the activated one;
	// wait on such a ctx with that cancellation stripped.
	wait := ctx
	if FromContext(ctx) == c {
		wait = context.WithoutCancel(ctx)
	}
	select {
	case <-done:
	case <-wait.Done():
		return wait.Err()
	}

	c.mu.Lock()
	c.state = stateFinalized
	c.mu.Unlock()
	return nil
}

// Run is the convenience form: activate, run entry under the
// activated context, then finalize regardless of entry's outcome.
func (c *Context) Run(ctx context.Context, entry func(context.Context) error) error {
	active, err := c.Activate(ctx)
	if err != nil {
		return err
	}
	entryErr := entry(active)
	finalizeErr := c.Finalize(active)
	if entryErr != nil {
		return entryErr
	}
	return finalizeErr
}

// StartSoonDefault reports the configured eager-scheduling default.
func (c *Context) StartSoonDefault() bool { return c.opts.startSoonDefault }

// ErrorsAsMessages reports whether uncaught producer errors convert to
// error-Messages rather than re-raising to consumers.
func (c *Context) ErrorsAsMessages() bool { return c.opts.errorsAsMessages }

// LLMLoggerAgent reports whether the opt-in LLM logging hook is enabled.
func (c *Context) LLMLoggerAgent() bool { return c.opts.llmLoggerAgent }

// Logger, Metrics, and Tracer expose the configured telemetry triple.
func (c *Context) Logger() telemetry.Logger   { return c.opts.logger }
func (c *Context) Metrics() telemetry.Metrics { return c.opts.metrics }
func (c *Context) Tracer() telemetry.Tracer   { return c.opts.tracer }

// RegisterPersistenceHook registers fn to be called once per Message passed
// to NotifyMessage, deduplicated by hash key (see PersistenceHook for when
// agents report their Messages).
func (c *Context) RegisterPersistenceHook(fn PersistenceHook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// NotifyMessage invokes every registered persistence hook with m, skipping
// hash keys already observed by this Context.
func (c *Context) NotifyMessage(ctx context.Context, m *message.Message) {
	c.mu.Lock()
	if c.seenHashes == nil {
		c.seenHashes = map[string]struct{}{}
	}
	key := m.HashKey()
	if _, seen := c.seenHashes[key]; seen {
		c.mu.Unlock()
		return
	}
	c.seenHashes[key] = struct{}{}
	hooks := append([]PersistenceHook(nil), c.hooks...)
	c.mu.Unlock()

	for _, h := range hooks {
		h(ctx, m)
	}
}
