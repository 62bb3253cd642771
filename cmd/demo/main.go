// Command demo runs two of the concurrency core's canonical scenarios
// end to end against an in-process Runtime Context: an echo agent
// replying to each input message in turn, and an aggregator agent
// fanning out to two sub-agents concurrently and flattening their
// replies alongside its own messages in declaration order.
package main

import (
	"context"
	"flag"
	"fmt"

	"goa.design/clue/log"

	"github.com/goadesign/agentcore/agent"
	"github.com/goadesign/agentcore/runtime"
	"github.com/goadesign/agentcore/telemetry"
)

func main() {
	dbgF := flag.Bool("debug", false, "enable debug logs")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	rc := runtime.New(
		runtime.WithLogger(telemetry.NewClueLogger("demo")),
		runtime.WithMetrics(telemetry.NewClueMetrics("")),
		runtime.WithTracer(telemetry.NewClueTracer("")),
	)

	if err := rc.Run(ctx, func(ctx context.Context) error {
		if err := runEcho(ctx); err != nil {
			return fmt.Errorf("echo scenario: %w", err)
		}
		if err := runAggregator(ctx); err != nil {
			return fmt.Errorf("aggregator scenario: %w", err)
		}
		return nil
	}); err != nil {
		log.Error(ctx, err)
		return
	}
}

// runEcho reproduces the Echo scenario: one agent replies "You said: X"
// for every input message, preserving input order.
func runEcho(ctx context.Context) error {
	echo := agent.New(func(ctx context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		for mp, err := range ic.MessagePromises().All(ctx) {
			if err != nil {
				return err
			}
			m, err := mp.Await(ctx)
			if err != nil {
				return err
			}
			ic.Reply(fmt.Sprintf("You said: %s", m.Payload()))
		}
		return nil
	}, agent.WithName("echo"))

	out, err := echo.Trigger(ctx, []any{"Hello", "World"})
	if err != nil {
		return err
	}
	msgs, err := out.AwaitMessages(ctx)
	if err != nil {
		return err
	}
	fmt.Println("echo scenario:")
	for _, m := range msgs {
		fmt.Println(" ", m.Payload())
	}
	return nil
}

// runAggregator reproduces the Aggregator parallelism scenario: two
// sub-agents are triggered concurrently and their entire output streams
// are spliced into the aggregator's own reply sequence alongside literal
// messages, all still delivered in the declared strict order.
func runAggregator(ctx context.Context) error {
	a1 := agent.New(func(_ context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		ic.Reply("M1")
		return nil
	}, agent.WithName("a1"))
	a2 := agent.New(func(_ context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		ic.Reply("M2")
		return nil
	}, agent.WithName("a2"))

	agg := agent.New(func(ctx context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		a1out, err := a1.Trigger(ctx, nil)
		if err != nil {
			return err
		}
		a2out, err := a2.Trigger(ctx, nil)
		if err != nil {
			return err
		}
		ic.Reply([]any{a1out, a2out, "M3"})
		ic.Reply("M4")
		return nil
	}, agent.WithName("aggregator"))

	out, err := agg.Trigger(ctx, nil)
	if err != nil {
		return err
	}
	msgs, err := out.AwaitMessages(ctx)
	if err != nil {
		return err
	}
	fmt.Println("aggregator scenario:")
	for _, m := range msgs {
		fmt.Println(" ", m.Payload())
	}
	return nil
}
