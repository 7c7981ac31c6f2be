package core

import (
	"context"
)

// Runner executes the agent work behind a dispatched task. What an agent
// actually computes lives outside this engine; the engine only starts the
// task, hands it to the runner, and records the outcome the runner returns.
type Runner interface {
	Run(ctx context.Context, task *AgentTask) error
}

// StubRunner succeeds immediately without doing any work. It stands in for
// a real agent runtime in the daemon's default wiring and in tests.
type StubRunner struct{}

func (StubRunner) Run(ctx context.Context, task *AgentTask) error {
	return ctx.Err()
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *AgentTask) error

func (f RunnerFunc) Run(ctx context.Context, task *AgentTask) error {
	return f(ctx, task)
}
