package contract

import (
	"context"

	"github.com/tanpawarit/agentpay/agent/stream"
)

// EventStream is a lazy, single-consumer sequence of agent events.
// Recv returns io.EOF after the last event. Close releases the session and
// must be called even after EOF.
type EventStream interface {
	Recv() (stream.Event, error)
	Close()
}

// Permission is the answer of an Authorizer for one tool call.
type Permission struct {
	Allow        bool
	Message      string
	UpdatedInput map[string]any
}

// Authorizer decides per call whether the agent may invoke a tool.
type Authorizer func(ctx context.Context, toolName string, input map[string]any) Permission

type QueryRequest struct {
	Prompt       string
	AllowedTools []string
	CanUseTool   Authorizer
}

// AgentRuntime runs one agent session for a prompt.
type AgentRuntime interface {
	Query(ctx context.Context, req QueryRequest) (EventStream, error)
}

// Agent runs one directive and returns the reduced turn.
type Agent interface {
	Ask(ctx context.Context, directive string) (AgentTurnResult, error)
}

// PaymentExecutor executes one payment request to a definitive outcome.
type PaymentExecutor interface {
	Execute(ctx context.Context, req PaymentRequest) (PaymentOutcome, error)
}
