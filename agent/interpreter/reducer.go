// Package interpreter reduces one agent session's event stream into a
// structured turn result.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/stream"
)

// Reducer accumulates one turn. It is owned by a single call and must not be
// reused across turns.
type Reducer struct {
	logger zerolog.Logger

	fragments   strings.Builder
	final       *string
	invocations []contractx.ToolInvocation
	pending     []int
	sawError    bool
}

func NewReducer(logger zerolog.Logger) *Reducer {
	return &Reducer{logger: logger}
}

// Apply folds one event into the turn.
func (r *Reducer) Apply(ev stream.Event) {
	switch e := ev.(type) {
	case stream.SessionInit:
		r.logSessionInit(e)

	case stream.ToolUse:
		r.logger.Debug().Str("tool", e.Name).Str("tool_id", e.ID).Interface("input", e.Input).Msg("tool use")
		input := e.Input
		if input == nil {
			input = map[string]any{}
		}
		r.invocations = append(r.invocations, contractx.ToolInvocation{ID: e.ID, Name: e.Name, Input: input})
		r.pending = append(r.pending, len(r.invocations)-1)

	case stream.ToolResult:
		if len(r.pending) == 0 {
			r.logger.Debug().Str("tool_id", e.ToolUseID).Msg("tool result without pending invocation dropped")
			return
		}
		idx := r.pending[0]
		r.pending = r.pending[1:]
		content := e.Content
		r.invocations[idx].Result = &content
		r.logger.Debug().Str("tool", r.invocations[idx].Name).Bool("is_error", e.IsError).Str("result", content).Msg("tool result")

	case stream.TextDelta:
		r.fragments.WriteString(e.Text)

	case stream.FinalResult:
		if e.Replaces() {
			text := e.Text
			r.final = &text
		}

	case stream.AgentError:
		r.sawError = true
		r.logger.Warn().Str("type", e.Type).Str("tool_id", e.ToolUseID).Msg(e.Message)

	case stream.Unknown:
		r.logger.Debug().Str("type", e.Type).Msg("ignoring unknown agent event")
	}
}

func (r *Reducer) logSessionInit(e stream.SessionInit) {
	for _, s := range e.Servers {
		evt := r.logger.Info()
		if s.Status != "connected" {
			evt = r.logger.Warn()
		}
		evt.Str("server", s.Name).Str("status", s.Status).Strs("tools", s.Tools).Str("error", s.Error).Msg("agent tool server")
	}
	r.logger.Debug().Str("session_id", e.SessionID).Int("tools", len(e.Tools)).Msg("agent session started")
}

// Result snapshots the turn. Invocations are copied so later Apply calls
// cannot mutate a returned result.
func (r *Reducer) Result() contractx.AgentTurnResult {
	text := r.fragments.String()
	if r.final != nil {
		text = *r.final
	}
	out := contractx.AgentTurnResult{
		ResponseText: strings.TrimSpace(text),
		SawError:     r.sawError,
	}
	if len(r.invocations) > 0 {
		out.ToolInvocations = append([]contractx.ToolInvocation(nil), r.invocations...)
	}
	return out
}

// Drain reads es to the end, applying every event, and always closes it.
// A receive error other than io.EOF is returned wrapped in ErrAgentSession.
func Drain(ctx context.Context, es contractx.EventStream, r *Reducer) error {
	defer es.Close()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", contractx.ErrAgentSession, err)
		}
		ev, err := es.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", contractx.ErrAgentSession, err)
		}
		if ev != nil {
			r.Apply(ev)
		}
	}
}

// Reduce drains es into a fresh reducer.
func Reduce(ctx context.Context, es contractx.EventStream, logger zerolog.Logger) (contractx.AgentTurnResult, error) {
	r := NewReducer(logger)
	err := Drain(ctx, es, r)
	return r.Result(), err
}
