package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	logx "github.com/tanpawarit/agentpay/pkg/logger"
	"github.com/tanpawarit/agentpay/pkg/observability"
)

var _ contractx.Agent = (*Agent)(nil)

// Agent runs directives through a runtime under a fixed tool policy and
// reduces each session to a turn result.
type Agent struct {
	name         string
	runtime      contractx.AgentRuntime
	allowedTools []string
	authorize    contractx.Authorizer
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

type Option func(*Agent)

func WithAllowedTools(tools ...string) Option {
	return func(a *Agent) {
		a.allowedTools = append([]string(nil), tools...)
	}
}

func WithAuthorizer(fn contractx.Authorizer) Option {
	return func(a *Agent) {
		a.authorize = fn
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

func New(name string, runtime contractx.AgentRuntime, opts ...Option) (*Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("agent name is required")
	}
	if runtime == nil {
		return nil, errors.New("agent runtime is required")
	}
	a := &Agent{
		name:    name,
		runtime: runtime,
		logger:  logx.Component("interpreter"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger = a.logger.With().Str("agent", name).Logger()
	return a, nil
}

func (a *Agent) Name() string { return a.name }

// Ask runs one directive. On a session failure the partial turn is returned
// together with an error wrapping ErrAgentSession.
func (a *Agent) Ask(ctx context.Context, directive string) (result contractx.AgentTurnResult, err error) {
	ctx, span := observability.StartSpan(ctx, "agent.ask", attribute.String("agent", a.name))
	start := time.Now()
	defer func() {
		status := "success"
		switch {
		case err != nil:
			status = "error"
		case result.SawError:
			status = "saw_error"
		}
		a.metrics.AgentCall(a.name, status, time.Since(start))
		span.SetAttributes(
			attribute.Int("tool_invocations", len(result.ToolInvocations)),
			attribute.Bool("saw_error", result.SawError),
		)
		observability.EndSpan(span, err)
	}()

	a.logger.Debug().Str("directive", directive).Msg("sending directive")
	es, err := a.runtime.Query(ctx, contractx.QueryRequest{
		Prompt:       directive,
		AllowedTools: a.allowedTools,
		CanUseTool:   a.authorize,
	})
	if err != nil {
		if errors.Is(err, contractx.ErrAgentSession) {
			return contractx.AgentTurnResult{}, err
		}
		return contractx.AgentTurnResult{}, fmt.Errorf("%w: %v", contractx.ErrAgentSession, err)
	}

	result, err = Reduce(ctx, es, a.logger)
	if err != nil {
		a.logger.Error().Err(err).Msg("agent session failed")
		return result, err
	}

	a.logger.Info().
		Strs("tools", result.ToolNames()).
		Bool("saw_error", result.SawError).
		Int("response_len", len(result.ResponseText)).
		Msg("agent turn complete")
	return result, nil
}
