package interpreter

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/stream"
	"github.com/tanpawarit/agentpay/pkg/observability"
)

type fakeRuntime struct {
	events   []stream.Event
	queryErr error
	got      contractx.QueryRequest
}

func (f *fakeRuntime) Query(_ context.Context, req contractx.QueryRequest) (contractx.EventStream, error) {
	f.got = req
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return schema.StreamReaderFromArray(f.events), nil
}

func TestAgentAsk(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{events: []stream.Event{
		stream.TextDelta{Text: "I'd like a pizza"},
	}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	deny := func(context.Context, string, map[string]any) contractx.Permission { return contractx.Permission{} }

	agent, err := New("buyer", rt,
		WithAllowedTools("mcp__locus__*"),
		WithAuthorizer(deny),
		WithMetrics(metrics),
		WithLogger(zerolog.Nop()),
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := agent.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ask error: %v", err)
	}
	if res.ResponseText != "I'd like a pizza" {
		t.Fatalf("unexpected response %q", res.ResponseText)
	}
	if rt.got.Prompt != "hello" || len(rt.got.AllowedTools) != 1 || rt.got.CanUseTool == nil {
		t.Fatalf("query request not forwarded: %+v", rt.got)
	}
	if got := testutil.ToFloat64(metrics.AgentCallCounter.WithLabelValues("buyer", "success")); got != 1 {
		t.Fatalf("agent call metric = %v", got)
	}
}

func TestAgentAskQueryError(t *testing.T) {
	t.Parallel()

	agent, err := New("platform", &fakeRuntime{queryErr: errors.New("dial tcp: refused")}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := agent.Ask(context.Background(), "x"); !errors.Is(err, contractx.ErrAgentSession) {
		t.Fatalf("expected ErrAgentSession, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("", &fakeRuntime{}); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := New("buyer", nil); err == nil {
		t.Fatalf("expected error for nil runtime")
	}
}
