package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/interpreter"
	"github.com/tanpawarit/agentpay/agent/stream"
	"github.com/tanpawarit/agentpay/pkg/observability"
)

type scriptedAgent struct {
	mu         sync.Mutex
	turns      []contractx.AgentTurnResult
	errs       []error
	directives []string
}

func (s *scriptedAgent) Ask(_ context.Context, directive string) (contractx.AgentTurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directives = append(s.directives, directive)
	i := len(s.directives) - 1
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if i < len(s.turns) {
		return s.turns[i], err
	}
	return contractx.AgentTurnResult{}, err
}

func strPtr(s string) *string { return &s }

func newTestEngine(t *testing.T, agent contractx.Agent, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append(opts, WithLogger(zerolog.Nop()))
	e, err := New(context.Background(), agent, cfg, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return e
}

var testRequest = contractx.PaymentRequest{Amount: 8, RecipientAddress: "0xABC", Memo: "order#1"}

func TestExecuteNoRetryWhenTransferInvoked(t *testing.T) {
	t.Parallel()

	agent := &scriptedAgent{turns: []contractx.AgentTurnResult{{
		ResponseText: "Both calls done.",
		ToolInvocations: []contractx.ToolInvocation{
			{Name: "mcp__locus__get_payment_context", Result: strPtr("balance: 10 USDC")},
			{Name: "mcp__locus__send_to_address", Result: strPtr(`{"transaction_id":"tx_1","status":"QUEUED"}`)},
		},
	}}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	e := newTestEngine(t, agent, DefaultConfig, WithMetrics(metrics))

	out, err := e.Execute(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(agent.directives) != 1 {
		t.Fatalf("expected exactly one directive, got %d", len(agent.directives))
	}
	if !out.Success || out.TransactionID != "tx_1" || out.Evidence != contractx.EvidenceTransferCalled || out.Attempts != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := testutil.ToFloat64(metrics.PaymentRetries); got != 0 {
		t.Fatalf("retry metric = %v", got)
	}

	first := agent.directives[0]
	for _, want := range []string{`"address": "0xABC"`, `"amount": 8.00`, `"memo": "order#1"`, "mcp__locus__get_payment_context"} {
		if !strings.Contains(first, want) {
			t.Fatalf("directive missing %q:\n%s", want, first)
		}
	}
}

func TestExecuteRetryExhaustion(t *testing.T) {
	t.Parallel()

	agent := &scriptedAgent{turns: []contractx.AgentTurnResult{
		{ResponseText: "Your balance is low.", ToolInvocations: []contractx.ToolInvocation{{Name: "mcp__locus__get_payment_context"}}},
		{ResponseText: "I cannot proceed."},
	}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	e := newTestEngine(t, agent, DefaultConfig, WithMetrics(metrics))

	out, err := e.Execute(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out.Success || out.Evidence != contractx.EvidenceNone || out.Attempts != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !strings.Contains(out.Message, "mcp__locus__get_payment_context") {
		t.Fatalf("message should name observed tools: %q", out.Message)
	}
	if len(agent.directives) != 2 || !strings.Contains(agent.directives[1], "Do not check balance again") {
		t.Fatalf("retry directive not issued: %v", agent.directives)
	}
	if got := testutil.ToFloat64(metrics.PaymentRetries); got != 1 {
		t.Fatalf("retry metric = %v", got)
	}
	if got := testutil.ToFloat64(metrics.PaymentCounter.WithLabelValues("failure", "none")); got != 1 {
		t.Fatalf("payment metric = %v", got)
	}
}

func TestExecuteFailureListsNone(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, &scriptedAgent{}, DefaultConfig)
	out, err := e.Execute(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out.Success || !strings.HasSuffix(out.Message, "Tools called: none") {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestExecuteTextFallbackPolicy(t *testing.T) {
	t.Parallel()

	turns := []contractx.AgentTurnResult{
		{ResponseText: "Checking."},
		{ResponseText: "Payment was successful!"},
	}

	on := newTestEngine(t, &scriptedAgent{turns: turns}, DefaultConfig)
	out, err := on.Execute(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !out.Success || out.TransactionID != "" || out.Evidence != contractx.EvidenceTextHeuristic {
		t.Fatalf("fallback enabled: unexpected outcome %+v", out)
	}

	cfg := DefaultConfig
	cfg.AllowTextFallback = false
	off := newTestEngine(t, &scriptedAgent{turns: turns}, cfg)
	out, err = off.Execute(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out.Success {
		t.Fatalf("fallback disabled: expected failure, got %+v", out)
	}
}

func TestExecuteTransportError(t *testing.T) {
	t.Parallel()

	agent := &scriptedAgent{errs: []error{contractx.ErrAgentSession}}
	e := newTestEngine(t, agent, DefaultConfig)

	out, err := e.Execute(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out.Success || !strings.HasPrefix(out.Message, "Payment failed: ") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(agent.directives) != 1 {
		t.Fatalf("a transport error must not trigger the retry, got %d directives", len(agent.directives))
	}
}

func TestExecuteValidation(t *testing.T) {
	t.Parallel()

	agent := &scriptedAgent{}
	e := newTestEngine(t, agent, DefaultConfig)
	for _, req := range []contractx.PaymentRequest{
		{Amount: 0, RecipientAddress: "0xABC"},
		{Amount: -1, RecipientAddress: "0xABC"},
		{Amount: 1, RecipientAddress: "  "},
	} {
		out, err := e.Execute(context.Background(), req)
		if !errors.Is(err, contractx.ErrValidation) || out.Success {
			t.Fatalf("Execute(%+v) = %+v, %v", req, out, err)
		}
	}
	if len(agent.directives) != 0 {
		t.Fatalf("invalid requests must not reach the agent")
	}
}

func TestExecuteItemInDirective(t *testing.T) {
	t.Parallel()

	agent := &scriptedAgent{}
	e := newTestEngine(t, agent, DefaultConfig)
	req := testRequest
	req.Item = "pizza"
	if _, err := e.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !strings.Contains(agent.directives[0], "You agreed to pay $8.00 for pizza") {
		t.Fatalf("item context missing:\n%s", agent.directives[0])
	}
}

type scriptedRuntime struct {
	mu       sync.Mutex
	sessions [][]stream.Event
	calls    int
}

func (s *scriptedRuntime) Query(_ context.Context, _ contractx.QueryRequest) (contractx.EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.sessions[s.calls]
	s.calls++
	return schema.StreamReaderFromArray(events), nil
}

func TestExecuteEndToEndThroughInterpreter(t *testing.T) {
	t.Parallel()

	rt := &scriptedRuntime{sessions: [][]stream.Event{
		{
			stream.SessionInit{SessionID: "s1"},
			stream.ToolUse{ID: "a", Name: "mcp__locus__get_payment_context"},
			stream.ToolResult{ToolUseID: "a", Content: "balance: 25 USDC"},
			stream.FinalResult{Subtype: "success", Text: "I checked your balance."},
		},
		{
			stream.SessionInit{SessionID: "s2"},
			stream.ToolUse{ID: "b", Name: "mcp__locus__send_to_address", Input: map[string]any{"address": "0xABC", "amount": 8.0, "memo": "order#1"}},
			stream.ToolResult{ToolUseID: "b", Content: `{"transaction_id":"tx_99"}`},
			stream.FinalResult{Subtype: "success", Text: "Sent."},
		},
	}}
	buyer, err := interpreter.New("buyer", rt, interpreter.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("interpreter.New error: %v", err)
	}
	e := newTestEngine(t, buyer, DefaultConfig)

	out, err := e.Execute(context.Background(), contractx.PaymentRequest{Amount: 8.00, RecipientAddress: "0xABC", Memo: "order#1"})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !out.Success || out.TransactionID != "tx_99" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if rt.calls != 2 || out.Attempts != 2 {
		t.Fatalf("expected one retry, runtime calls = %d attempts = %d", rt.calls, out.Attempts)
	}
	if names := out.ToolNames(); len(names) != 2 || names[0] != "mcp__locus__get_payment_context" {
		t.Fatalf("tool list not merged across attempts: %v", names)
	}
}

func TestEngineConcurrentUse(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, concurrentAgent{}, DefaultConfig)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Execute(context.Background(), testRequest)
			if err != nil || !out.Success {
				t.Errorf("Execute = %+v, %v", out, err)
			}
		}()
	}
	wg.Wait()
}

type concurrentAgent struct{}

func (concurrentAgent) Ask(context.Context, string) (contractx.AgentTurnResult, error) {
	return contractx.AgentTurnResult{
		ResponseText:    "Payment successful. Transaction ID: 2f1e6a52-3c0b-4b8e-9a7d-1c2b3d4e5f60",
		ToolInvocations: []contractx.ToolInvocation{{Name: "mcp__locus__send_to_address"}},
	}, nil
}

func TestExecuteSuccessMessageNamesEvidence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		turns    []contractx.AgentTurnResult
		evidence contractx.Evidence
		want     []string
	}{
		{
			name:     "id with token",
			turns:    []contractx.AgentTurnResult{{ResponseText: "Success! Transaction ID: 2f1e6a52-1111-4222-8333-444455556666"}},
			evidence: contractx.EvidenceTransactionID,
			want:     []string{"Transaction ID: 2f1e6a52-1111-4222-8333-444455556666", "success confirmation", "$8.00 to 0xABC"},
		},
		{
			name: "transfer with id",
			turns: []contractx.AgentTurnResult{{
				ResponseText:    "Done.",
				ToolInvocations: []contractx.ToolInvocation{{Name: "mcp__locus__send_to_address", Result: strPtr(`{"transaction_id":"tx_1"}`)}},
			}},
			evidence: contractx.EvidenceTransferCalled,
			want:     []string{"Transaction ID: tx_1", "from the mcp__locus__send_to_address call"},
		},
		{
			name: "transfer without id",
			turns: []contractx.AgentTurnResult{{
				ResponseText:    "Done.",
				ToolInvocations: []contractx.ToolInvocation{{Name: "mcp__locus__send_to_address", Result: strPtr("accepted")}},
			}},
			evidence: contractx.EvidenceTransferCalled,
			want:     []string{"transfer invoked via mcp__locus__send_to_address", "no transaction id"},
		},
		{
			name:     "text heuristic",
			turns:    []contractx.AgentTurnResult{{ResponseText: "Working on it."}, {ResponseText: "Payment queued."}},
			evidence: contractx.EvidenceTextHeuristic,
			want:     []string{"no transaction id or transfer call was observed"},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEngine(t, &scriptedAgent{turns: tc.turns}, DefaultConfig)
			out, err := e.Execute(context.Background(), testRequest)
			if err != nil {
				t.Fatalf("Execute error: %v", err)
			}
			if !out.Success || out.Evidence != tc.evidence {
				t.Fatalf("unexpected outcome %+v", out)
			}
			for _, want := range tc.want {
				if !strings.Contains(out.Message, want) {
					t.Fatalf("message %q missing %q", out.Message, want)
				}
			}
		})
	}
}
