package runtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/stream"
)

type fakeToolCallingModel struct {
	mu     sync.Mutex
	steps  [][]*schema.Message
	err    error
	idx    int
	inputs [][]*schema.Message
	bound  []*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return nil, errors.New("generate not used by the runtime")
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, append([]*schema.Message(nil), input...))
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.steps) {
		// Repeat the last step forever.
		return schema.StreamReaderFromArray(f.steps[len(f.steps)-1]), nil
	}
	step := f.steps[f.idx]
	f.idx++
	return schema.StreamReaderFromArray(step), nil
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = tools
	return f, nil
}

func text(s string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: s}
}

func toolCalls(calls ...schema.ToolCall) *schema.Message {
	return &schema.Message{Role: schema.Assistant, ToolCalls: calls}
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func collect(t *testing.T, es contractx.EventStream) ([]stream.Event, error) {
	t.Helper()
	defer es.Close()
	var out []stream.Event
	for {
		ev, err := es.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	args  []map[string]any
	reply map[string]string
}

func (r *recordingExecutor) exec(_ context.Context, tool string, args map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, tool)
	r.args = append(r.args, args)
	if out, ok := r.reply[tool]; ok {
		return out, nil
	}
	return "", errors.New("boom")
}

func TestQueryTextOnly(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{steps: [][]*schema.Message{{text("Hel"), text("lo")}}}
	rt, err := New(model, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	es, err := rt.Query(context.Background(), contractx.QueryRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	events, err := collect(t, es)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	kinds := make([]stream.Kind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind())
	}
	want := []stream.Kind{stream.KindSessionInit, stream.KindText, stream.KindText, stream.KindResult}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	if final := events[3].(stream.FinalResult); final.Text != "Hello" {
		t.Fatalf("final text = %q", final.Text)
	}
	if model.bound != nil {
		t.Fatalf("no tools should be bound without an allow-list")
	}
}

func TestQueryDispatchesAllowedTools(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{steps: [][]*schema.Message{
		{toolCalls(
			call("c1", "mcp__locus__get_payment_context", ""),
			call("c2", "mcp__locus__send_to_address", `{"address":"0xABC","amount":8,"memo":"m"}`),
		)},
		{text("Payment sent.")},
	}}
	rec := &recordingExecutor{reply: map[string]string{
		"mcp__locus__get_payment_context": "balance 10",
		"mcp__locus__send_to_address":     `{"transaction_id":"tx_1"}`,
	}}
	rt, err := New(model,
		WithTools(PaymentTools(DefaultNamespace), rec.exec),
		WithServerName("locus"),
		WithLogger(zerolog.Nop()),
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	es, err := rt.Query(context.Background(), contractx.QueryRequest{
		Prompt:       "pay",
		AllowedTools: []string{"mcp__locus__*"},
		CanUseTool:   NamespaceAuthorizer(DefaultNamespace, zerolog.Nop(), nil),
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	events, err := collect(t, es)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(model.bound) != 3 {
		t.Fatalf("expected 3 bound tools, got %d", len(model.bound))
	}
	if len(rec.calls) != 2 || rec.calls[1] != "mcp__locus__send_to_address" {
		t.Fatalf("unexpected executor calls %v", rec.calls)
	}
	if rec.args[1]["address"] != "0xABC" {
		t.Fatalf("arguments not parsed: %v", rec.args[1])
	}

	var results []stream.ToolResult
	for _, ev := range events {
		if r, ok := ev.(stream.ToolResult); ok {
			results = append(results, r)
		}
	}
	if len(results) != 2 || results[1].Content != `{"transaction_id":"tx_1"}` || results[1].IsError {
		t.Fatalf("unexpected tool results %+v", results)
	}
	init := events[0].(stream.SessionInit)
	if len(init.Servers) != 1 || init.Servers[0].Name != "locus" {
		t.Fatalf("unexpected session init %+v", init)
	}

	// Second model step sees the assistant tool-call message and both tool outputs.
	second := model.inputs[1]
	if len(second) != 4 || second[2].Role != schema.Tool || second[3].ToolCallID != "c2" {
		t.Fatalf("unexpected second step input: %d messages", len(second))
	}
}

func TestQueryNeverDispatchesOutsideNamespace(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{steps: [][]*schema.Message{
		{toolCalls(call("c1", "Bash", `{"command":"rm -rf /"}`), call("c2", "WebFetch", `{}`))},
		{text("ok")},
	}}
	rec := &recordingExecutor{reply: map[string]string{"Bash": "should not run", "WebFetch": "nope"}}
	rt, err := New(model, WithTools(nil, rec.exec), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	es, err := rt.Query(context.Background(), contractx.QueryRequest{
		Prompt: "pay",
		// Bash slips through the allow-list; the authorizer must still deny it.
		AllowedTools: []string{"mcp__locus__*", "Bash"},
		CanUseTool:   NamespaceAuthorizer(DefaultNamespace, zerolog.Nop(), nil),
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	events, err := collect(t, es)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("denied tools were executed: %v", rec.calls)
	}

	var denied []stream.ToolResult
	for _, ev := range events {
		if r, ok := ev.(stream.ToolResult); ok {
			denied = append(denied, r)
		}
	}
	if len(denied) != 2 || !denied[0].IsError || !denied[1].IsError {
		t.Fatalf("denied calls must still produce error results: %+v", denied)
	}
	if denied[0].Content != "Only payment tools are allowed" {
		t.Fatalf("unexpected denial message %q", denied[0].Content)
	}
	if !strings.Contains(denied[1].Content, "not an allowed tool") {
		t.Fatalf("allow-list denial message %q", denied[1].Content)
	}
}

func TestQueryExecutorErrorIsReported(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{steps: [][]*schema.Message{
		{toolCalls(call("c1", "mcp__locus__send_to_address", `{}`))},
		{text("failed")},
	}}
	rec := &recordingExecutor{}
	rt, _ := New(model, WithTools(PaymentTools(DefaultNamespace), rec.exec), WithLogger(zerolog.Nop()))
	es, _ := rt.Query(context.Background(), contractx.QueryRequest{Prompt: "pay", AllowedTools: []string{"mcp__locus__*"}})
	events, err := collect(t, es)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	var sawError bool
	for _, ev := range events {
		if e, ok := ev.(stream.AgentError); ok && e.ToolUseID == "c1" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("executor failure should surface as an agent error event")
	}
}

func TestQueryModelErrorIsSessionFailure(t *testing.T) {
	t.Parallel()

	rt, _ := New(&fakeToolCallingModel{err: errors.New("401 unauthorized")}, WithLogger(zerolog.Nop()))
	es, err := rt.Query(context.Background(), contractx.QueryRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if _, err := collect(t, es); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestQueryStopsAfterMaxSteps(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{steps: [][]*schema.Message{
		{toolCalls(call("c", "mcp__locus__get_payment_context", ""))},
	}}
	rec := &recordingExecutor{reply: map[string]string{"mcp__locus__get_payment_context": "balance"}}
	rt, _ := New(model, WithTools(PaymentTools(DefaultNamespace), rec.exec), WithMaxSteps(2), WithLogger(zerolog.Nop()))
	es, _ := rt.Query(context.Background(), contractx.QueryRequest{Prompt: "loop", AllowedTools: []string{"mcp__locus__*"}})
	events, err := collect(t, es)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	last, ok := events[len(events)-1].(stream.AgentError)
	if !ok || last.Type != "error_max_turns" {
		t.Fatalf("expected max-turn error as last event, got %+v", events[len(events)-1])
	}
	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(rec.calls))
	}
}

func TestQueryRejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	rt, _ := New(&fakeToolCallingModel{}, WithLogger(zerolog.Nop()))
	if _, err := rt.Query(context.Background(), contractx.QueryRequest{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil model")
	}
}
