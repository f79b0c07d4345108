package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeMCPServer struct {
	mu       sync.Mutex
	methods  []string
	sessions []string
	args     map[string]any
	deleted  bool
}

func (f *fakeMCPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		f.mu.Lock()
		f.deleted = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.sessions = append(f.sessions, r.Header.Get("Mcp-Session-Id"))
	f.mu.Unlock()

	switch req.Method {
	case "initialize":
		w.Header().Set("Mcp-Session-Id", "sess-1")
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"serverInfo":      map[string]any{"name": "locus", "version": "0.1"},
		})
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
	case "tools/list":
		w.Header().Set("Content-Type", "text/event-stream")
		payload, _ := json.Marshal(JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(
			`{"tools":[{"name":"get_payment_context"},{"name":"send_to_address"}]}`)})
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
	case "tools/call":
		var params CallToolParams
		_ = json.Unmarshal(req.Params, &params)
		f.mu.Lock()
		_ = json.Unmarshal(params.Arguments, &f.args)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		payload, _ := json.Marshal(JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(
			`{"content":[{"type":"text","text":"{\"transaction_id\":\"tx_1\"}"}]}`)})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	case "tools/fail":
		w.Header().Set("Content-Type", "application/json")
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{Code: -32601, Message: "nope"}}
		_ = json.NewEncoder(w).Encode(resp)
	case "tools/stale":
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, "some-other-request", map[string]any{"content": []any{}})
	default:
		http.Error(w, "unknown", http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, id any, result any) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

func TestClientConnectAndCallTool(t *testing.T) {
	t.Parallel()

	fake := &fakeMCPServer{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer k"}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if got := client.ServerInfo().Name; got != "locus" {
		t.Fatalf("server name = %q", got)
	}
	if tools := client.Tools(); len(tools) != 2 || tools[1].Name != "send_to_address" {
		t.Fatalf("unexpected tools %+v", tools)
	}

	res, err := client.CallTool(ctx, "send_to_address", map[string]any{"address": "0xabc", "amount": "8.00"})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if res.Text() != `{"transaction_id":"tx_1"}` {
		t.Fatalf("unexpected result text %q", res.Text())
	}

	if err := client.Close(ctx); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.args["address"] != "0xabc" {
		t.Fatalf("arguments not forwarded: %v", fake.args)
	}
	if fake.sessions[0] != "" {
		t.Fatalf("initialize must not carry a session id")
	}
	for i := 1; i < len(fake.sessions); i++ {
		if fake.sessions[i] != "sess-1" {
			t.Fatalf("request %s missing session id", fake.methods[i])
		}
	}
	if !fake.deleted {
		t.Fatalf("Close should end the session")
	}
}

func TestTransportRPCError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakeMCPServer{})
	t.Cleanup(srv.Close)

	tr := NewHTTPTransport(Config{URL: srv.URL}, zerolog.Nop())
	_, err := tr.Call(context.Background(), "tools/fail", nil)
	rpcErr, ok := err.(*JSONRPCError)
	if !ok || rpcErr.Code != -32601 {
		t.Fatalf("expected JSONRPCError, got %v", err)
	}
}

func TestTransportRejectsMismatchedJSONResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakeMCPServer{})
	t.Cleanup(srv.Close)

	tr := NewHTTPTransport(Config{URL: srv.URL}, zerolog.Nop())
	if _, err := tr.Call(context.Background(), "tools/stale", nil); err == nil {
		t.Fatalf("expected error for a response carrying another request's id")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{URL: "ftp://x"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for non-http url")
	}
}
