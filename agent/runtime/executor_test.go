package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/tanpawarit/agentpay/pkg/mcp"
)

type fakeCaller struct {
	name string
	args map[string]any
	res  *mcp.ToolCallResult
	err  error
}

func (f *fakeCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.ToolCallResult, error) {
	f.name = name
	f.args = args
	return f.res, f.err
}

func TestMCPExecutorStripsNamespace(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{res: &mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: "ok"}}}}
	exec := NewMCPExecutor(DefaultNamespace, caller)

	out, err := exec(context.Background(), "mcp__locus__send_to_address", map[string]any{"amount": 1})
	if err != nil || out != "ok" {
		t.Fatalf("exec = %q, %v", out, err)
	}
	if caller.name != "send_to_address" {
		t.Fatalf("namespace not stripped: %q", caller.name)
	}

	if _, err := exec(context.Background(), "Bash", nil); err == nil {
		t.Fatalf("tools outside the namespace are unavailable")
	}
}

func TestMCPExecutorToolError(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{res: &mcp.ToolCallResult{IsError: true, Content: []mcp.ToolResultContent{{Type: "text", Text: "insufficient funds"}}}}
	out, err := NewMCPExecutor(DefaultNamespace, caller)(context.Background(), "mcp__locus__send_to_address", nil)
	if !errors.Is(err, ErrToolFailed) || out != "insufficient funds" {
		t.Fatalf("exec = %q, %v", out, err)
	}
}
