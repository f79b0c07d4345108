package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/tanpawarit/agentpay/pkg/mcp"
)

// Executor performs one tool call and returns its textual result.
type Executor func(ctx context.Context, tool string, args map[string]any) (string, error)

var ErrToolFailed = errors.New("tool reported failure")

// DefaultExecutor answers every call as unavailable.
func DefaultExecutor() Executor {
	return func(_ context.Context, tool string, _ map[string]any) (string, error) {
		return "", fmt.Errorf("tool=%s is unavailable", tool)
	}
}

// ToolCaller is the subset of the MCP client the executor needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error)
}

// NewMCPExecutor forwards namespaced calls to an MCP server under their bare
// names. Calls outside the namespace fall through to DefaultExecutor.
func NewMCPExecutor(namespace string, caller ToolCaller) Executor {
	fallback := DefaultExecutor()
	return func(ctx context.Context, tool string, args map[string]any) (string, error) {
		name, ok := Unqualify(namespace, tool)
		if !ok || caller == nil {
			return fallback(ctx, tool, args)
		}
		res, err := caller.CallTool(ctx, name, args)
		if err != nil {
			return "", fmt.Errorf("call %s: %w", name, err)
		}
		text := res.Text()
		if res.IsError {
			return text, fmt.Errorf("%w: %s", ErrToolFailed, text)
		}
		return text, nil
	}
}
