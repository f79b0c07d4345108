package payment

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/agentpay/agent/contract"
)

const (
	nodeFirstAttempt = "first_attempt"
	nodeRetryAttempt = "retry_attempt"
	nodeFinalize     = "finalize"
)

// execution is the per-call state threaded through the graph.
type execution struct {
	req  contractx.PaymentRequest
	vars map[string]any

	attempts    int
	invocations []contractx.ToolInvocation
	lastText    string
	verdict     verdict
	err         error
}

func (e *Engine) compileExecuteGraph(
	ctx context.Context,
) (compose.Runnable[*execution, contractx.PaymentOutcome], error) {
	graph := compose.NewGraph[*execution, contractx.PaymentOutcome]()

	if err := graph.AddLambdaNode(nodeFirstAttempt,
		compose.InvokableLambda(func(ctx context.Context, in *execution) (*execution, error) {
			return e.firstAttempt(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFirstAttempt, err)
	}

	if err := graph.AddLambdaNode(nodeRetryAttempt,
		compose.InvokableLambda(func(ctx context.Context, in *execution) (*execution, error) {
			return e.retryAttempt(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeRetryAttempt, err)
	}

	if err := graph.AddLambdaNode(nodeFinalize,
		compose.InvokableLambda(func(ctx context.Context, in *execution) (contractx.PaymentOutcome, error) {
			return e.finalize(in), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFinalize, err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *execution) (string, error) {
			if in == nil {
				return "", fmt.Errorf("%w: payment graph state is nil", contractx.ErrValidation)
			}
			if in.err != nil || in.verdict.ok {
				return nodeFinalize, nil
			}
			return nodeRetryAttempt, nil
		},
		map[string]bool{
			nodeFinalize:     true,
			nodeRetryAttempt: true,
		},
	)
	if err := graph.AddBranch(nodeFirstAttempt, branch); err != nil {
		return nil, fmt.Errorf("add payment retry branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, nodeFirstAttempt},
		{nodeRetryAttempt, nodeFinalize},
		{nodeFinalize, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("payment.execute"))
	if err != nil {
		return nil, fmt.Errorf("compile payment graph: %w", err)
	}
	return runner, nil
}
