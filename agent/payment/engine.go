// Package payment turns an agreed amount into a verified transfer by driving
// the buyer agent through at most two directives.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	promptx "github.com/tanpawarit/agentpay/agent/prompt"
	logx "github.com/tanpawarit/agentpay/pkg/logger"
	"github.com/tanpawarit/agentpay/pkg/observability"
)

var _ contractx.PaymentExecutor = (*Engine)(nil)

// Engine holds immutable configuration only and is safe for concurrent use.
type Engine struct {
	buyer    contractx.Agent
	prompts  *promptx.Renderer
	cfg      Config
	transfer transferMatcher

	metrics *observability.Metrics
	logger  zerolog.Logger

	runner compose.Runnable[*execution, contractx.PaymentOutcome]
}

type Option func(*Engine)

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithPrompts(r *promptx.Renderer) Option {
	return func(e *Engine) { e.prompts = r }
}

func New(ctx context.Context, buyer contractx.Agent, cfg Config, opts ...Option) (*Engine, error) {
	if buyer == nil {
		return nil, errors.New("buyer agent is required")
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		buyer:    buyer,
		cfg:      cfg,
		transfer: newTransferMatcher(cfg.TransferTool),
		logger:   logx.Component("payment"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.prompts == nil {
		r, err := promptx.NewRenderer(promptx.LoadPromptSet())
		if err != nil {
			return nil, err
		}
		e.prompts = r
	}

	runner, err := e.compileExecuteGraph(ctx)
	if err != nil {
		return nil, err
	}
	e.runner = runner
	return e, nil
}

// Validate checks the request invariants: a positive finite amount and a
// non-empty recipient address.
func Validate(req contractx.PaymentRequest) error {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be a positive number", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.RecipientAddress) == "" {
		return fmt.Errorf("%w: recipient_address is required", contractx.ErrValidation)
	}
	return nil
}

// FormatAmount renders an amount the way directives and receipts carry it.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

// Execute runs the payment protocol. Agent-level problems, including a failed
// session, resolve to an unsuccessful outcome; the returned error is reserved
// for invalid requests and internal failures.
func (e *Engine) Execute(ctx context.Context, req contractx.PaymentRequest) (out contractx.PaymentOutcome, err error) {
	if err := Validate(req); err != nil {
		return contractx.PaymentOutcome{Success: false, Message: err.Error(), Evidence: contractx.EvidenceNone}, err
	}

	ctx, span := observability.StartSpan(ctx, "payment.execute",
		attribute.String("amount", FormatAmount(req.Amount)),
		attribute.String("recipient", req.RecipientAddress),
	)
	defer func() {
		span.SetAttributes(
			attribute.Bool("success", out.Success),
			attribute.String("evidence", string(out.Evidence)),
			attribute.Int("attempts", out.Attempts),
		)
		observability.EndSpan(span, err)
	}()

	st := &execution{
		req: req,
		vars: map[string]any{
			"amount":        FormatAmount(req.Amount),
			"address":       req.RecipientAddress,
			"memo":          req.Memo,
			"item":          req.Item,
			"balance_tool":  e.cfg.BalanceTool,
			"transfer_tool": e.cfg.TransferTool,
		},
	}
	out, err = e.runner.Invoke(ctx, st)
	if err != nil {
		return contractx.PaymentOutcome{Success: false, Message: "Payment failed: " + err.Error(), Evidence: contractx.EvidenceNone}, err
	}

	e.metrics.Payment(out.Success, string(out.Evidence))
	e.logger.Info().
		Bool("success", out.Success).
		Str("transaction_id", out.TransactionID).
		Str("evidence", string(out.Evidence)).
		Int("attempts", out.Attempts).
		Strs("tools", out.ToolNames()).
		Msg("payment verdict")
	return out, nil
}

func (e *Engine) firstAttempt(ctx context.Context, st *execution) (*execution, error) {
	directive, err := e.prompts.Render(ctx, promptx.Payment, st.vars)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("amount", FormatAmount(st.req.Amount)).Str("address", st.req.RecipientAddress).Msg("payment attempt")
	return e.attempt(ctx, st, directive), nil
}

func (e *Engine) retryAttempt(ctx context.Context, st *execution) (*execution, error) {
	directive, err := e.prompts.Render(ctx, promptx.PaymentRetry, st.vars)
	if err != nil {
		return nil, err
	}
	e.metrics.PaymentRetry()
	e.logger.Warn().Strs("tools", contractx.AgentTurnResult{ToolInvocations: st.invocations}.ToolNames()).Msg("transfer not evidenced, retrying")
	return e.attempt(ctx, st, directive), nil
}

// attempt runs one directive and judges it against every invocation seen so
// far and this attempt's response text.
func (e *Engine) attempt(ctx context.Context, st *execution, directive string) *execution {
	st.attempts++
	turn, err := e.buyer.Ask(ctx, directive)
	st.invocations = append(st.invocations, turn.ToolInvocations...)
	st.lastText = turn.ResponseText
	if err != nil {
		st.err = err
		return st
	}
	st.verdict = judge(e.transfer, st.invocations, turn.ResponseText)
	return st
}

func (e *Engine) finalize(st *execution) contractx.PaymentOutcome {
	out := contractx.PaymentOutcome{
		ToolInvocations: st.invocations,
		Attempts:        st.attempts,
		Evidence:        contractx.EvidenceNone,
	}

	if st.err != nil {
		out.Message = "Payment failed: " + st.err.Error()
		return out
	}

	v := st.verdict
	if !v.ok {
		if fb, ok := textFallback(e.cfg.AllowTextFallback, st.lastText); ok {
			v = fb
		}
	}
	if !v.ok {
		names := out.ToolNames()
		observed := "none"
		if len(names) > 0 {
			observed = strings.Join(names, ", ")
		}
		out.Message = fmt.Sprintf("Payment tool %s was not invoked after %d attempts. Tools called: %s", e.cfg.TransferTool, st.attempts, observed)
		return out
	}

	out.Success = true
	out.TransactionID = v.transactionID
	out.Evidence = v.evidence
	out.Message = successMessage(v, e.cfg.TransferTool, st.req)
	return out
}

// successMessage states which signal the success rests on.
func successMessage(v verdict, transferTool string, req contractx.PaymentRequest) string {
	sent := fmt.Sprintf("$%s to %s", FormatAmount(req.Amount), req.RecipientAddress)
	switch v.evidence {
	case contractx.EvidenceTransactionID:
		return fmt.Sprintf("Payment successful. Transaction ID: %s (reported by the agent with a success confirmation; %s)", v.transactionID, sent)
	case contractx.EvidenceTransferCalled:
		if v.transactionID == "" {
			return fmt.Sprintf("Payment transfer invoked via %s (%s); no transaction id was returned, check the payment dashboard", transferTool, sent)
		}
		return fmt.Sprintf("Payment successful. Transaction ID: %s (from the %s call; %s)", v.transactionID, transferTool, sent)
	default:
		return "Payment reported successful by the agent; no transaction id or transfer call was observed"
	}
}
