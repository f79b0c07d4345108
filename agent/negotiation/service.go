// Package negotiation drives the buyer/platform exchange until the buyer
// agrees or the turn cap is reached.
package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	promptx "github.com/tanpawarit/agentpay/agent/prompt"
	logx "github.com/tanpawarit/agentpay/pkg/logger"
	"github.com/tanpawarit/agentpay/pkg/observability"
)

type State string

const (
	StateInit        State = "INIT"
	StateOpening     State = "OPENING"
	StateNegotiating State = "NEGOTIATING"
	StateAgreed      State = "AGREED"
	StateTimedOut    State = "TIMED_OUT"
)

func (s State) Terminal() bool {
	return s == StateAgreed || s == StateTimedOut
}

type Result struct {
	State     State                        `json:"state"`
	Agreement contractx.AgreementState     `json:"agreement"`
	History   []contractx.ConversationTurn `json:"history"`
	// Exchanges counts the opening plus every negotiation round started.
	Exchanges int `json:"exchanges"`
}

// TurnObserver is told about every turn as soon as it is appended.
type TurnObserver func(contractx.ConversationTurn)

// Orchestrator holds only immutable configuration; each Run owns its own
// history and state.
type Orchestrator struct {
	buyer    contractx.Agent
	platform contractx.Agent
	prompts  *promptx.Renderer
	items    *ItemMatcher

	maxTurns    int
	menu        string
	maxDiscount int

	observer TurnObserver
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

type Option func(*Orchestrator)

func WithObserver(fn TurnObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithPrompts(r *promptx.Renderer) Option {
	return func(o *Orchestrator) { o.prompts = r }
}

func New(buyer, platform contractx.Agent, cfg Config, opts ...Option) (*Orchestrator, error) {
	if buyer == nil {
		return nil, errors.New("buyer agent is required")
	}
	if platform == nil {
		return nil, errors.New("platform agent is required")
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultConfig.MaxTurns
	}
	if len(cfg.Menu) == 0 {
		cfg.Menu = DefaultConfig.Menu
	}
	maxDiscount := cfg.MaxDiscount
	if maxDiscount < 0 {
		maxDiscount = 0
	}

	o := &Orchestrator{
		buyer:       buyer,
		platform:    platform,
		items:       NewItemMatcher(cfg.Vocabulary()),
		maxTurns:    maxTurns,
		menu:        cfg.MenuText(),
		maxDiscount: maxDiscount,
		logger:      logx.Component("negotiation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.prompts == nil {
		r, err := promptx.NewRenderer(promptx.LoadPromptSet())
		if err != nil {
			return nil, err
		}
		o.prompts = r
	}
	return o, nil
}

// run is the per-call state of one negotiation.
type run struct {
	state     State
	history   History
	exchanges int
}

// Run negotiates to a terminal state. Agent calls are strictly sequential
// because every directive embeds the full transcript. A session failure in
// any call aborts the run with ErrNegotiationFailed; the partial result is
// still returned.
func (o *Orchestrator) Run(ctx context.Context) (res Result, err error) {
	ctx, span := observability.StartSpan(ctx, "negotiation.run", attribute.Int("max_turns", o.maxTurns))
	r := &run{state: StateInit}
	defer func() {
		res.History = r.history.Turns()
		res.Exchanges = r.exchanges
		if res.State == "" {
			res.State = r.state
		}
		outcome := "failed"
		if err == nil {
			outcome = map[State]string{StateAgreed: "agreed", StateTimedOut: "timed_out"}[res.State]
		}
		o.metrics.Negotiation(outcome, r.exchanges)
		span.SetAttributes(attribute.String("state", string(res.State)), attribute.Int("exchanges", r.exchanges))
		observability.EndSpan(span, err)
	}()

	r.state = StateOpening
	r.exchanges = 1
	opening, err := o.render(ctx, promptx.BuyerOpening, nil)
	if err != nil {
		return Result{}, err
	}
	if err := o.turn(ctx, r, contractx.RoleBuyer, opening); err != nil {
		return Result{}, err
	}

	directive, err := o.render(ctx, promptx.PlatformOpening, map[string]any{
		"menu":          o.menu,
		"max_discount":  o.maxDiscount,
		"buyer_message": r.history.Latest(contractx.RoleBuyer),
	})
	if err != nil {
		return Result{}, err
	}
	if err := o.turn(ctx, r, contractx.RolePlatform, directive); err != nil {
		return Result{}, err
	}

	r.state = StateNegotiating
	for round := 1; round <= o.maxTurns; round++ {
		r.exchanges++

		directive, err := o.render(ctx, promptx.PlatformTurn, map[string]any{
			"transcript":    r.history.Transcript(contractx.RolePlatform),
			"buyer_message": r.history.Latest(contractx.RoleBuyer),
		})
		if err != nil {
			return Result{}, err
		}
		if err := o.turn(ctx, r, contractx.RolePlatform, directive); err != nil {
			return Result{}, err
		}
		if agreed, ok := o.checkAgreement(r); ok {
			return agreed, nil
		}

		directive, err = o.render(ctx, promptx.BuyerTurn, map[string]any{
			"transcript":       r.history.Transcript(contractx.RoleBuyer),
			"platform_message": r.history.Latest(contractx.RolePlatform),
		})
		if err != nil {
			return Result{}, err
		}
		if err := o.turn(ctx, r, contractx.RoleBuyer, directive); err != nil {
			return Result{}, err
		}
		if agreed, ok := o.checkAgreement(r); ok {
			return agreed, nil
		}
	}

	r.state = StateTimedOut
	o.logger.Info().Int("max_turns", o.maxTurns).Msg("negotiation timed out")
	return Result{State: StateTimedOut, Agreement: contractx.AgreementState{}}, nil
}

func (o *Orchestrator) checkAgreement(r *run) (Result, bool) {
	if !SignalsAgreement(r.history.Latest(contractx.RoleBuyer)) {
		return Result{}, false
	}
	r.state = StateAgreed
	agreement := o.items.freeze(r.history.Latest(contractx.RolePlatform))

	evt := o.logger.Info().Str("item", agreement.Item).Int("exchanges", r.exchanges)
	if agreement.Price != nil {
		evt = evt.Float64("price", *agreement.Price)
	}
	evt.Msg("agreement reached")
	return Result{State: StateAgreed, Agreement: agreement}, true
}

func (o *Orchestrator) turn(ctx context.Context, r *run, role contractx.Role, directive string) error {
	agent := o.buyer
	if role == contractx.RolePlatform {
		agent = o.platform
	}
	out, err := agent.Ask(ctx, directive)
	if err != nil {
		return fmt.Errorf("%w: %s call in %s: %v", contractx.ErrNegotiationFailed, role, r.state, err)
	}
	turn := r.history.Append(role, out.ResponseText)
	o.logger.Debug().Str("role", string(role)).Int("seq", turn.Seq).Str("text", turn.Text).Msg("turn appended")
	if o.observer != nil {
		o.observer(turn)
	}
	return nil
}

func (o *Orchestrator) render(ctx context.Context, name promptx.Name, vars map[string]any) (string, error) {
	out, err := o.prompts.Render(ctx, name, vars)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrNegotiationFailed, err)
	}
	return out, nil
}
