package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/agentpay/agent/contract"
)

type Name string

const (
	BuyerOpening    Name = "buyer_opening"
	PlatformOpening Name = "platform_opening"
	PlatformTurn    Name = "platform_turn"
	BuyerTurn       Name = "buyer_turn"
	Payment         Name = "payment"
	PaymentRetry    Name = "payment_retry"
)

var (
	//go:embed template/buyer_opening.txt
	buyerOpeningRaw string

	//go:embed template/platform_opening.txt
	platformOpeningRaw string

	//go:embed template/platform_turn.txt
	platformTurnRaw string

	//go:embed template/buyer_turn.txt
	buyerTurnRaw string

	//go:embed template/payment.txt
	paymentRaw string

	//go:embed template/payment_retry.txt
	paymentRetryRaw string
)

// PromptSet holds the trimmed directive templates by name.
type PromptSet map[Name]string

// LoadPromptSet returns the embedded directive templates.
func LoadPromptSet() PromptSet {
	return PromptSet{
		BuyerOpening:    strings.TrimSpace(buyerOpeningRaw),
		PlatformOpening: strings.TrimSpace(platformOpeningRaw),
		PlatformTurn:    strings.TrimSpace(platformTurnRaw),
		BuyerTurn:       strings.TrimSpace(buyerTurnRaw),
		Payment:         strings.TrimSpace(paymentRaw),
		PaymentRetry:    strings.TrimSpace(paymentRetryRaw),
	}
}

// Renderer turns templates into directive text through eino chat templates.
type Renderer struct {
	templates map[Name]einoprompt.ChatTemplate
}

func NewRenderer(set PromptSet) (*Renderer, error) {
	r := &Renderer{templates: make(map[Name]einoprompt.ChatTemplate, len(set))}
	for name, text := range set {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: %s", contractx.ErrPromptMissing, name)
		}
		r.templates[name] = einoprompt.FromMessages(schema.GoTemplate, schema.UserMessage(text))
	}
	return r, nil
}

// MustDefault builds a Renderer over the embedded templates.
func MustDefault() *Renderer {
	r, err := NewRenderer(LoadPromptSet())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Renderer) Render(ctx context.Context, name Name, vars map[string]any) (string, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", contractx.ErrPromptMissing, name)
	}
	if vars == nil {
		vars = map[string]any{}
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%w: %s rendered empty", contractx.ErrPromptMissing, name)
	}
	return strings.TrimSpace(msgs[0].Content), nil
}
