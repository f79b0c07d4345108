package runtime

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	DefaultNamespace = "mcp__locus__"

	ToolGetPaymentContext = "get_payment_context"
	ToolSendToAddress     = "send_to_address"
	ToolSendToEmail       = "send_to_email"
)

// Qualify prefixes a network tool name with the agent-facing namespace.
func Qualify(namespace, name string) string {
	return namespace + name
}

// Unqualify strips the namespace, reporting false when name lies outside it.
func Unqualify(namespace, name string) (string, bool) {
	if namespace == "" || !strings.HasPrefix(name, namespace) {
		return "", false
	}
	return strings.TrimPrefix(name, namespace), true
}

// PaymentTools lists the payment capabilities as the model sees them.
func PaymentTools(namespace string) []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name:        Qualify(namespace, ToolGetPaymentContext),
			Desc:        "Check the wallet balance and payment context of the paying account.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		{
			Name: Qualify(namespace, ToolSendToAddress),
			Desc: "Send USDC to a wallet address.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"address": {Type: schema.String, Desc: "Recipient wallet address", Required: true},
				"amount":  {Type: schema.Number, Desc: "Amount in USDC, two decimals", Required: true},
				"memo":    {Type: schema.String, Desc: "Payment memo", Required: true},
			}),
		},
		{
			Name: Qualify(namespace, ToolSendToEmail),
			Desc: "Send USDC to an email address through escrow.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"email":  {Type: schema.String, Desc: "Recipient email", Required: true},
				"amount": {Type: schema.Number, Desc: "Amount in USDC, two decimals", Required: true},
				"memo":   {Type: schema.String, Desc: "Payment memo", Required: true},
			}),
		},
	}
}

// Allowed reports whether name matches one of the patterns. A pattern ending
// in '*' matches by prefix; anything else must match exactly.
func Allowed(patterns []string, name string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
			continue
		}
		if p == name {
			return true
		}
	}
	return false
}
