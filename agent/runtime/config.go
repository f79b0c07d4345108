package runtime

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/pkg/mcp"
)

// LocusConfig points the buyer runtime at the payment-capability network.
type LocusConfig struct {
	MCPURL                string        `envconfig:"MCP_URL" default:"https://mcp.paywithlocus.com/mcp"`
	APIKeySender          string        `envconfig:"API_KEY_SENDER"`
	WalletAddressReceiver string        `envconfig:"WALLET_ADDRESS_RECEIVER"`
	Namespace             string        `split_words:"true" default:"mcp__locus__"`
	ServerName            string        `split_words:"true" default:"locus"`
	MaxSteps              int           `split_words:"true" default:"8"`
	Timeout               time.Duration `split_words:"true" default:"60s"`
}

// Validate reports a missing sender credential as a configuration error.
func (c LocusConfig) Validate() error {
	if strings.TrimSpace(c.APIKeySender) == "" {
		return fmt.Errorf("%w: LOCUS_API_KEY_SENDER not configured", contractx.ErrConfiguration)
	}
	return nil
}

func (c LocusConfig) MCPConfig() mcp.Config {
	return mcp.Config{
		URL:     strings.TrimSpace(c.MCPURL),
		Headers: map[string]string{"Authorization": "Bearer " + strings.TrimSpace(c.APIKeySender)},
		Timeout: c.Timeout,
	}
}

// AllowedTools is the buyer allow-list: everything in the payment namespace.
func (c LocusConfig) AllowedTools() []string {
	return []string{c.namespace() + "*"}
}

func (c LocusConfig) namespace() string {
	if ns := strings.TrimSpace(c.Namespace); ns != "" {
		return ns
	}
	return DefaultNamespace
}

func (c LocusConfig) NamespacePrefix() string { return c.namespace() }
