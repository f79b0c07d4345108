package payment

import "strings"

type Config struct {
	// AllowTextFallback lets a bare success token in the retry response count
	// as success when no transfer call or transaction id was observed.
	AllowTextFallback bool   `split_words:"true" default:"true"`
	TransferTool      string `split_words:"true" default:"mcp__locus__send_to_address"`
	BalanceTool       string `split_words:"true" default:"mcp__locus__get_payment_context"`
}

var DefaultConfig = Config{
	AllowTextFallback: true,
	TransferTool:      "mcp__locus__send_to_address",
	BalanceTool:       "mcp__locus__get_payment_context",
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.TransferTool) == "" {
		c.TransferTool = DefaultConfig.TransferTool
	}
	if strings.TrimSpace(c.BalanceTool) == "" {
		c.BalanceTool = DefaultConfig.BalanceTool
	}
	return c
}
