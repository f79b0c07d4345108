package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	openrouterx "github.com/tanpawarit/agentpay/pkg/openrouter"
)

// Config holds the shared OpenRouter settings plus per-role overrides.
// A negative role temperature means "use Temperature".
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"anthropic/claude-sonnet-4"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	BuyerModel          string  `envconfig:"BUYER_MODEL" split_words:"true"`
	PlatformModel       string  `envconfig:"PLATFORM_MODEL" split_words:"true"`
	BuyerTemperature    float32 `envconfig:"BUYER_TEMPERATURE" split_words:"true" default:"-1"`
	PlatformTemperature float32 `envconfig:"PLATFORM_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: OPENROUTER_API_KEY not configured", contractx.ErrConfiguration)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrConfiguration)
	}
	return nil
}

func (c Config) OpenRouterFor(role contractx.Role) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch role {
	case contractx.RoleBuyer:
		if v := strings.TrimSpace(c.BuyerModel); v != "" {
			modelName = v
		}
		if c.BuyerTemperature >= 0 {
			temp = c.BuyerTemperature
		}
	case contractx.RolePlatform:
		if v := strings.TrimSpace(c.PlatformModel); v != "" {
			modelName = v
		}
		if c.PlatformTemperature >= 0 {
			temp = c.PlatformTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
