package runtime

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/pkg/observability"
)

const namespaceDenial = "Only payment tools are allowed"

// NamespaceAuthorizer allows a tool only when its name carries the payment
// namespace prefix. The input is never consulted.
func NamespaceAuthorizer(namespace string, logger zerolog.Logger, metrics *observability.Metrics) contractx.Authorizer {
	namespace = strings.TrimSpace(namespace)
	return func(_ context.Context, toolName string, input map[string]any) contractx.Permission {
		allowed := namespace != "" && strings.HasPrefix(toolName, namespace)
		metrics.ToolDecision(toolName, allowed)
		if !allowed {
			logger.Warn().Str("tool", toolName).Msg("tool denied")
			return contractx.Permission{Message: namespaceDenial}
		}
		logger.Info().Str("tool", toolName).Interface("input", input).Msg("tool allowed")
		return contractx.Permission{Allow: true, UpdatedInput: input}
	}
}

// DenyAll refuses every tool, for agents that must only talk.
func DenyAll(message string) contractx.Authorizer {
	if message == "" {
		message = "This agent does not use tools"
	}
	return func(context.Context, string, map[string]any) contractx.Permission {
		return contractx.Permission{Message: message}
	}
}
