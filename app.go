package main

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/interpreter"
	"github.com/tanpawarit/agentpay/agent/ledger"
	llmx "github.com/tanpawarit/agentpay/agent/llm"
	"github.com/tanpawarit/agentpay/agent/negotiation"
	"github.com/tanpawarit/agentpay/agent/payment"
	runtimex "github.com/tanpawarit/agentpay/agent/runtime"
	configx "github.com/tanpawarit/agentpay/pkg/config"
	logx "github.com/tanpawarit/agentpay/pkg/logger"
	"github.com/tanpawarit/agentpay/pkg/mcp"
	"github.com/tanpawarit/agentpay/pkg/observability"
	openrouterx "github.com/tanpawarit/agentpay/pkg/openrouter"
	qstashx "github.com/tanpawarit/agentpay/pkg/qstash"
	"github.com/tanpawarit/agentpay/server"
)

// app is the loaded configuration plus the process-wide collaborators.
type app struct {
	llm         *llmx.Config
	locus       *runtimex.LocusConfig
	negotiation *negotiation.Config
	payment     *payment.Config
	server      *server.Config
	ledger      *ledger.Config
	upstash     *ledger.UpstashRedisConfig
	postgres    *ledger.PostgresConfig
	qstash      *qstashx.Config

	registry *prometheus.Registry
	metrics  *observability.Metrics

	closers []func(context.Context) error
}

func loadApp(ctx context.Context) (*app, error) {
	a := &app{}
	var err error
	if a.llm, err = configx.New[llmx.Config]("OPENROUTER"); err != nil {
		return nil, err
	}
	if a.locus, err = configx.New[runtimex.LocusConfig]("LOCUS"); err != nil {
		return nil, err
	}
	if a.negotiation, err = configx.New[negotiation.Config]("NEGOTIATION"); err != nil {
		return nil, err
	}
	if a.payment, err = configx.New[payment.Config]("PAYMENT"); err != nil {
		return nil, err
	}
	if a.server, err = configx.New[server.Config]("SERVER"); err != nil {
		return nil, err
	}
	if a.ledger, err = configx.New[ledger.Config]("LEDGER"); err != nil {
		return nil, err
	}
	if err := a.ledger.Validate(); err != nil {
		return nil, err
	}
	if a.upstash, err = configx.New[ledger.UpstashRedisConfig]("UPSTASH_REDIS"); err != nil {
		return nil, err
	}
	if a.postgres, err = configx.New[ledger.PostgresConfig]("POSTGRES"); err != nil {
		return nil, err
	}
	if a.qstash, err = configx.New[qstashx.Config]("QSTASH"); err != nil {
		return nil, err
	}

	traceCfg, err := configx.New[observability.TraceConfig]("OTEL")
	if err != nil {
		return nil, err
	}
	shutdown, err := observability.InitTracing(ctx, *traceCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)
	return a, nil
}

// Close releases everything opened by the app, newest first.
func (a *app) Close() {
	ctx := context.Background()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Warn().Err(err).Msg("shutdown step failed")
		}
	}
}

// chatModel builds the OpenRouter model for role. With strict set, a failed
// preflight is fatal; otherwise it is only logged.
func (a *app) chatModel(ctx context.Context, role contractx.Role, strict bool) (einomodel.ToolCallingChatModel, error) {
	if err := a.llm.Validate(); err != nil {
		return nil, err
	}
	orCfg := a.llm.OpenRouterFor(role)
	if err := openrouterx.Preflight(ctx, openrouterx.NewClient(orCfg), orCfg.Model); err != nil {
		if strict {
			return nil, err
		}
		log.Warn().Err(err).Str("role", string(role)).Msg("model preflight failed")
	}
	return orCfg.New(ctx)
}

// buyerAgent wires the buyer runtime to the payment-capability network.
func (a *app) buyerAgent(ctx context.Context, strict bool) (contractx.Agent, error) {
	if err := a.llm.Validate(); err != nil {
		return nil, err
	}
	if err := a.locus.Validate(); err != nil {
		return nil, err
	}

	client, err := mcp.NewClient(a.locus.MCPConfig(), logx.Component("mcp"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect payment network: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	info := client.ServerInfo()
	log.Info().Str("server", info.Name).Str("version", info.Version).Int("tools", len(client.Tools())).Msg("payment network connected")

	model, err := a.chatModel(ctx, contractx.RoleBuyer, strict)
	if err != nil {
		return nil, err
	}

	ns := a.locus.NamespacePrefix()
	rt, err := runtimex.New(model,
		runtimex.WithTools(runtimex.PaymentTools(ns), runtimex.NewMCPExecutor(ns, client)),
		runtimex.WithServerName(strings.TrimSpace(a.locus.ServerName)),
		runtimex.WithMaxSteps(a.locus.MaxSteps),
		runtimex.WithLogger(logx.Component("runtime").With().Str("role", "buyer").Logger()),
	)
	if err != nil {
		return nil, err
	}

	return interpreter.New("buyer", rt,
		interpreter.WithAllowedTools(a.locus.AllowedTools()...),
		interpreter.WithAuthorizer(runtimex.NamespaceAuthorizer(ns, logx.Component("authorizer"), a.metrics)),
		interpreter.WithMetrics(a.metrics),
	)
}

// platformAgent talks only; every tool request is denied.
func (a *app) platformAgent(ctx context.Context) (contractx.Agent, error) {
	model, err := a.chatModel(ctx, contractx.RolePlatform, true)
	if err != nil {
		return nil, err
	}
	rt, err := runtimex.New(model,
		runtimex.WithLogger(logx.Component("runtime").With().Str("role", "platform").Logger()),
	)
	if err != nil {
		return nil, err
	}
	return interpreter.New("platform", rt,
		interpreter.WithAuthorizer(runtimex.DenyAll("The platform agent does not use tools")),
		interpreter.WithMetrics(a.metrics),
	)
}

func (a *app) newLedger(ctx context.Context) (ledger.Ledger, error) {
	switch strings.ToLower(strings.TrimSpace(a.ledger.Backend)) {
	case "upstash":
		l, err := ledger.NewUpstashLedger(*a.upstash, ledger.WithTTL(a.ledger.TTL))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
		}
		return l, nil
	case "postgres":
		db, err := ledger.OpenPostgres(*a.postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		l, err := ledger.NewPostgresLedger(db, a.ledger.TTL)
		if err != nil {
			return nil, err
		}
		if err := l.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return l, nil
	default:
		return ledger.NewMemoryLedger(a.ledger.TTL), nil
	}
}

func (a *app) receiptPublisher() (server.ReceiptPublisher, error) {
	if !a.qstash.Enabled() {
		return nil, nil
	}
	client, err := qstashx.NewClient(*a.qstash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
	}
	return client, nil
}
