// Command agentpay negotiates food orders between a buyer agent and a
// platform agent and settles agreed orders through a payment-capability
// network, either from the command line or behind an HTTP payment API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/interpreter"
	"github.com/tanpawarit/agentpay/agent/negotiation"
	"github.com/tanpawarit/agentpay/agent/payment"
	"github.com/tanpawarit/agentpay/agent/stream"
	"github.com/tanpawarit/agentpay/agent/txid"
	configx "github.com/tanpawarit/agentpay/pkg/config"
	logx "github.com/tanpawarit/agentpay/pkg/logger"
	_ "github.com/tanpawarit/agentpay/pkg/logger/autoload"
	"github.com/tanpawarit/agentpay/server"
)

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "agentpay",
		Short:         "Agent-to-agent negotiation and payment orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return nil
			}
			configx.SetEnvFile(envFile)
			// autoload ran before flags were parsed; pick up LOG_* from the file.
			logCfg, err := configx.New[logx.Config]("LOG")
			if err != nil {
				return err
			}
			logx.Init(*logCfg)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to a .env file (default: ./.env when present)")
	rootCmd.AddCommand(buildServeCmd(), buildNegotiateCmd(), buildReplayCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		cancel()
		os.Exit(1)
	}
}

func buildServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP payment API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides SERVER_ADDR)")
	return cmd
}

func buildNegotiateCmd() *cobra.Command {
	var (
		maxTurns    int
		skipPayment bool
	)
	cmd := &cobra.Command{
		Use:   "negotiate",
		Short: "Run one buyer/platform negotiation and pay for the agreed order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNegotiate(cmd.Context(), cmd, maxTurns, skipPayment)
		},
	}
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Negotiation round cap (overrides NEGOTIATION_MAX_TURNS)")
	cmd.Flags().BoolVar(&skipPayment, "skip-payment", false, "Stop after the negotiation")
	return cmd
}

func buildReplayCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reduce a recorded NDJSON agent session to a turn result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd, file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "NDJSON capture to replay (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if addr != "" {
		app.server.Addr = addr
	}

	opts := []server.Option{
		server.WithMetrics(app.metrics, app.registry),
		server.WithLogger(logx.Component("server")),
	}

	buyer, err := app.buyerAgent(ctx, false)
	switch {
	case errors.Is(err, contractx.ErrConfiguration):
		log.Warn().Err(err).Msg("payment api starting without a payment executor")
		opts = append(opts, server.WithConfigurationError(err))
	case err != nil:
		return err
	default:
		engine, err := payment.New(ctx, buyer, *app.payment,
			payment.WithMetrics(app.metrics),
			payment.WithLogger(logx.Component("payment")),
		)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithExecutor(engine))
	}

	l, err := app.newLedger(ctx)
	if err != nil {
		return err
	}
	opts = append(opts, server.WithLedger(l))

	if pub, err := app.receiptPublisher(); err != nil {
		return err
	} else if pub != nil {
		opts = append(opts, server.WithPublisher(pub))
	}

	return server.New(*app.server, opts...).Run(ctx)
}

func runNegotiate(ctx context.Context, cmd *cobra.Command, maxTurns int, skipPayment bool) error {
	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	buyer, err := app.buyerAgent(ctx, true)
	if err != nil {
		return err
	}
	platform, err := app.platformAgent(ctx)
	if err != nil {
		return err
	}

	negCfg := *app.negotiation
	if maxTurns > 0 {
		negCfg.MaxTurns = maxTurns
	}
	out := cmd.OutOrStdout()
	orch, err := negotiation.New(buyer, platform, negCfg,
		negotiation.WithMetrics(app.metrics),
		negotiation.WithLogger(logx.Component("negotiation")),
		negotiation.WithObserver(func(turn contractx.ConversationTurn) {
			fmt.Fprintf(out, "\n[%d] %s:\n%s\n", turn.Seq, strings.ToUpper(string(turn.Role)), turn.Text)
		}),
	)
	if err != nil {
		return err
	}

	res, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nNegotiation %s after %d exchanges (%d turns)\n", res.State, res.Exchanges, len(res.History))
	if res.State != negotiation.StateAgreed {
		return nil
	}
	item := res.Agreement.Item
	if item == "" {
		item = "order"
	}
	if res.Agreement.Price == nil {
		fmt.Fprintf(out, "Agreed on %s, but no price was stated; skipping payment\n", item)
		return nil
	}
	price := *res.Agreement.Price
	fmt.Fprintf(out, "Agreed: %s for $%s\n", item, payment.FormatAmount(price))
	if skipPayment {
		return nil
	}

	receiver := strings.TrimSpace(app.locus.WalletAddressReceiver)
	if receiver == "" {
		return fmt.Errorf("%w: LOCUS_WALLET_ADDRESS_RECEIVER not configured", contractx.ErrConfiguration)
	}
	engine, err := payment.New(ctx, buyer, *app.payment,
		payment.WithMetrics(app.metrics),
		payment.WithLogger(logx.Component("payment")),
	)
	if err != nil {
		return err
	}
	outcome, err := engine.Execute(ctx, contractx.PaymentRequest{
		Amount:           price,
		RecipientAddress: receiver,
		Memo:             fmt.Sprintf("Payment for %s - Order #%s", item, uuid.NewString()),
		Item:             res.Agreement.Item,
	})
	if err != nil {
		return err
	}

	status := "FAILED"
	if outcome.Success {
		status = "SUCCESS"
	}
	fmt.Fprintf(out, "Payment %s: %s\n", status, outcome.Message)
	if outcome.TransactionID != "" {
		fmt.Fprintf(out, "Transaction ID: %s\n", outcome.TransactionID)
	}
	if !outcome.Success {
		return errors.New("payment was not confirmed")
	}
	return nil
}

func runReplay(ctx context.Context, cmd *cobra.Command, file string) error {
	in := cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		in = f
	}

	reader := stream.NewNDJSONReader(in)
	result, err := interpreter.Reduce(ctx, reader, logx.Component("replay"))
	if err != nil {
		return err
	}

	report := struct {
		contractx.AgentTurnResult
		TransactionID string `json:"transaction_id,omitempty"`
	}{AgentTurnResult: result}
	report.TransactionID, _ = txid.Extract(result.ResponseText)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
