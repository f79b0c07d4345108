// Package server exposes the payment engine over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/ledger"
	logx "github.com/tanpawarit/agentpay/pkg/logger"
	"github.com/tanpawarit/agentpay/pkg/observability"
	"github.com/tanpawarit/agentpay/pkg/qstash"
)

const serviceName = "agentpay-payment-api"

// ReceiptPublisher is the subset of the QStash client used for receipts.
type ReceiptPublisher interface {
	Publish(ctx context.Context, payload any, opts ...qstash.PublishOption) (qstash.PublishResponse, error)
}

type Server struct {
	cfg       Config
	executor  contractx.PaymentExecutor
	configErr error
	ledger    ledger.Ledger
	publisher ReceiptPublisher
	metrics   *observability.Metrics
	gatherer  prometheus.Gatherer
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Server)

func WithExecutor(exec contractx.PaymentExecutor) Option {
	return func(s *Server) { s.executor = exec }
}

// WithConfigurationError makes every payment request fail with 500 before
// any agent call, while health and metrics keep working.
func WithConfigurationError(err error) Option {
	return func(s *Server) { s.configErr = err }
}

func WithLedger(l ledger.Ledger) Option {
	return func(s *Server) { s.ledger = l }
}

func WithPublisher(p ReceiptPublisher) Option {
	return func(s *Server) { s.publisher = p }
}

func WithMetrics(m *observability.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(cfg Config, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig.MaxBodyBytes
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultConfig.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig.ShutdownTimeout
	}
	s := &Server{
		cfg:    cfg,
		logger: logx.Component("server"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ledger == nil {
		s.ledger = ledger.NewMemoryLedger(ledger.DefaultTTL)
	}
	if s.executor == nil && s.configErr == nil {
		s.configErr = errors.New("payment executor not configured")
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /payment", s.handlePayment)
	mux.HandleFunc("POST /api/payment", s.handlePayment)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return s.instrument(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", listener.Addr().String()).Msg("payment api listening")
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("http server shutdown error")
		return err
	}
	s.logger.Info().Msg("payment api stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		s.metrics.HTTPRequest(r.Method, path, rec.status, time.Since(start))
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
