package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/ledger"
	"github.com/tanpawarit/agentpay/pkg/qstash"
)

const idempotencyHeader = "Idempotency-Key"

const (
	completeAttempts = 3
	completeBackoff  = 50 * time.Millisecond
)

type successResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Recipient     string `json:"recipient"`
	Timestamp     string `json:"timestamp"`
	Message       string `json:"message"`
}

type errorResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	ToolsCalled []string `json:"tools_called,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large or unreadable", nil)
		return
	}
	body, err := decodePaymentBody(raw)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, contractx.ErrValidation) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error(), nil)
		return
	}

	if s.configErr != nil {
		s.logger.Error().Err(s.configErr).Msg("payment rejected: configuration error")
		writeError(w, http.StatusInternalServerError, configMessage(s.configErr), nil)
		return
	}

	req := contractx.PaymentRequest{
		Amount:           body.Amount,
		RecipientAddress: strings.TrimSpace(body.RecipientAddress),
		Memo:             strings.TrimSpace(body.Memo),
	}
	recipient := strings.TrimSpace(body.Recipient)

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		key = ledger.Key(req, recipient)
	}
	log := s.logger.With().Str("idempotency_key", key).Logger()

	existing, err := s.ledger.Reserve(ctx, key)
	switch {
	case errors.Is(err, ledger.ErrInFlight):
		writeError(w, http.StatusConflict, "a payment with the same idempotency key is already in progress", nil)
		return
	case err != nil:
		log.Error().Err(err).Msg("idempotency ledger unavailable")
		writeError(w, http.StatusInternalServerError, "idempotency ledger unavailable", nil)
		return
	case existing != nil:
		log.Info().Str("transaction_id", existing.TransactionID).Msg("replaying completed payment")
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, http.StatusOK, receiptResponse(*existing))
		return
	}

	if req.Memo == "" {
		target := recipient
		if target == "" {
			target = "order"
		}
		req.Memo = fmt.Sprintf("Payment for %s - Order #%s", target, uuid.NewString())
	}
	if recipient == "" {
		recipient = "Unknown"
	}

	log.Info().
		Str("amount", strconv.FormatFloat(req.Amount, 'f', 2, 64)).
		Str("recipient_address", req.RecipientAddress).
		Str("memo", req.Memo).
		Msg("processing payment")

	out, err := s.executor.Execute(ctx, req)
	if err != nil {
		s.release(ctx, key)
		status := http.StatusInternalServerError
		if errors.Is(err, contractx.ErrValidation) {
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Msg("payment execution failed")
		writeError(w, status, err.Error(), nil)
		return
	}

	if !out.Success || (s.cfg.RequireTransactionID && out.TransactionID == "") {
		s.release(ctx, key)
		log.Warn().Str("message", out.Message).Strs("tools", out.ToolNames()).Msg("payment not confirmed")
		writeError(w, http.StatusBadRequest, out.Message, out.ToolNames())
		return
	}

	receipt := ledger.Receipt{
		Key:              key,
		TransactionID:    out.TransactionID,
		Amount:           req.Amount,
		Recipient:        recipient,
		RecipientAddress: req.RecipientAddress,
		Memo:             req.Memo,
		Message:          out.Message,
		Evidence:         out.Evidence,
		Timestamp:        s.now().UTC(),
	}
	s.record(ctx, key, receipt)
	s.publish(ctx, receipt)

	log.Info().Str("transaction_id", out.TransactionID).Str("evidence", string(out.Evidence)).Msg("payment confirmed")
	writeJSON(w, http.StatusOK, receiptResponse(receipt))
}

// record marks key completed. The money has already moved, so the write is
// retried past client cancellation; a key left pending answers 409 until its
// TTL runs out.
func (s *Server) record(ctx context.Context, key string, receipt ledger.Receipt) {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if err = s.ledger.Complete(ctx, key, receipt); err == nil {
			return
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Str("idempotency_key", key).Msg("failed to record payment receipt")
		if attempt < completeAttempts {
			time.Sleep(time.Duration(attempt) * completeBackoff)
		}
	}
	s.logger.Error().Err(err).
		Str("idempotency_key", key).
		Str("transaction_id", receipt.TransactionID).
		Msg("payment receipt not recorded; retries with this key will be rejected as in flight until the reservation expires")
}

func (s *Server) release(ctx context.Context, key string) {
	if err := s.ledger.Release(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn().Err(err).Str("idempotency_key", key).Msg("failed to release idempotency key")
	}
}

// publish sends the receipt to the queue; failures are logged only.
func (s *Server) publish(ctx context.Context, receipt ledger.Receipt) {
	if s.publisher == nil {
		return
	}
	resp, err := s.publisher.Publish(context.WithoutCancel(ctx), receipt, qstash.WithDeduplicationID(receipt.Key))
	if err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", receipt.TransactionID).Msg("failed to publish receipt")
		return
	}
	s.logger.Debug().Str("message_id", resp.MessageID).Bool("deduplicated", resp.Deduplicated).Msg("receipt published")
}

func receiptResponse(r ledger.Receipt) successResponse {
	return successResponse{
		Status:        "success",
		TransactionID: r.TransactionID,
		Amount:        strconv.FormatFloat(r.Amount, 'f', -1, 64),
		Recipient:     r.Recipient,
		Timestamp:     r.Timestamp.UTC().Format(time.RFC3339Nano),
		Message:       r.Message,
	}
}

// configMessage strips the sentinel prefix so clients see "<VAR> not configured".
func configMessage(err error) string {
	msg := err.Error()
	return strings.TrimPrefix(msg, contractx.ErrConfiguration.Error()+": ")
}

func writeError(w http.ResponseWriter, status int, message string, tools []string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: message, ToolsCalled: tools})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
