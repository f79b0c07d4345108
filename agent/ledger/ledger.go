// Package ledger binds a payment request to at most one external transfer
// within a time window.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/agentpay/agent/contract"
)

var (
	ErrInFlight   = errors.New("payment with this idempotency key is already in flight")
	ErrInvalidKey = errors.New("idempotency key is empty")
)

const DefaultTTL = 10 * time.Minute

// Receipt is the record of a completed payment. It is replayed for duplicate
// requests and published to the receipt queue.
type Receipt struct {
	Key              string             `json:"idempotency_key"`
	TransactionID    string             `json:"transaction_id"`
	Amount           float64            `json:"amount"`
	Recipient        string             `json:"recipient"`
	RecipientAddress string             `json:"recipient_address"`
	Memo             string             `json:"memo,omitempty"`
	Message          string             `json:"message"`
	Evidence         contractx.Evidence `json:"evidence"`
	Timestamp        time.Time          `json:"timestamp"`
}

// Ledger reserves a key before a payment runs and records the result after.
//
// Reserve returns (nil, nil) when the caller now owns the key, a receipt when
// the key already completed, or ErrInFlight while another caller owns it.
// Complete stores the receipt for the key; Release gives the key back after a
// failed payment.
type Ledger interface {
	Reserve(ctx context.Context, key string) (*Receipt, error)
	Complete(ctx context.Context, key string, receipt Receipt) error
	Release(ctx context.Context, key string) error
}

type status string

const (
	statusPending   status = "pending"
	statusCompleted status = "completed"
)

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/tanpawarit/agentpay/payment"))

// Key derives a stable idempotency key from the request content. The memo is
// taken as sent, before any default is filled in.
func Key(req contractx.PaymentRequest, recipient string) string {
	parts := []string{
		strconv.FormatFloat(req.Amount, 'f', 2, 64),
		strings.ToLower(strings.TrimSpace(req.RecipientAddress)),
		strings.TrimSpace(req.Memo),
		strings.TrimSpace(recipient),
	}
	return uuid.NewSHA1(keyNamespace, []byte(strings.Join(parts, "|"))).String()
}

func validKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	return key, nil
}

// Config selects and tunes a backend.
type Config struct {
	Backend string        `default:"memory"`
	TTL     time.Duration `default:"10m"`
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", "memory", "upstash", "postgres":
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", contractx.ErrConfiguration, c.Backend)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: ledger ttl must be >= 0", contractx.ErrConfiguration)
	}
	return nil
}
