package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultKeyPrefix     = "agentpay:payment:"
	maxResponseSizeBytes = 2 << 20
)

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// StoreOption customizes UpstashLedger.
type StoreOption func(*UpstashLedger)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashLedger) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashLedger) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashLedger) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashLedger keeps reservations in Upstash Redis via its REST API.
// Reserve relies on SET NX, so concurrent processes share one ledger.
type UpstashLedger struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ Ledger = (*UpstashLedger)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type redisRecord struct {
	Status  status   `json:"status"`
	Receipt *Receipt `json:"receipt,omitempty"`
}

func NewUpstashLedger(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashLedger, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashLedger{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultKeyPrefix,
		ttl:        DefaultTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.ttl <= 0 {
		return nil, errors.New("ttl must be > 0")
	}
	return store, nil
}

func (s *UpstashLedger) Reserve(ctx context.Context, key string) (*Receipt, error) {
	redisKey, err := s.redisKey(key)
	if err != nil {
		return nil, err
	}
	pending, err := json.Marshal(redisRecord{Status: statusPending})
	if err != nil {
		return nil, fmt.Errorf("marshal ledger record: %w", err)
	}

	resp, err := s.exec(ctx, []any{"SET", redisKey, string(pending), "NX", "EX", ttlSeconds(s.ttl)})
	if err != nil {
		return nil, err
	}
	if !isNull(resp.Result) {
		return nil, nil
	}

	record, err := s.load(ctx, redisKey)
	if err != nil {
		return nil, err
	}
	if record == nil {
		// Expired between SET and GET; the next attempt may claim it.
		return nil, ErrInFlight
	}
	if record.Status == statusCompleted && record.Receipt != nil {
		return record.Receipt, nil
	}
	return nil, ErrInFlight
}

func (s *UpstashLedger) Complete(ctx context.Context, key string, receipt Receipt) error {
	redisKey, err := s.redisKey(key)
	if err != nil {
		return err
	}
	receipt.Key = strings.TrimSpace(key)
	payload, err := json.Marshal(redisRecord{Status: statusCompleted, Receipt: &receipt})
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}
	_, err = s.exec(ctx, []any{"SET", redisKey, string(payload), "EX", ttlSeconds(s.ttl)})
	return err
}

func (s *UpstashLedger) Release(ctx context.Context, key string) error {
	redisKey, err := s.redisKey(key)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", redisKey})
	return err
}

func (s *UpstashLedger) load(ctx context.Context, redisKey string) (*redisRecord, error) {
	resp, err := s.exec(ctx, []any{"GET", redisKey})
	if err != nil {
		return nil, err
	}
	if isNull(resp.Result) {
		return nil, nil
	}
	var encoded string
	if err := json.Unmarshal(resp.Result, &encoded); err != nil {
		return nil, fmt.Errorf("decode ledger payload: %w", err)
	}
	var record redisRecord
	if err := json.Unmarshal([]byte(encoded), &record); err != nil {
		return nil, fmt.Errorf("unmarshal ledger record: %w", err)
	}
	return &record, nil
}

func (s *UpstashLedger) redisKey(key string) (string, error) {
	key, err := validKey(key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s.keyPrefix) + key, nil
}

func (s *UpstashLedger) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil ledger")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
