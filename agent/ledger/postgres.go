package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN string `envconfig:"DSN"`
}

type receiptRow struct {
	bun.BaseModel `bun:"table:payment_receipts,alias:pr"`

	IdempotencyKey string    `bun:"idempotency_key,pk"`
	Status         string    `bun:"status,notnull"`
	Receipt        string    `bun:"receipt,type:jsonb,nullzero"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	ExpiresAt      time.Time `bun:"expires_at,notnull"`
}

// PostgresLedger keeps reservations in a payment_receipts table. The primary
// key on idempotency_key makes Reserve atomic across processes.
type PostgresLedger struct {
	db  *bun.DB
	ttl time.Duration
	now func() time.Time
}

var _ Ledger = (*PostgresLedger)(nil)

// OpenPostgres connects through pgdriver.
func OpenPostgres(cfg PostgresConfig) (*bun.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func NewPostgresLedger(db *bun.DB, ttl time.Duration) (*PostgresLedger, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostgresLedger{db: db, ttl: ttl, now: time.Now}, nil
}

func (p *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.NewCreateTable().Model((*receiptRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create payment_receipts: %w", err)
	}
	return nil
}

func (p *PostgresLedger) Reserve(ctx context.Context, key string) (*Receipt, error) {
	key, err := validKey(key)
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()

	if _, err := p.db.NewDelete().
		Model((*receiptRow)(nil)).
		Where("idempotency_key = ?", key).
		Where("expires_at <= ?", now).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("expire reservation: %w", err)
	}

	row := &receiptRow{
		IdempotencyKey: key,
		Status:         string(statusPending),
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.ttl),
	}
	res, err := p.db.NewInsert().
		Model(row).
		On("CONFLICT (idempotency_key) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil, nil
	}

	existing := new(receiptRow)
	if err := p.db.NewSelect().Model(existing).Where("idempotency_key = ?", key).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInFlight
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	if existing.Status != string(statusCompleted) || existing.Receipt == "" {
		return nil, ErrInFlight
	}
	var receipt Receipt
	if err := json.Unmarshal([]byte(existing.Receipt), &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}

func (p *PostgresLedger) Complete(ctx context.Context, key string, receipt Receipt) error {
	key, err := validKey(key)
	if err != nil {
		return err
	}
	receipt.Key = key
	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	now := p.now().UTC()
	row := &receiptRow{
		IdempotencyKey: key,
		Status:         string(statusCompleted),
		Receipt:        string(payload),
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.ttl),
	}
	if _, err := p.db.NewInsert().
		Model(row).
		On("CONFLICT (idempotency_key) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("receipt = EXCLUDED.receipt").
		Set("expires_at = EXCLUDED.expires_at").
		Returning("NULL").
		Exec(ctx); err != nil {
		return fmt.Errorf("store receipt: %w", err)
	}
	return nil
}

func (p *PostgresLedger) Release(ctx context.Context, key string) error {
	key, err := validKey(key)
	if err != nil {
		return err
	}
	if _, err := p.db.NewDelete().
		Model((*receiptRow)(nil)).
		Where("idempotency_key = ?", key).
		Exec(ctx); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}
