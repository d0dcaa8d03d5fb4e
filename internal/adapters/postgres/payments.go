package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

const (
	uniqueViolation          = "23505"
	idempotencyKeyConstraint = "payments_idempotency_key_key"
)

type PaymentRepository struct {
	db DB
}

func NewPaymentRepository(db DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Save upserts the payment and appends its pending events to the outbox in
// one transaction.
func (r *PaymentRepository) Save(ctx context.Context, p *domain.Payment) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := upsertPayment(ctx, tx, p); err != nil {
			return err
		}
		return writeOutboxEvents(ctx, tx, p)
	})
}

func upsertPayment(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	const q = `
		INSERT INTO payments (
			id, user_id, order_id, gateway_payment_id, signature,
			amount, currency, description, receipt,
			status, method,
			customer_email, customer_phone, customer_name,
			notes, error_message, idempotency_key,
			created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		ON CONFLICT (id) DO UPDATE SET
			gateway_payment_id = EXCLUDED.gateway_payment_id,
			signature          = EXCLUDED.signature,
			status             = EXCLUDED.status,
			method             = EXCLUDED.method,
			error_message      = EXCLUDED.error_message,
			updated_at         = EXCLUDED.updated_at,
			version            = EXCLUDED.version
		WHERE
			-- optimistic lock: the stored row must be exactly one version behind
			payments.version = EXCLUDED.version - 1
	`

	c := p.Customer()
	tag, err := tx.Exec(ctx, q,
		p.ID().String(),
		p.UserID(),
		p.OrderID(),
		nullIfEmpty(p.GatewayPaymentID()),
		p.Signature(),
		p.Amount().Amount(),
		p.Amount().Currency(),
		p.Description(),
		p.Receipt(),
		string(p.Status()),
		p.Method(),
		c.Email,
		c.Phone,
		c.Name,
		p.Notes(),
		p.ErrorMessage(),
		nullIfEmpty(p.IdempotencyKey()),
		p.CreatedAt(),
		p.UpdatedAt(),
		p.Version(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == idempotencyKeyConstraint {
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("upsert payment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func writeOutboxEvents(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	events := p.PopEvents()
	if len(events) == 0 {
		return nil
	}

	const q = `
		INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, NOW())
	`

	for _, evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", domain.EventType(evt), err)
		}
		if _, err := tx.Exec(ctx, q, p.ID().String(), domain.EventType(evt), payload); err != nil {
			return fmt.Errorf("insert outbox event %s: %w", domain.EventType(evt), err)
		}
	}
	return nil
}

const selectPayment = `
	SELECT id::text, user_id, order_id, COALESCE(gateway_payment_id, ''), signature,
	       amount, currency, description, receipt, status, method,
	       customer_email, customer_phone, customer_name,
	       notes, error_message, COALESCE(idempotency_key, ''),
	       created_at, updated_at, version
	FROM payments
`

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, selectPayment+`WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, selectPayment+`WHERE order_id = $1`, orderID))
}

func (r *PaymentRepository) FindByGatewayPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, selectPayment+`WHERE gateway_payment_id = $1`, paymentID))
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Payment, error) {
	rows, err := r.db.Query(ctx, selectPayment+`WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query payments by user: %w", err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		s        domain.PaymentSnapshot
		rawID    string
		amount   int64
		currency string
		status   string
	)

	err := row.Scan(
		&rawID, &s.UserID, &s.OrderID, &s.GatewayPaymentID, &s.Signature,
		&amount, &currency, &s.Description, &s.Receipt, &status, &s.Method,
		&s.Customer.Email, &s.Customer.Phone, &s.Customer.Name,
		&s.Notes, &s.ErrorMessage, &s.IdempotencyKey,
		&s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan payment row: %w", err)
	}

	if s.ID, err = domain.ParsePaymentID(rawID); err != nil {
		return nil, fmt.Errorf("parse stored payment ID: %w", err)
	}
	if s.Amount, err = domain.NewMoney(amount, currency); err != nil {
		return nil, fmt.Errorf("parse stored money: %w", err)
	}
	s.Status = domain.PaymentStatus(status)
	s.CreatedAt = s.CreatedAt.In(time.UTC)
	s.UpdatedAt = s.UpdatedAt.In(time.UTC)

	return domain.Reconstitute(s), nil
}
