package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultCurrency = "INR"

type PaymentID struct{ value string }

func NewPaymentID() PaymentID { return PaymentID{value: uuid.New().String()} }

func ParsePaymentID(s string) (PaymentID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return PaymentID{}, fmt.Errorf("invalid payment ID: %q", s)
	}
	return PaymentID{value: s}, nil
}

func (id PaymentID) String() string { return id.value }

// Money is an amount in the currency's smallest unit (paise for INR).
type Money struct {
	amount   int64
	currency string
}

func NewMoney(amount int64, currency string) (Money, error) {
	if amount <= 0 {
		return Money{}, fmt.Errorf("amount must be positive, got %d", amount)
	}
	c := strings.ToUpper(strings.TrimSpace(currency))
	if c == "" {
		c = DefaultCurrency
	}
	if len(c) != 3 {
		return Money{}, fmt.Errorf("currency must be a 3-letter, got %q", c)
	}
	return Money{amount: amount, currency: c}, nil
}

func (m Money) Amount() int64    { return m.amount }
func (m Money) Currency() string { return m.currency }
func (m Money) String() string   { return fmt.Sprintf("%d %s", m.amount, m.currency) }

// Major formats the amount in major units, 49900 INR -> "499.00".
func (m Money) Major() string {
	return fmt.Sprintf("%d.%02d", m.amount/100, m.amount%100)
}

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusAuthorized PaymentStatus = "AUTHORIZED"
	StatusCaptured   PaymentStatus = "CAPTURED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusRefunded   PaymentStatus = "REFUNDED"
	StatusCancelled  PaymentStatus = "CANCELLED"
)

var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusAuthorized, StatusCaptured, StatusFailed, StatusCancelled},
	StatusAuthorized: {StatusCaptured, StatusFailed},
	StatusCaptured:   {StatusRefunded},
	StatusFailed:     {StatusCaptured},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Customer struct {
	Email string
	Phone string
	Name  string
}

type Event interface {
	eventType() string
}

type PaymentInitiated struct {
	PaymentID  string
	OrderID    string
	UserID     string
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

type PaymentCaptured struct {
	PaymentID        string
	OrderID          string
	GatewayPaymentID string
	Method           string
	Amount           int64
	Currency         string
	OccurredAt       time.Time
}

type PaymentFailed struct {
	PaymentID  string
	OrderID    string
	Reason     string
	OccurredAt time.Time
}

type PaymentRefunded struct {
	PaymentID        string
	GatewayPaymentID string
	Amount           int64
	Reason           string
	OccurredAt       time.Time
}

func (e PaymentInitiated) eventType() string { return "payment.initiated" }
func (e PaymentCaptured) eventType() string  { return "payment.captured" }
func (e PaymentFailed) eventType() string    { return "payment.failed" }
func (e PaymentRefunded) eventType() string  { return "payment.refunded" }

func EventType(e Event) string { return e.eventType() }

type Payment struct {
	id               PaymentID
	userID           string
	orderID          string // gateway order id
	gatewayPaymentID string
	signature        string
	amount           Money
	description      string
	receipt          string
	status           PaymentStatus
	method           string
	customer         Customer
	notes            string
	errorMessage     string
	idempotencyKey   string // empty when the client sent none
	createdAt        time.Time
	updatedAt        time.Time

	version int

	events []Event
}

type NewPaymentParams struct {
	UserID         string
	OrderID        string
	Amount         Money
	Description    string
	Receipt        string
	Customer       Customer
	Notes          string
	IdempotencyKey string
}

func NewPayment(p NewPaymentParams) (*Payment, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, errors.New("userID is required")
	}
	if strings.TrimSpace(p.OrderID) == "" {
		return nil, errors.New("orderID is required")
	}

	now := time.Now().UTC()
	pay := &Payment{
		id:             NewPaymentID(),
		userID:         p.UserID,
		orderID:        p.OrderID,
		amount:         p.Amount,
		description:    p.Description,
		receipt:        p.Receipt,
		status:         StatusPending,
		customer:       p.Customer,
		notes:          p.Notes,
		idempotencyKey: p.IdempotencyKey,
		createdAt:      now,
		updatedAt:      now,
		version:        1,
	}

	pay.events = append(pay.events, PaymentInitiated{
		PaymentID:  pay.id.String(),
		OrderID:    p.OrderID,
		UserID:     p.UserID,
		Amount:     p.Amount.Amount(),
		Currency:   p.Amount.Currency(),
		OccurredAt: now,
	})

	return pay, nil
}

func (p *Payment) ID() PaymentID            { return p.id }
func (p *Payment) UserID() string           { return p.userID }
func (p *Payment) OrderID() string          { return p.orderID }
func (p *Payment) GatewayPaymentID() string { return p.gatewayPaymentID }
func (p *Payment) Signature() string        { return p.signature }
func (p *Payment) Amount() Money            { return p.amount }
func (p *Payment) Description() string      { return p.description }
func (p *Payment) Receipt() string          { return p.receipt }
func (p *Payment) Status() PaymentStatus    { return p.status }
func (p *Payment) Method() string           { return p.method }
func (p *Payment) Customer() Customer       { return p.customer }
func (p *Payment) Notes() string            { return p.notes }
func (p *Payment) ErrorMessage() string     { return p.errorMessage }
func (p *Payment) IdempotencyKey() string   { return p.idempotencyKey }
func (p *Payment) CreatedAt() time.Time     { return p.createdAt }
func (p *Payment) UpdatedAt() time.Time     { return p.updatedAt }
func (p *Payment) Version() int             { return p.version }

// ReceiptEmail is the address receipts go to: the customer email, or the
// user id when that is itself an email address.
func (p *Payment) ReceiptEmail() string {
	if p.customer.Email != "" {
		return p.customer.Email
	}
	if strings.Contains(p.userID, "@") {
		return p.userID
	}
	return ""
}

func (p *Payment) PopEvents() []Event {
	events := p.events
	p.events = nil
	return events
}

func (p *Payment) transition(next PaymentStatus) error {
	if !p.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.status, next)
	}
	p.status = next
	p.updatedAt = time.Now().UTC()
	p.version++
	return nil
}

// Capture records a verified gateway payment against this order.
func (p *Payment) Capture(gatewayPaymentID, signature string) error {
	if strings.TrimSpace(gatewayPaymentID) == "" {
		return errors.New("gateway payment ID is required")
	}
	if err := p.transition(StatusCaptured); err != nil {
		return err
	}
	p.gatewayPaymentID = gatewayPaymentID
	p.signature = signature
	p.errorMessage = ""

	p.events = append(p.events, PaymentCaptured{
		PaymentID:        p.id.String(),
		OrderID:          p.orderID,
		GatewayPaymentID: gatewayPaymentID,
		Amount:           p.amount.Amount(),
		Currency:         p.amount.Currency(),
		OccurredAt:       p.updatedAt,
	})
	return nil
}

// SetMethod fills the gateway-reported method after capture.
func (p *Payment) SetMethod(method string) {
	p.method = method
	for i, evt := range p.events {
		if c, ok := evt.(PaymentCaptured); ok {
			c.Method = method
			p.events[i] = c
		}
	}
}

func (p *Payment) Fail(reason string) error {
	if err := p.transition(StatusFailed); err != nil {
		return err
	}
	p.errorMessage = reason
	p.events = append(p.events, PaymentFailed{
		PaymentID:  p.id.String(),
		OrderID:    p.orderID,
		Reason:     reason,
		OccurredAt: p.updatedAt,
	})
	return nil
}

func (p *Payment) Refund(amount int64, reason string) error {
	if amount <= 0 || amount > p.amount.Amount() {
		return &ValidationError{Field: "refundAmount", Message: fmt.Sprintf("must be between 1 and %d", p.amount.Amount())}
	}
	if err := p.transition(StatusRefunded); err != nil {
		return err
	}
	p.errorMessage = "Refund requested - Reason: " + reason
	p.events = append(p.events, PaymentRefunded{
		PaymentID:        p.id.String(),
		GatewayPaymentID: p.gatewayPaymentID,
		Amount:           amount,
		Reason:           reason,
		OccurredAt:       p.updatedAt,
	})
	return nil
}

func (p *Payment) Cancel() error {
	return p.transition(StatusCancelled)
}

type PaymentSnapshot struct {
	ID               PaymentID
	UserID           string
	OrderID          string
	GatewayPaymentID string
	Signature        string
	Amount           Money
	Description      string
	Receipt          string
	Status           PaymentStatus
	Method           string
	Customer         Customer
	Notes            string
	ErrorMessage     string
	IdempotencyKey   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int
}

func Reconstitute(s PaymentSnapshot) *Payment {
	return &Payment{
		id:               s.ID,
		userID:           s.UserID,
		orderID:          s.OrderID,
		gatewayPaymentID: s.GatewayPaymentID,
		signature:        s.Signature,
		amount:           s.Amount,
		description:      s.Description,
		receipt:          s.Receipt,
		status:           s.Status,
		method:           s.Method,
		customer:         s.Customer,
		notes:            s.Notes,
		errorMessage:     s.ErrorMessage,
		idempotencyKey:   s.IdempotencyKey,
		createdAt:        s.CreatedAt,
		updatedAt:        s.UpdatedAt,
		version:          s.Version,
	}
}
