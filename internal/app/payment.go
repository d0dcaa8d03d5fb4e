package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

type IdempotencyStore interface {
	// Get returns (result, true, nil), ("", false, nil) if miss
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores result for key with a TTL
	// Uses SET NX so the first writer wins in a race between two concurrent identical requests
	Set(ctx context.Context, key string, result string, ttl time.Duration) error
}

// GatewayOrder is what the payment gateway gets to see. Customer details
// stay in our database.
type GatewayOrder struct {
	Amount      int64
	Currency    string
	Receipt     string
	Notes       string
	Description string
}

type Gateway interface {
	CreateOrder(ctx context.Context, order GatewayOrder) (orderID string, err error)
	// PaymentMethod returns the method (card, upi, netbanking...) of a gateway payment
	PaymentMethod(ctx context.Context, paymentID string) (string, error)
	Refund(ctx context.Context, paymentID string, amount int64, reason string) error
}

// ReceiptQueue accepts receipt emails for background delivery.
type ReceiptQueue interface {
	Enqueue(ctx context.Context, r domain.Receipt) error
}

type CreateOrderRequest struct {
	UserID         string
	Amount         int64
	Currency       string
	Description    string
	Receipt        string
	CustomerEmail  string
	CustomerPhone  string
	CustomerName   string
	Notes          string
	IdempotencyKey string
}

func (r CreateOrderRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return domain.Invalid("userId", "is required")
	case r.Amount <= 0:
		return domain.Invalid("amount", "must be greater than 0")
	case len(r.Receipt) > 40:
		return domain.Invalid("receipt", "must be at most 40 characters")
	default:
		return nil
	}
}

type CreateOrderResponse struct {
	OrderID  string `json:"razorpayOrderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

type VerifyRequest struct {
	OrderID   string
	PaymentID string
	Signature string
}

func (r VerifyRequest) Validate() error {
	switch {
	case r.OrderID == "":
		return domain.Invalid("razorpayOrderId", "is required")
	case r.PaymentID == "":
		return domain.Invalid("razorpayPaymentId", "is required")
	case r.Signature == "":
		return domain.Invalid("razorpaySignature", "is required")
	default:
		return nil
	}
}

type RefundRequest struct {
	PaymentID string
	// Amount in minor units, nil refunds everything
	Amount *int64
	Reason string
}

const (
	idempotencyTTL       = 24 * time.Hour
	defaultRefundReason  = "Refund requested by user"
	methodLookupTimeout  = 5 * time.Second
	orderCreatedMessage  = "Order created successfully. Complete payment on frontend."
	receiptPrefix        = "RCP"
	receiptTimestampMod  = 100000000
	receiptUserHashSpace = 10000
)

type PaymentService struct {
	repo       domain.PaymentRepository
	idempotent IdempotencyStore
	gateway    Gateway
	receipts   ReceiptQueue
	keyID      string
	keySecret  []byte
	log        *slog.Logger
	now        func() time.Time
}

func NewPaymentService(
	repo domain.PaymentRepository,
	idempotent IdempotencyStore,
	gateway Gateway,
	receipts ReceiptQueue,
	keyID, keySecret string,
	log *slog.Logger,
) *PaymentService {
	return &PaymentService{
		repo:       repo,
		idempotent: idempotent,
		gateway:    gateway,
		receipts:   receipts,
		keyID:      keyID,
		keySecret:  []byte(keySecret),
		log:        log,
		now:        time.Now,
	}
}

// KeyID is the public gateway key the frontend checkout needs.
func (s *PaymentService) KeyID() string { return s.keyID }

func (s *PaymentService) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error) {
	if err := req.Validate(); err != nil {
		return CreateOrderResponse{}, err
	}

	if req.IdempotencyKey != "" {
		if resp, ok, err := s.replay(ctx, req.IdempotencyKey); err != nil {
			return CreateOrderResponse{}, err
		} else if ok {
			return resp, nil
		}
	}

	amount, err := domain.NewMoney(req.Amount, req.Currency)
	if err != nil {
		return CreateOrderResponse{}, domain.Invalid("amount", err.Error())
	}

	customerEmail := req.CustomerEmail
	if customerEmail == "" && strings.Contains(req.UserID, "@") {
		customerEmail = req.UserID
		s.log.DebugContext(ctx, "customer email taken from user id", "user_id", req.UserID)
	}

	receipt := req.Receipt
	if receipt == "" {
		receipt = generateReceipt(req.UserID, s.now())
	}

	orderID, err := s.gateway.CreateOrder(ctx, GatewayOrder{
		Amount:      amount.Amount(),
		Currency:    amount.Currency(),
		Receipt:     receipt,
		Notes:       req.Notes,
		Description: req.Description,
	})
	if err != nil {
		return CreateOrderResponse{}, fmt.Errorf("create gateway order: %w", err)
	}

	payment, err := domain.NewPayment(domain.NewPaymentParams{
		UserID:      req.UserID,
		OrderID:     orderID,
		Amount:      amount,
		Description: req.Description,
		Receipt:     receipt,
		Customer: domain.Customer{
			Email: customerEmail,
			Phone: req.CustomerPhone,
			Name:  req.CustomerName,
		},
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return CreateOrderResponse{}, fmt.Errorf("create payment: %w", err)
	}

	if err := s.repo.Save(ctx, payment); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			// a concurrent request with the same key committed first
			s.log.WarnContext(ctx, "idempotency key raced, replaying stored order",
				"idempotency_key", req.IdempotencyKey,
				"orphan_order_id", orderID,
			)
			if resp, ok, rerr := s.replay(ctx, req.IdempotencyKey); rerr == nil && ok {
				return resp, nil
			}
		}
		return CreateOrderResponse{}, fmt.Errorf("save payment: %w", err)
	}

	resp := orderResponse(payment)
	if req.IdempotencyKey != "" {
		s.cache(ctx, req.IdempotencyKey, resp)
	}

	paymentsCreated.Inc()
	s.log.InfoContext(ctx, "payment order created",
		"payment_id", payment.ID().String(),
		"order_id", orderID,
		"user_id", req.UserID,
		"amount", amount.String(),
	)

	return resp, nil
}

func (s *PaymentService) replay(ctx context.Context, key string) (CreateOrderResponse, bool, error) {
	if cached, ok, err := s.idempotent.Get(ctx, key); err != nil {
		s.log.WarnContext(ctx, "idempotency cache unavailable, DB check",
			"err", err,
			"idempotency_key", key)
	} else if ok {
		var resp CreateOrderResponse
		if err := json.Unmarshal([]byte(cached), &resp); err != nil {
			s.log.WarnContext(ctx, "corrupt idempotency cache entry, evicting", "err", err)
		} else {
			s.log.InfoContext(ctx, "idempotent replay from cache",
				"order_id", resp.OrderID,
				"idempotency_key", key,
			)
			return resp, true, nil
		}
	}

	existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return CreateOrderResponse{}, false, fmt.Errorf("idempotency key lookup: %w", err)
	}
	if existing == nil {
		return CreateOrderResponse{}, false, nil
	}

	resp := orderResponse(existing)
	// re-populate the cache for future requests to skip db next time
	s.cache(ctx, key, resp)
	return resp, true, nil
}

func (s *PaymentService) cache(ctx context.Context, key string, resp CreateOrderResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.WarnContext(ctx, "cannot marshal idempotency response for caching", "err", err)
		return
	}
	if err := s.idempotent.Set(ctx, key, string(data), idempotencyTTL); err != nil {
		s.log.WarnContext(ctx, "failed to cache idempotency response", "err", err)
	}
}

func orderResponse(p *domain.Payment) CreateOrderResponse {
	return CreateOrderResponse{
		OrderID:  p.OrderID(),
		Amount:   p.Amount().Amount(),
		Currency: p.Amount().Currency(),
		Status:   string(p.Status()),
		Message:  orderCreatedMessage,
	}
}

// Verify checks the gateway signature and captures the payment. Any failure
// after the order is known is written back to the record as FAILED.
func (s *PaymentService) Verify(ctx context.Context, req VerifyRequest) (*domain.Payment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payment, err := s.verify(ctx, req)
	if err != nil {
		paymentsVerified.WithLabelValues("failed").Inc()
		s.log.WarnContext(ctx, "payment verification failed",
			"order_id", req.OrderID,
			"payment_id", req.PaymentID,
			"err", err,
		)
		s.markFailed(ctx, req.OrderID, err)
		return nil, fmt.Errorf("payment verification failed: %w", err)
	}

	paymentsVerified.WithLabelValues("captured").Inc()
	s.queueReceipt(ctx, payment)
	return payment, nil
}

func (s *PaymentService) verify(ctx context.Context, req VerifyRequest) (*domain.Payment, error) {
	if !hmac.Equal([]byte(Sign(s.keySecret, req.OrderID, req.PaymentID)), []byte(req.Signature)) {
		return nil, domain.ErrInvalidSignature
	}

	payment, err := s.repo.FindByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("find payment by order: %w", err)
	}

	if payment.Status() == domain.StatusCaptured && payment.GatewayPaymentID() == req.PaymentID {
		s.log.InfoContext(ctx, "payment already captured", "order_id", req.OrderID, "payment_id", req.PaymentID)
		return payment, nil
	}

	if err := payment.Capture(req.PaymentID, req.Signature); err != nil {
		return nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, methodLookupTimeout)
	method, err := s.gateway.PaymentMethod(lookupCtx, req.PaymentID)
	cancel()
	if err != nil {
		s.log.WarnContext(ctx, "could not fetch payment method from gateway", "payment_id", req.PaymentID, "err", err)
	} else {
		payment.SetMethod(method)
	}

	if err := s.repo.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("save captured payment: %w", err)
	}

	s.log.InfoContext(ctx, "payment captured",
		"payment_id", payment.ID().String(),
		"order_id", req.OrderID,
		"gateway_payment_id", req.PaymentID,
		"method", payment.Method(),
	)
	return payment, nil
}

// markFailed is the compensating write after a failed verification. It is
// best-effort: its own errors are logged and swallowed.
func (s *PaymentService) markFailed(ctx context.Context, orderID string, cause error) {
	payment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.ErrorContext(ctx, "failed to load payment for FAILED update", "order_id", orderID, "err", err)
		}
		return
	}

	if err := payment.Fail(cause.Error()); err != nil {
		s.log.WarnContext(ctx, "payment left unchanged after failed verification",
			"order_id", orderID,
			"status", payment.Status(),
			"err", err,
		)
		return
	}

	if err := s.repo.Save(ctx, payment); err != nil {
		s.log.ErrorContext(ctx, "failed to update payment status to FAILED", "order_id", orderID, "err", err)
	}
}

func (s *PaymentService) queueReceipt(ctx context.Context, p *domain.Payment) {
	if p.Status() != domain.StatusCaptured {
		return
	}
	if s.receipts == nil {
		return
	}

	receipt, err := domain.NewReceipt(p, s.now())
	if err != nil {
		s.log.WarnContext(ctx, "receipt email skipped", "payment_id", p.ID().String(), "err", err)
		return
	}
	// the request context ends with the response, delivery must not
	if err := s.receipts.Enqueue(context.WithoutCancel(ctx), receipt); err != nil {
		s.log.WarnContext(ctx, "failed to queue receipt email, payment was verified",
			"payment_id", p.ID().String(),
			"err", err,
		)
	}
}

func (s *PaymentService) ByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	p, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment by order %q: %w", orderID, err)
	}
	return p, nil
}

func (s *PaymentService) ByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.repo.FindByGatewayPaymentID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %q: %w", paymentID, err)
	}
	return p, nil
}

func (s *PaymentService) ListForUser(ctx context.Context, userID string) ([]*domain.Payment, error) {
	payments, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments for user: %w", err)
	}
	return payments, nil
}

func (s *PaymentService) Refund(ctx context.Context, req RefundRequest) (*domain.Payment, error) {
	if req.PaymentID == "" {
		return nil, domain.Invalid("paymentId", "is required")
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultRefundReason
	}

	payment, err := s.repo.FindByGatewayPaymentID(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("find payment for refund: %w", err)
	}

	amount := payment.Amount().Amount()
	if req.Amount != nil {
		amount = *req.Amount
	}

	// validate the transition before money moves
	if !payment.Status().CanTransitionTo(domain.StatusRefunded) {
		return nil, fmt.Errorf("%w: cannot refund a %s payment", domain.ErrInvalidTransition, payment.Status())
	}
	if amount <= 0 || amount > payment.Amount().Amount() {
		return nil, domain.Invalid("refundAmount", fmt.Sprintf("must be between 1 and %d", payment.Amount().Amount()))
	}

	if err := s.gateway.Refund(ctx, req.PaymentID, amount, reason); err != nil {
		return nil, fmt.Errorf("gateway refund: %w", err)
	}
	s.log.InfoContext(ctx, "refund initiated", "payment_id", req.PaymentID, "amount", amount)

	if err := payment.Refund(amount, reason); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("save refunded payment: %w", err)
	}

	paymentsRefunded.Inc()
	return payment, nil
}

// Sign computes the gateway checkout signature: hex(HMAC-SHA256(secret, orderID|paymentID)).
func Sign(secret []byte, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// generateReceipt builds RCP{8 digit timestamp}-{4 digit user hash}, well
// under the gateway's 40 character limit.
func generateReceipt(userID string, now time.Time) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return fmt.Sprintf("%s%d-%04d",
		receiptPrefix,
		now.UnixMilli()%receiptTimestampMod,
		h.Sum32()%receiptUserHashSpace,
	)
}
