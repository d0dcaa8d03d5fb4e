package httpserver

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ademajagon/dynamic-app/internal/app"
	"github.com/ademajagon/dynamic-app/internal/domain"
)

//go:embed static/verify-qr.html
var verifyQRPage []byte

type paymentService interface {
	KeyID() string
	CreateOrder(ctx context.Context, req app.CreateOrderRequest) (app.CreateOrderResponse, error)
	Verify(ctx context.Context, req app.VerifyRequest) (*domain.Payment, error)
	ByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	ByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error)
	ListForUser(ctx context.Context, userID string) ([]*domain.Payment, error)
	Refund(ctx context.Context, req app.RefundRequest) (*domain.Payment, error)
}

type testReceiptSender interface {
	SendTest(ctx context.Context, email string) (domain.Receipt, error)
}

type createOrderRequest struct {
	UserID         string `json:"userId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Description    string `json:"description"`
	Receipt        string `json:"receipt"`
	CustomerEmail  string `json:"customerEmail"`
	CustomerPhone  string `json:"customerPhone"`
	CustomerName   string `json:"customerName"`
	Notes          string `json:"notes"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type verifyRequest struct {
	OrderID   string `json:"razorpayOrderId"`
	PaymentID string `json:"razorpayPaymentId"`
	Signature string `json:"razorpaySignature"`
}

type paymentResponse struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	RazorpayOrderID   string    `json:"razorpayOrderId"`
	RazorpayPaymentID string    `json:"razorpayPaymentId,omitempty"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Description       string    `json:"description,omitempty"`
	Status            string    `json:"status"`
	PaymentMethod     string    `json:"paymentMethod,omitempty"`
	CustomerEmail     string    `json:"customerEmail,omitempty"`
	CustomerPhone     string    `json:"customerPhone,omitempty"`
	CustomerName      string    `json:"customerName,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func newPaymentResponse(p *domain.Payment) paymentResponse {
	c := p.Customer()
	return paymentResponse{
		ID:                p.ID().String(),
		UserID:            p.UserID(),
		RazorpayOrderID:   p.OrderID(),
		RazorpayPaymentID: p.GatewayPaymentID(),
		Amount:            p.Amount().Amount(),
		Currency:          p.Amount().Currency(),
		Description:       p.Description(),
		Status:            string(p.Status()),
		PaymentMethod:     p.Method(),
		CustomerEmail:     c.Email,
		CustomerPhone:     c.Phone,
		CustomerName:      c.Name,
		ErrorMessage:      p.ErrorMessage(),
		CreatedAt:         p.CreatedAt(),
		UpdatedAt:         p.UpdatedAt(),
	}
}

type PaymentHandler struct {
	svc      paymentService
	receipts testReceiptSender
	log      *slog.Logger
	now      func() time.Time
}

func NewPaymentHandler(svc paymentService, receipts testReceiptSender, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, receipts: receipts, log: log, now: time.Now}
}

func (h *PaymentHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	if err := decodeJSON(r, &body); err != nil {
		mapError(w, r, h.log, err, 0, "")
		return
	}

	if headerKey := r.Header.Get("Idempotency-Key"); headerKey != "" {
		body.IdempotencyKey = headerKey
	}

	resp, err := h.svc.CreateOrder(r.Context(), app.CreateOrderRequest{
		UserID:         body.UserID,
		Amount:         body.Amount,
		Currency:       body.Currency,
		Description:    body.Description,
		Receipt:        body.Receipt,
		CustomerEmail:  body.CustomerEmail,
		CustomerPhone:  body.CustomerPhone,
		CustomerName:   body.CustomerName,
		Notes:          body.Notes,
		IdempotencyKey: body.IdempotencyKey,
	})
	if err != nil {
		mapError(w, r, h.log, err, 0, "")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *PaymentHandler) verify(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if err := decodeJSON(r, &body); err != nil {
		mapError(w, r, h.log, err, 0, "")
		return
	}

	payment, err := h.svc.Verify(r.Context(), app.VerifyRequest{
		OrderID:   body.OrderID,
		PaymentID: body.PaymentID,
		Signature: body.Signature,
	})
	if err != nil {
		mapError(w, r, h.log, err, http.StatusBadRequest, "VERIFICATION_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newPaymentResponse(payment))
}

func (h *PaymentHandler) byOrderID(w http.ResponseWriter, r *http.Request) {
	h.writePayment(w, r)(h.svc.ByOrderID(r.Context(), chi.URLParam(r, "orderId")))
}

func (h *PaymentHandler) byPaymentID(w http.ResponseWriter, r *http.Request) {
	h.writePayment(w, r)(h.svc.ByPaymentID(r.Context(), chi.URLParam(r, "paymentId")))
}

func (h *PaymentHandler) writePayment(w http.ResponseWriter, r *http.Request) func(*domain.Payment, error) {
	return func(p *domain.Payment, err error) {
		if err != nil {
			mapError(w, r, h.log, err, 0, "")
			return
		}
		writeJSON(w, http.StatusOK, newPaymentResponse(p))
	}
}

func (h *PaymentHandler) listForUser(w http.ResponseWriter, r *http.Request) {
	payments, err := h.svc.ListForUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		mapError(w, r, h.log, err, 0, "")
		return
	}

	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, newPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// refund takes its arguments from the query string:
// ?paymentId=&refundAmount=&reason=
func (h *PaymentHandler) refund(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := app.RefundRequest{
		PaymentID: q.Get("paymentId"),
		Reason:    q.Get("reason"),
	}
	if raw := q.Get("refundAmount"); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			mapError(w, r, h.log, domain.Invalid("refundAmount", "must be an integer"), 0, "")
			return
		}
		req.Amount = &amount
	}

	payment, err := h.svc.Refund(r.Context(), req)
	if err != nil {
		mapError(w, r, h.log, err, 0, "")
		return
	}

	writeJSON(w, http.StatusOK, newPaymentResponse(payment))
}

func (h *PaymentHandler) key(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"keyId": h.svc.KeyID()})
}

func (h *PaymentHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "Payment service is running",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *PaymentHandler) testEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil {
		mapError(w, r, h.log, err, 0, "")
		return
	}

	if _, err := h.receipts.SendTest(r.Context(), body.Email); err != nil {
		mapError(w, r, h.log, err, 0, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Test email submitted. Check your inbox shortly.",
		"email":     body.Email,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// verifyQR serves the page receipt QR codes link to. The payload is decoded
// in the browser.
func (h *PaymentHandler) verifyQR(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(verifyQRPage)
}
