package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ademajagon/dynamic-app/internal/app"
	"github.com/ademajagon/dynamic-app/internal/auth"
	"github.com/ademajagon/dynamic-app/internal/domain"
)

type fakeAuth struct {
	otpErr     error
	session    *app.Session
	err        error
	gotSignup  app.SignupRequest
	gotRefresh string
}

func (f *fakeAuth) SendOTP(context.Context, string) error { return f.otpErr }

func (f *fakeAuth) Signup(_ context.Context, req app.SignupRequest) (*app.Session, error) {
	f.gotSignup = req
	return f.session, f.err
}

func (f *fakeAuth) Login(context.Context, string, string) (*app.Session, error) {
	return f.session, f.err
}

func (f *fakeAuth) Refresh(_ context.Context, token string) (*app.Session, error) {
	f.gotRefresh = token
	return f.session, f.err
}

type fakeDynamic struct {
	docs      map[string]json.RawMessage
	updatedBy string
}

func (f *fakeDynamic) Upsert(_ context.Context, userID, key string, data []byte, updatedBy string) (bool, error) {
	if _, err := domain.NewRecord(userID, key, data, updatedBy, time.Now()); err != nil {
		return false, err
	}
	f.updatedBy = updatedBy
	_, exists := f.docs[userID+"/"+key]
	f.docs[userID+"/"+key] = data
	return !exists, nil
}

func (f *fakeDynamic) Get(_ context.Context, userID, key string) (json.RawMessage, error) {
	d, ok := f.docs[userID+"/"+key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

type fakePayments struct {
	payment   *domain.Payment
	err       error
	gotRefund app.RefundRequest
	gotCreate app.CreateOrderRequest
}

func (f *fakePayments) KeyID() string { return "rzp_test_key" }

func (f *fakePayments) CreateOrder(_ context.Context, req app.CreateOrderRequest) (app.CreateOrderResponse, error) {
	f.gotCreate = req
	if err := req.Validate(); err != nil {
		return app.CreateOrderResponse{}, err
	}
	return app.CreateOrderResponse{OrderID: "order_1", Amount: req.Amount, Currency: "INR", Status: "PENDING"}, f.err
}

func (f *fakePayments) Verify(context.Context, app.VerifyRequest) (*domain.Payment, error) {
	return f.payment, f.err
}

func (f *fakePayments) ByOrderID(context.Context, string) (*domain.Payment, error) {
	return f.payment, f.err
}

func (f *fakePayments) ByPaymentID(context.Context, string) (*domain.Payment, error) {
	return f.payment, f.err
}

func (f *fakePayments) ListForUser(context.Context, string) ([]*domain.Payment, error) {
	if f.payment == nil {
		return nil, f.err
	}
	return []*domain.Payment{f.payment}, f.err
}

func (f *fakePayments) Refund(_ context.Context, req app.RefundRequest) (*domain.Payment, error) {
	f.gotRefund = req
	return f.payment, f.err
}

type fakeReceipts struct {
	sent []string
	err  error
}

func (f *fakeReceipts) SendTest(_ context.Context, email string) (domain.Receipt, error) {
	if f.err != nil {
		return domain.Receipt{}, f.err
	}
	f.sent = append(f.sent, email)
	return domain.Receipt{Email: email}, nil
}

type harness struct {
	handler  http.Handler
	tokens   *auth.TokenIssuer
	auth     *fakeAuth
	dynamic  *fakeDynamic
	payments *fakePayments
	receipts *fakeReceipts
}

func newHarness(t *testing.T, checks ...ReadinessCheck) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		tokens:   auth.NewTokenIssuer("test-secret", time.Hour, 24*time.Hour),
		auth:     &fakeAuth{},
		dynamic:  &fakeDynamic{docs: map[string]json.RawMessage{}},
		payments: &fakePayments{},
		receipts: &fakeReceipts{},
	}
	h.handler = NewRouter(ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}}, Routes{
		Auth:     NewAuthHandler(h.auth, 7*24*time.Hour, log),
		Dynamic:  NewDynamicHandler(h.dynamic, log),
		Payments: NewPaymentHandler(h.payments, h.receipts, log),
		Tokens:   h.tokens,
	}, checks, log)
	return h
}

func (h *harness) do(t *testing.T, method, target, body string, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) bearer(t *testing.T) func(*http.Request) {
	t.Helper()
	tok, err := h.tokens.IssueAccess("alice@example.com")
	require.NoError(t, err)
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func capturedPayment(t *testing.T) *domain.Payment {
	t.Helper()
	money, err := domain.NewMoney(49900, "INR")
	require.NoError(t, err)
	p, err := domain.NewPayment(domain.NewPaymentParams{
		UserID:   "alice@example.com",
		OrderID:  "order_1",
		Amount:   money,
		Customer: domain.Customer{Email: "alice@example.com"},
	})
	require.NoError(t, err)
	require.NoError(t, p.Capture("pay_1", "sig"))
	return p
}

func TestProbes(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	h = newHarness(t, func(context.Context) error { return errors.New("postgres: connection refused") })
	rec = h.do(t, http.MethodGet, "/healthz/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodOptions, "/api/payment/key", "", func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:3000")
		r.Header.Set("Access-Control-Request-Method", http.MethodGet)
	})
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/dynamic/fetch/u1/profile", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)

	rec = h.do(t, http.MethodGet, "/api/dynamic/fetch/u1/profile", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not-a-jwt")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := h.tokens.IssueAccess("alice@example.com")
	require.NoError(t, err)
	rec = h.do(t, http.MethodGet, "/api/dynamic/fetch/u1/profile", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: authCookie, Value: tok})
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "cookie token is accepted")

	refresh, err := h.tokens.IssueRefresh("alice@example.com")
	require.NoError(t, err)
	rec = h.do(t, http.MethodGet, "/api/dynamic/fetch/u1/profile", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+refresh)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh token is not an access token")
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)

	rec = h.do(t, http.MethodGet, "/api/dynamic/fetch/u1/profile", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: authCookie, Value: refresh})
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendOTP(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/auth/send-otp", `{"email":"new@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"OTP sent successfully to new@example.com"}`, rec.Body.String())

	h.auth.otpErr = domain.ErrEmailRegistered
	rec = h.do(t, http.MethodPost, "/api/auth/send-otp", `{"email":"taken@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "SEND_OTP_FAILED", body.Code)
	assert.Equal(t, domain.ErrEmailRegistered.Error(), body.Error)
	assert.NotEmpty(t, body.Timestamp)

	h.auth.otpErr = errors.New("dial tcp 10.0.0.5:5432: connection refused")
	rec = h.do(t, http.MethodPost, "/api/auth/send-otp", `{"email":"x@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")

	h.auth.otpErr = domain.ErrTooManyRequests
	rec = h.do(t, http.MethodPost, "/api/auth/send-otp", `{"email":"x@example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSignup_SetsCookie(t *testing.T) {
	h := newHarness(t)
	h.auth.session = &app.Session{
		User:         &domain.User{ID: 7, Username: "alice", Email: "alice@example.com", Role: domain.RoleUser},
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresIn:    24 * time.Hour,
	}

	rec := h.do(t, http.MethodPost, "/api/auth/signup",
		`{"username":"alice","email":"alice@example.com","password":"pw","confirmPassword":"pw","otp":"123456","role":"admin"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "admin", h.auth.gotSignup.Role)

	var body signupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.ID)
	assert.Equal(t, "access-token", body.Token)
	assert.Equal(t, "refresh-token", body.RefreshToken)
	assert.Equal(t, int64(86400), body.ExpiresIn)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, authCookie, c.Name)
	assert.Equal(t, "access-token", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 604800, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	h.auth.err = domain.ErrInvalidOTP
	rec = h.do(t, http.MethodPost, "/api/auth/signup", `{"email":"alice@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SIGNUP_FAILED", decodeError(t, rec).Code)
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	h.auth.err = errors.New("database is down")

	rec := h.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "INVALID_CREDENTIALS", body.Code)
	assert.Equal(t, domain.ErrInvalidCredentials.Error(), body.Error)

	h.auth.err = nil
	h.auth.session = &app.Session{User: &domain.User{ID: 1, Email: "a@example.com"}, AccessToken: "tok", ExpiresIn: time.Hour}
	rec = h.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"good"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tok", resp.Token)
	assert.Equal(t, "a@example.com", resp.User.Email)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
}

func TestValidate_PrefersCookie(t *testing.T) {
	h := newHarness(t)
	h.auth.session = &app.Session{User: &domain.User{ID: 1, Email: "a@example.com"}, AccessToken: "fresh", ExpiresIn: time.Hour}

	rec := h.do(t, http.MethodPost, "/api/auth/validate", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: authCookie, Value: "from-cookie"})
		r.Header.Set("Authorization", "Bearer from-header")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-cookie", h.auth.gotRefresh)
	assert.NotContains(t, rec.Body.String(), "refreshToken")

	rec = h.do(t, http.MethodPost, "/api/auth/validate", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer from-header")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-header", h.auth.gotRefresh)

	h.auth.err = domain.ErrUnauthenticated
	rec = h.do(t, http.MethodPost, "/api/auth/validate", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_REFRESH_FAILED", decodeError(t, rec).Code)
}

func TestDynamicData(t *testing.T) {
	h := newHarness(t)
	withToken := h.bearer(t)

	rec := h.do(t, http.MethodPost, "/api/dynamic/update/u1/profile", `{"theme":"dark"}`, withToken)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", rec.Body.String())
	assert.Equal(t, "alice@example.com", h.dynamic.updatedBy)

	rec = h.do(t, http.MethodPost, "/api/dynamic/update/u1/profile", `{"theme":"light"}`, withToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "updated", rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/dynamic/fetch/u1/profile", "", withToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"theme":"light"}`, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/dynamic/update/u1/profile", "   ", withToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/dynamic/update/u1/profile", `{"theme":`, withToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)

	rec = h.do(t, http.MethodGet, "/api/dynamic/fetch/u1/missing", "", withToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/dynamic/test", "", withToken)
	assert.Equal(t, "POST received with empty body", rec.Body.String())
	rec = h.do(t, http.MethodPost, "/api/dynamic/test", `{"ping":1}`, withToken)
	assert.Equal(t, "POST received", rec.Body.String())
}

func TestCreateOrder(t *testing.T) {
	h := newHarness(t)
	withToken := h.bearer(t)

	rec := h.do(t, http.MethodPost, "/api/payment/create-order", `{"userId":"u1","amount":49900}`, withToken, func(r *http.Request) {
		r.Header.Set("Idempotency-Key", "idem-1")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idem-1", h.payments.gotCreate.IdempotencyKey)
	assert.Contains(t, rec.Body.String(), `"razorpayOrderId":"order_1"`)

	rec = h.do(t, http.MethodPost, "/api/payment/create-order", `{"userId":"u1","amount":0}`, withToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/payment/create-order", `{"userId":"u1","amount":100}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerify(t *testing.T) {
	h := newHarness(t)
	withToken := h.bearer(t)
	h.payments.payment = capturedPayment(t)

	rec := h.do(t, http.MethodPost, "/api/payment/verify",
		`{"razorpayOrderId":"order_1","razorpayPaymentId":"pay_1","razorpaySignature":"sig"}`, withToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body paymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CAPTURED", body.Status)
	assert.Equal(t, "pay_1", body.RazorpayPaymentID)
	assert.Equal(t, int64(49900), body.Amount)

	h.payments.err = domain.ErrInvalidSignature
	rec = h.do(t, http.MethodPost, "/api/payment/verify", `{}`, withToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VERIFICATION_FAILED", decodeError(t, rec).Code)
}

func TestLookups(t *testing.T) {
	h := newHarness(t)
	withToken := h.bearer(t)

	h.payments.err = domain.ErrNotFound
	rec := h.do(t, http.MethodGet, "/api/payment/order/order_x", "", withToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.payments.err = nil
	h.payments.payment = capturedPayment(t)
	rec = h.do(t, http.MethodGet, "/api/payment/payment/pay_1", "", withToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/payment/user/alice@example.com", "", withToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []paymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	h.payments.payment = nil
	rec = h.do(t, http.MethodGet, "/api/payment/user/nobody", "", withToken)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	withToken := h.bearer(t)
	h.payments.payment = capturedPayment(t)

	rec := h.do(t, http.MethodPost, "/api/payment/refund?paymentId=pay_1&refundAmount=2500&reason=duplicate", "", withToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pay_1", h.payments.gotRefund.PaymentID)
	require.NotNil(t, h.payments.gotRefund.Amount)
	assert.Equal(t, int64(2500), *h.payments.gotRefund.Amount)
	assert.Equal(t, "duplicate", h.payments.gotRefund.Reason)

	rec = h.do(t, http.MethodPost, "/api/payment/refund?paymentId=pay_1", "", withToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, h.payments.gotRefund.Amount)

	rec = h.do(t, http.MethodPost, "/api/payment/refund?paymentId=pay_1&refundAmount=ten", "", withToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.payments.err = domain.ErrInvalidTransition
	rec = h.do(t, http.MethodPost, "/api/payment/refund?paymentId=pay_1", "", withToken)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPublicPaymentRoutes(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/payment/key", "")
	assert.JSONEq(t, `{"keyId":"rzp_test_key"}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/payment/health", "")
	assert.Contains(t, rec.Body.String(), "Payment service is running")

	rec = h.do(t, http.MethodGet, "/api/payment/verify-qr?data=txn%3Dpay_1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Payment Receipt")

	rec = h.do(t, http.MethodPost, "/api/payment/test-email", `{"email":"qa@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"qa@example.com"}, h.receipts.sent)

	h.receipts.err = app.ErrQueueFull
	rec = h.do(t, http.MethodPost, "/api/payment/test-email", `{"email":"qa@example.com"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
