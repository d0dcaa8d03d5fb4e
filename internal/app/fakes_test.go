package app

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memPayments struct {
	mu    sync.Mutex
	byID  map[string]*domain.Payment
	saves int
	// raceWinner is stored by the next Save, which then reports the key as taken
	raceWinner *domain.Payment
}

func newMemPayments() *memPayments {
	return &memPayments{byID: map[string]*domain.Payment{}}
}

func (m *memPayments) Save(_ context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.raceWinner; w != nil {
		m.raceWinner = nil
		m.byID[w.ID().String()] = w
		return domain.ErrDuplicateIdempotencyKey
	}
	p.PopEvents()
	m.byID[p.ID().String()] = p
	m.saves++
	return nil
}

func (m *memPayments) find(match func(*domain.Payment) bool) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if match(p) {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPayments) FindByIdempotencyKey(_ context.Context, key string) (*domain.Payment, error) {
	p, err := m.find(func(p *domain.Payment) bool { return p.IdempotencyKey() == key })
	if err != nil {
		return nil, nil
	}
	return p, nil
}

func (m *memPayments) FindByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	return m.find(func(p *domain.Payment) bool { return p.OrderID() == orderID })
}

func (m *memPayments) FindByGatewayPaymentID(_ context.Context, id string) (*domain.Payment, error) {
	return m.find(func(p *domain.Payment) bool { return p.GatewayPaymentID() == id })
}

func (m *memPayments) ListByUser(_ context.Context, userID string) ([]*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range m.byID {
		if p.UserID() == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	return out, nil
}

type memIdempotency struct {
	data map[string]string
	err  error
}

func (m *memIdempotency) Get(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memIdempotency) Set(_ context.Context, key, result string, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.data[key]; !ok {
		m.data[key] = result
	}
	return nil
}

type fakeGateway struct {
	orders    []GatewayOrder
	method    string
	methodErr error
	refunds   []int64
	refundErr error
}

func (g *fakeGateway) CreateOrder(_ context.Context, o GatewayOrder) (string, error) {
	g.orders = append(g.orders, o)
	return "order_" + strings.Repeat("x", len(g.orders)), nil
}

func (g *fakeGateway) PaymentMethod(context.Context, string) (string, error) {
	return g.method, g.methodErr
}

func (g *fakeGateway) Refund(_ context.Context, _ string, amount int64, _ string) error {
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, amount)
	return nil
}

type captureQueue struct {
	receipts []domain.Receipt
	err      error
}

func (q *captureQueue) Enqueue(_ context.Context, r domain.Receipt) error {
	if q.err != nil {
		return q.err
	}
	q.receipts = append(q.receipts, r)
	return nil
}

type memUsers struct {
	mu      sync.Mutex
	users   []*domain.User
	usedOTP []int64
	nextID  int64
}

func (m *memUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	_, err := m.FindByEmail(context.Background(), email)
	return err == nil, nil
}

func (m *memUsers) ExistsByUsername(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUsers) FindByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUsers) CreateVerified(_ context.Context, u *domain.User, otpID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users = append(m.users, u)
	m.usedOTP = append(m.usedOTP, otpID)
	return nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	u, err := m.FindByID(context.Background(), id)
	if err != nil {
		return err
	}
	u.LastLogin = &at
	return nil
}

type memOTPs struct {
	byEmail map[string]*domain.EmailOTP
}

func (m *memOTPs) Upsert(_ context.Context, otp *domain.EmailOTP) error {
	otp.ID = int64(len(m.byEmail) + 1)
	m.byEmail[otp.Email] = otp
	return nil
}

func (m *memOTPs) FindByEmailAndCode(_ context.Context, email, code string) (*domain.EmailOTP, error) {
	otp, ok := m.byEmail[email]
	if !ok || otp.Code != code {
		return nil, domain.ErrNotFound
	}
	return otp, nil
}

type allowN struct {
	hits map[string]int
	err  error
}

func (a *allowN) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	a.hits[key]++
	return a.hits[key] <= limit, nil
}

type recordingMailer struct {
	mu       sync.Mutex
	otps     map[string]string
	welcomed []string
	receipts []domain.Receipt
	pdfs     [][]byte
	err      error
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{otps: map[string]string{}}
}

func (m *recordingMailer) SendOTP(_ context.Context, to, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.otps[to] = code
	return nil
}

func (m *recordingMailer) SendWelcome(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomed = append(m.welcomed, u.Email)
	return m.err
}

func (m *recordingMailer) SendReceipt(_ context.Context, r domain.Receipt, pdf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.receipts = append(m.receipts, r)
	m.pdfs = append(m.pdfs, pdf)
	return nil
}
