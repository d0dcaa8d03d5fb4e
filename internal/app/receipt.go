package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

type Mailer interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
	SendWelcome(ctx context.Context, u *domain.User) error
	SendReceipt(ctx context.Context, r domain.Receipt, pdf []byte) error
}

type ReceiptRenderer interface {
	Render(r domain.Receipt) ([]byte, error)
}

// ReceiptArchive keeps a copy of every mailed receipt.
type ReceiptArchive interface {
	Put(ctx context.Context, key string, pdf []byte) error
}

type ReceiptService struct {
	renderer   ReceiptRenderer
	archive    ReceiptArchive // nil disables archiving
	mailer     Mailer
	dispatcher *Dispatcher
	log        *slog.Logger
	now        func() time.Time
}

func NewReceiptService(
	renderer ReceiptRenderer,
	archive ReceiptArchive,
	mailer Mailer,
	dispatcher *Dispatcher,
	log *slog.Logger,
) *ReceiptService {
	return &ReceiptService{
		renderer:   renderer,
		archive:    archive,
		mailer:     mailer,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// Send renders, archives and mails a receipt on the calling goroutine.
func (s *ReceiptService) Send(ctx context.Context, r domain.Receipt) error {
	if err := r.Validate(); err != nil {
		return err
	}

	pdf, err := s.renderer.Render(r)
	if err != nil {
		receiptsSent.WithLabelValues("failed").Inc()
		return fmt.Errorf("render receipt: %w", err)
	}

	if s.archive != nil {
		if err := s.archive.Put(ctx, r.ArchiveKey(), pdf); err != nil {
			s.log.WarnContext(ctx, "receipt archive failed", "transaction_id", r.TransactionID, "err", err)
		}
	}

	if err := s.mailer.SendReceipt(ctx, r, pdf); err != nil {
		receiptsSent.WithLabelValues("failed").Inc()
		return fmt.Errorf("mail receipt: %w", err)
	}

	receiptsSent.WithLabelValues("sent").Inc()
	s.log.InfoContext(ctx, "receipt mailed",
		"transaction_id", r.TransactionID,
		"to", r.Email,
		"pdf_bytes", len(pdf),
	)
	return nil
}

// Enqueue validates r and hands delivery to the background workers.
func (s *ReceiptService) Enqueue(_ context.Context, r domain.Receipt) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.dispatcher.Submit("receipt:"+r.TransactionID, func(ctx context.Context) error {
		return s.Send(ctx, r)
	})
}

// SendTest queues a sample receipt to check the mail setup end to end.
func (s *ReceiptService) SendTest(ctx context.Context, email string) (domain.Receipt, error) {
	if strings.TrimSpace(email) == "" {
		return domain.Receipt{}, domain.Invalid("email", "is required")
	}

	now := s.now()
	r := domain.Receipt{
		TransactionID: fmt.Sprintf("TEST-%d", now.UnixMilli()),
		PaymentID:     "1",
		Email:         email,
		UserName:      "Test User",
		Amount:        99999,
		Currency:      domain.DefaultCurrency,
		Status:        "SUCCESS",
		Date:          now,
		Description:   "This is a test payment receipt email",
	}
	if err := s.Enqueue(ctx, r); err != nil {
		return domain.Receipt{}, fmt.Errorf("queue test receipt: %w", err)
	}
	return r, nil
}
