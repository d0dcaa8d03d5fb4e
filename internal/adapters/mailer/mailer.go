package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/ademajagon/dynamic-app/internal/app"
	"github.com/ademajagon/dynamic-app/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Support is shown in receipts as the contact address
	Support  string
	LoginURL string
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer builds transactional emails and delivers them over SMTP.
type Mailer struct {
	client sender
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

func NewClient(cfg Config) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

func New(client sender, cfg Config, log *slog.Logger) *Mailer {
	return &Mailer{client: client, cfg: cfg, log: log, now: time.Now}
}

var _ app.Mailer = (*Mailer)(nil)

func (m *Mailer) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	msg, err := m.message(to, "Email Verification - Your OTP", "otp.html", map[string]any{
		"Code":    code,
		"Minutes": int(ttl.Minutes()),
	})
	if err != nil {
		return err
	}
	return m.send(ctx, msg, "otp", to)
}

func (m *Mailer) SendWelcome(ctx context.Context, u *domain.User) error {
	name := u.FullName
	if name == "" {
		name = u.Username
	}
	msg, err := m.message(u.Email, "Welcome to Dynamic App!", "welcome.html", map[string]any{
		"Name":     name,
		"LoginURL": m.cfg.LoginURL,
	})
	if err != nil {
		return err
	}
	return m.send(ctx, msg, "welcome", u.Email)
}

func (m *Mailer) SendReceipt(ctx context.Context, r domain.Receipt, pdf []byte) error {
	msg, err := m.receiptMessage(r, pdf)
	if err != nil {
		return err
	}
	return m.send(ctx, msg, "receipt", r.Email)
}

func (m *Mailer) receiptMessage(r domain.Receipt, pdf []byte) (*mail.Msg, error) {
	date := "N/A"
	if !r.Date.IsZero() {
		date = r.Date.Format("2006-01-02 15:04:05")
	}
	msg, err := m.message(r.Email, "Payment Receipt - Transaction ID: "+r.TransactionID, "receipt.html", map[string]any{
		"UserName":      r.UserName,
		"TransactionID": r.TransactionID,
		"Amount":        r.DisplayAmount(),
		"Date":          date,
		"Status":        r.Status,
		"Description":   r.Description,
		"Support":       m.cfg.Support,
		"GeneratedAt":   m.now().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		return nil, err
	}

	if err := msg.AttachReader(r.AttachmentName(), bytes.NewReader(pdf),
		mail.WithFileContentType(mail.ContentType("application/pdf"))); err != nil {
		return nil, fmt.Errorf("attach receipt: %w", err)
	}
	return msg, nil
}

func (m *Mailer) message(to, subject, tmpl string, data any) (*mail.Msg, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", tmpl, err)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, domain.Invalid("email", "is not a valid address")
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body.String())
	return msg, nil
}

func (m *Mailer) send(ctx context.Context, msg *mail.Msg, kind, to string) error {
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send %s email: %w", kind, err)
	}
	m.log.InfoContext(ctx, "email sent", "kind", kind, "to", to)
	return nil
}
