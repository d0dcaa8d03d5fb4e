package domain

import (
	"fmt"
	"strings"
	"time"
)

// Receipt is what gets rendered into the PDF and mailed to the customer.
type Receipt struct {
	TransactionID string // gateway payment id
	PaymentID     string
	Email         string
	UserName      string
	Amount        int64 // minor units
	Currency      string
	Status        string
	Date          time.Time
	Description   string
}

func (r Receipt) Validate() error {
	switch {
	case strings.TrimSpace(r.Email) == "":
		return Invalid("email", "is required")
	case strings.TrimSpace(r.TransactionID) == "":
		return Invalid("transactionId", "is required")
	case strings.TrimSpace(r.UserName) == "":
		return Invalid("userName", "is required")
	case r.Amount <= 0:
		return Invalid("amount", "must be greater than 0")
	default:
		return nil
	}
}

// DisplayAmount renders the amount in major units, "499.00 INR".
func (r Receipt) DisplayAmount() string {
	cur := r.Currency
	if cur == "" {
		cur = DefaultCurrency
	}
	return fmt.Sprintf("%d.%02d %s", r.Amount/100, r.Amount%100, cur)
}

// ArchiveKey is the object key of the archived PDF.
func (r Receipt) ArchiveKey() string {
	return fmt.Sprintf("receipts/%04d/%02d/%s.pdf", r.Date.Year(), int(r.Date.Month()), r.TransactionID)
}

func (r Receipt) AttachmentName() string {
	return "Payment_Receipt_" + r.TransactionID + ".pdf"
}

// NewReceipt builds the receipt for a captured payment.
func NewReceipt(p *Payment, at time.Time) (Receipt, error) {
	email := p.ReceiptEmail()
	if email == "" {
		return Receipt{}, Invalid("email", "customer email is required for sending a receipt")
	}
	name := p.Customer().Name
	if name == "" {
		name = p.UserID()
	}
	r := Receipt{
		TransactionID: p.GatewayPaymentID(),
		PaymentID:     p.ID().String(),
		Email:         email,
		UserName:      name,
		Amount:        p.Amount().Amount(),
		Currency:      p.Amount().Currency(),
		Status:        string(p.Status()),
		Date:          at,
		Description:   p.Description(),
	}
	return r, r.Validate()
}
