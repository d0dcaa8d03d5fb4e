package pdf

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

const (
	systemName   = "DynamicApp Payment System"
	dateLayout   = "2006-01-02 15:04:05"
	notAvailable = "N/A"

	margin     = 18.0
	labelWidth = 38.0
	valueWidth = 84.0
	rowHeight  = 8.0
	qrSize     = 42.0
	maxValue   = 48
)

// Renderer lays out receipts as single page A4 PDFs with a verification QR
// code pointing back at the service.
type Renderer struct {
	publicURL string
	now       func() time.Time
}

func NewRenderer(publicURL string) *Renderer {
	return &Renderer{publicURL: strings.TrimRight(publicURL, "/"), now: time.Now}
}

// VerificationURL is the link encoded in the receipt QR code.
func (r *Renderer) VerificationURL(rc domain.Receipt) string {
	data := strings.Join([]string{
		"txn=" + orDefault(rc.TransactionID, "UNKNOWN"),
		"pid=" + orDefault(rc.PaymentID, notAvailable),
		"amt=" + amount(rc),
		"cur=" + orDefault(rc.Currency, domain.DefaultCurrency),
		"status=" + orDefault(rc.Status, "PENDING"),
		"date=" + date(rc.Date),
		"user=" + orDefault(rc.UserName, "UNKNOWN"),
		"email=" + orDefault(rc.Email, notAvailable),
		"desc=" + orDefault(rc.Description, "Payment Receipt"),
	}, "&")
	return r.publicURL + "/api/payment/verify-qr?data=" + url.QueryEscape(data)
}

func (r *Renderer) Render(rc domain.Receipt) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(margin, margin, margin)
	doc.SetAutoPageBreak(false, margin)
	doc.SetTitle("Payment Receipt "+rc.TransactionID, true)
	doc.AddPage()
	tr := doc.UnicodeTranslatorFromDescriptor("")

	doc.SetFont("Helvetica", "B", 22)
	doc.CellFormat(0, 12, "PAYMENT RECEIPT", "", 1, "C", false, 0, "")
	separator(doc)
	doc.SetFont("Helvetica", "B", 12)
	doc.CellFormat(0, 8, systemName, "", 1, "C", false, 0, "")
	doc.Ln(4)

	top := doc.GetY()
	rows := [][2]string{
		{"Transaction ID:", orDefault(rc.TransactionID, notAvailable)},
		{"Payment ID:", orDefault(rc.PaymentID, notAvailable)},
		{"User Name:", orDefault(rc.UserName, notAvailable)},
		{"User Email:", orDefault(rc.Email, notAvailable)},
		{"Amount:", amount(rc) + " " + orDefault(rc.Currency, domain.DefaultCurrency)},
		{"Status:", orDefault(rc.Status, "PENDING")},
		{"Date:", date(rc.Date)},
		{"Description:", orDefault(rc.Description, notAvailable)},
	}
	doc.SetDrawColor(200, 200, 200)
	for _, row := range rows {
		doc.SetFont("Helvetica", "B", 10)
		doc.SetFillColor(220, 220, 220)
		doc.CellFormat(labelWidth, rowHeight, row[0], "1", 0, "L", true, 0, "")
		doc.SetFont("Helvetica", "", 10)
		doc.SetFillColor(255, 255, 255)
		doc.CellFormat(valueWidth, rowHeight, tr(clip(row[1])), "1", 1, "L", true, 0, "")
	}
	bottom := doc.GetY()

	r.qrBlock(doc, rc, margin+labelWidth+valueWidth+6, top)

	doc.SetY(bottom + 12)
	separator(doc)
	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(0, 7, "Thank you for your payment!", "", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 9)
	doc.CellFormat(0, 6, "Generated on: "+r.now().Format(dateLayout), "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// qrBlock draws the labelled QR code, or a placeholder box when the payload
// cannot be encoded.
func (r *Renderer) qrBlock(doc *fpdf.Fpdf, rc domain.Receipt, x, y float64) {
	width := qrSize + 4

	doc.SetXY(x, y)
	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(width, 6, "QR Code", "", 2, "C", false, 0, "")

	png, err := qrcode.Encode(r.VerificationURL(rc), qrcode.Medium, 300)
	if err != nil {
		doc.SetDrawColor(0, 0, 0)
		doc.SetFont("Helvetica", "", 10)
		doc.MultiCell(width, 6, "QR Code\nGeneration\nFailed", "1", "C", false)
		return
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	name := "qr-" + rc.TransactionID
	doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	imgY := doc.GetY()
	doc.SetDrawColor(0, 0, 0)
	doc.Rect(x, imgY, width, width, "D")
	doc.ImageOptions(name, x+2, imgY+2, qrSize, qrSize, false, opts, 0, "")

	doc.SetXY(x, imgY+width+1)
	doc.SetFont("Helvetica", "", 8)
	doc.CellFormat(width, 5, "Scan for verification", "", 2, "C", false, 0, "")
}

func separator(doc *fpdf.Fpdf) {
	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(0, 6, strings.Repeat("_", 50), "", 1, "C", false, 0, "")
}

func amount(rc domain.Receipt) string {
	if rc.Amount <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d.%02d", rc.Amount/100, rc.Amount%100)
}

func date(t time.Time) string {
	if t.IsZero() {
		return notAvailable
	}
	return t.Format(dateLayout)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxValue {
		return s
	}
	return string(r[:maxValue-3]) + "..."
}
