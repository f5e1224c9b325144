package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/gomail.v2"
)

//go:embed templates/*.html
var templates embed.FS

var confirmationTmpl = template.Must(template.ParseFS(templates, "templates/order_confirmation.html"))

// OrderConfirmation is what the buyer receives once an order completes.
type OrderConfirmation struct {
	To               string
	Name             string
	OrderID          string
	PaymentReference string
	LeadCount        int
	TotalCents       int64
	// Attachment is the CSV file name; AttachmentData its contents.
	Attachment     string
	AttachmentData []byte
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailSender struct {
	From   string
	dialer dialer
}

func NewEmailSender(host string, port int, user, password, from string) *EmailSender {
	return &EmailSender{
		From:   from,
		dialer: gomail.NewDialer(host, port, user, password),
	}
}

func (s *EmailSender) SendOrderConfirmation(c OrderConfirmation) error {
	m, err := s.buildConfirmation(c)
	if err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send confirmation for order %s: %w", c.OrderID, err)
	}
	return nil
}

func (s *EmailSender) buildConfirmation(c OrderConfirmation) (*gomail.Message, error) {
	var body bytes.Buffer
	err := confirmationTmpl.Execute(&body, map[string]any{
		"Name":             c.Name,
		"OrderID":          c.OrderID,
		"PaymentReference": c.PaymentReference,
		"LeadCount":        c.LeadCount,
		"Total":            decimal.New(c.TotalCents, -2).StringFixed(2),
		"Attachment":       c.Attachment,
	})
	if err != nil {
		return nil, fmt.Errorf("render confirmation template: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", c.To)
	m.SetHeader("Subject", fmt.Sprintf("Your %d leads are ready (order %s)", c.LeadCount, c.OrderID))
	m.SetBody("text/html", body.String())

	if c.Attachment != "" && len(c.AttachmentData) > 0 {
		data := c.AttachmentData
		m.Attach(c.Attachment,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {"text/csv; charset=utf-8"}}),
		)
	}
	return m, nil
}
