package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/xavierca1/lead-market/internal/entity"
	"github.com/xavierca1/lead-market/internal/infra/integration/kommo"
	"github.com/xavierca1/lead-market/internal/infra/mail"
	"github.com/xavierca1/lead-market/internal/infra/queue"
)

type MockCRM struct {
	mock.Mock
}

func (m *MockCRM) SyncOrder(ctx context.Context, input kommo.SyncOrderInput) (int, error) {
	args := m.Called(ctx, input)
	return args.Int(0), args.Error(1)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendOrderConfirmation(c mail.OrderConfirmation) error {
	return m.Called(c).Error(0)
}

func payload() queue.OrderCompletedPayload {
	return queue.OrderCompletedPayload{
		OrderID:          "order-1",
		CustomerEmail:    "buyer@example.com",
		PaymentReference: "pi_test1",
		TotalCents:       1250,
		LeadCount:        2,
		Leads: []entity.Lead{
			{LeadID: "life_4", Type: entity.LeadTypeLife},
			{LeadID: "final_expense_10", Type: entity.LeadTypeFinalExpense},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleOrderCompleted(t *testing.T) {
	crm := new(MockCRM)
	crm.On("SyncOrder", mock.Anything, mock.MatchedBy(func(in kommo.SyncOrderInput) bool {
		return in.OrderID == "order-1" && len(in.LeadTypes) == 2 && in.LeadTypes[0] == "final_expense"
	})).Return(7, nil)
	mailer := new(MockMailer)
	mailer.On("SendOrderConfirmation", mock.MatchedBy(func(c mail.OrderConfirmation) bool {
		return c.Attachment == "leads-order-1.csv" && strings.Contains(string(c.AttachmentData), "life_4")
	})).Return(nil)

	d := NewDispatcher(crm, mailer, quietLogger())
	assert.NoError(t, d.PublishOrderCompleted(context.Background(), payload()))

	crm.AssertExpectations(t)
	mailer.AssertExpectations(t)
}

func TestHandleOrderCompletedCRMDownStillEmails(t *testing.T) {
	crm := new(MockCRM)
	crm.On("SyncOrder", mock.Anything, mock.Anything).Return(0, errors.New("crm 502"))
	mailer := new(MockMailer)
	mailer.On("SendOrderConfirmation", mock.Anything).Return(nil)

	err := NewDispatcher(crm, mailer, quietLogger()).HandleOrderCompleted(context.Background(), payload())

	assert.ErrorContains(t, err, "crm 502")
	mailer.AssertNumberOfCalls(t, "SendOrderConfirmation", 1)
}

func TestHandleOrderCompletedCRMNotConfigured(t *testing.T) {
	crm := new(MockCRM)
	crm.On("SyncOrder", mock.Anything, mock.Anything).Return(0, kommo.ErrNotConfigured)

	err := NewDispatcher(crm, nil, quietLogger()).HandleOrderCompleted(context.Background(), payload())
	assert.NoError(t, err)
}
