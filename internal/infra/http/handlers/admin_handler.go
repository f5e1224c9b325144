package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xavierca1/lead-market/internal/infra/http/middleware"
	"github.com/xavierca1/lead-market/internal/usecase"
)

type (
	PaymentRecoverer interface {
		Execute(ctx context.Context, input usecase.RecoverFromPaymentInput) (*usecase.FulfillmentReport, error)
	}
	StuckOrderRecoverer interface {
		Execute(ctx context.Context, input usecase.RecoverStuckOrderInput) (*usecase.FulfillmentReport, error)
	}
	LeadReplacer interface {
		Execute(ctx context.Context, input usecase.ReplaceLeadsInput) (*usecase.ReplaceLeadsOutput, error)
	}
	PaymentRefunder interface {
		Execute(ctx context.Context, input usecase.RefundInput) (*usecase.RefundOutput, error)
	}
)

// AdminHandler exposes the operator recovery tools. Authorization is enforced
// by the use cases from the actor on the request context.
type AdminHandler struct {
	Recover      PaymentRecoverer
	RecoverStuck StuckOrderRecoverer
	Replace      LeadReplacer
	Refund       PaymentRefunder
	Log          *slog.Logger
}

func NewAdminHandler(recover PaymentRecoverer, stuck StuckOrderRecoverer, replace LeadReplacer, refund PaymentRefunder, log *slog.Logger) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{Recover: recover, RecoverStuck: stuck, Replace: replace, Refund: refund, Log: log}
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Post("/orders/recover", h.RecoverOrder)
	r.Post("/orders/recover-stuck", h.RecoverStuckOrder)
	r.Post("/orders/{id}/replace-leads", h.ReplaceLeads)
	r.Post("/refunds", h.RefundPayment)
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidation, Message: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (h *AdminHandler) RecoverOrder(w http.ResponseWriter, r *http.Request) {
	var input usecase.RecoverFromPaymentInput
	if !h.decode(w, r, &input) {
		return
	}
	report, err := h.Recover.Execute(r.Context(), input)
	if err != nil {
		writeError(w, h.Log, err, true)
		return
	}
	middleware.RecordFulfillment(report.Source, string(report.Outcome))
	middleware.RecordLeadsSuppressed(report.SuppressedLeads)
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) RecoverStuckOrder(w http.ResponseWriter, r *http.Request) {
	var input usecase.RecoverStuckOrderInput
	if !h.decode(w, r, &input) {
		return
	}
	report, err := h.RecoverStuck.Execute(r.Context(), input)
	if err != nil {
		writeError(w, h.Log, err, true)
		return
	}
	middleware.RecordFulfillment(report.Source, string(report.Outcome))
	middleware.RecordLeadsSuppressed(report.SuppressedLeads)
	writeJSON(w, http.StatusOK, report)
}

// ReplaceLeadsRequest is the wire form of a snapshot repair. Rejected states
// select leads to swap out; allowed states, when given, restrict the
// replacements.
type ReplaceLeadsRequest struct {
	RejectStates []string `json:"reject_states"`
	AllowStates  []string `json:"allow_states,omitempty"`
}

func (req ReplaceLeadsRequest) Input(orderID string) usecase.ReplaceLeadsInput {
	in := usecase.ReplaceLeadsInput{OrderID: orderID}
	if reject := nonBlank(req.RejectStates); len(reject) > 0 {
		in.Reject = usecase.LeadFilter{States: reject}.Predicate()
	}
	if allow := nonBlank(req.AllowStates); len(allow) > 0 {
		in.Allow = usecase.LeadFilter{States: allow}.Predicate()
	}
	return in
}

func (h *AdminHandler) ReplaceLeads(w http.ResponseWriter, r *http.Request) {
	var req ReplaceLeadsRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.Replace.Execute(r.Context(), req.Input(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, h.Log, err, true)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var input usecase.RefundInput
	if !h.decode(w, r, &input) {
		return
	}
	out, err := h.Refund.Execute(r.Context(), input)
	if err != nil {
		writeError(w, h.Log, err, true)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
