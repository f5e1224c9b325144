package usecase

import (
	"log/slog"
)

type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeFailed           Outcome = "failed"
)

type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Fulfillment steps in pipeline order.
const (
	StepCustomer      = "customer"
	StepAssemble      = "assemble_leads"
	StepFinalize      = "finalize_order"
	StepCRM           = "crm_sync"
	StepSuppress      = "suppress_leads"
	StepCartCleanup   = "cart_cleanup"
	StepDeletePending = "delete_pending"
)

type StepResult struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
	Detail string     `json:"detail,omitempty"`
}

// FulfillmentReport says what a run did. A completed run can still be
// degraded: best-effort steps that failed are listed here instead of failing
// the order.
type FulfillmentReport struct {
	Outcome          Outcome      `json:"outcome"`
	Reason           string       `json:"reason,omitempty"`
	Source           string       `json:"source"`
	PendingOrderID   string       `json:"pending_order_id,omitempty"`
	OrderID          string       `json:"order_id,omitempty"`
	PaymentReference string       `json:"payment_reference,omitempty"`
	LeadCount        int          `json:"lead_count"`
	Degraded         bool         `json:"degraded"`
	SuppressedLeads  int          `json:"suppressed_leads"`
	SuppressFailures []string     `json:"suppress_failures,omitempty"`
	MarkSoldFailures []string     `json:"mark_sold_failures,omitempty"`
	Steps            []StepResult `json:"steps,omitempty"`
	// Recovery is the operator command to run when the run stopped after
	// claiming the order.
	Recovery string `json:"recovery,omitempty"`
}

func (r *FulfillmentReport) FailedSteps() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			out = append(out, s)
		}
	}
	return out
}

func (r *FulfillmentReport) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// stepRunner records each step into the report. Fatal steps stop the run;
// best-effort steps are logged and the run continues.
type stepRunner struct {
	report *FulfillmentReport
	log    *slog.Logger
	steps  StepSet
}

func (s *stepRunner) run(name string, fatal bool, fn func() (string, error)) error {
	if !s.steps.Has(name) {
		s.report.Steps = append(s.report.Steps, StepResult{Name: name, Status: StepSkipped})
		return nil
	}

	detail, err := fn()
	if err == nil {
		s.report.Steps = append(s.report.Steps, StepResult{Name: name, Status: StepOK, Detail: detail})
		return nil
	}

	s.report.Steps = append(s.report.Steps, StepResult{Name: name, Status: StepFailed, Error: err.Error(), Detail: detail})
	if fatal {
		s.log.Error("fulfillment.step.failed", "step", name, "pending_order_id", s.report.PendingOrderID, "err", err)
		return err
	}
	s.report.Degraded = true
	s.log.Warn("fulfillment.step.degraded", "step", name, "pending_order_id", s.report.PendingOrderID, "err", err)
	return nil
}

// StepSet selects which pipeline steps a source runs.
type StepSet map[string]bool

func (s StepSet) Has(name string) bool {
	return s[name]
}

func stepSet(names ...string) StepSet {
	out := make(StepSet, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

var (
	allSteps      = stepSet(StepCustomer, StepAssemble, StepFinalize, StepCRM, StepSuppress, StepCartCleanup, StepDeletePending)
	recoverySteps = stepSet(StepCustomer, StepAssemble, StepFinalize, StepSuppress, StepDeletePending)
)
