package entity

import (
	"time"

	"github.com/garyjia/spend-approval/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

// SpendRequest is a request to spend against an organizational unit's budget.
// WorkflowState is authoritative; Status is written only by the projector.
type SpendRequest struct {
	ID            int64           `json:"id"`
	Requester     string          `json:"requester"`
	OrgUnit       string          `json:"org_unit"`
	Account       string          `json:"account"`
	FiscalPeriod  string          `json:"fiscal_period"`
	Categories    []string        `json:"categories"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description,omitempty"`
	WorkflowState workflow.State  `json:"workflow_state"`
	Status        string          `json:"status"`
	Cancelled     bool            `json:"cancelled"`
	CurrentLevel  int             `json:"current_level"`
	Route         []RouteLevel    `json:"route,omitempty"`
	RouteVersion  int64           `json:"route_version,omitempty"`
	Decisions     []LevelDecision `json:"decisions,omitempty"`
	ReservationID string          `json:"reservation_id,omitempty"`
	Lines         []*RequestLine  `json:"lines,omitempty"`
	Version       int64           `json:"version"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RequestLine is one target of a multi-target request, routed independently.
type RequestLine struct {
	ID            int64           `json:"id"`
	RequestID     int64           `json:"request_id"`
	OrgUnit       string          `json:"org_unit"`
	Account       string          `json:"account,omitempty"`
	Description   string          `json:"description,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	State         workflow.State  `json:"line_status"`
	CurrentLevel  int             `json:"current_level"`
	Route         []RouteLevel    `json:"route,omitempty"`
	Decisions     []LevelDecision `json:"decisions,omitempty"`
	ReservationID string          `json:"reservation_id,omitempty"`
}

// LevelDecision records what happened at one level. At most one of
// ApprovedAt and RejectedAt is set.
type LevelDecision struct {
	Level      int        `json:"level"`
	Approver   Approver   `json:"approver"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedBy string     `json:"rejected_by,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// IsMultiLine reports whether the request fans out to lines
func (r *SpendRequest) IsMultiLine() bool {
	return len(r.Lines) > 0
}

// BudgetKey is the ledger key the single-target request reserves against.
func (r *SpendRequest) BudgetKey() BudgetKey {
	return BudgetKey{OrgUnit: r.OrgUnit, Account: r.Account, FiscalPeriod: r.FiscalPeriod}
}

// LineBudgetKey is the ledger key for one line; the account falls back to the request's.
func (r *SpendRequest) LineBudgetKey(l *RequestLine) BudgetKey {
	account := l.Account
	if account == "" {
		account = r.Account
	}
	return BudgetKey{OrgUnit: l.OrgUnit, Account: account, FiscalPeriod: r.FiscalPeriod}
}

// Line returns the line with the given id
func (r *SpendRequest) Line(id int64) (*RequestLine, bool) {
	for _, l := range r.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// LineStates returns the per-line workflow states in line order
func (r *SpendRequest) LineStates() []workflow.State {
	states := make([]workflow.State, len(r.Lines))
	for i, l := range r.Lines {
		states[i] = l.State
	}
	return states
}

// LineTotal sums the line amounts
func (r *SpendRequest) LineTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Decision returns the decision for a level, creating it when absent.
func Decision(decisions *[]LevelDecision, level int, approver Approver) *LevelDecision {
	for i := range *decisions {
		if (*decisions)[i].Level == level {
			return &(*decisions)[i]
		}
	}
	*decisions = append(*decisions, LevelDecision{Level: level, Approver: approver})
	return &(*decisions)[len(*decisions)-1]
}

// Clone returns a deep copy of the request including its lines
func (r *SpendRequest) Clone() *SpendRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Categories = append([]string(nil), r.Categories...)
	out.Route = CloneRoute(r.Route)
	out.Decisions = cloneDecisions(r.Decisions)
	out.SubmittedAt = cloneTime(r.SubmittedAt)
	out.CancelledAt = cloneTime(r.CancelledAt)
	if r.Lines != nil {
		out.Lines = make([]*RequestLine, len(r.Lines))
		for i, l := range r.Lines {
			out.Lines[i] = l.Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of the line
func (l *RequestLine) Clone() *RequestLine {
	if l == nil {
		return nil
	}
	out := *l
	out.Route = CloneRoute(l.Route)
	out.Decisions = cloneDecisions(l.Decisions)
	return &out
}

func cloneDecisions(in []LevelDecision) []LevelDecision {
	if in == nil {
		return nil
	}
	out := make([]LevelDecision, len(in))
	for i, d := range in {
		out[i] = d
		out[i].ApprovedAt = cloneTime(d.ApprovedAt)
		out[i].RejectedAt = cloneTime(d.RejectedAt)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
