// Package apperr defines the errors the approval engine returns to callers.
// Every type carries enough structured detail for the caller to fix the
// problem without reading logs.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input fails validation
	ErrValidation = errors.New("validation failed")

	// ErrStatusWrite is returned when status does not match the projected workflow state
	ErrStatusWrite = errors.New("status may only be written by a workflow transition")
)

// MissingApprover names one level whose approver could not be resolved
type MissingApprover struct {
	Level    int             `json:"level"`
	Approver entity.Approver `json:"approver"`
	Reason   string          `json:"reason"`
}

// RouteNotFoundError means no usable approval route exists for the request.
type RouteNotFoundError struct {
	OrgUnit    string            `json:"org_unit"`
	Categories []string          `json:"categories,omitempty"`
	LineID     int64             `json:"line_id,omitempty"`
	Missing    []MissingApprover `json:"missing,omitempty"`
}

func (e *RouteNotFoundError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("no approval route configured for org unit %q: %s", e.OrgUnit, e.Remediation())
	}
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = fmt.Sprintf("level %d %s (%s)", m.Level, m.Approver, m.Reason)
	}
	return fmt.Sprintf("approval route for org unit %q cannot be resolved: %s", e.OrgUnit, strings.Join(parts, "; "))
}

// Remediation tells the operator what to change
func (e *RouteNotFoundError) Remediation() string {
	if len(e.Missing) == 0 {
		return "add an approval route setting for the org unit or a default route without categories"
	}
	return "enable the listed approvers, add members to the listed roles, or update the route setting"
}

// AuthorizationError means the actor may not decide the current level.
type AuthorizationError struct {
	RequestID int64           `json:"request_id"`
	LineID    int64           `json:"line_id,omitempty"`
	Level     int             `json:"level"`
	Actor     string          `json:"actor"`
	Expected  entity.Approver `json:"expected"`
	Reason    string          `json:"reason"`
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %q may not act on level %d of request %d: %s (expected %s)",
		e.Actor, e.Level, e.RequestID, e.Reason, e.Expected)
}

// BudgetExceededError means a reservation would overdraw its key.
type BudgetExceededError struct {
	Key       entity.BudgetKey `json:"key"`
	Requested decimal.Decimal  `json:"requested"`
	Available decimal.Decimal  `json:"available"`
	Reserved  decimal.Decimal  `json:"reserved"`
	Total     decimal.Decimal  `json:"total"`
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget %s exceeded: requested %s, available %s (total %s, reserved %s)",
		e.Key, e.Requested, e.Available, e.Total, e.Reserved)
}

// BlockingArtifact is a live downstream document that prevents cancellation
type BlockingArtifact struct {
	LinkID     int64                `json:"link_id"`
	Kind       entity.ArtifactKind  `json:"kind"`
	ArtifactID string               `json:"artifact_id"`
	Name       string               `json:"name"`
	State      entity.ArtifactState `json:"state"`
}

// LifecycleBlockedError is the guidance returned by a manual cancel that
// still has live downstream artifacts.
type LifecycleBlockedError struct {
	RequestID int64              `json:"request_id"`
	Blocking  []BlockingArtifact `json:"blocking"`
	Order     []string           `json:"order"`
	Remedies  []string           `json:"remedies"`
}

func (e *LifecycleBlockedError) Error() string {
	names := make([]string, len(e.Blocking))
	for i, b := range e.Blocking {
		names[i] = fmt.Sprintf("%s %s (%s)", strings.ToLower(string(b.Kind)), b.Name, b.State)
	}
	return fmt.Sprintf("request %d has live downstream artifacts: %s; cancel in order %s or retry with mode=cascade",
		e.RequestID, strings.Join(names, ", "), strings.Join(e.Order, " -> "))
}

// ConcurrentModificationError means the transition lost a race and may be
// retried once after refetching.
type ConcurrentModificationError struct {
	RequestID int64  `json:"request_id"`
	Expected  int64  `json:"expected_version"`
	Actual    int64  `json:"actual_version"`
	Reason    string `json:"reason,omitempty"`
}

func (e *ConcurrentModificationError) Error() string {
	msg := fmt.Sprintf("request %d was modified concurrently (expected version %d, found %d)", e.RequestID, e.Expected, e.Actual)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// CascadeAbortedError means a cascade cancel rolled back without cancelling anything.
type CascadeAbortedError struct {
	RequestID  int64  `json:"request_id"`
	LinkID     int64  `json:"link_id"`
	ArtifactID string `json:"artifact_id"`
	Cause      error  `json:"-"`
}

func (e *CascadeAbortedError) Error() string {
	return fmt.Sprintf("cascade cancel of request %d aborted at artifact %s: %v", e.RequestID, e.ArtifactID, e.Cause)
}

func (e *CascadeAbortedError) Unwrap() error {
	return e.Cause
}

// Validationf wraps ErrValidation with a formatted message
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
