package http

import (
	"errors"
	"net/http"

	"github.com/garyjia/spend-approval/internal/application/workflow"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
)

// Error codes carried in Response.Code
const (
	CodeRouteNotFound          = "ROUTE_NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED_APPROVER"
	CodeBudgetExceeded         = "BUDGET_EXCEEDED"
	CodeLifecycleBlocked       = "LIFECYCLE_BLOCKED"
	CodeCascadeAborted         = "CASCADE_ABORTED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeLockTimeout            = "LOCK_TIMEOUT"
	CodeNotFound               = "NOT_FOUND"
	CodeValidation             = "VALIDATION_FAILED"
	CodeStatusWrite            = "STATUS_WRITE_REJECTED"
	CodeInternal               = "INTERNAL"
)

// classify maps an engine error to an HTTP status, a code and the
// structured detail the caller needs to act on it. The family comes from
// workflow.Classify so metrics and responses agree.
func classify(err error) (int, string, interface{}) {
	switch workflow.Classify(err) {
	case workflow.FamilyRouteNotFound:
		routeErr := as[*apperr.RouteNotFoundError](err)
		return http.StatusUnprocessableEntity, CodeRouteNotFound, object{
			"route":       routeErr,
			"remediation": routeErr.Remediation(),
		}
	case workflow.FamilyUnauthorized:
		return http.StatusForbidden, CodeUnauthorized, as[*apperr.AuthorizationError](err)
	case workflow.FamilyBudgetExceeded:
		return http.StatusConflict, CodeBudgetExceeded, as[*apperr.BudgetExceededError](err)
	case workflow.FamilyLifecycleBlocked:
		return http.StatusConflict, CodeLifecycleBlocked, as[*apperr.LifecycleBlockedError](err)
	case workflow.FamilyCascadeAborted:
		return http.StatusConflict, CodeCascadeAborted, as[*apperr.CascadeAbortedError](err)
	case workflow.FamilyConflict:
		return http.StatusConflict, CodeConcurrentModification, as[*apperr.ConcurrentModificationError](err)
	case workflow.FamilyLockTimeout:
		return http.StatusConflict, CodeLockTimeout, nil
	case workflow.FamilyInvalidTransition:
		return http.StatusConflict, CodeInvalidTransition, nil
	case workflow.FamilyNotFound:
		return http.StatusNotFound, CodeNotFound, nil
	case workflow.FamilyValidation:
		return http.StatusBadRequest, CodeValidation, nil
	case workflow.FamilyStatusWrite:
		return http.StatusBadRequest, CodeStatusWrite, nil
	default:
		return http.StatusInternalServerError, CodeInternal, nil
	}
}

// as returns the first error in err's chain of type T
func as[T error](err error) T {
	var target T
	errors.As(err, &target)
	return target
}

// object is a shorthand for an ad-hoc JSON object
type object = map[string]interface{}
