package entity

// Projected status values for SpendRequest.Status
const (
	StatusDraft             = "DRAFT"
	StatusPendingApproval   = "PENDING_APPROVAL"
	StatusPartiallyApproved = "PARTIALLY_APPROVED"
	StatusApproved          = "APPROVED"
	StatusRejected          = "REJECTED"
)

// CancelMode selects how the cascade guard treats live downstream artifacts
type CancelMode string

const (
	CancelManual  CancelMode = "manual"
	CancelCascade CancelMode = "cascade"
)

// IsValid reports whether m is a known mode
func (m CancelMode) IsValid() bool {
	return m == CancelManual || m == CancelCascade
}

// SystemActor is recorded when no caller identity is supplied
const SystemActor = "system"
