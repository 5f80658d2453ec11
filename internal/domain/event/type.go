package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestSubmitted      Type = "request.submitted"
	TypeLevelApproved         Type = "request.level_approved"
	TypeRequestRejected       Type = "request.rejected"
	TypeRequestCancelled      Type = "request.cancelled"
	TypeRequestReopened       Type = "request.reopened"
	TypeStatusChanged         Type = "request.status_changed"
	TypeReservationLocked     Type = "reservation.locked"
	TypeReservationReleased   Type = "reservation.released"
	TypeArtifactReported      Type = "artifact.reported"
	TypeArtifactCancelRequest Type = "artifact.cancel_requested"
	TypeArtifactCancelCommit  Type = "artifact.cancel_committed"
	TypeArtifactCancelAborted Type = "artifact.cancel_aborted"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestSubmitted,
		TypeLevelApproved,
		TypeRequestRejected,
		TypeRequestCancelled,
		TypeRequestReopened,
		TypeStatusChanged,
		TypeReservationLocked,
		TypeReservationReleased,
		TypeArtifactReported,
		TypeArtifactCancelRequest,
		TypeArtifactCancelCommit,
		TypeArtifactCancelAborted:
		return true
	default:
		return false
	}
}
