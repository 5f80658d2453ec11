package entity

import "time"

// ArtifactKind is the type of a downstream document
type ArtifactKind string

const (
	ArtifactInvoice    ArtifactKind = "INVOICE"
	ArtifactSettlement ArtifactKind = "SETTLEMENT"
)

// ArtifactState is the downstream document's own submission state
type ArtifactState string

const (
	ArtifactDraft     ArtifactState = "DRAFT"
	ArtifactSubmitted ArtifactState = "SUBMITTED"
	ArtifactCancelled ArtifactState = "CANCELLED"
)

// IsValid reports whether k is a known kind
func (k ArtifactKind) IsValid() bool {
	return k == ArtifactInvoice || k == ArtifactSettlement
}

// IsValid reports whether s is a known state
func (s ArtifactState) IsValid() bool {
	return s == ArtifactDraft || s == ArtifactSubmitted || s == ArtifactCancelled
}

// LifecycleLink ties a request to a downstream artifact.
// UpstreamLinkID names the link this artifact was created from; nil means
// the artifact hangs directly off the request.
type LifecycleLink struct {
	ID             int64         `json:"id"`
	RequestID      int64         `json:"request_id"`
	Kind           ArtifactKind  `json:"kind"`
	ArtifactID     string        `json:"artifact_id"`
	ArtifactName   string        `json:"artifact_name"`
	State          ArtifactState `json:"state"`
	UpstreamLinkID *int64        `json:"upstream_link_id,omitempty"`
	Locked         bool          `json:"locked"`
	LockReason     string        `json:"lock_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsLive reports whether the artifact still blocks cancellation
func (l *LifecycleLink) IsLive() bool {
	return l.State != ArtifactCancelled
}

// Clone returns a copy safe to mutate
func (l *LifecycleLink) Clone() *LifecycleLink {
	out := *l
	if l.UpstreamLinkID != nil {
		v := *l.UpstreamLinkID
		out.UpstreamLinkID = &v
	}
	return &out
}
