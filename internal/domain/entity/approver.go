package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ApproverKind tags the Approver variant
type ApproverKind string

const (
	ApproverIdentity ApproverKind = "IDENTITY"
	ApproverRole     ApproverKind = "ROLE"
)

// Approver is either a named identity or a role.
// Roles expand to concrete identities only when an approval is checked.
type Approver struct {
	Kind  ApproverKind `json:"kind" yaml:"kind"`
	Value string       `json:"value" yaml:"value"`
}

// Identity returns an approver bound to one user id.
func Identity(id string) Approver {
	return Approver{Kind: ApproverIdentity, Value: id}
}

// Role returns an approver satisfied by any enabled member of a role.
func Role(name string) Approver {
	return Approver{Kind: ApproverRole, Value: name}
}

// String renders the approver as "identity:<id>" or "role:<name>".
func (a Approver) String() string {
	switch a.Kind {
	case ApproverIdentity:
		return "identity:" + a.Value
	case ApproverRole:
		return "role:" + a.Value
	default:
		return a.Value
	}
}

// IsZero reports whether no approver is set
func (a Approver) IsZero() bool {
	return a.Kind == "" && a.Value == ""
}

// ParseApprover parses the String form back into an Approver.
func ParseApprover(s string) (Approver, error) {
	kind, value, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || value == "" {
		return Approver{}, fmt.Errorf("invalid approver %q: expected identity:<id> or role:<name>", s)
	}
	switch strings.ToLower(kind) {
	case "identity", "user":
		return Identity(value), nil
	case "role":
		return Role(value), nil
	default:
		return Approver{}, fmt.Errorf("invalid approver kind %q in %q", kind, s)
	}
}

// RouteLevel is one approval stage bound to an amount band.
// UpperBound nil means the band is open-ended.
type RouteLevel struct {
	Level      int              `json:"level"`
	LowerBound decimal.Decimal  `json:"lower_bound"`
	UpperBound *decimal.Decimal `json:"upper_bound,omitempty"`
	Approver   Approver         `json:"approver"`
}

// ApprovalRouteSetting holds the levels configured for one organizational unit.
// An empty Categories list makes it the org unit's default route.
type ApprovalRouteSetting struct {
	ID         int64        `json:"id"`
	OrgUnit    string       `json:"org_unit"`
	Categories []string     `json:"categories,omitempty"`
	Levels     []RouteLevel `json:"levels"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// IsDefault reports whether the setting applies regardless of category
func (s ApprovalRouteSetting) IsDefault() bool {
	return len(s.Categories) == 0
}

// Clone returns a deep copy of the setting
func (s ApprovalRouteSetting) Clone() ApprovalRouteSetting {
	out := s
	out.Categories = append([]string(nil), s.Categories...)
	out.Levels = CloneRoute(s.Levels)
	return out
}

// CloneRoute deep copies a route so snapshots never share bound pointers.
func CloneRoute(levels []RouteLevel) []RouteLevel {
	if levels == nil {
		return nil
	}
	out := make([]RouteLevel, len(levels))
	for i, l := range levels {
		out[i] = l
		if l.UpperBound != nil {
			u := *l.UpperBound
			out[i].UpperBound = &u
		}
	}
	return out
}
