package entity

import "time"

// ApprovalHistory is the audit trail row written by every transition
type ApprovalHistory struct {
	ID             int64     `json:"id"`
	RequestID      int64     `json:"request_id"`
	LineID         int64     `json:"line_id,omitempty"`
	Actor          string    `json:"actor"`
	PreviousState  string    `json:"previous_state"`
	NewState       string    `json:"new_state"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ActionType     string    `json:"action_type"`
	ActionData     string    `json:"action_data"`
	Timestamp      time.Time `json:"timestamp"`
}

// User is the identity directory's view of a person
type User struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Roles   []string `json:"roles,omitempty" yaml:"roles"`
}

// HasRole reports whether the user holds a role
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
