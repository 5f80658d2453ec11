package event

import (
	"testing"
	"time"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"submitted", TypeRequestSubmitted, true},
		{"level approved", TypeLevelApproved, true},
		{"status changed", TypeStatusChanged, true},
		{"reservation released", TypeReservationReleased, true},
		{"artifact cancel requested", TypeArtifactCancelRequest, true},
		{"artifact cancel aborted", TypeArtifactCancelAborted, true},
		{"unknown type", Type("unknown.type"), false},
		{"empty string", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now()
	evt := NewEvent(TypeLevelApproved, 123, "alice", map[string]interface{}{"level": 2})

	if evt.ID == "" {
		t.Error("Event ID should not be empty")
	}
	if evt.Type != TypeLevelApproved {
		t.Errorf("Event Type = %v, want %v", evt.Type, TypeLevelApproved)
	}
	if evt.RequestID != 123 {
		t.Errorf("Event RequestID = %v, want 123", evt.RequestID)
	}
	if evt.Actor != "alice" {
		t.Errorf("Event Actor = %v, want alice", evt.Actor)
	}
	if evt.CorrelationID == "" || evt.CorrelationID == evt.ID {
		t.Errorf("CorrelationID = %q should be set and distinct from ID", evt.CorrelationID)
	}
	if evt.Timestamp.Before(before) {
		t.Error("Timestamp should be set at creation")
	}
	if got := evt.GetPayloadInt("level"); got != 2 {
		t.Errorf("GetPayloadInt(level) = %d, want 2", got)
	}
}

func TestNewEvent_NilPayload(t *testing.T) {
	evt := NewEvent(TypeRequestSubmitted, 1, "", nil)
	if evt.Payload == nil {
		t.Fatal("Payload should be initialised")
	}
	if got := evt.GetPayloadString("missing"); got != "" {
		t.Errorf("GetPayloadString(missing) = %q, want empty", got)
	}
}

func TestEvent_Follow(t *testing.T) {
	parent := NewEvent(TypeRequestCancelled, 7, "bob", nil)
	child := parent.Follow(TypeReservationReleased, map[string]interface{}{"reservation_id": "r-1"})

	if child.CorrelationID != parent.CorrelationID {
		t.Errorf("child CorrelationID = %v, want %v", child.CorrelationID, parent.CorrelationID)
	}
	if child.ID == parent.ID {
		t.Error("child should get its own ID")
	}
	if child.RequestID != 7 || child.Actor != "bob" {
		t.Errorf("child = %+v, want request 7 actor bob", child)
	}
}

func TestEvent_WithPayload(t *testing.T) {
	original := NewEvent(TypeStatusChanged, 1, "", map[string]interface{}{"a": "x"})
	updated := original.WithPayload("b", true)

	if _, ok := original.Payload["b"]; ok {
		t.Error("WithPayload should not modify the original event")
	}
	if !updated.GetPayloadBool("b") {
		t.Error("updated event should carry the new key")
	}
	if updated.GetPayloadString("a") != "x" {
		t.Error("updated event should keep existing keys")
	}
	if updated.ID != original.ID {
		t.Error("WithPayload should keep the event ID")
	}
}

func TestEvent_GetPayloadInt_Conversions(t *testing.T) {
	evt := NewEvent(TypeStatusChanged, 1, "", map[string]interface{}{
		"i":   5,
		"i64": int64(6),
		"f":   float64(7),
		"s":   "8",
	})

	tests := map[string]int64{"i": 5, "i64": 6, "f": 7, "s": 0, "none": 0}
	for key, want := range tests {
		if got := evt.GetPayloadInt(key); got != want {
			t.Errorf("GetPayloadInt(%s) = %d, want %d", key, got, want)
		}
	}
}
