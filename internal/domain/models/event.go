package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is the kind of activity reported by an endpoint agent
type EventType string

const (
	EventTypeLogin               EventType = "login"
	EventTypeFileAccess          EventType = "file_access"
	EventTypeNetwork             EventType = "network"
	EventTypePrivilegeEscalation EventType = "privilege_escalation"
	EventTypeFirewallChange      EventType = "firewall_change"
	EventTypePolicyViolation     EventType = "policy_violation"
	EventTypeProcessStart        EventType = "process_start"

	// legacy spelling still sent by older agents
	eventTypeFirewallLegacy EventType = "firewall"
)

// Normalize folds aliases onto their canonical event type
func (t EventType) Normalize() EventType {
	if t == eventTypeFirewallLegacy {
		return EventTypeFirewallChange
	}
	return t
}

// Event is a single recorded activity for an identity. Events are immutable once stored.
type Event struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Identity    string    `json:"identity" db:"identity"`
	Type        EventType `json:"type" db:"event_type"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	Location    *string   `json:"location,omitempty" db:"location"`
	SourceIP    *string   `json:"source_ip,omitempty" db:"source_ip"`
	Port        *int      `json:"port,omitempty" db:"port"`
	FilePath    *string   `json:"file_path,omitempty" db:"file_path"`
	Action      *string   `json:"action,omitempty" db:"action"`
	Success     bool      `json:"success" db:"success"`
	CPUUsage    *float64  `json:"cpu_usage,omitempty" db:"cpu_usage"`
	MemoryUsage *float64  `json:"memory_usage,omitempty" db:"memory_usage"`
	Details     string    `json:"details,omitempty" db:"details"`
}

// UnmarshalJSON treats an absent success flag as a successful event
func (e *Event) UnmarshalJSON(data []byte) error {
	type event Event
	aux := struct {
		*event
		Success *bool `json:"success"`
	}{event: (*event)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Success = aux.Success == nil || *aux.Success
	return nil
}

// Identity is a monitored person or endpoint
type Identity struct {
	ID               string    `json:"id" db:"id"`
	DisplayName      string    `json:"display_name" db:"display_name"`
	Department       string    `json:"department,omitempty" db:"department"`
	BaselineLocation *string   `json:"baseline_location,omitempty" db:"baseline_location"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Name returns the display name, falling back to the identity id
func (i *Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.ID
}
