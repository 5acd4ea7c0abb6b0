package enums

import "fmt"

// TicketStatus tracks the lifecycle of an escalation support ticket.
type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketResolved TicketStatus = "resolved"
)

var validTicketStatuses = []TicketStatus{
	TicketOpen,
	TicketResolved,
}

// String returns the literal string for the status.
func (t TicketStatus) String() string {
	return string(t)
}

// IsValid reports whether the status is known.
func (t TicketStatus) IsValid() bool {
	for _, candidate := range validTicketStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTicketStatus converts raw input into a TicketStatus.
func ParseTicketStatus(value string) (TicketStatus, error) {
	for _, candidate := range validTicketStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ticket status %q", value)
}
