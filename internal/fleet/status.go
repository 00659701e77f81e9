package fleet

import (
	"fmt"
	"strings"
)

// TicketStatus is the lifecycle state of a maintenance ticket.
// pending -> assigned -> in_progress -> completed (terminal).
type TicketStatus string

const (
	StatusPending    TicketStatus = "pending"
	StatusAssigned   TicketStatus = "assigned"
	StatusInProgress TicketStatus = "in_progress"
	StatusCompleted  TicketStatus = "completed"
)

// TicketStatuses lists every status in lifecycle order.
var TicketStatuses = []TicketStatus{StatusPending, StatusAssigned, StatusInProgress, StatusCompleted}

// OpenStatuses are the non-terminal statuses.
var OpenStatuses = []TicketStatus{StatusPending, StatusAssigned, StatusInProgress}

// ParseTicketStatus validates s against the fixed status set.
func ParseTicketStatus(s string) (TicketStatus, error) {
	st := TicketStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range TicketStatuses {
		if st == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s TicketStatus) Terminal() bool { return s == StatusCompleted }

// Severity of a detected fault.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("%w: severity %q", ErrInvalidInput, s)
}

// FaultStatus is open until resolved once.
type FaultStatus string

const (
	FaultOpen     FaultStatus = "open"
	FaultResolved FaultStatus = "resolved"
)
