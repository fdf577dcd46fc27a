package attendance

import (
	"context"
	"strings"
	"time"
)

// Status is a recorded attendance state. The zero value means the employee
// has no event yet today.
type Status string

const (
	StatusNone         Status = ""
	StatusMasuk        Status = "masuk"
	StatusPulang       Status = "pulang"
	StatusLembur       Status = "lembur"
	StatusPulangLembur Status = "pulang_lembur"
)

// ParseStatus normalizes a client-supplied status string. Historical clients
// send mixed case and "pulang lembur" with a space.
func ParseStatus(raw string) (Status, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	switch Status(s) {
	case StatusMasuk, StatusPulang, StatusLembur, StatusPulangLembur:
		return Status(s), true
	}
	return StatusNone, false
}

// Employee is the directory's view of a badge holder.
type Employee struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Event is one appended attendance record. Events are never updated or
// deleted here; corrections happen through admin tooling.
type Event struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	DeviceCode string    `json:"device_code"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
	RawName    string    `json:"raw_name,omitempty"`
}

// DoorEvent is the audit record of one doorlock trigger attempt. It is
// persisted out of band by the worker; losing one never affects attendance.
type DoorEvent struct {
	DeviceCode   string    `json:"device_code"`
	EmployeeCode string    `json:"employee_code"`
	Status       Status    `json:"status"`
	HTTPStatus   int       `json:"http_status"`
	Response     string    `json:"response,omitempty"`
	Error        string    `json:"error,omitempty"`
	Success      bool      `json:"success"`
	AttemptedAt  time.Time `json:"attempted_at"`
}

// Ledger is the append-only attendance event store.
//
// Append must serialize concurrent appends for the same employee and
// re-validate the transition while holding that exclusion, so two racing
// submissions can never both be accepted against the same prior state.
// A losing append returns *TransitionError.
type Ledger interface {
	// LastEvent returns the employee's most recent event on any day, or nil.
	LastEvent(ctx context.Context, employeeID string) (*Event, error)
	// LastEventToday returns the most recent event within the current local
	// calendar day, or nil.
	LastEventToday(ctx context.Context, employeeID string) (*Event, error)
	Append(ctx context.Context, emp Employee, deviceCode string, status Status) (Event, error)
}

// Directory resolves employee codes. FindByCode returns nil (not an error)
// for an unknown code; inactive employees are returned so the caller can
// name them in the rejection.
type Directory interface {
	FindByCode(ctx context.Context, code string) (*Employee, error)
}
