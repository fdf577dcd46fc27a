package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"absensi/internal/doorlock"
	"absensi/internal/metrics"
	"absensi/internal/queue"
)

// MessageDoorEvent is the queue message type carrying a DoorEvent body.
const MessageDoorEvent = "door_event"

// NotFoundError means the submitted employee code matched nobody.
type NotFoundError struct {
	Code string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Kode karyawan %s tidak ditemukan", e.Code)
}

// InactiveError means the badge belongs to a deactivated employee.
type InactiveError struct {
	Name string
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("%s sudah tidak aktif", e.Name)
}

// DoorTrigger is the slice of the doorlock client the service needs.
type DoorTrigger interface {
	TriggerOpen(ctx context.Context, kode, status string) doorlock.Outcome
}

// Result is the successful outcome of one recorded event. DoorTriggered is
// informational; a failed door never fails the recording.
type Result struct {
	Name          string    `json:"nama"`
	Code          string    `json:"kode"`
	Status        Status    `json:"status"`
	Time          time.Time `json:"-"`
	DoorTriggered bool      `json:"door_triggered"`
}

// TodayStatus summarizes what an employee may still do today. The can_*
// flags are derived from the same transition table the kiosk enforces.
type TodayStatus struct {
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	LastStatus     Status     `json:"last_status"`
	LastTime       *time.Time `json:"last_time,omitempty"`
	CanClockIn     bool       `json:"can_clock_in"`
	CanClockOut    bool       `json:"can_clock_out"`
	CanOvertime    bool       `json:"can_overtime"`
	CanEndOvertime bool       `json:"can_end_overtime"`
}

// Service runs the check-in use case: directory lookup, rate guard,
// transition check, ledger append, then the best-effort door trigger.
type Service struct {
	dir    Directory
	ledger Ledger
	guard  *RateGuard
	door   DoorTrigger
	audit  queue.Queue      // may be nil
	mets   *metrics.Metrics // may be nil
}

// NewService wires the orchestrator. audit and mets are optional.
func NewService(dir Directory, ledger Ledger, guard *RateGuard, door DoorTrigger, audit queue.Queue, mets *metrics.Metrics) *Service {
	return &Service{dir: dir, ledger: ledger, guard: guard, door: door, audit: audit, mets: mets}
}

// RecordEvent records one attendance event for the employee code. The ledger
// append is the commit point: once it succeeds the call reports success even
// if the door trigger fails.
func (s *Service) RecordEvent(ctx context.Context, code string, status Status, deviceCode string) (Result, error) {
	emp, err := s.dir.FindByCode(ctx, code)
	if err != nil {
		return Result{}, fmt.Errorf("lookup employee %s: %w", code, err)
	}
	if emp == nil {
		s.mets.Rejected("not_found")
		return Result{}, &NotFoundError{Code: code}
	}
	if !emp.Active {
		s.mets.Rejected("inactive")
		return Result{}, &InactiveError{Name: emp.Name}
	}

	if err := s.guard.Check(ctx, emp.ID); err != nil {
		s.mets.Rejected("rate_limited")
		return Result{}, err
	}

	// Fast-path rejection without taking the per-employee exclusion.
	last, err := s.ledger.LastEventToday(ctx, emp.ID)
	if err != nil {
		return Result{}, fmt.Errorf("read last event: %w", err)
	}
	lastStatus := StatusNone
	if last != nil {
		lastStatus = last.Status
	}
	if err := Decide(status, lastStatus, emp.Name); err != nil {
		s.mets.Rejected("invalid_transition")
		return Result{}, err
	}

	// Append re-validates under the per-employee lock; a racing duplicate
	// surfaces here as a TransitionError with no row written.
	evt, err := s.ledger.Append(ctx, *emp, deviceCode, status)
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			s.mets.Rejected("invalid_transition")
			return Result{}, te
		}
		return Result{}, fmt.Errorf("append event: %w", err)
	}
	s.mets.Recorded(string(status))

	outcome := s.door.TriggerOpen(ctx, emp.Code, string(status))
	s.mets.DoorTriggered(outcome.Success)
	if !outcome.Success {
		log.Printf("doorlock trigger failed but attendance saved: kode=%s status=%s http=%d err=%q",
			emp.Code, status, outcome.HTTPStatus, outcome.Err)
	}
	s.publishAudit(ctx, emp.Code, evt, outcome)

	return Result{
		Name:          emp.Name,
		Code:          emp.Code,
		Status:        status,
		Time:          evt.OccurredAt,
		DoorTriggered: outcome.Success,
	}, nil
}

// CheckToday reports the employee's current position in the daily cycle.
func (s *Service) CheckToday(ctx context.Context, code string) (TodayStatus, error) {
	emp, err := s.dir.FindByCode(ctx, code)
	if err != nil {
		return TodayStatus{}, fmt.Errorf("lookup employee %s: %w", code, err)
	}
	if emp == nil {
		return TodayStatus{}, &NotFoundError{Code: code}
	}

	last, err := s.ledger.LastEventToday(ctx, emp.ID)
	if err != nil {
		return TodayStatus{}, fmt.Errorf("read last event: %w", err)
	}

	st := TodayStatus{Code: emp.Code, Name: emp.Name, LastStatus: StatusNone}
	if last != nil {
		st.LastStatus = last.Status
		t := last.OccurredAt
		st.LastTime = &t
	}
	st.CanClockIn = Decide(StatusMasuk, st.LastStatus, emp.Name) == nil
	st.CanClockOut = Decide(StatusPulang, st.LastStatus, emp.Name) == nil
	st.CanOvertime = Decide(StatusLembur, st.LastStatus, emp.Name) == nil
	st.CanEndOvertime = Decide(StatusPulangLembur, st.LastStatus, emp.Name) == nil
	return st, nil
}

func (s *Service) publishAudit(ctx context.Context, code string, evt Event, outcome doorlock.Outcome) {
	if s.audit == nil {
		return
	}
	body, err := json.Marshal(DoorEvent{
		DeviceCode:   evt.DeviceCode,
		EmployeeCode: code,
		Status:       evt.Status,
		HTTPStatus:   outcome.HTTPStatus,
		Response:     outcome.Body,
		Error:        outcome.Err,
		Success:      outcome.Success,
		AttemptedAt:  outcome.AttemptedAt,
	})
	if err != nil {
		return
	}
	if err := s.audit.Publish(ctx, queue.Message{Type: MessageDoorEvent, Body: body}); err != nil {
		log.Printf("door event publish failed: %v", err)
	}
}
