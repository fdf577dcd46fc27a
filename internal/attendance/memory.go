package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process Ledger for tests and single-node dev runs.
// One mutex serializes all appends, which trivially satisfies the
// per-employee exclusion Append requires.
type MemoryLedger struct {
	mu     sync.Mutex
	events map[string][]Event
	loc    *time.Location

	// Now is swappable in tests.
	Now func() time.Time
}

// NewMemoryLedger creates an empty ledger using loc for day boundaries.
func NewMemoryLedger(loc *time.Location) *MemoryLedger {
	if loc == nil {
		loc = time.Local
	}
	return &MemoryLedger{events: make(map[string][]Event), loc: loc, Now: time.Now}
}

// LastEvent returns the most recent event on any day, or nil.
func (l *MemoryLedger) LastEvent(ctx context.Context, employeeID string) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	evts := l.events[employeeID]
	if len(evts) == 0 {
		return nil, nil
	}
	evt := evts[len(evts)-1]
	return &evt, nil
}

// LastEventToday returns the most recent event within the current local day.
func (l *MemoryLedger) LastEventToday(ctx context.Context, employeeID string) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTodayLocked(employeeID), nil
}

// Append validates the transition under the lock and appends.
func (l *MemoryLedger) Append(ctx context.Context, emp Employee, deviceCode string, status Status) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lastStatus := StatusNone
	if last := l.lastTodayLocked(emp.ID); last != nil {
		lastStatus = last.Status
	}
	if err := Decide(status, lastStatus, emp.Name); err != nil {
		return Event{}, err
	}

	evt := Event{
		ID:         uuid.NewString(),
		EmployeeID: emp.ID,
		DeviceCode: deviceCode,
		Status:     status,
		OccurredAt: l.Now().In(l.loc),
		RawName:    emp.Name,
	}
	l.events[emp.ID] = append(l.events[emp.ID], evt)
	return evt, nil
}

// Events returns a copy of everything recorded for an employee.
func (l *MemoryLedger) Events(employeeID string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events[employeeID]...)
}

func (l *MemoryLedger) lastTodayLocked(employeeID string) *Event {
	now := l.Now().In(l.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc)
	end := start.Add(24 * time.Hour)

	evts := l.events[employeeID]
	for i := len(evts) - 1; i >= 0; i-- {
		t := evts[i].OccurredAt
		if !t.Before(start) && t.Before(end) {
			evt := evts[i]
			return &evt
		}
	}
	return nil
}

// MemoryDirectory is a map-backed Directory for tests.
type MemoryDirectory struct {
	mu        sync.RWMutex
	employees map[string]Employee
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{employees: make(map[string]Employee)}
}

// Add registers an employee by code.
func (d *MemoryDirectory) Add(emp Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[emp.Code] = emp
}

// FindByCode returns nil for an unknown code.
func (d *MemoryDirectory) FindByCode(ctx context.Context, code string) (*Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	emp, ok := d.employees[code]
	if !ok {
		return nil, nil
	}
	return &emp, nil
}
