package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance data in Postgres. It implements Ledger and
// Directory, and owns the door-event audit table filled by the worker.
type Repository struct {
	db  *sql.DB
	loc *time.Location

	// Now is swappable in tests.
	Now func() time.Time
}

// NewRepository creates a repo. loc defines the calendar-day boundary for
// "today" queries; attendance is a local-time business rule, not UTC.
func NewRepository(db *sql.DB, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.Local
	}
	return &Repository{db: db, loc: loc, Now: time.Now}
}

// EnsureSchema creates the tables on startup when they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id          TEXT PRIMARY KEY,
		code        TEXT UNIQUE NOT NULL,
		name        TEXT NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_logs (
		id           TEXT PRIMARY KEY,
		employee_id  TEXT NOT NULL REFERENCES employees(id),
		device_code  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		occurred_at  TIMESTAMPTZ NOT NULL,
		raw_name     TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_employee_time
		ON attendance_logs(employee_id, occurred_at DESC);

	CREATE TABLE IF NOT EXISTS door_events (
		id            TEXT PRIMARY KEY,
		device_code   TEXT NOT NULL DEFAULT '',
		employee_code TEXT,
		status        TEXT NOT NULL,
		http_status   INT,
		response      TEXT,
		error         TEXT,
		success       BOOLEAN NOT NULL DEFAULT FALSE,
		attempted_at  TIMESTAMPTZ NOT NULL
	);
	`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// FindByCode resolves a badge code; nil means unknown. Inactive employees
// are returned so the caller can reject them by name.
func (r *Repository) FindByCode(ctx context.Context, code string) (*Employee, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, is_active FROM employees WHERE code = $1
	`, code)
	var e Employee
	if err := row.Scan(&e.ID, &e.Code, &e.Name, &e.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// LastEvent returns the employee's most recent event on any day.
func (r *Repository) LastEvent(ctx context.Context, employeeID string) (*Event, error) {
	return scanEvent(r.db.QueryRowContext(ctx, `
		SELECT id, employee_id, device_code, status, occurred_at, raw_name
		FROM attendance_logs
		WHERE employee_id = $1
		ORDER BY occurred_at DESC
		LIMIT 1
	`, employeeID))
}

// LastEventToday returns the most recent event within the current local day.
func (r *Repository) LastEventToday(ctx context.Context, employeeID string) (*Event, error) {
	start, end := r.dayBounds(r.Now())
	return scanEvent(r.db.QueryRowContext(ctx, `
		SELECT id, employee_id, device_code, status, occurred_at, raw_name
		FROM attendance_logs
		WHERE employee_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at DESC
		LIMIT 1
	`, employeeID, start, end))
}

// Append writes a new event after re-validating the transition while holding
// a per-employee advisory lock, so two racing submissions serialize and the
// loser gets a TransitionError instead of a duplicate row.
func (r *Repository) Append(ctx context.Context, emp Employee, deviceCode string, status Status) (Event, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, emp.ID); err != nil {
		return Event{}, err
	}

	now := r.Now().In(r.loc)
	start, end := r.dayBounds(now)
	last, err := scanEvent(tx.QueryRowContext(ctx, `
		SELECT id, employee_id, device_code, status, occurred_at, raw_name
		FROM attendance_logs
		WHERE employee_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at DESC
		LIMIT 1
	`, emp.ID, start, end))
	if err != nil {
		return Event{}, err
	}
	lastStatus := StatusNone
	if last != nil {
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
		OccurredAt: now,
		RawName:    emp.Name,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_logs (id, employee_id, device_code, status, occurred_at, raw_name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.ID, evt.EmployeeID, evt.DeviceCode, evt.Status, evt.OccurredAt, evt.RawName); err != nil {
		return Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// InsertDoorEvent stores one door trigger outcome for the audit trail.
func (r *Repository) InsertDoorEvent(ctx context.Context, de DoorEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO door_events (id, device_code, employee_code, status, http_status, response, error, success, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.NewString(), de.DeviceCode, de.EmployeeCode, de.Status, de.HTTPStatus, de.Response, de.Error, de.Success, de.AttemptedAt)
	return err
}

// LogRow is one attendance log joined with its employee for display.
type LogRow struct {
	ID           string    `json:"id"`
	EmployeeCode string    `json:"employee_code"`
	EmployeeName string    `json:"employee_name"`
	Status       Status    `json:"status"`
	DeviceCode   string    `json:"device_code"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ListLogs returns logs for one local calendar day, optionally filtered by
// employee code, newest first.
func (r *Repository) ListLogs(ctx context.Context, day time.Time, employeeCode string, limit int) ([]LogRow, error) {
	if limit <= 0 {
		limit = 50
	}
	start, end := r.dayBounds(day.In(r.loc))

	query := `
		SELECT al.id, e.code, e.name, al.status, al.device_code, al.occurred_at
		FROM attendance_logs al
		JOIN employees e ON al.employee_id = e.id
		WHERE al.occurred_at >= $1 AND al.occurred_at < $2`
	args := []any{start, end}
	if employeeCode != "" {
		query += ` AND e.code = $3`
		args = append(args, employeeCode)
	}
	query += ` ORDER BY al.occurred_at DESC LIMIT ` + itoa(limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []LogRow
	for rows.Next() {
		var lr LogRow
		if err := rows.Scan(&lr.ID, &lr.EmployeeCode, &lr.EmployeeName, &lr.Status, &lr.DeviceCode, &lr.OccurredAt); err != nil {
			return nil, err
		}
		res = append(res, lr)
	}
	return res, rows.Err()
}

// Summary counts distinct employees per status for today.
type Summary struct {
	TotalMasuk     int `json:"total_masuk"`
	TotalPulang    int `json:"total_pulang"`
	TotalLembur    int `json:"total_lembur"`
	TotalActivity  int `json:"total_activity"`
	TotalEmployees int `json:"total_employees"`
}

// TodaySummary aggregates today's attendance for the kiosk dashboard.
func (r *Repository) TodaySummary(ctx context.Context) (Summary, error) {
	start, end := r.dayBounds(r.Now())
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT CASE WHEN status = 'masuk' THEN employee_id END),
			COUNT(DISTINCT CASE WHEN status = 'pulang' THEN employee_id END),
			COUNT(DISTINCT CASE WHEN status = 'lembur' THEN employee_id END),
			COUNT(DISTINCT employee_id),
			(SELECT COUNT(*) FROM employees WHERE is_active)
		FROM attendance_logs
		WHERE occurred_at >= $1 AND occurred_at < $2
	`, start, end)
	var s Summary
	if err := row.Scan(&s.TotalMasuk, &s.TotalPulang, &s.TotalLembur, &s.TotalActivity, &s.TotalEmployees); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// UpsertEmployee creates or updates a directory entry (admin seeding).
func (r *Repository) UpsertEmployee(ctx context.Context, emp Employee) error {
	if emp.ID == "" {
		emp.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO employees (id, code, name, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			is_active = EXCLUDED.is_active
	`, emp.ID, emp.Code, emp.Name, emp.Active)
	return err
}

func (r *Repository) dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.In(r.loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
	return start, start.Add(24 * time.Hour)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var evt Event
	var rawName sql.NullString
	if err := row.Scan(&evt.ID, &evt.EmployeeID, &evt.DeviceCode, &evt.Status, &evt.OccurredAt, &rawName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	evt.RawName = rawName.String
	return &evt, nil
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
