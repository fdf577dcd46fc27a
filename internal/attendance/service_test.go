package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"absensi/internal/attendance"
	"absensi/internal/doorlock"
	"absensi/internal/queue"
)

// fakeDoor records trigger calls and returns a configurable outcome.
type fakeDoor struct {
	mu      sync.Mutex
	calls   int
	succeed bool
}

func (d *fakeDoor) TriggerOpen(ctx context.Context, kode, status string) doorlock.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.succeed {
		return doorlock.Outcome{AttemptedAt: time.Now(), Success: true, HTTPStatus: 200}
	}
	return doorlock.Outcome{AttemptedAt: time.Now(), HTTPStatus: 500, Err: "connection timed out"}
}

func (d *fakeDoor) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fixture struct {
	svc    *attendance.Service
	ledger *attendance.MemoryLedger
	dir    *attendance.MemoryDirectory
	door   *fakeDoor
	clk    *testClock
	audit  *queue.InMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := newTestClock(time.Date(2025, 3, 10, 8, 0, 0, 0, jakarta))
	ledger := attendance.NewMemoryLedger(jakarta)
	ledger.Now = clk.now
	dir := attendance.NewMemoryDirectory()
	dir.Add(attendance.Employee{ID: "emp-1", Code: "E001", Name: "Budi", Active: true})
	dir.Add(attendance.Employee{ID: "emp-2", Code: "E002", Name: "Sari", Active: false})
	guard := attendance.NewRateGuard(ledger, 5*time.Second)
	guard.Now = clk.now
	door := &fakeDoor{succeed: true}
	audit := queue.NewInMemory(16)
	return &fixture{
		svc:    attendance.NewService(dir, ledger, guard, door, audit, nil),
		ledger: ledger,
		dir:    dir,
		door:   door,
		clk:    clk,
		audit:  audit,
	}
}

func (f *fixture) record(t *testing.T, code string, status attendance.Status) (attendance.Result, error) {
	t.Helper()
	return f.svc.RecordEvent(context.Background(), code, status, "KIOSK-01")
}

func TestRecordEvent_ClockIn(t *testing.T) {
	f := newFixture(t)

	res, err := f.record(t, "E001", attendance.StatusMasuk)
	require.NoError(t, err)
	assert.Equal(t, "Budi", res.Name)
	assert.Equal(t, "E001", res.Code)
	assert.Equal(t, attendance.StatusMasuk, res.Status)
	assert.True(t, res.DoorTriggered)
	assert.Equal(t, 1, f.door.callCount())
	assert.Len(t, f.ledger.Events("emp-1"), 1)
}

func TestRecordEvent_FullDay(t *testing.T) {
	f := newFixture(t)

	for _, status := range []attendance.Status{
		attendance.StatusMasuk,
		attendance.StatusPulang,
		attendance.StatusLembur,
		attendance.StatusPulangLembur,
	} {
		f.clk.advance(time.Hour)
		_, err := f.record(t, "E001", status)
		require.NoError(t, err, "status %s", status)
	}
	assert.Len(t, f.ledger.Events("emp-1"), 4)
}

func TestRecordEvent_DoubleClockInRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.record(t, "E001", attendance.StatusMasuk)
	require.NoError(t, err)

	f.clk.advance(time.Minute)
	_, err = f.record(t, "E001", attendance.StatusMasuk)
	var te *attendance.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "Budi sudah absen masuk hari ini", te.Reason)
	assert.Len(t, f.ledger.Events("emp-1"), 1)
	assert.Equal(t, 1, f.door.callCount(), "rejected submission must not trigger the door")
}

func TestRecordEvent_UnknownEmployee(t *testing.T) {
	f := newFixture(t)

	_, err := f.record(t, "E999", attendance.StatusMasuk)
	var nf *attendance.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Kode karyawan E999 tidak ditemukan", nf.Error())
	assert.Equal(t, 0, f.door.callCount())
}

func TestRecordEvent_InactiveEmployee(t *testing.T) {
	f := newFixture(t)

	_, err := f.record(t, "E002", attendance.StatusMasuk)
	var ia *attendance.InactiveError
	require.ErrorAs(t, err, &ia)
	assert.Equal(t, "Sari sudah tidak aktif", ia.Error())
	assert.Len(t, f.ledger.Events("emp-2"), 0)
	assert.Equal(t, 0, f.door.callCount())
}

func TestRecordEvent_RateLimited(t *testing.T) {
	f := newFixture(t)

	_, err := f.record(t, "E001", attendance.StatusMasuk)
	require.NoError(t, err)

	f.clk.advance(2 * time.Second)
	_, err = f.record(t, "E001", attendance.StatusPulang)
	var rl *attendance.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3, rl.Wait)
	assert.Len(t, f.ledger.Events("emp-1"), 1)

	// The same, otherwise valid submission passes once the cooldown lapses.
	f.clk.advance(3 * time.Second)
	_, err = f.record(t, "E001", attendance.StatusPulang)
	require.NoError(t, err)
	assert.Len(t, f.ledger.Events("emp-1"), 2)
}

func TestRecordEvent_DoorFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.door.succeed = false

	res, err := f.record(t, "E001", attendance.StatusMasuk)
	require.NoError(t, err)
	assert.False(t, res.DoorTriggered)
	assert.Len(t, f.ledger.Events("emp-1"), 1, "ledger write must survive a dead doorlock")
}

func TestRecordEvent_DayBoundaryResets(t *testing.T) {
	f := newFixture(t)

	_, err := f.record(t, "E001", attendance.StatusMasuk)
	require.NoError(t, err)
	f.clk.advance(9 * time.Hour)
	_, err = f.record(t, "E001", attendance.StatusPulang)
	require.NoError(t, err)

	// Next morning: lastStatus is back to none, a plain clock-in works
	// without touching the overtime states.
	f.clk.advance(15 * time.Hour)
	_, err = f.record(t, "E001", attendance.StatusMasuk)
	require.NoError(t, err)
	assert.Len(t, f.ledger.Events("emp-1"), 3)
}

func TestRecordEvent_ConcurrentClockIn(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.record(t, "E001", attendance.StatusMasuk)
		}(i)
	}
	wg.Wait()

	var accepted, rejected int
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		rejected++
		// The loser is rejected either by the serialized append or, when
		// the winner landed first, by the cooldown guard.
		var te *attendance.TransitionError
		var rl *attendance.RateLimitedError
		assert.True(t, errors.As(err, &te) || errors.As(err, &rl), "unexpected error type: %v", err)
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)
	assert.Len(t, f.ledger.Events("emp-1"), 1, "only one clock-in may land")
}

func TestRecordEvent_PublishesDoorAudit(t *testing.T) {
	f := newFixture(t)

	_, err := f.record(t, "E001", attendance.StatusMasuk)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := f.audit.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, attendance.MessageDoorEvent, msg.Type)
		assert.Contains(t, string(msg.Body), `"employee_code":"E001"`)
	case <-ctx.Done():
		t.Fatal("no audit message published")
	}
}

func TestCheckToday(t *testing.T) {
	f := newFixture(t)

	st, err := f.svc.CheckToday(context.Background(), "E001")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusNone, st.LastStatus)
	assert.True(t, st.CanClockIn)
	assert.False(t, st.CanClockOut)
	assert.False(t, st.CanOvertime)
	assert.False(t, st.CanEndOvertime)

	_, err = f.record(t, "E001", attendance.StatusMasuk)
	require.NoError(t, err)

	st, err = f.svc.CheckToday(context.Background(), "E001")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusMasuk, st.LastStatus)
	assert.False(t, st.CanClockIn)
	assert.True(t, st.CanClockOut)
	assert.False(t, st.CanOvertime)
	require.NotNil(t, st.LastTime)
}
