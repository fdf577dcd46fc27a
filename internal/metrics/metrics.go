package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts attendance decisions and door trigger outcomes. A nil
// *Metrics is a no-op so tests can skip registration.
type Metrics struct {
	EventsRecorded *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	DoorTriggers   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "absensi_events_recorded_total",
			Help: "Attendance events appended to the ledger, by status",
		}, []string{"status"}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "absensi_rejections_total",
			Help: "Attendance submissions rejected before the ledger write, by reason",
		}, []string{"reason"}),
		DoorTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "absensi_door_triggers_total",
			Help: "Doorlock trigger attempts, by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Recorded(status string) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(status).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.EventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) DoorTriggered(ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.DoorTriggers.WithLabelValues(outcome).Inc()
}
