// Package metrics exposes patient-flow counters and gauges to Prometheus.
// All Recorder methods are safe on a nil receiver so services can run
// without metrics wired.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patientflow"

type Recorder struct {
	bedAssignments   *prometheus.CounterVec
	bedReleases      *prometheus.CounterVec
	queueEnqueued    *prometheus.CounterVec
	queueTransitions *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	waitMinutes      *prometheus.HistogramVec
	bedsByStatus     *prometheus.GaugeVec
	queueDepth       *prometheus.GaugeVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		bedAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bed_assignments_total",
			Help: "Bed assignments created, by ward.",
		}, []string{"ward"}),
		bedReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bed_releases_total",
			Help: "Active bed assignments closed, by ward and outcome (discharged, transfer).",
		}, []string{"ward", "outcome"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_enqueued_total",
			Help: "Queue entries created, by department.",
		}, []string{"department"}),
		queueTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_transitions_total",
			Help: "Queue status transitions, by department and edge.",
		}, []string{"department", "from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Commands rejected with a classified error, by operation and kind.",
		}, []string{"operation", "kind"}),
		waitMinutes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "queue_wait_minutes",
			Help:    "Minutes an entry spent waiting before leaving the waiting state.",
			Buckets: []float64{5, 10, 15, 30, 45, 60, 90, 120, 240},
		}, []string{"department"}),
		bedsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "beds",
			Help: "Beds by ward and status as of the last overview computation.",
		}, []string{"ward", "status"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Queue entries by department and status as of the last overview computation.",
		}, []string{"department", "status"}),
	}
	reg.MustRegister(r.bedAssignments, r.bedReleases, r.queueEnqueued, r.queueTransitions,
		r.rejections, r.waitMinutes, r.bedsByStatus, r.queueDepth)
	return r
}

func (r *Recorder) BedAssigned(ward string) {
	if r == nil {
		return
	}
	r.bedAssignments.WithLabelValues(ward).Inc()
}

func (r *Recorder) BedReleased(ward, outcome string) {
	if r == nil {
		return
	}
	r.bedReleases.WithLabelValues(ward, outcome).Inc()
}

func (r *Recorder) Enqueued(department string) {
	if r == nil {
		return
	}
	r.queueEnqueued.WithLabelValues(department).Inc()
}

func (r *Recorder) Transitioned(department, from, to string) {
	if r == nil {
		return
	}
	r.queueTransitions.WithLabelValues(department, from, to).Inc()
}

func (r *Recorder) Rejected(operation, kind string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(operation, kind).Inc()
}

func (r *Recorder) ObserveWait(department string, minutes float64) {
	if r == nil {
		return
	}
	r.waitMinutes.WithLabelValues(department).Observe(minutes)
}

// SetBeds replaces the bed gauges with counts keyed by ward then status.
func (r *Recorder) SetBeds(counts map[string]map[string]int) {
	if r == nil {
		return
	}
	r.bedsByStatus.Reset()
	for ward, byStatus := range counts {
		for status, n := range byStatus {
			r.bedsByStatus.WithLabelValues(ward, status).Set(float64(n))
		}
	}
}

// SetQueueDepth replaces the queue gauges with counts keyed by department
// then status.
func (r *Recorder) SetQueueDepth(counts map[string]map[string]int) {
	if r == nil {
		return
	}
	r.queueDepth.Reset()
	for dept, byStatus := range counts {
		for status, n := range byStatus {
			r.queueDepth.WithLabelValues(dept, status).Set(float64(n))
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
