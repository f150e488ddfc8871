// Package metrics exposes Prometheus instrumentation for the sync engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sync aggregates the per-account synchronization metrics. All methods are
// safe on a nil receiver so instrumentation stays optional.
type Sync struct {
	refreshTotal    *prometheus.CounterVec
	refreshFailures *prometheus.CounterVec
	calendarErrors  *prometheus.CounterVec
	eventsParsed    *prometheus.CounterVec
	eventsSkipped   *prometheus.CounterVec
	eventsCreated   *prometheus.CounterVec
	snapshotEvents  *prometheus.GaugeVec
}

// NewSync registers the sync metric family on the given registerer.
func NewSync(reg prometheus.Registerer) *Sync {
	s := &Sync{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calagenda_refresh_cycles_total",
			Help: "Completed refresh cycles per account.",
		}, []string{"account"}),
		refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calagenda_refresh_failures_total",
			Help: "Refresh cycles that fell back to the last known good snapshot.",
		}, []string{"account"}),
		calendarErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calagenda_calendar_fetch_errors_total",
			Help: "Per-calendar fetch failures inside refresh cycles.",
		}, []string{"account"}),
		eventsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calagenda_events_parsed_total",
			Help: "Raw events successfully normalized.",
		}, []string{"account"}),
		eventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calagenda_events_skipped_total",
			Help: "Raw events dropped during parsing.",
		}, []string{"account"}),
		eventsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calagenda_events_created_total",
			Help: "Events written back to a calendar.",
		}, []string{"account"}),
		snapshotEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "calagenda_snapshot_events",
			Help: "Events in the current snapshot.",
		}, []string{"account"}),
	}

	reg.MustRegister(
		s.refreshTotal, s.refreshFailures, s.calendarErrors,
		s.eventsParsed, s.eventsSkipped, s.eventsCreated, s.snapshotEvents,
	)
	return s
}

// ObserveRefresh records the outcome of one completed refresh cycle.
func (s *Sync) ObserveRefresh(account string, events, failedCalendars int) {
	if s == nil {
		return
	}
	s.refreshTotal.WithLabelValues(account).Inc()
	s.calendarErrors.WithLabelValues(account).Add(float64(failedCalendars))
	s.snapshotEvents.WithLabelValues(account).Set(float64(events))
}

// ObserveRefreshFailure records a whole-cycle failure.
func (s *Sync) ObserveRefreshFailure(account string) {
	if s == nil {
		return
	}
	s.refreshFailures.WithLabelValues(account).Inc()
}

// ObserveParse records parser outcomes for one cycle.
func (s *Sync) ObserveParse(account string, parsed, skipped int) {
	if s == nil {
		return
	}
	s.eventsParsed.WithLabelValues(account).Add(float64(parsed))
	s.eventsSkipped.WithLabelValues(account).Add(float64(skipped))
}

// ObserveEventCreated records a successful write-back.
func (s *Sync) ObserveEventCreated(account string) {
	if s == nil {
		return
	}
	s.eventsCreated.WithLabelValues(account).Inc()
}
