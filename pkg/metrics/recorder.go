// Package metrics exposes the bot controller's lifecycle as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"botpilot/pkg/botcontrol"
	"botpilot/pkg/proto"
)

// Recorder implements botcontrol.Observer and records state change notifications.
type Recorder struct {
	transitionsTotal  *prometheus.CounterVec
	sessionsTotal     *prometheus.CounterVec
	jobsTotal         *prometheus.CounterVec
	launchFailures    *prometheus.CounterVec
	statusEventsTotal *prometheus.CounterVec
	pollDeathsTotal   prometheus.Counter
	state             *prometheus.GaugeVec
}

// NewRecorder registers the bot metrics with reg. A nil reg uses the default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	r := &Recorder{
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpilot_state_transitions_total",
				Help: "Accepted bot state transitions",
			},
			[]string{"from", "to"},
		),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpilot_sessions_total",
				Help: "Finished bot sessions by final state",
			},
			[]string{"outcome"},
		),
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpilot_jobs_committed_total",
				Help: "Session counters folded into historical totals",
			},
			[]string{"counter"},
		),
		launchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpilot_launch_failures_total",
				Help: "Launch sequences that failed, by step",
			},
			[]string{"step"},
		),
		statusEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpilot_status_events_total",
				Help: "Status events received from the automation runtime",
			},
			[]string{"stage"},
		),
		pollDeathsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "botpilot_poll_detected_exits_total",
				Help: "Sessions ended because the liveness poll found the runtime gone",
			},
		),
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "botpilot_state",
				Help: "1 for the current bot state, 0 otherwise",
			},
			[]string{"state"},
		),
	}
	r.setState(proto.StateIdle)
	return r
}

// StatusEvent counts a runtime status event.
func (r *Recorder) StatusEvent(stage proto.Stage) {
	r.statusEventsTotal.WithLabelValues(string(stage)).Inc()
}

// LaunchFailed counts a failed launch step.
func (r *Recorder) LaunchFailed(step botcontrol.LaunchStep) {
	r.launchFailures.WithLabelValues(string(step)).Inc()
}

// ObserveTransition records one state change notification.
func (r *Recorder) ObserveTransition(n proto.StateChangeNotification) {
	r.transitionsTotal.WithLabelValues(string(n.FromState), string(n.ToState)).Inc()
	r.setState(n.ToState)

	if !n.ToState.IsTerminal() {
		return
	}
	r.sessionsTotal.WithLabelValues(string(n.ToState)).Inc()
	if n.Reason == botcontrol.ReasonExternallyClosed {
		r.pollDeathsTotal.Inc()
	}

	stats := n.SessionStats.Clamped()
	r.jobsTotal.WithLabelValues("jobs_found").Add(float64(stats.JobsFound))
	r.jobsTotal.WithLabelValues("jobs_applied").Add(float64(stats.JobsApplied))
	r.jobsTotal.WithLabelValues("jobs_failed").Add(float64(stats.JobsFailed))
	r.jobsTotal.WithLabelValues("credits_used").Add(float64(stats.CreditsUsed))
}

func (r *Recorder) setState(current proto.BotState) {
	for _, s := range proto.AllStates {
		v := 0.0
		if s == current {
			v = 1
		}
		r.state.WithLabelValues(string(s)).Set(v)
	}
}

var _ botcontrol.Observer = (*Recorder)(nil)
