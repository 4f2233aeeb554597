// Package metrics records session and phase metrics from executor events.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mateo/agentbox/internal/agent"
	"github.com/mateo/agentbox/internal/executor"
)

// Outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Recorder is an executor.Sink that keeps its own registry.
type Recorder struct {
	registry *prometheus.Registry

	PhaseDuration *prometheus.HistogramVec
	Sessions      *prometheus.CounterVec

	mu      sync.Mutex
	running map[string]phaseStart
}

type phaseStart struct {
	phase agent.Phase
	at    time.Time
}

var _ executor.Sink = (*Recorder)(nil)

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentbox_phase_duration_seconds",
			Help:    "Wall-clock duration of session phases",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"agent", "phase", "outcome"}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentbox_sessions_total",
			Help: "Sessions by final state",
		}, []string{"agent", "outcome"}),
		running: make(map[string]phaseStart),
	}
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Emit(e executor.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := outcomeFor(e.State)
	if prev, ok := r.running[e.SessionID]; ok {
		phaseOutcome := OutcomeOK
		if e.State.Terminal() && e.State != executor.StateReady {
			phaseOutcome = outcome
		}
		r.PhaseDuration.WithLabelValues(e.AgentID, string(prev.phase), phaseOutcome).
			Observe(e.Time.Sub(prev.at).Seconds())
		delete(r.running, e.SessionID)
	}

	if e.State.Terminal() {
		r.Sessions.WithLabelValues(e.AgentID, outcome).Inc()
		return
	}
	if e.Phase != "" {
		r.running[e.SessionID] = phaseStart{phase: e.Phase, at: e.Time}
	}
}

func outcomeFor(s executor.State) string {
	switch s {
	case executor.StateRejected:
		return OutcomeRejected
	case executor.StateFailed:
		return OutcomeFailed
	case executor.StateCancelled:
		return OutcomeCancelled
	}
	return OutcomeOK
}

// WriteTextfile writes the current values in Prometheus text format, for the
// node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
