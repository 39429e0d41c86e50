package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Collector holds the Prometheus metrics for pipeline runs. A nil
// *Collector is valid and records nothing.
type Collector struct {
	Steps       prometheus.Counter
	StageBytes  *prometheus.CounterVec
	StageErrors *prometheus.CounterVec
}

// New creates a collector whose metrics are registered with `reg`. If
// `reg` is nil, the metrics are not registered anywhere.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		Steps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "procpipe_steps_total",
				Help: "Total number of pipeline steps performed",
			},
		),
		StageBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procpipe_stage_bytes_total",
				Help: "Bytes handed on (or consumed, for the last stage) per stage",
			},
			[]string{"stage"},
		),
		StageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procpipe_stage_errors_total",
				Help: "Stage failures by kind",
			},
			[]string{"stage", "kind"},
		),
	}
}

// ObserveStep records one completed step.
func (c *Collector) ObserveStep() {
	if c == nil {
		return
	}
	c.Steps.Inc()
}

// AddBytes records `n` bytes passing through `stage`.
func (c *Collector) AddBytes(stage string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.StageBytes.WithLabelValues(stage).Add(float64(n))
}

// AddError records a failure of `stage`.
func (c *Collector) AddError(stage, kind string) {
	if c == nil {
		return
	}
	c.StageErrors.WithLabelValues(stage, kind).Inc()
}

// WriteText writes everything that `g` gathers to `w` in the
// Prometheus text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
