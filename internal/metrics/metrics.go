// Package metrics holds the Prometheus collectors shared by the client packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Preview load outcomes used as the "result" label.
const (
	LoadHealthy  = "healthy"
	LoadFailed   = "failed"
	LoadPresumed = "presumed"
)

var (
	// FramesDecoded counts stream frames that parsed into an event.
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appgen_stream_frames_decoded_total",
		Help: "Total number of stream frames decoded into events.",
	})

	// FramesDropped counts prefixed stream frames whose payload failed to parse.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appgen_stream_frames_dropped_total",
		Help: "Total number of malformed stream frames that were dropped.",
	})

	// PreviewLoads counts preview load checks by result.
	PreviewLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appgen_preview_loads_total",
		Help: "Total number of preview load checks, by result.",
	}, []string{"result"})

	// Sessions counts finished generation sessions by terminal phase.
	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appgen_sessions_total",
		Help: "Total number of generation sessions that reached a terminal phase, by phase.",
	}, []string{"phase"})
)

// Gather returns the current values of the appgen collectors keyed by metric
// name (labelled series are keyed name{value}). Used for the debug dump on exit.
func Gather() (map[string]float64, error) {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range mfs {
		name := mf.GetName()
		if len(name) < 7 || name[:7] != "appgen_" {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := name
			if lp := m.GetLabel(); len(lp) > 0 {
				key = name + "{" + lp[0].GetValue() + "}"
			}
			if c := m.GetCounter(); c != nil {
				out[key] = c.GetValue()
			}
		}
	}
	return out, nil
}
