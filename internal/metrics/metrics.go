// Package metrics defines the process-wide Prometheus collectors that back
// the external export endpoint named in spec.md §1/§6. This package owns
// the counters call-path code increments and a Registry that registers
// them; the /metrics HTTP mount lives outside this package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IngestFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_ingest_frames_total",
		Help: "Inbound media frames observed by the ingest pipeline.",
	}, []string{"tenant", "result"}) // result: accepted|wrong_stream|dup_or_reorder|track_mismatch|playback_echo_guard|too_small

	DecodeFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_decode_failures_total",
		Help: "Codec decode failures by codec.",
	}, []string{"codec"})

	IngestUnhealthyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_ingest_unhealthy_total",
		Help: "Times the ingest health monitor declared a call unhealthy.",
	}, []string{"reason"})

	CapacityAcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_capacity_acquire_total",
		Help: "tryAcquire outcomes by reason.",
	}, []string{"tenant", "reason"})

	ActiveCalls = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicebridge_active_calls",
		Help: "Currently active call sessions.",
	}, []string{"tenant"})

	TurnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_turns_total",
		Help: "Accepted final transcripts that drove a turn.",
	}, []string{"tenant"})

	BargeInTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_barge_in_total",
		Help: "Barge-in events detected during playback.",
	}, []string{"tenant"})

	DeadAirRepromptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_dead_air_reprompts_total",
		Help: "Dead-air reprompts actually uttered (not suppressed).",
	}, []string{"tenant"})

	LateFinalTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_late_final_total",
		Help: "Late-final transcripts captured within the hangup grace window.",
	}, []string{"tenant", "outcome"}) // outcome: captured|grace_expired

	IngestRestartsRequestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_ingest_restarts_requested_total",
		Help: "Ingest-requested PSTN stream restarts, by whether a codec mismatch triggered them.",
	}, []string{"tenant", "reason"}) // reason: codec_mismatch|unhealthy
)

// Registry returns a registry with every collector above registered. The
// process wires this to promhttp.HandlerFor for the external /metrics mount.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		IngestFramesTotal,
		DecodeFailuresTotal,
		IngestUnhealthyTotal,
		CapacityAcquireTotal,
		ActiveCalls,
		TurnsTotal,
		BargeInTotal,
		DeadAirRepromptsTotal,
		LateFinalTotal,
		IngestRestartsRequestedTotal,
	)
	return r
}
