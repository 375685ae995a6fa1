package metrics

import "github.com/prometheus/client_golang/prometheus"

// InboxMetrics exposes counters/histograms for the inbox pipeline.
type InboxMetrics struct {
	recordsTotal      *prometheus.CounterVec
	unreadFailures    *prometheus.CounterVec
	refreshTotal      *prometheus.CounterVec
	realtimeDiscarded *prometheus.CounterVec
	ingestTotal       *prometheus.CounterVec
	pipelineLatency   *prometheus.HistogramVec
}

func NewInboxMetrics(reg prometheus.Registerer) *InboxMetrics {
	m := &InboxMetrics{
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcenter",
			Subsystem: "inbox",
			Name:      "records_total",
			Help:      "Raw records seen by the message processor",
		}, []string{"channel", "format", "outcome"}),
		unreadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcenter",
			Subsystem: "inbox",
			Name:      "unread_lookup_failures_total",
			Help:      "Unread-count lookups that failed and defaulted to zero",
		}, []string{"channel"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcenter",
			Subsystem: "inbox",
			Name:      "refresh_total",
			Help:      "Full conversation reloads",
		}, []string{"channel", "trigger", "status"}),
		realtimeDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcenter",
			Subsystem: "inbox",
			Name:      "realtime_discarded_total",
			Help:      "Change-feed records discarded without a reload",
		}, []string{"channel"}),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcenter",
			Subsystem: "webhook",
			Name:      "ingest_total",
			Help:      "Inbound gateway webhooks by outcome",
		}, []string{"channel", "status"}),
		pipelineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatcenter",
			Subsystem: "inbox",
			Name:      "pipeline_latency_seconds",
			Help:      "Latency of a full fetch, process, group and enrich pass",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.recordsTotal, m.unreadFailures, m.refreshTotal, m.realtimeDiscarded, m.ingestTotal, m.pipelineLatency)
	return m
}

// ObserveRecord counts one raw record; outcome is "accepted" or "dropped".
func (m *InboxMetrics) ObserveRecord(channel, format, outcome string) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(channel, format, outcome).Inc()
}

func (m *InboxMetrics) ObserveUnreadFailure(channel string) {
	if m == nil {
		return
	}
	m.unreadFailures.WithLabelValues(channel).Inc()
}

func (m *InboxMetrics) ObserveRefresh(channel, trigger string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.refreshTotal.WithLabelValues(channel, trigger, status).Inc()
}

func (m *InboxMetrics) ObserveRealtimeDiscard(channel string) {
	if m == nil {
		return
	}
	m.realtimeDiscarded.WithLabelValues(channel).Inc()
}

func (m *InboxMetrics) ObserveIngest(channel, status string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(channel, status).Inc()
}

func (m *InboxMetrics) ObservePipelineLatency(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.pipelineLatency.WithLabelValues(channel).Observe(seconds)
}
