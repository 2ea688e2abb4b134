// Package metrics exports per-stream congestion/inflight observability as
// Prometheus gauges and counters, the way runZeroInc-sockstats exposes
// socket/queue statistics and the teacher's own go.mod already depends on
// github.com/prometheus/client_golang for the same purpose elsewhere in
// the repository.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector is an optional set of gauges/counters a stream.State updates
// once per tick. A nil *Collector is a valid no-op: every method on it
// guards against a nil receiver.
type Collector struct {
	cwnd        *prometheus.GaugeVec
	minRTT      *prometheus.GaugeVec
	rto         *prometheus.GaugeVec
	inflight    *prometheus.GaugeVec
	deliveryBps *prometheus.GaugeVec
	retrans     *prometheus.CounterVec
	bytesRead   *prometheus.CounterVec
	bytesWriten *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cwnd: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "muxcore",
			Subsystem: "stream",
			Name:      "cwnd_packets",
			Help:      "Current congestion window, in packets.",
		}, []string{"stream_id"}),
		minRTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "muxcore",
			Subsystem: "stream",
			Name:      "min_rtt_seconds",
			Help:      "Minimum observed round-trip time.",
		}, []string{"stream_id"}),
		rto: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "muxcore",
			Subsystem: "stream",
			Name:      "rto_seconds",
			Help:      "Current retransmission timeout.",
		}, []string{"stream_id"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "muxcore",
			Subsystem: "stream",
			Name:      "inflight_segments",
			Help:      "Number of unacked segments.",
		}, []string{"stream_id"}),
		deliveryBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "muxcore",
			Subsystem: "stream",
			Name:      "delivery_rate_bytes_per_second",
			Help:      "Estimated delivery rate.",
		}, []string{"stream_id"}),
		retrans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muxcore",
			Subsystem: "stream",
			Name:      "retransmits_total",
			Help:      "Total segment retransmissions.",
		}, []string{"stream_id"}),
		bytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muxcore",
			Subsystem: "stream",
			Name:      "bytes_read_total",
			Help:      "Total bytes delivered to the read stream.",
		}, []string{"stream_id"}),
		bytesWriten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muxcore",
			Subsystem: "stream",
			Name:      "bytes_written_total",
			Help:      "Total bytes accepted onto the wire from the write stream.",
		}, []string{"stream_id"}),
	}
	if reg != nil {
		reg.MustRegister(c.cwnd, c.minRTT, c.rto, c.inflight, c.deliveryBps, c.retrans, c.bytesRead, c.bytesWriten)
	}
	return c
}

// Sample records a snapshot of per-stream congestion/inflight state.
func (c *Collector) Sample(streamID string, cwnd int, minRTTSeconds, rtoSeconds float64, inflightCount int, deliveryRate float64) {
	if c == nil {
		return
	}
	c.cwnd.WithLabelValues(streamID).Set(float64(cwnd))
	c.minRTT.WithLabelValues(streamID).Set(minRTTSeconds)
	c.rto.WithLabelValues(streamID).Set(rtoSeconds)
	c.inflight.WithLabelValues(streamID).Set(float64(inflightCount))
	c.deliveryBps.WithLabelValues(streamID).Set(deliveryRate)
}

// AddRetrans increments the retransmit counter for a stream.
func (c *Collector) AddRetrans(streamID string, n int) {
	if c == nil {
		return
	}
	c.retrans.WithLabelValues(streamID).Add(float64(n))
}

// AddBytesRead increments the bytes-delivered-to-reader counter.
func (c *Collector) AddBytesRead(streamID string, n int) {
	if c == nil {
		return
	}
	c.bytesRead.WithLabelValues(streamID).Add(float64(n))
}

// AddBytesWritten increments the bytes-sent-onto-the-wire counter.
func (c *Collector) AddBytesWritten(streamID string, n int) {
	if c == nil {
		return
	}
	c.bytesWriten.WithLabelValues(streamID).Add(float64(n))
}
