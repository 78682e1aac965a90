package observe

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// Prometheus is a dispatch listener exporting call and connection metrics.
type Prometheus struct {
	mu sync.Mutex

	requestsTotal      *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	durationSeconds    *prometheus.HistogramVec
	activeConnections  *prometheus.GaugeVec
	connectionDuration *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rpcdispatch",
			Subsystem: "server",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rpcdispatch",
			Subsystem: "server",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewPrometheus creates the collectors. A nil registerer selects the default one.
func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Prometheus{
		registerer:      registerer,
		requestsTotal:   newCounterVec("requests_total", "Total number of dispatched calls and notifications", []string{"method", "kind"}),
		errorsTotal:     newCounterVec("errors_total", "Total number of failed calls by error code", []string{"method", "code"}),
		durationSeconds: newHistogramVec("request_duration_seconds", "Duration of dispatched calls", prometheus.DefBuckets, []string{"method"}),
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rpcdispatch",
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Number of open client connections",
		}, []string{"transport"}),
		connectionDuration: newHistogramVec("connection_duration_seconds", "Lifetime of closed client connections",
			[]float64{1, 10, 60, 300, 1800, 3600, 14400}, []string{"transport"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (p *Prometheus) Register() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		p.requestsTotal,
		p.errorsTotal,
		p.durationSeconds,
		p.activeConnections,
		p.connectionDuration,
	}
	for _, c := range collectors {
		if err := p.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	p.registered = true
	return nil
}

var _ dispatch.Listener = (*Prometheus)(nil)

func kindLabel(info dispatch.CallInfo) string {
	if info.Notification {
		return "notification"
	}
	return "call"
}

// MethodStarted counts the call.
func (p *Prometheus) MethodStarted(info dispatch.CallInfo) {
	p.requestsTotal.WithLabelValues(info.Method, kindLabel(info)).Inc()
}

// MethodCompleted observes the call duration.
func (p *Prometheus) MethodCompleted(info dispatch.CallInfo) {
	p.durationSeconds.WithLabelValues(info.Method).Observe(info.Duration.Seconds())
}

// MethodFailed observes the duration and counts the error code.
func (p *Prometheus) MethodFailed(info dispatch.CallInfo, err *protocol.Error) {
	p.durationSeconds.WithLabelValues(info.Method).Observe(info.Duration.Seconds())
	p.errorsTotal.WithLabelValues(info.Method, strconv.Itoa(err.Code)).Inc()
}

// ClientConnected increments the open connection gauge.
func (p *Prometheus) ClientConnected(conn *protocol.Connection) {
	p.activeConnections.WithLabelValues(conn.Transport()).Inc()
}

// ClientDisconnected decrements the gauge and records the connection lifetime.
func (p *Prometheus) ClientDisconnected(conn *protocol.Connection, duration time.Duration, _ int) {
	p.activeConnections.WithLabelValues(conn.Transport()).Dec()
	p.connectionDuration.WithLabelValues(conn.Transport()).Observe(duration.Seconds())
}
