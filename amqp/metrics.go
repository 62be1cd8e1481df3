package amqp

import (
	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the collectors registered by NewMetrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "amqp").
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metric subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels adds labels to every metric.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// Metrics records connection activity. A nil *Metrics records nothing.
type Metrics struct {
	framesIn          *prometheus.CounterVec
	framesOut         *prometheus.CounterVec
	bytesIn           prometheus.Counter
	bytesOut          prometheus.Counter
	heartbeatFailures prometheus.Counter
	decodeErrors      *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	nodeState         *prometheus.GaugeVec
}

// NewMetrics registers the collectors with registry, or with
// prometheus.DefaultRegisterer when registry is nil.
func NewMetrics(registry prometheus.Registerer, opts ...MetricsOption) *Metrics {
	config := MetricsConfig{Namespace: "amqp"}
	for _, opt := range opts {
		opt(&config)
	}
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	counterOpts := func(name string, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}

	return &Metrics{
		framesIn:          factory.NewCounterVec(counterOpts("frames_received_total", "Frames decoded, by frame type"), []string{"type"}),
		framesOut:         factory.NewCounterVec(counterOpts("frames_sent_total", "Frames written, by frame type"), []string{"type"}),
		bytesIn:           factory.NewCounter(counterOpts("received_bytes_total", "Bytes read from transports")),
		bytesOut:          factory.NewCounter(counterOpts("sent_bytes_total", "Bytes written to transports")),
		heartbeatFailures: factory.NewCounter(counterOpts("heartbeat_failures_total", "Connections torn down after a missed heartbeat")),
		decodeErrors:      factory.NewCounterVec(counterOpts("decode_errors_total", "Frames that failed to decode, by scope"), []string{"scope"}),
		reconnects:        factory.NewCounterVec(counterOpts("reconnect_attempts_total", "Reconnect attempts, by node"), []string{"node"}),
		nodeState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "node_state",
			Help:        "Connection state per node (0 wait, 1 await reconnect, 2 connecting, 3 tuning, 4 ready, 5 closing)",
			ConstLabels: config.ConstLabels,
		}, []string{"node"}),
	}
}

func (metrics *Metrics) frameReceived(frameType protocol.FrameType) {
	if metrics == nil {
		return
	}
	metrics.framesIn.WithLabelValues(frameType.String()).Inc()
}

func (metrics *Metrics) frameSent(frameType protocol.FrameType, size int) {
	if metrics == nil {
		return
	}
	metrics.framesOut.WithLabelValues(frameType.String()).Inc()
	metrics.bytesOut.Add(float64(size))
}

func (metrics *Metrics) bytesReceived(size int) {
	if metrics == nil {
		return
	}
	metrics.bytesIn.Add(float64(size))
}

func (metrics *Metrics) heartbeatFailed() {
	if metrics == nil {
		return
	}
	metrics.heartbeatFailures.Inc()
}

func (metrics *Metrics) decodeFailed(channel uint16) {
	if metrics == nil {
		return
	}
	scope := "channel"
	if channel == protocol.ServiceChannel {
		scope = "connection"
	}
	metrics.decodeErrors.WithLabelValues(scope).Inc()
}

func (metrics *Metrics) reconnectAttempt(node string) {
	if metrics == nil {
		return
	}
	metrics.reconnects.WithLabelValues(node).Inc()
}

func (metrics *Metrics) stateChanged(node string, state State) {
	if metrics == nil {
		return
	}
	metrics.nodeState.WithLabelValues(node).Set(float64(state))
}
