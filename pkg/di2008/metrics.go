package di2008

import "github.com/prometheus/client_golang/prometheus"

// Metrics - счетчики Prometheus сессии. Нулевой указатель допустим и
// означает, что метрики не собираются.
type Metrics struct {
	CommandsSent   *prometheus.CounterVec
	BytesReceived  prometheus.Counter
	Samples        *prometheus.CounterVec
	SensorFaults   prometheus.Counter
	ProtocolErrors prometheus.Counter
	Recoveries     prometheus.Counter
}

// NewMetrics создает набор метрик и регистрирует его в reg, если он задан.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "di2008_commands_sent_total",
			Help: "Commands transmitted to the instrument",
		}, []string{"command"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "di2008_bytes_received_total",
			Help: "Bytes read from the transport",
		}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "di2008_samples_decoded_total",
			Help: "Scan samples decoded into engineering units",
		}, []string{"kind"}),
		SensorFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "di2008_sensor_faults_total",
			Help: "Thermocouple sentinel codes received",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "di2008_protocol_errors_total",
			Help: "Malformed or unrecognized responses",
		}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "di2008_overflow_recoveries_total",
			Help: "Full stop/scan-list/start resynchronizations",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CommandsSent, m.BytesReceived, m.Samples, m.SensorFaults, m.ProtocolErrors, m.Recoveries)
	}
	return m
}

func (m *Metrics) commandSent(cmd string) {
	if m != nil {
		m.CommandsSent.WithLabelValues(keyword(cmd)).Inc()
	}
}

func (m *Metrics) bytesReceived(n int) {
	if m != nil {
		m.BytesReceived.Add(float64(n))
	}
}

func (m *Metrics) sample(kind PortKind, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Samples.WithLabelValues(kind.String()).Inc()
	} else {
		m.SensorFaults.Inc()
	}
}

func (m *Metrics) protocolError() {
	if m != nil {
		m.ProtocolErrors.Inc()
	}
}

func (m *Metrics) recovery() {
	if m != nil {
		m.Recoveries.Inc()
	}
}
