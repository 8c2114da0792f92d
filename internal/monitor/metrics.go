package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"iotc-agent/internal/command"
	"iotc-agent/internal/model"
)

// Metrics holds the agent counters. It implements agent.Observer, and
// CommandFinished is a command.ResultListener.
type Metrics struct {
	ticks          prometheus.Counter
	sent           prometheus.Counter
	skipped        prometheus.Counter
	dropped        prometheus.Counter
	decodeFailures *prometheus.CounterVec
	pipeValues     prometheus.Counter
	pipeDropped    prometheus.Counter
	commands       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotc_telemetry_ticks_total",
			Help: "Telemetry ticks started.",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotc_telemetry_sent_total",
			Help: "Telemetry records accepted by the remote session.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotc_telemetry_skipped_total",
			Help: "Ticks skipped while waiting for attribute metadata.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotc_telemetry_dropped_total",
			Help: "Telemetry records dropped because the send failed.",
		}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iotc_attribute_decode_failures_total",
			Help: "Attribute values that did not fit their declared type.",
		}, []string{"attribute"}),
		pipeValues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotc_pipe_values_total",
			Help: "Values received over the inter-process pipe.",
		}),
		pipeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotc_pipe_dropped_total",
			Help: "Pipe values dropped because the buffer was full.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iotc_commands_total",
			Help: "Handled commands by terminal state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.ticks, m.sent, m.skipped, m.dropped, m.decodeFailures,
		m.pipeValues, m.pipeDropped, m.commands)
	return m
}

func (m *Metrics) TelemetryTick()    { m.ticks.Inc() }
func (m *Metrics) TelemetrySent()    { m.sent.Inc() }
func (m *Metrics) TelemetrySkipped() { m.skipped.Inc() }
func (m *Metrics) TelemetryDropped() { m.dropped.Inc() }
func (m *Metrics) PipeValue()        { m.pipeValues.Inc() }
func (m *Metrics) PipeDropped()      { m.pipeDropped.Inc() }

func (m *Metrics) DecodeFailure(attribute string) {
	m.decodeFailures.WithLabelValues(attribute).Inc()
}

func (m *Metrics) CommandFinished(_ model.CommandMessage, res command.Result) {
	m.commands.WithLabelValues(res.State.String()).Inc()
}
