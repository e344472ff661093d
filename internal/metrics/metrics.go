package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the realtime collectors. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation in tests.
type Metrics struct {
	eventsPublished *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	wsClients       prometheus.Gauge
	wsBroadcasts    *prometheus.CounterVec
	wsSendFailures  prometheus.Counter
	relayStreams    prometheus.Gauge
	relayOperators  prometheus.Gauge
	relayFrames     *prometheus.CounterVec
	simulations     prometheus.Gauge
	assignments     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. If reg is nil, the default registry
// is used. Collectors already registered are reused.
func New(reg *prometheus.Registry) (*Metrics, error) {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	m := &Metrics{gatherer: gatherer}
	var err error

	if m.eventsPublished, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rescuelink_events_published_total",
		Help: "Domain events published on the bus",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	if m.handlerFailures, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rescuelink_event_handler_failures_total",
		Help: "Event handler invocations that returned an error or panicked",
	}, []string{"handler", "event"})); err != nil {
		return nil, err
	}
	if m.wsClients, err = register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rescuelink_dashboard_clients",
		Help: "Connected dashboard clients",
	})); err != nil {
		return nil, err
	}
	if m.wsBroadcasts, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rescuelink_dashboard_broadcasts_total",
		Help: "Room broadcasts by room kind",
	}, []string{"room"})); err != nil {
		return nil, err
	}
	if m.wsSendFailures, err = register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rescuelink_dashboard_send_failures_total",
		Help: "Messages that could not be queued for a dashboard client",
	})); err != nil {
		return nil, err
	}
	if m.relayStreams, err = register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rescuelink_relay_active_streams",
		Help: "Live call audio streams",
	})); err != nil {
		return nil, err
	}
	if m.relayOperators, err = register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rescuelink_relay_operators",
		Help: "Operators listening to live calls",
	})); err != nil {
		return nil, err
	}
	if m.relayFrames, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rescuelink_relay_frames_total",
		Help: "Audio frames received from the telephony bridge",
	}, []string{"track"})); err != nil {
		return nil, err
	}
	if m.simulations, err = register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rescuelink_tracking_active_simulations",
		Help: "Ambulance movements currently simulated by this instance",
	})); err != nil {
		return nil, err
	}
	if m.assignments, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rescuelink_dispatch_assignments_total",
		Help: "Nearest ambulance assignment attempts by result",
	}, []string{"result"})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) EventPublished(name string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(name).Inc()
}

func (m *Metrics) HandlerFailed(handler, event string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(handler, event).Inc()
}

func (m *Metrics) SetDashboardClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func (m *Metrics) Broadcast(room string) {
	if m == nil {
		return
	}
	m.wsBroadcasts.WithLabelValues(room).Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.wsSendFailures.Inc()
}

func (m *Metrics) SetRelayStreams(n int) {
	if m == nil {
		return
	}
	m.relayStreams.Set(float64(n))
}

func (m *Metrics) AddRelayOperators(delta int) {
	if m == nil {
		return
	}
	m.relayOperators.Add(float64(delta))
}

func (m *Metrics) RelayFrame(track string) {
	if m == nil {
		return
	}
	m.relayFrames.WithLabelValues(track).Inc()
}

func (m *Metrics) SetSimulations(n int) {
	if m == nil {
		return
	}
	m.simulations.Set(float64(n))
}

func (m *Metrics) Assignment(result string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(result).Inc()
}
