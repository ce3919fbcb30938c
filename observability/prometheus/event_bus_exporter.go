package prometheus

import (
	"github.com/dagrun/dagrun/eventbus"
	prom "github.com/prometheus/client_golang/prometheus"
)

// EventBusExporter exposes dispatch counters for the eventbus package:
// handler invocations (whatever their outcome), recovered handler panics, and events
// dropped by EmitAsync because their CancellationToken had already fired.
// It follows the same namespaced-CounterVec, Registerer-injection,
// dedup-on-AlreadyRegisteredError shape as MetricsExporter.
type EventBusExporter struct {
	handlerInvocationsTotal *prom.CounterVec
	handlerPanicsTotal      *prom.CounterVec
	emitAsyncDroppedTotal   *prom.CounterVec
}

var _ eventbus.Metrics = (*EventBusExporter)(nil)

// NewEventBusExporter creates and registers the eventbus collectors.
func NewEventBusExporter(namespace string, reg prom.Registerer) (*EventBusExporter, error) {
	if namespace == "" {
		namespace = "dagrun"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	invocationsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_handler_invocations_total",
		Help:      "Total number of event handler invocations, by event type.",
	}, []string{"event_type"})
	panicsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_handler_panics_total",
		Help:      "Total number of event handler invocations that recovered a panic.",
	}, []string{"event_type"})
	droppedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_emit_async_dropped_total",
		Help:      "Total number of EmitAsync calls that dispatched nothing because their token was already cancelled.",
	}, []string{"event_type"})

	var err error
	if invocationsVec, err = registerCollector(reg, invocationsVec); err != nil {
		return nil, err
	}
	if panicsVec, err = registerCollector(reg, panicsVec); err != nil {
		return nil, err
	}
	if droppedVec, err = registerCollector(reg, droppedVec); err != nil {
		return nil, err
	}

	return &EventBusExporter{
		handlerInvocationsTotal: invocationsVec,
		handlerPanicsTotal:      panicsVec,
		emitAsyncDroppedTotal:   droppedVec,
	}, nil
}

// RecordHandlerInvocation increments the invocation counter for eventType.
func (e *EventBusExporter) RecordHandlerInvocation(eventType string) {
	if e == nil {
		return
	}
	e.handlerInvocationsTotal.WithLabelValues(normalizeLabel(eventType, "unknown")).Inc()
}

// RecordHandlerPanic increments the panic counter for eventType.
func (e *EventBusExporter) RecordHandlerPanic(eventType string) {
	if e == nil {
		return
	}
	e.handlerPanicsTotal.WithLabelValues(normalizeLabel(eventType, "unknown")).Inc()
}

// RecordEmitAsyncDropped increments the dropped counter for eventType.
func (e *EventBusExporter) RecordEmitAsyncDropped(eventType string) {
	if e == nil {
		return
	}
	e.emitAsyncDroppedTotal.WithLabelValues(normalizeLabel(eventType, "unknown")).Inc()
}
