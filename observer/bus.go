package observer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	superagent "github.com/superagent-core/superagent"
)

// subscriberName identifies the observer's bus subscription for unsubscribe.
const subscriberName = "observer"

// ObserveBus subscribes a wildcard handler that counts every bus event by
// type, and step events additionally by outcome. Returns an unsubscribe
// function.
func ObserveBus(bus *superagent.EventBus, inst *Instruments) func() {
	bus.SubscribeAll(subscriberName, func(ctx context.Context, ev superagent.Event) error {
		inst.BusEvents.Add(ctx, 1, metric.WithAttributes(
			AttrEventType.String(string(ev.Type)),
			AttrEventSource.String(ev.Source),
		))
		switch ev.Type {
		case superagent.EventStepCompleted:
			inst.PlanSteps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "completed")))
		case superagent.EventStepFailed:
			inst.PlanSteps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "failed")))
		}
		return nil
	})
	return func() { bus.UnsubscribeAll(subscriberName) }
}
