package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/parkspot/tracker/internal/dispatcher"

type instruments struct {
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// newInstruments uses the global meter, a no-op until a provider is set.
// queued reports the depth of every buffered queue.
func newInstruments(queued func(observe func(command string, depth int))) (*instruments, error) {
	m := otel.Meter(instrumentationName)
	in := &instruments{}
	var err error

	in.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Events waiting in a buffered queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			queued(func(command string, depth int) {
				o.ObserveInt64(in.queueSize, int64(depth), metric.WithAttributes(commandAttr(command)))
			})
			return nil
		},
		in.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&in.processed, "dispatcher.events.processed", "Events handled, by command"},
		{&in.dropped, "dispatcher.events.dropped", "Events dropped because the queue was full"},
		{&in.failed, "dispatcher.events.failed", "Events whose handler returned an error"},
	}
	for _, c := range counters {
		*c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	in.duration, err = m.Float64Histogram(
		"dispatcher.events.duration",
		metric.WithDescription("Handler run time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	return in, nil
}

func commandAttr(command string) attribute.KeyValue {
	return attribute.String("command", command)
}

// observe records one handler run.
func (in *instruments) observe(command string, start time.Time, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(commandAttr(command))
	in.processed.Add(ctx, 1, attrs)
	in.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		in.failed.Add(ctx, 1, attrs)
	}
}

func (in *instruments) drop(command string) {
	in.dropped.Add(context.Background(), 1, metric.WithAttributes(commandAttr(command)))
}
