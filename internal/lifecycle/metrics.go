package lifecycle

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/parkspot/tracker/internal/lifecycle"

type instruments struct {
	created   metric.Int64Counter
	deleted   metric.Int64Counter
	fired     metric.Int64Counter
	extended  metric.Int64Counter
	passes    metric.Int64Counter
	resolved  metric.Int64Counter
	failed    metric.Int64Counter
	active    metric.Int64ObservableGauge
	scheduled metric.Int64Counter
}

func newInstruments(m metric.Meter, active func() int) (*instruments, error) {
	if m == nil {
		m = otel.Meter(instrumentationName)
	}
	in := &instruments{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&in.created, "lifecycle.locations.created", "Parking locations saved"},
		{&in.deleted, "lifecycle.locations.deleted", "Parking locations deleted"},
		{&in.fired, "lifecycle.timers.fired", "Parking timers that fired"},
		{&in.extended, "lifecycle.timers.extended", "Parking timer extensions"},
		{&in.scheduled, "lifecycle.timers.schedule_failures", "Timers that could not be scheduled"},
		{&in.passes, "lifecycle.sync.passes", "Address reconciliation passes by outcome"},
		{&in.resolved, "lifecycle.sync.addresses.resolved", "Addresses backfilled"},
		{&in.failed, "lifecycle.sync.addresses.failed", "Address resolutions that failed"},
	}
	for _, c := range counters {
		*c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	in.active, err = m.Int64ObservableGauge(
		"lifecycle.locations.active",
		metric.WithDescription("Parking locations currently held"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating active gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(in.active, int64(active()))
			return nil
		},
		in.active,
	)
	if err != nil {
		return nil, fmt.Errorf("registering active callback: %w", err)
	}
	return in, nil
}

func (in *instruments) pass(ctx context.Context, outcome string) {
	in.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
