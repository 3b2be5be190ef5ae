// Package metrics records delivery and sweep statistics through the
// OpenTelemetry metrics API. Exporting is left to whichever MeterProvider the
// host installs globally; without one every instrument is a no-op.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const ScopeName = "github.com/webitel/im-mailbox-service"

// Route outcomes, used as the "outcome" attribute.
const (
	OutcomeSuccessful = "successful"
	OutcomeDropped    = "dropped"
	OutcomeOffline    = "offline"
)

// Recorder owns the service instruments. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	meter metric.Meter

	sessionsPerMailbox metric.Int64Histogram
	queueDepth         metric.Int64Histogram
	mailboxesEvicted   metric.Int64Counter
	limiterTokens      metric.Float64Histogram
	limitersEvicted    metric.Int64Counter
	routed             metric.Int64Counter
	rateLimited        metric.Int64Counter
	sweepDuration      metric.Float64Histogram
	deliveryLatency    metric.Float64Histogram
}

// NewGlobal builds a Recorder on the global MeterProvider.
func NewGlobal() (*Recorder, error) {
	return New(otel.Meter(ScopeName))
}

func New(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{meter: meter}

	var err error
	if r.sessionsPerMailbox, err = meter.Int64Histogram("im.mailbox.sessions",
		metric.WithDescription("Sessions held by a mailbox, sampled by the GC sweep")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if r.queueDepth, err = meter.Int64Histogram("im.mailbox.queue_depth",
		metric.WithDescription("Buffered messages across a mailbox's sessions, sampled by the GC sweep")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if r.mailboxesEvicted, err = meter.Int64Counter("im.mailbox.evicted",
		metric.WithDescription("Mailboxes reclaimed by the GC sweep")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if r.limiterTokens, err = meter.Float64Histogram("im.limiter.tokens",
		metric.WithDescription("Available tokens per kept sender bucket")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if r.limitersEvicted, err = meter.Int64Counter("im.limiter.evicted",
		metric.WithDescription("Idle sender buckets reclaimed")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if r.routed, err = meter.Int64Counter("im.router.recipients",
		metric.WithDescription("Routed recipients by outcome")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if r.rateLimited, err = meter.Int64Counter("im.limiter.rejected",
		metric.WithDescription("Sends rejected by the rate limiter")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if r.sweepDuration, err = meter.Float64Histogram("im.gc.duration",
		metric.WithDescription("GC sweep duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if r.deliveryLatency, err = meter.Float64Histogram("im.delivery.latency",
		metric.WithDescription("Time from acceptance to hand-off to the client"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	return r, nil
}

// ObserveOnline registers an asynchronous gauge reading the online counter.
func (r *Recorder) ObserveOnline(online func() int64) error {
	if r == nil {
		return nil
	}
	_, err := r.meter.Int64ObservableGauge("im.mailbox.online",
		metric.WithDescription("Users holding a mailbox"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(online())
			return nil
		}),
	)
	return err
}

func (r *Recorder) MailboxKept(sessions, queueDepth int) {
	if r == nil {
		return
	}
	ctx := context.Background()
	r.sessionsPerMailbox.Record(ctx, int64(sessions))
	r.queueDepth.Record(ctx, int64(queueDepth))
}

func (r *Recorder) MailboxesEvicted(n int) {
	if r == nil {
		return
	}
	r.mailboxesEvicted.Add(context.Background(), int64(n))
}

func (r *Recorder) BucketKept(tokens float64) {
	if r == nil {
		return
	}
	r.limiterTokens.Record(context.Background(), tokens)
}

func (r *Recorder) LimitersEvicted(n int) {
	if r == nil {
		return
	}
	r.limitersEvicted.Add(context.Background(), int64(n))
}

func (r *Recorder) RateLimited() {
	if r == nil {
		return
	}
	r.rateLimited.Add(context.Background(), 1)
}

// Routed records one Route call.
func (r *Recorder) Routed(ctx context.Context, successful, dropped, offline int) {
	if r == nil {
		return
	}
	add := func(n int, outcome string) {
		if n > 0 {
			r.routed.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
	add(successful, OutcomeSuccessful)
	add(dropped, OutcomeDropped)
	add(offline, OutcomeOffline)
}

func (r *Recorder) SweepDone(ctx context.Context, d time.Duration) {
	if r == nil {
		return
	}
	r.sweepDuration.Record(ctx, d.Seconds())
}

func (r *Recorder) Delivered(ctx context.Context, latency time.Duration) {
	if r == nil || latency <= 0 {
		return
	}
	r.deliveryLatency.Record(ctx, latency.Seconds())
}
