// Package metrics exports Prometheus collectors fed from queue events.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/queue"
)

// Collector counts item lifecycle events.
type Collector struct {
	scheduled        *prometheus.CounterVec
	sent             prometheus.Counter
	retried          prometheus.Counter
	failed           prometheus.Counter
	cancelled        prometheus.Counter
	conflicts        prometheus.Counter
	dispatchDuration prometheus.Histogram
}

// New creates a Collector and registers it with reg.
// A nil reg means prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		scheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedmail_items_scheduled_total",
				Help: "Total number of items scheduled, including recurring continuations",
			},
			[]string{"recurrence"},
		),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedmail_items_sent_total",
			Help: "Total number of items sent",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedmail_items_retried_total",
			Help: "Total number of transient send failures released for retry",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedmail_items_failed_total",
			Help: "Total number of items that failed permanently",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedmail_items_cancelled_total",
			Help: "Total number of items cancelled",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedmail_claim_conflicts_total",
			Help: "Total number of claims lost to another worker",
		}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedmail_dispatch_duration_seconds",
			Help:    "Time from claim to recorded send",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.scheduled, c.sent, c.retried, c.failed, c.cancelled, c.conflicts, c.dispatchDuration)
	return c
}

// Observe updates the collectors for e.
func (c *Collector) Observe(e core.Event) {
	switch ev := e.(type) {
	case *core.ItemScheduled:
		kind := string(ev.Item.Recurrence)
		if kind == "" {
			kind = string(core.RecurrenceNone)
		}
		c.scheduled.WithLabelValues(kind).Inc()
	case *core.ItemSent:
		c.sent.Inc()
		c.dispatchDuration.Observe(ev.Duration.Seconds())
	case *core.ItemRetrying:
		c.retried.Inc()
	case *core.ItemFailed:
		c.failed.Inc()
	case *core.ItemCancelled:
		c.cancelled.Inc()
	case *core.ClaimConflict:
		c.conflicts.Inc()
	}
}

// Run observes q's events until ctx is done.
func (c *Collector) Run(ctx context.Context, q *queue.Queue) {
	events := q.Events()
	defer q.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			c.Observe(e)
		}
	}
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
// A nil gatherer means prometheus.DefaultGatherer.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
