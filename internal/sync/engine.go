package sync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope     = "ticketvault/sync"
	spanPass      = "sync.pass"
	metricEvents  = "ticketvault.sync.events.upserted"
	metricTickets = "ticketvault.sync.tickets.upserted"
	metricPushed  = "ticketvault.sync.mutations.pushed"
	metricErrors  = "ticketvault.sync.errors"
	metricOffline = "ticketvault.connectivity.offline_transitions"
)

// Prober checks reachability of the remote backend.
// Implemented by [remote.Client].
type Prober interface {
	Ping(ctx context.Context) error
}

// Engine runs the daemon lifecycle: a periodic full sync (pull + queue
// drain) plus a connectivity probe that flushes pending local mutations as
// soon as the backend becomes reachable again. Create one with [NewEngine]
// and start it with [Engine.Run].
type Engine struct {
	syncer        *Syncer
	prober        Prober
	push          PushFunc
	pollInterval  time.Duration
	probeInterval time.Duration
	log           *slog.Logger

	connected    bool // last probe result; engine goroutine only
	onOnline     func(ctx context.Context)
	onConnChange func(connected bool)

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer     trace.Tracer
	cntEvents  metric.Int64Counter
	cntTickets metric.Int64Counter
	cntPushed  metric.Int64Counter
	cntErrors  metric.Int64Counter
	cntOffline metric.Int64Counter
}

// NewEngine creates an Engine. probeInterval of 0 disables the connectivity
// probe and the offline→online flush.
func NewEngine(syncer *Syncer, prober Prober, push PushFunc, pollInterval, probeInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		syncer:        syncer,
		prober:        prober,
		push:          push,
		pollInterval:  pollInterval,
		probeInterval: probeInterval,
		log:           logger,
		connected:     true, // assume reachable until the first probe says otherwise

		tracer:     tracer,
		cntEvents:  mustCounter(metricEvents, "Event rows upserted during sync"),
		cntTickets: mustCounter(metricTickets, "Ticket rows upserted during sync"),
		cntPushed:  mustCounter(metricPushed, "Queued local mutations accepted by the backend"),
		cntErrors:  mustCounter(metricErrors, "Per-sale errors recorded during sync"),
		cntOffline: mustCounter(metricOffline, "Times the backend became unreachable"),
	}
}

// OnConnectivityChange registers a callback invoked from the probe loop on
// every connectivity transition. Used to surface the connected flag to the
// wallet facade.
func (e *Engine) OnConnectivityChange(fn func(connected bool)) {
	e.onConnChange = fn
}

// OnOnline registers an extra callback invoked after the built-in pending
// flush when connectivity is regained.
func (e *Engine) OnOnline(fn func(ctx context.Context)) {
	e.onOnline = fn
}

// pass runs one full sync pass, recording a trace span and metrics.
func (e *Engine) pass(ctx context.Context) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanPass)
	defer span.End()

	stats, err := e.syncer.SyncAll(ctx, e.push)

	if stats.Events > 0 {
		e.cntEvents.Add(ctx, int64(stats.Events))
	}
	if stats.Tickets > 0 {
		e.cntTickets.Add(ctx, int64(stats.Tickets))
	}
	if stats.Pushed > 0 {
		e.cntPushed.Add(ctx, int64(stats.Pushed))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.Int("sync.events", stats.Events),
		attribute.Int("sync.tickets", stats.Tickets),
		attribute.Int("sync.pushed", stats.Pushed),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

// RunOnce performs a single sync pass and returns.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	return e.pass(ctx)
}

// Run starts the polling loop and the connectivity probe. It blocks until
// ctx is cancelled. Each pass runs under its own timeout so a hung remote
// fetch cannot wedge the daemon.
func (e *Engine) Run(ctx context.Context) error {
	if e.probeInterval > 0 {
		go e.probeLoop(ctx)
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	e.timedPass(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.timedPass(ctx)
		}
	}
}

// timedPass runs one pass under a timeout derived from the poll interval.
func (e *Engine) timedPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, e.pollInterval)
	defer cancel()
	if _, err := e.pass(passCtx); err != nil {
		e.log.Error("sync pass failed", "error", err)
	}
}

// probeLoop pings the backend on its own interval and triggers a pending
// flush on the disconnected→connected transition.
func (e *Engine) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(e.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.probe(ctx)
		}
	}
}

func (e *Engine) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, e.probeInterval)
	defer cancel()

	up := e.prober.Ping(probeCtx) == nil
	if up == e.connected {
		return
	}
	e.connected = up

	if e.onConnChange != nil {
		e.onConnChange(up)
	}

	if !up {
		e.cntOffline.Add(ctx, 1)
		e.log.Warn("backend unreachable, serving cached data only")
		return
	}

	e.log.Info("backend reachable again, flushing pending mutations")
	if _, err := e.syncer.SyncToServer(probeCtx, e.push); err != nil {
		e.log.Error("pending flush failed", "error", err)
	}
	if e.onOnline != nil {
		e.onOnline(probeCtx)
	}
}
