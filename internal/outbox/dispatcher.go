// Package outbox decouples request latency from persistence latency: the
// request path does an in-memory enqueue only, a single background worker
// persists. When the queue is full events are dropped, never blocked on.
package outbox

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nkulkarni/authgate/internal/decision"
	"github.com/nkulkarni/authgate/internal/metrics"
	"github.com/nkulkarni/authgate/internal/transaction"
)

// Drop reasons reported by Enqueue counters.
const (
	dropInvalid   = "invalid"
	dropDisabled  = "disabled"
	dropQueueFull = "queue_full"
)

// Options tunes the dispatcher. Zero values fall back to defaults.
type Options struct {
	Enabled       bool
	QueueCapacity int
	PollInterval  time.Duration // idle wait when the queue is empty
	Backoff       time.Duration // sleep after a failed persist attempt
	DrainBurst    int           // max extra items persisted per iteration
}

func (o *Options) defaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 10000
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Millisecond
	}
	if o.Backoff <= 0 {
		o.Backoff = o.PollInterval
	}
	if o.DrainBurst <= 0 {
		o.DrainBurst = 64
	}
}

// Dispatcher owns a bounded queue of decision events and one worker that
// drains it. Producers only ever offer; the worker exclusively receives.
type Dispatcher struct {
	opts     Options
	evalType string
	appender Appender
	logger   *slog.Logger

	queue  chan *Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher for one evaluation type and starts its
// worker unless disabled.
func NewDispatcher(appender Appender, evalType string, opts Options, logger *slog.Logger) *Dispatcher {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		opts:     opts,
		evalType: evalType,
		appender: appender,
		logger:   logger,
		queue:    make(chan *Event, opts.QueueCapacity),
	}
	metrics.OutboxQueueDepth.Set(0)
	if !opts.Enabled {
		logger.Info("async durability disabled, decision events will not be persisted",
			"evaluation_type", evalType)
		return d
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(ctx)
	logger.Info("async durability enabled",
		"evaluation_type", evalType,
		"queue_capacity", opts.QueueCapacity,
		"poll_interval", opts.PollInterval)
	return d
}

// Enqueue offers a decision event to the queue without ever blocking.
// Invalid inputs and offers to a disabled or full dispatcher are dropped and
// counted by reason; the return value reports whether the event was queued.
func (d *Dispatcher) Enqueue(tx *transaction.Transaction, dec *decision.Decision) bool {
	if !d.opts.Enabled {
		metrics.OutboxDropped.WithLabelValues(dropDisabled).Inc()
		return false
	}
	if tx == nil || dec == nil || !strings.EqualFold(dec.EvaluationType, d.evalType) {
		metrics.OutboxDropped.WithLabelValues(dropInvalid).Inc()
		return false
	}

	ev := &Event{Transaction: tx, Decision: dec, EnqueuedAt: time.Now()}
	select {
	case d.queue <- ev:
		metrics.OutboxEnqueued.Inc()
		metrics.OutboxQueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		metrics.OutboxDropped.WithLabelValues(dropQueueFull).Inc()
		return false
	}
}

// QueueUtilization returns queue used / capacity (0–1).
func (d *Dispatcher) QueueUtilization() float64 {
	if cap(d.queue) == 0 {
		return 0
	}
	return float64(len(d.queue)) / float64(cap(d.queue))
}

// Shutdown stops the worker promptly, interrupting any idle wait or backoff
// sleep. Events still queued are lost; durability is best effort by design.
func (d *Dispatcher) Shutdown() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	idle := time.NewTimer(d.opts.PollInterval)
	defer idle.Stop()

	// pending holds the most recently dequeued but not yet persisted event.
	// It is retried before anything newer so FIFO order survives failures.
	var pending *Event

	for {
		if pending == nil {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.opts.PollInterval)
			select {
			case ev := <-d.queue:
				pending = ev
			case <-idle.C:
				metrics.OutboxQueueDepth.Set(float64(len(d.queue)))
				continue
			case <-ctx.Done():
				return
			}
		}

		if !d.persist(pending) {
			// Keep the stuck item; the queue backs up and starts dropping,
			// which is the explicit backpressure signal.
			if !d.sleep(ctx, d.opts.Backoff) {
				return
			}
			continue
		}
		pending = nil

		// Catch up after backlog: drain a bounded burst in the same
		// iteration, stopping at the first failure or empty queue.
		pending = d.drainBurst()
		metrics.OutboxQueueDepth.Set(float64(len(d.queue)))

		if ctx.Err() != nil {
			return
		}
	}
}

// drainBurst persists up to DrainBurst additional queued events. The first
// failing event is returned so it becomes the pending retry item.
func (d *Dispatcher) drainBurst() *Event {
	for i := 0; i < d.opts.DrainBurst; i++ {
		select {
		case ev := <-d.queue:
			if !d.persist(ev) {
				return ev
			}
		default:
			return nil
		}
	}
	return nil
}

func (d *Dispatcher) persist(ev *Event) bool {
	if err := d.appender.Append(ev); err != nil {
		metrics.OutboxPersistFailures.Inc()
		d.logger.Debug("decision event persist failed, will retry",
			"transaction_id", ev.Transaction.TransactionID, "err", err)
		return false
	}
	metrics.OutboxPersisted.Inc()
	return true
}

// sleep waits for dur unless the context ends first. Returns false on
// cancellation so the worker exits without waiting out the backoff.
func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
