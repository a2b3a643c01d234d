// Package recorder persists the message history published on the event bus.
package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"meshdash/internal/eventbus"
	"meshdash/internal/metrics"
	"meshdash/internal/model"
	"meshdash/pkg/exception"
)

// Store saves a batch of messages. Saving an id twice must not fail and
// msgs must not be retained after Save returns.
type Store interface {
	Save(ctx context.Context, msgs []model.InboundMessage) error
}

// Writer batches messages from a buffered queue into a Store.
type Writer struct {
	cfg     Config
	store   Store
	metrics *metrics.Metrics

	mu     sync.RWMutex
	ch     chan model.InboundMessage
	closed bool

	wg      sync.WaitGroup
	errMu   sync.Mutex
	err     error
	started atomic.Bool
	sub     atomic.Pointer[eventbus.Subscription]
}

// NewWriter creates a history writer.
func NewWriter(cfg Config, store Store, m *metrics.Metrics) (*Writer, error) {
	if store == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil history store")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{
		cfg:     cfg,
		store:   store,
		metrics: m,
		ch:      make(chan model.InboundMessage, cfg.QueueSize),
	}, nil
}

// Attach enqueues every MESSAGE_RECEIVED published on bus.
// Enqueue never blocks, so the publisher is not slowed by the store.
func (w *Writer) Attach(bus *eventbus.Bus) {
	sub := bus.Subscribe(eventbus.TagMessageReceived, func(e eventbus.Event) {
		msg, ok := e.(eventbus.MessageReceived)
		if !ok {
			return
		}
		if err := w.Enqueue(msg.Message); err != nil {
			w.metrics.IncRecorderDropped(dropReason(err))
		}
	})
	if prev := w.sub.Swap(sub); prev != nil {
		prev.Unsubscribe()
	}
}

// Enqueue queues msg without blocking.
func (w *Writer) Enqueue(msg model.InboundMessage) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return exception.ErrClosed
	}
	select {
	case w.ch <- msg:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return exception.ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close detaches from the bus, saves what is queued and stops the writer.
func (w *Writer) Close() error {
	if sub := w.sub.Swap(nil); sub != nil {
		sub.Unsubscribe()
	}

	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.flush(context.Background(), w.drain(nil))
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *Writer) run(ctx context.Context) {
	var (
		batch  = make([]model.InboundMessage, 0, w.cfg.BatchSize)
		flushC <-chan time.Time
	)
	if w.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()
		flushC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background(), w.drain(batch))
			return
		case msg, ok := <-w.ch:
			if !ok {
				w.flush(context.Background(), batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-flushC:
			w.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

// drain appends every queued message to batch without blocking.
func (w *Writer) drain(batch []model.InboundMessage) []model.InboundMessage {
	for {
		select {
		case msg, ok := <-w.ch:
			if !ok {
				return batch
			}
			batch = append(batch, msg)
		default:
			return batch
		}
	}
}

func (w *Writer) flush(ctx context.Context, batch []model.InboundMessage) {
	for len(batch) > 0 {
		n := min(len(batch), w.cfg.BatchSize)
		w.save(ctx, batch[:n])
		batch = batch[n:]
	}
}

func (w *Writer) save(ctx context.Context, batch []model.InboundMessage) {
	if w.cfg.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.SaveTimeout)
		defer cancel()
	}

	if err := w.store.Save(ctx, batch); err != nil {
		w.setErr(err)
		w.metrics.IncRecorderDropped("store")
		logs.Errorf("save message history, size: %d, err: %+v", len(batch), err)
		return
	}
	w.metrics.AddRecorderSaved(len(batch))
}

func (w *Writer) setErr(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}

func dropReason(err error) string {
	switch err {
	case exception.ErrQueueFull:
		return "queue_full"
	case exception.ErrClosed:
		return "closed"
	default:
		return "unknown"
	}
}
