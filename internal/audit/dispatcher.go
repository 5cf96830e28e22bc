package audit

import (
	"context"
	"math/bits"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls dispatcher buffering and where its own failures go.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events when the buffer is full instead of
	// blocking the login path.
	DropIfFull bool
	Logger     *zap.Logger
}

// redactedKeys never reach a sink with their value. Verification codes,
// captcha answers and tokens are bearer secrets.
var redactedKeys = []string{"password", "code", "answer", "token", "secret"}

const redacted = "[redacted]"

// Dispatcher relays events to a sink on one background goroutine. A nil
// *Dispatcher is valid and drops everything.
type Dispatcher struct {
	sink    Sink
	logger  *zap.Logger
	drop    bool
	now     func() time.Time
	events  chan Event
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
}

// NewDispatcher returns nil when cfg.Enabled is false.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	d := &Dispatcher{
		sink:   sink,
		logger: cfg.Logger,
		drop:   cfg.DropIfFull,
		now:    time.Now,
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		case <-d.stop:
			// drain what was accepted before Close
			for {
				select {
				case ev := <-d.events:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver shields the loop from a panicking sink so later events still flow.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked", zap.String("event_type", ev.EventType), zap.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev. With DropIfFull a full buffer counts a drop; otherwise
// Emit waits for room, ctx cancellation or Close.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ev = d.prepare(ev)

	if d.drop {
		select {
		case d.events <- ev:
		case <-d.stop:
		default:
			d.countDrop(ev.EventType)
		}
		return
	}

	select {
	case d.events <- ev:
	case <-ctx.Done():
	case <-d.stop:
	}
}

func (d *Dispatcher) prepare(ev Event) Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}
	if len(ev.Metadata) == 0 {
		return ev
	}

	clean := make(map[string]string, len(ev.Metadata))
	for k, v := range ev.Metadata {
		if isSecretKey(k) {
			v = redacted
		}
		clean[k] = v
	}
	ev.Metadata = clean
	return ev
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range redactedKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// countDrop logs at 1, 2, 4, 8... drops so a stuck sink is visible without
// flooding the log.
func (d *Dispatcher) countDrop(eventType string) {
	n := d.dropped.Add(1)
	if bits.OnesCount64(n) == 1 {
		d.logger.Warn("audit events dropped", zap.Uint64("dropped", n), zap.String("last_event_type", eventType))
	}
}

// Close stops accepting events and waits until the buffer is drained.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped reports events discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
