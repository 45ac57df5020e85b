package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

// DefaultDispatchWorkers is the default number of per-chat worker shards.
const DefaultDispatchWorkers = 8

// Dispatcher routes inbound events from a Service to a flow engine and sends
// the replies back. Events of one chat are always handled by the same worker,
// in arrival order; different chats run concurrently.
type Dispatcher struct {
	service Service
	engine  flow.Engine
	name    string
	workers int
	dedup   store.DedupRepo
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the number of worker shards.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDedup skips updates already recorded in repo.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(d *Dispatcher) { d.dedup = repo }
}

// WithDispatcherName labels log lines and de-duplication keys.
func WithDispatcherName(name string) DispatcherOption {
	return func(d *Dispatcher) { d.name = name }
}

// NewDispatcher creates a dispatcher for one transport and engine pair.
func NewDispatcher(service Service, engine flow.Engine, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{service: service, engine: engine, workers: DefaultDispatchWorkers}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run reads events until the service's channel closes or ctx is done, then
// drains queued events and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher.Run: starting", "name", d.name, "workers", d.workers)
	defer slog.Info("Dispatcher.Run: stopped", "name", d.name)

	queues := make([]chan models.Event, d.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan models.Event, DefaultChannelBufferSize)
		wg.Add(1)
		go func(q <-chan models.Event) {
			defer wg.Done()
			for ev := range q {
				d.Process(ctx, ev)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	events := d.service.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				slog.Debug("Dispatcher.Run: events channel closed", "name", d.name)
				return
			}
			queues[d.shard(ev.ChatID)] <- ev
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) shard(chatID int64) int {
	return int(uint64(chatID) % uint64(d.workers))
}

// Process handles one event end to end. Engine errors and panics are logged
// and answered with the engine's failure reply.
func (d *Dispatcher) Process(ctx context.Context, ev models.Event) {
	if ev.CallbackID != "" {
		if err := d.service.AnswerCallback(ctx, ev.CallbackID); err != nil {
			slog.Warn("Dispatcher.Process: answer callback failed", "name", d.name, "chatID", ev.ChatID, "error", err)
		}
	}

	if d.dedup != nil && ev.ID != 0 {
		key := d.dedupKey(ev)
		isNew, err := d.dedup.RecordInbound(ctx, key, strconv.FormatInt(ev.ChatID, 10))
		switch {
		case err != nil:
			slog.Warn("Dispatcher.Process: dedup record failed, handling anyway", "name", d.name, "key", key, "error", err)
		case !isNew:
			slog.Info("Dispatcher.Process: duplicate update skipped", "name", d.name, "key", key)
			return
		default:
			defer func() {
				if err := d.dedup.MarkProcessed(ctx, key); err != nil {
					slog.Warn("Dispatcher.Process: mark processed failed", "name", d.name, "key", key, "error", err)
				}
			}()
		}
	}

	replies, err := d.handle(ctx, ev)
	if err != nil {
		slog.Error("Dispatcher.Process: handler failed", "name", d.name, "chatID", ev.ChatID, "kind", ev.Kind, "error", err)
		replies = []models.Reply{d.engine.FailureReply(ev.ChatID)}
	}
	for _, r := range replies {
		if err := d.service.Send(ctx, r); err != nil {
			slog.Error("Dispatcher.Process: send failed", "name", d.name, "chatID", r.ChatID, "error", err)
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev models.Event) (replies []models.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.handle: panic", "name", d.name, "chatID", ev.ChatID, "panic", r, "stack", string(debug.Stack()))
			replies, err = nil, fmt.Errorf("panic handling event: %v", r)
		}
	}()
	return d.engine.Handle(ctx, ev)
}

func (d *Dispatcher) dedupKey(ev models.Event) string {
	return fmt.Sprintf("tg:%s:%d", d.name, ev.ID)
}
