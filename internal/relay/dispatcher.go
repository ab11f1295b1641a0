package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"maxrelay/internal/domain"
	"maxrelay/internal/metrics"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 100
	defaultSubmitWait = 10 * time.Second
)

// Handler processes one message. *Pipeline satisfies it.
type Handler interface {
	Handle(ctx context.Context, msg domain.InboundMessage)
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	Workers    int
	QueueSize  int           // per worker
	SubmitWait time.Duration // how long Submit waits on a full queue before dropping
	Logger     *slog.Logger
}

// Dispatcher hands messages from the MAX read loop to a fixed set of workers.
// Messages of one chat always go to the same worker, so they reach Telegram
// in the order MAX delivered them; different chats proceed concurrently.
type Dispatcher struct {
	handler Handler
	queues  []chan domain.InboundMessage
	wait    time.Duration
	logger  *slog.Logger

	stop     chan struct{} // closed when Run begins shutting down
	stopOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(h Handler, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SubmitWait <= 0 {
		cfg.SubmitWait = defaultSubmitWait
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	queues := make([]chan domain.InboundMessage, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan domain.InboundMessage, cfg.QueueSize)
	}
	return &Dispatcher{
		handler: h,
		queues:  queues,
		wait:    cfg.SubmitWait,
		logger:  cfg.Logger,
		stop:    make(chan struct{}),
	}
}

// Submit queues msg for its chat's worker. It blocks up to SubmitWait when
// that worker is backed up, then drops the message; shutdown ends the wait
// early. It returns false if the message was not queued.
func (d *Dispatcher) Submit(msg domain.InboundMessage) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("dispatcher closed, message dropped", "chat_id", msg.ChatID, "message_id", msg.MessageID)
		metrics.Dropped.Inc()
		return false
	}

	q := d.queues[d.shard(msg.ChatID)]
	select {
	case q <- msg:
		return true
	default:
	}

	d.logger.Warn("worker queue full, waiting", "chat_id", msg.ChatID)
	timer := time.NewTimer(d.wait)
	defer timer.Stop()
	select {
	case q <- msg:
		return true
	case <-timer.C:
		d.logger.Error("message dropped: worker queue full", "chat_id", msg.ChatID, "message_id", msg.MessageID, "waited", d.wait)
		metrics.Dropped.Inc()
		return false
	case <-d.stop:
		d.logger.Warn("dispatcher stopping, message dropped", "chat_id", msg.ChatID, "message_id", msg.MessageID)
		metrics.Dropped.Inc()
		return false
	}
}

func (d *Dispatcher) shard(chatID int64) int {
	n := int64(len(d.queues))
	s := chatID % n
	if s < 0 {
		s += n
	}
	return int(s)
}

// Run starts the workers and blocks until ctx is cancelled. Messages still
// queued at that point are discarded; the one being handled is allowed to
// observe the cancelled ctx and stop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "workers", len(d.queues))

	var wg sync.WaitGroup
	for _, q := range d.queues {
		wg.Add(1)
		go func(q <-chan domain.InboundMessage) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-q:
					d.handler.Handle(ctx, msg)
				}
			}
		}(q)
	}

	<-ctx.Done()
	d.stopOnce.Do(func() { close(d.stop) })
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
	return nil
}
