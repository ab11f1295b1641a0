package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"maxrelay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []domain.InboundMessage
	done chan struct{}
	want int
}

func (h *recordingHandler) Handle(_ context.Context, msg domain.InboundMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, msg)
	if len(h.seen) == h.want {
		close(h.done)
	}
}

func TestDispatcher_PerChatOrder(t *testing.T) {
	h := &recordingHandler{done: make(chan struct{}), want: 20}
	d := NewDispatcher(h, DispatcherConfig{Workers: 3, Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := int64(0); i < 10; i++ {
		require.True(t, d.Submit(domain.InboundMessage{ChatID: 1, MessageID: i}))
		require.True(t, d.Submit(domain.InboundMessage{ChatID: -2, MessageID: i}))
	}

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messages")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	last := map[int64]int64{1: -1, -2: -1}
	for _, m := range h.seen {
		assert.Greater(t, m.MessageID, last[m.ChatID], "chat %d out of order", m.ChatID)
		last[m.ChatID] = m.MessageID
	}
}

type blockingHandler struct{ release chan struct{} }

func (h *blockingHandler) Handle(ctx context.Context, _ domain.InboundMessage) {
	select {
	case <-h.release:
	case <-ctx.Done():
	}
}

func TestDispatcher_DropsWhenQueueStaysFull(t *testing.T) {
	h := &blockingHandler{release: make(chan struct{})}
	d := NewDispatcher(h, DispatcherConfig{Workers: 1, QueueSize: 1, SubmitWait: 20 * time.Millisecond, Logger: discardLogger()})

	// Without a running worker the single slot fills immediately.
	assert.True(t, d.Submit(domain.InboundMessage{ChatID: 1, MessageID: 1}))
	assert.False(t, d.Submit(domain.InboundMessage{ChatID: 1, MessageID: 2}))
}

func TestDispatcher_RejectsAfterStop(t *testing.T) {
	h := &recordingHandler{done: make(chan struct{}), want: -1}
	d := NewDispatcher(h, DispatcherConfig{Workers: 1, Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	assert.False(t, d.Submit(domain.InboundMessage{ChatID: 1}))
}

func TestDispatcher_NegativeChatShard(t *testing.T) {
	d := NewDispatcher(&recordingHandler{}, DispatcherConfig{Workers: 4})
	for _, id := range []int64{-1, -5, -100, 0, 7} {
		s := d.shard(id)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 4)
	}
}

func TestDispatcher_StopEndsSubmitWait(t *testing.T) {
	h := &blockingHandler{release: make(chan struct{})}
	d := NewDispatcher(h, DispatcherConfig{Workers: 1, QueueSize: 1, SubmitWait: time.Minute, Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	// One message occupies the worker, the next fills the queue.
	require.True(t, d.Submit(domain.InboundMessage{ChatID: 1, MessageID: 1}))
	require.Eventually(t, func() bool { return len(d.queues[0]) == 0 }, time.Second, time.Millisecond)
	require.True(t, d.Submit(domain.InboundMessage{ChatID: 1, MessageID: 2}))

	submitted := make(chan bool, 1)
	go func() { submitted <- d.Submit(domain.InboundMessage{ChatID: 1, MessageID: 3}) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-submitted:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Submit kept waiting after shutdown")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
