package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"maxrelay/internal/domain"
)

const defaultSendBurst = 20

// errPaceDeadline means the next free send slot lies beyond the caller's
// deadline, so the send is refused without waiting.
var errPaceDeadline = errors.New("send slot after context deadline")

// sendPacer spaces Bot API calls to a steady rate while letting up to burst
// calls go out back to back. It books slots on a schedule: tat is the time
// the next call would be due if every call ran at the steady rate.
type sendPacer struct {
	mu       sync.Mutex
	interval time.Duration
	slack    time.Duration // how far ahead of tat a call may run
	tat      time.Time
	now      func() time.Time
}

func newSendPacer(perMinute float64, burst int) *sendPacer {
	if burst <= 0 {
		burst = defaultSendBurst
	}
	interval := time.Duration(float64(time.Minute) / perMinute)
	return &sendPacer{
		interval: interval,
		slack:    time.Duration(burst-1) * interval,
		now:      time.Now,
	}
}

// reserve books the next slot and returns how long until it opens. A slot
// opening after deadline is not booked and ok is false. A zero deadline
// means none.
func (p *sendPacer) reserve(deadline time.Time) (delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	tat := p.tat
	if tat.Before(now) {
		tat = now
	}
	if delay = tat.Sub(now) - p.slack; delay < 0 {
		delay = 0
	}
	if !deadline.IsZero() && now.Add(delay).After(deadline) {
		return delay, false
	}
	p.tat = tat.Add(p.interval)
	return delay, true
}

// hold keeps every send back for at least d, as Telegram asks with
// retry_after on a 429.
func (p *sendPacer) hold(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if until := p.now().Add(d + p.slack); until.After(p.tat) {
		p.tat = until
	}
}

// wait blocks until a slot for method opens. Failures come back as
// *domain.DeliveryError so callers see them like any other failed send.
func (p *sendPacer) wait(ctx context.Context, method string) error {
	deadline, _ := ctx.Deadline()
	delay, ok := p.reserve(deadline)
	if !ok {
		return &domain.DeliveryError{Op: method, Err: fmt.Errorf("%w: next slot in %s", errPaceDeadline, delay.Round(time.Millisecond))}
	}
	if delay == 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &domain.DeliveryError{Op: method, Err: ctx.Err()}
	case <-timer.C:
		return nil
	}
}
