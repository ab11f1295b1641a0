package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"maxrelay/internal/domain"
)

func fixedClockPacer(perMinute float64, burst int) (*sendPacer, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newSendPacer(perMinute, burst)
	p.now = func() time.Time { return now }
	return p, &now
}

func TestSendPacer_Burst(t *testing.T) {
	p, _ := fixedClockPacer(60, 3)

	for i := 0; i < 3; i++ {
		if d, ok := p.reserve(time.Time{}); !ok || d != 0 {
			t.Fatalf("send %d: delay=%v ok=%v, want immediate", i, d, ok)
		}
	}
	if d, _ := p.reserve(time.Time{}); d != time.Second {
		t.Fatalf("fourth send delay = %v, want 1s", d)
	}
}

func TestSendPacer_Refills(t *testing.T) {
	p, now := fixedClockPacer(60, 1)

	if d, _ := p.reserve(time.Time{}); d != 0 {
		t.Fatalf("first delay = %v", d)
	}
	*now = now.Add(400 * time.Millisecond)
	if d, _ := p.reserve(time.Time{}); d != 600*time.Millisecond {
		t.Fatalf("second delay = %v, want 600ms", d)
	}
	*now = now.Add(10 * time.Second)
	if d, _ := p.reserve(time.Time{}); d != 0 {
		t.Fatalf("delay after idle = %v, want 0", d)
	}
}

func TestSendPacer_DeadlineRefusesWithoutBooking(t *testing.T) {
	p, now := fixedClockPacer(60, 1)
	p.reserve(time.Time{})

	if _, ok := p.reserve(now.Add(500 * time.Millisecond)); ok {
		t.Fatal("slot 1s out was booked against a 500ms deadline")
	}
	// The refused call must not push later sends back.
	if d, ok := p.reserve(time.Time{}); !ok || d != time.Second {
		t.Fatalf("next delay = %v ok=%v, want 1s", d, ok)
	}
}

func TestSendPacer_Hold(t *testing.T) {
	p, _ := fixedClockPacer(60, 5)

	p.hold(7 * time.Second)
	if d, _ := p.reserve(time.Time{}); d != 7*time.Second {
		t.Fatalf("delay after hold = %v, want 7s", d)
	}
}

func TestSendPacer_WaitErrors(t *testing.T) {
	p := newSendPacer(1, 1) // one send a minute
	if err := p.wait(context.Background(), "sendPhoto"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	err := p.wait(ctx, "sendPhoto")
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("wait blocked %v before refusing", elapsed)
	}
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.Op != "sendPhoto" {
		t.Fatalf("err = %v, want DeliveryError for sendPhoto", err)
	}
	if !errors.Is(err, errPaceDeadline) {
		t.Fatalf("err = %v, want errPaceDeadline", err)
	}

	p = newSendPacer(600, 1)
	p.wait(context.Background(), "sendMessage")
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	err = p.wait(ctx, "sendMessage")
	if !errors.As(err, &de) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want cancelled DeliveryError", err)
	}
}
