package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/metrics"
)

// fakePinger implements Pinger for testing.
type fakePinger struct {
	mu    sync.Mutex
	rtt   time.Duration
	err   error
	calls int
}

func (p *fakePinger) Ping(context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.rtt, p.err
}

func (p *fakePinger) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePinger) set(rtt time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rtt = rtt
	p.err = err
}

func newTestMonitor(p Pinger) *Monitor {
	return NewMonitor(p, time.Second, metrics.NewTestMetrics())
}

func waitForPings(t *testing.T, p *fakePinger, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for p.callCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d pings, have %d", want, p.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitor_ProbesImmediatelyOnRetain(t *testing.T) {
	pinger := &fakePinger{rtt: 40 * time.Millisecond}
	mo := newTestMonitor(pinger)

	mo.Retain(time.Hour)
	defer mo.Release()
	waitForPings(t, pinger, 1)

	sample := mo.State()
	if !sample.Healthy {
		t.Error("expected healthy sample for 40ms round trip")
	}
	if sample.RoundTripMs != 40 {
		t.Errorf("expected 40ms, got %d", sample.RoundTripMs)
	}
}

func TestMonitor_ClassifiesSlowRoundTripUnhealthy(t *testing.T) {
	pinger := &fakePinger{rtt: 450 * time.Millisecond}
	mo := newTestMonitor(pinger)

	mo.Retain(time.Hour)
	defer mo.Release()
	waitForPings(t, pinger, 1)

	sample := mo.State()
	if sample.Healthy {
		t.Error("expected unhealthy sample for 450ms round trip")
	}
	if sample.Error != "" {
		t.Errorf("slow round trip is not an error, got %q", sample.Error)
	}
}

func TestMonitor_RecordsFailureWithoutRaising(t *testing.T) {
	pinger := &fakePinger{err: errors.New("connection refused")}
	mo := newTestMonitor(pinger)

	mo.Retain(time.Hour)
	defer mo.Release()
	waitForPings(t, pinger, 1)

	sample := mo.State()
	if sample.Healthy {
		t.Error("expected unhealthy sample on probe failure")
	}
	if sample.Error == "" {
		t.Error("expected error recorded on sample")
	}
}

func TestMonitor_SingleTimerAcrossRetains(t *testing.T) {
	pinger := &fakePinger{rtt: 10 * time.Millisecond}
	mo := newTestMonitor(pinger)

	mo.Retain(20 * time.Millisecond)
	mo.Retain(20 * time.Millisecond)
	mo.Retain(20 * time.Millisecond)
	if mo.Refs() != 3 {
		t.Fatalf("expected 3 refs, got %d", mo.Refs())
	}
	waitForPings(t, pinger, 2)

	// Two of three holders release; the timer must keep running.
	mo.Release()
	mo.Release()
	before := pinger.callCount()
	waitForPings(t, pinger, before+1)

	// Last release tears the timer down.
	mo.Release()
	idle := pinger.callCount()
	time.Sleep(80 * time.Millisecond)
	if pinger.callCount() != idle {
		t.Errorf("expected no pings after last release, got %d extra", pinger.callCount()-idle)
	}
}

func TestMonitor_ReleaseIdempotentPastZero(t *testing.T) {
	pinger := &fakePinger{}
	mo := newTestMonitor(pinger)

	mo.Release()
	mo.Release()
	if mo.Refs() != 0 {
		t.Errorf("expected refs to stay at 0, got %d", mo.Refs())
	}

	// A fresh retain after over-release still works.
	mo.Retain(time.Hour)
	defer mo.Release()
	waitForPings(t, pinger, 1)
}

func TestMonitor_SubscribersReceiveSamples(t *testing.T) {
	pinger := &fakePinger{rtt: 25 * time.Millisecond}
	mo := newTestMonitor(pinger)

	var mu sync.Mutex
	var samples []models.LatencySample
	unsub := mo.Subscribe(func(s models.LatencySample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	})

	mo.Retain(10 * time.Millisecond)
	waitForPings(t, pinger, 3)
	unsub()
	mo.Release()

	mu.Lock()
	n := len(samples)
	mu.Unlock()
	if n < 3 {
		t.Errorf("expected at least 3 delivered samples, got %d", n)
	}
}
