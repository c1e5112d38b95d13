package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/metrics"
)

type presenceWrite struct {
	subjectID    string
	status       models.PresenceStatus
	netID        string
	transmitting bool
}

// fakeWriter implements Writer for testing.
type fakeWriter struct {
	mu     sync.Mutex
	writes []presenceWrite
	err    error
}

func (w *fakeWriter) WritePresence(_ context.Context, subjectID string, status models.PresenceStatus, netID string, transmitting bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, presenceWrite{subjectID, status, netID, transmitting})
	return w.err
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *fakeWriter) at(i int) presenceWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes[i]
}

func (w *fakeWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func TestHeartbeat_WritesImmediatelyOnStart(t *testing.T) {
	writer := &fakeWriter{}
	hb := NewHeartbeat(writer, time.Hour, time.Second, metrics.NewTestMetrics())

	hb.Start("subject-1", models.PresenceInCall, "net-1")
	defer hb.Stop()

	if writer.count() != 1 {
		t.Fatalf("expected 1 immediate write, got %d", writer.count())
	}
	w := writer.at(0)
	if w.subjectID != "subject-1" || w.status != models.PresenceInCall || w.netID != "net-1" {
		t.Errorf("unexpected first write %+v", w)
	}
}

func TestHeartbeat_NoCadenceWithoutNet(t *testing.T) {
	writer := &fakeWriter{}
	hb := NewHeartbeat(writer, 10*time.Millisecond, time.Second, metrics.NewTestMetrics())

	hb.Start("subject-1", models.PresenceOnline, "")
	time.Sleep(60 * time.Millisecond)

	if writer.count() != 1 {
		t.Errorf("expected exactly 1 write while idle, got %d", writer.count())
	}
}

func TestHeartbeat_TicksWhileAttachedToNet(t *testing.T) {
	writer := &fakeWriter{}
	hb := NewHeartbeat(writer, 10*time.Millisecond, time.Second, metrics.NewTestMetrics())

	hb.Start("subject-1", models.PresenceInCall, "net-1")
	time.Sleep(55 * time.Millisecond)
	hb.Stop()

	// Immediate write plus at least a few ticks plus the final write.
	if writer.count() < 4 {
		t.Errorf("expected several heartbeat writes, got %d", writer.count())
	}
}

func TestHeartbeat_StopSendsFinalOnlineWrite(t *testing.T) {
	writer := &fakeWriter{}
	hb := NewHeartbeat(writer, time.Hour, time.Second, metrics.NewTestMetrics())

	hb.Start("subject-1", models.PresenceInCall, "net-1")
	hb.Stop()

	last := writer.at(writer.count() - 1)
	if last.status != models.PresenceOnline {
		t.Errorf("expected final write status online, got %s", last.status)
	}
	if last.netID != "" || last.transmitting {
		t.Errorf("expected final write to clear net and transmit, got %+v", last)
	}
}

func TestHeartbeat_StopIsIdempotent(t *testing.T) {
	writer := &fakeWriter{}
	hb := NewHeartbeat(writer, time.Hour, time.Second, metrics.NewTestMetrics())

	hb.Start("subject-1", models.PresenceInCall, "net-1")
	hb.Stop()
	n := writer.count()
	hb.Stop()
	hb.Stop()

	if writer.count() != n {
		t.Errorf("expected no extra writes on repeated Stop, got %d -> %d", n, writer.count())
	}
}

func TestHeartbeat_SetTransmittingWritesOutOfBand(t *testing.T) {
	writer := &fakeWriter{}
	hb := NewHeartbeat(writer, time.Hour, time.Second, metrics.NewTestMetrics())

	hb.Start("subject-1", models.PresenceInCall, "net-1")
	defer hb.Stop()

	hb.SetTransmitting(true)
	if writer.count() != 2 {
		t.Fatalf("expected immediate transmit write, got %d writes", writer.count())
	}
	if !writer.at(1).transmitting {
		t.Error("expected transmit flag set on out-of-band write")
	}

	hb.SetTransmitting(false)
	if writer.at(2).transmitting {
		t.Error("expected transmit flag cleared")
	}
}

func TestHeartbeat_WriteFailuresTrackHealth(t *testing.T) {
	writer := &fakeWriter{err: errors.New("backend down")}
	hb := NewHeartbeat(writer, time.Hour, time.Second, metrics.NewTestMetrics())

	var mu sync.Mutex
	var seen []WriteHealth
	hb.OnHealth(func(h WriteHealth) {
		mu.Lock()
		seen = append(seen, h)
		mu.Unlock()
	})

	hb.Start("subject-1", models.PresenceInCall, "net-1")

	health := hb.Health()
	if health.LastWriteSuccess {
		t.Error("expected failed write recorded")
	}
	if health.WriteFailureCount != 1 {
		t.Errorf("expected failure count 1, got %d", health.WriteFailureCount)
	}

	// Recovery resets the failure count.
	writer.setErr(nil)
	hb.SetTransmitting(true)

	health = hb.Health()
	if !health.LastWriteSuccess || health.WriteFailureCount != 0 {
		t.Errorf("expected recovered health, got %+v", health)
	}

	mu.Lock()
	callbacks := len(seen)
	mu.Unlock()
	if callbacks < 2 {
		t.Errorf("expected health callbacks for each write, got %d", callbacks)
	}

	hb.Stop()
}
