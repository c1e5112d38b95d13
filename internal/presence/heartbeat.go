// Package presence maintains the client's liveness record and the derived
// online roster. The backend data service is the system of record; this
// package owns the write cadence and the read-side recency classification.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/logging"
	"ops-coordination-service/internal/observability/metrics"
)

// DefaultHeartbeatInterval is the write cadence while attached to a net.
const DefaultHeartbeatInterval = 10 * time.Second

// Writer is the presence-write collaborator on the backend data service.
type Writer interface {
	WritePresence(ctx context.Context, subjectID string, status models.PresenceStatus, netID string, transmitting bool) error
}

// WriteHealth summarizes recent heartbeat write outcomes for the
// readiness engine.
type WriteHealth struct {
	LastWriteSuccess  bool
	LastWriteAt       time.Time
	WriteFailureCount int
}

// Heartbeat periodically announces liveness. One write goes out
// immediately on Start; the periodic cadence only runs while attached to
// a net, to bound write volume.
type Heartbeat struct {
	writer   Writer
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	mu           sync.Mutex
	subjectID    string
	status       models.PresenceStatus
	netID        string
	transmitting bool
	running      bool
	stop         chan struct{}
	done         chan struct{}
	health       WriteHealth
	onHealth     func(WriteHealth)
}

// NewHeartbeat creates an idle heartbeat.
func NewHeartbeat(writer Writer, interval, timeout time.Duration, m *metrics.Metrics) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Heartbeat{
		writer:   writer,
		interval: interval,
		timeout:  timeout,
		metrics:  m,
		log:      logging.WithComponent("presence-heartbeat"),
		now:      time.Now,
	}
}

// OnHealth registers a callback invoked after every write attempt with the
// updated health summary. Set before Start.
func (h *Heartbeat) OnHealth(cb func(WriteHealth)) {
	h.mu.Lock()
	h.onHealth = cb
	h.mu.Unlock()
}

// Start announces presence once and, while a net is attached, keeps
// announcing on the heartbeat interval. Calling Start on a running
// heartbeat restarts it with the new identity.
func (h *Heartbeat) Start(subjectID string, status models.PresenceStatus, netID string) {
	h.Stop()

	h.mu.Lock()
	h.subjectID = subjectID
	h.status = status
	h.netID = netID
	h.transmitting = false
	h.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	h.stop = stop
	h.done = done
	h.mu.Unlock()

	h.writeOnce()

	if netID == "" {
		// Fully idle clients don't heartbeat; the single write above
		// is enough until they join a net.
		close(done)
		return
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.writeOnce()
			case <-stop:
				return
			}
		}
	}()
}

// SetTransmitting flips the transmit flag and issues an immediate
// out-of-band write so the change lands with sub-heartbeat latency.
func (h *Heartbeat) SetTransmitting(on bool) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.transmitting = on
	h.mu.Unlock()

	h.writeOnce()
}

// Stop halts the cadence and sends one final best-effort write
// transitioning the subject back to online. Every join is matched by an
// explicit leave write; failures are swallowed since this is cleanup.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stop, done := h.stop, h.done
	subjectID := h.subjectID
	h.mu.Unlock()

	close(stop)
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.writer.WritePresence(ctx, subjectID, models.PresenceOnline, "", false); err != nil {
		h.log.Warn().Err(err).Str("subjectId", subjectID).Msg("final presence write failed")
	}
}

// Health returns the current write-health summary.
func (h *Heartbeat) Health() WriteHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.health
}

// writeOnce performs one presence write. Failures are logged and counted;
// the next natural tick is the retry mechanism, no dedicated backoff.
func (h *Heartbeat) writeOnce() {
	h.mu.Lock()
	subjectID := h.subjectID
	status := h.status
	netID := h.netID
	transmitting := h.transmitting
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	err := h.writer.WritePresence(ctx, subjectID, status, netID, transmitting)
	cancel()

	h.metrics.RecordHeartbeatWrite(err)

	h.mu.Lock()
	h.health.LastWriteAt = h.now()
	if err != nil {
		h.health.LastWriteSuccess = false
		h.health.WriteFailureCount++
	} else {
		h.health.LastWriteSuccess = true
		h.health.WriteFailureCount = 0
	}
	health := h.health
	cb := h.onHealth
	h.mu.Unlock()

	if err != nil {
		h.log.Warn().Err(err).Str("subjectId", subjectID).Msg("presence write failed, retrying on next tick")
	}
	if cb != nil {
		cb(health)
	}
}
