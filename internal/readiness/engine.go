// Package readiness derives the three-state operator-facing health signal
// from presence write health and latency samples.
package readiness

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/logging"
	"ops-coordination-service/internal/observability/metrics"
	"ops-coordination-service/internal/presence"
	"ops-coordination-service/internal/probe"
)

// Latency band that degrades readiness without alerting.
const elevatedLatencyMs = 150

// Compute derives a snapshot from the two upstream inputs. Pure: identical
// inputs always yield the identical state. Rule order matters; the first
// matching rule wins.
func Compute(health presence.WriteHealth, latency models.LatencySample) models.ReadinessSnapshot {
	snap := models.ReadinessSnapshot{ComputedAt: time.Now()}

	switch {
	case latency.Error != "":
		snap.State = models.StateAlert
		snap.Reason = latency.Error
		snap.Context = "latency probe failed"
	case !latency.Healthy && latency.RoundTripMs > probe.HealthyThresholdMs:
		snap.State = models.StateAlert
		snap.Reason = "high latency"
		snap.Context = fmt.Sprintf("round trip %dms", latency.RoundTripMs)
	case !health.LastWriteSuccess || health.WriteFailureCount > 0:
		snap.State = models.StateDegraded
		snap.Reason = "presence write degraded"
		snap.Context = fmt.Sprintf("%d consecutive failures", health.WriteFailureCount)
	case latency.RoundTripMs > elevatedLatencyMs && latency.RoundTripMs <= probe.HealthyThresholdMs:
		snap.State = models.StateDegraded
		snap.Reason = "elevated latency"
		snap.Context = fmt.Sprintf("round trip %dms", latency.RoundTripMs)
	default:
		snap.State = models.StateReady
	}

	return snap
}

// Engine recomputes reactively whenever either upstream input changes and
// fans the resulting snapshots out to subscribers. No hidden state beyond
// the two inputs.
type Engine struct {
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu          sync.Mutex
	health      presence.WriteHealth
	latency     models.LatencySample
	snapshot    models.ReadinessSnapshot
	subscribers map[int]func(models.ReadinessSnapshot)
	nextSubID   int
}

// NewEngine creates an engine with both inputs at their zero values. The
// initial snapshot reads DEGRADED until the first heartbeat write lands.
func NewEngine(m *metrics.Metrics) *Engine {
	e := &Engine{
		metrics:     m,
		log:         logging.WithComponent("readiness-engine"),
		subscribers: make(map[int]func(models.ReadinessSnapshot)),
	}
	e.snapshot = Compute(e.health, e.latency)
	return e
}

// SetWriteHealth feeds a presence write-health update and recomputes.
func (e *Engine) SetWriteHealth(h presence.WriteHealth) {
	e.mu.Lock()
	e.health = h
	e.recomputeLocked()
}

// SetLatency feeds a latency sample and recomputes.
func (e *Engine) SetLatency(s models.LatencySample) {
	e.mu.Lock()
	e.latency = s
	e.recomputeLocked()
}

// Snapshot returns the current snapshot synchronously.
func (e *Engine) Snapshot() models.ReadinessSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Subscribe delivers every recomputed snapshot to cb. The returned
// function removes the subscription.
func (e *Engine) Subscribe(cb func(models.ReadinessSnapshot)) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = cb
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subscribers, id)
			e.mu.Unlock()
		})
	}
}

// recomputeLocked recomputes under e.mu, releases it, then notifies.
func (e *Engine) recomputeLocked() {
	prev := e.snapshot.State
	e.snapshot = Compute(e.health, e.latency)
	snap := e.snapshot
	subs := make([]func(models.ReadinessSnapshot), 0, len(e.subscribers))
	for _, cb := range e.subscribers {
		subs = append(subs, cb)
	}
	e.mu.Unlock()

	changed := snap.State != prev
	e.metrics.RecordReadiness(string(snap.State), changed)
	if changed {
		e.log.Info().
			Str("from", string(prev)).
			Str("to", string(snap.State)).
			Str("reason", snap.Reason).
			Msg("readiness state changed")
	}

	for _, cb := range subs {
		cb(snap)
	}
}
