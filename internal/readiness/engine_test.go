package readiness

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/metrics"
	"ops-coordination-service/internal/presence"
)

func nominalHealth() presence.WriteHealth {
	return presence.WriteHealth{LastWriteSuccess: true, WriteFailureCount: 0}
}

func TestCompute_Rules(t *testing.T) {
	tests := []struct {
		name       string
		health     presence.WriteHealth
		latency    models.LatencySample
		wantState  models.ReadinessState
		wantReason string
	}{
		{
			name:      "nominal fast path is ready",
			health:    nominalHealth(),
			latency:   models.LatencySample{RoundTripMs: 50, Healthy: true},
			wantState: models.StateReady,
		},
		{
			name:       "elevated latency degrades",
			health:     nominalHealth(),
			latency:    models.LatencySample{RoundTripMs: 220, Healthy: true},
			wantState:  models.StateDegraded,
			wantReason: "elevated latency",
		},
		{
			name:       "latency over threshold alerts",
			health:     nominalHealth(),
			latency:    models.LatencySample{RoundTripMs: 450, Healthy: false},
			wantState:  models.StateAlert,
			wantReason: "high latency",
		},
		{
			name:       "probe error alerts regardless of presence",
			health:     presence.WriteHealth{LastWriteSuccess: false, WriteFailureCount: 7},
			latency:    models.LatencySample{Healthy: false, Error: "timeout"},
			wantState:  models.StateAlert,
			wantReason: "timeout",
		},
		{
			name:       "failed presence write degrades",
			health:     presence.WriteHealth{LastWriteSuccess: false, WriteFailureCount: 1},
			latency:    models.LatencySample{RoundTripMs: 50, Healthy: true},
			wantState:  models.StateDegraded,
			wantReason: "presence write degraded",
		},
		{
			name:       "lingering failure count degrades even after success",
			health:     presence.WriteHealth{LastWriteSuccess: true, WriteFailureCount: 2},
			latency:    models.LatencySample{RoundTripMs: 50, Healthy: true},
			wantState:  models.StateDegraded,
			wantReason: "presence write degraded",
		},
		{
			name:      "boundary 150ms stays ready",
			health:    nominalHealth(),
			latency:   models.LatencySample{RoundTripMs: 150, Healthy: true},
			wantState: models.StateReady,
		},
		{
			name:       "boundary 300ms degrades but does not alert",
			health:     nominalHealth(),
			latency:    models.LatencySample{RoundTripMs: 300, Healthy: true},
			wantState:  models.StateDegraded,
			wantReason: "elevated latency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Compute(tt.health, tt.latency)
			assert.Equal(t, tt.wantState, snap.State)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, snap.Reason)
			}
			assert.False(t, snap.ComputedAt.IsZero())
		})
	}
}

func TestCompute_Pure(t *testing.T) {
	health := nominalHealth()
	latency := models.LatencySample{RoundTripMs: 220, Healthy: true}

	a := Compute(health, latency)
	b := Compute(health, latency)

	assert.Equal(t, a.State, b.State)
	assert.Equal(t, a.Reason, b.Reason)
	assert.Equal(t, a.Context, b.Context)
}

func TestEngine_RecomputesOnInputChange(t *testing.T) {
	e := NewEngine(metrics.NewTestMetrics())

	var mu sync.Mutex
	var states []models.ReadinessState
	unsub := e.Subscribe(func(s models.ReadinessSnapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})
	defer unsub()

	e.SetWriteHealth(nominalHealth())
	e.SetLatency(models.LatencySample{RoundTripMs: 50, Healthy: true})
	assert.Equal(t, models.StateReady, e.Snapshot().State)

	e.SetLatency(models.LatencySample{Healthy: false, Error: "timeout"})
	assert.Equal(t, models.StateAlert, e.Snapshot().State)

	e.SetLatency(models.LatencySample{RoundTripMs: 50, Healthy: true})
	assert.Equal(t, models.StateReady, e.Snapshot().State)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, states, 4)
	assert.Equal(t, models.StateAlert, states[2])
}

func TestEngine_InitialSnapshotBeforeFirstWrite(t *testing.T) {
	e := NewEngine(metrics.NewTestMetrics())

	// No inputs yet: presence has never written, so the engine must not
	// claim READY.
	assert.Equal(t, models.StateDegraded, e.Snapshot().State)
}

func TestEngine_UnsubscribeStopsDelivery(t *testing.T) {
	e := NewEngine(metrics.NewTestMetrics())

	calls := 0
	unsub := e.Subscribe(func(models.ReadinessSnapshot) { calls++ })
	e.SetWriteHealth(nominalHealth())
	unsub()
	unsub() // safe to call twice
	e.SetWriteHealth(presence.WriteHealth{LastWriteSuccess: false, WriteFailureCount: 1})

	assert.Equal(t, 1, calls)
}
