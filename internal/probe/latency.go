// Package probe provides the process-wide latency monitor. One shared
// timer serves every subscriber; a reference count ties the timer's
// lifetime to the last interested call site.
package probe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/logging"
	"ops-coordination-service/internal/observability/metrics"
)

// Latency classification threshold. Samples above this are unhealthy.
const HealthyThresholdMs = 300

// DefaultInterval is the probe cadence when callers don't specify one.
const DefaultInterval = 20 * time.Second

// Pinger measures one round trip to the backend health endpoint.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Monitor is the reference-counted latency probe. Construct one per
// process and hand it to every consumer; Retain/Release bracket interest.
type Monitor struct {
	pinger  Pinger
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	refs        int
	last        models.LatencySample
	subscribers map[int]func(models.LatencySample)
	nextSubID   int
	stop        chan struct{}
	done        chan struct{}
}

// NewMonitor creates an idle monitor. The timer starts on the first Retain.
func NewMonitor(pinger Pinger, timeout time.Duration, m *metrics.Metrics) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		pinger:      pinger,
		timeout:     timeout,
		metrics:     m,
		log:         logging.WithComponent("latency-probe"),
		now:         time.Now,
		subscribers: make(map[int]func(models.LatencySample)),
	}
}

// Retain registers interest and starts the shared timer if this is the
// first holder. Subsequent holders keep the existing timer and interval.
func (mo *Monitor) Retain(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	mo.mu.Lock()
	defer mo.mu.Unlock()

	mo.refs++
	if mo.refs > 1 {
		return
	}

	mo.stop = make(chan struct{})
	mo.done = make(chan struct{})
	go mo.run(interval, mo.stop, mo.done)
	mo.log.Info().Dur("interval", interval).Msg("latency probe started")
}

// Release drops one reference and stops the timer when the count reaches
// zero. Idempotent past zero.
func (mo *Monitor) Release() {
	mo.mu.Lock()
	if mo.refs == 0 {
		mo.mu.Unlock()
		return
	}
	mo.refs--
	if mo.refs > 0 {
		mo.mu.Unlock()
		return
	}
	stop, done := mo.stop, mo.done
	mo.stop, mo.done = nil, nil
	mo.mu.Unlock()

	close(stop)
	<-done
	mo.log.Info().Msg("latency probe stopped")
}

// Subscribe delivers every new sample to cb. The returned function removes
// the subscription and is safe to call more than once.
func (mo *Monitor) Subscribe(cb func(models.LatencySample)) func() {
	mo.mu.Lock()
	id := mo.nextSubID
	mo.nextSubID++
	mo.subscribers[id] = cb
	mo.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			mo.mu.Lock()
			delete(mo.subscribers, id)
			mo.mu.Unlock()
		})
	}
}

// State returns the last known sample synchronously. Before the first
// probe completes it returns a zero-valued sample with Healthy=false.
func (mo *Monitor) State() models.LatencySample {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.last
}

// Refs reports the current reference count.
func (mo *Monitor) Refs() int {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.refs
}

func (mo *Monitor) run(interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	// Probe immediately so consumers don't wait a full interval for
	// their first sample.
	mo.probeOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mo.probeOnce()
		case <-stop:
			return
		}
	}
}

// probeOnce issues a single round trip and publishes the sample. Failures
// are recorded, never raised; the engine downstream must always have a
// sample to compute from.
func (mo *Monitor) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), mo.timeout)
	rtt, err := mo.pinger.Ping(ctx)
	cancel()

	sample := models.LatencySample{MeasuredAt: mo.now()}
	if err != nil {
		sample.Healthy = false
		sample.Error = err.Error()
		mo.metrics.RecordProbeFailure()
		mo.log.Warn().Err(err).Msg("latency probe failed")
	} else {
		sample.RoundTripMs = rtt.Milliseconds()
		sample.Healthy = sample.RoundTripMs <= HealthyThresholdMs
		mo.metrics.RecordProbeSample(rtt.Seconds(), sample.Healthy)
	}

	mo.mu.Lock()
	mo.last = sample
	subs := make([]func(models.LatencySample), 0, len(mo.subscribers))
	for _, cb := range mo.subscribers {
		subs = append(subs, cb)
	}
	mo.mu.Unlock()

	for _, cb := range subs {
		cb(sample)
	}
}
