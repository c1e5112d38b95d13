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

// Defaults for the read-side poll.
const (
	DefaultRosterPollInterval = 15 * time.Second
	DefaultRecencyWindow      = 90 * time.Second
)

// Reader is the presence-read collaborator on the backend data service.
type Reader interface {
	ListPresence(ctx context.Context, recencyWindow time.Duration) ([]models.PresenceRecord, error)
}

// RosterPoller derives the online roster from presence record recency.
// Pause/Resume map the dashboard's visibility gate: polling stops while
// the tab is hidden and refreshes immediately when it comes back.
type RosterPoller struct {
	reader   Reader
	interval time.Duration
	window   time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	last        models.Roster
	paused      bool
	running     bool
	subscribers map[int]func(models.Roster)
	nextSubID   int
	stop        chan struct{}
	done        chan struct{}
	refresh     chan struct{}
}

// NewRosterPoller creates an idle poller.
func NewRosterPoller(reader Reader, interval, window, timeout time.Duration, m *metrics.Metrics) *RosterPoller {
	if interval <= 0 {
		interval = DefaultRosterPollInterval
	}
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RosterPoller{
		reader:      reader,
		interval:    interval,
		window:      window,
		timeout:     timeout,
		metrics:     m,
		log:         logging.WithComponent("presence-roster"),
		now:         time.Now,
		subscribers: make(map[int]func(models.Roster)),
	}
}

// Start polls immediately and then on the poll interval until Stop.
func (p *RosterPoller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	refresh := make(chan struct{}, 1)
	p.stop = stop
	p.done = done
	p.refresh = refresh
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.pollOnce()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				paused := p.paused
				p.mu.Unlock()
				if !paused {
					p.pollOnce()
				}
			case <-refresh:
				p.pollOnce()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts polling. Idempotent.
func (p *RosterPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done := p.stop, p.done
	p.mu.Unlock()

	close(stop)
	<-done
}

// Pause suspends polling while the dashboard tab is hidden.
func (p *RosterPoller) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume lifts the pause and refreshes immediately.
func (p *RosterPoller) Resume() {
	p.mu.Lock()
	wasPaused := p.paused
	p.paused = false
	running := p.running
	refresh := p.refresh
	p.mu.Unlock()

	if wasPaused && running {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}
}

// Subscribe delivers every roster update to cb. The returned function
// removes the subscription.
func (p *RosterPoller) Subscribe(cb func(models.Roster)) func() {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = cb
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			p.mu.Unlock()
		})
	}
}

// Current returns the last published roster.
func (p *RosterPoller) Current() models.Roster {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Online filters the last roster down to records inside the recency window.
func (p *RosterPoller) Online() []models.PresenceRecord {
	p.mu.Lock()
	roster := p.last
	p.mu.Unlock()

	now := p.now()
	out := make([]models.PresenceRecord, 0, len(roster.Records))
	for _, rec := range roster.Records {
		if rec.Online(now, p.window) {
			out = append(out, rec)
		}
	}
	return out
}

// pollOnce reads presence records and publishes the resulting roster. Read
// failures keep the last-known records and surface the error on the
// published value; stale-but-available beats empty.
func (p *RosterPoller) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	records, err := p.reader.ListPresence(ctx, p.window)
	cancel()

	now := p.now()

	p.mu.Lock()
	if err != nil {
		p.last.Err = err.Error()
	} else {
		p.last = models.Roster{Records: records, FetchedAt: now}
	}
	roster := p.last
	subs := make([]func(models.Roster), 0, len(p.subscribers))
	for _, cb := range p.subscribers {
		subs = append(subs, cb)
	}
	p.mu.Unlock()

	p.metrics.RecordRosterPoll(err, roster.OnlineCount(now, p.window))
	if err != nil {
		p.log.Warn().Err(err).Msg("presence roster read failed, keeping last-known roster")
	}

	for _, cb := range subs {
		cb(roster)
	}
}
