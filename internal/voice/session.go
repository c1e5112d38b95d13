package voice

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/logging"
	"ops-coordination-service/internal/observability/metrics"
)

// ManagerConfig tunes a session manager.
type ManagerConfig struct {
	LocalIdentity    string
	LocalDisplayName string
	LocalRank        int
	ActivityVariance float64
	ChurnInterval    time.Duration
	RequestTimeout   time.Duration
}

// Manager owns the single voice session a client may hold. Join and leave
// are serialized: a leave issued while a join is in flight waits for the
// join to settle, so two sessions can never exist at once.
type Manager struct {
	infra   Infrastructure
	cfg     ManagerConfig
	sim     *simulator
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	// opMu serializes join/leave/transmit in program order.
	opMu sync.Mutex

	// mu guards the session snapshot and subscriber set.
	mu          sync.Mutex
	session     models.VoiceSession
	net         models.VoiceNet
	subscribers map[int]func(models.VoiceSession)
	nextSubID   int
	churnStop   chan struct{}
	churnDone   chan struct{}
}

// NewManager creates a manager in the IDLE state.
func NewManager(infra Infrastructure, cfg ManagerConfig, m *metrics.Metrics) *Manager {
	if cfg.ChurnInterval <= 0 {
		cfg.ChurnInterval = 8 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	mgr := &Manager{
		infra:       infra,
		cfg:         cfg,
		metrics:     m,
		log:         logging.WithComponent("voice-session"),
		now:         time.Now,
		subscribers: make(map[int]func(models.VoiceSession)),
		session:     models.VoiceSession{ConnectionState: models.ConnIdle},
	}
	mgr.sim = newSimulator(rng, cfg.ActivityVariance, func() time.Time { return mgr.now() })
	return mgr
}

// WithRand replaces the simulator's random source. Test hook; call before
// the first join.
func (m *Manager) WithRand(rng *rand.Rand) *Manager {
	m.sim = newSimulator(rng, m.cfg.ActivityVariance, func() time.Time { return m.now() })
	return m
}

// RequiresDisciplineAck reports whether joining the net needs the one-time
// discipline acknowledgment first. The ack itself is tracked by the caller.
func RequiresDisciplineAck(net models.VoiceNet) bool {
	return net.DisciplineClass == models.DisciplineFocused && !net.IsTemporary
}

// Session returns the current session snapshot.
func (m *Manager) Session() models.VoiceSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Subscribe delivers every session transition to cb. The returned function
// removes the subscription.
func (m *Manager) Subscribe(cb func(models.VoiceSession)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = cb
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// Join establishes a session on the target net. An existing session is
// torn down first, synchronously. Outcomes: LIVE on a granted token, ERROR
// on permission denial, SIMULATED fallback when the infrastructure cannot
// be reached.
func (m *Manager) Join(ctx context.Context, net models.VoiceNet) (models.VoiceSession, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.Session().ConnectionState == models.ConnConnected {
		m.leaveLocked(ctx)
	}

	m.mu.Lock()
	m.net = net
	m.mu.Unlock()
	m.publish(models.VoiceSession{NetID: net.ID, ConnectionState: models.ConnJoining})

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	grant, err := m.infra.IssueVoiceToken(reqCtx, []string{net.ID}, m.cfg.LocalIdentity)
	cancel()

	log := logging.WithSession(net.ID, m.cfg.LocalIdentity, "")

	switch {
	case errors.Is(err, ErrPermissionDenied):
		session := models.VoiceSession{
			NetID:           net.ID,
			ConnectionState: models.ConnError,
			ErrorReason:     "denied",
		}
		m.publish(session)
		m.metrics.RecordSessionDenied()
		log.Warn().Msg("voice join denied")
		return session, ErrPermissionDenied

	case err != nil:
		// Unreachable or misconfigured infrastructure: degrade to the
		// simulated roster instead of failing.
		reason := err.Error()
		session := models.VoiceSession{
			NetID:           net.ID,
			ConnectionState: models.ConnConnected,
			Mode:            models.ModeSimulated,
			FallbackReason:  reason,
			Participants:    m.sim.roster(m.cfg.LocalIdentity, m.cfg.LocalDisplayName),
		}
		m.publish(session)
		m.startChurn(net.ID)
		m.metrics.RecordSimulatedFallback()
		m.metrics.RecordSessionJoined(string(models.ModeSimulated))
		log.Warn().Str("reason", reason).Msg("voice join fell back to simulated mode")
		return session, nil

	case grant.Tokens[net.ID] == "":
		// Grant came back without a token for this net: treated as denial.
		session := models.VoiceSession{
			NetID:           net.ID,
			ConnectionState: models.ConnError,
			ErrorReason:     "denied",
		}
		m.publish(session)
		m.metrics.RecordSessionDenied()
		log.Warn().Msg("voice join returned no token")
		return session, ErrPermissionDenied

	default:
		session := models.VoiceSession{
			NetID:           net.ID,
			ConnectionState: models.ConnConnected,
			Mode:            models.ModeLive,
			Participants: []models.Participant{{
				Identity:    m.cfg.LocalIdentity,
				DisplayName: m.cfg.LocalDisplayName,
				IsLocal:     true,
				JoinedAt:    m.now(),
			}},
		}
		m.publish(session)
		m.metrics.RecordSessionJoined(string(models.ModeLive))
		log.Info().Msg("voice session connected")
		return session, nil
	}
}

// Leave tears the current session down. Token release is best-effort; the
// session ends regardless.
func (m *Manager) Leave(ctx context.Context) models.VoiceSession {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.leaveLocked(ctx)
}

func (m *Manager) leaveLocked(ctx context.Context) models.VoiceSession {
	m.stopChurn()

	m.mu.Lock()
	current := m.session
	m.mu.Unlock()

	if current.ConnectionState == models.ConnConnected && current.Mode == models.ModeLive {
		reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
		if err := m.infra.ReleaseVoiceToken(reqCtx, current.NetID, m.cfg.LocalIdentity); err != nil {
			m.log.Warn().Err(err).Str("netId", current.NetID).Msg("voice token release failed")
		}
		cancel()
	}

	session := models.VoiceSession{ConnectionState: models.ConnIdle}
	m.publish(session)
	return session
}

// SetTransmitting toggles push-to-talk for the local participant. On
// FOCUSED nets the toggle is rejected while another participant holds
// transmit authority and the local rank is below the net's floor.
func (m *Manager) SetTransmitting(on bool) (models.VoiceSession, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	session := m.session
	net := m.net
	m.mu.Unlock()

	if session.ConnectionState != models.ConnConnected {
		return session, ErrNoActiveSession
	}

	if on && net.DisciplineClass == models.DisciplineFocused {
		held := session.TransmitAuthorityID
		if held != "" && held != m.cfg.LocalIdentity && m.cfg.LocalRank < net.MinRankToTransmit {
			m.metrics.RecordTransmitRejected()
			return session, ErrTransmitDenied
		}
	}

	for i := range session.Participants {
		if session.Participants[i].IsLocal {
			session.Participants[i].IsSpeaking = on
		}
	}
	if net.DisciplineClass == models.DisciplineFocused {
		if on {
			session.TransmitAuthorityID = m.cfg.LocalIdentity
		} else if session.TransmitAuthorityID == m.cfg.LocalIdentity {
			session.TransmitAuthorityID = ""
		}
	}

	m.publish(session)
	return session, nil
}

// RoomStatus reports the backend's view of the active session's net. On a
// SIMULATED session the backend is unreachable by definition, so the
// status is synthesized from the local roster.
func (m *Manager) RoomStatus(ctx context.Context) (RoomStatus, error) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session.ConnectionState != models.ConnConnected {
		return RoomStatus{}, ErrNoActiveSession
	}
	if session.Mode == models.ModeSimulated {
		return RoomStatus{IsActive: true, ParticipantCount: len(session.Participants)}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	return m.infra.GetRoomStatus(reqCtx, session.NetID)
}

// ClaimTransmitAuthority records another participant taking the floor on a
// FOCUSED net, as reported by the voice backend's status stream.
func (m *Manager) ClaimTransmitAuthority(identity string) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session.ConnectionState != models.ConnConnected {
		return
	}
	session.TransmitAuthorityID = identity
	m.publish(session)
}

// publish replaces the session snapshot and notifies subscribers.
func (m *Manager) publish(session models.VoiceSession) {
	m.mu.Lock()
	m.session = session
	subs := make([]func(models.VoiceSession), 0, len(m.subscribers))
	for _, cb := range m.subscribers {
		subs = append(subs, cb)
	}
	m.mu.Unlock()

	for _, cb := range subs {
		cb(session)
	}
}

// startChurn regenerates the simulated roster on a timer to emulate
// join/leave activity. Stopped on leave.
func (m *Manager) startChurn(netID string) {
	stop := make(chan struct{})
	done := make(chan struct{})

	m.mu.Lock()
	m.churnStop = stop
	m.churnDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.ChurnInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !m.sim.churn() {
					continue
				}
				m.mu.Lock()
				session := m.session
				m.mu.Unlock()
				if session.ConnectionState != models.ConnConnected || session.Mode != models.ModeSimulated {
					continue
				}
				// Regeneration only touches the synthetic entries; the
				// local participant's state carries over.
				var local models.Participant
				for _, p := range session.Participants {
					if p.IsLocal {
						local = p
						break
					}
				}
				session.Participants = m.sim.roster(m.cfg.LocalIdentity, m.cfg.LocalDisplayName)
				for i := range session.Participants {
					if session.Participants[i].IsLocal {
						session.Participants[i].IsSpeaking = local.IsSpeaking
						session.Participants[i].IsMuted = local.IsMuted
						if !local.JoinedAt.IsZero() {
							session.Participants[i].JoinedAt = local.JoinedAt
						}
					}
				}
				m.publish(session)
			case <-stop:
				return
			}
		}
	}()
}

func (m *Manager) stopChurn() {
	m.mu.Lock()
	stop, done := m.churnStop, m.churnDone
	m.churnStop, m.churnDone = nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
