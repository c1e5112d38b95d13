package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ops-coordination-service/internal/app"
	"ops-coordination-service/internal/backend"
	"ops-coordination-service/internal/backoff"
	"ops-coordination-service/internal/command"
	"ops-coordination-service/internal/config"
	"ops-coordination-service/internal/events"
	httpapi "ops-coordination-service/internal/http"
	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability"
	"ops-coordination-service/internal/observability/logging"
	"ops-coordination-service/internal/observability/metrics"
	"ops-coordination-service/internal/presence"
	"ops-coordination-service/internal/probe"
	"ops-coordination-service/internal/readiness"
	"ops-coordination-service/internal/stream"
	"ops-coordination-service/internal/voice"
)

func main() {
	cfg := config.Load()
	logCfg := logging.DefaultConfig()
	if os.Getenv("ENV") == "dev" {
		logCfg.Format = "console"
	}
	logging.Init(logCfg)

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("application start failed")
	}

	m := metrics.DefaultMetrics

	// Kafka publisher with separate topics for readiness, voice session
	// and roster events
	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicReadiness: cfg.Kafka.TopicReadiness,
		TopicVoice:     cfg.Kafka.TopicVoice,
		TopicRoster:    cfg.Kafka.TopicRoster,
		Principal:      cfg.Kafka.Principal,
		Metrics:        m,
	})
	defer publisher.Close()

	// Backend collaborator client with the shared retry schedule
	client := backend.New(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		HealthPath:     cfg.Backend.HealthPath,
		RequestTimeout: cfg.Backend.RequestTimeout,
	}, backoff.New(backoff.WithLimits(
		cfg.Backoff.BaseDelay,
		cfg.Backoff.MaxDelay,
		cfg.Backoff.MaxRetries,
	)))

	localIdentity := cfg.Voice.LocalIdentity
	if localIdentity == "" {
		localIdentity = "op-" + uuid.NewString()
	}

	// Core coordination components
	monitor := probe.NewMonitor(client, cfg.Probe.Timeout, m)
	heartbeat := presence.NewHeartbeat(client, cfg.Presence.HeartbeatInterval, cfg.Backend.RequestTimeout, m)
	poller := presence.NewRosterPoller(client, cfg.Presence.RosterPollInterval, cfg.Presence.RecencyWindow, cfg.Backend.RequestTimeout, m)
	engine := readiness.NewEngine(m)
	manager := voice.NewManager(client, voice.ManagerConfig{
		LocalIdentity:    localIdentity,
		LocalDisplayName: cfg.Voice.LocalDisplayName,
		LocalRank:        cfg.Voice.LocalRank,
		ActivityVariance: cfg.Voice.ActivityVariance,
		ChurnInterval:    cfg.Voice.ChurnInterval,
		RequestTimeout:   cfg.Backend.RequestTimeout,
	}, m)

	registry := command.NewRegistry()
	registerCommands(registry)

	hub := stream.NewHub(m)
	go hub.Run()

	// Readiness inputs: probe samples and heartbeat write health
	monitor.Subscribe(engine.SetLatency)
	heartbeat.OnHealth(engine.SetWriteHealth)

	// Fan state changes out to the stream and the event bus
	ctx := context.Background()
	engine.Subscribe(func(snap models.ReadinessSnapshot) {
		hub.Broadcast(stream.TypeReadiness, snap)
		_ = publisher.PublishReadiness(ctx, cfg.Service.Principal, snap)
	})
	poller.Subscribe(func(roster models.Roster) {
		hub.Broadcast(stream.TypeRoster, roster)
		_ = publisher.PublishRoster(ctx, cfg.Service.Principal, roster)
	})
	var presenceNetID string
	var presenceTransmitting bool
	manager.Subscribe(func(session models.VoiceSession) {
		hub.Broadcast(stream.TypeVoice, session)
		_ = publisher.PublishVoiceSession(ctx, localIdentity, session)

		// Presence tracks the session: attached to a net the heartbeat
		// runs on its cadence, idle it stays at the single announce.
		// Subscribers run serialized, so presenceNetID needs no lock.
		switch session.ConnectionState {
		case models.ConnConnected:
			if presenceNetID != session.NetID {
				presenceNetID = session.NetID
				heartbeat.Start(localIdentity, models.PresenceInCall, session.NetID)
			}
			for _, p := range session.Participants {
				if p.IsLocal && p.IsSpeaking != presenceTransmitting {
					presenceTransmitting = p.IsSpeaking
					heartbeat.SetTransmitting(p.IsSpeaking)
				}
			}
		case models.ConnIdle:
			if presenceNetID != "" {
				presenceNetID = ""
				presenceTransmitting = false
				heartbeat.Start(localIdentity, models.PresenceOnline, "")
			}
		}
	})

	monitor.Retain(cfg.Probe.Interval)
	heartbeat.Start(localIdentity, models.PresenceOnline, "")
	poller.Start()

	// Observability server: /metrics, /healthz, /readyz
	obsServer := observability.NewServer(":"+cfg.Service.ObservabilityPort, engine.Snapshot)
	obsServer.Start()

	// API server
	handlers := &httpapi.Handlers{
		Voice:    manager,
		Commands: registry,
		Engine:   engine,
		Roster:   poller,
		Hub:      hub,
		Metrics:  m,
	}
	apiServer := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      httpapi.NewRouter(application, handlers),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", apiServer.Addr).Msg("API server started")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
	hub.Shutdown()
	manager.Leave(shutdownCtx)
	poller.Stop()
	heartbeat.Stop()
	monitor.Release()
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Observability server shutdown failed")
	}
	application.Shutdown()
}

// registerCommands binds the dashboard's voice command phrases. Order
// matters: earlier phrases win scoring ties.
func registerCommands(r *command.Registry) {
	r.Register("open comms", command.Action{Name: "open-panel", Target: "comms"})
	r.Register("close comms", command.Action{Name: "close-panel", Target: "comms"})
	r.Register("toggle comms", command.Action{Name: "toggle-panel", Target: "comms"})
	r.Register("status report", command.Action{Name: "show-status"})
	r.Register("show roster", command.Action{Name: "show-panel", Target: "roster"})
	r.Register("mute all", command.Action{Name: "mute-all"})
	r.Register("leave net", command.Action{Name: "leave-net"})
	r.Register("push to talk", command.Action{Name: "transmit-start"})
	r.Register("release", command.Action{Name: "transmit-stop"})
}
