// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all runtime settings for the service.
type Configuration struct {
	Service  ServiceConfig
	Backend  BackendConfig
	Probe    ProbeConfig
	Presence PresenceConfig
	Voice    VoiceConfig
	Backoff  BackoffConfig
	Kafka    KafkaConfig
}

// ServiceConfig identifies the service and its listen addresses.
type ServiceConfig struct {
	Principal         string
	HTTPPort          string
	ObservabilityPort string
}

// BackendConfig points at the backend data service collaborators.
type BackendConfig struct {
	BaseURL        string
	HealthPath     string
	RequestTimeout time.Duration
}

// ProbeConfig tunes the latency probe.
type ProbeConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// PresenceConfig tunes the heartbeat and roster poll.
type PresenceConfig struct {
	HeartbeatInterval  time.Duration
	RosterPollInterval time.Duration
	RecencyWindow      time.Duration
}

// VoiceConfig tunes voice session behavior, including the simulated
// fallback roster.
type VoiceConfig struct {
	LocalIdentity    string
	LocalDisplayName string
	LocalRank        int
	ActivityVariance float64
	ChurnInterval    time.Duration
}

// BackoffConfig tunes the shared retry schedule.
type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// KafkaConfig tunes coordination event publishing.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicReadiness string
	TopicVoice     string
	TopicRoster    string
	Principal      string
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:         envOrDefault("SERVICE_PRINCIPAL", "svc-ops-coordination"),
			HTTPPort:          envOrDefault("HTTP_PORT", "8080"),
			ObservabilityPort: envOrDefault("OBSERVABILITY_PORT", "9090"),
		},
		Backend: BackendConfig{
			BaseURL:        envOrDefault("BACKEND_BASE_URL", "http://localhost:8090"),
			HealthPath:     envOrDefault("BACKEND_HEALTH_PATH", "/api/health"),
			RequestTimeout: envDuration("BACKEND_REQUEST_TIMEOUT", 5*time.Second),
		},
		Probe: ProbeConfig{
			Interval: envDuration("PROBE_INTERVAL", 20*time.Second),
			Timeout:  envDuration("PROBE_TIMEOUT", 5*time.Second),
		},
		Presence: PresenceConfig{
			HeartbeatInterval:  envDuration("PRESENCE_HEARTBEAT_INTERVAL", 10*time.Second),
			RosterPollInterval: envDuration("PRESENCE_ROSTER_POLL_INTERVAL", 15*time.Second),
			RecencyWindow:      envDuration("PRESENCE_RECENCY_WINDOW", 90*time.Second),
		},
		Voice: VoiceConfig{
			LocalIdentity:    envOrDefault("VOICE_LOCAL_IDENTITY", ""),
			LocalDisplayName: envOrDefault("VOICE_LOCAL_DISPLAY_NAME", "Operator"),
			LocalRank:        envInt("VOICE_LOCAL_RANK", 0),
			ActivityVariance: envFloat("VOICE_ACTIVITY_VARIANCE", 0.3),
			ChurnInterval:    envDuration("VOICE_CHURN_INTERVAL", 8*time.Second),
		},
		Backoff: BackoffConfig{
			BaseDelay:  envDuration("BACKOFF_BASE_DELAY", time.Second),
			MaxDelay:   envDuration("BACKOFF_MAX_DELAY", 32*time.Second),
			MaxRetries: envInt("BACKOFF_MAX_RETRIES", 5),
		},
		Kafka: KafkaConfig{
			Enabled:        envBool("KAFKA_ENABLED", false),
			Brokers:        envList("KAFKA_BROKERS", nil),
			TopicReadiness: envOrDefault("KAFKA_TOPIC_READINESS", "coordination.readiness"),
			TopicVoice:     envOrDefault("KAFKA_TOPIC_VOICE", "coordination.voice-session"),
			TopicRoster:    envOrDefault("KAFKA_TOPIC_ROSTER", "coordination.roster"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", "svc-ops-coordination"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
