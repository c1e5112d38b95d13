// Package backend is the HTTP client for the external collaborators: the
// data service (presence records, health probe) and the voice
// infrastructure (token issuance, room status). Nothing here is
// implemented by this service; it is consumed.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"ops-coordination-service/internal/backoff"
	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/logging"
	"ops-coordination-service/internal/voice"
)

// Config holds backend client configuration.
type Config struct {
	BaseURL        string
	HealthPath     string
	RequestTimeout time.Duration
}

// Client talks JSON over HTTP to the collaborators. Transient failures
// (timeouts, 5xx) on read and token paths retry under the shared backoff
// schedule; permission denials surface immediately and are never retried.
type Client struct {
	baseURL    string
	healthPath string
	http       *http.Client
	retry      *backoff.Controller
	log        zerolog.Logger
}

// New creates a backend client. The backoff controller is owned by the
// client; callers share one client per process.
func New(cfg Config, retry *backoff.Controller) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/api/health"
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		healthPath: healthPath,
		http:       &http.Client{Timeout: timeout},
		retry:      retry,
		log:        logging.WithComponent("backend-client"),
	}
}

// Ping measures one round trip against the health endpoint. Implements
// probe.Pinger. No retries: the probe's cadence is its retry mechanism.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("health probe returned %d", resp.StatusCode)
	}
	return time.Since(start), nil
}

// WritePresence upserts the subject's presence record. Implements
// presence.Writer. No retries: the heartbeat tick is the retry mechanism.
func (c *Client) WritePresence(ctx context.Context, subjectID string, status models.PresenceStatus, netID string, transmitting bool) error {
	payload := map[string]any{
		"status":         status,
		"netId":          netID,
		"isTransmitting": transmitting,
	}
	endpoint := fmt.Sprintf("%s/api/presence/%s", c.baseURL, url.PathEscape(subjectID))
	return c.doJSON(ctx, http.MethodPut, endpoint, payload, nil)
}

// ListPresence reads all presence records. Implements presence.Reader.
// Transient failures retry under the shared schedule before surfacing.
func (c *Client) ListPresence(ctx context.Context, window time.Duration) ([]models.PresenceRecord, error) {
	endpoint := fmt.Sprintf("%s/api/presence?windowMs=%d", c.baseURL, window.Milliseconds())

	var out struct {
		Records []models.PresenceRecord `json:"records"`
	}
	err := backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		return classify(c.doJSON(ctx, http.MethodGet, endpoint, nil, &out))
	})
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	return out.Records, nil
}

// IssueVoiceToken requests tokens for the given nets. Implements
// voice.Infrastructure. A 401/403 maps to voice.ErrPermissionDenied and
// is not retried; transient failures retry under the shared schedule.
func (c *Client) IssueVoiceToken(ctx context.Context, rooms []string, participantIdentity string) (voice.TokenGrant, error) {
	payload := map[string]any{
		"rooms":               rooms,
		"participantIdentity": participantIdentity,
	}
	endpoint := c.baseURL + "/api/voice/tokens"

	var grant voice.TokenGrant
	err := backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &grant)
		if isPermissionDenied(err) {
			return backoff.Permanent(voice.ErrPermissionDenied)
		}
		return classify(err)
	})
	if errors.Is(err, voice.ErrPermissionDenied) {
		return voice.TokenGrant{}, voice.ErrPermissionDenied
	}
	if err != nil {
		return voice.TokenGrant{}, fmt.Errorf("issue voice token: %w", err)
	}
	return grant, nil
}

// GetRoomStatus reports whether a net is active on the voice backend.
func (c *Client) GetRoomStatus(ctx context.Context, netID string) (voice.RoomStatus, error) {
	endpoint := fmt.Sprintf("%s/api/voice/rooms/%s/status", c.baseURL, url.PathEscape(netID))

	var status voice.RoomStatus
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &status); err != nil {
		return voice.RoomStatus{}, fmt.Errorf("room status: %w", err)
	}
	return status, nil
}

// ReleaseVoiceToken releases the net's token. Best-effort, no retries; the
// session is being torn down regardless.
func (c *Client) ReleaseVoiceToken(ctx context.Context, netID, participantIdentity string) error {
	endpoint := fmt.Sprintf("%s/api/voice/tokens/%s?identity=%s",
		c.baseURL, url.PathEscape(netID), url.QueryEscape(participantIdentity))
	return c.doJSON(ctx, http.MethodDelete, endpoint, nil, nil)
}

// statusError carries a non-2xx response code.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned %d", e.code)
}

// classify wraps client errors (4xx other than auth failures) as
// permanent so the retry loop only chews on transient failures.
func classify(err error) error {
	var se *statusError
	if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
		return backoff.Permanent(err)
	}
	return err
}

func isPermissionDenied(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.code == http.StatusUnauthorized || se.code == http.StatusForbidden
}

// doJSON issues one request and decodes the response into out when given.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
