package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"ops-coordination-service/internal/command"
	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/metrics"
	"ops-coordination-service/internal/presence"
	"ops-coordination-service/internal/readiness"
	"ops-coordination-service/internal/stream"
	"ops-coordination-service/internal/voice"
)

// Handlers bundles the coordination core components behind the API surface.
type Handlers struct {
	Voice    *voice.Manager
	Commands *command.Registry
	Engine   *readiness.Engine
	Roster   *presence.RosterPoller
	Hub      *stream.Hub
	Metrics  *metrics.Metrics
}

type errorResponse struct {
	Error string `json:"error"`
}

type commandRequest struct {
	Utterance string `json:"utterance"`
}

type transmitRequest struct {
	Transmitting bool `json:"transmitting"`
}

type rosterResponse struct {
	models.Roster
	OnlineCount int `json:"onlineCount"`
}

// GetReadiness returns the current readiness snapshot. The HTTP status
// mirrors the state so load balancers can act on it without parsing.
func (h *Handlers) GetReadiness(w http.ResponseWriter, _ *http.Request) {
	snap := h.Engine.Snapshot()
	status := http.StatusOK
	if snap.State == models.StateAlert {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

// GetRoster returns the last fetched presence roster.
func (h *Handlers) GetRoster(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rosterResponse{
		Roster:      h.Roster.Current(),
		OnlineCount: len(h.Roster.Online()),
	})
}

// PostCommand parses one utterance against the phrase registry. Always
// 200: an unrecognized utterance is a result, not an error.
func (h *Handlers) PostCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	match := h.Commands.ParseRecorded(req.Utterance, h.Metrics)
	writeJSON(w, http.StatusOK, match)
}

// JoinSession joins the voice net described in the request body, tearing
// down any prior session first.
func (h *Handlers) JoinSession(w http.ResponseWriter, r *http.Request) {
	var net models.VoiceNet
	if err := json.NewDecoder(r.Body).Decode(&net); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if net.ID == "" {
		writeError(w, http.StatusBadRequest, "net id is required")
		return
	}

	session, err := h.Voice.Join(r.Context(), net)
	if err != nil {
		if errors.Is(err, voice.ErrPermissionDenied) {
			writeJSON(w, http.StatusForbidden, session)
			return
		}
		log.Error().Err(err).Str("netId", net.ID).Msg("Voice join failed")
		writeError(w, http.StatusBadGateway, "voice join failed")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// LeaveSession leaves the active voice session, if any. Idempotent.
func (h *Handlers) LeaveSession(w http.ResponseWriter, r *http.Request) {
	session := h.Voice.Leave(r.Context())
	writeJSON(w, http.StatusOK, session)
}

// SetTransmitting toggles local transmit on the active session.
func (h *Handlers) SetTransmitting(w http.ResponseWriter, r *http.Request) {
	var req transmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.Voice.SetTransmitting(req.Transmitting)
	if err != nil {
		switch {
		case errors.Is(err, voice.ErrNoActiveSession):
			writeError(w, http.StatusConflict, "no active voice session")
		case errors.Is(err, voice.ErrTransmitDenied):
			writeError(w, http.StatusForbidden, "transmit authority held by another participant")
		default:
			writeError(w, http.StatusInternalServerError, "transmit toggle failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// SessionStatus reports the backend's view of the active session's net.
func (h *Handlers) SessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Voice.RoomStatus(r.Context())
	if err != nil {
		if errors.Is(err, voice.ErrNoActiveSession) {
			writeError(w, http.StatusConflict, "no active voice session")
			return
		}
		log.Error().Err(err).Msg("Room status lookup failed")
		writeError(w, http.StatusBadGateway, "room status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Stream upgrades the request to a WebSocket and attaches it to the hub.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Stream upgrade failed")
		return
	}
	client := h.Hub.Attach(r.Context(), conn)
	client.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
