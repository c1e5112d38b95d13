// Package voice owns the per-client voice net session state machine, net
// discipline rules, and the simulated fallback roster.
package voice

import (
	"context"
	"errors"
)

// Errors surfaced by the voice infrastructure collaborator.
var (
	// ErrPermissionDenied - the backend refused to issue a token. Terminal;
	// never retried automatically.
	ErrPermissionDenied = errors.New("voice token denied")
	// ErrTransmitDenied - push-to-talk rejected by net discipline.
	ErrTransmitDenied = errors.New("transmit authority held by another participant")
	// ErrNoActiveSession - operation requires a connected session.
	ErrNoActiveSession = errors.New("no active voice session")
)

// TokenGrant is the result of a token issuance request. Tokens maps net ID
// to an opaque transmit/receive token.
type TokenGrant struct {
	Tokens   map[string]string `json:"tokens"`
	Warnings []string          `json:"warnings,omitempty"`
}

// RoomStatus is a point-in-time view of a net on the voice backend.
type RoomStatus struct {
	IsActive         bool `json:"isActive"`
	ParticipantCount int  `json:"participantCount"`
}

// Infrastructure is the external voice-infrastructure collaborator. Only
// token issuance and room status are consumed; audio transport never
// passes through this service.
type Infrastructure interface {
	// IssueVoiceToken requests transmit/receive tokens for the given nets.
	// Returns ErrPermissionDenied when the caller lacks permission; any
	// other error means the infrastructure is unreachable or misconfigured.
	IssueVoiceToken(ctx context.Context, rooms []string, participantIdentity string) (TokenGrant, error)

	// GetRoomStatus reports whether a net is active and how many
	// participants it has.
	GetRoomStatus(ctx context.Context, netID string) (RoomStatus, error)

	// ReleaseVoiceToken releases the token for a net. Best-effort; callers
	// log failures and move on.
	ReleaseVoiceToken(ctx context.Context, netID, participantIdentity string) error
}
