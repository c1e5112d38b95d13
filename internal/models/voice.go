package models

import (
	"fmt"
	"time"
)

// DisciplineClass distinguishes free-chat nets from operational ones.
type DisciplineClass string

const (
	DisciplineCasual  DisciplineClass = "CASUAL"
	DisciplineFocused DisciplineClass = "FOCUSED"
)

// VoiceNet is reference configuration for a single voice channel. Read-only
// to the coordination core.
type VoiceNet struct {
	ID                string          `json:"id"`
	Code              string          `json:"code"`
	DisciplineClass   DisciplineClass `json:"disciplineClass"`
	IsTemporary       bool            `json:"isTemporary"`
	MinRankToTransmit int             `json:"minRankToTransmit"`
}

// ConnectionState is the lifecycle state of a voice session.
type ConnectionState int

const (
	// ConnIdle - no session; the resting state.
	ConnIdle ConnectionState = iota
	// ConnJoining - token request in flight.
	ConnJoining
	// ConnConnected - session established, LIVE or SIMULATED.
	ConnConnected
	// ConnError - join failed terminally (permission denied).
	ConnError
)

func (s ConnectionState) String() string {
	switch s {
	case ConnIdle:
		return "IDLE"
	case ConnJoining:
		return "JOINING"
	case ConnConnected:
		return "CONNECTED"
	case ConnError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// MarshalText lets ConnectionState serialize as its name in JSON payloads.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name back into a ConnectionState.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "IDLE":
		*s = ConnIdle
	case "JOINING":
		*s = ConnJoining
	case "CONNECTED":
		*s = ConnConnected
	case "ERROR":
		*s = ConnError
	default:
		return fmt.Errorf("unknown connection state %q", text)
	}
	return nil
}

// SessionMode tells whether participant data is authoritative.
type SessionMode string

const (
	// ModeLive - participants reflect the real voice backend.
	ModeLive SessionMode = "LIVE"
	// ModeSimulated - synthetic roster shown while the backend is
	// unreachable. Never authoritative; downstream logic must not
	// conflate it with LIVE.
	ModeSimulated SessionMode = "SIMULATED"
)

// Participant is one member of a voice session, owned by the session.
type Participant struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName"`
	IsLocal     bool      `json:"isLocal"`
	IsSpeaking  bool      `json:"isSpeaking"`
	IsMuted     bool      `json:"isMuted"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// VoiceSession is the state of the single active net session for a client.
// ConnectionState and Mode together determine whether Participants is
// authoritative (LIVE+CONNECTED) or illustrative (SIMULATED).
type VoiceSession struct {
	NetID               string          `json:"netId,omitempty"`
	ConnectionState     ConnectionState `json:"connectionState"`
	Mode                SessionMode     `json:"mode,omitempty"`
	Participants        []Participant   `json:"participants,omitempty"`
	TransmitAuthorityID string          `json:"transmitAuthorityId,omitempty"`
	FallbackReason      string          `json:"fallbackReason,omitempty"`
	ErrorReason         string          `json:"errorReason,omitempty"`
}

// Authoritative reports whether the participant list reflects the real
// voice backend.
func (s VoiceSession) Authoritative() bool {
	return s.ConnectionState == ConnConnected && s.Mode == ModeLive
}
