package models

// MatchStatus tells whether an utterance cleared the acceptance threshold.
type MatchStatus string

const (
	MatchMatched      MatchStatus = "MATCHED"
	MatchUnrecognized MatchStatus = "UNRECOGNIZED"
)

// CommandMatch is the per-call result of parsing one utterance. Ephemeral.
type CommandMatch struct {
	InputText     string      `json:"inputText"`
	MatchedPhrase string      `json:"matchedPhrase,omitempty"`
	Action        string      `json:"action,omitempty"`
	Target        string      `json:"target,omitempty"`
	Confidence    float64     `json:"confidence"`
	Status        MatchStatus `json:"status"`
}
