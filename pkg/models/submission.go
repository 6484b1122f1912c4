package models

// Submission is one operator form post. Only the fields relevant to Kind are
// read; the rest are ignored.
type Submission struct {
	Kind EventKind `json:"kind"`
	Side Side      `json:"side,omitempty"`

	ScorerID   string `json:"scorer_id,omitempty"`
	ScorerName string `json:"scorer_name,omitempty"`
	AssistID   string `json:"assist_id,omitempty"`

	SubOffID string `json:"sub_off_id,omitempty"`
	SubOnID  string `json:"sub_on_id,omitempty"`

	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`

	// Text is the Info message, or a manual override that skips generation
	// for the other kinds.
	Text string `json:"text,omitempty"`

	RequestID string `json:"-"`
}
