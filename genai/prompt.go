package genai

import (
	"fmt"
	"strings"
)

// Request carries the structured event for one commentary line. EventType and
// TeamName are required; everything else is optional.
type Request struct {
	EventType  string `json:"eventType"`
	TeamName   string `json:"teamName"`
	PlayerName string `json:"playerName,omitempty"`
	AssistName string `json:"assistName,omitempty"`
	PlayerOut  string `json:"playerOut,omitempty"`
	PlayerIn   string `json:"playerIn,omitempty"`
	HomeTeam   string `json:"homeTeam,omitempty"`
	AwayTeam   string `json:"awayTeam,omitempty"`
	HomeScore  *int   `json:"homeScore,omitempty"`
	AwayScore  *int   `json:"awayScore,omitempty"`
}

// Validate checks the required fields.
func (r Request) Validate() error {
	if strings.TrimSpace(r.EventType) == "" {
		return fmt.Errorf("eventType is required")
	}
	if strings.TrimSpace(r.TeamName) == "" {
		return fmt.Errorf("teamName is required")
	}
	if (r.HomeScore == nil) != (r.AwayScore == nil) {
		return fmt.Errorf("homeScore and awayScore must be given together")
	}
	return nil
}

// HasScore reports whether both scores are set.
func (r Request) HasScore() bool {
	return r.HomeScore != nil && r.AwayScore != nil
}

const systemInstruction = `You are a live football match commentator for a club website.
Write exactly one short, energetic sentence describing the event below.
Use only the facts given. Do not invent minutes, scores, players or statistics.
Reply with the sentence only, no quotes and no hashtags.`

// BuildPrompt renders the model prompt for r.
func BuildPrompt(r Request) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\nEvent: ")
	b.WriteString(r.EventType)
	b.WriteString("\nTeam: ")
	b.WriteString(r.TeamName)

	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "\n%s: %s", label, value)
		}
	}
	field("Player", r.PlayerName)
	field("Assist", r.AssistName)
	field("Player off", r.PlayerOut)
	field("Player on", r.PlayerIn)

	if r.HasScore() {
		home, away := r.HomeTeam, r.AwayTeam
		if home == "" {
			home = "Home"
		}
		if away == "" {
			away = "Away"
		}
		fmt.Fprintf(&b, "\nScore: %s %d - %d %s", home, *r.HomeScore, *r.AwayScore, away)
	}
	return b.String()
}
