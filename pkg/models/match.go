package models

import (
	"fmt"
	"time"
)

// MatchStatus 比赛状态
type MatchStatus string

const (
	MatchStatusUpcoming MatchStatus = "UPCOMING"
	MatchStatusLive     MatchStatus = "LIVE"
	MatchStatusFullTime MatchStatus = "FULL_TIME"
)

var statusRank = map[MatchStatus]int{
	MatchStatusUpcoming: 0,
	MatchStatusLive:     1,
	MatchStatusFullTime: 2,
}

// Valid reports whether s is one of the known statuses.
func (s MatchStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo reports whether the match may move from s to next.
// Staying in the same status is allowed; moving backwards never is.
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to == from || to == from+1
}

// Side 主客队
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

func (s Side) Valid() bool {
	return s == SideHome || s == SideAway
}

// Team 队伍信息
type Team struct {
	Name    string `json:"name"`
	LogoURL string `json:"logo_url,omitempty"`
}

// Score 比分信息
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// String formats the score the way it is persisted on events, e.g. "1 - 0".
func (s Score) String() string {
	return fmt.Sprintf("%d - %d", s.Home, s.Away)
}

// NonNegative reports whether both sides are >= 0.
func (s Score) NonNegative() bool {
	return s.Home >= 0 && s.Away >= 0
}

// Regresses reports whether next lowers either side of s.
func (s Score) Regresses(next Score) bool {
	return next.Home < s.Home || next.Away < s.Away
}

// Increment returns the score after one goal for side.
func (s Score) Increment(side Side) Score {
	if side == SideAway {
		s.Away++
	} else {
		s.Home++
	}
	return s
}

// Match 比赛 (aggregate root)
type Match struct {
	ID          string      `json:"id"`
	HomeTeam    Team        `json:"home_team"`
	AwayTeam    Team        `json:"away_team"`
	ClubSide    Side        `json:"club_side"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	Venue       string      `json:"venue,omitempty"`
	Competition string      `json:"competition,omitempty"`
	Status      MatchStatus `json:"status"`
	Score       Score       `json:"score"`
	Lineup      Lineup      `json:"lineup"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TeamName returns the display name for side.
func (m *Match) TeamName(side Side) string {
	if side == SideAway {
		return m.AwayTeam.Name
	}
	return m.HomeTeam.Name
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.Lineup = m.Lineup.Clone()
	return &c
}
