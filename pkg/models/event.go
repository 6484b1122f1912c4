package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EventKind 事件类型. The values are the strings persisted in the "type"
// field and consumed by downstream notification triggers.
type EventKind string

const (
	EventGoal         EventKind = "Goal"
	EventRedCard      EventKind = "RedCard"
	EventSubstitution EventKind = "Substitution"
	EventInfo         EventKind = "Info"
	EventMatchStart   EventKind = "Match Start"
	EventMatchEnd     EventKind = "Match End"
)

// ParseEventKind accepts the persisted spelling and the compact
// "MatchStart"/"MatchEnd" forms operators tend to send.
func ParseEventKind(s string) (EventKind, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "") {
	case "goal":
		return EventGoal, true
	case "redcard":
		return EventRedCard, true
	case "substitution":
		return EventSubstitution, true
	case "info":
		return EventInfo, true
	case "matchstart":
		return EventMatchStart, true
	case "matchend":
		return EventMatchEnd, true
	}
	return "", false
}

// Payload is the kind-specific part of a LiveEvent. Each kind has exactly one
// payload type, so invalid field combinations cannot be built.
type Payload interface {
	Kind() EventKind
	isPayload()
}

type GoalPayload struct {
	Side   Side       `json:"side"`
	Scorer PlayerRef  `json:"scorer"`
	Assist *PlayerRef `json:"assist,omitempty"`
}

type RedCardPayload struct {
	Side   Side      `json:"side"`
	Player PlayerRef `json:"player"`
}

type SubstitutionPayload struct {
	Off PlayerRef `json:"sub_off"`
	On  PlayerRef `json:"sub_on"`
}

type InfoPayload struct{}

type MatchStartPayload struct{}

type MatchEndPayload struct{}

func (GoalPayload) Kind() EventKind         { return EventGoal }
func (RedCardPayload) Kind() EventKind      { return EventRedCard }
func (SubstitutionPayload) Kind() EventKind { return EventSubstitution }
func (InfoPayload) Kind() EventKind         { return EventInfo }
func (MatchStartPayload) Kind() EventKind   { return EventMatchStart }
func (MatchEndPayload) Kind() EventKind     { return EventMatchEnd }

func (GoalPayload) isPayload()         {}
func (RedCardPayload) isPayload()      {}
func (SubstitutionPayload) isPayload() {}
func (InfoPayload) isPayload()         {}
func (MatchStartPayload) isPayload()   {}
func (MatchEndPayload) isPayload()     {}

// EncodePayload serialises the kind-specific fields for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payload")
	}
	return json.Marshal(p)
}

// DecodePayload rebuilds the payload variant for kind from stored bytes.
func DecodePayload(kind EventKind, data []byte) (Payload, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	switch kind {
	case EventGoal:
		var p GoalPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case EventRedCard:
		var p RedCardPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case EventSubstitution:
		var p SubstitutionPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case EventInfo:
		return InfoPayload{}, nil
	case EventMatchStart:
		return MatchStartPayload{}, nil
	case EventMatchEnd:
		return MatchEndPayload{}, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", kind)
}

// LiveEvent is one immutable record in a match's event log.
type LiveEvent struct {
	ID      string
	MatchID string
	// Seq is the store's insertion order; it breaks CreatedAt ties.
	Seq       int64
	Text      string
	Score     *Score
	Payload   Payload
	RequestID string
	CreatedAt time.Time
}

// Kind derives the event kind from its payload.
func (e *LiveEvent) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Before reports whether e is ordered before other in the match log.
func (e *LiveEvent) Before(other *LiveEvent) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.Seq < other.Seq
}

// SortNewestFirst orders events for display, newest at index 0.
func SortNewestFirst(events []*LiveEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[j].Before(events[i])
	})
}

type eventWire struct {
	ID        string     `json:"id"`
	MatchID   string     `json:"match_id"`
	Seq       int64      `json:"seq"`
	Type      EventKind  `json:"type"`
	Text      string     `json:"text"`
	Score     string     `json:"score,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
	Side      Side       `json:"side,omitempty"`
	Scorer    *PlayerRef `json:"scorer,omitempty"`
	Assist    *PlayerRef `json:"assist,omitempty"`
	Player    *PlayerRef `json:"player,omitempty"`
	SubOff    *PlayerRef `json:"sub_off,omitempty"`
	SubOn     *PlayerRef `json:"sub_on,omitempty"`
}

// MarshalJSON writes the flat persisted shape:
// {type, text, score "H - A", timestamp} plus the kind's player fields.
func (e LiveEvent) MarshalJSON() ([]byte, error) {
	w := eventWire{
		ID:        e.ID,
		MatchID:   e.MatchID,
		Seq:       e.Seq,
		Type:      e.Kind(),
		Text:      e.Text,
		Timestamp: e.CreatedAt,
		RequestID: e.RequestID,
	}
	if e.Score != nil {
		w.Score = e.Score.String()
	}
	switch p := e.Payload.(type) {
	case GoalPayload:
		w.Side = p.Side
		scorer := p.Scorer
		w.Scorer = &scorer
		w.Assist = p.Assist
	case RedCardPayload:
		w.Side = p.Side
		player := p.Player
		w.Player = &player
	case SubstitutionPayload:
		off, on := p.Off, p.On
		w.SubOff = &off
		w.SubOn = &on
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the flat persisted shape back into the tagged form.
func (e *LiveEvent) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = LiveEvent{
		ID:        w.ID,
		MatchID:   w.MatchID,
		Seq:       w.Seq,
		Text:      w.Text,
		RequestID: w.RequestID,
		CreatedAt: w.Timestamp,
	}
	if w.Score != "" {
		score, err := ParseScore(w.Score)
		if err != nil {
			return err
		}
		e.Score = &score
	}
	switch w.Type {
	case EventGoal:
		p := GoalPayload{Side: w.Side, Assist: w.Assist}
		if w.Scorer != nil {
			p.Scorer = *w.Scorer
		}
		e.Payload = p
	case EventRedCard:
		p := RedCardPayload{Side: w.Side}
		if w.Player != nil {
			p.Player = *w.Player
		}
		e.Payload = p
	case EventSubstitution:
		var p SubstitutionPayload
		if w.SubOff != nil {
			p.Off = *w.SubOff
		}
		if w.SubOn != nil {
			p.On = *w.SubOn
		}
		e.Payload = p
	default:
		p, err := DecodePayload(w.Type, nil)
		if err != nil {
			return err
		}
		e.Payload = p
	}
	return nil
}

// ParseScore parses "H - A" (spaces optional).
func ParseScore(s string) (Score, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Score{}, fmt.Errorf("malformed score %q", s)
	}
	home, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Score{}, fmt.Errorf("malformed score %q: %w", s, err)
	}
	away, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Score{}, fmt.Errorf("malformed score %q: %w", s, err)
	}
	return Score{Home: home, Away: away}, nil
}

// FeedMessage is what the Publisher fans out after a commit: the event plus
// the match projection it produced.
type FeedMessage struct {
	MatchID string     `json:"match_id"`
	Match   *Match     `json:"match"`
	Event   *LiveEvent `json:"event"`
}
