package models

import "fmt"

// PlayerRole 成员角色
type PlayerRole string

const (
	RolePlayer PlayerRole = "Player"
	RoleCoach  PlayerRole = "Coach"
	RoleStaff  PlayerRole = "Staff"
)

func (r PlayerRole) Valid() bool {
	return r == RolePlayer || r == RoleCoach || r == RoleStaff
}

// Player is a squad member as entered by an administrator.
type Player struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Role     PlayerRole `json:"role"`
	Number   int        `json:"number,omitempty"`
	Position string     `json:"position,omitempty"`
}

// Ref returns the by-value reference stored inside lineups and events.
func (p Player) Ref() PlayerRef {
	return PlayerRef{ID: p.ID, Name: p.Name}
}

// PlayerRef is copied into events so history survives later edits to the Player.
type PlayerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lineup holds the club's active players and bench. The two are disjoint.
type Lineup struct {
	Active []PlayerRef `json:"active"`
	Bench  []PlayerRef `json:"bench"`
}

func (l Lineup) Clone() Lineup {
	return Lineup{
		Active: append([]PlayerRef(nil), l.Active...),
		Bench:  append([]PlayerRef(nil), l.Bench...),
	}
}

// FindActive looks up id among the active players.
func (l Lineup) FindActive(id string) (PlayerRef, bool) {
	return findRef(l.Active, id)
}

// FindBench looks up id on the bench.
func (l Lineup) FindBench(id string) (PlayerRef, bool) {
	return findRef(l.Bench, id)
}

// Find looks up id in either list.
func (l Lineup) Find(id string) (PlayerRef, bool) {
	if p, ok := l.FindActive(id); ok {
		return p, true
	}
	return l.FindBench(id)
}

// Validate checks ids are present and unique across both lists.
func (l Lineup) Validate() error {
	seen := make(map[string]bool, len(l.Active)+len(l.Bench))
	for _, list := range [][]PlayerRef{l.Active, l.Bench} {
		for _, p := range list {
			if p.ID == "" {
				return fmt.Errorf("player %q has no id", p.Name)
			}
			if seen[p.ID] {
				return fmt.Errorf("player %s appears more than once", p.ID)
			}
			seen[p.ID] = true
		}
	}
	return nil
}

// Substitute puts onID from the bench into offID's active slot. The player
// coming off leaves the lineup entirely.
func (l Lineup) Substitute(offID, onID string) (Lineup, error) {
	offIdx := indexOf(l.Active, offID)
	if offIdx < 0 {
		return l, fmt.Errorf("player %s is not active", offID)
	}
	onIdx := indexOf(l.Bench, onID)
	if onIdx < 0 {
		return l, fmt.Errorf("player %s is not on the bench", onID)
	}

	next := l.Clone()
	next.Active[offIdx] = l.Bench[onIdx]
	next.Bench = append(next.Bench[:onIdx], next.Bench[onIdx+1:]...)
	return next, nil
}

func findRef(list []PlayerRef, id string) (PlayerRef, bool) {
	if i := indexOf(list, id); i >= 0 {
		return list[i], true
	}
	return PlayerRef{}, false
}

func indexOf(list []PlayerRef, id string) int {
	if id == "" {
		return -1
	}
	for i, p := range list {
		if p.ID == id {
			return i
		}
	}
	return -1
}
