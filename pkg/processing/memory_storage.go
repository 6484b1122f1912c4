package processing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
)

// MemoryStorage is a DataStorage kept in process memory. ApplyUpdate holds a
// single lock across check, projection write and event append, which gives
// the same all-or-nothing behaviour as the Postgres transaction.
type MemoryStorage struct {
	logger common.Logger
	now    func() time.Time

	mu      sync.RWMutex
	matches map[string]*models.Match
	events  map[string][]*models.LiveEvent
	seq     int64
	lastTS  time.Time

	// failWrite, when set, is consulted just before commit; a non-nil
	// result aborts the write.
	failWrite func(update *LiveUpdate) error
}

// NewMemoryStorage 创建内存存储
func NewMemoryStorage(logger common.Logger) *MemoryStorage {
	return &MemoryStorage{
		logger:  logger,
		now:     time.Now,
		matches: make(map[string]*models.Match),
		events:  make(map[string][]*models.LiveEvent),
	}
}

// SetClock overrides the timestamp source.
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailWrites makes ApplyUpdate abort before commit whenever fn returns an
// error. Pass nil to restore normal behaviour.
func (s *MemoryStorage) FailWrites(fn func(update *LiveUpdate) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = fn
}

func (s *MemoryStorage) CreateMatch(ctx context.Context, match *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.matches[match.ID]; exists {
		return common.NewPersistenceError("match "+match.ID+" already exists", nil)
	}
	s.matches[match.ID] = match.Clone()
	return nil
}

func (s *MemoryStorage) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match, ok := s.matches[matchID]
	if !ok {
		return nil, common.NewNotFoundError("match", matchID)
	}
	return match.Clone(), nil
}

func (s *MemoryStorage) QueryMatches(ctx context.Context, filter MatchQuery) ([]*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[models.MatchStatus]bool, len(filter.Status))
	for _, st := range filter.Status {
		wanted[st] = true
	}

	matches := make([]*models.Match, 0, len(s.matches))
	for _, m := range s.matches {
		if len(wanted) > 0 && !wanted[m.Status] {
			continue
		}
		matches = append(matches, m.Clone())
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].ScheduledAt.Equal(matches[j].ScheduledAt) {
			return matches[i].ScheduledAt.Before(matches[j].ScheduledAt)
		}
		return matches[i].ID < matches[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matches) {
			return []*models.Match{}, nil
		}
		matches = matches[filter.Offset:]
	}
	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

func (s *MemoryStorage) DeleteMatch(ctx context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[matchID]; !ok {
		return common.NewNotFoundError("match", matchID)
	}
	delete(s.matches, matchID)
	delete(s.events, matchID)
	return nil
}

func (s *MemoryStorage) SaveLineup(ctx context.Context, matchID string, lineup models.Lineup) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match, ok := s.matches[matchID]
	if !ok {
		return nil, common.NewNotFoundError("match", matchID)
	}
	if match.Status == models.MatchStatusFullTime {
		return nil, common.NewInvalidTransitionError(string(match.Status), "lineup change")
	}

	next := match.Clone()
	next.Lineup = lineup.Clone()
	next.Version++
	next.UpdatedAt = s.now()
	s.matches[matchID] = next
	return next.Clone(), nil
}

func (s *MemoryStorage) ApplyUpdate(ctx context.Context, u *LiveUpdate) (*UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewPersistenceError("update cancelled", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.matches[u.MatchID]
	if !ok {
		return nil, common.NewNotFoundError("match", u.MatchID)
	}

	if u.RequestID != "" {
		for _, e := range s.events[u.MatchID] {
			if e.RequestID == u.RequestID {
				return &UpdateResult{Match: current.Clone(), Event: cloneEvent(e), Replayed: true}, nil
			}
		}
	}

	if err := CheckTransition(current, u); err != nil {
		return nil, err
	}

	if s.failWrite != nil {
		if err := s.failWrite(u); err != nil {
			return nil, common.NewPersistenceError("write aborted", err)
		}
	}

	ts := s.now()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	s.lastTS = ts
	s.seq++

	next := current.Clone()
	next.Score = u.Score
	next.Status = u.Status
	if u.Lineup != nil {
		next.Lineup = u.Lineup.Clone()
	}
	next.Version++
	next.UpdatedAt = ts

	score := u.Score
	event := &models.LiveEvent{
		ID:        uuid.NewString(),
		MatchID:   u.MatchID,
		Seq:       s.seq,
		Text:      u.Text,
		Score:     &score,
		Payload:   u.Payload,
		RequestID: u.RequestID,
		CreatedAt: ts,
	}

	s.matches[u.MatchID] = next
	s.events[u.MatchID] = append(s.events[u.MatchID], event)

	s.logger.Debug("Committed %s for match %s (seq %d)", event.Kind(), u.MatchID, event.Seq)
	return &UpdateResult{Match: next.Clone(), Event: cloneEvent(event)}, nil
}

func (s *MemoryStorage) GetEvents(ctx context.Context, matchID string, limit int) ([]*models.LiveEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.matches[matchID]; !ok {
		return nil, common.NewNotFoundError("match", matchID)
	}
	return s.newestEvents(matchID, limit), nil
}

func (s *MemoryStorage) GetSnapshot(ctx context.Context, matchID string, limit int) (*models.Match, []*models.LiveEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match, ok := s.matches[matchID]
	if !ok {
		return nil, nil, common.NewNotFoundError("match", matchID)
	}
	return match.Clone(), s.newestEvents(matchID, limit), nil
}

// newestEvents must be called with s.mu held.
func (s *MemoryStorage) newestEvents(matchID string, limit int) []*models.LiveEvent {
	stored := s.events[matchID]
	events := make([]*models.LiveEvent, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		events = append(events, cloneEvent(stored[i]))
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events
}

func (s *MemoryStorage) FindByRequestID(ctx context.Context, matchID, requestID string) (*models.LiveEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if requestID != "" {
		for _, e := range s.events[matchID] {
			if e.RequestID == requestID {
				return cloneEvent(e), nil
			}
		}
	}
	return nil, common.NewNotFoundError("request", requestID)
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func cloneEvent(e *models.LiveEvent) *models.LiveEvent {
	c := *e
	if e.Score != nil {
		score := *e.Score
		c.Score = &score
	}
	return &c
}
