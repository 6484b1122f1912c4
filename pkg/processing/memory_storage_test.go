package processing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
)

func newLiveMatch(t *testing.T, store *MemoryStorage) *models.Match {
	t.Helper()
	match := &models.Match{
		ID:          "m-1",
		HomeTeam:    models.Team{Name: "Rovers"},
		AwayTeam:    models.Team{Name: "United"},
		ClubSide:    models.SideHome,
		ScheduledAt: time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC),
		Status:      models.MatchStatusLive,
		Score:       models.Score{Home: 1, Away: 0},
		Lineup: models.Lineup{
			Active: []models.PlayerRef{{ID: "p1", Name: "A. Keeper"}, {ID: "p2", Name: "J. Smith"}},
			Bench:  []models.PlayerRef{{ID: "p3", Name: "B. Sub"}},
		},
		Version: 1,
	}
	require.NoError(t, store.CreateMatch(context.Background(), match))
	return match
}

func goalUpdate(matchID string, score models.Score) *LiveUpdate {
	return &LiveUpdate{
		MatchID: matchID,
		Score:   score,
		Status:  models.MatchStatusLive,
		Text:    "Goal!",
		Payload: models.GoalPayload{Side: models.SideHome, Scorer: models.PlayerRef{ID: "p2", Name: "J. Smith"}},
	}
}

func TestMemoryStorage_ApplyUpdateCommitsScoreAndEvent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	res, err := store.ApplyUpdate(ctx, goalUpdate(match.ID, models.Score{Home: 2, Away: 0}))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, models.Score{Home: 2, Away: 0}, res.Match.Score)
	assert.Equal(t, int64(2), res.Match.Version)
	require.NotNil(t, res.Event.Score)
	assert.Equal(t, "2 - 0", res.Event.Score.String())
	assert.NotEmpty(t, res.Event.ID)

	got, err := store.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Match.Score, got.Score)

	events, err := store.GetEvents(ctx, match.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.Event.ID, events[0].ID)
}

func TestMemoryStorage_FailedWriteLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	store.FailWrites(func(*LiveUpdate) error { return errors.New("quota exceeded") })

	_, err := store.ApplyUpdate(ctx, goalUpdate(match.ID, models.Score{Home: 2, Away: 0}))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPersistence)

	got, err := store.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Score{Home: 1, Away: 0}, got.Score)
	assert.Equal(t, int64(1), got.Version)

	events, err := store.GetEvents(ctx, match.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	store.FailWrites(nil)
	_, err = store.ApplyUpdate(ctx, goalUpdate(match.ID, models.Score{Home: 2, Away: 0}))
	require.NoError(t, err)
}

func TestMemoryStorage_UnknownMatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())

	_, err := store.ApplyUpdate(ctx, goalUpdate("missing", models.Score{Home: 1}))
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = store.GetEvents(ctx, "missing", 10)
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.ErrorIs(t, store.DeleteMatch(ctx, "missing"), common.ErrNotFound)
}

func TestMemoryStorage_EventsNewestFirstWithTies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	fixed := time.Date(2026, 5, 1, 15, 30, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	for i := 0; i < 3; i++ {
		u := &LiveUpdate{
			MatchID: match.ID,
			Score:   models.Score{Home: 1, Away: 0},
			Status:  models.MatchStatusLive,
			Text:    "note",
			Payload: models.InfoPayload{},
		}
		_, err := store.ApplyUpdate(ctx, u)
		require.NoError(t, err)
	}

	events, err := store.GetEvents(ctx, match.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].Before(events[i-1]), "event %d should precede event %d", i, i-1)
	}

	limited, err := store.GetEvents(ctx, match.ID, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, events[0].ID, limited[0].ID)
}

func TestMemoryStorage_ClockGoingBackwardsKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	times := []time.Time{
		time.Date(2026, 5, 1, 15, 30, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 15, 29, 0, 0, time.UTC),
	}
	call := 0
	store.SetClock(func() time.Time {
		ts := times[call]
		call++
		return ts
	})

	first, err := store.ApplyUpdate(ctx, goalUpdate(match.ID, models.Score{Home: 2}))
	require.NoError(t, err)
	second, err := store.ApplyUpdate(ctx, goalUpdate(match.ID, models.Score{Home: 3}))
	require.NoError(t, err)

	assert.True(t, first.Event.Before(second.Event))
}

func TestMemoryStorage_RequestIDReplay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	u := goalUpdate(match.ID, models.Score{Home: 2, Away: 0})
	u.RequestID = "req-1"

	first, err := store.ApplyUpdate(ctx, u)
	require.NoError(t, err)

	again := goalUpdate(match.ID, models.Score{Home: 2, Away: 0})
	again.RequestID = "req-1"
	second, err := store.ApplyUpdate(ctx, again)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Event.ID, second.Event.ID)

	events, err := store.GetEvents(ctx, match.ID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemoryStorage_DuplicateWithoutRequestIDCreatesTwoEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	sub := func() *LiveUpdate {
		return &LiveUpdate{
			MatchID: match.ID,
			Score:   models.Score{Home: 1, Away: 0},
			Status:  models.MatchStatusLive,
			Text:    "Change",
			Payload: models.SubstitutionPayload{
				Off: models.PlayerRef{ID: "p2", Name: "J. Smith"},
				On:  models.PlayerRef{ID: "p3", Name: "B. Sub"},
			},
		}
	}

	a, err := store.ApplyUpdate(ctx, sub())
	require.NoError(t, err)
	b, err := store.ApplyUpdate(ctx, sub())
	require.NoError(t, err)
	assert.NotEqual(t, a.Event.ID, b.Event.ID)
}

func TestMemoryStorage_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	u := goalUpdate(match.ID, models.Score{Home: 2})
	u.ExpectedVersion = match.Version
	_, err := store.ApplyUpdate(ctx, u)
	require.NoError(t, err)

	stale := goalUpdate(match.ID, models.Score{Home: 2})
	stale.ExpectedVersion = match.Version
	_, err = store.ApplyUpdate(ctx, stale)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestMemoryStorage_ConcurrentWritersSerialise(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	const writers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := goalUpdate(match.ID, models.Score{Home: 2})
			u.ExpectedVersion = match.Version
			if _, err := store.ApplyUpdate(ctx, u); errors.Is(err, common.ErrConflict) {
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers-1, conflicts)
	events, err := store.GetEvents(ctx, match.ID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemoryStorage_TransitionRules(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	_, err := store.ApplyUpdate(ctx, goalUpdate(match.ID, models.Score{Home: 0, Away: 0}))
	assert.ErrorIs(t, err, common.ErrValidation, "score must not decrease while live")

	back := &LiveUpdate{
		MatchID: match.ID,
		Score:   match.Score,
		Status:  models.MatchStatusUpcoming,
		Text:    "rewind",
		Payload: models.InfoPayload{},
	}
	_, err = store.ApplyUpdate(ctx, back)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	end := &LiveUpdate{
		MatchID: match.ID,
		Score:   match.Score,
		Status:  models.MatchStatusFullTime,
		Text:    "Full time",
		Payload: models.MatchEndPayload{},
	}
	_, err = store.ApplyUpdate(ctx, end)
	require.NoError(t, err)

	_, err = store.ApplyUpdate(ctx, &LiveUpdate{
		MatchID: match.ID,
		Score:   models.Score{Home: 2},
		Status:  models.MatchStatusFullTime,
		Text:    "late goal",
		Payload: models.InfoPayload{},
	})
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	_, err = store.SaveLineup(ctx, match.ID, models.Lineup{})
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestMemoryStorage_DeleteCascadesEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	_, err := store.ApplyUpdate(ctx, goalUpdate(match.ID, models.Score{Home: 2}))
	require.NoError(t, err)

	require.NoError(t, store.DeleteMatch(ctx, match.ID))
	_, err = store.GetEvents(ctx, match.ID, 0)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryStorage_QueryMatches(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, st := range []models.MatchStatus{models.MatchStatusUpcoming, models.MatchStatusLive, models.MatchStatusUpcoming} {
		require.NoError(t, store.CreateMatch(ctx, &models.Match{
			ID:          string(rune('a' + i)),
			ScheduledAt: base.Add(time.Duration(i) * time.Hour),
			Status:      st,
		}))
	}

	all, err := store.QueryMatches(ctx, MatchQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)

	upcoming, err := store.QueryMatches(ctx, MatchQuery{Status: []models.MatchStatus{models.MatchStatusUpcoming}})
	require.NoError(t, err)
	assert.Len(t, upcoming, 2)

	page, err := store.QueryMatches(ctx, MatchQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestMemoryStorage_SnapshotIsConsistentUnderWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(common.NopLogger())
	match := newLiveMatch(t, store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 2; i < 50; i++ {
			_, err := store.ApplyUpdate(ctx, goalUpdate(match.ID, models.Score{Home: i}))
			assert.NoError(t, err)
		}
	}()

	for i := 0; i < 50; i++ {
		got, events, err := store.GetSnapshot(ctx, match.ID, 0)
		require.NoError(t, err)
		if len(events) == 0 {
			assert.Equal(t, match.Score, got.Score)
			continue
		}
		require.NotNil(t, events[0].Score)
		assert.Equal(t, got.Score, *events[0].Score, "projection matches newest event")
		assert.Equal(t, got.Version-1, int64(len(events)))
	}
	<-done

	_, _, err := store.GetSnapshot(ctx, "missing", 10)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
