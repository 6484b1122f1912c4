package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

type readerFixture struct {
	store  *processing.MemoryStorage
	bus    *processing.DefaultEventDispatcher
	reader *Reader
	match  *models.Match
}

func newReaderFixture(t *testing.T) *readerFixture {
	t.Helper()
	logger := common.NopLogger()
	f := &readerFixture{
		store: processing.NewMemoryStorage(logger),
		bus:   processing.NewEventDispatcher(logger, 16),
	}
	f.reader = NewReader(logger, f.store, f.bus, 10)
	f.match = &models.Match{
		ID:       "m-1",
		HomeTeam: models.Team{Name: "Rovers"},
		AwayTeam: models.Team{Name: "United"},
		ClubSide: models.SideHome,
		Status:   models.MatchStatusLive,
		Version:  1,
	}
	require.NoError(t, f.store.CreateMatch(context.Background(), f.match))
	return f
}

// commit writes an info event without fanning it out.
func (f *readerFixture) commit(t *testing.T, text string) *processing.UpdateResult {
	t.Helper()
	res, err := f.store.ApplyUpdate(context.Background(), &processing.LiveUpdate{
		MatchID: f.match.ID,
		Status:  models.MatchStatusLive,
		Text:    text,
		Payload: models.InfoPayload{},
	})
	require.NoError(t, err)
	return res
}

func (f *readerFixture) publish(t *testing.T, res *processing.UpdateResult) {
	t.Helper()
	require.NoError(t, f.bus.Publish(context.Background(), &models.FeedMessage{
		MatchID: res.Match.ID,
		Match:   res.Match,
		Event:   res.Event,
	}))
}

func nextUpdate(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "updates closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
	return Update{}
}

func TestReader_SnapshotThenUpdates(t *testing.T) {
	ctx := context.Background()
	f := newReaderFixture(t)
	first := f.commit(t, "first")

	sub, err := f.reader.Subscribe(ctx, f.match.ID)
	require.NoError(t, err)
	defer sub.Close()

	snap := sub.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, first.Event.ID, snap.Events[0].ID)
	assert.Equal(t, int64(2), snap.Match.Version)

	second := f.commit(t, "second")
	f.publish(t, second)

	u := nextUpdate(t, sub)
	assert.Equal(t, second.Event.ID, u.Event.ID)
	assert.Equal(t, int64(3), u.Match.Version)
	assert.Equal(t, int64(3), sub.Match().Version)

	log := sub.Log()
	require.Len(t, log, 2)
	assert.Equal(t, second.Event.ID, log[0].ID)
	assert.Equal(t, first.Event.ID, log[1].ID)
}

func TestReader_DeduplicatesSnapshotOverlap(t *testing.T) {
	ctx := context.Background()
	f := newReaderFixture(t)
	early := f.commit(t, "committed before subscribe, published after")

	sub, err := f.reader.Subscribe(ctx, f.match.ID)
	require.NoError(t, err)
	defer sub.Close()

	f.publish(t, early)
	f.publish(t, early)
	later := f.commit(t, "later")
	f.publish(t, later)

	u := nextUpdate(t, sub)
	assert.Equal(t, later.Event.ID, u.Event.ID, "already-seen events are not redelivered")
	assert.Len(t, sub.Log(), 2)
}

func TestReader_ManyViewersEachGetEveryEvent(t *testing.T) {
	ctx := context.Background()
	f := newReaderFixture(t)

	subs := make([]*Subscription, 3)
	for i := range subs {
		sub, err := f.reader.Subscribe(ctx, f.match.ID)
		require.NoError(t, err)
		defer sub.Close()
		subs[i] = sub
	}

	results := []*processing.UpdateResult{f.commit(t, "a"), f.commit(t, "b")}
	for _, res := range results {
		f.publish(t, res)
	}

	for _, sub := range subs {
		for _, res := range results {
			assert.Equal(t, res.Event.ID, nextUpdate(t, sub).Event.ID)
		}
	}
}

func TestReader_TransportFailureSurfacesConnectionError(t *testing.T) {
	ctx := context.Background()
	f := newReaderFixture(t)

	sub, err := f.reader.Subscribe(ctx, f.match.ID)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.bus.Close())

	select {
	case _, ok := <-sub.Updates():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("updates not closed after transport failure")
	}
	assert.ErrorIs(t, sub.Err(), common.ErrConnection)
}

func TestReader_CloseIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f := newReaderFixture(t)

	sub, err := f.reader.Subscribe(ctx, f.match.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.bus.GetSubscriberCount())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, f.bus.GetSubscriberCount())
	assert.NoError(t, sub.Err())

	_, ok := <-sub.Updates()
	assert.False(t, ok)
}

func TestReader_UnknownMatchReleasesBusSubscription(t *testing.T) {
	f := newReaderFixture(t)

	_, err := f.reader.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, 0, f.bus.GetSubscriberCount())
}

// tornSnapshotStore reads the match and the events separately with a goal
// committed in between, the way a non-transactional store would.
type tornSnapshotStore struct {
	*processing.MemoryStorage
	between func()
}

func (s *tornSnapshotStore) GetSnapshot(ctx context.Context, matchID string, limit int) (*models.Match, []*models.LiveEvent, error) {
	match, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	s.between()
	events, err := s.GetEvents(ctx, matchID, limit)
	return match, events, err
}

func TestReader_DuplicateDeliveryAdvancesStaleScore(t *testing.T) {
	ctx := context.Background()
	f := newReaderFixture(t)

	var goal *processing.UpdateResult
	store := &tornSnapshotStore{MemoryStorage: f.store, between: func() {
		var err error
		goal, err = f.store.ApplyUpdate(ctx, &processing.LiveUpdate{
			MatchID: f.match.ID,
			Score:   models.Score{Home: 1},
			Status:  models.MatchStatusLive,
			Text:    "Goal!",
			Payload: models.InfoPayload{},
		})
		require.NoError(t, err)
	}}
	reader := NewReader(common.NopLogger(), store, f.bus, 10)

	sub, err := reader.Subscribe(ctx, f.match.ID)
	require.NoError(t, err)
	defer sub.Close()

	snap := sub.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, models.Score{}, snap.Match.Score)

	f.publish(t, goal)
	assert.Eventually(t, func() bool {
		return sub.Match().Score == models.Score{Home: 1}
	}, time.Second, 5*time.Millisecond)

	later := f.commit(t, "later")
	f.publish(t, later)
	u := nextUpdate(t, sub)
	assert.Equal(t, later.Event.ID, u.Event.ID, "the duplicate goal is not redelivered")
	assert.Equal(t, models.Score{Home: 1}, u.Match.Score)
}

func TestReader_SnapshotComesFromOneRead(t *testing.T) {
	ctx := context.Background()
	f := newReaderFixture(t)
	for i := 0; i < 3; i++ {
		f.commit(t, "info")
	}

	sub, err := f.reader.Subscribe(ctx, f.match.ID)
	require.NoError(t, err)
	defer sub.Close()

	snap := sub.Snapshot()
	assert.Equal(t, snap.Match.Version-1, int64(len(snap.Events)))
}

func TestReader_LongLivedSubscriptionStaysBounded(t *testing.T) {
	ctx := context.Background()
	f := newReaderFixture(t)

	sub, err := f.reader.Subscribe(ctx, f.match.ID)
	require.NoError(t, err)
	defer sub.Close()

	var last *processing.UpdateResult
	for i := 0; i < 25; i++ {
		last = f.commit(t, "info")
		f.publish(t, last)
		assert.Equal(t, last.Event.ID, nextUpdate(t, sub).Event.ID)
	}

	log := sub.Log()
	require.Len(t, log, 10)
	assert.Equal(t, last.Event.ID, log[0].ID)

	sub.mu.RLock()
	assert.Len(t, sub.seen, 10)
	assert.Len(t, sub.seenOrder, 10)
	sub.mu.RUnlock()
}
