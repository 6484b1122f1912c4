package business

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livefeed-service/genai"
	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []genai.Request
	text     string
	err      error
	delay    func(req genai.Request) time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, req genai.Request) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	text, err, delay := g.text, g.err, g.delay
	g.mu.Unlock()

	if delay != nil {
		time.Sleep(delay(req))
	}
	if err != nil {
		return "", err
	}
	if text == "" {
		text = req.EventType + " for " + req.TeamName
	}
	return text, nil
}

func (g *fakeGenerator) calls() []genai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]genai.Request(nil), g.requests...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.LiveEvent
}

func (n *recordingNotifier) Enqueue(match *models.Match, event *models.LiveEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type pipeline struct {
	store     *processing.MemoryStorage
	bus       *processing.DefaultEventDispatcher
	generator *fakeGenerator
	notifier  *recordingNotifier
	service   *DefaultLiveService
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := common.NopLogger()
	p := &pipeline{
		store:     processing.NewMemoryStorage(logger),
		bus:       processing.NewEventDispatcher(logger, 16),
		generator: &fakeGenerator{},
		notifier:  &recordingNotifier{},
	}
	composer := NewComposer(logger, processing.NewSubmissionValidator(logger), p.generator)
	publisher := NewPublisher(logger, p.store, p.bus, p.notifier)
	p.service = NewLiveService(logger, p.store, composer, publisher)
	return p
}

func (p *pipeline) seed(t *testing.T, status models.MatchStatus, score models.Score) *models.Match {
	t.Helper()
	match := &models.Match{
		ID:          "m-1",
		HomeTeam:    models.Team{Name: "Rovers"},
		AwayTeam:    models.Team{Name: "United"},
		ClubSide:    models.SideHome,
		ScheduledAt: time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC),
		Status:      status,
		Score:       score,
		Lineup: models.Lineup{
			Active: []models.PlayerRef{{ID: "p1", Name: "A. Keeper"}, {ID: "p2", Name: "C. Striker"}},
			Bench:  []models.PlayerRef{{ID: "p3", Name: "B. Sub"}},
		},
		Version: 1,
	}
	require.NoError(t, p.store.CreateMatch(context.Background(), match))
	return match
}

func (p *pipeline) assertUnchanged(t *testing.T, before *models.Match) {
	t.Helper()
	ctx := context.Background()
	after, err := p.store.GetMatch(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Score, after.Score)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Version, after.Version)

	events, err := p.store.GetEvents(ctx, before.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPostEvent_AwayGoalScenario(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{Home: 1, Away: 0})
	p.generator.text = "Smith levels it!"

	res, err := p.service.PostEvent(ctx, match.ID, &models.Submission{
		Kind:       models.EventGoal,
		Side:       models.SideAway,
		ScorerName: "J. Smith",
	})
	require.NoError(t, err)

	calls := p.generator.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Goal", calls[0].EventType)
	assert.Equal(t, "United", calls[0].TeamName)
	assert.Equal(t, "J. Smith", calls[0].PlayerName)
	require.NotNil(t, calls[0].HomeScore)
	require.NotNil(t, calls[0].AwayScore)
	assert.Equal(t, 1, *calls[0].HomeScore)
	assert.Equal(t, 1, *calls[0].AwayScore)

	assert.Equal(t, models.Score{Home: 1, Away: 1}, res.Match.Score)
	assert.Equal(t, models.EventGoal, res.Event.Kind())
	assert.Equal(t, "Smith levels it!", res.Event.Text)
	assert.Equal(t, "1 - 1", res.Event.Score.String())

	payload, ok := res.Event.Payload.(models.GoalPayload)
	require.True(t, ok)
	assert.Equal(t, "J. Smith", payload.Scorer.Name)
	assert.Nil(t, payload.Assist)

	assert.Len(t, p.notifier.events, 1)
}

func TestPostEvent_GoalIncrementsScoringSideByOne(t *testing.T) {
	ctx := context.Background()

	for _, side := range []models.Side{models.SideHome, models.SideAway} {
		t.Run(string(side), func(t *testing.T) {
			p := newPipeline(t)
			before := p.seed(t, models.MatchStatusLive, models.Score{Home: 2, Away: 3})

			sub := &models.Submission{Kind: models.EventGoal, Side: side, ScorerID: "p2", AssistID: "p1"}
			if side == models.SideAway {
				sub = &models.Submission{Kind: models.EventGoal, Side: side, ScorerName: "Visitor"}
			}
			res, err := p.service.PostEvent(ctx, before.ID, sub)
			require.NoError(t, err)

			want := before.Score
			if side == models.SideHome {
				want.Home++
			} else {
				want.Away++
			}
			assert.Equal(t, want, res.Match.Score)

			payload := res.Event.Payload.(models.GoalPayload)
			assert.Equal(t, side, payload.Side)
			if side == models.SideHome {
				assert.Equal(t, models.PlayerRef{ID: "p2", Name: "C. Striker"}, payload.Scorer)
				require.NotNil(t, payload.Assist)
				assert.Equal(t, "p1", payload.Assist.ID)
			}
		})
	}
}

func TestPostEvent_SubstitutionUpdatesLineup(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{})

	sub := &models.Submission{Kind: models.EventSubstitution, SubOffID: "p2", SubOnID: "p3"}
	res, err := p.service.PostEvent(ctx, match.ID, sub)
	require.NoError(t, err)

	payload := res.Event.Payload.(models.SubstitutionPayload)
	assert.Equal(t, "p2", payload.Off.ID)
	assert.Equal(t, "p3", payload.On.ID)

	_, active := res.Match.Lineup.FindActive("p3")
	assert.True(t, active)
	_, stillThere := res.Match.Lineup.Find("p2")
	assert.False(t, stillThere)
	assert.Empty(t, res.Match.Lineup.Bench)

	calls := p.generator.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "C. Striker", calls[0].PlayerOut)
	assert.Equal(t, "B. Sub", calls[0].PlayerIn)
}

func TestPostEvent_SameSubstitutionTwiceBothValidated(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{})

	sub := models.Submission{Kind: models.EventSubstitution, SubOffID: "p2", SubOnID: "p3"}
	first := sub
	_, err := p.service.PostEvent(ctx, match.ID, &first)
	require.NoError(t, err)

	// p3 is no longer on the bench, so the repeat is rejected
	second := sub
	_, err = p.service.PostEvent(ctx, match.ID, &second)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestPostEvent_InfoRepeatCreatesDistinctEvents(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{})

	a, err := p.service.PostEvent(ctx, match.ID, &models.Submission{Kind: models.EventInfo, Text: "Drinks break"})
	require.NoError(t, err)
	b, err := p.service.PostEvent(ctx, match.ID, &models.Submission{Kind: models.EventInfo, Text: "Drinks break"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Event.ID, b.Event.ID)
	assert.Empty(t, p.generator.calls(), "info events skip generation")
}

func TestPostEvent_EmptyInfoFailsBeforeAnyCall(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{})

	_, err := p.service.PostEvent(ctx, match.ID, &models.Submission{Kind: models.EventInfo, Text: ""})
	require.Error(t, err)

	var verr *common.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "text", verr.Field)
	assert.Empty(t, p.generator.calls())
	p.assertUnchanged(t, match)
}

func TestPostEvent_GenerationFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{Home: 1})
	p.generator.err = errors.New("model overloaded")

	_, err := p.service.PostEvent(ctx, match.ID, &models.Submission{Kind: models.EventGoal, Side: models.SideHome, ScorerID: "p2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrGeneration)
	assert.Len(t, p.generator.calls(), 1, "generation is not retried")

	p.assertUnchanged(t, match)
	assert.Empty(t, p.notifier.events)
}

func TestPostEvent_ManualTextSkipsGeneration(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{})
	p.generator.err = errors.New("unavailable")

	res, err := p.service.PostEvent(ctx, match.ID, &models.Submission{
		Kind:     models.EventRedCard,
		Side:     models.SideHome,
		PlayerID: "p1",
		Text:     "Keeper sent off for handball outside the box.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Keeper sent off for handball outside the box.", res.Event.Text)
	assert.Empty(t, p.generator.calls())
}

func TestPostEvent_StoreFailureIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{Home: 1})

	feed, err := p.bus.Subscribe(ctx, match.ID)
	require.NoError(t, err)
	defer feed.Close()

	p.store.FailWrites(func(*processing.LiveUpdate) error { return errors.New("connection reset") })

	_, err = p.service.PostEvent(ctx, match.ID, &models.Submission{Kind: models.EventGoal, Side: models.SideHome, ScorerID: "p2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPersistence)

	p.assertUnchanged(t, match)
	assert.Empty(t, feed.Messages())
	assert.Empty(t, p.notifier.events)
}

func TestPostEvent_UnknownMatch(t *testing.T) {
	p := newPipeline(t)

	_, err := p.service.PostEvent(context.Background(), "missing", &models.Submission{Kind: models.EventInfo, Text: "hello"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPostEvent_OrderingIgnoresGenerationLatency(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{})

	p.generator.delay = func(req genai.Request) time.Duration {
		if req.EventType == "RedCard" {
			return 30 * time.Millisecond
		}
		return 0
	}

	first, err := p.service.PostEvent(ctx, match.ID, &models.Submission{Kind: models.EventRedCard, Side: models.SideAway, PlayerName: "K. Hard"})
	require.NoError(t, err)
	second, err := p.service.PostEvent(ctx, match.ID, &models.Submission{Kind: models.EventGoal, Side: models.SideHome, ScorerID: "p2"})
	require.NoError(t, err)

	events, err := p.service.GetEvents(ctx, match.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, second.Event.ID, events[0].ID)
	assert.Equal(t, first.Event.ID, events[1].ID)
}

func TestStartAndEndMatch(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusUpcoming, models.Score{})

	feed, err := p.bus.Subscribe(ctx, match.ID)
	require.NoError(t, err)
	defer feed.Close()

	started, err := p.service.StartMatch(ctx, match.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLive, started.Match.Status)
	assert.Equal(t, models.Score{}, started.Match.Score)
	assert.Equal(t, models.EventMatchStart, started.Event.Kind())

	msg := <-feed.Messages()
	assert.Equal(t, started.Event.ID, msg.Event.ID)

	_, err = p.service.StartMatch(ctx, match.ID, "")
	assert.ErrorIs(t, err, common.ErrValidation)

	ended, err := p.service.EndMatch(ctx, match.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFullTime, ended.Match.Status)

	_, err = p.service.PostEvent(ctx, match.ID, &models.Submission{Kind: models.EventGoal, Side: models.SideHome, ScorerID: "p2"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestPostEvent_RequestIDReplaysCommittedEvent(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusUpcoming, models.Score{})

	first, err := p.service.StartMatch(ctx, match.ID, "kickoff-1")
	require.NoError(t, err)

	again, err := p.service.StartMatch(ctx, match.ID, "kickoff-1")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Event.ID, again.Event.ID)
	assert.Len(t, p.notifier.events, 1)
	assert.Len(t, p.generator.calls(), 1)
}

func TestPostEvent_StaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{})

	composer := NewComposer(common.NopLogger(), processing.NewSubmissionValidator(common.NopLogger()), p.generator)
	stale, err := composer.Compose(ctx, match, &models.Submission{Kind: models.EventGoal, Side: models.SideHome, ScorerID: "p2"})
	require.NoError(t, err)

	_, err = p.service.PostEvent(ctx, match.ID, &models.Submission{Kind: models.EventGoal, Side: models.SideHome, ScorerID: "p1"})
	require.NoError(t, err)

	_, err = p.service.publisher.Publish(ctx, stale)
	assert.ErrorIs(t, err, common.ErrConflict)

	current, err := p.store.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Score{Home: 1}, current.Score)
}

func TestPostEvent_OpponentPlayersAreNameOnly(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	match := p.seed(t, models.MatchStatusLive, models.Score{})

	_, err := p.service.PostEvent(ctx, match.ID, &models.Submission{
		Kind:       models.EventGoal,
		Side:       models.SideAway,
		ScorerID:   "p2",
		ScorerName: "C. Striker",
	})
	assert.ErrorIs(t, err, common.ErrValidation)
	p.assertUnchanged(t, match)

	res, err := p.service.PostEvent(ctx, match.ID, &models.Submission{
		Kind:       models.EventRedCard,
		Side:       models.SideAway,
		PlayerID:   "visitor-4",
		PlayerName: "K. Hard",
	})
	require.NoError(t, err)
	payload := res.Event.Payload.(models.RedCardPayload)
	assert.Equal(t, models.PlayerRef{Name: "K. Hard"}, payload.Player)
}
