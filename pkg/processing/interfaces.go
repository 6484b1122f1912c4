package processing

import (
	"context"

	"livefeed-service/pkg/models"
)

// DataStorage 数据存储接口
type DataStorage interface {
	// CreateMatch 保存新比赛
	CreateMatch(ctx context.Context, match *models.Match) error

	// GetMatch 获取比赛
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)

	// QueryMatches 查询比赛
	QueryMatches(ctx context.Context, filter MatchQuery) ([]*models.Match, error)

	// DeleteMatch removes the match and its whole event log.
	DeleteMatch(ctx context.Context, matchID string) error

	// SaveLineup replaces the club lineup outside the event log.
	SaveLineup(ctx context.Context, matchID string, lineup models.Lineup) (*models.Match, error)

	// ApplyUpdate updates the score/status projection and appends one
	// LiveEvent in a single atomic unit.
	ApplyUpdate(ctx context.Context, update *LiveUpdate) (*UpdateResult, error)

	// GetEvents returns up to limit events for the match, newest first.
	GetEvents(ctx context.Context, matchID string, limit int) ([]*models.LiveEvent, error)

	// GetSnapshot returns the match and up to limit of its newest events
	// from one consistent read, so the score always matches the log.
	GetSnapshot(ctx context.Context, matchID string, limit int) (*models.Match, []*models.LiveEvent, error)

	// FindByRequestID returns the event committed under requestID, or a
	// not-found error.
	FindByRequestID(ctx context.Context, matchID, requestID string) (*models.LiveEvent, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// EventBus fans committed updates out to live subscribers.
type EventBus interface {
	// Publish delivers msg to every subscriber of msg.MatchID.
	Publish(ctx context.Context, msg *models.FeedMessage) error

	// Subscribe opens a stream of messages for one match. The caller owns
	// the returned subscription and must Close it.
	Subscribe(ctx context.Context, matchID string) (*BusSubscription, error)

	Ping(ctx context.Context) error

	Close() error
}

// LiveUpdate is the Publisher's input: the new projection plus the event
// that motivated it.
type LiveUpdate struct {
	MatchID string
	Score   models.Score
	Status  models.MatchStatus
	// Lineup replaces the stored lineup when non-nil.
	Lineup  *models.Lineup
	Text    string
	Payload models.Payload
	// RequestID optionally deduplicates resubmissions of the same post.
	RequestID string
	// ExpectedVersion rejects the write when the match has moved on.
	// Zero disables the check.
	ExpectedVersion int64
}

// UpdateResult is the committed state after ApplyUpdate.
type UpdateResult struct {
	Match *models.Match
	Event *models.LiveEvent
	// Replayed is set when RequestID matched an earlier commit and nothing
	// new was written.
	Replayed bool
}

// MatchQuery 比赛查询
type MatchQuery struct {
	Status []models.MatchStatus
	Limit  int
	Offset int
}
