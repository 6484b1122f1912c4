package business

import (
	"context"
	"time"

	"livefeed-service/genai"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

// TextGenerator 评论文本生成接口
type TextGenerator interface {
	// Generate returns one non-empty sentence or a generation error.
	Generate(ctx context.Context, req genai.Request) (string, error)
}

// MatchService 赛事管理服务接口
type MatchService interface {
	// CreateMatch 创建比赛
	CreateMatch(ctx context.Context, input MatchInput) (*models.Match, error)

	// GetMatch 获取比赛信息
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)

	// ListMatches 获取比赛列表
	ListMatches(ctx context.Context, filter MatchFilter) ([]*models.Match, error)

	// DeleteMatch 删除比赛及其事件
	DeleteMatch(ctx context.Context, matchID string) error

	// SetLineup 设置首发和替补
	SetLineup(ctx context.Context, matchID string, active, bench []models.Player) (*models.Match, error)
}

// LiveService 直播事件服务接口
type LiveService interface {
	// PostEvent composes and publishes one operator submission.
	PostEvent(ctx context.Context, matchID string, sub *models.Submission) (*processing.UpdateResult, error)

	// StartMatch 开球 (UPCOMING -> LIVE)
	StartMatch(ctx context.Context, matchID, requestID string) (*processing.UpdateResult, error)

	// EndMatch 终场 (LIVE -> FULL_TIME)
	EndMatch(ctx context.Context, matchID, requestID string) (*processing.UpdateResult, error)

	// GetEvents 获取事件日志, newest first
	GetEvents(ctx context.Context, matchID string, limit int) ([]*models.LiveEvent, error)
}

// Notifier is one push sink (broker topic, MQTT, webhook).
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n *models.Notification) error
}

// EventNotifier receives every newly committed event.
type EventNotifier interface {
	Enqueue(match *models.Match, event *models.LiveEvent)
}

// MatchInput 创建比赛参数
type MatchInput struct {
	HomeTeam    models.Team `json:"home_team"`
	AwayTeam    models.Team `json:"away_team"`
	ClubSide    models.Side `json:"club_side"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	Venue       string      `json:"venue"`
	Competition string      `json:"competition"`
}

// MatchFilter 比赛过滤器
type MatchFilter struct {
	Status []models.MatchStatus
	Limit  int
	Offset int
}
