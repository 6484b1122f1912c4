package business

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

const defaultListLimit = 100

// DefaultMatchService 默认赛事管理服务实现
type DefaultMatchService struct {
	logger  common.Logger
	storage processing.DataStorage
	now     func() time.Time
}

// NewMatchService 创建赛事管理服务
func NewMatchService(logger common.Logger, storage processing.DataStorage) *DefaultMatchService {
	return &DefaultMatchService{
		logger:  logger,
		storage: storage,
		now:     time.Now,
	}
}

// CreateMatch 创建比赛, always UPCOMING at 0 - 0
func (s *DefaultMatchService) CreateMatch(ctx context.Context, input MatchInput) (*models.Match, error) {
	if strings.TrimSpace(input.HomeTeam.Name) == "" {
		return nil, common.NewValidationError("home_team", "name is required")
	}
	if strings.TrimSpace(input.AwayTeam.Name) == "" {
		return nil, common.NewValidationError("away_team", "name is required")
	}
	if input.ClubSide == "" {
		input.ClubSide = models.SideHome
	}
	if !input.ClubSide.Valid() {
		return nil, common.NewValidationError("club_side", "must be home or away")
	}
	if input.ScheduledAt.IsZero() {
		return nil, common.NewValidationError("scheduled_at", "is required")
	}

	now := s.now().UTC()
	match := &models.Match{
		ID:          uuid.NewString(),
		HomeTeam:    input.HomeTeam,
		AwayTeam:    input.AwayTeam,
		ClubSide:    input.ClubSide,
		ScheduledAt: input.ScheduledAt.UTC(),
		Venue:       strings.TrimSpace(input.Venue),
		Competition: strings.TrimSpace(input.Competition),
		Status:      models.MatchStatusUpcoming,
		Lineup:      models.Lineup{Active: []models.PlayerRef{}, Bench: []models.PlayerRef{}},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.storage.CreateMatch(ctx, match); err != nil {
		s.logger.Error("Failed to create match: %v", err)
		return nil, err
	}

	s.logger.Info("Match created: %s (%s vs %s)", match.ID, match.HomeTeam.Name, match.AwayTeam.Name)
	return match, nil
}

// GetMatch 获取比赛信息
func (s *DefaultMatchService) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	s.logger.Debug("Getting match: %s", matchID)

	match, err := s.storage.GetMatch(ctx, matchID)
	if err != nil {
		s.logger.Debug("Failed to get match %s: %v", matchID, err)
		return nil, err
	}
	return match, nil
}

// ListMatches 获取比赛列表
func (s *DefaultMatchService) ListMatches(ctx context.Context, filter MatchFilter) ([]*models.Match, error) {
	for _, st := range filter.Status {
		if !st.Valid() {
			return nil, common.NewValidationError("status", fmt.Sprintf("unknown status %q", st))
		}
	}
	if filter.Limit <= 0 || filter.Limit > defaultListLimit {
		filter.Limit = defaultListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	matches, err := s.storage.QueryMatches(ctx, processing.MatchQuery{
		Status: filter.Status,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		s.logger.Error("Failed to list matches: %v", err)
		return nil, err
	}

	s.logger.Debug("Retrieved %d matches", len(matches))
	return matches, nil
}

// DeleteMatch 删除比赛
func (s *DefaultMatchService) DeleteMatch(ctx context.Context, matchID string) error {
	if err := s.storage.DeleteMatch(ctx, matchID); err != nil {
		return err
	}
	s.logger.Info("Match deleted: %s", matchID)
	return nil
}

// SetLineup 设置阵容. Only squad members with the Player role may be picked.
func (s *DefaultMatchService) SetLineup(ctx context.Context, matchID string, active, bench []models.Player) (*models.Match, error) {
	lineup := models.Lineup{
		Active: make([]models.PlayerRef, 0, len(active)),
		Bench:  make([]models.PlayerRef, 0, len(bench)),
	}
	for _, group := range []struct {
		field   string
		players []models.Player
		refs    *[]models.PlayerRef
	}{
		{"active", active, &lineup.Active},
		{"bench", bench, &lineup.Bench},
	} {
		for _, p := range group.players {
			if p.Role != "" && p.Role != models.RolePlayer {
				return nil, common.NewValidationError(group.field, fmt.Sprintf("%s is %s, not a player", p.Name, p.Role))
			}
			if strings.TrimSpace(p.Name) == "" {
				return nil, common.NewValidationError(group.field, fmt.Sprintf("player %s has no name", p.ID))
			}
			*group.refs = append(*group.refs, p.Ref())
		}
	}
	if err := lineup.Validate(); err != nil {
		return nil, common.NewValidationError("lineup", err.Error())
	}

	match, err := s.storage.SaveLineup(ctx, matchID, lineup)
	if err != nil {
		s.logger.Error("Failed to save lineup for match %s: %v", matchID, err)
		return nil, err
	}

	s.logger.Info("Lineup set for match %s: %d active, %d bench", matchID, len(lineup.Active), len(lineup.Bench))
	return match, nil
}
