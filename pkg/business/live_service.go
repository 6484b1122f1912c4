package business

import (
	"context"
	"errors"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

// DefaultLiveService 默认直播事件服务实现
type DefaultLiveService struct {
	logger    common.Logger
	storage   processing.DataStorage
	composer  *Composer
	publisher *Publisher
}

// NewLiveService 创建直播事件服务
func NewLiveService(logger common.Logger, storage processing.DataStorage, composer *Composer, publisher *Publisher) *DefaultLiveService {
	return &DefaultLiveService{
		logger:    logger,
		storage:   storage,
		composer:  composer,
		publisher: publisher,
	}
}

// PostEvent 提交比赛事件
func (s *DefaultLiveService) PostEvent(ctx context.Context, matchID string, sub *models.Submission) (*processing.UpdateResult, error) {
	s.logger.Debug("Posting %s for match %s", sub.Kind, matchID)

	if err := s.composer.Precheck(sub); err != nil {
		return nil, err
	}

	match, err := s.storage.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if sub.RequestID != "" {
		prior, err := s.storage.FindByRequestID(ctx, matchID, sub.RequestID)
		if err == nil {
			s.logger.Info("Request %s for match %s already committed as event %s", sub.RequestID, matchID, prior.ID)
			return &processing.UpdateResult{Match: match, Event: prior, Replayed: true}, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}

	update, err := s.composer.Compose(ctx, match, sub)
	if err != nil {
		return nil, err
	}

	return s.publisher.Publish(ctx, update)
}

// StartMatch 开球
func (s *DefaultLiveService) StartMatch(ctx context.Context, matchID, requestID string) (*processing.UpdateResult, error) {
	return s.PostEvent(ctx, matchID, &models.Submission{Kind: models.EventMatchStart, RequestID: requestID})
}

// EndMatch 终场
func (s *DefaultLiveService) EndMatch(ctx context.Context, matchID, requestID string) (*processing.UpdateResult, error) {
	return s.PostEvent(ctx, matchID, &models.Submission{Kind: models.EventMatchEnd, RequestID: requestID})
}

// GetEvents 获取事件日志
func (s *DefaultLiveService) GetEvents(ctx context.Context, matchID string, limit int) ([]*models.LiveEvent, error) {
	events, err := s.storage.GetEvents(ctx, matchID, limit)
	if err != nil {
		s.logger.Error("Failed to get events for match %s: %v", matchID, err)
		return nil, err
	}
	return events, nil
}
