package business

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
)

const (
	defaultNotificationQueue = 256
	notifyTimeout            = 10 * time.Second
)

type notificationJob struct {
	match *models.Match
	event *models.LiveEvent
}

// DefaultNotificationService 默认通知管理服务实现. Committed events are
// queued and rendered into one Notification, which every sink receives.
type DefaultNotificationService struct {
	logger    common.Logger
	notifiers []Notifier
	queue     chan notificationJob

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewNotificationService 创建通知管理服务
func NewNotificationService(logger common.Logger, notifiers ...Notifier) *DefaultNotificationService {
	return &DefaultNotificationService{
		logger:    logger,
		notifiers: notifiers,
		queue:     make(chan notificationJob, defaultNotificationQueue),
	}
}

// Start launches the delivery worker. It returns once ctx is done or Stop is
// called and the queue has drained.
func (s *DefaultNotificationService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			select {
			case job, ok := <-s.queue:
				if !ok {
					return
				}
				s.NotifyEvent(ctx, job.match, job.event)
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("Notification worker started with %d sinks", len(s.notifiers))
}

// Stop closes the queue and waits for queued notifications to go out.
func (s *DefaultNotificationService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Notification worker stopped")
}

// Enqueue hands event to the worker without blocking the publisher. A full
// queue drops the notification.
func (s *DefaultNotificationService) Enqueue(match *models.Match, event *models.LiveEvent) {
	if len(s.notifiers) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Warn("Notification service stopped, dropping event %s", event.ID)
		return
	}

	select {
	case s.queue <- notificationJob{match: match, event: event}:
	default:
		s.logger.Warn("Notification queue full, dropping event %s", event.ID)
	}
}

// NotifyEvent renders and delivers one event to every sink. The joined sink
// errors are returned for callers that care; the worker only logs them.
func (s *DefaultNotificationService) NotifyEvent(ctx context.Context, match *models.Match, event *models.LiveEvent) error {
	notification, err := BuildNotification(match, event)
	if err != nil {
		s.logger.Error("Failed to render notification for event %s: %v", event.ID, err)
		return err
	}

	var errs []error
	for _, n := range s.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
		err := n.Notify(sendCtx, notification)
		cancel()
		if err != nil {
			s.logger.Warn("Notifier %s failed for event %s: %v", n.Name(), event.ID, err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		s.logger.Debug("Notifier %s delivered event %s", n.Name(), event.ID)
	}
	return errors.Join(errs...)
}

// BuildNotification renders the push title/body for event. Info events carry
// no player data and use the operator's text as the body.
func BuildNotification(match *models.Match, event *models.LiveEvent) (*models.Notification, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	score := match.Score
	if event.Score != nil {
		score = *event.Score
	}
	scoreline := fmt.Sprintf("%s %s %s", match.HomeTeam.Name, score, match.AwayTeam.Name)

	n := &models.Notification{
		MatchID: match.ID,
		EventID: event.ID,
		Kind:    event.Kind(),
		Body:    event.Text,
		Data:    data,
	}

	switch p := event.Payload.(type) {
	case models.GoalPayload:
		n.Title = fmt.Sprintf("GOAL! %s", scoreline)
		if p.Scorer.Name != "" && n.Body == "" {
			n.Body = fmt.Sprintf("%s scores for %s", p.Scorer.Name, match.TeamName(p.Side))
		}
		n.Important = true
	case models.RedCardPayload:
		n.Title = fmt.Sprintf("Red card: %s", match.TeamName(p.Side))
		n.Important = true
	case models.SubstitutionPayload:
		n.Title = fmt.Sprintf("Substitution: %s on for %s", p.On.Name, p.Off.Name)
	case models.MatchStartPayload:
		n.Title = fmt.Sprintf("Kick off: %s vs %s", match.HomeTeam.Name, match.AwayTeam.Name)
		n.Important = true
	case models.MatchEndPayload:
		n.Title = fmt.Sprintf("Full time: %s", scoreline)
		n.Important = true
	default:
		n.Title = fmt.Sprintf("%s vs %s", match.HomeTeam.Name, match.AwayTeam.Name)
	}

	if n.Body == "" {
		n.Body = scoreline
	}
	return n, nil
}
