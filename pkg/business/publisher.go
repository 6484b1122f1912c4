package business

import (
	"context"
	"time"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

const fanOutTimeout = 5 * time.Second

// Publisher 实时更新发布器. Publish commits the projection change and the
// event in one atomic write, then fans the result out. Fan-out failures are
// logged and never undo or fail the commit.
type Publisher struct {
	logger   common.Logger
	storage  processing.DataStorage
	bus      processing.EventBus
	notifier EventNotifier
}

// NewPublisher 创建发布器; bus and notifier may be nil.
func NewPublisher(logger common.Logger, storage processing.DataStorage, bus processing.EventBus, notifier EventNotifier) *Publisher {
	return &Publisher{
		logger:   logger,
		storage:  storage,
		bus:      bus,
		notifier: notifier,
	}
}

func (p *Publisher) Publish(ctx context.Context, update *processing.LiveUpdate) (*processing.UpdateResult, error) {
	if err := processing.ValidateUpdate(update); err != nil {
		return nil, err
	}

	result, err := p.storage.ApplyUpdate(ctx, update)
	if err != nil {
		p.logger.Error("Failed to apply update to match %s: %v", update.MatchID, err)
		return nil, err
	}

	if result.Replayed {
		p.logger.Info("Request %s for match %s already committed as event %s",
			update.RequestID, update.MatchID, result.Event.ID)
		return result, nil
	}

	p.logger.Info("Committed %s for match %s: score %s, status %s",
		result.Event.Kind(), result.Match.ID, result.Match.Score, result.Match.Status)

	p.fanOut(ctx, result.Match, result.Event)
	return result, nil
}

func (p *Publisher) fanOut(ctx context.Context, match *models.Match, event *models.LiveEvent) {
	if p.bus != nil {
		busCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanOutTimeout)
		err := p.bus.Publish(busCtx, &models.FeedMessage{MatchID: match.ID, Match: match, Event: event})
		cancel()
		if err != nil {
			p.logger.Warn("Failed to broadcast event %s: %v", event.ID, err)
		}
	}

	if p.notifier != nil {
		p.notifier.Enqueue(match, event)
	}
}
