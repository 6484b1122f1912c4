package processing

import (
	"sync"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
)

// DefaultSubscriptionBuffer is the per-subscriber message buffer.
const DefaultSubscriptionBuffer = 64

// BusSubscription is one subscriber's handle on a match stream. Messages is
// closed either by Close or by a transport failure; Err tells them apart.
type BusSubscription struct {
	MatchID string

	messages chan *models.FeedMessage
	onClose  func()

	mu     sync.Mutex
	closed bool
	err    error
}

// NewBusSubscription creates a subscription; onClose runs once on release.
func NewBusSubscription(matchID string, buffer int, onClose func()) *BusSubscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &BusSubscription{
		MatchID:  matchID,
		messages: make(chan *models.FeedMessage, buffer),
		onClose:  onClose,
	}
}

// Messages streams committed updates in publish order.
func (s *BusSubscription) Messages() <-chan *models.FeedMessage {
	return s.messages
}

// Deliver hands msg to the subscriber without blocking. A full buffer means
// the subscriber cannot keep up; the subscription is failed rather than
// silently dropping the message.
func (s *BusSubscription) Deliver(msg *models.FeedMessage) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	select {
	case s.messages <- msg:
		s.mu.Unlock()
		return true
	default:
	}
	s.mu.Unlock()

	s.Fail(common.NewConnectionError("subscriber fell behind", nil))
	return false
}

// Fail terminates the subscription with err.
func (s *BusSubscription) Fail(err error) {
	s.release(err)
}

// Close releases the subscription. Safe to call more than once.
func (s *BusSubscription) Close() error {
	s.release(nil)
	return nil
}

// Err is non-nil when the stream ended because of a failure.
func (s *BusSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *BusSubscription) release(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.messages)
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose()
	}
}
