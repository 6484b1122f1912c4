package feed

import (
	"context"
	"sync"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

// DefaultBacklog is how many past events a new subscription loads.
const DefaultBacklog = 50

// Update is one committed event as delivered to a viewer, together with the
// match projection it produced.
type Update struct {
	Match *models.Match
	Event *models.LiveEvent
}

// Snapshot is the state a subscription starts from. Events are newest first.
type Snapshot struct {
	Match  *models.Match
	Events []*models.LiveEvent
}

// Reader 实时赛况读取器. Each Subscribe call opens an independent stream for
// one viewer.
type Reader struct {
	logger  common.Logger
	storage processing.DataStorage
	bus     processing.EventBus
	backlog int
}

// NewReader 创建读取器
func NewReader(logger common.Logger, storage processing.DataStorage, bus processing.EventBus, backlog int) *Reader {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Reader{
		logger:  logger,
		storage: storage,
		bus:     bus,
		backlog: backlog,
	}
}

// Subscribe attaches to the live stream first and loads the snapshot second,
// so no commit falls between the two. Events seen in both are delivered once.
// The caller must Close the subscription.
func (r *Reader) Subscribe(ctx context.Context, matchID string) (*Subscription, error) {
	busSub, err := r.bus.Subscribe(ctx, matchID)
	if err != nil {
		return nil, err
	}

	match, events, err := r.storage.GetSnapshot(ctx, matchID, r.backlog)
	if err != nil {
		busSub.Close()
		return nil, err
	}

	s := &Subscription{
		MatchID: matchID,
		logger:  r.logger,
		busSub:  busSub,
		backlog: r.backlog,
		updates: make(chan Update, processing.DefaultSubscriptionBuffer),
		done:    make(chan struct{}),
		seen:    make(map[string]struct{}, r.backlog),
		match:   match,
		log:     append([]*models.LiveEvent(nil), events...),
		snapshot: Snapshot{
			Match:  match.Clone(),
			Events: append([]*models.LiveEvent(nil), events...),
		},
	}
	// oldest first, so the newest snapshot ids are evicted last
	for i := len(events) - 1; i >= 0; i-- {
		s.remember(events[i].ID)
	}

	s.wg.Add(1)
	go s.run()

	r.logger.Debug("Viewer subscribed to match %s (%d events in snapshot)", matchID, len(events))
	return s, nil
}

// Subscription is one viewer's handle on a match. Updates is closed when the
// subscription ends; Err then reports a ConnectionError if the transport
// failed, or nil after Close.
type Subscription struct {
	MatchID string

	logger   common.Logger
	busSub   *processing.BusSubscription
	backlog  int
	snapshot Snapshot
	updates  chan Update
	done     chan struct{}

	// seen and log hold at most backlog entries; log is newest first.
	mu        sync.RWMutex
	seen      map[string]struct{}
	seenOrder []string
	match     *models.Match
	log       []*models.LiveEvent
	err       error

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Snapshot returns the state loaded when the subscription opened.
func (s *Subscription) Snapshot() Snapshot {
	return s.snapshot
}

// Updates streams events committed after the snapshot, each exactly once.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Match returns the latest known projection.
func (s *Subscription) Match() *models.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.match.Clone()
}

// Log returns the newest events known to this subscription, newest first.
func (s *Subscription) Log() []*models.LiveEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.LiveEvent(nil), s.log...)
}

func (s *Subscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Close releases the underlying stream and waits for the delivery goroutine.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.busSub.Close()
	})
	s.wg.Wait()
	return nil
}

func (s *Subscription) run() {
	defer s.wg.Done()
	defer close(s.updates)

	for msg := range s.busSub.Messages() {
		update, ok := s.record(msg)
		if !ok {
			continue
		}
		select {
		case s.updates <- update:
		case <-s.done:
			return
		}
	}

	if err := s.busSub.Err(); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.logger.Warn("Feed for match %s ended: %v", s.MatchID, err)
	}
}

// record folds msg into the local state and reports whether it is new. A
// duplicate still advances the projection, since the snapshot may carry an
// event whose score it read before the commit.
func (s *Subscription) record(msg *models.FeedMessage) (Update, bool) {
	if msg.Event == nil {
		return Update{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Match != nil && (s.match == nil || msg.Match.Version > s.match.Version) {
		s.match = msg.Match
	}

	if _, dup := s.seen[msg.Event.ID]; dup {
		return Update{}, false
	}
	s.remember(msg.Event.ID)

	s.log = append(s.log, msg.Event)
	models.SortNewestFirst(s.log)
	if len(s.log) > s.backlog {
		s.log[len(s.log)-1] = nil
		s.log = s.log[:s.backlog]
	}
	return Update{Match: s.match.Clone(), Event: msg.Event}, true
}

// remember must be called with s.mu held, or before run starts.
func (s *Subscription) remember(id string) {
	s.seen[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)
	if len(s.seenOrder) > s.backlog {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder[0] = ""
		s.seenOrder = s.seenOrder[1:]
	}
}
