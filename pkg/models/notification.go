package models

// Notification is the push message rendered for one committed LiveEvent.
type Notification struct {
	MatchID string    `json:"match_id"`
	EventID string    `json:"event_id"`
	Kind    EventKind `json:"kind"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	// Important marks kinds that warrant an interruptive push.
	Important bool `json:"important"`
	// Data is the persisted event shape, JSON encoded.
	Data []byte `json:"-"`
}
