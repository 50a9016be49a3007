package services

import (
	"sync"

	"points-reward-system/models"
)

// BalanceEvent is pushed to live clients after a ledger mutation commits.
// Delivery is best-effort: a missed event never affects correctness because
// the balance is always re-derivable from the ledger.
type BalanceEvent struct {
	AccountID string           `json:"userId"`
	Balance   int64            `json:"balance"`
	Kind      models.EntryKind `json:"kind"`
}

// Relay fans balance events out to live subscriptions (SSE and WebSocket).
// Publish never blocks: a subscriber that can't keep up loses events rather
// than stalling the publisher.
type Relay struct {
	mu   sync.RWMutex
	subs map[string]map[chan BalanceEvent]struct{}
}

func NewRelay() *Relay {
	return &Relay{subs: make(map[string]map[chan BalanceEvent]struct{})}
}

// Subscribe registers a buffered channel for one account's events.
// Callers must Unsubscribe when the connection closes.
func (r *Relay) Subscribe(accountID string) chan BalanceEvent {
	ch := make(chan BalanceEvent, 8)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[accountID] == nil {
		r.subs[accountID] = make(map[chan BalanceEvent]struct{})
	}
	r.subs[accountID][ch] = struct{}{}
	return ch
}

func (r *Relay) Unsubscribe(accountID string, ch chan BalanceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.subs[accountID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(r.subs, accountID)
		}
	}
}

// Publish delivers at most once per subscriber, dropping on a full buffer.
func (r *Relay) Publish(ev BalanceEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs[ev.AccountID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
