// Package events provides the in-process event bus for observable side
// effects of the consensus core: submissions, consensus rounds, weight
// adjustments, slashes and suspensions. Delivery is synchronous fan-out,
// at-least-once per triggering call.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies an event.
type Type string

const (
	TypeSubmissionRecorded Type = "submission.recorded"
	TypeConsensusReached   Type = "consensus.reached"
	TypeWeightAdjusted     Type = "weight.adjusted"
	TypeSourceSlashed      Type = "source.slashed"
	TypeSourceSuspended    Type = "source.suspended"
	TypeSourceRegistered   Type = "source.registered"
	TypeSourceRemoved      Type = "source.removed"
	TypeSourceReinstated   Type = "source.reinstated"
	TypeSubmissionsPaused  Type = "submissions.paused"

	TypeProposalCreated   Type = "governance.proposal_created"
	TypeVoteCast          Type = "governance.vote_cast"
	TypeProposalExecuted  Type = "governance.proposal_executed"
	TypeProposalFailed    Type = "governance.proposal_failed"
	TypeProposalCancelled Type = "governance.proposal_cancelled"
	TypeStakeChanged      Type = "governance.stake_changed"
)

// Event is a structured record of an observable effect.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SourceID  string         `json:"source_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Handler consumes published events. Handlers must not block; slow consumers
// should queue internally.
type Handler func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish delivers the event to every subscriber. Missing ID and timestamp
// are filled in.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

// Emit is shorthand for publishing a typed event about a source.
func (b *Bus) Emit(t Type, sourceID string, fields map[string]any) {
	b.Publish(Event{Type: t, SourceID: sourceID, Fields: fields})
}
