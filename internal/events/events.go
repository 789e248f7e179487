// Package events carries queue state changes to whoever displays or relays
// them. Events are published after the store commit; a failed publish never
// undoes the change it describes.
//
// Publication is not ordered across concurrent operations on a location. The
// counters on an Event are a snapshot taken at commit, so consumers should
// keep the largest CurrentToken and LastIssuedToken they have seen.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TypeTokenIssued      = "token.issued"
	TypeTokenServed      = "token.served"
	TypeRequestSubmitted = "request.submitted"
	TypeRequestApproved  = "request.approved"
	TypeRequestRejected  = "request.rejected"
)

type Event struct {
	EventID         string    `json:"event_id"`
	Type            string    `json:"type"`
	LocationID      string    `json:"location_id"`
	TokenNumber     int64     `json:"token_number,omitempty"`
	RequestID       int64     `json:"request_id,omitempty"`
	CurrentToken    int64     `json:"current_token"`
	LastIssuedToken int64     `json:"last_issued_token"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

func New(eventType, locationID string, occurredAt time.Time) Event {
	return Event{
		EventID:    uuid.NewString(),
		Type:       eventType,
		LocationID: locationID,
		OccurredAt: occurredAt,
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
