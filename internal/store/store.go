package store

import (
	"context"
	"time"

	"livequeue/queue-service/internal/models"
)

// IssueTokenInput moves a location's last issued counter from ExpectedLast to
// ExpectedLast+1 and appends the matching token row.
type IssueTokenInput struct {
	LocationID   string
	ExpectedLast int64
	IssuedAt     time.Time
}

// AdvanceInput moves a location's current counter from ExpectedCurrent to
// ExpectedCurrent+1 and stamps served_at on that token.
type AdvanceInput struct {
	LocationID      string
	ExpectedCurrent int64
	ServedAt        time.Time
}

type ApproveRequestInput struct {
	RequestID    int64
	LocationID   string
	ExpectedLast int64
	ApprovedAt   time.Time
}

type CreateRequestInput struct {
	LocationID  string
	RequestedAt time.Time
}

// QueueStore is the storage contract behind the queue controller. Every
// method that writes a counter is atomic on its own and returns
// ErrConcurrencyConflict when the expected counter value no longer matches.
type QueueStore interface {
	ListLocations(ctx context.Context) ([]models.Location, error)
	GetLocation(ctx context.Context, locationID string) (models.Location, error)
	IssueToken(ctx context.Context, input IssueTokenInput) (models.Token, error)
	AdvanceCurrent(ctx context.Context, input AdvanceInput) (models.Token, error)
	ListTokens(ctx context.Context, locationID string) ([]models.Token, error)
	CreateRequest(ctx context.Context, input CreateRequestInput) (models.Request, error)
	GetRequest(ctx context.Context, requestID int64) (models.Request, error)
	ListPendingRequests(ctx context.Context, locationID string) ([]models.Request, error)
	ApproveRequest(ctx context.Context, input ApproveRequestInput) (models.Token, error)
	RejectRequest(ctx context.Context, requestID int64, decidedAt time.Time) (models.Request, bool, error)
}

// Seeder loads the location catalog. Existing counters are left untouched.
type Seeder interface {
	SeedLocations(ctx context.Context, locations []models.Location) error
}
