package memory

import (
	"context"
	"testing"
	"time"

	"livequeue/queue-service/internal/models"
	"livequeue/queue-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	st := NewStore()
	require.NoError(t, st.SeedLocations(context.Background(), []models.Location{
		{LocationID: "hospital-1", Name: "Hospital 1", Category: models.CategoryHospital},
		{LocationID: "hotel-1", Name: "Hotel 1", Category: models.CategoryHotel},
	}))
	return st
}

func TestIssueTokenCompareAndSet(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	now := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)

	token, err := st.IssueToken(ctx, store.IssueTokenInput{LocationID: "hospital-1", ExpectedLast: 0, IssuedAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(1), token.TokenNumber)
	assert.Nil(t, token.ServedAt)

	_, err = st.IssueToken(ctx, store.IssueTokenInput{LocationID: "hospital-1", ExpectedLast: 0, IssuedAt: now})
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)

	loc, err := st.GetLocation(ctx, "hospital-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loc.LastIssuedToken)

	_, err = st.IssueToken(ctx, store.IssueTokenInput{LocationID: "nowhere", IssuedAt: now})
	assert.ErrorIs(t, err, store.ErrLocationNotFound)
}

func TestAdvanceCurrent(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	now := time.Now().UTC()

	_, err := st.AdvanceCurrent(ctx, store.AdvanceInput{LocationID: "hotel-1", ExpectedCurrent: 0, ServedAt: now})
	assert.ErrorIs(t, err, store.ErrQueueEmpty)

	_, err = st.IssueToken(ctx, store.IssueTokenInput{LocationID: "hotel-1", ExpectedLast: 0, IssuedAt: now})
	require.NoError(t, err)

	_, err = st.AdvanceCurrent(ctx, store.AdvanceInput{LocationID: "hotel-1", ExpectedCurrent: 1, ServedAt: now})
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)

	served, err := st.AdvanceCurrent(ctx, store.AdvanceInput{LocationID: "hotel-1", ExpectedCurrent: 0, ServedAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(1), served.TokenNumber)
	require.NotNil(t, served.ServedAt)
	assert.True(t, served.ServedAt.Equal(now))

	tokens, err := st.ListTokens(ctx, "hotel-1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.NotNil(t, tokens[0].ServedAt)
}

func TestApproveAndRejectRequests(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	now := time.Now().UTC()

	first, err := st.CreateRequest(ctx, store.CreateRequestInput{LocationID: "hospital-1", RequestedAt: now})
	require.NoError(t, err)
	second, err := st.CreateRequest(ctx, store.CreateRequestInput{LocationID: "hospital-1", RequestedAt: now.Add(time.Second)})
	require.NoError(t, err)

	pending, err := st.ListPendingRequests(ctx, "hospital-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.RequestID, pending[0].RequestID)

	rejected, changed, err := st.RejectRequest(ctx, first.RequestID, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.RequestRejected, rejected.Status)

	_, err = st.ApproveRequest(ctx, store.ApproveRequestInput{RequestID: first.RequestID, LocationID: "hospital-1", ExpectedLast: 0, ApprovedAt: now})
	assert.ErrorIs(t, err, store.ErrRequestNotFound)

	_, err = st.ApproveRequest(ctx, store.ApproveRequestInput{RequestID: second.RequestID, LocationID: "hotel-1", ExpectedLast: 0, ApprovedAt: now})
	assert.ErrorIs(t, err, store.ErrRequestNotFound)

	token, err := st.ApproveRequest(ctx, store.ApproveRequestInput{RequestID: second.RequestID, LocationID: "hospital-1", ExpectedLast: 0, ApprovedAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(1), token.TokenNumber)
	require.NotNil(t, token.RequestID)
	assert.Equal(t, second.RequestID, *token.RequestID)

	approved, err := st.GetRequest(ctx, second.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, approved.Status)
	require.NotNil(t, approved.TokenNumber)
	assert.Equal(t, int64(1), *approved.TokenNumber)

	again, changed, err := st.RejectRequest(ctx, second.RequestID, now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.RequestApproved, again.Status)

	_, err = st.GetRequest(ctx, 999)
	assert.ErrorIs(t, err, store.ErrRequestNotFound)
}

func TestSeedKeepsCounters(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)

	_, err := st.IssueToken(ctx, store.IssueTokenInput{LocationID: "hospital-1", ExpectedLast: 0, IssuedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, st.SeedLocations(ctx, []models.Location{
		{LocationID: "hospital-1", Name: "General Hospital", Category: models.CategoryHospital, LastIssuedToken: 0},
	}))

	loc, err := st.GetLocation(ctx, "hospital-1")
	require.NoError(t, err)
	assert.Equal(t, "General Hospital", loc.Name)
	assert.Equal(t, int64(1), loc.LastIssuedToken)

	all, err := st.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "hospital-1", all[0].LocationID)
	assert.Equal(t, "hotel-1", all[1].LocationID)
}

func TestApproveWithStaleExpectationConflicts(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	now := time.Now().UTC()

	request, err := st.CreateRequest(ctx, store.CreateRequestInput{LocationID: "hotel-1", RequestedAt: now})
	require.NoError(t, err)
	_, err = st.IssueToken(ctx, store.IssueTokenInput{LocationID: "hotel-1", ExpectedLast: 0, IssuedAt: now})
	require.NoError(t, err)

	_, err = st.ApproveRequest(ctx, store.ApproveRequestInput{RequestID: request.RequestID, LocationID: "hotel-1", ExpectedLast: 0, ApprovedAt: now})
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)

	stored, err := st.GetRequest(ctx, request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, stored.Status)
	assert.Nil(t, stored.TokenNumber)
	tokens, err := st.ListTokens(ctx, "hotel-1")
	require.NoError(t, err)
	assert.Len(t, tokens, 1)

	token, err := st.ApproveRequest(ctx, store.ApproveRequestInput{RequestID: request.RequestID, LocationID: "hotel-1", ExpectedLast: 1, ApprovedAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(2), token.TokenNumber)
}

func TestPendingRequestsOrderedByRequestTime(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	now := time.Now().UTC()

	late, err := st.CreateRequest(ctx, store.CreateRequestInput{LocationID: "hospital-1", RequestedAt: now.Add(time.Minute)})
	require.NoError(t, err)
	early, err := st.CreateRequest(ctx, store.CreateRequestInput{LocationID: "hospital-1", RequestedAt: now})
	require.NoError(t, err)
	tie, err := st.CreateRequest(ctx, store.CreateRequestInput{LocationID: "hospital-1", RequestedAt: now})
	require.NoError(t, err)

	pending, err := st.ListPendingRequests(ctx, "hospital-1")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []int64{early.RequestID, tie.RequestID, late.RequestID},
		[]int64{pending[0].RequestID, pending[1].RequestID, pending[2].RequestID})
}
