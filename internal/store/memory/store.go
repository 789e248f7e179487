// Package memory is an in-process QueueStore. Each location carries its own
// mutex, so operations on different locations never wait on each other.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"livequeue/queue-service/internal/models"
	"livequeue/queue-service/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	locations map[string]*locationState
	requests  map[int64]*locationState

	nextTokenID   atomic.Int64
	nextRequestID atomic.Int64
}

type locationState struct {
	mu       sync.Mutex
	location models.Location
	tokens   []models.Token
	requests []models.Request
	byID     map[int64]int
}

func NewStore() *Store {
	return &Store{
		locations: make(map[string]*locationState),
		requests:  make(map[int64]*locationState),
	}
}

func (s *Store) SeedLocations(ctx context.Context, locations []models.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, loc := range locations {
		state, ok := s.locations[loc.LocationID]
		if !ok {
			loc.CurrentToken = 0
			loc.LastIssuedToken = 0
			s.locations[loc.LocationID] = &locationState{location: loc, byID: make(map[int64]int)}
			continue
		}
		state.mu.Lock()
		state.location.Name = loc.Name
		state.location.Category = loc.Category
		state.location.ImageRef = loc.ImageRef
		state.mu.Unlock()
	}
	return nil
}

func (s *Store) ListLocations(ctx context.Context) ([]models.Location, error) {
	s.mu.RLock()
	states := make([]*locationState, 0, len(s.locations))
	for _, state := range s.locations {
		states = append(states, state)
	}
	s.mu.RUnlock()

	locations := make([]models.Location, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		locations = append(locations, state.location)
		state.mu.Unlock()
	}
	sort.Slice(locations, func(i, j int) bool {
		if locations[i].Category != locations[j].Category {
			return locations[i].Category < locations[j].Category
		}
		return locations[i].LocationID < locations[j].LocationID
	})
	return locations, nil
}

func (s *Store) GetLocation(ctx context.Context, locationID string) (models.Location, error) {
	state, err := s.location(locationID)
	if err != nil {
		return models.Location{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.location, nil
}

func (s *Store) IssueToken(ctx context.Context, input store.IssueTokenInput) (models.Token, error) {
	state, err := s.location(input.LocationID)
	if err != nil {
		return models.Token{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.location.LastIssuedToken != input.ExpectedLast {
		return models.Token{}, store.ErrConcurrencyConflict
	}
	return s.appendToken(state, input.IssuedAt, nil), nil
}

func (s *Store) AdvanceCurrent(ctx context.Context, input store.AdvanceInput) (models.Token, error) {
	state, err := s.location(input.LocationID)
	if err != nil {
		return models.Token{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.location.CurrentToken != input.ExpectedCurrent {
		return models.Token{}, store.ErrConcurrencyConflict
	}
	if state.location.CurrentToken >= state.location.LastIssuedToken {
		return models.Token{}, store.ErrQueueEmpty
	}

	next := state.location.CurrentToken + 1
	// Numbers are gap free, so token n lives at index n-1.
	token := &state.tokens[next-1]
	servedAt := input.ServedAt
	token.ServedAt = &servedAt
	state.location.CurrentToken = next
	return *token, nil
}

func (s *Store) ListTokens(ctx context.Context, locationID string) ([]models.Token, error) {
	state, err := s.location(locationID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	tokens := make([]models.Token, len(state.tokens))
	copy(tokens, state.tokens)
	return tokens, nil
}

func (s *Store) CreateRequest(ctx context.Context, input store.CreateRequestInput) (models.Request, error) {
	state, err := s.location(input.LocationID)
	if err != nil {
		return models.Request{}, err
	}

	state.mu.Lock()
	request := models.Request{
		RequestID:   s.nextRequestID.Add(1),
		LocationID:  input.LocationID,
		Status:      models.RequestPending,
		RequestedAt: input.RequestedAt,
	}
	state.byID[request.RequestID] = len(state.requests)
	state.requests = append(state.requests, request)
	state.mu.Unlock()

	s.mu.Lock()
	s.requests[request.RequestID] = state
	s.mu.Unlock()
	return request, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID int64) (models.Request, error) {
	state, err := s.requestOwner(requestID)
	if err != nil {
		return models.Request{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.requests[state.byID[requestID]], nil
}

func (s *Store) ListPendingRequests(ctx context.Context, locationID string) ([]models.Request, error) {
	state, err := s.location(locationID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	var pending []models.Request
	for _, request := range state.requests {
		if request.Status == models.RequestPending {
			pending = append(pending, request)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].RequestedAt.Equal(pending[j].RequestedAt) {
			return pending[i].RequestedAt.Before(pending[j].RequestedAt)
		}
		return pending[i].RequestID < pending[j].RequestID
	})
	return pending, nil
}

func (s *Store) ApproveRequest(ctx context.Context, input store.ApproveRequestInput) (models.Token, error) {
	state, err := s.requestOwner(input.RequestID)
	if err != nil {
		return models.Token{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	request := &state.requests[state.byID[input.RequestID]]
	if request.LocationID != input.LocationID || !store.ValidTransition(store.ActionApprove, request.Status) {
		return models.Token{}, store.ErrRequestNotFound
	}
	if state.location.LastIssuedToken != input.ExpectedLast {
		return models.Token{}, store.ErrConcurrencyConflict
	}

	requestID := request.RequestID
	token := s.appendToken(state, input.ApprovedAt, &requestID)
	approvedAt := input.ApprovedAt
	number := token.TokenNumber
	request.Status = store.TargetStatus(store.ActionApprove)
	request.DecidedAt = &approvedAt
	request.TokenNumber = &number
	return token, nil
}

func (s *Store) RejectRequest(ctx context.Context, requestID int64, decidedAt time.Time) (models.Request, bool, error) {
	state, err := s.requestOwner(requestID)
	if err != nil {
		return models.Request{}, false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	request := &state.requests[state.byID[requestID]]
	if !store.ValidTransition(store.ActionReject, request.Status) {
		return *request, false, nil
	}
	request.Status = store.TargetStatus(store.ActionReject)
	request.DecidedAt = &decidedAt
	return *request, true, nil
}

// appendToken must be called with state.mu held.
func (s *Store) appendToken(state *locationState, issuedAt time.Time, requestID *int64) models.Token {
	state.location.LastIssuedToken++
	token := models.Token{
		TokenID:     s.nextTokenID.Add(1),
		LocationID:  state.location.LocationID,
		TokenNumber: state.location.LastIssuedToken,
		RequestID:   requestID,
		IssuedAt:    issuedAt,
	}
	state.tokens = append(state.tokens, token)
	return token
}

func (s *Store) location(locationID string) (*locationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.locations[locationID]
	if !ok {
		return nil, store.ErrLocationNotFound
	}
	return state, nil
}

func (s *Store) requestOwner(requestID int64) (*locationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.requests[requestID]
	if !ok {
		return nil, store.ErrRequestNotFound
	}
	return state, nil
}
