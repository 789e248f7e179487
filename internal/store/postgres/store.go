package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"livequeue/queue-service/internal/models"
	"livequeue/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) SeedLocations(ctx context.Context, locations []models.Location) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	batch := &pgx.Batch{}
	for _, loc := range locations {
		batch.Queue(`
			INSERT INTO locations (location_id, name, category, image_ref)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (location_id) DO UPDATE
			SET name = EXCLUDED.name,
				category = EXCLUDED.category,
				image_ref = EXCLUDED.image_ref,
				updated_at = now()
		`, loc.LocationID, loc.Name, loc.Category, loc.ImageRef)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT location_id, name, category, image_ref, current_token, last_issued_token
		FROM locations
		ORDER BY category, location_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []models.Location
	for rows.Next() {
		var loc models.Location
		if err := rows.Scan(&loc.LocationID, &loc.Name, &loc.Category, &loc.ImageRef, &loc.CurrentToken, &loc.LastIssuedToken); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locations, nil
}

func (s *Store) GetLocation(ctx context.Context, locationID string) (models.Location, error) {
	return getLocation(ctx, s.pool, locationID)
}

func (s *Store) IssueToken(ctx context.Context, input store.IssueTokenInput) (token models.Token, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	number, err := bumpLastIssued(ctx, tx, input.LocationID, input.ExpectedLast)
	if err != nil {
		return models.Token{}, err
	}
	token, err = insertToken(ctx, tx, input.LocationID, number, nil, issuedAt(input.IssuedAt))
	if err != nil {
		return models.Token{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) AdvanceCurrent(ctx context.Context, input store.AdvanceInput) (token models.Token, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var next int64
	row := tx.QueryRow(ctx, `
		UPDATE locations
		SET current_token = current_token + 1, updated_at = now()
		WHERE location_id = $1 AND current_token = $2 AND current_token < last_issued_token
		RETURNING current_token
	`, input.LocationID, input.ExpectedCurrent)
	if err = row.Scan(&next); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, err
		}
		var loc models.Location
		loc, err = getLocation(ctx, tx, input.LocationID)
		if err != nil {
			return models.Token{}, err
		}
		if loc.CurrentToken != input.ExpectedCurrent {
			err = store.ErrConcurrencyConflict
		} else {
			err = store.ErrQueueEmpty
		}
		return models.Token{}, err
	}

	servedAt := issuedAt(input.ServedAt)
	var requestID sql.NullInt64
	var servedAtNull sql.NullTime
	row = tx.QueryRow(ctx, `
		UPDATE tokens
		SET served_at = $3
		WHERE location_id = $1 AND token_number = $2 AND served_at IS NULL
		RETURNING token_id, location_id, token_number, request_id, issued_at, served_at
	`, input.LocationID, next, servedAt)
	if err = row.Scan(&token.TokenID, &token.LocationID, &token.TokenNumber, &requestID, &token.IssuedAt, &servedAtNull); err != nil {
		return models.Token{}, err
	}
	token.RequestID = nullInt64Ptr(requestID)
	token.ServedAt = nullTimePtr(servedAtNull)

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) ListTokens(ctx context.Context, locationID string) ([]models.Token, error) {
	if _, err := getLocation(ctx, s.pool, locationID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT token_id, location_id, token_number, request_id, issued_at, served_at
		FROM tokens
		WHERE location_id = $1
		ORDER BY token_number ASC
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		var token models.Token
		var requestID sql.NullInt64
		var servedAtNull sql.NullTime
		if err := rows.Scan(&token.TokenID, &token.LocationID, &token.TokenNumber, &requestID, &token.IssuedAt, &servedAtNull); err != nil {
			return nil, err
		}
		token.RequestID = nullInt64Ptr(requestID)
		token.ServedAt = nullTimePtr(servedAtNull)
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *Store) CreateRequest(ctx context.Context, input store.CreateRequestInput) (models.Request, error) {
	request := models.Request{
		LocationID:  input.LocationID,
		Status:      models.RequestPending,
		RequestedAt: issuedAt(input.RequestedAt),
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO token_requests (location_id, status, requested_at)
		SELECT location_id, $2, $3 FROM locations WHERE location_id = $1
		RETURNING request_id
	`, input.LocationID, models.RequestPending, request.RequestedAt)
	if err := row.Scan(&request.RequestID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Request{}, store.ErrLocationNotFound
		}
		return models.Request{}, err
	}
	return request, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID int64) (models.Request, error) {
	return getRequest(ctx, s.pool, requestID, false)
}

func (s *Store) ListPendingRequests(ctx context.Context, locationID string) ([]models.Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, location_id, status, requested_at, decided_at, token_number
		FROM token_requests
		WHERE location_id = $1 AND status = $2
		ORDER BY requested_at ASC, request_id ASC
	`, locationID, models.RequestPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Store) ApproveRequest(ctx context.Context, input store.ApproveRequestInput) (token models.Token, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	request, err := getRequest(ctx, tx, input.RequestID, true)
	if err != nil {
		return models.Token{}, err
	}
	if request.LocationID != input.LocationID || !store.ValidTransition(store.ActionApprove, request.Status) {
		err = store.ErrRequestNotFound
		return models.Token{}, err
	}

	number, err := bumpLastIssued(ctx, tx, input.LocationID, input.ExpectedLast)
	if err != nil {
		return models.Token{}, err
	}
	approvedAt := issuedAt(input.ApprovedAt)
	requestID := input.RequestID
	token, err = insertToken(ctx, tx, input.LocationID, number, &requestID, approvedAt)
	if err != nil {
		return models.Token{}, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE token_requests
		SET status = $2, decided_at = $3, token_number = $4
		WHERE request_id = $1
	`, input.RequestID, store.TargetStatus(store.ActionApprove), approvedAt, number); err != nil {
		return models.Token{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) RejectRequest(ctx context.Context, requestID int64, decidedAt time.Time) (models.Request, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE token_requests
		SET status = $2, decided_at = $3
		WHERE request_id = $1 AND status = $4
		RETURNING request_id, location_id, status, requested_at, decided_at, token_number
	`, requestID, store.TargetStatus(store.ActionReject), issuedAt(decidedAt), models.RequestPending)
	request, err := scanRequest(row)
	if err == nil {
		return request, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Request{}, false, err
	}
	request, err = getRequest(ctx, s.pool, requestID, false)
	if err != nil {
		return models.Request{}, false, err
	}
	return request, false, nil
}

type querier interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

func getLocation(ctx context.Context, q querier, locationID string) (models.Location, error) {
	var loc models.Location
	row := q.QueryRow(ctx, `
		SELECT location_id, name, category, image_ref, current_token, last_issued_token
		FROM locations
		WHERE location_id = $1
	`, locationID)
	if err := row.Scan(&loc.LocationID, &loc.Name, &loc.Category, &loc.ImageRef, &loc.CurrentToken, &loc.LastIssuedToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Location{}, store.ErrLocationNotFound
		}
		return models.Location{}, err
	}
	return loc, nil
}

func getRequest(ctx context.Context, q querier, requestID int64, forUpdate bool) (models.Request, error) {
	query := `
		SELECT request_id, location_id, status, requested_at, decided_at, token_number
		FROM token_requests
		WHERE request_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	request, err := scanRequest(q.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Request{}, store.ErrRequestNotFound
		}
		return models.Request{}, err
	}
	return request, nil
}

func scanRequest(row pgx.Row) (models.Request, error) {
	var request models.Request
	var decidedAtNull sql.NullTime
	var tokenNumberNull sql.NullInt64
	if err := row.Scan(&request.RequestID, &request.LocationID, &request.Status, &request.RequestedAt, &decidedAtNull, &tokenNumberNull); err != nil {
		return models.Request{}, err
	}
	request.DecidedAt = nullTimePtr(decidedAtNull)
	request.TokenNumber = nullInt64Ptr(tokenNumberNull)
	return request, nil
}

// bumpLastIssued moves last_issued_token from expected to expected+1 and
// returns the new value.
func bumpLastIssued(ctx context.Context, tx pgx.Tx, locationID string, expected int64) (int64, error) {
	var number int64
	row := tx.QueryRow(ctx, `
		UPDATE locations
		SET last_issued_token = last_issued_token + 1, updated_at = now()
		WHERE location_id = $1 AND last_issued_token = $2
		RETURNING last_issued_token
	`, locationID, expected)
	if err := row.Scan(&number); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, err
		}
		if _, err := getLocation(ctx, tx, locationID); err != nil {
			return 0, err
		}
		return 0, store.ErrConcurrencyConflict
	}
	return number, nil
}

func insertToken(ctx context.Context, tx pgx.Tx, locationID string, number int64, requestID *int64, at time.Time) (models.Token, error) {
	token := models.Token{
		LocationID:  locationID,
		TokenNumber: number,
		RequestID:   requestID,
		IssuedAt:    at,
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO tokens (location_id, token_number, request_id, issued_at)
		VALUES ($1, $2, $3, $4)
		RETURNING token_id
	`, locationID, number, requestID, at)
	if err := row.Scan(&token.TokenID); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func issuedAt(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	return &value.Int64
}
