// Package queue implements the token lifecycle for every location: direct
// issuance, serving in ascending order, and the request/approval workflow.
//
// Counter writes go through the store as compare-and-set operations. When a
// write loses a race the controller re-reads the location and tries again, up
// to a bounded number of retries.
package queue

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"math/rand/v2"
	"time"

	"livequeue/queue-service/internal/events"
	"livequeue/queue-service/internal/models"
	"livequeue/queue-service/internal/store"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxRetries = 5
	retryBaseDelay    = 2 * time.Millisecond
	publishTimeout    = 3 * time.Second
)

var (
	tokensIssued = expvar.NewInt("tokens_issued_total")
	tokensServed = expvar.NewInt("tokens_served_total")
	conflicts    = expvar.NewInt("counter_conflicts_total")
)

type Options struct {
	MaxRetries int
	Publisher  events.Publisher
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

type Controller struct {
	store      store.QueueStore
	maxRetries int
	publisher  events.Publisher
	log        logrus.FieldLogger
	now        func() time.Time
	tracer     trace.Tracer
}

func NewController(st store.QueueStore, options Options) *Controller {
	retries := options.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	publisher := options.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{
		store:      st,
		maxRetries: retries,
		publisher:  publisher,
		log:        logger,
		now:        now,
		tracer:     otel.Tracer("livequeue/queue-service/queue"),
	}
}

func (c *Controller) ListLocations(ctx context.Context) ([]models.Location, error) {
	return c.store.ListLocations(ctx)
}

func (c *Controller) GetLocation(ctx context.Context, locationID string) (models.Location, error) {
	return c.store.GetLocation(ctx, locationID)
}

// IssueToken hands out the next number for a location.
func (c *Controller) IssueToken(ctx context.Context, locationID string) (token models.Token, err error) {
	ctx, span := c.tracer.Start(ctx, "queue.IssueToken", trace.WithAttributes(attribute.String("location.id", locationID)))
	defer func() { endSpan(span, err) }()

	var loc models.Location
	err = c.retry(ctx, "issue token", logrus.Fields{"location_id": locationID}, func() error {
		var attemptErr error
		loc, attemptErr = c.store.GetLocation(ctx, locationID)
		if attemptErr != nil {
			return attemptErr
		}
		token, attemptErr = c.store.IssueToken(ctx, store.IssueTokenInput{
			LocationID:   locationID,
			ExpectedLast: loc.LastIssuedToken,
			IssuedAt:     c.now(),
		})
		return attemptErr
	})
	if err != nil {
		return models.Token{}, err
	}

	tokensIssued.Add(1)
	loc.LastIssuedToken = token.TokenNumber
	span.SetAttributes(
		attribute.Int64("token.number", token.TokenNumber),
		attribute.Int64("queue.waiting", loc.Waiting()),
	)
	event := events.New(events.TypeTokenIssued, locationID, token.IssuedAt)
	event.TokenNumber = token.TokenNumber
	event.CurrentToken = loc.CurrentToken
	event.LastIssuedToken = token.TokenNumber
	c.publish(ctx, event)
	return token, nil
}

// ServeNext advances the location's current pointer by one and stamps the
// served token. It returns store.ErrQueueEmpty when every issued token has
// already been served.
func (c *Controller) ServeNext(ctx context.Context, locationID string) (token models.Token, err error) {
	ctx, span := c.tracer.Start(ctx, "queue.ServeNext", trace.WithAttributes(attribute.String("location.id", locationID)))
	defer func() { endSpan(span, err) }()

	var loc models.Location
	err = c.retry(ctx, "serve next", logrus.Fields{"location_id": locationID}, func() error {
		var attemptErr error
		loc, attemptErr = c.store.GetLocation(ctx, locationID)
		if attemptErr != nil {
			return attemptErr
		}
		if loc.CurrentToken >= loc.LastIssuedToken {
			return store.ErrQueueEmpty
		}
		token, attemptErr = c.store.AdvanceCurrent(ctx, store.AdvanceInput{
			LocationID:      locationID,
			ExpectedCurrent: loc.CurrentToken,
			ServedAt:        c.now(),
		})
		return attemptErr
	})
	if err != nil {
		return models.Token{}, err
	}

	tokensServed.Add(1)
	span.SetAttributes(
		attribute.Int64("token.number", token.TokenNumber),
		attribute.Int64("queue.waiting", loc.Waiting()-1),
	)
	servedAt := c.now()
	if token.ServedAt != nil {
		servedAt = *token.ServedAt
	}
	event := events.New(events.TypeTokenServed, locationID, servedAt)
	event.TokenNumber = token.TokenNumber
	event.CurrentToken = token.TokenNumber
	event.LastIssuedToken = loc.LastIssuedToken
	c.publish(ctx, event)
	return token, nil
}

// GetTokenHistory lists a location's tokens in ascending number order.
func (c *Controller) GetTokenHistory(ctx context.Context, locationID string) ([]models.Token, error) {
	if _, err := c.store.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}
	return c.store.ListTokens(ctx, locationID)
}

// SubmitRequest records a visitor's ask for a token. No number is consumed
// until an administrator approves it.
func (c *Controller) SubmitRequest(ctx context.Context, locationID string) (request models.Request, err error) {
	ctx, span := c.tracer.Start(ctx, "queue.SubmitRequest", trace.WithAttributes(attribute.String("location.id", locationID)))
	defer func() { endSpan(span, err) }()

	request, err = c.store.CreateRequest(ctx, store.CreateRequestInput{
		LocationID:  locationID,
		RequestedAt: c.now(),
	})
	if err != nil {
		return models.Request{}, err
	}
	span.SetAttributes(attribute.Int64("request.id", request.RequestID))

	event := events.New(events.TypeRequestSubmitted, locationID, request.RequestedAt)
	event.RequestID = request.RequestID
	c.publish(ctx, event)
	return request, nil
}

func (c *Controller) ListPendingRequests(ctx context.Context, locationID string) ([]models.Request, error) {
	if _, err := c.store.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}
	return c.store.ListPendingRequests(ctx, locationID)
}

func (c *Controller) GetRequest(ctx context.Context, requestID int64) (models.Request, error) {
	return c.store.GetRequest(ctx, requestID)
}

// ApproveRequest turns a pending request into a token. Approving a request
// that is no longer pending fails with store.ErrRequestNotFound, so a retried
// administrator action cannot issue twice.
func (c *Controller) ApproveRequest(ctx context.Context, requestID int64) (token models.Token, err error) {
	ctx, span := c.tracer.Start(ctx, "queue.ApproveRequest", trace.WithAttributes(attribute.Int64("request.id", requestID)))
	defer func() { endSpan(span, err) }()

	var loc models.Location
	fields := logrus.Fields{"request_id": requestID}
	err = c.retry(ctx, "approve request", fields, func() error {
		request, attemptErr := c.store.GetRequest(ctx, requestID)
		if attemptErr != nil {
			return attemptErr
		}
		fields["location_id"] = request.LocationID
		if !store.ValidTransition(store.ActionApprove, request.Status) {
			return store.ErrRequestNotFound
		}
		loc, attemptErr = c.store.GetLocation(ctx, request.LocationID)
		if attemptErr != nil {
			return attemptErr
		}
		token, attemptErr = c.store.ApproveRequest(ctx, store.ApproveRequestInput{
			RequestID:    requestID,
			LocationID:   request.LocationID,
			ExpectedLast: loc.LastIssuedToken,
			ApprovedAt:   c.now(),
		})
		return attemptErr
	})
	if err != nil {
		return models.Token{}, err
	}

	tokensIssued.Add(1)
	span.SetAttributes(
		attribute.String("location.id", token.LocationID),
		attribute.Int64("token.number", token.TokenNumber),
	)
	event := events.New(events.TypeRequestApproved, token.LocationID, token.IssuedAt)
	event.RequestID = requestID
	event.TokenNumber = token.TokenNumber
	event.CurrentToken = loc.CurrentToken
	event.LastIssuedToken = token.TokenNumber
	c.publish(ctx, event)
	return token, nil
}

// RejectRequest closes a pending request without issuing anything. Rejecting
// a request that already reached a terminal state returns it unchanged.
func (c *Controller) RejectRequest(ctx context.Context, requestID int64) (request models.Request, err error) {
	ctx, span := c.tracer.Start(ctx, "queue.RejectRequest", trace.WithAttributes(attribute.Int64("request.id", requestID)))
	defer func() { endSpan(span, err) }()

	request, changed, err := c.store.RejectRequest(ctx, requestID, c.now())
	if err != nil {
		return models.Request{}, err
	}
	if !changed {
		return request, nil
	}

	occurredAt := c.now()
	if request.DecidedAt != nil {
		occurredAt = *request.DecidedAt
	}
	event := events.New(events.TypeRequestRejected, request.LocationID, occurredAt)
	event.RequestID = request.RequestID
	c.publish(ctx, event)
	return request, nil
}

// retry runs attempt until it stops losing compare-and-set races. fields are
// read on every logged retry, so attempt may fill them in as it learns more.
func (c *Controller) retry(ctx context.Context, op string, fields logrus.Fields, attempt func() error) error {
	for i := 0; ; i++ {
		err := attempt()
		if !errors.Is(err, store.ErrConcurrencyConflict) {
			return err
		}
		conflicts.Add(1)
		if i >= c.maxRetries {
			return fmt.Errorf("%s: %w: %w", op, store.ErrRetriesExhausted, err)
		}
		c.log.WithFields(fields).WithFields(logrus.Fields{
			"op":      op,
			"attempt": i + 1,
		}).Debug("counter conflict, retrying")

		delay := retryBaseDelay << min(i, 6)
		timer := time.NewTimer(delay/2 + rand.N(delay/2+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Controller) publish(ctx context.Context, event events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.log.WithFields(logrus.Fields{
			"event_type":  event.Type,
			"location_id": event.LocationID,
			"event_id":    event.EventID,
		}).WithError(err).Warn("event publish failed")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, store.ErrQueueEmpty) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
