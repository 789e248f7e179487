package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"livequeue/queue-service/internal/events"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageCarriesEventMetadata(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	event := events.New(events.TypeRequestApproved, "hotel-4", at)
	event.RequestID = 12
	event.TokenNumber = 3

	msg, err := message(event)
	require.NoError(t, err)

	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, event.EventID, msg.MessageId)
	assert.Equal(t, events.TypeRequestApproved, msg.Type)
	assert.Equal(t, at, msg.Timestamp)
	assert.Equal(t, "hotel-4", msg.Headers["location_id"])

	var decoded events.Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, int64(12), decoded.RequestID)
	assert.Equal(t, int64(3), decoded.TokenNumber)
}

func TestDialRejectsMalformedURL(t *testing.T) {
	_, err := Dial("not-a-url", "")
	assert.Error(t, err)
}

// pendingConfirm resolves once the fake broker answers its delivery.
type pendingConfirm struct {
	done  chan struct{}
	acked bool
}

func (c *pendingConfirm) WaitContext(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.done:
		return c.acked, nil
	}
}

type fakeChannel struct {
	mu         sync.Mutex
	keys       []string
	deliveries []*pendingConfirm
}

func (c *fakeChannel) publish(_ context.Context, _, key string, _ amqp.Publishing) (confirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conf := &pendingConfirm{done: make(chan struct{})}
	c.keys = append(c.keys, key)
	c.deliveries = append(c.deliveries, conf)
	return conf, nil
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) answer(tag int, acked bool) {
	c.mu.Lock()
	conf := c.deliveries[tag]
	c.mu.Unlock()
	conf.acked = acked
	close(conf.done)
}

func TestLateConfirmDoesNotAnswerNextPublish(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch, exchange: DefaultExchange}
	at := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Publish(ctx, events.New(events.TypeTokenIssued, "hospital-1", at))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The first delivery is acked only after its caller gave up.
	ch.answer(0, true)

	errs := make(chan error, 1)
	go func() {
		errs <- p.Publish(context.Background(), events.New(events.TypeTokenServed, "hospital-1", at))
	}()
	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.deliveries) == 2
	}, time.Second, time.Millisecond)
	ch.answer(1, false)

	assert.ErrorIs(t, <-errs, ErrNack)
	assert.Equal(t, []string{events.TypeTokenIssued, events.TypeTokenServed}, ch.keys)
}

func TestPublishAcked(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch, exchange: DefaultExchange}

	errs := make(chan error, 1)
	go func() {
		errs <- p.Publish(context.Background(), events.New(events.TypeRequestSubmitted, "hotel-2", time.Now().UTC()))
	}()
	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.deliveries) == 1
	}, time.Second, time.Millisecond)
	ch.answer(0, true)

	assert.NoError(t, <-errs)
}
