package amqpgw

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
	"github.com/cuongbtq/repairshop-worker/shared/logger"
)

type published struct {
	routingKey string
	body       []byte
}

type fakeBroker struct {
	mu         sync.Mutex
	published  []published
	publishErr error
	deliveries chan amqp.Delivery
	canceled   bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{deliveries: make(chan amqp.Delivery)}
}

func (b *fakeBroker) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{routingKey: routingKey, body: body})
	return nil
}

func (b *fakeBroker) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	return b.deliveries, nil
}

func (b *fakeBroker) Cancel(consumerTag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled = true
	return nil
}

// fakeAcker records acknowledgements by delivery tag
type fakeAcker struct {
	mu    sync.Mutex
	acks  []uint64
	nacks map[uint64]bool
}

func newFakeAcker() *fakeAcker {
	return &fakeAcker{nacks: make(map[uint64]bool)}
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks[tag] = requeue
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) nacked(tag uint64) (requeue, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	requeue, ok = a.nacks[tag]
	return requeue, ok
}

func newGateway(b *fakeBroker) *Gateway {
	return New(&Config{Broker: b, Logger: logger.Discard(), ConsumerTag: "worker-test"})
}

func TestDecodeActivation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, job domain.Job)
	}{
		{
			name: "full activation",
			body: `{"key":"2251799813685251","type":"FinalQuote","processInstanceKey":"2251799813685249","retries":3,` +
				`"variables":{"RepairCosts":500,"isMember":true},"deadline":"2025-03-26T10:00:00Z"}`,
			check: func(t *testing.T, job domain.Job) {
				assert.Equal(t, "2251799813685251", job.Key)
				assert.Equal(t, "FinalQuote", job.Type)
				assert.Equal(t, "2251799813685249", job.ProcessInstanceKey)
				assert.Equal(t, uint(3), job.Retries)
				assert.InDelta(t, 500.0, variables.ResolveNumber(job.Variables, variables.Keys("RepairCosts")), 1e-9)
				assert.True(t, variables.ResolveBool(job.Variables, variables.Keys("isMember")))
				assert.True(t, time.Date(2025, 3, 26, 10, 0, 0, 0, time.UTC).Equal(job.Deadline))
			},
		},
		{
			name: "zero retries and no variables",
			body: `{"key":"k1","type":"validateTrips","processInstanceKey":"p1","retries":0}`,
			check: func(t *testing.T, job domain.Job) {
				assert.Equal(t, uint(0), job.Retries)
				assert.Equal(t, 0, job.Variables.Len())
				assert.True(t, job.Deadline.IsZero())
			},
		},
		{name: "not json", body: `job 42`, wantErr: true},
		{name: "missing key", body: `{"type":"FinalQuote","retries":1}`, wantErr: true},
		{name: "missing type", body: `{"key":"k1","retries":1}`, wantErr: true},
		{name: "missing retries", body: `{"key":"k1","type":"FinalQuote"}`, wantErr: true},
		{name: "variables not an object", body: `{"key":"k1","type":"FinalQuote","retries":1,"variables":[1]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := DecodeActivation([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			tt.check(t, job)
		})
	}
}

func TestEncodeActivation_RoundTrip(t *testing.T) {
	job := domain.Job{
		Key:                "k9",
		Type:               "TowRequest",
		ProcessInstanceKey: "p9",
		Retries:            2,
		Variables:          variables.NewBuilder().SetString("Make", "Ford").Build(),
	}

	body, err := EncodeActivation(job)
	require.NoError(t, err)

	got, err := DecodeActivation(body)
	require.NoError(t, err)
	assert.Equal(t, job.Key, got.Key)
	assert.Equal(t, job.Retries, got.Retries)
	assert.Equal(t, "Ford", variables.ResolveString(got.Variables, variables.Keys("Make")))
}

func TestJobRoutingKeys(t *testing.T) {
	assert.Equal(t,
		[]string{"jobs.FinalQuote", "jobs.stripe-invoice"},
		JobRoutingKeys([]string{"FinalQuote", "stripe-invoice"}),
	)
}

func TestGateway_Commands(t *testing.T) {
	b := newFakeBroker()
	g := newGateway(b)
	ctx := context.Background()

	vars := variables.NewBuilder().SetNumber("finalPrice", 450).Build()
	require.NoError(t, g.CompleteJob(ctx, "k1", vars))
	require.NoError(t, g.FailJob(ctx, "k2", 2, "invoicing provider returned 502"))
	require.NoError(t, g.ThrowError(ctx, "k3", domain.ErrorCodeNoTrip, "too young"))
	require.NoError(t, g.PublishMessage(ctx, domain.CorrelatedMessage{Name: "Approval", CorrelationKey: "p1", Payload: vars}))

	require.Len(t, b.published, 4)
	assert.Equal(t, RouteComplete, b.published[0].routingKey)
	assert.Equal(t, RouteFail, b.published[1].routingKey)
	assert.Equal(t, RouteThrowError, b.published[2].routingKey)
	assert.Equal(t, RoutePublishMessage, b.published[3].routingKey)

	assert.JSONEq(t, `{"jobKey":"k1","variables":{"finalPrice":450}}`, string(b.published[0].body))
	assert.JSONEq(t, `{"jobKey":"k2","retries":2,"errorMessage":"invoicing provider returned 502"}`, string(b.published[1].body))
	assert.JSONEq(t, `{"jobKey":"k3","errorCode":"no_trip","errorMessage":"too young"}`, string(b.published[2].body))

	var msg map[string]any
	require.NoError(t, json.Unmarshal(b.published[3].body, &msg))
	assert.Equal(t, "Approval", msg["name"])
	assert.Equal(t, "p1", msg["correlationKey"])
}

func TestGateway_PublishFailureIsUnavailable(t *testing.T) {
	b := newFakeBroker()
	b.publishErr = errors.New("channel/connection is not open")
	g := newGateway(b)

	err := g.CompleteJob(context.Background(), "k1", variables.NewBag(nil))
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestGateway_ActivateStreamsAndDropsMalformed(t *testing.T) {
	b := newFakeBroker()
	g := newGateway(b)
	acker := newFakeAcker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := g.Activate(ctx, []string{"FinalQuote"})
	require.NoError(t, err)

	b.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte(`{broken`)}
	b.deliveries <- amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  2,
		Body:         []byte(`{"key":"k2","type":"FinalQuote","processInstanceKey":"p2","retries":3}`),
	}

	act := <-ch
	assert.Equal(t, "k2", act.Job.Key)

	requeue, ok := acker.nacked(1)
	require.True(t, ok)
	assert.False(t, requeue)

	require.NoError(t, act.Ack())
	require.NoError(t, act.Nack(true))
	assert.Equal(t, []uint64{2}, acker.acks)
	_, nacked := acker.nacked(2)
	assert.False(t, nacked)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	b.mu.Lock()
	assert.True(t, b.canceled)
	b.mu.Unlock()
}
