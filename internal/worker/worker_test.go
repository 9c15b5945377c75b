package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/repairshop-worker/internal/engine"
	"github.com/cuongbtq/repairshop-worker/internal/engine/memory"
	"github.com/cuongbtq/repairshop-worker/internal/worker/correlation"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/metrics"
	"github.com/cuongbtq/repairshop-worker/internal/worker/outcome"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
	"github.com/cuongbtq/repairshop-worker/shared/logger"
)

type harness struct {
	eng     *memory.Engine
	reg     *registry.Registry
	metrics *metrics.Counters
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	eng := memory.New(memory.Config{})
	m := metrics.New()
	log := logger.Discard()

	reg := registry.New(&registry.Config{
		Reporter: outcome.NewReporter(&outcome.Config{Client: eng, Logger: log, Metrics: m}),
		Publisher: correlation.NewPublisher(&correlation.Config{
			Client:        eng,
			Logger:        log,
			Metrics:       m,
			RetryInterval: time.Millisecond,
		}),
		Logger:     log,
		Metrics:    m,
		JobTimeout: 5 * time.Second,
	})
	return &harness{eng: eng, reg: reg, metrics: m}
}

func (h *harness) createJobs(t *testing.T, taskType string, n int) []string {
	t.Helper()
	keys := make([]string, n)
	for i := range keys {
		instanceKey := fmt.Sprintf("pi-%s-%d", taskType, i)
		require.NoError(t, h.eng.CreateInstance(instanceKey, variables.NewBag(nil)))
		key, err := h.eng.CreateJob(instanceKey, taskType, 3)
		require.NoError(t, err)
		keys[i] = key
	}
	return keys
}

func (h *harness) start(t *testing.T, concurrency int) (*Worker, context.CancelFunc, <-chan error) {
	t.Helper()

	w := NewWorker(&Config{
		Logger:      logger.Discard(),
		Subscriber:  h.eng,
		Registry:    h.reg,
		Concurrency: concurrency,
		WorkerID:    "worker-test",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	return w, cancel, done
}

func (h *harness) status(key string) memory.JobStatus {
	snap, _ := h.eng.Job(key)
	return snap.Status
}

func TestWorker_ProcessesEveryOutcome(t *testing.T) {
	h := newHarness(t)
	h.reg.MustRegister("FinalQuote", registry.HandlerFunc(func(ctx context.Context, job domain.Job) (registry.Result, error) {
		return registry.Result{Output: variables.NewBuilder().SetBool("quoteSent", true).Build()}, nil
	}))
	h.reg.MustRegister("validateTrips", registry.HandlerFunc(func(ctx context.Context, job domain.Job) (registry.Result, error) {
		return registry.Result{}, domain.NewBusinessError(domain.ErrorCodeNoTrip, "too young")
	}))

	quotes := h.createJobs(t, "FinalQuote", 3)
	trips := h.createJobs(t, "validateTrips", 2)

	_, cancel, done := h.start(t, 2)
	defer cancel()

	require.Eventually(t, func() bool {
		for _, k := range quotes {
			if h.status(k) != memory.JobCompleted {
				return false
			}
		}
		for _, k := range trips {
			if h.status(k) != memory.JobErrored {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(3), snap.Completed)
	assert.Equal(t, int64(2), snap.BusinessErrors)
	assert.Equal(t, int64(0), snap.InFlight)
}

func TestWorker_ConcurrencyIsBounded(t *testing.T) {
	h := newHarness(t)

	var running, peak atomic.Int32
	release := make(chan struct{})
	h.reg.MustRegister("process-tow-request", registry.HandlerFunc(func(ctx context.Context, job domain.Job) (registry.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return registry.Result{Output: variables.NewBag(nil)}, nil
	}))

	keys := h.createJobs(t, "process-tow-request", 6)
	_, cancel, done := h.start(t, 2)
	defer cancel()

	require.Eventually(t, func() bool { return running.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), running.Load())

	close(release)
	require.Eventually(t, func() bool {
		for _, k := range keys {
			if h.status(k) != memory.JobCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(2), peak.Load())
	cancel()
	require.NoError(t, <-done)
}

func TestWorker_RedeliversWhenReportFails(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	h.reg.MustRegister("stripe-invoice", registry.HandlerFunc(func(ctx context.Context, job domain.Job) (registry.Result, error) {
		calls.Add(1)
		return registry.Result{Output: variables.NewBuilder().SetString("invoiceId", "in_test_1").Build()}, nil
	}))

	keys := h.createJobs(t, "stripe-invoice", 1)
	h.eng.InjectFault(memory.CommandComplete, 1, engine.ErrUnavailable)

	_, cancel, done := h.start(t, 1)
	defer cancel()

	require.Eventually(t, func() bool { return h.status(keys[0]) == memory.JobCompleted }, 2*time.Second, 10*time.Millisecond)

	snap, _ := h.eng.Job(keys[0])
	assert.Equal(t, 2, snap.Activations)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), h.metrics.Snapshot().ReportErrors)

	cancel()
	require.NoError(t, <-done)
}

func TestWorker_StopDrainsInFlightJob(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	h.reg.MustRegister("ArrangeCollection", registry.HandlerFunc(func(ctx context.Context, job domain.Job) (registry.Result, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return registry.Result{Output: variables.NewBag(nil)}, nil
	}))

	keys := h.createJobs(t, "ArrangeCollection", 1)
	w, cancel, done := h.start(t, 1)
	defer cancel()

	<-started
	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, memory.JobCompleted, h.status(keys[0]))
}

type closedSubscriber struct{}

func (closedSubscriber) Activate(ctx context.Context, taskTypes []string) (<-chan *engine.Activation, error) {
	ch := make(chan *engine.Activation)
	close(ch)
	return ch, nil
}

func TestWorker_SubscriptionClosed(t *testing.T) {
	h := newHarness(t)
	h.reg.MustRegister("FinalQuote", registry.HandlerFunc(func(ctx context.Context, job domain.Job) (registry.Result, error) {
		return registry.Result{}, nil
	}))

	w := NewWorker(&Config{Logger: logger.Discard(), Subscriber: closedSubscriber{}, Registry: h.reg})
	err := w.Start(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.NotEmpty(t, w.ID())
}

func TestShouldRequeueJob(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "transport error", err: domain.NewRetryableError(engine.ErrUnavailable), want: true},
		{name: "wrapped transport error", err: fmt.Errorf("report: %w", domain.NewRetryableError(errors.New("eof"))), want: true},
		{name: "stale lease", err: fmt.Errorf("report: %w", engine.ErrJobNotActive), want: false},
		{name: "unclassified", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRequeueJob(tt.err))
		})
	}
}
