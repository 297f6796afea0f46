package dlq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/dlq"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/extract"
	"github.com/stadspuls/eventpipe/internal/fetch"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeQueue struct {
	inserted  []*domain.DeadLetterItem
	ready     []*domain.DeadLetterItem
	retrying  []string
	resolved  []string
	discarded map[string]string
	pending   []string
	stats     database.Stats
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{discarded: map[string]string{}}
}

func (q *fakeQueue) Insert(_ context.Context, item *domain.DeadLetterItem) error {
	q.inserted = append(q.inserted, item)
	return nil
}

func (q *fakeQueue) ReadyForRetry(_ context.Context, _ int) ([]*domain.DeadLetterItem, error) {
	return q.ready, nil
}

func (q *fakeQueue) MarkRetrying(_ context.Context, id string) error {
	q.retrying = append(q.retrying, id)
	return nil
}

func (q *fakeQueue) MarkResolved(_ context.Context, id string) error {
	q.resolved = append(q.resolved, id)
	return nil
}

func (q *fakeQueue) MarkDiscarded(_ context.Context, id, reason string) error {
	q.discarded[id] = reason
	return nil
}

func (q *fakeQueue) BackToPending(_ context.Context, id string) error {
	q.pending = append(q.pending, id)
	return nil
}

func (q *fakeQueue) GetStats(_ context.Context) (*database.Stats, error) {
	stats := q.stats
	return &stats, nil
}

type fakeEnqueuer struct {
	entries []database.EnqueueEntry
	err     error
}

func (e *fakeEnqueuer) EnqueueBatch(_ context.Context, entries []database.EnqueueEntry) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	e.entries = append(e.entries, entries...)
	return len(entries), nil
}

type fakeLatch struct{ raised bool }

func (l *fakeLatch) ShouldFire(_ context.Context) (bool, error) {
	if l.raised {
		return false, nil
	}
	l.raised = true
	return true, nil
}

func (l *fakeLatch) Clear(_ context.Context) error {
	l.raised = false
	return nil
}

type fakeAlerter struct{ alerts []string }

func (a *fakeAlerter) Alert(_ context.Context, title, _ string) error {
	a.alerts = append(a.alerts, title)
	return nil
}

func newService(q *fakeQueue, jobs *fakeEnqueuer, latch *fakeLatch, alerter *fakeAlerter) *dlq.Service {
	m := metrics.New(prometheus.NewRegistry())
	return dlq.New(q, jobs, latch, alerter, m, logger.NewNop())
}

func dlqItem(id string, stage domain.FailureStage, retryCount int) *domain.DeadLetterItem {
	item := domain.NewDeadLetterItem("src-1", stage, domain.ErrorTransient, "boom")
	item.ID = id
	item.RetryCount = retryCount
	return item
}

func TestPushRecordsJobContext(t *testing.T) {
	q := newFakeQueue()
	svc := newService(q, &fakeEnqueuer{}, &fakeLatch{}, &fakeAlerter{})

	job := &domain.ScrapeJob{ID: "job-1", SourceID: "src-1", Attempts: 2}
	cause := &fetch.BlockedFetchError{URL: "https://example.nl/agenda", StatusCode: 403}
	require.NoError(t, svc.Push(context.Background(), job, domain.StageFetch, cause))

	require.Len(t, q.inserted, 1)
	item := q.inserted[0]
	assert.Equal(t, "src-1", item.SourceID)
	assert.Equal(t, domain.StageFetch, item.Stage)
	assert.Equal(t, domain.ErrorBlockedFetch, item.ErrorType)
	require.NotNil(t, item.OriginalJobID)
	assert.Equal(t, "job-1", *item.OriginalJobID)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, domain.ErrorBlockedFetch,
		dlq.ClassifyError(&fetch.BlockedFetchError{StatusCode: 429}))
	assert.Equal(t, domain.ErrorSourceDrift, dlq.ClassifyError(extract.ErrNoCards))
	assert.Equal(t, domain.ErrorTransient, dlq.ClassifyError(errors.New("dial tcp: timeout")))
}

func TestSweepRequeuesFetchFailures(t *testing.T) {
	q := newFakeQueue()
	q.ready = []*domain.DeadLetterItem{dlqItem("item-1", domain.StageFetch, 0)}
	jobs := &fakeEnqueuer{}
	svc := newService(q, jobs, &fakeLatch{}, &fakeAlerter{})

	result, err := svc.Sweep(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Examined)
	assert.Equal(t, 1, result.Requeued)
	assert.Equal(t, []string{"item-1"}, q.retrying)
	assert.Equal(t, []string{"item-1"}, q.resolved)
	require.Len(t, jobs.entries, 1)
	assert.Equal(t, "src-1", jobs.entries[0].SourceID)
	assert.Greater(t, jobs.entries[0].Priority, 0)
}

func TestSweepReturnsNonRetryableStageToPending(t *testing.T) {
	q := newFakeQueue()
	q.ready = []*domain.DeadLetterItem{dlqItem("item-1", domain.StageInsert, 0)}
	jobs := &fakeEnqueuer{}
	svc := newService(q, jobs, &fakeLatch{}, &fakeAlerter{})

	result, err := svc.Sweep(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Returned)
	assert.Empty(t, jobs.entries)
	assert.Equal(t, []string{"item-1"}, q.pending)
}

func TestSweepDiscardsExhaustedItems(t *testing.T) {
	q := newFakeQueue()
	// third and final retry
	q.ready = []*domain.DeadLetterItem{dlqItem("item-1", domain.StageInsert, domain.DLQMaxRetries-1)}
	svc := newService(q, &fakeEnqueuer{}, &fakeLatch{}, &fakeAlerter{})

	result, err := svc.Sweep(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Discarded)
	assert.Equal(t, "Discarded after max retries", q.discarded["item-1"])
}

func TestSweepDiscardsWhenEnqueueFailsOnLastRetry(t *testing.T) {
	q := newFakeQueue()
	q.ready = []*domain.DeadLetterItem{dlqItem("item-1", domain.StageFetch, domain.DLQMaxRetries-1)}
	jobs := &fakeEnqueuer{err: errors.New("db down")}
	svc := newService(q, jobs, &fakeLatch{}, &fakeAlerter{})

	result, err := svc.Sweep(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Discarded)
	assert.Empty(t, q.resolved)
}

func TestCheckDepthFiresOncePerRaisedPeriod(t *testing.T) {
	q := newFakeQueue()
	q.stats = database.Stats{Pending: 40, Retrying: 12}
	alerter := &fakeAlerter{}
	latch := &fakeLatch{}
	svc := newService(q, &fakeEnqueuer{}, latch, alerter)
	ctx := context.Background()

	require.NoError(t, svc.CheckDepth(ctx))
	require.NoError(t, svc.CheckDepth(ctx))
	assert.Len(t, alerter.alerts, 1)

	// depth drops below threshold, latch rearms
	q.stats = database.Stats{Pending: 3}
	require.NoError(t, svc.CheckDepth(ctx))

	q.stats = database.Stats{Pending: 60}
	require.NoError(t, svc.CheckDepth(ctx))
	assert.Len(t, alerter.alerts, 2)
}

func TestCheckDepthAtThresholdDoesNotAlert(t *testing.T) {
	q := newFakeQueue()
	q.stats = database.Stats{Pending: domain.DLQAlertThreshold}
	alerter := &fakeAlerter{}
	svc := newService(q, &fakeEnqueuer{}, &fakeLatch{}, alerter)

	require.NoError(t, svc.CheckDepth(context.Background()))
	assert.Empty(t, alerter.alerts)
}
