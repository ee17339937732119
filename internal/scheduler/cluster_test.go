package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovalv/pvewatch/internal/cache"
	"github.com/mkovalv/pvewatch/internal/logger"
	"github.com/mkovalv/pvewatch/internal/metrics"
	"github.com/mkovalv/pvewatch/internal/model"
)

// slowClient serves a fixed guest list with a configurable per-call latency
type slowClient struct {
	latency   time.Duration
	listCalls atomic.Int64

	mu      sync.Mutex
	listErr error
}

func (c *slowClient) setListErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr = err
}

func (c *slowClient) ListGuests(ctx context.Context) ([]model.Guest, error) {
	if c.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.latency):
		}
	}
	c.mu.Lock()
	err := c.listErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.listCalls.Add(1)
	return []model.Guest{
		{Key: model.GuestKey{Node: "pve1", VMID: 100}, Name: "web", Kind: model.KindQemu, Status: model.StatusRunning, RawStatus: "running"},
	}, nil
}

func (c *slowClient) NodeStatus(ctx context.Context, node string) (model.NodeStatus, error) {
	return model.NodeStatus{Node: node, CPU: 0.1}, nil
}

func (c *slowClient) GuestDetail(ctx context.Context, key model.GuestKey, kind model.GuestKind) (model.GuestDetail, error) {
	return model.GuestDetail{Key: key, Kind: kind}, nil
}

func (c *slowClient) CurrentStatus(ctx context.Context, key model.GuestKey, kind model.GuestKind) (model.CurrentStatus, error) {
	return model.CurrentStatus{Status: model.StatusRunning, RawStatus: "running"}, nil
}

func (c *slowClient) HistoricalSamples(ctx context.Context, key model.GuestKey, kind model.GuestKind, window time.Duration) ([]model.Sample, error) {
	return nil, nil
}

func (c *slowClient) SubmitAction(ctx context.Context, key model.GuestKey, kind model.GuestKind, action model.ActionKind, params map[string]string) (string, error) {
	return "", nil
}

func (c *slowClient) JobStatus(ctx context.Context, node, upid string) (model.JobStatus, error) {
	return model.JobStatus{}, nil
}

func newTestPoller(client *slowClient, sinks ...Sink) *ClusterPoller {
	return NewClusterPoller(client, cache.New(time.Minute), metrics.New(prometheus.NewRegistry()), logger.New(), 2, sinks...)
}

func TestRefreshOncePublishesSnapshot(t *testing.T) {
	client := &slowClient{}

	var mu sync.Mutex
	var seen []model.PollSnapshot
	poller := newTestPoller(client, func(ctx context.Context, s model.PollSnapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	snapshot, err := poller.RefreshOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Guests, 1)
	assert.Equal(t, "web", snapshot.Guests[0].Name)
	require.Len(t, snapshot.Nodes, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1, "sinks receive each completed snapshot")

	cached, ok := poller.Snapshot()
	require.True(t, ok)
	assert.Equal(t, snapshot.Taken, cached.Taken)
}

func TestStartIsIdempotent(t *testing.T) {
	client := &slowClient{}
	poller := newTestPoller(client)

	// Two starts in a row must leave exactly one loop running.
	poller.Start(50 * time.Millisecond)
	poller.Start(50 * time.Millisecond)
	defer poller.Stop()

	time.Sleep(500 * time.Millisecond)
	calls := client.listCalls.Load()

	// One loop completes at most 1 immediate + ~10 ticked polls in 500ms;
	// a duplicated loop would double that.
	assert.LessOrEqual(t, calls, int64(13), "duplicate loops would double the poll rate")
	assert.GreaterOrEqual(t, calls, int64(5))
	assert.True(t, poller.Running())
}

func TestSlowPollSkipsOverlappingTicks(t *testing.T) {
	client := &slowClient{latency: 150 * time.Millisecond}
	poller := newTestPoller(client)

	poller.Start(20 * time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	poller.Stop()

	// With latency far above the interval, completed polls are bounded by
	// latency, not by the tick rate.
	calls := client.listCalls.Load()
	assert.LessOrEqual(t, calls, int64(4), "ticks never queue behind a slow poll")
	assert.GreaterOrEqual(t, calls, int64(1))
}

func TestStopPreventsFurtherPolls(t *testing.T) {
	client := &slowClient{}
	poller := newTestPoller(client)

	poller.Start(20 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	poller.Stop()
	assert.False(t, poller.Running())

	settled := client.listCalls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, client.listCalls.Load(), "no polls after stop")
}

func TestFailedTickKeepsLoopAlive(t *testing.T) {
	client := &slowClient{}
	client.setListErr(assert.AnError)

	poller := newTestPoller(client)
	poller.Start(20 * time.Millisecond)
	defer poller.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Error(t, poller.LastError())

	// Remote recovers; the loop must still be polling.
	client.setListErr(nil)
	time.Sleep(100 * time.Millisecond)

	assert.Greater(t, client.listCalls.Load(), int64(0))
	assert.NoError(t, poller.LastError(), "a successful tick clears the recorded error")
}

func TestRefreshOnceConflictsWithInFlightPoll(t *testing.T) {
	client := &slowClient{latency: 200 * time.Millisecond}
	poller := newTestPoller(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := poller.RefreshOnce(context.Background())
		assert.NoError(t, err)
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := poller.RefreshOnce(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInFlight)
	<-done
}
