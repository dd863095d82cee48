package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-console/internal/cluster"
	"github.com/dreamware/torua-console/internal/gateway"
)

var (
	start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	end   = start.Add(10 * time.Minute)
)

func series(names ...string) *cluster.TimeSeriesQueryRequest {
	queries := make([]cluster.TimeSeriesQuery, 0, len(names))
	for _, n := range names {
		queries = append(queries, cluster.TimeSeriesQuery{Name: n})
	}
	return cluster.NewTimeSeriesQueryRequest(start, end, queries...)
}

// fakeEndpoint answers every query with one datapoint per series and records
// the batches it received.
type fakeEndpoint struct {
	mu      sync.Mutex
	batches []*cluster.TimeSeriesQueryRequest
	gate    chan struct{}
	err     error
	drop    bool
}

func (f *fakeEndpoint) query(ctx context.Context, req *cluster.TimeSeriesQueryRequest, timeout time.Duration) (*cluster.TimeSeriesQueryResponse, error) {
	f.mu.Lock()
	f.batches = append(f.batches, req)
	gate, err, drop := f.gate, f.err, f.drop
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	resp := &cluster.TimeSeriesQueryResponse{}
	for _, q := range req.Queries {
		resp.Results = append(resp.Results, cluster.TimeSeriesQueryResult{
			Query:      q,
			Datapoints: []cluster.Datapoint{{TimestampNanos: req.EndNanos, Value: 1}},
		})
	}
	if drop && len(resp.Results) > 0 {
		resp.Results = resp.Results[1:]
	}
	return resp, nil
}

func (f *fakeEndpoint) sent() []*cluster.TimeSeriesQueryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*cluster.TimeSeriesQueryRequest(nil), f.batches...)
}

func names(req *cluster.TimeSeriesQueryRequest) []string {
	var out []string
	for _, q := range req.Queries {
		out = append(out, q.Name)
	}
	return out
}

func TestFlushSendsOnlyChangedQueries(t *testing.T) {
	f := &fakeEndpoint{}
	r := NewRegistry(f.query)

	r.Declare("B", series("torua.node.used_bytes"))
	require.NoError(t, r.Flush(context.Background(), time.Second))
	appliedB := r.Get("B")

	r.Declare("A", series("torua.node.gets"))
	r.Declare("B", series("torua.node.used_bytes"))
	require.NoError(t, r.Flush(context.Background(), time.Second))

	batches := f.sent()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"torua.node.gets"}, names(batches[1]))
	assert.Same(t, appliedB, r.Get("B"), "B was not part of the batch")

	a := r.Get("A")
	require.NotNil(t, a.Data)
	assert.Equal(t, "torua.node.gets", a.Data.Results[0].Query.Name)
	assert.True(t, a.Request.Equal(a.NextRequest))
	assert.Empty(t, r.Pending())
}

func TestLastDeclareWins(t *testing.T) {
	f := &fakeEndpoint{}
	r := NewRegistry(f.query)

	r.Declare("panelA", series("seriesX"))
	r.Declare("panelA", series("seriesY"))
	require.NoError(t, r.Flush(context.Background(), time.Second))

	batches := f.sent()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"seriesY"}, names(batches[0]))

	q := r.Get("panelA")
	require.NotNil(t, q.Data)
	require.Len(t, q.Data.Results, 1)
	assert.Equal(t, "seriesY", q.Data.Results[0].Query.Name)
}

func TestBatchSlicesResultsPerID(t *testing.T) {
	f := &fakeEndpoint{}
	r := NewRegistry(f.query)

	r.Declare("cpu", series("torua.node.cpu.user", "torua.node.cpu.sys"))
	r.Declare("disk", series("torua.node.used_bytes"))
	require.NoError(t, r.Flush(context.Background(), time.Second))

	require.Len(t, f.sent(), 1, "same span goes out as one call")
	assert.Len(t, f.sent()[0].Queries, 3)

	cpu := r.Get("cpu")
	require.Len(t, cpu.Data.Results, 2)
	assert.Equal(t, "torua.node.cpu.user", cpu.Data.Results[0].Query.Name)
	assert.Equal(t, "torua.node.cpu.sys", cpu.Data.Results[1].Query.Name)

	disk := r.Get("disk")
	require.Len(t, disk.Data.Results, 1)
	assert.Equal(t, "torua.node.used_bytes", disk.Data.Results[0].Query.Name)
}

func TestFlushGroupsBySpan(t *testing.T) {
	f := &fakeEndpoint{}
	r := NewRegistry(f.query)

	r.Declare("now", series("a"))
	r.Declare("earlier", cluster.NewTimeSeriesQueryRequest(start.Add(-time.Hour), end.Add(-time.Hour), cluster.TimeSeriesQuery{Name: "b"}))
	require.NoError(t, r.Flush(context.Background(), time.Second))

	assert.Len(t, f.sent(), 2)
	assert.NotNil(t, r.Get("now").Data)
	assert.NotNil(t, r.Get("earlier").Data)
	assert.Equal(t, 0, r.State().InFlight)
}

func TestFailureKeepsDataAndRecordsRequest(t *testing.T) {
	f := &fakeEndpoint{}
	r := NewRegistry(f.query)

	r.Declare("A", series("a"))
	r.Declare("C", series("c"))
	require.NoError(t, r.Flush(context.Background(), time.Second))
	prevData := r.Get("A").Data
	untouched := r.Get("C")

	boom := &gateway.Error{Kind: gateway.KindTimeout, URL: "http://coordinator/ts/query", Err: context.DeadlineExceeded}
	f.err = boom
	failed := series("a", "a2")
	r.Declare("A", failed)
	err := r.Flush(context.Background(), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrTimeout)

	a := r.Get("A")
	assert.Same(t, prevData, a.Data, "previous data is kept")
	assert.ErrorIs(t, a.Error, gateway.ErrTimeout)
	assert.Same(t, failed, a.Request)
	assert.False(t, a.Pending(), "no automatic retry")
	assert.Same(t, untouched, r.Get("C"))
}

func TestResultCountMismatchIsDecodeError(t *testing.T) {
	f := &fakeEndpoint{drop: true}
	r := NewRegistry(f.query)

	r.Declare("A", series("a"))
	r.Declare("B", series("b"))
	err := r.Flush(context.Background(), time.Second)
	assert.ErrorIs(t, err, gateway.ErrDecode)

	for _, id := range []string{"A", "B"} {
		q := r.Get(id)
		assert.Nil(t, q.Data)
		assert.ErrorIs(t, q.Error, gateway.ErrDecode)
	}
}

func TestInvalidateResends(t *testing.T) {
	f := &fakeEndpoint{}
	r := NewRegistry(f.query)

	r.Declare("A", series("a"))
	require.NoError(t, r.Flush(context.Background(), time.Second))
	require.NoError(t, r.Flush(context.Background(), time.Second))
	require.Len(t, f.sent(), 1)

	r.Invalidate("A")
	r.Invalidate("unknown")
	assert.Equal(t, []string{"A"}, r.Pending())
	require.NoError(t, r.Flush(context.Background(), time.Second))
	assert.Len(t, f.sent(), 2)
}

func TestDeclareDuringFlightStaysPending(t *testing.T) {
	f := &fakeEndpoint{gate: make(chan struct{})}
	r := NewRegistry(f.query)

	first := series("seriesX")
	r.Declare("panelA", first)
	done := make(chan error, 1)
	go func() { done <- r.Flush(context.Background(), time.Second) }()
	require.Eventually(t, func() bool { return r.State().InFlight == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, r.Pending(), "in-flight request is not pending again")

	second := series("seriesY")
	r.Declare("panelA", second)
	close(f.gate)
	require.NoError(t, <-done)

	q := r.Get("panelA")
	assert.Same(t, first, q.Request)
	assert.Same(t, second, q.NextRequest)
	assert.Equal(t, "seriesX", q.Data.Results[0].Query.Name)
	assert.True(t, q.Pending())

	require.NoError(t, r.Flush(context.Background(), time.Second))
	assert.Equal(t, "seriesY", r.Get("panelA").Data.Results[0].Query.Name)
}

func TestOverlappingFlushesDoNotOverlapBatches(t *testing.T) {
	f := &fakeEndpoint{gate: make(chan struct{})}
	r := NewRegistry(f.query)

	r.Declare("A", series("a"))
	firstDone := make(chan error, 1)
	go func() { firstDone <- r.Flush(context.Background(), time.Second) }()
	require.Eventually(t, func() bool { return r.State().InFlight == 1 }, time.Second, time.Millisecond)

	r.Declare("C", series("c"))
	secondDone := make(chan error, 1)
	go func() { secondDone <- r.Flush(context.Background(), time.Second) }()

	time.Sleep(10 * time.Millisecond)
	assert.Len(t, f.sent(), 1, "no overlapping batch while one is in flight")

	close(f.gate)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	batches := f.sent()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"a"}, names(batches[0]))
	assert.Equal(t, []string{"c"}, names(batches[1]))
	assert.Equal(t, 0, r.State().InFlight)
	assert.Empty(t, r.Pending())
}

func TestFlushWithNothingPending(t *testing.T) {
	f := &fakeEndpoint{}
	var changes int
	r := NewRegistry(f.query, WithOnChange(func() { changes++ }))

	require.NoError(t, r.Flush(context.Background(), time.Second))
	assert.Empty(t, f.sent())
	assert.Zero(t, changes)
	assert.Nil(t, r.Get("missing"))
}

func TestDeclareSameRequestKeepsIdentity(t *testing.T) {
	r := NewRegistry((&fakeEndpoint{}).query)
	r.Declare("A", series("a"))
	before := r.Get("A")
	r.Declare("A", series("a"))
	assert.Same(t, before, r.Get("A"))
}

func TestCancelledFlushWaitReturnsContextError(t *testing.T) {
	f := &fakeEndpoint{gate: make(chan struct{})}
	r := NewRegistry(f.query)
	r.Declare("A", series("a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Flush(ctx, time.Second) }()
	require.Eventually(t, func() bool { return r.State().InFlight == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	close(f.gate)
	require.Eventually(t, func() bool { return r.Get("A").Data != nil }, time.Second, time.Millisecond)
}

func TestGatewayQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, QueryPath, r.URL.Path)
		_, _ = w.Write([]byte(`{"results":[{"query":{"name":"a"},"datapoints":[]}]}`))
	}))
	defer srv.Close()

	r := NewRegistry(GatewayQuery(gateway.New(srv.URL)))
	r.Declare("A", series("a"))
	require.NoError(t, r.Flush(context.Background(), time.Second))
	require.NotNil(t, r.Get("A").Data)
	assert.Equal(t, "a", r.Get("A").Data.Results[0].Query.Name)
}
