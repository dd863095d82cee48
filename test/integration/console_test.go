package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-console/internal/cluster"
	"github.com/dreamware/torua-console/internal/console"
	"github.com/dreamware/torua-console/internal/dashboards"
	"github.com/dreamware/torua-console/internal/gateway"
	"github.com/dreamware/torua-console/internal/scheduler"
	"github.com/dreamware/torua-console/internal/storage"
)

// simCoordinator is an in-process coordinator whose membership and shard
// placement can be changed while the console polls it.
type simCoordinator struct {
	mu        sync.Mutex
	nodes     map[string]cluster.NodeInfo
	numShards int
	uidata    map[string]cluster.UIDataValue
	requests  map[string]int
	tsBatches int
}

func newSimCoordinator(numShards int) *simCoordinator {
	return &simCoordinator{
		nodes:     make(map[string]cluster.NodeInfo),
		numShards: numShards,
		uidata:    make(map[string]cluster.UIDataValue),
		requests:  make(map[string]int),
	}
}

func (c *simCoordinator) register(id string, capacity, used int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[id] = cluster.NodeInfo{
		ID:            id,
		Addr:          "http://" + id,
		Status:        cluster.HealthStatusHealthy,
		CapacityBytes: capacity,
		UsedBytes:     used,
	}
}

func (c *simCoordinator) setStatus(id, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nodes[id]
	n.Status = status
	c.nodes[id] = n
}

func (c *simCoordinator) sortedNodes() []cluster.NodeInfo {
	out := make([]cluster.NodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// shards assigns primaries round-robin over healthy nodes.
func (c *simCoordinator) shards() cluster.ShardsResponse {
	resp := cluster.ShardsResponse{NumShards: c.numShards, Shards: []cluster.ShardAssignment{}}
	var healthy []string
	for _, n := range c.sortedNodes() {
		if n.Status == cluster.HealthStatusHealthy {
			healthy = append(healthy, n.ID)
		}
	}
	if len(healthy) == 0 {
		return resp
	}
	for i := 0; i < c.numShards; i++ {
		resp.Shards = append(resp.Shards, cluster.ShardAssignment{ShardID: i, NodeID: healthy[i%len(healthy)], IsPrimary: true})
	}
	return resp
}

func (c *simCoordinator) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[path]
}

func (c *simCoordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[r.URL.Path]++

	var body any
	switch {
	case r.URL.Path == "/health":
		body = cluster.HealthResponse{Status: "ok"}
	case r.URL.Path == "/nodes":
		body = cluster.NodesResponse{Nodes: c.sortedNodes()}
	case r.URL.Path == "/shards":
		body = c.shards()
	case r.URL.Path == "/_admin/v1/cluster":
		body = cluster.ClusterResponse{ClusterID: "torua-it"}
	case strings.HasPrefix(r.URL.Path, "/_status/logs/"):
		id := strings.TrimPrefix(r.URL.Path, "/_status/logs/")
		if _, ok := c.nodes[id]; !ok {
			http.NotFound(w, r)
			return
		}
		body = cluster.LogEntriesResponse{Entries: []cluster.LogEntry{{Severity: "INFO", Message: "node " + id + " serving"}}}
	case r.URL.Path == "/ts/query":
		var req cluster.TimeSeriesQueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		c.tsBatches++
		resp := cluster.TimeSeriesQueryResponse{Results: []cluster.TimeSeriesQueryResult{}}
		for _, q := range req.Queries {
			resp.Results = append(resp.Results, cluster.TimeSeriesQueryResult{
				Query:      q,
				Datapoints: []cluster.Datapoint{{TimestampNanos: req.EndNanos, Value: float64(len(c.nodes))}},
			})
		}
		body = resp
	case r.URL.Path == "/_admin/v1/uidata" && r.Method == http.MethodPost:
		var req cluster.SetUIDataRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		for k, v := range req.KeyValues {
			c.uidata[k] = cluster.UIDataValue{Value: v, LastUpdated: time.Now()}
		}
		body = cluster.SetUIDataResponse{}
	case r.URL.Path == "/_admin/v1/uidata":
		resp := cluster.GetUIDataResponse{KeyValues: map[string]cluster.UIDataValue{}}
		for _, k := range r.URL.Query()["keys"] {
			if v, ok := c.uidata[k]; ok {
				resp.KeyValues[k] = v
			}
		}
		body = resp
	default:
		http.NotFound(w, r)
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// ConsoleSystem is a console store polling a simulated coordinator.
type ConsoleSystem struct {
	t      *testing.T
	coord  *simCoordinator
	store  *console.Store
	poller *scheduler.Poller
	cancel context.CancelFunc
}

func NewConsoleSystem(t *testing.T, numShards int) *ConsoleSystem {
	t.Helper()
	coord := newSimCoordinator(numShards)
	srv := httptest.NewServer(coord)
	t.Cleanup(srv.Close)

	store, err := console.New(gateway.New(srv.URL), console.Options{
		Logger:  zerolog.Nop(),
		Timeout: 2 * time.Second,
		UIData:  storage.NewMemoryStore(),
	})
	require.NoError(t, err)

	return &ConsoleSystem{t: t, coord: coord, store: store}
}

// Start polls nodes, shards and metrics every interval.
func (cs *ConsoleSystem) Start(interval time.Duration) {
	cs.poller = scheduler.NewPoller(interval/2, zerolog.Nop())
	for _, resource := range []string{console.ResourceNodes, console.ResourceShards} {
		resource := resource
		require.NoError(cs.t, cs.poller.Register(scheduler.Task{
			Name:     resource,
			Interval: interval,
			Run: func(ctx context.Context) error {
				return cs.store.Refresh(ctx, resource, "")
			},
		}))
	}
	require.NoError(cs.t, cs.poller.Register(scheduler.Task{
		Name:     "metrics",
		Interval: interval,
		Run: func(ctx context.Context) error {
			for _, g := range dashboards.Catalog {
				cs.store.DeclareGroup(g, nil, time.Now())
			}
			return cs.store.FlushMetricQueries(ctx)
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cs.cancel = cancel
	go cs.poller.Start(ctx)
	cs.t.Cleanup(cs.Stop)
}

func (cs *ConsoleSystem) Stop() {
	if cs.cancel != nil {
		cs.cancel()
		cs.poller.Stop()
		cs.cancel = nil
	}
}

func TestConsoleTracksMembership(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cs := NewConsoleSystem(t, 4)
	cs.coord.register("node-1", 1000, 100)
	cs.coord.register("node-2", 1000, 300)

	var mu sync.Mutex
	var versions []uint64
	unsubscribe := cs.store.Subscribe(func() {
		mu.Lock()
		versions = append(versions, cs.store.GetState().Version)
		mu.Unlock()
	})
	defer unsubscribe()

	cs.Start(40 * time.Millisecond)

	require.Eventually(t, func() bool {
		return cs.store.ClusterInfo().TotalNodes == 2 && cs.store.ShardDistribution().Assigned == 4
	}, 2*time.Second, 10*time.Millisecond)

	info := cs.store.ClusterInfo()
	assert.Equal(t, 2, info.HealthyNodes)
	assert.Equal(t, "20", info.CapacityPercent.String())

	dist := cs.store.ShardDistribution()
	assert.Zero(t, dist.Spread())
	owner, err := dist.NodeForKey("user:42")
	require.NoError(t, err)
	assert.Contains(t, []string{"node-1", "node-2"}, owner)

	t.Run("node failure is picked up by polling", func(t *testing.T) {
		cs.coord.setStatus("node-2", cluster.HealthStatusUnhealthy)
		require.Eventually(t, func() bool {
			dist := cs.store.ShardDistribution()
			return cs.store.ClusterInfo().HealthyNodes == 1 &&
				len(dist.ByNode) == 1 && dist.ByNode[0].NodeID == "node-1"
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"node-2"}, cs.store.ClusterInfo().Unhealthy)
	})

	t.Run("shown graph groups receive data", func(t *testing.T) {
		activity, ok := dashboards.Lookup("node.activity")
		require.True(t, ok)
		require.Eventually(t, func() bool {
			q := cs.store.GetState().Metrics.Queries[activity.ComponentID(0)]
			return q != nil && q.Data != nil
		}, 2*time.Second, 10*time.Millisecond)

		state := cs.store.GetState()
		for i, g := range activity.Graphs {
			q := state.Metrics.Queries[activity.ComponentID(i)]
			require.NotNil(t, q, g.Title)
			require.NotNil(t, q.Data, g.Title)
			assert.Len(t, q.Data.Results, len(g.Metrics), g.Title)
		}
		_, hidden := state.Metrics.Queries[dashboards.Catalog[2].ComponentID(0)]
		assert.False(t, hidden, "collapsed groups are not queried")

		cs.coord.mu.Lock()
		batches := cs.coord.tsBatches
		cs.coord.mu.Unlock()
		assert.Equal(t, 1, batches, "unchanged declarations within a valid window are not re-sent")
	})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	assert.LessOrEqual(t, versions[len(versions)-1], cs.store.GetState().Version)
}

func TestConsoleOnDemandResources(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cs := NewConsoleSystem(t, 2)
	cs.coord.register("node-1", 100, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, cs.store.Dispatch(ctx, console.EnsureResource{Resource: console.ResourceLogs, Key: "node-1"}))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, cs.coord.count("/_status/logs/node-1"), "concurrent ensures share one request")

	st, err := cs.store.Ensure(ctx, console.ResourceLogs, "node-9")
	require.NoError(t, err)
	assert.ErrorIs(t, st.LastError, gateway.ErrTransport)

	logs := cs.store.GetState().Logs
	require.Contains(t, logs, "node-1")
	assert.Equal(t, "node node-1 serving", logs["node-1"].Data.Entries[0].Message)

	require.NoError(t, cs.store.SaveUIData(ctx, map[string][]byte{"dashboard": []byte(`{"scale":"1 hour"}`)}))
	require.NoError(t, cs.store.LoadUIData(ctx, "dashboard"))
	assert.JSONEq(t, `{"scale":"1 hour"}`, string(cs.store.GetState().UIData.Data["dashboard"]))

	require.NoError(t, cs.store.Dispatch(ctx, console.SelectTimeScale{Name: "1 hour"}))
	w := cs.store.EnsureTimeWindow(time.Now())
	assert.Equal(t, time.Hour, w.Duration())

	for i := 0; i < 3; i++ {
		require.NoError(t, cs.store.Dispatch(ctx, console.InvalidateResource{Resource: console.ResourceCluster}))
		require.NoError(t, cs.store.Dispatch(ctx, console.EnsureResource{Resource: console.ResourceCluster}))
	}
	assert.Equal(t, 3, cs.coord.count("/_admin/v1/cluster"), fmt.Sprintf("%v", cs.store.Statuses()[console.ResourceCluster]))
}
