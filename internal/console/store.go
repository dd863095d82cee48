// Package console composes the caches, the metrics registry, the time window
// and UI data into one observable state store.
// See doc.go for complete package documentation.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"

	"github.com/dreamware/torua-console/internal/cache"
	"github.com/dreamware/torua-console/internal/cluster"
	"github.com/dreamware/torua-console/internal/dashboards"
	"github.com/dreamware/torua-console/internal/gateway"
	"github.com/dreamware/torua-console/internal/metrics"
	"github.com/dreamware/torua-console/internal/storage"
	"github.com/dreamware/torua-console/internal/summary"
	"github.com/dreamware/torua-console/internal/telemetry"
	"github.com/dreamware/torua-console/internal/timewindow"
	"github.com/dreamware/torua-console/internal/uidata"
)

var (
	// ErrUnknownResource is returned for resource ids the store does not serve.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrInvalidKey is returned when a key does not fit the resource: a key on
	// a singleton, no key on a keyed resource, or a malformed table key.
	ErrInvalidKey = errors.New("invalid resource key")
	// ErrUnknownIntent is returned by Dispatch for intents it cannot apply.
	ErrUnknownIntent = errors.New("unknown intent")
)

// Options configures a Store. Zero values select defaults.
type Options struct {
	Logger    zerolog.Logger
	Collector telemetry.Collector
	// Timeout bounds every request the store issues; zero uses the gateway default.
	Timeout time.Duration
	// TimeScale is the initial preset name.
	TimeScale string
	// UIData mirrors persisted UI data; nil uses a MemoryStore.
	UIData storage.Store
	Now    func() time.Time
}

// State is an immutable snapshot of the console. Records are shared with the
// store and never mutated, so comparing pointers between two snapshots tells
// whether a record changed.
type State struct {
	// Version increases with every published change.
	Version uint64

	Cluster   *cache.Record[cluster.ClusterResponse]
	Health    *cache.Record[cluster.HealthResponse]
	Nodes     *cache.Record[cluster.NodesResponse]
	Shards    *cache.Record[cluster.ShardsResponse]
	Databases *cache.Record[cluster.DatabasesResponse]
	Raft      *cache.Record[cluster.RaftDebugResponse]

	Events          map[string]*cache.Record[cluster.EventsResponse]
	DatabaseDetails map[string]*cache.Record[cluster.DatabaseDetailsResponse]
	TableDetails    map[string]*cache.Record[cluster.TableDetailsResponse]
	TableStats      map[string]*cache.Record[cluster.TableStatsResponse]
	Logs            map[string]*cache.Record[cluster.LogEntriesResponse]
	Gossip          map[string]*cache.Record[cluster.GossipResponse]

	Metrics    metrics.State
	TimeWindow timewindow.State
	UIData     uidata.State
	UISettings map[string]any
}

// Store is the single mutation surface of the console data layer.
type Store struct {
	res      Resources
	bindings map[string]binding
	metrics  *metrics.Registry
	window   *timewindow.Controller
	uidata   *uidata.Set

	clusterInfo *summary.Memo[cluster.NodesResponse, *summary.ClusterInfo]
	shardDist   *summary.Memo[cluster.ShardsResponse, *summary.ShardDistribution]

	mu           sync.Mutex
	settings     map[string]any
	listeners    map[uint64]func()
	nextListener uint64
	version      atomic.Uint64

	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// New wires a store around gw.
func New(gw *gateway.Gateway, opts Options) (*Store, error) {
	if gw == nil {
		return nil, errors.New("console: gateway is required")
	}
	if opts.Collector == nil {
		opts.Collector = telemetry.Noop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		settings:    make(map[string]any),
		listeners:   make(map[uint64]func()),
		timeout:     opts.Timeout,
		now:         opts.Now,
		logger:      opts.Logger,
		clusterInfo: summary.NewMemo(summary.NewClusterInfo),
		shardDist:   summary.NewMemo(summary.NewShardDistribution),
	}

	window, err := timewindow.NewController(opts.TimeScale,
		timewindow.WithLogger(opts.Logger),
		timewindow.WithCollector(opts.Collector),
		timewindow.WithOnChange(s.notify),
	)
	if err != nil {
		return nil, err
	}
	s.window = window

	s.res = newResources(gw,
		cache.WithLogger(opts.Logger),
		cache.WithCollector(opts.Collector),
		cache.WithOnChange(s.notify),
		cache.WithClock(opts.Now),
	)
	s.bindings = s.res.bindings()

	s.metrics = metrics.NewRegistry(metrics.GatewayQuery(gw),
		metrics.WithLogger(opts.Logger),
		metrics.WithCollector(opts.Collector),
		metrics.WithOnChange(s.notify),
	)
	s.uidata = uidata.New(gw, opts.UIData,
		uidata.WithLogger(opts.Logger),
		uidata.WithOnChange(s.notify),
		uidata.WithClock(opts.Now),
	)
	return s, nil
}

// Dispatch applies intent. Only programming errors are returned: unknown
// intents, resources or scales, and malformed keys. Request failures are
// recorded in state.
func (s *Store) Dispatch(ctx context.Context, intent Intent) error {
	switch in := intent.(type) {
	case EnsureResource:
		_, err := s.Ensure(ctx, in.Resource, in.Key)
		return err
	case InvalidateResource:
		return s.Invalidate(in.Resource, in.Key)
	case DeclareMetricQuery:
		s.metrics.Declare(in.ComponentID, in.Request)
		return nil
	case InvalidateMetricQuery:
		s.metrics.Invalidate(in.ComponentID)
		return nil
	case FlushMetricQueries:
		if err := s.FlushMetricQueries(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("metrics flush failed")
		}
		return nil
	case SelectTimeScale:
		return s.SelectTimeScale(in.Name)
	case EnsureTimeWindow:
		now := in.Now
		if now.IsZero() {
			now = s.now()
		}
		s.window.EnsureWindow(now)
		return nil
	case SetUISetting:
		s.SetUISetting(in.Key, in.Value)
		return nil
	case LoadUIData:
		_ = s.uidata.Load(ctx, in.Keys, s.timeout)
		return nil
	case SaveUIData:
		_ = s.uidata.Save(ctx, in.Values, s.timeout)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownIntent, intent)
	}
}

func (s *Store) lookup(resourceID, key string) (cache.Resource, error) {
	b, ok := s.bindings[resourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, resourceID)
	}
	if !b.keyed && key != "" {
		return nil, fmt.Errorf("%w: %s takes no key", ErrInvalidKey, resourceID)
	}
	if b.check != nil {
		if err := b.check(key); err != nil {
			return nil, err
		}
	} else if b.keyed && key == "" {
		return nil, fmt.Errorf("%w: %s requires a key", ErrInvalidKey, resourceID)
	}
	return b.res, nil
}

// Ensure makes sure the addressed record is valid and returns its status.
// Request failures are reported in the status, not as an error.
func (s *Store) Ensure(ctx context.Context, resourceID, key string) (cache.Status, error) {
	res, err := s.lookup(resourceID, key)
	if err != nil {
		return cache.Status{}, err
	}
	return res.EnsureStatus(ctx, key, s.timeout), nil
}

// Invalidate marks the addressed record stale.
func (s *Store) Invalidate(resourceID, key string) error {
	res, err := s.lookup(resourceID, key)
	if err != nil {
		return err
	}
	res.Invalidate(key)
	return nil
}

// Refresh invalidates and then ensures the addressed record, returning the
// record's last error. It is the unit of work for periodic polling.
func (s *Store) Refresh(ctx context.Context, resourceID, key string) error {
	if err := s.Invalidate(resourceID, key); err != nil {
		return err
	}
	st, err := s.Ensure(ctx, resourceID, key)
	if err != nil {
		return err
	}
	return st.LastError
}

// DeclareMetricQuery records the series componentID wants over window. A nil
// window uses the current time window, recomputing it first if stale.
func (s *Store) DeclareMetricQuery(componentID string, series []cluster.TimeSeriesQuery, window *timewindow.Window) {
	if window == nil {
		window = s.window.EnsureWindow(s.now())
	}
	s.metrics.Declare(componentID, cluster.NewTimeSeriesQueryRequest(window.Start, window.End, series...))
}

// DeclareGraph ensures the time window at now and declares graph's request
// for componentID against it.
func (s *Store) DeclareGraph(componentID string, graph dashboards.Graph, sources []string, now time.Time) {
	w := s.window.EnsureWindow(now)
	s.metrics.Declare(componentID, graph.Request(w, sources))
}

// DeclareGroup declares every graph of group when the group is shown.
func (s *Store) DeclareGroup(group dashboards.Group, sources []string, now time.Time) {
	if !s.GraphGroupShown(group.ID, group.ShownDefault) {
		return
	}
	for i, g := range group.Graphs {
		s.DeclareGraph(group.ComponentID(i), g, sources, now)
	}
}

// FlushMetricQueries sends pending metric queries and returns the batch
// failure, which is also recorded on every affected query.
func (s *Store) FlushMetricQueries(ctx context.Context) error {
	return s.metrics.Flush(ctx, s.timeout)
}

// SelectTimeScale switches presets.
func (s *Store) SelectTimeScale(name string) error {
	return s.window.SelectScale(name)
}

// EnsureTimeWindow returns the window usable at now.
func (s *Store) EnsureTimeWindow(now time.Time) *timewindow.Window {
	return s.window.EnsureWindow(now)
}

// SetUISetting stores a local UI setting.
func (s *Store) SetUISetting(key string, value any) {
	s.mu.Lock()
	s.settings[key] = value
	s.mu.Unlock()
	s.notify()
}

// UISetting returns a local UI setting.
func (s *Store) UISetting(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok
}

// GraphGroupShown reports whether the group is expanded, falling back to def
// when the user never toggled it.
func (s *Store) GraphGroupShown(groupID string, def bool) bool {
	v, ok := s.UISetting(dashboards.ShownSettingPrefix + groupID)
	if !ok {
		return def
	}
	shown, ok := v.(bool)
	if !ok {
		return def
	}
	return shown
}

// LoadUIData fetches persisted UI data.
func (s *Store) LoadUIData(ctx context.Context, keys ...string) error {
	return s.uidata.Load(ctx, keys, s.timeout)
}

// SaveUIData persists UI data.
func (s *Store) SaveUIData(ctx context.Context, values map[string][]byte) error {
	return s.uidata.Save(ctx, values, s.timeout)
}

// Resources gives typed access to the caches.
func (s *Store) Resources() Resources { return s.res }

// Metrics returns the metrics registry.
func (s *Store) Metrics() *metrics.Registry { return s.metrics }

// ClusterInfo summarises the cached node list. The result is reused until
// the nodes record receives new data.
func (s *Store) ClusterInfo() *summary.ClusterInfo {
	return s.clusterInfo.Select(s.res.Nodes.Get("").Data)
}

// ShardDistribution summarises the cached shard assignments.
func (s *Store) ShardDistribution() *summary.ShardDistribution {
	return s.shardDist.Select(s.res.Shards.Get("").Data)
}

// Statuses returns the status of every known record by resource and key.
func (s *Store) Statuses() map[string]map[string]cache.Status {
	out := make(map[string]map[string]cache.Status, len(s.bindings))
	for name, b := range s.bindings {
		keys := b.res.Keys()
		if len(keys) == 0 {
			continue
		}
		byKey := make(map[string]cache.Status, len(keys))
		for _, k := range keys {
			byKey[k] = b.res.Status(k)
		}
		out[name] = byKey
	}
	return out
}

// GetState returns a snapshot of the console.
func (s *Store) GetState() State {
	s.mu.Lock()
	settings := maps.Clone(s.settings)
	s.mu.Unlock()

	return State{
		Version:         s.version.Load(),
		Cluster:         s.res.Cluster.Get(""),
		Health:          s.res.Health.Get(""),
		Nodes:           s.res.Nodes.Get(""),
		Shards:          s.res.Shards.Get(""),
		Databases:       s.res.Databases.Get(""),
		Raft:            s.res.Raft.Get(""),
		Events:          s.res.Events.Snapshot(),
		DatabaseDetails: s.res.DatabaseDetails.Snapshot(),
		TableDetails:    s.res.TableDetails.Snapshot(),
		TableStats:      s.res.TableStats.Snapshot(),
		Logs:            s.res.Logs.Snapshot(),
		Gossip:          s.res.Gossip.Snapshot(),
		Metrics:         s.metrics.State(),
		TimeWindow:      s.window.State(),
		UIData:          s.uidata.State(),
		UISettings:      settings,
	}
}

// Subscribe registers fn to run after every state change. Listeners run on
// the goroutine that made the change, without store locks held.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.version.Add(1)
	s.mu.Lock()
	listeners := maps.Values(s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
