package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/torua-console/internal/cluster"
	"github.com/dreamware/torua-console/internal/gateway"
	"github.com/dreamware/torua-console/internal/telemetry"
)

// QueryPath is the coordinator endpoint that answers batched series queries.
const QueryPath = "/ts/query"

// Query tracks the series one component wants and what it last received.
type Query struct {
	ID string
	// Data is the last successful response for this component.
	Data *cluster.TimeSeriesQueryResponse
	// Error is the failure of the last batch that carried Request.
	Error error
	// Request produced Data or Error.
	Request *cluster.TimeSeriesQueryRequest
	// NextRequest is the most recently declared request. It may be in flight
	// or already applied.
	NextRequest *cluster.TimeSeriesQueryRequest
}

// Pending reports whether NextRequest still has to be sent.
func (q *Query) Pending() bool {
	return q != nil && q.NextRequest != nil && !q.NextRequest.Equal(q.Request)
}

// State is a snapshot of the registry.
type State struct {
	// InFlight counts outstanding batch requests across the registry.
	InFlight int
	Queries  map[string]*Query
}

// QueryFunc sends one batched request.
type QueryFunc func(ctx context.Context, req *cluster.TimeSeriesQueryRequest, timeout time.Duration) (*cluster.TimeSeriesQueryResponse, error)

// GatewayQuery sends batches to QueryPath through g.
func GatewayQuery(g *gateway.Gateway) QueryFunc {
	return func(ctx context.Context, req *cluster.TimeSeriesQueryRequest, timeout time.Duration) (*cluster.TimeSeriesQueryResponse, error) {
		return gateway.Fetch[cluster.TimeSeriesQueryResponse](ctx, g, gateway.Request{Path: QueryPath, Body: req}, timeout)
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for flush failures.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithCollector sets the collector for flush batches; nil keeps the no-op collector.
func WithCollector(c telemetry.Collector) Option {
	return func(r *Registry) {
		if c != nil {
			r.collector = c
		}
	}
}

// WithOnChange registers fn to run after the registry state changes.
func WithOnChange(fn func()) Option {
	return func(r *Registry) { r.onChange = fn }
}

// Registry keeps one Query per consumer component and batches their pending
// requests into as few network calls as possible.
type Registry struct {
	query QueryFunc

	mu       sync.Mutex
	queries  map[string]*Query
	sending  map[string]*cluster.TimeSeriesQueryRequest
	inFlight int

	flushes singleflight.Group

	logger    zerolog.Logger
	collector telemetry.Collector
	onChange  func()
}

// NewRegistry creates an empty registry that sends batches with query.
func NewRegistry(query QueryFunc, opts ...Option) *Registry {
	r := &Registry{
		query:     query,
		queries:   make(map[string]*Query),
		sending:   make(map[string]*cluster.TimeSeriesQueryRequest),
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Declare records req as the request component id wants next. The last
// declaration before a flush wins. Nothing is sent until Flush.
func (r *Registry) Declare(id string, req *cluster.TimeSeriesQueryRequest) {
	r.mu.Lock()
	next := Query{ID: id}
	if prev, ok := r.queries[id]; ok {
		if prev.NextRequest.Equal(req) {
			r.mu.Unlock()
			return
		}
		next = *prev
	}
	next.NextRequest = req
	r.queries[id] = &next
	r.mu.Unlock()
	r.changed()
}

// Invalidate forgets which request produced the data of id so that the next
// Flush sends NextRequest again. Data and Error are kept.
func (r *Registry) Invalidate(id string) {
	r.mu.Lock()
	prev, ok := r.queries[id]
	if !ok || prev.Request == nil {
		r.mu.Unlock()
		return
	}
	next := *prev
	next.Request = nil
	r.queries[id] = &next
	r.mu.Unlock()
	r.changed()
}

// Get returns the query for id, or nil if it was never declared.
func (r *Registry) Get(id string) *Query {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[id]
}

// State returns a snapshot of the registry.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{InFlight: r.inFlight, Queries: maps.Clone(r.queries)}
}

// Pending returns the sorted ids a Flush would send now.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, q := range r.queries {
		if r.pendingLocked(id, q) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) pendingLocked(id string, q *Query) bool {
	return q.Pending() && !q.NextRequest.Equal(r.sending[id])
}

// Flush sends every pending request. Requests sharing a time span go out as
// one batch, so ids declared against the shared window cost a single call.
//
// A Flush that overlaps one already running waits for it and then sends
// whatever is still pending, so batches never overlap. The returned error is
// the first batch failure; it is also stored on every affected query. ctx
// bounds only the wait.
func (r *Registry) Flush(ctx context.Context, timeout time.Duration) error {
	led, err := r.joinFlush(ctx, timeout)
	if err != nil || led {
		return err
	}
	_, err = r.joinFlush(ctx, timeout)
	return err
}

func (r *Registry) joinFlush(ctx context.Context, timeout time.Duration) (bool, error) {
	led := false
	sendCtx := context.WithoutCancel(ctx)
	ch := r.flushes.DoChan("flush", func() (interface{}, error) {
		led = true
		return nil, r.flush(sendCtx, timeout)
	})
	select {
	case res := <-ch:
		return led, res.Err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

type span struct {
	start, end int64
}

type batch struct {
	span span
	ids  []string
	reqs []*cluster.TimeSeriesQueryRequest
}

func (r *Registry) flush(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	bySpan := make(map[span]*batch)
	for id, q := range r.queries {
		if !r.pendingLocked(id, q) {
			continue
		}
		s := span{q.NextRequest.StartNanos, q.NextRequest.EndNanos}
		b, ok := bySpan[s]
		if !ok {
			b = &batch{span: s}
			bySpan[s] = b
		}
		b.ids = append(b.ids, id)
	}
	if len(bySpan) == 0 {
		r.mu.Unlock()
		return nil
	}
	batches := maps.Values(bySpan)
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].span.start != batches[j].span.start {
			return batches[i].span.start < batches[j].span.start
		}
		return batches[i].span.end < batches[j].span.end
	})
	for _, b := range batches {
		slices.Sort(b.ids)
		for _, id := range b.ids {
			req := r.queries[id].NextRequest
			b.reqs = append(b.reqs, req)
			r.sending[id] = req
		}
	}
	r.inFlight += len(batches)
	inFlight := r.inFlight
	r.mu.Unlock()

	r.collector.SetMetricsInFlight(inFlight)
	r.changed()

	var g errgroup.Group
	for _, b := range batches {
		b := b
		g.Go(func() error { return r.send(ctx, b, timeout) })
	}
	return g.Wait()
}

func (r *Registry) send(ctx context.Context, b *batch, timeout time.Duration) error {
	combined := &cluster.TimeSeriesQueryRequest{StartNanos: b.span.start, EndNanos: b.span.end}
	for _, req := range b.reqs {
		combined.Queries = append(combined.Queries, req.Queries...)
	}
	r.collector.ObserveMetricsBatch(len(combined.Queries))

	resp, err := r.query(ctx, combined, timeout)
	if err == nil {
		got := 0
		if resp != nil {
			got = len(resp.Results)
		}
		if got != len(combined.Queries) {
			err = &gateway.Error{
				Kind: gateway.KindDecode,
				Err:  fmt.Errorf("batch of %d queries answered with %d results", len(combined.Queries), got),
			}
		}
	}

	r.mu.Lock()
	offset := 0
	for i, id := range b.ids {
		delete(r.sending, id)
		next := *r.queries[id]
		next.Request = b.reqs[i]
		n := len(b.reqs[i].Queries)
		if err != nil {
			next.Error = err
		} else {
			next.Data = &cluster.TimeSeriesQueryResponse{Results: slices.Clone(resp.Results[offset : offset+n])}
			next.Error = nil
		}
		offset += n
		r.queries[id] = &next
	}
	r.inFlight--
	inFlight := r.inFlight
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn().Err(err).Strs("ids", b.ids).Msg("metrics batch failed")
	} else {
		r.logger.Debug().Strs("ids", b.ids).Int("queries", len(combined.Queries)).Msg("metrics batch applied")
	}
	r.collector.SetMetricsInFlight(inFlight)
	r.changed()
	return err
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}
