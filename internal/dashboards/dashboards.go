// Package dashboards is the catalog of graphs the console knows how to show
// and the translation of a graph into a time-series request.
package dashboards

import (
	"strconv"

	"github.com/dreamware/torua-console/internal/cluster"
	"github.com/dreamware/torua-console/internal/timewindow"
)

// ShownSettingPrefix prefixes the UI setting that records whether a group is
// expanded.
const ShownSettingPrefix = "graphGroup/SHOWN_SETTING/"

// Metric is one series drawn on a graph. Empty options take the endpoint
// defaults: AVG downsampling, SUM across sources, no derivative.
type Metric struct {
	Name        string
	Title       string
	Aggregator  string
	Downsampler string
	Derivative  string
}

// Query renders m for the given sources; nil sources means all nodes.
func (m Metric) Query(sources []string) cluster.TimeSeriesQuery {
	q := cluster.TimeSeriesQuery{
		Name:             m.Name,
		Sources:          sources,
		Downsampler:      m.Downsampler,
		SourceAggregator: m.Aggregator,
		Derivative:       m.Derivative,
	}
	if q.Downsampler == "" {
		q.Downsampler = cluster.AggregatorAvg
	}
	if q.SourceAggregator == "" {
		q.SourceAggregator = cluster.AggregatorSum
	}
	if q.Derivative == "" {
		q.Derivative = cluster.DerivativeNone
	}
	return q
}

func rate(name, title string) Metric {
	return Metric{Name: name, Title: title, Derivative: cluster.DerivativeNonNegativeRate}
}

func gauge(name, title string) Metric {
	return Metric{Name: name, Title: title}
}

func maxOf(name, title string) Metric {
	return Metric{Name: name, Title: title, Aggregator: cluster.AggregatorMax, Downsampler: cluster.AggregatorMax}
}

// Graph is a set of metrics drawn together.
type Graph struct {
	Title   string
	Tooltip string
	Units   string
	Metrics []Metric
}

// Request builds the query for g over w.
func (g Graph) Request(w *timewindow.Window, sources []string) *cluster.TimeSeriesQueryRequest {
	queries := make([]cluster.TimeSeriesQuery, 0, len(g.Metrics))
	for _, m := range g.Metrics {
		queries = append(queries, m.Query(sources))
	}
	return cluster.NewTimeSeriesQueryRequest(w.Start, w.End, queries...)
}

// Group is a collapsible section of graphs.
type Group struct {
	ID           string
	Title        string
	ShownDefault bool
	Graphs       []Graph
}

// ComponentID is the metrics registry id of the i-th graph in g.
func (g Group) ComponentID(i int) string {
	return g.ID + strconv.Itoa(i)
}

// ShownSetting is the UI setting key holding g's expanded state.
func (g Group) ShownSetting() string {
	return ShownSettingPrefix + g.ID
}

// Catalog lists the node dashboard in display order.
var Catalog = []Group{
	{
		ID:           "node.activity",
		Title:        "Activity",
		ShownDefault: true,
		Graphs: []Graph{
			{
				Title:   "Requests Per Second",
				Tooltip: "The average number of key/value requests served per second.",
				Units:   "COUNT",
				Metrics: []Metric{
					rate("torua.node.gets", "Gets"),
					rate("torua.node.puts", "Puts"),
					rate("torua.node.deletes", "Deletes"),
				},
			},
			{
				Title:   "Stored Bytes",
				Tooltip: "The amount of storage used by live data.",
				Units:   "BYTES",
				Metrics: []Metric{gauge("torua.node.used_bytes", "Used")},
			},
			{
				Title:   "Keys",
				Tooltip: "The number of keys held by local shards.",
				Units:   "COUNT",
				Metrics: []Metric{gauge("torua.node.keys", "Keys")},
			},
			{
				Title:   "Request Latency",
				Tooltip: "Per-node latency percentiles over one minute. The maximum across nodes is shown.",
				Units:   "DURATION",
				Metrics: []Metric{
					maxOf("torua.node.latency-max", "Max"),
					maxOf("torua.node.latency-p99", "99th percentile"),
					maxOf("torua.node.latency-p50", "50th percentile"),
				},
			},
		},
	},
	{
		ID:    "node.cluster",
		Title: "Cluster",
		Graphs: []Graph{
			{
				Title:   "Shards Per Node",
				Units:   "COUNT",
				Metrics: []Metric{gauge("torua.node.shards", "Shards")},
			},
			{
				Title:   "Health Checks",
				Tooltip: "Coordinator health checks per second by outcome.",
				Units:   "COUNT",
				Metrics: []Metric{
					rate("torua.coordinator.health_checks.ok", "Passed"),
					rate("torua.coordinator.health_checks.failed", "Failed"),
				},
			},
			{
				Title:   "Rebalances",
				Units:   "COUNT",
				Metrics: []Metric{rate("torua.coordinator.rebalances", "Rebalances")},
			},
		},
	},
	{
		ID:    "node.resources",
		Title: "System Resources",
		Graphs: []Graph{
			{
				Title: "CPU Usage",
				Units: "PERCENT",
				Metrics: []Metric{
					{Name: "torua.node.sys.cpu.user.percent", Title: "User %", Aggregator: cluster.AggregatorAvg},
					{Name: "torua.node.sys.cpu.sys.percent", Title: "Sys %", Aggregator: cluster.AggregatorAvg},
				},
			},
			{
				Title: "Memory Usage",
				Units: "BYTES",
				Metrics: []Metric{
					gauge("torua.node.sys.rss", "Total memory (RSS)"),
					gauge("torua.node.sys.go.allocbytes", "Go Allocated"),
					gauge("torua.node.sys.go.totalbytes", "Go Total"),
				},
			},
			{
				Title:   "Goroutine Count",
				Units:   "COUNT",
				Metrics: []Metric{gauge("torua.node.sys.goroutines", "Goroutines")},
			},
			{
				Title: "GC Pause Time",
				Units: "DURATION",
				Metrics: []Metric{
					{Name: "torua.node.sys.gc.pause.ns", Title: "Avg Time", Aggregator: cluster.AggregatorAvg, Derivative: cluster.DerivativeNonNegativeRate},
					{Name: "torua.node.sys.gc.pause.ns", Title: "Max Time", Aggregator: cluster.AggregatorMax, Derivative: cluster.DerivativeNonNegativeRate},
				},
			},
		},
	},
}

// Lookup returns the catalog group with the given id.
func Lookup(id string) (Group, bool) {
	for _, g := range Catalog {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}
