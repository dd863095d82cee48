package console

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dreamware/torua-console/internal/cache"
	"github.com/dreamware/torua-console/internal/cluster"
	"github.com/dreamware/torua-console/internal/gateway"
)

// Resource identifiers accepted by Ensure and Invalidate.
const (
	ResourceCluster         = "cluster"
	ResourceHealth          = "health"
	ResourceNodes           = "nodes"
	ResourceShards          = "shards"
	ResourceEvents          = "events"
	ResourceDatabases       = "databases"
	ResourceDatabaseDetails = "database_details"
	ResourceTableDetails    = "table_details"
	ResourceTableStats      = "table_stats"
	ResourceLogs            = "logs"
	ResourceGossip          = "gossip"
	ResourceRaft            = "raft"
)

// TableKey addresses a table in the keyed table resources.
func TableKey(database, table string) string {
	return database + "/" + table
}

// SplitTableKey is the inverse of TableKey.
func SplitTableKey(key string) (database, table string, err error) {
	database, table, ok := strings.Cut(key, "/")
	if !ok || database == "" || table == "" {
		return "", "", fmt.Errorf("%w: table key %q is not database/table", ErrInvalidKey, key)
	}
	return database, table, nil
}

// EventsKey addresses the events resource filtered by req. The unfiltered
// list uses the empty key.
func EventsKey(req cluster.EventsRequest) string {
	return req.Query().Encode()
}

func parseEventsKey(key string) (cluster.EventsRequest, error) {
	req, err := cluster.ParseEventsRequest(key)
	if err != nil {
		return cluster.EventsRequest{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if EventsKey(req) != key {
		return cluster.EventsRequest{}, fmt.Errorf("%w: events key %q is not canonical, use EventsKey", ErrInvalidKey, key)
	}
	return req, nil
}

// Resources gives typed access to every cached resource.
type Resources struct {
	Cluster   *cache.Cache[cluster.ClusterResponse]
	Health    *cache.Cache[cluster.HealthResponse]
	Nodes     *cache.Cache[cluster.NodesResponse]
	Shards    *cache.Cache[cluster.ShardsResponse]
	Databases *cache.Cache[cluster.DatabasesResponse]
	Raft      *cache.Cache[cluster.RaftDebugResponse]

	// Keyed by EventsKey; "" is the unfiltered list.
	Events *cache.Cache[cluster.EventsResponse]

	// Keyed by database name.
	DatabaseDetails *cache.Cache[cluster.DatabaseDetailsResponse]
	// Keyed by TableKey.
	TableDetails *cache.Cache[cluster.TableDetailsResponse]
	TableStats   *cache.Cache[cluster.TableStatsResponse]
	// Keyed by node id.
	Logs   *cache.Cache[cluster.LogEntriesResponse]
	Gossip *cache.Cache[cluster.GossipResponse]
}

type binding struct {
	res   cache.Resource
	keyed bool
	// check validates a key beyond presence. Keyed resources with a check
	// also accept the empty key when check does.
	check func(key string) error
}

// fetcher binds a request builder to the gateway.
func fetcher[T any, PT interface {
	*T
	cluster.Validator
}](gw *gateway.Gateway, build func(key string) (gateway.Request, error)) cache.Fetcher[T] {
	return func(ctx context.Context, key string, timeout time.Duration) (*T, error) {
		req, err := build(key)
		if err != nil {
			return nil, err
		}
		return gateway.Fetch[T, PT](ctx, gw, req, timeout)
	}
}

func static(path string) func(string) (gateway.Request, error) {
	return func(string) (gateway.Request, error) {
		return gateway.Request{Path: path}, nil
	}
}

func newResources(gw *gateway.Gateway, opts ...cache.Option) Resources {
	return Resources{
		Cluster:   cache.New(ResourceCluster, fetcher[cluster.ClusterResponse](gw, static("/_admin/v1/cluster")), opts...),
		Health:    cache.New(ResourceHealth, fetcher[cluster.HealthResponse](gw, static("/health")), opts...),
		Nodes:     cache.New(ResourceNodes, fetcher[cluster.NodesResponse](gw, static("/nodes")), opts...),
		Shards:    cache.New(ResourceShards, fetcher[cluster.ShardsResponse](gw, static("/shards")), opts...),
		Databases: cache.New(ResourceDatabases, fetcher[cluster.DatabasesResponse](gw, static("/_admin/v1/databases")), opts...),
		Raft:      cache.New(ResourceRaft, fetcher[cluster.RaftDebugResponse](gw, static("/_status/raft")), opts...),

		Events: cache.New(ResourceEvents, fetcher[cluster.EventsResponse](gw, func(key string) (gateway.Request, error) {
			req, err := parseEventsKey(key)
			if err != nil {
				return gateway.Request{}, err
			}
			return gateway.Request{
				Path:     "/_admin/v1/events",
				Query:    req.Query(),
				Endpoint: "/_admin/v1/events",
			}, nil
		}), opts...),

		DatabaseDetails: cache.New(ResourceDatabaseDetails, fetcher[cluster.DatabaseDetailsResponse](gw, func(db string) (gateway.Request, error) {
			return gateway.Request{
				Path:     "/_admin/v1/databases/" + url.PathEscape(db),
				Endpoint: "/_admin/v1/databases/{db}",
			}, nil
		}), opts...),
		TableDetails: cache.New(ResourceTableDetails, fetcher[cluster.TableDetailsResponse](gw, func(key string) (gateway.Request, error) {
			db, table, err := SplitTableKey(key)
			if err != nil {
				return gateway.Request{}, err
			}
			return gateway.Request{
				Path:     "/_admin/v1/databases/" + url.PathEscape(db) + "/tables/" + url.PathEscape(table),
				Endpoint: "/_admin/v1/databases/{db}/tables/{table}",
			}, nil
		}), opts...),
		TableStats: cache.New(ResourceTableStats, fetcher[cluster.TableStatsResponse](gw, func(key string) (gateway.Request, error) {
			db, table, err := SplitTableKey(key)
			if err != nil {
				return gateway.Request{}, err
			}
			return gateway.Request{
				Path:     "/_admin/v1/databases/" + url.PathEscape(db) + "/tables/" + url.PathEscape(table) + "/stats",
				Endpoint: "/_admin/v1/databases/{db}/tables/{table}/stats",
			}, nil
		}), opts...),
		Logs: cache.New(ResourceLogs, fetcher[cluster.LogEntriesResponse](gw, func(node string) (gateway.Request, error) {
			return gateway.Request{
				Path:     "/_status/logs/" + url.PathEscape(node),
				Endpoint: "/_status/logs/{node}",
			}, nil
		}), opts...),
		Gossip: cache.New(ResourceGossip, fetcher[cluster.GossipResponse](gw, func(node string) (gateway.Request, error) {
			return gateway.Request{
				Path:     "/_status/gossip/" + url.PathEscape(node),
				Endpoint: "/_status/gossip/{node}",
			}, nil
		}), opts...),
	}
}

func checkTableKey(key string) error {
	_, _, err := SplitTableKey(key)
	return err
}

func checkEventsKey(key string) error {
	_, err := parseEventsKey(key)
	return err
}

func (r Resources) bindings() map[string]binding {
	return map[string]binding{
		ResourceCluster:         {res: r.Cluster},
		ResourceHealth:          {res: r.Health},
		ResourceNodes:           {res: r.Nodes},
		ResourceShards:          {res: r.Shards},
		ResourceDatabases:       {res: r.Databases},
		ResourceRaft:            {res: r.Raft},
		ResourceEvents:          {res: r.Events, keyed: true, check: checkEventsKey},
		ResourceDatabaseDetails: {res: r.DatabaseDetails, keyed: true},
		ResourceTableDetails:    {res: r.TableDetails, keyed: true, check: checkTableKey},
		ResourceTableStats:      {res: r.TableStats, keyed: true, check: checkTableKey},
		ResourceLogs:            {res: r.Logs, keyed: true},
		ResourceGossip:          {res: r.Gossip, keyed: true},
	}
}
