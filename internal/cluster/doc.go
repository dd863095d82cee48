// Package cluster defines the wire schemas the console exchanges with a Torua
// coordinator: node membership, shard assignments, health, cluster identity,
// events, database and table metadata, node logs, gossip and replication
// debug views, persisted UI data and time series queries.
//
// # Overview
//
// Every response type implements Validator. The gateway decodes JSON with
// unknown fields rejected and then calls Validate, so a payload that parses
// but carries nonsense (a shard outside the shard range, a node without an
// address) is reported as a decode failure instead of being coerced into a
// half-populated value.
//
//	coordinator ──JSON──▶ gateway.Send ──decode──▶ *T ──Validate()──▶ cache
//	                                     │                 │
//	                                     └── ErrDecode ◀───┘
//
// # Endpoints
//
// The schemas map onto these coordinator endpoints:
//
//	GET  /nodes                               NodesResponse
//	GET  /shards                              ShardsResponse
//	GET  /health                              HealthResponse
//	GET  /_admin/v1/cluster                   ClusterResponse
//	GET  /_admin/v1/events?type=&target_id=   EventsResponse
//	GET  /_admin/v1/databases                 DatabasesResponse
//	GET  /_admin/v1/databases/{db}            DatabaseDetailsResponse
//	GET  /_admin/v1/databases/{db}/tables/{t} TableDetailsResponse
//	GET  /_admin/v1/databases/{db}/tables/{t}/stats TableStatsResponse
//	GET  /_status/logs/{node}                 LogEntriesResponse
//	GET  /_status/gossip/{node}               GossipResponse
//	GET  /_status/raft                        RaftDebugResponse
//	GET  /_admin/v1/uidata?keys=...           GetUIDataResponse
//	POST /_admin/v1/uidata                    SetUIDataResponse
//	POST /ts/query                            TimeSeriesQueryResponse
//
// # Time series
//
// A TimeSeriesQueryRequest carries one time span and any number of series.
// The endpoint answers with one result per requested series, in request
// order; the metrics registry relies on that ordering to split a batched
// response back into per-component slices.
//
// # See Also
//
//   - internal/gateway: performs the exchanges and applies Validate
//   - internal/console: binds each schema to a cached resource
package cluster
