package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

// Validator is implemented by every response schema. Decoding fails closed:
// a payload that parses but does not validate is rejected as malformed.
type Validator interface {
	Validate() error
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid payload")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Node health states reported by the coordinator.
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
	HealthStatusUnknown   = "unknown"
)

type NodeInfo struct {
	ID              string    `json:"id"`
	Addr            string    `json:"addr"`
	Status          string    `json:"health_status,omitempty"`
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`
	CapacityBytes   int64     `json:"capacity_bytes,omitempty"`
	UsedBytes       int64     `json:"used_bytes,omitempty"`
	Shards          []int     `json:"shards,omitempty"`
}

func (n NodeInfo) Validate() error {
	if n.ID == "" {
		return invalid("node id is required")
	}
	if n.Addr == "" {
		return invalid("node %s has no addr", n.ID)
	}
	if n.CapacityBytes < 0 || n.UsedBytes < 0 {
		return invalid("node %s reports negative capacity", n.ID)
	}
	return nil
}

type NodesResponse struct {
	Nodes []NodeInfo `json:"nodes"`
}

func (r *NodesResponse) Validate() error {
	for _, n := range r.Nodes {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type ShardAssignment struct {
	ShardID   int    `json:"ShardID"`
	NodeID    string `json:"NodeID"`
	IsPrimary bool   `json:"IsPrimary"`
}

type ShardsResponse struct {
	Shards    []ShardAssignment `json:"shards"`
	NumShards int               `json:"num_shards"`
}

func (r *ShardsResponse) Validate() error {
	if r.NumShards < 0 {
		return invalid("num_shards is negative")
	}
	for _, s := range r.Shards {
		if s.ShardID < 0 || s.ShardID >= r.NumShards {
			return invalid("shard %d outside [0, %d)", s.ShardID, r.NumShards)
		}
		if s.NodeID == "" {
			return invalid("shard %d has no node", s.ShardID)
		}
	}
	return nil
}

type HealthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id,omitempty"`
}

func (r *HealthResponse) Validate() error {
	if r.Status == "" {
		return invalid("health status is required")
	}
	return nil
}

// Healthy mirrors the console's "ok..." prefix check.
func (r *HealthResponse) Healthy() bool {
	return r != nil && strings.HasPrefix(strings.ToLower(r.Status), "ok")
}

type ClusterResponse struct {
	ClusterID string `json:"cluster_id"`
}

func (r *ClusterResponse) Validate() error {
	if r.ClusterID == "" {
		return invalid("cluster id is required")
	}
	return nil
}

// EventsRequest filters /_admin/v1/events. Zero fields do not filter.
type EventsRequest struct {
	Type     string `json:"type,omitempty"`
	TargetID int64  `json:"target_id,omitempty"`
}

// Query encodes the filter as query parameters. The encoding is canonical:
// equal filters always produce the same string from Encode.
func (r EventsRequest) Query() url.Values {
	q := url.Values{}
	if r.Type != "" {
		q.Set("type", r.Type)
	}
	if r.TargetID != 0 {
		q.Set("target_id", strconv.FormatInt(r.TargetID, 10))
	}
	return q
}

// ParseEventsRequest is the inverse of Query().Encode().
func ParseEventsRequest(raw string) (EventsRequest, error) {
	q, err := url.ParseQuery(raw)
	if err != nil {
		return EventsRequest{}, fmt.Errorf("parse events filter: %w", err)
	}
	var r EventsRequest
	for k := range q {
		switch k {
		case "type":
			r.Type = q.Get(k)
		case "target_id":
			id, err := strconv.ParseInt(q.Get(k), 10, 64)
			if err != nil {
				return EventsRequest{}, fmt.Errorf("parse events filter target_id: %w", err)
			}
			r.TargetID = id
		default:
			return EventsRequest{}, fmt.Errorf("unknown events filter %q", k)
		}
	}
	return r, nil
}

type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	TargetID    int64     `json:"target_id"`
	ReportingID int64     `json:"reporting_id"`
	Info        string    `json:"info,omitempty"`
}

type EventsResponse struct {
	Events []Event `json:"events"`
}

func (r *EventsResponse) Validate() error {
	for i, e := range r.Events {
		if e.EventType == "" {
			return invalid("event %d has no type", i)
		}
	}
	return nil
}

type DatabasesResponse struct {
	Databases []string `json:"databases"`
}

func (r *DatabasesResponse) Validate() error {
	for _, db := range r.Databases {
		if db == "" {
			return invalid("empty database name")
		}
	}
	return nil
}

type DatabaseDetailsResponse struct {
	TableNames []string `json:"table_names"`
}

func (r *DatabaseDetailsResponse) Validate() error {
	if slices.Contains(r.TableNames, "") {
		return invalid("empty table name")
	}
	return nil
}

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type TableDetailsResponse struct {
	Columns    []Column `json:"columns"`
	RangeCount int64    `json:"range_count"`
}

func (r *TableDetailsResponse) Validate() error {
	for i, c := range r.Columns {
		if c.Name == "" {
			return invalid("column %d has no name", i)
		}
	}
	if r.RangeCount < 0 {
		return invalid("negative range count")
	}
	return nil
}

type TableStatsResponse struct {
	RangeCount           int64 `json:"range_count"`
	ReplicaCount         int64 `json:"replica_count"`
	NodeCount            int64 `json:"node_count"`
	ApproximateDiskBytes int64 `json:"approximate_disk_bytes"`
}

func (r *TableStatsResponse) Validate() error {
	if r.RangeCount < 0 || r.ReplicaCount < 0 || r.NodeCount < 0 || r.ApproximateDiskBytes < 0 {
		return invalid("table stats contain negative counters")
	}
	return nil
}

type LogEntry struct {
	Time     time.Time `json:"time"`
	Severity string    `json:"severity"`
	File     string    `json:"file,omitempty"`
	Line     int       `json:"line,omitempty"`
	Message  string    `json:"message"`
}

type LogEntriesResponse struct {
	Entries []LogEntry `json:"entries"`
}

func (r *LogEntriesResponse) Validate() error {
	for i, e := range r.Entries {
		if e.Severity == "" {
			return invalid("log entry %d has no severity", i)
		}
	}
	return nil
}

// GossipInfo is one entry of a node's gossip network view.
type GossipInfo struct {
	Value     json.RawMessage `json:"value"`
	NodeID    string          `json:"node_id"`
	OrigStamp int64           `json:"orig_stamp"`
	TTLStamp  int64           `json:"ttl_stamp,omitempty"`
	Hops      int             `json:"hops,omitempty"`
}

// GossipResponse is the gossip state as seen by one node, keyed by info key.
type GossipResponse struct {
	NodeID string                `json:"node_id"`
	Infos  map[string]GossipInfo `json:"infos"`
}

func (r *GossipResponse) Validate() error {
	if r.NodeID == "" {
		return invalid("gossip response has no node id")
	}
	for k, info := range r.Infos {
		if k == "" {
			return invalid("empty gossip key")
		}
		if info.NodeID == "" {
			return invalid("gossip info %q has no origin node", k)
		}
	}
	return nil
}

// RaftReplica is one replica's view of a shard's consensus group.
type RaftReplica struct {
	NodeID  string `json:"node_id"`
	Leader  bool   `json:"leader"`
	Term    uint64 `json:"term"`
	Applied uint64 `json:"applied"`
}

// RaftShardStatus groups the replicas of one shard.
type RaftShardStatus struct {
	ShardID  int           `json:"shard_id"`
	Replicas []RaftReplica `json:"replicas"`
}

// Leader returns the node id of the replica that claims leadership.
func (s RaftShardStatus) Leader() (string, bool) {
	for _, r := range s.Replicas {
		if r.Leader {
			return r.NodeID, true
		}
	}
	return "", false
}

// RaftDebugResponse is the cluster-wide replication debug view.
type RaftDebugResponse struct {
	Shards []RaftShardStatus `json:"shards"`
}

func (r *RaftDebugResponse) Validate() error {
	for _, sh := range r.Shards {
		if sh.ShardID < 0 {
			return invalid("negative shard id %d", sh.ShardID)
		}
		leaders := 0
		for _, rep := range sh.Replicas {
			if rep.NodeID == "" {
				return invalid("shard %d has a replica without node", sh.ShardID)
			}
			if rep.Leader {
				leaders++
			}
		}
		if leaders > 1 {
			return invalid("shard %d reports %d leaders", sh.ShardID, leaders)
		}
	}
	return nil
}

// UIDataValue is a persisted console setting.
type UIDataValue struct {
	Value       []byte    `json:"value"`
	LastUpdated time.Time `json:"last_updated"`
}

type GetUIDataResponse struct {
	KeyValues map[string]UIDataValue `json:"key_values"`
}

func (r *GetUIDataResponse) Validate() error {
	for k := range r.KeyValues {
		if k == "" {
			return invalid("empty ui data key")
		}
	}
	return nil
}

type SetUIDataRequest struct {
	KeyValues map[string][]byte `json:"key_values"`
}

type SetUIDataResponse struct{}

func (r *SetUIDataResponse) Validate() error { return nil }
