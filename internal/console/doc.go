// Package console is the state store of the torua console: one object owning
// every cached resource, the metrics registry, the shared time window, and
// the UI data and settings, with Dispatch as its single mutation entry point.
//
// # Data Flow
//
//	consumer ──Dispatch(intent)──▶ Store ──┬──▶ cache.Cache[T]      (per resource)
//	    ▲                                  ├──▶ metrics.Registry     (per component)
//	    │                                  ├──▶ timewindow.Controller
//	    │                                  └──▶ uidata.Set
//	    │                                              │
//	    └────── GetState() ◀── Subscribe(fn) ◀─────────┘ change hooks
//
// Every component publishes a change by allocating new records, then calls
// the store's notify hook, which bumps State.Version and runs listeners. A
// consumer that keeps the previous State can compare record pointers to find
// what changed.
//
// # Resources
//
// Singleton resources use the empty key; keyed ones require one:
//
//	cluster, health, nodes, shards, databases, raft      key ""
//	events                                               key EventsKey(filter), "" unfiltered
//	database_details                                     key database
//	table_details, table_stats                           key TableKey(db, table)
//	logs, gossip                                         key node id
//
// # Errors
//
// Dispatch and the direct methods return errors only for misuse: unknown
// resource, key that does not fit the resource, unknown scale, unknown
// intent. Request failures land in the records (LastError, Query.Error,
// uidata.State.Error). There is no automatic retry: callers that poll use
// Refresh, which invalidates before ensuring.
//
// # Graphs
//
// DeclareGraph and DeclareGroup connect the dashboard catalog to the
// registry. They ensure the time window first, so a stale window is
// recomputed once and every graph declared afterwards in the same pass shares
// it, which lets the next flush send a single batch.
package console
