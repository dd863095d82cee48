// Package cache holds the per-resource cached data records the console reads
// from and the coalescing logic that keeps one request outstanding per record.
//
// # Record lifecycle
//
//	            Ensure (not valid, not in flight)
//	  empty ──────────────────────────────────────► in flight
//	    ▲                                               │
//	    │                       success: Data, Valid    │ failure: LastError,
//	    │                                               │ Data kept
//	    │                                               ▼
//	  stale ◄──────── Invalidate ──────────────────── settled
//
// A record is never deleted. Invalidate only clears Valid, so the previous
// Data stays visible until a new response replaces it.
//
// # Coalescing
//
// Every Ensure for a record that is already in flight joins the outstanding
// request through a singleflight.Group rather than issuing another one. The
// group entry and the InFlight flag are always updated together under the
// cache mutex, so a joining caller can never observe one without the other.
//
// Fetch errors are never returned from Ensure. They are stored in the record
// and surfaced through LastError, which keeps the polling callers free of
// error handling they would only ignore.
package cache
