// Package storage holds the console's local mirror of UI data, the small
// key/value settings the coordinator persists on behalf of the console.
//
// # Overview
//
// The coordinator is the system of record for UI data. The console keeps the
// values it has loaded or saved in a Store so that reads never block on the
// network, and so that the state snapshot can expose them without reaching
// into the uidata package's request bookkeeping.
//
//	┌─────────────────────────────────────┐
//	│        uidata.Set                   │
//	│   (Load / Save, in-flight counter)  │
//	└─────────────────────────────────────┘
//	                 │ Put / Get
//	                 ▼
//	┌─────────────────────────────────────┐
//	│        storage.Store                │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│        MemoryStore                  │
//	│   map[string]Entry + RWMutex        │
//	└─────────────────────────────────────┘
//
// # Ordering
//
// Loads and saves can complete out of order. Every Entry carries the time the
// coordinator (or the saving console) last updated it, and Put refuses to
// replace a newer entry with an older one. This keeps the mirror monotonic per
// key without any cross-key coordination.
//
// # Concurrency
//
// MemoryStore uses a sync.RWMutex: reads take the shared lock, writes the
// exclusive one. Values are copied on the way in and on the way out, so no
// caller can alias stored bytes.
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	_, _ = store.Put("dismissed.banner", storage.Entry{Value: []byte("true"), UpdatedAt: time.Now()})
//
//	e, err := store.Get("dismissed.banner")
//	if errors.Is(err, storage.ErrKeyNotFound) {
//	    // never loaded
//	}
package storage
