// Package metrics batches the time-series queries declared by console
// components.
//
// Components never fetch series themselves. Each one declares the request it
// wants under its own id, and a later Flush sends every request that differs
// from what the component last received. Requests over the same time span are
// concatenated into one call to the coordinator and the results are sliced
// back to each id by position.
//
// A declaration made while an older request for the same id is in flight is
// not lost: the older response is applied to Data and Request, and the newer
// NextRequest stays pending for the following flush.
package metrics
