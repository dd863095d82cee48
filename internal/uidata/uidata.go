// Package uidata loads and saves the key/value settings the coordinator
// persists for the console, mirroring them into a local storage.Store.
package uidata

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"

	"github.com/dreamware/torua-console/internal/cluster"
	"github.com/dreamware/torua-console/internal/gateway"
	"github.com/dreamware/torua-console/internal/storage"
)

// Path is the coordinator endpoint for UI data.
const Path = "/_admin/v1/uidata"

// State is a snapshot of the set.
type State struct {
	// InFlight counts outstanding load and save requests.
	InFlight int
	// Error is the failure of the most recently settled request, if any.
	Error error
	// Data is shared between snapshots and replaced, never mutated, when a
	// request writes new values. Callers must not modify it.
	Data map[string][]byte
}

// Option configures a Set.
type Option func(*Set)

// WithLogger sets the logger used to report failed requests.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Set) { s.logger = l }
}

// WithOnChange registers fn to run after the set state changes.
func WithOnChange(fn func()) Option {
	return func(s *Set) { s.onChange = fn }
}

// WithClock overrides the clock used to stamp saved values.
func WithClock(now func() time.Time) Option {
	return func(s *Set) {
		if now != nil {
			s.now = now
		}
	}
}

// Set tracks UI data requests and the values they produced.
type Set struct {
	gw    *gateway.Gateway
	store storage.Store

	mu       sync.Mutex
	inFlight int
	err      error
	data     map[string][]byte

	now      func() time.Time
	logger   zerolog.Logger
	onChange func()
}

// New creates a set backed by store. A nil store gets a fresh MemoryStore.
func New(gw *gateway.Gateway, store storage.Store, opts ...Option) *Set {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	s := &Set{
		gw:     gw,
		store:  store,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.data = s.collect()
	return s
}

// Load fetches keys from the coordinator. Keys the coordinator does not know
// are left untouched locally.
func (s *Set) Load(ctx context.Context, keys []string, timeout time.Duration) error {
	s.begin()
	resp, err := gateway.Fetch[cluster.GetUIDataResponse](ctx, s.gw, gateway.Request{
		Path:  Path,
		Query: url.Values{"keys": keys},
	}, timeout)
	var written bool
	if err == nil {
		for k, v := range resp.KeyValues {
			ok, perr := s.store.Put(k, storage.Entry{Value: v.Value, UpdatedAt: v.LastUpdated})
			if perr != nil {
				err = perr
				break
			}
			written = written || ok
		}
	}
	s.end(err, written)
	if err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("ui data load failed")
	}
	return err
}

// Save persists values on the coordinator and, once accepted, locally.
func (s *Set) Save(ctx context.Context, values map[string][]byte, timeout time.Duration) error {
	s.begin()
	err := s.gw.Send(ctx, gateway.Request{
		Path: Path,
		Body: cluster.SetUIDataRequest{KeyValues: values},
	}, timeout, &cluster.SetUIDataResponse{})
	var written bool
	if err == nil {
		stamp := s.now()
		for k, v := range values {
			ok, perr := s.store.Put(k, storage.Entry{Value: v, UpdatedAt: stamp})
			if perr != nil {
				err = perr
				break
			}
			written = written || ok
		}
	}
	s.end(err, written)
	if err != nil {
		s.logger.Warn().Err(err).Strs("keys", maps.Keys(values)).Msg("ui data save failed")
	}
	return err
}

// Get returns the locally known value for key.
func (s *Set) Get(key string) ([]byte, bool) {
	e, err := s.store.Get(key)
	if err != nil {
		return nil, false
	}
	return e.Value, true
}

// State returns a snapshot of the set.
func (s *Set) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{InFlight: s.inFlight, Error: s.err, Data: s.data}
}

// collect copies every stored value into a new map.
func (s *Set) collect() map[string][]byte {
	data := make(map[string][]byte)
	for _, k := range s.store.List() {
		if v, ok := s.Get(k); ok {
			data[k] = v
		}
	}
	return data
}

func (s *Set) begin() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	s.changed()
}

// end settles a request. A request that wrote to the store swaps in a
// fresh data map; otherwise the previous map is kept.
func (s *Set) end(err error, written bool) {
	var data map[string][]byte
	if written {
		data = s.collect()
	}
	s.mu.Lock()
	s.inFlight--
	s.err = err
	if written {
		s.data = data
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Set) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
