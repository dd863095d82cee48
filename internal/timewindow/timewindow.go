// Package timewindow maintains the shared, auto-expiring time window that
// parameterizes time-series queries.
package timewindow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/torua-console/internal/telemetry"
)

// ErrUnknownScale is returned when a scale name is not one of the presets.
var ErrUnknownScale = errors.New("unknown time scale")

// DefaultScale is the preset selected when none is configured.
const DefaultScale = "10 min"

// Scale describes how long the visible window is and how long a computed
// window may be reused before it has to be recomputed.
type Scale struct {
	WindowSize  time.Duration
	WindowValid time.Duration
}

// Window is an absolute query interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (w *Window) Duration() time.Duration {
	if w == nil {
		return 0
	}
	return w.End.Sub(w.Start)
}

// Preset is a named Scale.
type Preset struct {
	Name string
	Scale
}

var presets = []Preset{
	{Name: "10 min", Scale: Scale{WindowSize: 10 * time.Minute, WindowValid: 10 * time.Second}},
	{Name: "1 hour", Scale: Scale{WindowSize: time.Hour, WindowValid: time.Minute}},
	{Name: "6 hours", Scale: Scale{WindowSize: 6 * time.Hour, WindowValid: 5 * time.Minute}},
	{Name: "12 hours", Scale: Scale{WindowSize: 12 * time.Hour, WindowValid: 10 * time.Minute}},
	{Name: "1 day", Scale: Scale{WindowSize: 24 * time.Hour, WindowValid: 10 * time.Minute}},
}

// Presets returns the selectable scales in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// Lookup returns the preset scale called name.
func Lookup(name string) (Scale, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p.Scale, true
		}
	}
	return Scale{}, false
}

// State is a snapshot of the controller.
type State struct {
	ScaleName     string
	Scale         Scale
	CurrentWindow *Window
	// ScaleChanged is true from SelectScale until the next recomputation.
	ScaleChanged bool
}

// Valid reports whether CurrentWindow can be used at now without recomputing.
func (s State) Valid(now time.Time) bool {
	if s.CurrentWindow == nil || s.ScaleChanged {
		return false
	}
	return !now.After(s.CurrentWindow.End.Add(s.Scale.WindowValid))
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for scale changes.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithCollector sets the collector for window recomputations; nil keeps the no-op collector.
func WithCollector(col telemetry.Collector) Option {
	return func(c *Controller) {
		if col != nil {
			c.collector = col
		}
	}
}

// WithOnChange registers fn to run after the state changes.
func WithOnChange(fn func()) Option {
	return func(c *Controller) { c.onChange = fn }
}

// Controller owns the time window state machine:
//
//	Unset ──EnsureWindow──► Valid ──expiry / SelectScale──► Stale
//	                          ▲                               │
//	                          └──────────EnsureWindow─────────┘
type Controller struct {
	mu    sync.Mutex
	state State

	logger    zerolog.Logger
	collector telemetry.Collector
	onChange  func()
}

// NewController starts in the Unset state with the named scale selected.
// An empty name selects DefaultScale.
func NewController(scaleName string, opts ...Option) (*Controller, error) {
	if scaleName == "" {
		scaleName = DefaultScale
	}
	scale, ok := Lookup(scaleName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScale, scaleName)
	}
	c := &Controller{
		state:     State{ScaleName: scaleName, Scale: scale},
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SelectScale switches to the named preset and marks the window stale. The
// window itself is not recomputed until the next EnsureWindow.
func (c *Controller) SelectScale(name string) error {
	scale, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScale, name)
	}
	c.mu.Lock()
	c.state.ScaleName = name
	c.state.Scale = scale
	c.state.ScaleChanged = true
	c.mu.Unlock()

	c.logger.Info().Str("scale", name).Msg("time scale selected")
	c.changed()
	return nil
}

// EnsureWindow returns a window usable at now, recomputing it to
// [now-WindowSize, now] when the state is Unset or Stale. While the window is
// valid repeated calls return the same pointer.
func (c *Controller) EnsureWindow(now time.Time) *Window {
	c.mu.Lock()
	if c.state.Valid(now) {
		w := c.state.CurrentWindow
		c.mu.Unlock()
		return w
	}
	w := &Window{Start: now.Add(-c.state.Scale.WindowSize), End: now}
	c.state.CurrentWindow = w
	c.state.ScaleChanged = false
	scale := c.state.ScaleName
	c.mu.Unlock()

	c.collector.IncWindowRecompute(scale)
	c.logger.Debug().Str("scale", scale).Time("start", w.Start).Time("end", w.End).Msg("time window recomputed")
	c.changed()
	return w
}

// Valid reports whether the current window is usable at now.
func (c *Controller) Valid(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Valid(now)
}

// State returns a snapshot of the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
