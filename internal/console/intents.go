package console

import (
	"time"

	"github.com/dreamware/torua-console/internal/cluster"
)

// Intent is a request to change console state. Dispatch is the only way
// intents are applied.
type Intent interface {
	intent()
}

// EnsureResource makes sure the addressed record is valid, fetching it if
// needed. Key is empty for singleton resources.
type EnsureResource struct {
	Resource string
	Key      string
}

// InvalidateResource marks the addressed record stale.
type InvalidateResource struct {
	Resource string
	Key      string
}

// DeclareMetricQuery records the request a component wants next.
type DeclareMetricQuery struct {
	ComponentID string
	Request     *cluster.TimeSeriesQueryRequest
}

// InvalidateMetricQuery forces the component's request to be re-sent.
type InvalidateMetricQuery struct {
	ComponentID string
}

// FlushMetricQueries sends every pending metric query.
type FlushMetricQueries struct{}

// SelectTimeScale switches the time scale preset.
type SelectTimeScale struct {
	Name string
}

// EnsureTimeWindow recomputes the time window if it is stale at Now. A zero
// Now uses the store clock.
type EnsureTimeWindow struct {
	Now time.Time
}

// SetUISetting sets a local, non-persisted UI setting.
type SetUISetting struct {
	Key   string
	Value any
}

// LoadUIData fetches persisted UI data.
type LoadUIData struct {
	Keys []string
}

// SaveUIData persists UI data.
type SaveUIData struct {
	Values map[string][]byte
}

func (EnsureResource) intent()        {}
func (InvalidateResource) intent()    {}
func (DeclareMetricQuery) intent()    {}
func (InvalidateMetricQuery) intent() {}
func (FlushMetricQueries) intent()    {}
func (SelectTimeScale) intent()       {}
func (EnsureTimeWindow) intent()      {}
func (SetUISetting) intent()          {}
func (LoadUIData) intent()            {}
func (SaveUIData) intent()            {}
