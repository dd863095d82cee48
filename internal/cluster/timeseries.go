package cluster

import (
	"time"

	"golang.org/x/exp/slices"
)

// Aggregation and derivative options understood by the time series endpoint.
const (
	AggregatorAvg = "AVG"
	AggregatorSum = "SUM"
	AggregatorMax = "MAX"
	AggregatorMin = "MIN"

	DerivativeNone            = "NONE"
	DerivativeDerivative      = "DERIVATIVE"
	DerivativeNonNegativeRate = "NON_NEGATIVE_DERIVATIVE"
)

// TimeSeriesQuery names one series and how it is aggregated across sources
// and downsampled over time. An empty Sources list means all nodes.
type TimeSeriesQuery struct {
	Name             string   `json:"name"`
	Sources          []string `json:"sources,omitempty"`
	Downsampler      string   `json:"downsampler,omitempty"`
	SourceAggregator string   `json:"source_aggregator,omitempty"`
	Derivative       string   `json:"derivative,omitempty"`
}

// Equal compares two queries by value.
func (q TimeSeriesQuery) Equal(o TimeSeriesQuery) bool {
	return q.Name == o.Name &&
		q.Downsampler == o.Downsampler &&
		q.SourceAggregator == o.SourceAggregator &&
		q.Derivative == o.Derivative &&
		slices.Equal(q.Sources, o.Sources)
}

// TimeSeriesQueryRequest asks for a set of series over [StartNanos, EndNanos].
type TimeSeriesQueryRequest struct {
	StartNanos int64             `json:"start_nanos"`
	EndNanos   int64             `json:"end_nanos"`
	Queries    []TimeSeriesQuery `json:"queries"`
}

// NewTimeSeriesQueryRequest builds a request covering [start, end].
func NewTimeSeriesQueryRequest(start, end time.Time, queries ...TimeSeriesQuery) *TimeSeriesQueryRequest {
	return &TimeSeriesQueryRequest{
		StartNanos: start.UnixNano(),
		EndNanos:   end.UnixNano(),
		Queries:    queries,
	}
}

// Equal compares two requests by value; nil equals only nil.
func (r *TimeSeriesQueryRequest) Equal(o *TimeSeriesQueryRequest) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.StartNanos == o.StartNanos &&
		r.EndNanos == o.EndNanos &&
		slices.EqualFunc(r.Queries, o.Queries, TimeSeriesQuery.Equal)
}

type Datapoint struct {
	TimestampNanos int64   `json:"timestamp_nanos"`
	Value          float64 `json:"value"`
}

type TimeSeriesQueryResult struct {
	Query      TimeSeriesQuery `json:"query"`
	Datapoints []Datapoint     `json:"datapoints"`
}

type TimeSeriesQueryResponse struct {
	Results []TimeSeriesQueryResult `json:"results"`
}

func (r *TimeSeriesQueryResponse) Validate() error {
	for i, res := range r.Results {
		if res.Query.Name == "" {
			return invalid("result %d has no series name", i)
		}
	}
	return nil
}
