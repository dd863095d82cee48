package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-console/internal/cluster"
)

func TestSendDecodesResponse(t *testing.T) {
	var gotHeader, gotMethod, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Grpc-Timeout")
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"nodes":[{"id":"node-1","addr":"http://localhost:8081"}]}`))
	}))
	defer srv.Close()

	g := New(srv.URL + "/")
	out, err := Fetch[cluster.NodesResponse](context.Background(), g, Request{
		Path:  "/nodes",
		Query: url.Values{"verbose": []string{"1"}},
	}, 0)
	require.NoError(t, err)
	require.Len(t, out.Nodes, 1)
	assert.Equal(t, "node-1", out.Nodes[0].ID)
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "30000m", gotHeader, "default timeout is advertised")
	assert.Equal(t, "verbose=1", gotQuery)
}

func TestSendPostsBody(t *testing.T) {
	var got cluster.TimeSeriesQueryRequest
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	g := New(srv.URL)
	req := cluster.NewTimeSeriesQueryRequest(time.Unix(0, 0), time.Unix(60, 0), cluster.TimeSeriesQuery{Name: "torua.node.gets"})
	_, err := Fetch[cluster.TimeSeriesQueryResponse](context.Background(), g, Request{Path: "/ts/query", Body: req}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.True(t, req.Equal(&got))
}

func TestSendErrors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		timeout  time.Duration
		wantKind Kind
		sentinel error
		status   int
	}{
		{
			name: "non-success status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusServiceUnavailable)
			},
			wantKind: KindTransport,
			sentinel: ErrTransport,
			status:   http.StatusServiceUnavailable,
		},
		{
			name: "slow server",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
			timeout:  50 * time.Millisecond,
			wantKind: KindTimeout,
			sentinel: ErrTimeout,
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"nodes":[`))
			},
			wantKind: KindDecode,
			sentinel: ErrDecode,
		},
		{
			name: "unknown field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"nodes":[],"surprise":true}`))
			},
			wantKind: KindDecode,
			sentinel: ErrDecode,
		},
		{
			name: "fails validation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"nodes":[{"id":"node-1"}]}`))
			},
			wantKind: KindDecode,
			sentinel: ErrDecode,
		},
		{
			name: "trailing data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"nodes":[]} {"nodes":[]}`))
			},
			wantKind: KindDecode,
			sentinel: ErrDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			g := New(srv.URL)
			out, err := Fetch[cluster.NodesResponse](context.Background(), g, Request{Path: "/nodes"}, tt.timeout)
			require.Error(t, err)
			assert.Nil(t, out)

			var gwErr *Error
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, tt.wantKind, gwErr.Kind)
			assert.Equal(t, tt.status, gwErr.Status)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.wantKind, KindOf(err))
		})
	}
}

func TestSendTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	g := New(addr)
	err := g.Send(context.Background(), Request{Path: "/health"}, time.Second, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrTimeout)
}

type stubDoer struct {
	calls int
	resp  *http.Response
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.calls++
	return s.resp, nil
}

func TestSendWithCustomClientAndNilOut(t *testing.T) {
	doer := &stubDoer{resp: &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(emptyReader{}),
	}}
	g := New("http://coordinator", WithClient(doer), WithDefaultTimeout(5*time.Second))

	err := g.Send(context.Background(), Request{Path: "/health"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, doer.calls)
	assert.Equal(t, "http://coordinator", g.BaseURL())
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

func TestKindString(t *testing.T) {
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "transport", KindTransport.String())
	assert.Equal(t, "decode", KindDecode.String())
	assert.Equal(t, "unknown", Kind(0).String())
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}
