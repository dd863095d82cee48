package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/torua-console/internal/cluster"
	"github.com/dreamware/torua-console/internal/telemetry"
)

// DefaultTimeout bounds an exchange when the caller supplies none.
const DefaultTimeout = 30 * time.Second

// Doer performs one HTTP round trip. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one exchange relative to the gateway's base URL.
type Request struct {
	// Method defaults to POST when Body is set and GET otherwise.
	Method string
	Path   string
	Query  url.Values
	Body   any
	// Endpoint labels telemetry; defaults to Path. Keyed resources set it so
	// that per-key paths do not explode label cardinality.
	Endpoint string
}

// Gateway performs single request/response exchanges against the coordinator.
// It holds no cached state.
type Gateway struct {
	baseURL        string
	client         Doer
	defaultTimeout time.Duration
	logger         zerolog.Logger
	collector      telemetry.Collector
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClient replaces the transport.
func WithClient(c Doer) Option {
	return func(g *Gateway) { g.client = c }
}

// WithDefaultTimeout sets the timeout used when Send receives none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.defaultTimeout = d
		}
	}
}

// WithLogger sets the logger used for requests.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithCollector sets the collector for request outcomes; nil keeps the no-op collector.
func WithCollector(c telemetry.Collector) Option {
	return func(g *Gateway) {
		if c != nil {
			g.collector = c
		}
	}
}

// New creates a gateway for the coordinator at baseURL.
func New(baseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{},
		defaultTimeout: DefaultTimeout,
		logger:         zerolog.Nop(),
		collector:      telemetry.Noop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BaseURL returns the coordinator address requests are resolved against.
func (g *Gateway) BaseURL() string { return g.baseURL }

// Send performs req and decodes the response into out, which may be nil when
// the body is irrelevant. A non-positive timeout applies the default.
// Failures are always *Error.
func (g *Gateway) Send(ctx context.Context, req Request, timeout time.Duration, out cluster.Validator) error {
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.Body != nil {
			method = http.MethodPost
		}
	}
	target := g.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Path
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return &Error{Kind: KindTransport, URL: target, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := g.exchange(ctx, method, target, body, timeout, out)
	elapsed := time.Since(start)

	outcome := telemetry.OutcomeSuccess
	if err != nil {
		outcome = KindOf(err).String()
		g.logger.Debug().Err(err).Str("method", method).Str("url", target).Dur("elapsed", elapsed).Msg("exchange failed")
	} else {
		g.logger.Debug().Str("method", method).Str("url", target).Dur("elapsed", elapsed).Msg("exchange completed")
	}
	g.collector.ObserveRequest(endpoint, outcome, elapsed)
	return err
}

func (g *Gateway) exchange(ctx context.Context, method, target string, body io.Reader, timeout time.Duration, out cluster.Validator) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &Error{Kind: KindTransport, URL: target, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Grpc-Timeout", fmt.Sprintf("%dm", timeout.Milliseconds()))
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return classify(ctx, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &Error{Kind: KindTransport, URL: target, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(ctx, target, err)
	}
	if out == nil {
		return nil
	}
	if err := decode(raw, out); err != nil {
		return &Error{Kind: KindDecode, URL: target, Err: err}
	}
	return nil
}

// decode rejects unknown fields and trailing data, then validates.
func decode(raw []byte, out cluster.Validator) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after response body")
	}
	return out.Validate()
}

func classify(ctx context.Context, target string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: target, Err: err}
	}
	return &Error{Kind: KindTransport, URL: target, Err: err}
}

// Fetch sends req and returns the decoded response.
func Fetch[T any, PT interface {
	*T
	cluster.Validator
}](ctx context.Context, g *Gateway, req Request, timeout time.Duration) (*T, error) {
	out := PT(new(T))
	if err := g.Send(ctx, req, timeout, out); err != nil {
		return nil, err
	}
	return (*T)(out), nil
}
