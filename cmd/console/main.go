// Command console runs the torua console data layer against a coordinator.
//
// It keeps the cluster caches warm on a schedule, flushes the dashboard
// metric queries, and serves the resulting state as JSON together with the
// console's own Prometheus metrics.
//
// Environment:
//
//	CONSOLE_CONFIG     path to a YAML config file (optional)
//	COORDINATOR_ADDR   coordinator base URL, overrides the config file
//	CONSOLE_LISTEN     listen address, overrides the config file
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dreamware/torua-console/internal/config"
	"github.com/dreamware/torua-console/internal/console"
	"github.com/dreamware/torua-console/internal/dashboards"
	"github.com/dreamware/torua-console/internal/gateway"
	"github.com/dreamware/torua-console/internal/logging"
	"github.com/dreamware/torua-console/internal/scheduler"
	"github.com/dreamware/torua-console/internal/telemetry"
	"github.com/dreamware/torua-console/internal/timewindow"
)

func main() {
	cfg, err := loadConfig(os.Getenv("CONSOLE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLogs, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLogs()

	collector, err := telemetry.NewPrometheusCollector(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal().Err(err).Msg("register metrics")
	}

	srv, err := newServer(cfg, logger, collector)
	if err != nil {
		logger.Fatal().Err(err).Msg("create console")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.poller.Start(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.routes(promhttp.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Listen).Str("coordinator", cfg.Coordinator).Msg("console listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.poller.Stop()
	logger.Info().Msg("console stopped")
}

// loadConfig reads path when set, then applies environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Coordinator = getenv("COORDINATOR_ADDR", cfg.Coordinator)
	cfg.Listen = getenv("CONSOLE_LISTEN", cfg.Listen)
	return cfg, nil
}

type server struct {
	store  *console.Store
	poller *scheduler.Poller
	logger zerolog.Logger
}

func newServer(cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) (*server, error) {
	gw := gateway.New(cfg.Coordinator,
		gateway.WithDefaultTimeout(cfg.RequestTimeoutOrDefault()),
		gateway.WithLogger(logger),
		gateway.WithCollector(collector),
	)
	store, err := console.New(gw, console.Options{
		Logger:    logger,
		Collector: collector,
		TimeScale: cfg.TimeScale,
	})
	if err != nil {
		return nil, err
	}

	poller := scheduler.NewPoller(cfg.TickInterval(), logger)
	poller.SetOnFailing(func(name string, err error) {
		logger.Warn().Str("task", name).Err(err).Msg("refresh task failing")
	})
	for _, t := range refreshTasks(store, cfg.Refresh) {
		if err := poller.Register(t); err != nil {
			return nil, err
		}
	}
	return &server{store: store, poller: poller, logger: logger}, nil
}

// refreshTasks builds the periodic work; a zero interval disables a task.
func refreshTasks(store *console.Store, rc config.RefreshConfig) []scheduler.Task {
	var tasks []scheduler.Task
	add := func(name string, interval time.Duration, run func(context.Context) error) {
		if interval > 0 {
			tasks = append(tasks, scheduler.Task{Name: name, Interval: interval, Run: run})
		}
	}
	refresh := func(resource string) func(context.Context) error {
		return func(ctx context.Context) error {
			return store.Refresh(ctx, resource, "")
		}
	}

	add(console.ResourceHealth, rc.Health.Duration, refresh(console.ResourceHealth))
	add(console.ResourceNodes, rc.Nodes.Duration, refresh(console.ResourceNodes))
	add(console.ResourceShards, rc.Shards.Duration, refresh(console.ResourceShards))
	add("metrics", rc.Metrics.Duration, func(ctx context.Context) error {
		now := time.Now()
		for _, g := range dashboards.Catalog {
			store.DeclareGroup(g, nil, now)
		}
		return store.FlushMetricQueries(ctx)
	})
	return tasks
}

func (s *server) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/refresh", s.handleRefresh)
	mux.HandleFunc("/timescale", s.handleTimeScale)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics)
	return mux
}

type recordView struct {
	HasData   bool      `json:"has_data"`
	InFlight  bool      `json:"in_flight"`
	Valid     bool      `json:"valid"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type windowView struct {
	Scale string    `json:"scale"`
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

type clusterView struct {
	TotalNodes      int      `json:"total_nodes"`
	HealthyNodes    int      `json:"healthy_nodes"`
	CapacityPercent string   `json:"capacity_percent"`
	Unhealthy       []string `json:"unhealthy,omitempty"`
	UnassignedShard []int    `json:"unassigned_shards,omitempty"`
}

type stateView struct {
	Version         uint64                           `json:"version"`
	Resources       map[string]map[string]recordView `json:"resources"`
	Cluster         clusterView                      `json:"cluster"`
	Window          windowView                       `json:"time_window"`
	MetricsInFlight int                              `json:"metrics_in_flight"`
	PendingQueries  []string                         `json:"pending_queries"`
	TaskHealth      map[string]string                `json:"tasks"`
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state := s.store.GetState()
	info := s.store.ClusterInfo()
	dist := s.store.ShardDistribution()

	view := stateView{
		Version:   state.Version,
		Resources: make(map[string]map[string]recordView),
		Cluster: clusterView{
			TotalNodes:      info.TotalNodes,
			HealthyNodes:    info.HealthyNodes,
			CapacityPercent: info.CapacityPercent.StringFixed(2),
			Unhealthy:       info.Unhealthy,
			UnassignedShard: dist.Unassigned,
		},
		Window:          windowView{Scale: state.TimeWindow.ScaleName},
		MetricsInFlight: state.Metrics.InFlight,
		PendingQueries:  s.store.Metrics().Pending(),
		TaskHealth:      make(map[string]string),
	}
	if cw := state.TimeWindow.CurrentWindow; cw != nil {
		view.Window.Start, view.Window.End = cw.Start, cw.End
	}
	for resource, byKey := range s.store.Statuses() {
		rv := make(map[string]recordView, len(byKey))
		for key, st := range byKey {
			v := recordView{HasData: st.HasData, InFlight: st.InFlight, Valid: st.Valid, UpdatedAt: st.UpdatedAt}
			if st.LastError != nil {
				v.Error = st.LastError.Error()
			}
			rv[key] = v
		}
		view.Resources[resource] = rv
	}
	for name, ts := range s.poller.AllStatus() {
		view.TaskHealth[name] = ts.Status
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(view)
}

// handleRefresh re-fetches one resource: POST /refresh?resource=nodes[&key=...].
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	err := s.store.Refresh(r.Context(), q.Get("resource"), q.Get("key"))
	switch {
	case errors.Is(err, console.ErrUnknownResource), errors.Is(err, console.ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleTimeScale switches presets: POST /timescale?name=1+hour.
func (s *server) handleTimeScale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.store.Dispatch(r.Context(), console.SelectTimeScale{Name: r.URL.Query().Get("name")}); err != nil {
		if errors.Is(err, timewindow.ErrUnknownScale) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
