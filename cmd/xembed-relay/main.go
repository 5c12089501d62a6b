// Command xembed-relay embeds a set of dashboards whose pages connect over
// websockets, logs everything they send and exposes health and metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xembed"
	"github.com/trickstertwo/xembed/adapter/websocket"
	"github.com/trickstertwo/xembed/metrics"
)

// relayConfig holds the process settings; the embedding settings come from
// xembed.LoadConfig.
type relayConfig struct {
	Addr            string        `envconfig:"XEMBED_RELAY_ADDR" default:":8080"`
	DashboardURLs   []string      `envconfig:"XEMBED_DASHBOARD_URLS"`
	Debug           bool          `envconfig:"XEMBED_DEBUG" default:"false"`
	ShutdownTimeout time.Duration `envconfig:"XEMBED_SHUTDOWN_TIMEOUT" default:"10s"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
	}

	var rc relayConfig
	if err := envconfig.Process("", &rc); err != nil {
		fmt.Fprintf(os.Stderr, "parsing relay config: %v\n", err)
		os.Exit(1)
	}

	zc := zerolog.Config{
		Console:           rc.Debug,
		ConsoleTimeFormat: time.RFC3339Nano,
	}
	if rc.Debug {
		zc.MinLevel = xlog.LevelDebug
	}
	logger := zerolog.Use(zc).With(xlog.Str("app", "xembed-relay"))

	cfg, err := xembed.LoadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ec, host := websocket.Use(websocket.Config{BasePath: "/frames/"},
		websocket.WithConfig(cfg),
		websocket.WithLogger(logger),
		websocket.WithObserver(metrics.NewObserver(reg)),
		websocket.WithOnChange(func(e xembed.ChangeEvent, _ xembed.ChangeMetadata) {
			logger.Info().Str("change", string(e.EventName)).Str("level", string(e.EventLevel)).Msg(e.Message)
		}),
	)
	if err := metrics.RegisterContext(reg, ec.ContextID(), ec); err != nil {
		logger.Error().Err(err).Msg("failed to register context metrics")
		os.Exit(1)
	}

	experiences, err := embedDashboards(context.Background(), ec, host, rc.DashboardURLs, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to embed dashboards")
		_ = ec.Close(context.Background())
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              rc.Addr,
		Handler:           newRouter(ec, host, experiences, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", rc.Addr).Str("context_id", ec.ContextID()).Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rc.ShutdownTimeout)
	defer cancel()
	if err := ec.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("closing embedding context")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutting down server")
	}
	logger.Info().Msg("shutdown complete")
}

// embedDashboards mounts one container per URL and embeds a dashboard in it.
func embedDashboards(ctx context.Context, ec *xembed.EmbeddingContext, host *websocket.Host, urls []string, logger *xlog.Logger) ([]*xembed.Experience, error) {
	doc := host.Document()
	out := make([]*xembed.Experience, 0, len(urls))
	for i, u := range urls {
		container := doc.CreateElement("div", "dashboard-"+strconv.Itoa(i))
		doc.BodyElement().AppendChild(container)

		exp, err := ec.EmbedDashboard(ctx, xembed.FrameOptions{
			URL:                            u,
			Container:                      container,
			ResizeHeightOnSizeChangedEvent: true,
			OnMessage: func(_ context.Context, msg *xembed.PostMessageEvent) {
				logger.Info().
					Str("dashboard", u).
					Str("event", string(msg.EventName)).
					Str("event_id", msg.EventID).
					Msg("message from dashboard")
			},
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", u, err)
		}
		logger.Info().
			Str("identity", exp.Identity()).
			Str("frame", host.Endpoint(exp.Handle().ID())).
			Msg("dashboard embedded")
		out = append(out, exp)
	}
	return out, nil
}

func newRouter(ec *xembed.EmbeddingContext, host *websocket.Host, experiences []*xembed.Experience, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/frames/{frameID}", func(w http.ResponseWriter, r *http.Request) {
		host.ServeFrame(w, r, chi.URLParam(r, "frameID"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := ec.Health(r.Context())
		status := http.StatusOK
		if h.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	})
	r.Post("/experiences/{index}/requests/{eventName}", func(w http.ResponseWriter, r *http.Request) {
		i, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || i < 0 || i >= len(experiences) {
			http.NotFound(w, r)
			return
		}
		var body json.RawMessage
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, "invalid JSON body", http.StatusBadRequest)
				return
			}
		}
		var message any
		if len(body) > 0 {
			message = body
		}
		resp, err := experiences[i].Request(r.Context(), xembed.MessageEventName(chi.URLParam(r, "eventName")), message)
		switch {
		case errors.Is(err, xembed.ErrTimeout):
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			writeJSON(w, http.StatusOK, resp)
		}
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
