package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/videonode/internal/api/models"
	"github.com/smazurov/videonode/internal/devices"
	"github.com/smazurov/videonode/internal/events"
	"github.com/smazurov/videonode/internal/logging"
	"github.com/smazurov/videonode/internal/params"
	"github.com/smazurov/videonode/internal/session"
	"github.com/smazurov/videonode/internal/version"
	"github.com/smazurov/videonode/ui"
)

// Server composes the Huma v2 API (health, version, the SSE event and log
// streams) with plain net/http handlers for the domain routes (schema,
// device list and caps, stats, feedback, /stream/live/*, /stream/udp/*) on
// one mux, exactly as the original server.go paired humago.New with a
// stdlib mux.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server

	sessionMgr     *session.Manager
	eventBus       *events.Bus
	paramsStore    *params.Store
	deviceDetector devices.DeviceDetector

	options *Options
	logger  *slog.Logger
}

// Options configures NewServer.
type Options struct {
	AuthUsername string
	AuthPassword string

	SessionManager *session.Manager
	EventBus       *events.Bus
	ParamsStore    *params.Store
}

// NewServer creates the API server, registering every JSON and streaming
// route on a shared stdlib mux underneath a Huma v2 API.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("SilkCast API", "1.0.0")
	config.Info.Description = "On-demand live streaming over HTTP and UDP for V4L2 capture devices"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {Type: "http", Scheme: "basic"},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:            api,
		mux:            mux,
		sessionMgr:     opts.SessionManager,
		eventBus:       opts.EventBus,
		paramsStore:    opts.ParamsStore,
		deviceDetector: devices.NewDetector(),
		options:        opts,
		logger:         logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(newSessionCollector(server.sessionMgr))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server.registerRoutes()

	if frontendHandler, err := ui.Handler(); err == nil {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				http.NotFound(w, r)
				return
			}
			frontendHandler.ServeHTTP(w, r)
		})
	}

	return server
}

// registerRoutes wires every JSON and streaming endpoint onto the mux.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{Body: models.HealthData{Status: "ok", Message: "API is healthy"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{Body: models.VersionData{
			Version:   v.Version,
			GitCommit: v.GitCommit,
			BuildDate: v.BuildDate,
			BuildID:   v.BuildID,
			GoVersion: v.GoVersion,
			Compiler:  v.Compiler,
			Platform:  v.Platform,
		}}, nil
	})

	s.registerSSERoutes()
	s.registerLogRoutes()

	// Domain routes are implemented as plain net/http handlers rather than
	// Huma operations: the streaming routes need direct ResponseWriter
	// access, and every route needs the exact {"error":"<code>"} shape
	// from writeError instead of Huma's RFC7807-flavored error body.
	s.mux.HandleFunc("GET /api/schema", s.handleSchema)
	s.mux.HandleFunc("GET /device/list", s.handleDeviceList)
	s.mux.HandleFunc("GET /device/{device}/caps", s.handleDeviceCaps)
	s.mux.HandleFunc("GET /stream/{device}/stats", s.handleStreamStats)
	s.mux.HandleFunc("POST /stream/{device}/feedback", s.handleStreamFeedback)
	s.mux.HandleFunc("GET /stream/live/{device}", s.handleStreamLive)
	s.mux.HandleFunc("GET /stream/udp/{device}", s.handleStreamUDP)
}

// basicAuthMiddleware gates every operation that declares a security
// requirement behind HTTP basic auth, falling back to a query parameter
// for the SSE endpoints a browser's EventSource can't attach headers to.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		authHeader := ctx.Header("Authorization")
		var credentials string

		if authHeader != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(authHeader, prefix) {
				ctx.SetHeader("WWW-Authenticate", `Basic realm="SilkCast API"`)
				huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid authentication type")
				return
			}
			decoded, err := base64.StdEncoding.DecodeString(authHeader[len(prefix):])
			if err != nil {
				ctx.SetHeader("WWW-Authenticate", `Basic realm="SilkCast API"`)
				huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		} else if queryAuth := ctx.Query("auth"); queryAuth != "" {
			decoded, err := base64.StdEncoding.DecodeString(queryAuth)
			if err != nil {
				ctx.SetHeader("WWW-Authenticate", `Basic realm="SilkCast API"`)
				huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		}

		if credentials == "" {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="SilkCast API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Authentication required")
			return
		}

		parts := strings.SplitN(credentials, ":", 2)
		if len(parts) != 2 || parts[0] != username || parts[1] != password {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="SilkCast API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

// withAuth returns the basic-auth security requirement for an operation.
func withAuth() []map[string][]string {
	return []map[string][]string{{"basicAuth": {}}}
}

// Start begins serving on addr; it blocks until Stop is called or the
// listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting SilkCast API server", "addr", addr)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	return s.httpServer.ListenAndServe()
}

// Stop closes the HTTP server immediately, without waiting for
// in-flight streaming connections to drain.
func (s *Server) Stop() error {
	s.logger.Info("stopping SilkCast API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}
