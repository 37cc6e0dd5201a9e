package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vsgroup/ami-kafka/internal/conf"
	"github.com/vsgroup/ami-kafka/internal/model"
	"github.com/vsgroup/ami-kafka/internal/publisher"
)

// DefaultAddr keeps the admin API on loopback unless configured otherwise.
const DefaultAddr = "127.0.0.1:8089"

// Engine is the narrow publisher contract required by the admin API.
type Engine interface {
	Snapshot() *conf.Snapshot
	HasProducer() bool
	Evaluate(ev model.Event) publisher.Evaluation
}

// SourceStatus is one running event input.
type SourceStatus struct {
	Name      string `json:"name"`
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
	// Connected is only set for the manager client.
	Connected *bool `json:"connected,omitempty"`
}

// SourceReporter lists the running inputs for the health endpoint.
type SourceReporter interface {
	SourceStatus() []SourceStatus
}

// ReloadFunc re-reads the module configuration and swaps it in.
type ReloadFunc func(ctx context.Context) error

// Config wires a Server. Reload and Gatherer are optional; without them the
// matching routes are not registered.
type Config struct {
	Addr     string
	Engine   Engine
	Sources  SourceReporter
	Reload   ReloadFunc
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server provides the operator HTTP API.
type Server struct {
	addr      string
	engine    Engine
	sources   SourceReporter
	reload    ReloadFunc
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new admin API server.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     cfg.Addr,
		engine:   cfg.Engine,
		sources:  cfg.Sources,
		reload:   cfg.Reload,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger.With(zap.String("component", "api")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handler builds the gin engine serving every route.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/filters", s.handleFilters)
	r.POST("/api/evaluate", s.handleEvaluate)
	if s.reload != nil {
		r.POST("/api/reload", s.handleReload)
	}
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin api stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.engine.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		return
	}

	resp := gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"enabled":      snap.Enabled,
		"format":       snap.Format.String(),
		"topic":        snap.Topic,
		"connection":   snap.Connection,
		"has_producer": s.engine.HasProducer(),
		"loaded_at":    snap.LoadedAt,
	}
	if s.sources != nil {
		sources := s.sources.SourceStatus()
		resp["sources"] = sources
		for _, src := range sources {
			if src.Connected != nil {
				resp["manager_connected"] = *src.Connected
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFilters(c *gin.Context) {
	snap := s.engine.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "configuration not loaded"})
		return
	}

	rejected := make([]string, 0, len(snap.Errors))
	for _, cerr := range snap.Errors {
		rejected = append(rejected, cerr.Error())
	}
	c.JSON(http.StatusOK, gin.H{
		"path":      snap.Path,
		"filters":   snap.Describe(),
		"rejected":  rejected,
		"loaded_at": snap.LoadedAt,
	})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req struct {
		Event string `json:"event" binding:"required"`
		Body  string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing event field"})
		return
	}

	c.JSON(http.StatusOK, s.engine.Evaluate(model.Event{Source: "api", Name: req.Event, Body: req.Body}))
}

func (s *Server) handleReload(c *gin.Context) {
	if err := s.reload(c.Request.Context()); err != nil {
		s.logger.Warn("reload via api failed", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	snap := s.engine.Snapshot()
	resp := gin.H{"status": "reloaded"}
	if snap != nil && snap.Filters != nil {
		resp["include_filters"] = len(snap.Filters.Include())
		resp["exclude_filters"] = len(snap.Filters.Exclude())
		resp["rejected_filters"] = len(snap.Errors)
	}
	c.JSON(http.StatusOK, resp)
}
