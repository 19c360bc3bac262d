package simnet

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"mcsotdma/internal/packet"
	"mcsotdma/internal/statstore"
)

// APIServer exposes REST endpoints for a simulation's run metadata and
// per-node counters, on a separate port from the websocket dashboard
// feed. Built on an echo.Echo instance with RequestLoggerWithConfig +
// Recover middleware and a consistent JSON error handler, one handler
// method per route — simulation run and node-counter routes in place of
// channel/upload/ban administration routes.
type APIServer struct {
	sim    *Simulation
	stats  *statstore.Store
	echo   *echo.Echo
	logger *slog.Logger
}

// NewAPIServer constructs an APIServer and registers all routes.
func NewAPIServer(sim *Simulation, stats *statstore.Store, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("api request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &APIServer{sim: sim, stats: stats, echo: e, logger: logger}
	s.registerRoutes()
	return s
}

func (s *APIServer) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/version", s.handleVersion)
	s.echo.GET("/api/nodes", s.handleNodes)
	s.echo.GET("/api/nodes/:id", s.handleNode)
	s.echo.GET("/api/run", s.handleRun)
	s.echo.GET("/api/runs/:id/stats", s.handleRunStats)
}

// Run starts the Echo HTTP server on addr and blocks until ctx is
// cancelled.
func (s *APIServer) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("api server error", "err", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		s.logger.Warn("api shutdown", "err", err)
	}
}

// Version is the simulator's version, set at build time via -ldflags.
var Version = "0.1.0-dev"

// VersionResponse is the payload for GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

func (s *APIServer) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, VersionResponse{Version: Version})
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	NumNodes int    `json:"num_nodes"`
	Slot     int64  `json:"slot"`
}

func (s *APIServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		NumNodes: len(s.sim.Nodes()),
		Slot:     s.sim.Slot(),
	})
}

func (s *APIServer) handleNodes(c echo.Context) error {
	ids := s.sim.Nodes()
	out := make([]NodeInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, NodeInfoFromSnapshot(s.sim.Snapshot(id)))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *APIServer) handleNode(c echo.Context) error {
	raw, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid node id")
	}
	id := packet.MacId(raw)
	n := s.sim.Node(id)
	if n == nil {
		return echo.NewHTTPError(http.StatusNotFound, "node not found")
	}
	return c.JSON(http.StatusOK, NodeInfoFromSnapshot(s.sim.Snapshot(id)))
}

// NodeInfoFromSnapshot adapts a statstore.Snapshot to the wire shape the
// dashboard and REST API share.
func NodeInfoFromSnapshot(sn statstore.Snapshot) NodeInfo {
	return NodeInfo{
		ID:                     sn.NodeID,
		Collisions:             sn.Collisions,
		DMEDropped:             sn.DMEDropped,
		ChannelErrorsDropped:   sn.ChannelErrorsDropped,
		DutyCycleThrottled:     sn.DutyCycleThrottled,
		ExceededMaxAttempts:    sn.ExceededMaxAttempts,
		ThirdPartyRequestsRcvd: sn.ThirdPartyRequestsRcvd,
		ThirdPartyRepliesRcvd:  sn.ThirdPartyRepliesRcvd,
		LinksEstablished:       sn.LinksEstablished,
		LinksTornDown:          sn.LinksTornDown,
	}
}

// RunResponse is the payload for GET /api/run.
type RunResponse struct {
	RunID    string `json:"run_id"`
	Slot     int64  `json:"slot"`
	NumNodes int    `json:"num_nodes"`
}

func (s *APIServer) handleRun(c echo.Context) error {
	return c.JSON(http.StatusOK, RunResponse{
		RunID:    s.sim.RunID(),
		Slot:     s.sim.Slot(),
		NumNodes: len(s.sim.Nodes()),
	})
}

func (s *APIServer) handleRunStats(c echo.Context) error {
	if s.stats == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no stat store configured")
	}
	runID := c.Param("id")
	run, err := s.stats.Run(c.Request().Context(), runID)
	if err != nil {
		if err == statstore.ErrRunNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	snaps, err := s.stats.Snapshots(c.Request().Context(), runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{
		"run":     run,
		"nodes":   snaps,
		"summary": statstore.Summary(run, snaps),
	})
}

// jsonErrorHandler ensures all error responses have a consistent JSON
// body: {"error": "message"}.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}
