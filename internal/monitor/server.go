// Package monitor serves live training status over HTTP. The trainer
// publishes epoch metrics into the server; clients poll the current snapshot
// or the full epoch history.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/pmoura/seqtune/internal/metric"
)

// Snapshot is the externally visible state of a run at one point in time.
type Snapshot struct {
	RunID     string             `json:"run_id"`
	Name      string             `json:"name"`
	Mode      string             `json:"mode"`
	Epoch     int                `json:"epoch"`
	Phase     string             `json:"phase"`
	Metrics   map[string]float64 `json:"metrics"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Server holds the latest snapshot and the per-epoch history for one run.
// Publish and the handlers may run on different goroutines.
type Server struct {
	mu      sync.Mutex
	current Snapshot
	history []Snapshot
	clock   func() time.Time
}

// NewServer creates a server describing the given run. Metrics arrive later
// through Publish.
func NewServer(runID, name, mode string) *Server {
	return &Server{
		current: Snapshot{RunID: runID, Name: name, Mode: mode, Phase: "starting"},
		clock:   time.Now,
	}
}

// Publish records epoch metrics. Non-finite values are stripped so every
// snapshot stays JSON-encodable. Publish satisfies the trainer's Reporter
// contract.
func (s *Server) Publish(epoch int, phase string, metrics map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Epoch = epoch
	s.current.Phase = phase
	s.current.Metrics = metric.Finite(metrics)
	s.current.UpdatedAt = s.clock().UTC()
	s.history = append(s.history, s.current)
}

// Register mounts the monitoring endpoints.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/status", s.handleStatus)
	e.GET("/v1/history", s.handleHistory)
}

func (s *Server) handleStatus(c *echo.Context) error {
	s.mu.Lock()
	snap := s.current
	s.mu.Unlock()
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHistory(c *echo.Context) error {
	s.mu.Lock()
	runID := s.current.RunID
	history := make([]Snapshot, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{
		"run_id": runID,
		"epochs": history,
	})
}

// Start serves the monitoring endpoints until the context is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	e := echo.New()
	e.Use(middleware.Recover())
	s.Register(e)
	sc := echo.StartConfig{
		Address: addr,
		BeforeServeFunc: func(srv *http.Server) error {
			srv.ReadHeaderTimeout = 10 * time.Second
			return nil
		},
	}
	return sc.Start(ctx, e)
}
