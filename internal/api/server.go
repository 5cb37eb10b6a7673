// Package api exposes run metrics over HTTP so notebooks and scripts can poll
// a training run without linking the store.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

const (
	defaultScalarLimit = 500
	defaultEpochLimit  = 200
	maxLimit           = 10000

	headerTimeout = 5 * time.Second
	readTimeout   = 15 * time.Second
	writeTimeout  = 45 * time.Second
	drainTimeout  = 5 * time.Second
)

// Server provides the HTTP API over the metrics store.
type Server struct {
	addr   string
	store  run.MetricsQuerier
	ln     net.Listener
	server *http.Server

	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
}

// NewServer creates the HTTP API server.
func NewServer(addr string, store run.MetricsQuerier) *Server {
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{addr: addr, store: store, ctx: ctx, cancel: cancel}
}

// Start binds the address and serves requests in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.started = time.Now()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: headerTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	go s.server.Serve(ln)
	return nil
}

// Addr reports the bound address. Before Start it is the configured one,
// which matters for ":0" listeners.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/run", s.handleRun)
	api.GET("/runs", s.handleRuns)
	api.GET("/scalars", s.handleScalars)
	api.GET("/epochs", s.handleEpochs)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	}

	latest, err := s.store.LatestRun()
	switch {
	case err == nil:
		resp["run"] = latest.ID
		resp["run_status"] = latest.Status
	case errors.Is(err, sql.ErrNoRows):
		// No run recorded yet; still healthy.
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "health lookup failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRun(c *gin.Context) {
	r, ok := s.resolveRun(c)
	if !ok {
		return
	}

	count, err := s.store.ScalarCount(r.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count scalars"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           r.ID,
		"name":         r.Name,
		"seed":         r.Seed,
		"status":       r.Status,
		"started_at":   r.StartedAt,
		"config_yaml":  r.ConfigYAML,
		"scalar_count": count,
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	runs, err := s.store.Runs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	out := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		out = append(out, gin.H{
			"id":         r.ID,
			"name":       r.Name,
			"seed":       r.Seed,
			"status":     r.Status,
			"started_at": r.StartedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out, "count": len(out)})
}

func (s *Server) handleScalars(c *gin.Context) {
	name := c.Query("name")
	phase := c.DefaultQuery("phase", run.PhaseTrain)
	limit := parseLimit(c.Query("limit"), defaultScalarLimit)

	r, ok := s.resolveRun(c)
	if !ok {
		return
	}

	// Without a name the endpoint lists the streams that exist.
	if name == "" {
		names, err := s.store.ScalarNames(r.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scalar names"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": r.ID, "names": names})
		return
	}

	series, err := s.store.ScalarSeries(r.ID, phase, name, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read scalar series"})
		return
	}

	points := make([]gin.H, 0, len(series))
	for _, sc := range series {
		points = append(points, gin.H{
			"step":        sc.Step,
			"epoch":       sc.Epoch,
			"value":       sc.Value,
			"recorded_at": sc.RecordedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"run":    r.ID,
		"phase":  phase,
		"name":   name,
		"points": points,
		"count":  len(points),
	})
}

func (s *Server) handleEpochs(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), defaultEpochLimit)

	r, ok := s.resolveRun(c)
	if !ok {
		return
	}

	summaries, err := s.store.EpochSummaries(r.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read epoch summaries"})
		return
	}

	epochs := make([]gin.H, 0, len(summaries))
	for _, es := range summaries {
		epochs = append(epochs, gin.H{
			"epoch":       es.Epoch,
			"source_loss": es.SourceLoss,
			"target_loss": es.TargetLoss,
			"total_loss":  es.TotalLoss,
			"lr":          es.LR,
			"validated":   es.Validated,
			"mean_iou":    es.MeanIoU,
			"best_iou":    es.BestIoU,
			"pixel_acc":   es.PixelAcc,
			"mean_acc":    es.MeanAcc,
			"duration_ms": es.Duration.Milliseconds(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"run": r.ID, "epochs": epochs, "count": len(epochs)})
}

// resolveRun picks the run from the id query parameter, falling back to the
// latest run. Writes the error response itself when resolution fails.
func (s *Server) resolveRun(c *gin.Context) (run.Run, bool) {
	if id := c.Query("id"); id != "" {
		r, err := s.store.GetRun(id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return run.Run{}, false
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run"})
			return run.Run{}, false
		}
		return r, true
	}

	r, err := s.store.LatestRun()
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded"})
		return run.Run{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run"})
		return run.Run{}, false
	}
	return r, true
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
