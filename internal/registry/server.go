package registry

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Server exposes the registry over HTTP, grounded on the teacher's gin
// handler style (gin.Context, c.JSON with gin.H).
type Server struct {
	store        Store
	agentTimeout time.Duration
	logger       *slog.Logger
	engine       *gin.Engine
}

// NewServer builds the gin engine and registers routes. See spec §6
// "Registry HTTP surface".
func NewServer(store Store, agentTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: store, agentTimeout: agentTimeout, logger: logger.With("component", "registry-server")}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler returns the http.Handler serving the registry's REST surface.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/agents/register", s.handleRegister)
	s.engine.POST("/agents/:id/heartbeat", s.handleHeartbeat)
	s.engine.GET("/agents", s.handleList)
	s.engine.GET("/agents/:id", s.handleGet)
	s.engine.DELETE("/agents/:id", s.handleRemove)
	s.engine.POST("/agents/:id/hotpath", s.handleSetHotpath)
	s.engine.GET("/stats", s.handleStats)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type registerRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Host    string `json:"host" binding:"required"`
	Port    int    `json:"port" binding:"required"`
	Hotpath bool   `json:"hotpath"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.store.Register(c.Request.Context(), req.AgentID, req.Host, req.Port, req.Hotpath, time.Now())
	if err != nil {
		s.logger.Error("register failed", "agent_id", req.AgentID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type heartbeatRequest struct {
	Status     string    `json:"status"`
	ReportedAt time.Time `json:"reported_at"`
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	agentID := c.Param("id")
	var req heartbeatRequest
	// Body is optional; absence just means "status unchanged, now".
	_ = c.ShouldBindJSON(&req)

	now := time.Now()
	if !req.ReportedAt.IsZero() {
		now = req.ReportedAt
	}
	rec, err := s.store.Heartbeat(c.Request.Context(), agentID, Status(req.Status), now)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleList(c *gin.Context) {
	opts := ListOptions{
		HealthyOnly: parseBoolQuery(c, "healthy_only"),
		HotpathOnly: parseBoolQuery(c, "hotpath_only"),
	}
	records, err := s.store.List(c.Request.Context(), opts, time.Now(), s.agentTimeout)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if records == nil {
		records = []Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"agents":       records,
		"healthy_only": opts.HealthyOnly,
		"hotpath_only": opts.HotpathOnly,
	})
}

func (s *Server) handleGet(c *gin.Context) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRemove(c *gin.Context) {
	force := parseBoolQuery(c, "force")
	err := s.store.Remove(c.Request.Context(), c.Param("id"), force)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	case errors.Is(err, ErrHotpathAgent):
		c.JSON(http.StatusConflict, gin.H{"error": "hotpath_agent"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
	}
}

type hotpathRequest struct {
	Hotpath bool `json:"hotpath"`
}

func (s *Server) handleSetHotpath(c *gin.Context) {
	var req hotpathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.store.SetHotpath(c.Request.Context(), c.Param("id"), req.Hotpath)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "set hotpath failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context(), time.Now(), s.agentTimeout)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func parseBoolQuery(c *gin.Context, key string) bool {
	val := c.Query(key)
	if val == "" {
		return false
	}
	parsed, err := strconv.ParseBool(val)
	return err == nil && parsed
}
