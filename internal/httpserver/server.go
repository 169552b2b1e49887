package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
	"github.com/OldManSaturn/siem-saltbuild/internal/supervisor"
)

const (
	// DefaultAddr is used when no listen address is configured.
	DefaultAddr = "127.0.0.1:3000"
	// DefaultStopTimeout bounds POST /api/tasks/stop.
	DefaultStopTimeout = 10 * time.Second

	defaultLogLimit = 100
	maxLogLimit     = 1000
	topHostsLimit   = 10
)

// QueryStore is the narrow store contract required by the HTTP API.
type QueryStore interface {
	model.LogReader
}

// TaskController is the supervisor surface exposed over HTTP.
type TaskController interface {
	StartPair(tcpPort, udpPort uint16) (string, error)
	Tasks() []supervisor.TaskInfo
	StopAll(ctx context.Context) error
	Abort(id string) error
	AbortAll() []string
}

// Server provides the HTTP control and query API.
type Server struct {
	addr        string
	store       QueryStore
	tasks       TaskController
	stopTimeout time.Duration

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server. stopTimeout bounds the graceful
// stop triggered by POST /api/tasks/stop; zero selects DefaultStopTimeout.
func NewServer(addr string, store QueryStore, tasks TaskController, stopTimeout time.Duration) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		store:       store,
		tasks:       tasks,
		stopTimeout: stopTimeout,
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/schema", s.handleSchema)
	api.POST("/query", s.handleQuery)
	api.GET("/logs", s.handleLogs)
	api.GET("/stats", s.handleStats)

	api.GET("/tasks", s.handleListTasks)
	api.POST("/tasks", s.handleStartTask)
	api.POST("/tasks/stop", s.handleStopAll)
	api.POST("/tasks/abort", s.handleAbortAll)
	api.DELETE("/tasks/:id", s.handleAbortTask)

	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = listener
	s.startTime = time.Now()
	s.mu.Unlock()

	go srv.Serve(listener)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	logCount, err := s.store.TotalLogCount(model.QueryOpts{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"log_count":  logCount,
		"task_count": len(s.tasks.Tasks()),
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	columns, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range columns {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": s.store.GetSchemaDescription(),
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}

type logEntryResponse struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Protocol   string    `json:"protocol"`
	Source     string    `json:"source"`
	Message    string    `json:"message"`
	Timestamp  *string   `json:"timestamp,omitempty"`
	Hostname   *string   `json:"hostname,omitempty"`
	Process    *string   `json:"process,omitempty"`
}

func toLogEntryResponse(e model.LogEntry) logEntryResponse {
	resp := logEntryResponse{
		ID:         e.ID,
		ReceivedAt: e.ReceivedAt,
		Protocol:   string(e.Protocol),
		Source:     e.Source,
		Message:    e.Message,
	}
	if h := e.Header; h != nil {
		resp.Timestamp = &h.Timestamp
		resp.Hostname = &h.Hostname
		resp.Process = &h.Process
	}
	return resp
}

func (s *Server) handleLogs(c *gin.Context) {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLogLimit)
	}

	opts, ok := queryOpts(c)
	if !ok {
		return
	}

	entries, err := s.store.RecentLogs(limit, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read logs"})
		return
	}

	out := make([]logEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLogEntryResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"logs": out, "count": len(out)})
}

func (s *Server) handleStats(c *gin.Context) {
	opts, ok := queryOpts(c)
	if !ok {
		return
	}

	total, err := s.store.TotalLogCount(opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count logs"})
		return
	}
	byProtocol, err := s.store.CountByProtocol()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count logs by protocol"})
		return
	}
	hosts, err := s.store.TopHosts(topHostsLimit, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read top hosts"})
		return
	}

	protocols := make(map[string]int64, len(byProtocol))
	for _, pc := range byProtocol {
		protocols[string(pc.Protocol)] = pc.Count
	}
	topHosts := make([]gin.H, 0, len(hosts))
	for _, h := range hosts {
		topHosts = append(topHosts, gin.H{"hostname": h.Value, "count": h.Count})
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"protocols": protocols,
		"top_hosts": topHosts,
	})
}

// queryOpts reads the optional protocol filter, writing a 400 when it is unknown.
func queryOpts(c *gin.Context) (model.QueryOpts, bool) {
	raw := c.Query("protocol")
	if strings.TrimSpace(raw) == "" {
		return model.QueryOpts{}, true
	}
	if p, ok := model.ParseProtocol(raw); ok {
		return model.QueryOpts{Protocol: p}, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "protocol must be one of TCP, UDP, FILE"})
	return model.QueryOpts{}, false
}
