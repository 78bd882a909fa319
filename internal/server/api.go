package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kaustavdm/watchme/internal/history"
	"github.com/kaustavdm/watchme/internal/modules"
	"github.com/kaustavdm/watchme/internal/types"
)

// CycleHistory is the read side of the cycle history store.
type CycleHistory interface {
	ListCycles(ctx context.Context, limit int) ([]types.CycleSummary, error)
	GetCycle(ctx context.Context, id string) (*types.CycleSummary, error)
}

type APIServer struct {
	addr      string
	scheduler *modules.Scheduler
	reporter  *modules.Reporter
	history   CycleHistory
	engine    *gin.Engine
	server    *http.Server
	logger    *zap.Logger
}

// APIError represents an error response
type APIError struct {
	Error string `json:"error"`
}

// APIResponse represents a success response
type APIResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// TaskView is a task spec with its latest state.
type TaskView struct {
	types.TaskSpec
	State string `json:"state,omitempty"`
}

type taskRequest struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Active *bool             `json:"active"`
	Params map[string]string `json:"params"`
}

// NewAPIServer wires the HTTP routes. reporter and hist may be nil.
func NewAPIServer(addr string, scheduler *modules.Scheduler, reporter *modules.Reporter, hist CycleHistory, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &APIServer{
		addr:      addr,
		scheduler: scheduler,
		reporter:  reporter,
		history:   hist,
		logger:    logger.Named("api"),
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.logRequest())
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/tasks", s.handleListTasks)
	s.engine.POST("/tasks", s.handleCreateTask)
	s.engine.GET("/tasks/:name", s.handleGetTask)
	s.engine.DELETE("/tasks/:name", s.handleDeleteTask)
	s.engine.GET("/runs", s.handleListRuns)
	s.engine.POST("/runs", s.handleRun)
	s.engine.GET("/runs/:id", s.handleGetRun)
	s.engine.GET("/metrics", s.handleMetrics)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

func (s *APIServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", zap.String("addr", s.addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

func (s *APIServer) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) logRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *APIServer) handleHealth(c *gin.Context) {
	s.writeJSON(c, http.StatusOK, APIResponse{
		Message: "OK",
		Data: map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		},
	})
}

func (s *APIServer) handleListTasks(c *gin.Context) {
	states := s.scheduler.States()
	specs := s.scheduler.GetTasks()
	views := make([]TaskView, 0, len(specs))
	for _, spec := range specs {
		views = append(views, TaskView{TaskSpec: spec, State: states[spec.Name]})
	}
	s.writeJSON(c, http.StatusOK, APIResponse{Message: "Tasks retrieved successfully", Data: views})
}

func (s *APIServer) handleGetTask(c *gin.Context) {
	spec, state, ok := s.scheduler.GetTask(c.Param("name"))
	if !ok {
		s.writeError(c, "Task not found", http.StatusNotFound)
		return
	}
	s.writeJSON(c, http.StatusOK, APIResponse{Message: "Task retrieved successfully", Data: TaskView{TaskSpec: spec, State: state}})
}

func (s *APIServer) handleCreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		s.writeError(c, "task type is required", http.StatusBadRequest)
		return
	}

	spec := types.NewTaskSpec(req.Name, req.Type, req.Params)
	if req.Active != nil {
		spec.Active = *req.Active
	}
	if err := s.scheduler.AddTask(spec); err != nil {
		s.writeError(c, err.Error(), http.StatusBadRequest)
		return
	}
	stored, state, _ := s.scheduler.GetTask(spec.Name)
	s.writeJSON(c, http.StatusCreated, APIResponse{Message: "Task created successfully", Data: TaskView{TaskSpec: stored, State: state}})
}

func (s *APIServer) handleDeleteTask(c *gin.Context) {
	if !s.scheduler.RemoveTask(c.Param("name")) {
		s.writeError(c, "Task not found", http.StatusNotFound)
		return
	}
	s.writeJSON(c, http.StatusOK, APIResponse{Message: "Task removed"})
}

// handleRun runs one cycle synchronously. The cycle outlives a dropped client.
func (s *APIServer) handleRun(c *gin.Context) {
	summary, err := s.scheduler.RunCycle(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, modules.ErrCycleRunning):
		s.writeError(c, err.Error(), http.StatusConflict)
	case errors.Is(err, types.ErrConfiguration):
		s.writeError(c, err.Error(), http.StatusUnprocessableEntity)
	case err != nil:
		s.writeError(c, err.Error(), http.StatusInternalServerError)
	default:
		s.writeJSON(c, http.StatusOK, APIResponse{Message: "Cycle finished", Data: summary})
	}
}

func (s *APIServer) handleListRuns(c *gin.Context) {
	if s.history == nil {
		var runs []types.CycleSummary
		if last := s.scheduler.LastCycle(); last != nil {
			runs = append(runs, *last)
		}
		s.writeJSON(c, http.StatusOK, APIResponse{Message: "Runs retrieved successfully", Data: runs})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		s.writeError(c, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	runs, err := s.history.ListCycles(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list cycles", zap.Error(err))
		s.writeError(c, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	s.writeJSON(c, http.StatusOK, APIResponse{Message: "Runs retrieved successfully", Data: runs})
}

func (s *APIServer) handleGetRun(c *gin.Context) {
	id := c.Param("id")
	if last := s.scheduler.LastCycle(); last != nil && last.ID == id {
		s.writeJSON(c, http.StatusOK, APIResponse{Message: "Run retrieved successfully", Data: last})
		return
	}
	if s.history == nil {
		s.writeError(c, "Run not found", http.StatusNotFound)
		return
	}

	run, err := s.history.GetCycle(c.Request.Context(), id)
	switch {
	case errors.Is(err, history.ErrNotFound):
		s.writeError(c, "Run not found", http.StatusNotFound)
	case err != nil:
		s.logger.Error("failed to load cycle", zap.String("cycle", id), zap.Error(err))
		s.writeError(c, "Failed to load run", http.StatusInternalServerError)
	default:
		s.writeJSON(c, http.StatusOK, APIResponse{Message: "Run retrieved successfully", Data: run})
	}
}

func (s *APIServer) handleMetrics(c *gin.Context) {
	if s.reporter == nil {
		s.writeError(c, "Metrics not available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(c, http.StatusOK, APIResponse{Message: "Metrics retrieved successfully", Data: s.reporter.GetMetrics()})
}

func (s *APIServer) writeJSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

func (s *APIServer) writeError(c *gin.Context, message string, status int) {
	c.AbortWithStatusJSON(status, APIError{Error: message})
}
