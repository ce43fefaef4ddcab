package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/miniprobe/internal/models"
	"github.com/vesaa/miniprobe/internal/store"
	"go.uber.org/zap"
)

const defaultSampleLimit = 100

// RegisterControlRoutes wires up the operator API.
//
//	Public:          POST /api/login, GET /api/health
//	Protected (JWT): everything else under /api
func (s *Server) RegisterControlRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", s.handleLogin)
	api.GET("/health", s.handleHealth)

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	auth := api.Group("/", s.JWTMiddleware())
	{
		auth.GET("/sessions/active", s.handleActiveSessions)
		auth.GET("/sessions/:id", s.handleGetSession)
		auth.GET("/sessions/:id/samples", s.handleListSamples)
		auth.DELETE("/sessions/:id", s.handleDeleteSession)
		auth.GET("/samples/:id", s.handleGetSample)
		auth.GET("/clients", s.handleListClients)
		auth.DELETE("/clients/:id", s.handleDeleteClient)
	}
}

// RegisterDataRoutes wires up the agent-facing API.
func (s *Server) RegisterDataRoutes(r *gin.Engine) {
	// no auth, used by load-balancers / k8s probes
	r.GET("/health", s.handleHealth)

	v1 := r.Group("/api/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.POST("/metrics", s.SessionTokenMiddleware(), s.handleWriteSample)
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// errorStatus maps store sentinels onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, store.ErrConstraintViolation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// ── Data-plane handlers ───────────────────────────────────────────────────────

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().UTC()})
}

// handleCreateSession resolves the client token and opens a session.
//
//	POST /api/v1/sessions
//	Body: { "token": "...", "system_info": { "cpu_arch": "x86_64", ... } }
func (s *Server) handleCreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	client, err := s.store.ResolveToken(ctx, req.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	sess, err := s.store.OpenSession(ctx, client.ID, req.SystemInfo)
	if err != nil {
		s.fail(c, err)
		return
	}

	token := s.sessions.Add(sess.ID)
	s.log.Info("session opened",
		zap.Int64("session_id", sess.ID),
		zap.Int64("client_id", client.ID),
		zap.String("host_name", sess.HostName),
		zap.String("cpu_arch", sess.CPUArch),
	)
	c.JSON(http.StatusCreated, models.CreateSessionResponse{
		SessionToken:   token,
		ScrapeInterval: s.scrapeInterval,
	})
}

// handleWriteSample stores one sample under the caller's session.
//
//	POST /api/v1/metrics
//	Authorization: Bearer <session_token>
func (s *Server) handleWriteSample(c *gin.Context) {
	var sample models.Sample
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID := c.GetInt64("session_id")

	release, ok := s.sessions.Acquire(sessionID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session already has an upload in progress"})
		return
	}
	defer release()

	id, err := s.store.WriteSample(c.Request.Context(), sessionID, sample)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// reaped underneath the agent; make it open a new session
			s.sessions.Forget(c.GetString("session_token"))
			s.log.Info("sample for deleted session", zap.Int64("session_id", sessionID))
		}
		s.fail(c, err)
		return
	}
	s.log.Debug("sample stored", zap.Int64("session_id", sessionID), zap.Int64("sample_id", id))
	c.JSON(http.StatusCreated, models.WriteSampleResponse{ID: id})
}

// ── Control-plane handlers ────────────────────────────────────────────────────

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if body.Username != s.adminUser || body.Password != s.adminPass {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.GenerateJWT(body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(jwtTTL.Seconds()),
		"type":       "Bearer",
	})
}

func (s *Server) handleActiveSessions(c *gin.Context) {
	sessions, err := s.store.ListActiveSessions(c.Request.Context(), s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

func (s *Server) handleGetSession(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	sess, err := s.store.GetSession(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sess})
}

// handleListSamples returns the newest samples of a session, ?limit=N (default 100).
func (s *Server) handleListSamples(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	limit := defaultSampleLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetSession(ctx, id); err != nil {
		s.fail(c, err)
		return
	}
	samples, err := s.store.ListSamples(ctx, id, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": samples})
}

func (s *Server) handleGetSample(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	sample, err := s.store.GetSample(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sample})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteSession(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.ForgetSession(id)
	s.log.Info("session deleted", zap.Int64("session_id", id), zap.String("by", c.GetString("username")))
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleListClients(c *gin.Context) {
	clients, err := s.store.ListClients(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": clients})
}

// handleDeleteClient removes a client; its sessions stay, orphaned.
func (s *Server) handleDeleteClient(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteClient(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("client deleted", zap.Int64("client_id", id), zap.String("by", c.GetString("username")))
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
