// Package server exposes the miniprobe store over two gin engines:
//   - Data plane: agents open sessions with their client token and push samples
//     using the opaque session token they get back.
//   - Control plane: JWT-protected operator API for liveness and cleanup.
package server

import (
	"time"

	"github.com/vesaa/miniprobe/internal/store"
	"go.uber.org/zap"
)

// Options carries the settings the handlers need from config.
type Options struct {
	JWTSecret      string
	AdminUser      string
	AdminPass      string
	ScrapeInterval int // seconds, handed to agents
}

// Server holds shared state for both planes.
type Server struct {
	store    *store.Store
	sessions *SessionManager
	log      *zap.Logger
	now      func() time.Time

	jwtSecret      []byte
	adminUser      string
	adminPass      string
	scrapeInterval int
}

// New builds a Server around an opened store.
func New(st *store.Store, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:          st,
		sessions:       NewSessionManager(),
		log:            log,
		now:            time.Now,
		jwtSecret:      []byte(opts.JWTSecret),
		adminUser:      opts.AdminUser,
		adminPass:      opts.AdminPass,
		scrapeInterval: opts.ScrapeInterval,
	}
}

// ForgetSession drops every live token bound to sessionID. The reaper calls
// this after deleting a session so agents are told to reconnect.
func (s *Server) ForgetSession(sessionID int64) {
	if n := s.sessions.ForgetSession(sessionID); n > 0 {
		s.log.Debug("session tokens dropped", zap.Int64("session_id", sessionID), zap.Int("count", n))
	}
}
