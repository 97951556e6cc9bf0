// Package handlers implements the HTTP surface: session creation, the
// WebSocket terminal attach endpoint and the diagnostic endpoints.
//
// # Log Prefixes
//
//   - [connect]  - session creation results
//   - [terminal] - WebSocket attach and detach
package handlers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/1314ysys/WebTerminalTool/internal/audit"
	"github.com/1314ysys/WebTerminalTool/internal/bridge"
	"github.com/1314ysys/WebTerminalTool/internal/config"
	"github.com/1314ysys/WebTerminalTool/internal/metrics"
	"github.com/1314ysys/WebTerminalTool/internal/middleware"
	"github.com/1314ysys/WebTerminalTool/internal/remote"
	"github.com/go-chi/chi/v5"
)

// Opener establishes a remote session. remote.Open is the production opener.
type Opener func(ctx context.Context, target remote.Target, creds remote.Credentials, opts remote.Options) (remote.Session, error)

// Handler serves the terminal endpoints. Auditor and Metrics are optional.
type Handler struct {
	Registry *bridge.Registry
	Auditor  *audit.Auditor
	Metrics  *metrics.Metrics
	Open     Opener

	SSHTimeout     time.Duration
	TelnetTimeout  time.Duration
	Term           string
	KnownHostsPath string
	ReadBufferSize int
	PollInterval   time.Duration
	WSReadLimit    int64
	Debug          bool

	// AdminToken is the bearer token for /api/v1; empty disables it.
	AdminToken string
}

// New returns a Handler configured from config.Cfg.
func New(registry *bridge.Registry, auditor *audit.Auditor, m *metrics.Metrics) *Handler {
	return &Handler{
		Registry:       registry,
		Auditor:        auditor,
		Metrics:        m,
		Open:           remote.Open,
		SSHTimeout:     config.Cfg.SSHTimeout,
		TelnetTimeout:  config.Cfg.TelnetTimeout,
		Term:           config.Cfg.Term,
		KnownHostsPath: config.Cfg.KnownHostsPath,
		ReadBufferSize: config.Cfg.ReadBufferSize,
		PollInterval:   config.Cfg.PollInterval,
		WSReadLimit:    config.Cfg.WSReadLimit,
		Debug:          config.Cfg.Debug,
		AdminToken:     config.Cfg.AdminToken,
	}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/connect", h.Connect)
	r.Get("/ws", h.Terminal)
	r.Get("/health", h.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(h.AdminToken))

		r.Get("/sessions", h.ListSessions)
		r.Get("/audit", h.GetAuditLogs)
		r.Post("/audit/purge", h.PurgeAuditLogs)
		r.Get("/logs", GetServerLogs)
	})
}

func (h *Handler) remoteOptions(p remote.Protocol) remote.Options {
	timeout := h.SSHTimeout
	if p == remote.ProtocolTelnet {
		timeout = h.TelnetTimeout
	}
	return remote.Options{
		Timeout:        timeout,
		Term:           h.Term,
		KnownHostsPath: h.KnownHostsPath,
		ReadBufferSize: h.ReadBufferSize,
	}
}

func (h *Handler) audit(event audit.EventType, e audit.Entry) {
	if h.Auditor == nil {
		return
	}
	h.Auditor.Log(event, e)
}

// sourceIP strips the port from r.RemoteAddr (already rewritten by RealIP).
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
