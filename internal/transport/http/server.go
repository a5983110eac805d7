// Package httptransport builds the http.Server for the healthsync API.
package httptransport

import (
	"net/http"
	"time"
)

const (
	defaultReadTimeout = 10 * time.Second
	// The dashboard handler may run a full ingestion cycle (60s budget)
	// before writing a byte, so the write timeout sits above that.
	defaultWriteTimeout = 90 * time.Second
	defaultIdleTimeout  = 120 * time.Second
)

// ServerConfig contains tunables for the HTTP server. Zero timeouts fall
// back to defaults sized for the synchronous dashboard-refresh path.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates *http.Server with provided handler.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
