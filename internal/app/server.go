package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

const readHeaderTimeout = 10 * time.Second

// NewServer returns an http.Server whose request contexts are cancelled as
// soon as Shutdown starts. Shutdown does not cancel in-flight requests on
// its own, so open presence streams would otherwise hold it until the
// deadline.
func NewServer(addr string, handler http.Handler) *http.Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}
	server.RegisterOnShutdown(cancel)
	return server
}

// Server returns the HTTP server for the configured port.
func (a *App) Server() *http.Server {
	return NewServer(fmt.Sprintf(":%s", a.Config.ServerPort), a.Router())
}
