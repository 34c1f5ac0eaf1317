package main

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/pointing/go/internal/config"
)

func setupServer(cfg config.Config, services *Services) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(services.Gateway.Routes(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout: websocket streams are long lived
		IdleTimeout: 120 * time.Second,
	}
}
