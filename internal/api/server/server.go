// Package server wraps the gin engine in a plain net/http.Server so
// main can drive graceful shutdown, matching the teacher's server.go.
package server

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

// New builds an http.Server listening on addr with the given read/write
// timeouts (0 means net/http's default of no timeout).
func New(addr string, router *ginext.Engine, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}
