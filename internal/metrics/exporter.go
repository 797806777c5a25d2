package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Exporter exposes metrics via HTTP on a dedicated address.
type Exporter struct {
	server *http.Server
}

// NewExporter creates a metrics exporter listening on addr.
func NewExporter(addr string) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	return &Exporter{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves metrics until Stop is called.
func (e *Exporter) Start() error {
	if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the exporter down.
func (e *Exporter) Stop(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
