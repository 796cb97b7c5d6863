// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the counters and gauges exposed on the Registry's optional
// /metrics endpoint. Each Registry gets its own registry.Registry so tests
// can spin up many instances without colliding on the global default
// registerer.
type Metrics struct {
	reg              *prometheus.Registry
	ClientsConnected prometheus.Gauge
	WorkersConnected *prometheus.GaugeVec
	Elections        *prometheus.CounterVec
}

// NewMetrics registers a fresh metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		ClientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "distort_registry_clients_connected",
			Help: "Number of clients currently registered with the Registry.",
		}),
		WorkersConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "distort_registry_workers_connected",
			Help: "Number of workers currently registered, by class.",
		}, []string{"class"}),
		Elections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "distort_registry_primary_elections_total",
			Help: "Number of times a primary was assigned for a class.",
		}, []string{"class"}),
	}
}

// Serve starts the /metrics endpoint if addr is non-empty and blocks
// until ctx is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info("metrics listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server", "error", fmt.Errorf("serving /metrics on %s: %w", addr, err))
	}
}
