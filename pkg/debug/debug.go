// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package debug exposes the metrics registry and the operational HTTP
// endpoints (metrics, pprof, health).
package debug

import (
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready          atomic.Bool
	globalRegistry = prometheus.NewRegistry()
)

func init() {
	globalRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry returns the process-wide metrics registry. Packages register
// their metric vars against it in init.
func Registry() *prometheus.Registry {
	return globalRegistry
}

// SetReady marks the process ready to serve.
func SetReady() { ready.Store(true) }

// SetNotReady marks the process as not (yet) ready.
func SetNotReady() { ready.Store(false) }

// Handler returns the debug mux: /metrics, /debug/pprof, /healthz, /readyz.
func Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(globalRegistry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
