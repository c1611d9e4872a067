// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uploadkit/tusk/pkg/debug"
)

var (
	eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "hooks",
		Name:      "emitted_total",
		Help:      "Total number of lifecycle events queued, by type",
	}, []string{"type"})

	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "hooks",
		Name:      "dropped_total",
		Help:      "Total number of lifecycle events dropped because hooks are disabled",
	})

	eventsErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "hooks",
		Name:      "errors_total",
		Help:      "Total number of event emission failures, by stage",
	}, []string{"stage"})
)

func init() {
	debug.Registry().MustRegister(eventsEmitted, eventsDropped, eventsErrors)
}
