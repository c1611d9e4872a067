// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uploadkit/tusk/pkg/debug"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "protocol",
		Name:      "requests_total",
		Help:      "Total number of tus requests processed, by method",
	}, []string{"method"})

	protocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "protocol",
		Name:      "errors_total",
		Help:      "Total number of tus requests that failed, by error code",
	}, []string{"code"})
)

func init() {
	debug.Registry().MustRegister(requestsTotal, protocolErrors)
}
