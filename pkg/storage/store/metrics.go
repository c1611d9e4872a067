// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uploadkit/tusk/pkg/debug"
)

var (
	uploadsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "store",
		Name:      "uploads_created_total",
		Help:      "Total number of uploads created",
	})

	uploadsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "store",
		Name:      "uploads_completed_total",
		Help:      "Total number of uploads that reached their declared length",
	})

	uploadsTerminated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "store",
		Name:      "uploads_terminated_total",
		Help:      "Total number of uploads removed by termination",
	})

	uploadsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "store",
		Name:      "uploads_expired_total",
		Help:      "Total number of uploads removed by the expiry sweep",
	})

	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "store",
		Name:      "bytes_written_total",
		Help:      "Total payload bytes durably written",
	})

	bytesDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "store",
		Name:      "bytes_discarded_total",
		Help:      "Total request bytes drained past the length or max-size bound",
	})
)

func init() {
	debug.Registry().MustRegister(
		uploadsCreated,
		uploadsCompleted,
		uploadsTerminated,
		uploadsExpired,
		bytesWritten,
		bytesDiscarded,
	)
}
