// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uploadkit/tusk/pkg/debug"
)

var (
	tasksEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "taskqueue",
		Name:      "enqueued_total",
		Help:      "Total number of tasks enqueued, by type",
	}, []string{"type"})

	tasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "taskqueue",
		Name:      "completed_total",
		Help:      "Total number of tasks completed, by type",
	}, []string{"type"})

	tasksRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "taskqueue",
		Name:      "retried_total",
		Help:      "Total number of failed task attempts that were requeued, by type",
	}, []string{"type"})

	tasksDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "taskqueue",
		Name:      "dead_lettered_total",
		Help:      "Total number of tasks that permanently failed, by type",
	}, []string{"type"})
)

func init() {
	debug.Registry().MustRegister(tasksEnqueued, tasksCompleted, tasksRetried, tasksDeadLettered)
}
