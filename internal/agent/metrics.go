package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// questionsTotal counts finished conversations by terminal state
	questionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finassist",
			Subsystem: "agent",
			Name:      "questions_total",
			Help:      "Questions answered, by terminal state.",
		},
		[]string{"state"},
	)

	roundsUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "finassist",
			Subsystem: "agent",
			Name:      "rounds",
			Help:      "Engine round trips used per question.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
	)

	// toolCallsTotal labels: outcome is "ok", "empty" or "error"
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finassist",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched, by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	engineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finassist",
			Subsystem: "agent",
			Name:      "engine_call_duration_seconds",
			Help:      "Duration of reasoning engine calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	budgetExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finassist",
			Subsystem: "agent",
			Name:      "budget_exhausted_total",
			Help:      "Conversations cut off by the round budget with tool calls pending.",
		},
	)
)
