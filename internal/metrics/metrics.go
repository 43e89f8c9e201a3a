// Package metrics exposes the bot's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts dispatched commands by name.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatinfo",
		Name:      "commands_total",
		Help:      "Commands dispatched to a handler, by command name.",
	}, []string{"command"})

	// CommandErrorsTotal counts commands whose handler or middleware failed.
	CommandErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatinfo",
		Name:      "command_errors_total",
		Help:      "Commands that ended in an error, by command name.",
	}, []string{"command"})

	// UnknownCommandsTotal counts lookups that missed the registry.
	UnknownCommandsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatinfo",
		Name:      "unknown_commands_total",
		Help:      "Inbound commands with no registration.",
	})

	// RejectionsTotal counts security-pipeline rejections by reason.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatinfo",
		Name:      "rejections_total",
		Help:      "Requests rejected before reaching a handler, by reason.",
	}, []string{"reason"})

	// CommandDuration observes end-to-end dispatch latency per command.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatinfo",
		Name:      "command_duration_seconds",
		Help:      "Time from route entry to handler completion.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})

	// SecurityEventsTotal counts emitted security events by kind.
	SecurityEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatinfo",
		Name:      "security_events_total",
		Help:      "Security events emitted, by event kind.",
	}, []string{"kind"})
)
