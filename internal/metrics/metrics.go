package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttendanceMarked counts persisted attendance records by join channel.
	AttendanceMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_marked_total",
		Help: "Attendance records created, labelled by join channel.",
	}, []string{"channel"})

	// JoinFailures counts rejected join attempts by failure class.
	JoinFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_join_failures_total",
		Help: "Join attempts rejected, labelled by failure reason.",
	}, []string{"reason"})

	// SessionsStarted counts sessions created.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_started_total",
		Help: "Class sessions started.",
	})

	// SessionsEnded counts sessions terminated.
	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_ended_total",
		Help: "Class sessions ended.",
	})

	// GatewayConnections tracks live websocket connections.
	GatewayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections",
		Help: "Currently open real-time gateway connections.",
	})

	// AuditProcessed counts audit-queue messages handled by the worker.
	AuditProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_events_processed_total",
		Help: "Audit queue messages processed by the worker, labelled by type.",
	}, []string{"type"})
)
