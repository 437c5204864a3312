package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtrack_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healtrack_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// Chat
	ChatsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healtrack_chats_created_total",
			Help: "Total chats created",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtrack_messages_sent_total",
			Help: "Total chat messages persisted",
		},
		[]string{"channel"}, // "rest" or "socket"
	)

	SendStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtrack_send_step_failures_total",
			Help: "Send-message pipeline failures by step",
		},
		[]string{"step"},
	)

	// Notifications
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtrack_notifications_created_total",
			Help: "Total notifications created",
		},
		[]string{"kind"},
	)

	NotificationsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healtrack_notifications_purged_total",
			Help: "Soft-deleted notifications removed by the purge sweep",
		},
	)

	PanicAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healtrack_panic_alerts_total",
			Help: "Total panic-button escalations",
		},
	)

	MailSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtrack_mail_sent_total",
			Help: "Outbound mail attempts",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	// Real-time
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healtrack_ws_connections",
			Help: "Open websocket connections on this instance",
		},
	)

	WSEventsIn = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtrack_ws_events_in_total",
			Help: "Inbound socket events",
		},
		[]string{"event"},
	)

	WSEventsOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtrack_ws_events_out_total",
			Help: "Socket events emitted",
		},
		[]string{"event"},
	)

	WSDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healtrack_ws_dropped_total",
			Help: "Frames dropped because a client send buffer was full",
		},
	)
)

// Middleware records request count and latency keyed by the matched route
// template, which keeps ids out of the label set.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			HTTPRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			HTTPRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus exposition format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
