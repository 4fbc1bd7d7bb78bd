package metrics

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "termpanel_sessions_active",
			Help: "Number of terminal sessions known to the multiplexer",
		},
	)

	BridgesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "termpanel_bridges_active",
			Help: "Number of live PTY bridge connections",
		},
	)

	SubscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "termpanel_subscribers_active",
			Help: "Number of WebSocket subscribers across all sessions",
		},
	)

	OutputBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "termpanel_output_bytes_total",
			Help: "Bytes read from PTY masters and broadcast to subscribers",
		},
	)

	DisplaysActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "termpanel_displays_active",
			Help: "Number of running virtual display slots",
		},
	)

	DisplayAllocateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "termpanel_display_allocate_duration_seconds",
			Help:    "Time to bring up the three-stage display pipeline",
			Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0},
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "termpanel_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsActive,
		BridgesActive,
		SubscribersActive,
		OutputBytesTotal,
		DisplaysActive,
		DisplayAllocateDuration,
		HTTPRequestsTotal,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()
			return err
		}
	}
}
