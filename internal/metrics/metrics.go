package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionStates = []string{"disconnected", "connecting", "awaiting_pairing", "connected"}

var (
	// Current WhatsApp session state, 1 for the active state and 0 for the rest
	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "whatsapp_connection_state",
			Help: "Current WhatsApp connection state",
		},
		[]string{"state"},
	)

	reconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_reconnects_scheduled_total",
			Help: "Reconnects scheduled after an unsolicited transport close",
		},
	)

	// Outbound messages partitioned by terminal log status
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_messages_total",
			Help: "Outbound WhatsApp messages by final status",
		},
		[]string{"status"},
	)

	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_verifications_total",
			Help: "Phone verification outcomes",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// SetConnectionState marks state as the only active connection state.
func SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

func ReconnectScheduled() { reconnectsScheduled.Inc() }

func MessageFinished(status string) { messagesTotal.WithLabelValues(status).Inc() }

func VerificationResult(result string) { verificationsTotal.WithLabelValues(result).Inc() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies. The matched mux route template is
// used as the route label to keep cardinality low.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
