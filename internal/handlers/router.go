package handlers

import (
	"context"
	"net/http"
	"time"

	"erp_wa/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Dependencies are the components the HTTP layer is built from.
type Dependencies struct {
	Session      Session
	Messages     Messenger
	Logs         MessageLogReader
	Notifier     Notifier
	Verifier     Verifier
	Tokens       TokenValidator
	HealthCheck  func(ctx context.Context) error
	ConnectGrace time.Duration
	CountryCode  string
	Log          zerolog.Logger
}

// NewRouter registers every route and wraps them in the CORS and metrics middleware.
func NewRouter(deps Dependencies) http.Handler {
	wa := &WhatsAppHandler{
		session:            deps.Session,
		messages:           deps.Messages,
		logs:               deps.Logs,
		notifier:           deps.Notifier,
		connectGrace:       deps.ConnectGrace,
		defaultCountryCode: deps.CountryCode,
		log:                deps.Log,
	}
	vh := &VerificationHandler{verifier: deps.Verifier, log: deps.Log}

	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	api := r.PathPrefix("/api/whatsapp").Subrouter()
	api.Use(requireAuth(deps.Tokens))

	// Session endpoints
	api.HandleFunc("/status", wa.HandleStatus).Methods("GET")
	api.HandleFunc("/connect", wa.HandleConnect).Methods("POST")
	api.HandleFunc("/disconnect", wa.HandleDisconnect).Methods("POST")

	// Messaging endpoints
	api.HandleFunc("/test-message", wa.HandleTestMessage).Methods("POST")
	api.HandleFunc("/check-number", wa.HandleCheckNumber).Methods("POST")
	api.HandleFunc("/messages/logs", wa.HandleListLogs).Methods("GET")
	api.HandleFunc("/messages/{id}/delivery", wa.HandleDelivery).Methods("GET")
	api.HandleFunc("/notify", wa.HandleNotify).Methods("POST")

	// Caller configuration endpoints
	api.HandleFunc("/user/config", vh.HandleGetConfig).Methods("GET")
	api.HandleFunc("/user/config", vh.HandleDeleteConfig).Methods("DELETE")
	api.HandleFunc("/user/request-verification", vh.HandleRequestVerification).Methods("POST")
	api.HandleFunc("/user/verify", vh.HandleVerify).Methods("POST")
	api.HandleFunc("/user/notifications", vh.HandleUpdateNotifications).Methods("PUT")

	r.HandleFunc("/api/health", healthHandler(deps.HealthCheck, deps.Session)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return corsMiddleware(r)
}

func healthHandler(check func(ctx context.Context) error, session Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := session.Status().State
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
					"status":   "degraded",
					"database": err.Error(),
					"whatsapp": state,
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"message":  "Backend is running",
			"whatsapp": state,
		})
	}
}
