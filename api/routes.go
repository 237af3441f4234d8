package api

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// NewRouter registers the API routes. accessLog receives one Apache-style
// line per request; nil disables it.
func NewRouter(s *Server, accessLog io.Writer) http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/trip_summary", s.cached("trip_summary", s.tripSummary)).Methods("GET")
	api.HandleFunc("/hourly_metrics", s.cached("hourly_metrics", s.hourlyMetrics)).Methods("GET")
	api.HandleFunc("/trips", s.cached("trips", s.trips)).Methods("GET")
	api.HandleFunc("/outliers", s.cached("outliers", s.outliers)).Methods("GET")
	api.HandleFunc("/peak_hours", s.cached("peak_hours", s.peakHours)).Methods("GET")
	api.HandleFunc("/pickup_cells", s.cached("pickup_cells", s.pickupCells)).Methods("GET")
	api.HandleFunc("/reload", s.reload).Methods("POST")

	router.HandleFunc("/healthz", s.health).Methods("GET")

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	var h http.Handler = cors(router)
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	return h
}
