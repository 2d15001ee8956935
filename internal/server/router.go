package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vovakirdan/xo-arena/internal/auth"
)

func newRouter(a *api, gate *auth.Gatekeeper, live http.Handler, reg *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// The live connection authenticates during the handshake itself.
	r.Handle("/ws/game/{gameId}", live)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(gate.Middleware)

	apiRouter.HandleFunc("/matchmaking/queue", a.joinQueue).Methods(http.MethodPost)
	apiRouter.HandleFunc("/matchmaking/queue", a.leaveQueue).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/matchmaking/queue", a.queueStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/matchmaking/challenge/{targetId}", a.challenge).Methods(http.MethodPost)

	apiRouter.HandleFunc("/games", a.createBotGame).Methods(http.MethodPost)
	apiRouter.HandleFunc("/games", a.listGames).Methods(http.MethodGet)
	apiRouter.HandleFunc("/games/active", a.activeGame).Methods(http.MethodGet)
	apiRouter.HandleFunc("/games/{gameId}", a.gameState).Methods(http.MethodGet)
	apiRouter.HandleFunc("/games/{gameId}/moves", a.makeMove).Methods(http.MethodPost)
	apiRouter.HandleFunc("/games/{gameId}/surrender", a.surrender).Methods(http.MethodPost)
	apiRouter.HandleFunc("/games/{gameId}/status", a.updateStatus).Methods(http.MethodPut)

	return r
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
