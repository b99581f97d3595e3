package handlers

import (
	"net/http"
	"time"

	"go-tracker/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	APIPrefix       string
	CORSOrigins     []string
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// NewRouter mounts every route. API routes live under cfg.APIPrefix;
// /healthz and /metrics stay at the root.
func NewRouter(cfg RouterConfig, tokens middleware.TokenParser, auth *AuthHandler, users *UserHandler, ws *WSHandler, health *HealthHandler) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestMiddleware())
	r.Use(middleware.ErrorMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	r.HandleFunc("/healthz", health.Healthz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	var api *mux.Router
	if cfg.APIPrefix != "" {
		api = r.PathPrefix(cfg.APIPrefix).Subrouter()
	} else {
		api = r.NewRoute().Subrouter()
	}

	// Auth routes
	authRouter := api.PathPrefix("/auth").Subrouter()
	login := http.Handler(http.HandlerFunc(auth.GoogleLogin))
	if cfg.LoginRateLimit > 0 {
		login = middleware.RateLimitByIP(cfg.LoginRateLimit, cfg.LoginRateWindow)(login)
	}
	authRouter.Handle("/google-login", login).Methods("POST", "OPTIONS")
	authRouter.Handle("/logout", middleware.SessionGuard(tokens)(http.HandlerFunc(auth.Logout))).Methods("POST", "OPTIONS")

	// User routes
	userRouter := api.PathPrefix("/users").Subrouter()
	userRouter.Use(middleware.SessionGuard(tokens))
	userRouter.HandleFunc("/location", users.UpdateLocation).Methods("POST", "OPTIONS")
	userRouter.HandleFunc("/all", users.GetAllUsers).Methods("GET", "OPTIONS")
	userRouter.HandleFunc("/me", users.GetCurrentUser).Methods("GET", "OPTIONS")

	// Realtime
	api.HandleFunc("/ws", ws.ServeWS).Methods("GET")

	return r
}
