package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PratikDhanave/shotlog/internal/auth"
	"github.com/PratikDhanave/shotlog/internal/config"
	"github.com/PratikDhanave/shotlog/internal/handlers"
	"github.com/PratikDhanave/shotlog/internal/hub"
	"github.com/PratikDhanave/shotlog/internal/store"
)

// Deps are the collaborators the routes call into.
type Deps struct {
	Store    store.Store
	Ingester handlers.Ingester
	Hub      *hub.Hub
	Now      func() time.Time
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /api/health, /ready, /metrics, /api/shots, /api/ws
// Authenticated: /api/ingest, /api/ws-ingest
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger())

	handlers.RegisterHealthRoutes(r, deps.Store, deps.Now)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	upgrader := handlers.NewUpgrader(cfg.Security.AllowedOrigins)

	api := r.Group("/api")
	handlers.RegisterShotRoutes(api, deps.Store, cfg.Query.DefaultLimit, cfg.Query.MaxLimit)
	handlers.RegisterPushRoutes(api, deps.Hub, upgrader, cfg.Hub.SubscriberBuffer)

	// Ingest group: rate limited per client IP, then the pre-shared key.
	ingestGroup := api.Group("/")
	if cfg.Ingest.RateLimit > 0 {
		ingestGroup.Use(FromNetHTTP(httprate.Limit(
			cfg.Ingest.RateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(rateLimited),
		)))
	}
	ingestGroup.Use(auth.APIKeyMiddleware(cfg.Security.APIKey))
	handlers.RegisterIngestRoutes(ingestGroup, deps.Ingester, upgrader)

	return r
}

// NewHandler wraps the router with CORS for the configured origins.
func NewHandler(cfg *config.Config, deps Deps) http.Handler {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", auth.HeaderAPIKey},
		MaxAge:         600,
	})
	return corsHandler(NewRouter(cfg, deps))
}

// NewServer builds the http.Server run by the supervisor.
func NewServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func rateLimited(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"ok":false,"error":"rate_limited"}`))
}
