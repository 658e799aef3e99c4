package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"sms-auth-service/internal/config"
	"sms-auth-service/internal/util"
)

// requireHTTPS rejects any request that wasn't made over TLS.
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired) // 426
			w.Write([]byte(`{"exito":false,"mensaje":"se requiere https","datos":null}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter configures the chi router with the middleware stack and all
// auth routes.
func NewRouter(authHandler *AuthHandler, cfg *config.Config, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if cfg.Server.EnableTLS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondSuccess(w, http.StatusOK, "Servicio operativo", map[string]string{
			"status": "healthy",
		})
	})

	authHandler.RegisterRoutes(router)

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Recurso no encontrado", nil)
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Metodo no permitido", nil)
	})

	return router
}

// LoggerMiddleware logs every HTTP request through the zap logger.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
