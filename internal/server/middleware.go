package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"urbansim/pkg/config"
	"urbansim/pkg/logger"
	"urbansim/pkg/metrics"
	"urbansim/pkg/ratelimit"
)

// statusRecorder запоминает код ответа для логов и метрик
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush пробрасывает Flush для SSE
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in http handler",
					"panic", fmt.Sprint(rec), "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError,
					map[string]string{"message": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(started).Milliseconds(),
			"client", ratelimit.ClientIP(r),
		)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	m := metrics.Get()
	tracker := metrics.NewRequestTracker(m.HTTPRequestsInFlight)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routePattern(r)

		tracker.Start(path)
		defer tracker.End(path)

		timer := metrics.NewTimer(m.HTTPRequestDuration, r.Method, path)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		timer.ObserveDuration()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
	})
}

// routePattern обобщает путь, чтобы не раздувать кардинальность метрик
func routePattern(r *http.Request) string {
	path := r.URL.Path
	if strings.HasPrefix(path, "/results/") {
		return "/results/{id}/export"
	}
	return path
}

func corsMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(cfg.AllowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
				if cfg.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// rateLimitMiddleware ограничивает запуски симуляций по IP клиента
func rateLimitMiddleware(cfg *config.Config, limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || !cfg.RateLimit.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter failed, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if info, err := limiter.GetInfo(r.Context(), key); err == nil && info.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(info.RetryAfter.Seconds())+1))
				}
				writeJSON(w, http.StatusTooManyRequests,
					map[string]string{"message": "too many simulation requests, slow down"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
