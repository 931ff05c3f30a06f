package app

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// companyHeader names the tenant scope for every API call.
const companyHeader = "X-Company-ID"

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger      *slog.Logger
	Config      *Config
	Metrics     *observability.Metrics
	Idempotency *shared.IdempotencyStore
}

// MiddlewareStack installs the Meridian middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	rate := 120
	if cfg.Config != nil {
		if cfg.Config.AppRequestTimeout > 0 {
			timeout = cfg.Config.AppRequestTimeout
		}
		if cfg.Config.RateLimitPerMinute > 0 {
			rate = cfg.Config.RateLimitPerMinute
		}
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rate, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		CompanyScope(cfg.Logger),
	}
	if cfg.Idempotency != nil {
		middlewares = append(middlewares, IdempotencyGuard(cfg.Idempotency, cfg.Logger))
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// CompanyScope resolves the tenant from the request header and stores it on
// the context. Requests without a valid company are rejected before any
// handler runs; health and metrics endpoints are mounted outside this scope.
func CompanyScope(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(companyHeader)
			companyID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || companyID <= 0 {
				logger.Warn("missing or invalid company header", slog.String("path", r.URL.Path))
				shared.WriteErrorStatus(w, http.StatusBadRequest, shared.Validationf(companyHeader, "required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithCompany(r.Context(), companyID)))
		})
	}
}

// idempotencyHeader lets clients retry mutating calls safely.
const idempotencyHeader = "Idempotency-Key"

// IdempotencyGuard rejects a repeated mutating request carrying a key that was
// already processed. Requests without the header pass through; the key is
// released again when the handler reports a server-side failure so the client
// retry can succeed.
func IdempotencyGuard(store *shared.IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete) {
				next.ServeHTTP(w, r)
				return
			}
			if err := store.CheckAndInsert(r.Context(), key, r.URL.Path); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					shared.WriteErrorStatus(w, http.StatusConflict, err)
					return
				}
				logger.Error("idempotency check failed", slog.Any("error", err))
				shared.WriteErrorStatus(w, http.StatusInternalServerError, err)
				return
			}
			recorder := &statusCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			if recorder.status >= http.StatusInternalServerError {
				if err := store.Delete(r.Context(), key); err != nil {
					logger.Warn("idempotency key release failed", slog.Any("error", err))
				}
			}
		})
	}
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (w *statusCapture) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
