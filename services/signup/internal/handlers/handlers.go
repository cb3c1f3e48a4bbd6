package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/diagnosis/luxsuv-signup/pkg/auth"
	"github.com/diagnosis/luxsuv-signup/pkg/config"
	"github.com/diagnosis/luxsuv-signup/pkg/logger"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/repository"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	sessionCookie = "luxsuv_signup"
	maxBodyBytes  = 1 << 20
)

type ctxKey int

const claimsKey ctxKey = iota

type Handlers struct {
	registration  service.RegistrationService
	accounts      service.AccountService
	rateLimitRepo repository.RateLimitRepository
	config        *config.Config
}

func New(
	registration service.RegistrationService,
	accounts service.AccountService,
	rateLimitRepo repository.RateLimitRepository,
	config *config.Config,
) *Handlers {
	return &Handlers{
		registration:  registration,
		accounts:      accounts,
		rateLimitRepo: rateLimitRepo,
		config:        config,
	}
}

// Routes mounts the registration and account endpoints on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/register", func(r chi.Router) {
		r.Post("/", h.SubmitRegistration)
		r.Get("/", h.RegistrationStage)
		r.Delete("/", h.Abandon)

		r.With(h.CodeRateLimit()).Post("/code", h.SubmitCode)
		r.With(h.CodeRateLimit()).Post("/code/resend", h.ResendCode)
		r.Post("/credentials", h.SubmitCredentials)
	})

	r.Post("/login", h.Login)
	r.With(h.RequireLogin).Get("/me", h.Me)
}

// RequireLogin admits requests carrying a valid access token and stores its
// claims on the request context.
func (h *Handlers) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header", "UNAUTHORIZED")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := auth.Parse(token, h.config.Auth.JWTSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", "INVALID_TOKEN")
			return
		}

		ctx := context.WithValue(r.Context(), logger.UserIDKey, claims.Sub)
		ctx = context.WithValue(ctx, claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CodeRateLimit bounds code attempts and resends per registration session,
// or per client address for requests without one. A failing limiter lets the
// request through.
func (h *Handlers) CodeRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "register_code:ip:" + clientIP(r)
			if id, ok := h.sessionID(r); ok {
				key = "register_code:session:" + id
			}

			limits := h.config.RateLimit
			allowed, err := h.rateLimitRepo.CheckRateLimit(r.Context(), key, limits.CodeRequests, limits.CodeWindow)
			if err != nil {
				logger.ErrorContext(r.Context(), "Rate limit check failed", "error", err)
			} else if !allowed {
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", "RATE_LIMIT_EXCEEDED")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// sessionID reads the registration session from its signed cookie.
func (h *Handlers) sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	id, err := auth.ParseRegistrationSession(c.Value, h.config.Auth.JWTSecret)
	if err != nil {
		return "", false
	}
	return id, true
}

// ensureSession returns the current session or starts a new one and sets
// its cookie.
func (h *Handlers) ensureSession(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, ok := h.sessionID(r); ok {
		return id, nil
	}

	id := h.registration.NewSession()
	token, err := auth.NewRegistrationSession(id, h.config.Auth.JWTSecret, h.config.Auth.SessionTTL)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/register",
		MaxAge:   int(h.config.Auth.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.Auth.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}

func (h *Handlers) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/register",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Auth.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// clientIP is the connection's peer address. Forwarded headers are honored
// only when the router runs chi's RealIP middleware, which rewrites
// RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	response := map[string]string{
		"error": message,
		"code":  code,
	}
	writeJSON(w, statusCode, response)
}

// writeServiceError renders a fault the client cannot fix. Database and
// session store outages read as temporary.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger.ErrorContext(r.Context(), "Request failed", "error", err)

	var storeErr *service.StoreError
	if repository.IsInfrastructure(err) || errors.As(err, &storeErr) {
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable. Please try again later.", "UNAVAILABLE")
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
}
