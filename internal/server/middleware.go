package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bobmcallan/stockgen/internal/common"
)

// UserIDHeader carries the viewer id for clients that do not send a bearer token.
const UserIDHeader = "X-Stockgen-User-ID"

// CorrelationHeader is echoed on every response.
const CorrelationHeader = "X-Correlation-ID"

var allowedHeaders = strings.Join([]string{
	"Content-Type", "Authorization", "X-Request-ID", CorrelationHeader, UserIDHeader, "Mcp-Session-Id",
}, ", ")

type middleware func(http.Handler) http.Handler

type correlationKey struct{}

// correlationID returns the id assigned by correlationIDMiddleware.
func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// statusRecorder captures what a handler wrote for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	started bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.started {
		sr.status = code
		sr.started = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.started {
		sr.status = http.StatusOK
		sr.started = true
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Flush passes streamed MCP responses through.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// recoveryMiddleware turns a handler panic into a 500 when nothing was sent yet.
func recoveryMiddleware(logger *common.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error().
					Str("panic", fmt.Sprint(rec)).
					Str("path", r.URL.Path).
					Str("correlation_id", correlationID(r.Context())).
					Str("stack", string(debug.Stack())).
					Msg("Panic recovered in HTTP handler")
				if !sr.started {
					WriteError(sr, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(sr, r)
		})
	}
}

// corsMiddleware lets the dashboard front end call the API from another origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", allowedHeaders)
		h.Set("Access-Control-Expose-Headers", CorrelationHeader)

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// correlationIDMiddleware adopts the caller's request id or mints one, and
// makes it available to later middleware through the context.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = r.Header.Get(CorrelationHeader)
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}

// loggingMiddleware writes one line per request. Successful requests log at
// trace so health probes stay quiet.
func loggingMiddleware(logger *common.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)

			event := logger.Trace()
			switch {
			case sr.status >= 500:
				event = logger.Error()
			case sr.status >= 400:
				event = logger.Info()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Int("status", sr.status).
				Int("bytes", sr.bytes).
				Dur("duration", time.Since(start)).
				Str("correlation_id", correlationID(r.Context())).
				Str("viewer", common.ResolveViewerID(r.Context())).
				Msg("HTTP request")
		})
	}
}

// bearerTokenMiddleware validates an Authorization: Bearer token and uses its
// subject as the viewer id. Requests without a bearer token fall through to
// the viewer id header.
func bearerTokenMiddleware(config *common.Config) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := validateJWT(token, []byte(config.Auth.JWTSecret))
			if err != nil {
				writeBearerChallenge(w, "invalid_token", "invalid or expired token")
				return
			}
			if !common.ValidViewerID(claims.Subject) {
				writeBearerChallenge(w, "invalid_token", "invalid token subject")
				return
			}

			ctx := common.WithUserContext(r.Context(), &common.UserContext{UserID: claims.Subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateJWT parses an HMAC-signed token and checks its registered claims.
func validateJWT(token string, secret []byte) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// writeBearerChallenge writes a 401 with an RFC 6750 WWW-Authenticate header.
func writeBearerChallenge(w http.ResponseWriter, errorCode, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error=%q, error_description=%q`, errorCode, description))
	WriteError(w, http.StatusUnauthorized, description)
}

// userContextMiddleware reads the viewer id header when no bearer token
// already set a viewer. An absent header means anonymous.
func userContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if common.UserContextFromContext(r.Context()) == nil {
			if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
				r = r.WithContext(common.WithUserContext(r.Context(), &common.UserContext{UserID: id}))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// applyMiddleware wraps handler so that the first entry runs first.
func applyMiddleware(handler http.Handler, logger *common.Logger, config *common.Config) http.Handler {
	chain := []middleware{
		recoveryMiddleware(logger),
		corsMiddleware,
		correlationIDMiddleware,
		bearerTokenMiddleware(config),
		userContextMiddleware,
		loggingMiddleware(logger),
	}
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler
}
