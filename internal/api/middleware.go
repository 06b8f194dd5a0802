package api

import (
	"fmt"
	"net/http"

	"github.com/npezzotti/go-flashroom/internal/auth"
)

const tokenCookieKey = "token"

func (s *FlashroomApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.WithError(panicError).Error("panic")
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the session cookie of r to an identity.
func (s *FlashroomApp) authenticate(r *http.Request) (auth.Identity, error) {
	tokenCookie, err := r.Cookie(tokenCookieKey)
	if err != nil {
		return auth.Identity{}, auth.ErrAuthenticationRequired
	}

	return s.sessions.Resolve(r.Context(), tokenCookie.Value)
}

func (s *FlashroomApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticate(r)
		if err != nil {
			s.log.WithError(err).Debug("authentication failed")
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}

// sessionGate authenticates a WebSocket handshake. A rejected handshake is
// answered with 401 and never upgraded. The identity attached here is fixed
// for the lifetime of the connection.
func (s *FlashroomApp) sessionGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticate(r)
		if err != nil {
			s.log.WithError(err).WithField("remote_addr", r.RemoteAddr).Info("rejected websocket handshake")
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}
