package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-flashroom/internal/auth"
	"github.com/npezzotti/go-flashroom/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &FlashroomApp{
		log: testutil.TestLogger(t),
	}

	app.log.SetOutput(buf)

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &FlashroomApp{}

	// simple handler that does not panic
	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func TestAuthMiddleware(t *testing.T) {
	app := newTestApp(t)
	valid := app.login(t, 1, "alice")

	tcases := []struct {
		name   string
		cookie *http.Cookie
		status int
	}{
		{name: "valid session", cookie: valid, status: http.StatusOK},
		{name: "no cookie", cookie: nil, status: http.StatusUnauthorized},
		{name: "garbage token", cookie: &http.Cookie{Name: tokenCookieKey, Value: "garbage"}, status: http.StatusUnauthorized},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var got auth.Identity
			handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
				got, _ = auth.IdentityFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}
			rr := httptest.NewRecorder()
			handler(rr, req)

			assert.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusOK {
				var errResp ApiError
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
				assert.Equal(t, "authentication required", errResp.Message)
				return
			}

			assert.Equal(t, auth.Identity{UserId: 1, Username: "alice"}, got)
			assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
		})
	}
}
