package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/avatar-coach/internal/auth"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	return r
}

func serve(t *testing.T, r http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v body=%s", err, w.Body.String())
	}
	return w, env
}

func TestRecovery_WritesEnvelope(t *testing.T) {
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := newEngine(Recovery(), RequestID())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w, env := serve(t, r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if env.Code != 50000 || env.Message != "internal error" || string(env.Data) != "null" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestRequestID_KeepsOrReplacesHeader(t *testing.T) {
	r := newEngine(RequestID())
	r.GET("/id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok", "data": c.GetString(RequestIDKey)})
	})

	cases := []struct {
		name   string
		header string
		keep   bool
	}{
		{"client id kept", "req-123", true},
		{"64 chars kept", strings.Repeat("a", 64), true},
		{"65 chars replaced", strings.Repeat("a", 65), false},
		{"blank replaced", "   ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/id", nil)
			req.Header.Set("X-Request-ID", tc.header)
			w, env := serve(t, r, req)

			var got string
			if err := json.Unmarshal(env.Data, &got); err != nil {
				t.Fatalf("decode id: %v", err)
			}
			if w.Header().Get("X-Request-ID") != got {
				t.Fatalf("header %q and context %q differ", w.Header().Get("X-Request-ID"), got)
			}
			if tc.keep && got != tc.header {
				t.Fatalf("expected %q kept, got %q", tc.header, got)
			}
			if !tc.keep && (got == tc.header || len(got) != 36) {
				t.Fatalf("expected generated uuid, got %q", got)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	const secret = "mw-secret"
	r := newEngine(AuthRequired(secret))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok", "data": c.GetString(UserIDKey)})
	})

	good, err := auth.SignJWT("u42", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	forged, err := auth.SignJWT("u42", "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   int
	}{
		{"valid", "Bearer " + good, http.StatusOK, 0},
		{"missing", "", http.StatusUnauthorized, 40100},
		{"not bearer", "Basic " + good, http.StatusUnauthorized, 40100},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized, 40101},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w, env := serve(t, r, req)
			if w.Code != tc.wantStatus || env.Code != tc.wantCode {
				t.Fatalf("expected %d/%d, got %d/%d", tc.wantStatus, tc.wantCode, w.Code, env.Code)
			}
			if tc.wantStatus == http.StatusOK && string(env.Data) != `"u42"` {
				t.Fatalf("expected user id in context, got %s", env.Data)
			}
		})
	}
}
