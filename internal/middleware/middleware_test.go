package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(okHandler)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}

	now = now.Add(time.Minute)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected the window to reset, got %d", rr.Code)
	}
}

func TestRateLimiter_WithKeyFallsBackToAddress(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute).WithKey(func(r *http.Request) string {
		return r.URL.Query().Get("user_id")
	})
	defer rl.Stop()
	h := rl.Middleware(okHandler)

	for _, target := range []string{"/x?user_id=mia", "/x?user_id=leo", "/x"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x?user_id=mia", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected mia to be limited, got %d", rr.Code)
	}
}

func TestRequestID_EchoesOrMints(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "req-42" || rr.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected req-42 to be reused, got ctx=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected a minted uuid, got %q", seen)
	}
	if rr.Header().Get("X-Request-ID") != seen {
		t.Fatalf("header and context disagree: %q vs %q", rr.Header().Get("X-Request-ID"), seen)
	}
}

func TestCORS(t *testing.T) {
	h := CORS("http://localhost:3000, https://inkwell.app/")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://inkwell.app")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://inkwell.app" {
		t.Fatalf("expected origin to be allowed, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected unknown origin to be refused")
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/interactions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Fatalf("expected DELETE to be allowed, got %q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestJWT_RoundTrip(t *testing.T) {
	auth := NewJWTAuth("secret", time.Hour)
	id := uuid.New()

	tok, err := auth.GenerateAccessToken(id, "ms-ada", "teacher")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := auth.ParseToken(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != id || claims.Username != "ms-ada" || claims.Role != "teacher" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := NewJWTAuth("other", time.Hour).ParseToken(tok); err == nil {
		t.Fatal("expected a token signed with another secret to be rejected")
	}
}

func TestJWT_Expired(t *testing.T) {
	auth := NewJWTAuth("secret", time.Hour)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  uuid.NewString(),
		"username": "mia",
		"role":     "student",
		"exp":      time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := tok.SignedString(auth.Secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflow", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	auth.Middleware(okHandler).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "TOKEN_EXPIRED" {
		t.Fatalf("expected TOKEN_EXPIRED, got %q", body.Error.Code)
	}
}

func TestMiddleware_AttachesClaimsAndRequireRole(t *testing.T) {
	auth := NewJWTAuth("secret", time.Hour)
	tok, _ := auth.GenerateAccessToken(uuid.New(), "mia", "student")

	var name string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name = GetUsername(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	auth.Middleware(inner).ServeHTTP(rr, req)
	if name != "mia" {
		t.Fatalf("expected username mia in context, got %q", name)
	}

	rr = httptest.NewRecorder()
	auth.Middleware(RequireRole("teacher")(okHandler)).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a student, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rr = httptest.NewRecorder()
	auth.Middleware(okHandler).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed header, got %d", rr.Code)
	}
}
