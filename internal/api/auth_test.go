package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", "gold-analysis", time.Hour)

	token, err := m.GenerateToken("ops")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("subject = %q, want ops", claims.Subject)
	}
	if claims.Issuer != "gold-analysis" {
		t.Errorf("issuer = %q, want gold-analysis", claims.Issuer)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := NewTokenManager("secret-a", "gold-analysis", time.Hour)
	verifier := NewTokenManager("secret-b", "gold-analysis", time.Hour)

	token, err := issuer.GenerateToken("ops")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := verifier.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	m := NewTokenManager("test-secret", "gold-analysis", time.Hour)
	m.ttl = -time.Minute

	token, err := m.GenerateToken("ops")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := m.ValidateToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenWrongIssuer(t *testing.T) {
	issuer := NewTokenManager("test-secret", "other-service", time.Hour)
	verifier := NewTokenManager("test-secret", "gold-analysis", time.Hour)

	token, err := issuer.GenerateToken("ops")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := verifier.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRequireTokenMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewTokenManager("test-secret", "gold-analysis", time.Hour)

	router := gin.New()
	router.POST("/guarded", m.RequireToken(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString("subject")})
	})

	// No token
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	// Garbage token
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", w.Code)
	}

	// Valid token
	token, err := m.GenerateToken("ops")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("client-a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("client-a") {
		t.Error("fourth request should be rejected")
	}
	if !limiter.Allow("client-b") {
		t.Error("other clients should not share the budget")
	}
}
