package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newAuthEngine(key KeyFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireAPIKey(key))
	r.POST("/v1/chat/completions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func doAuth(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestNoKeyConfiguredIsOpen(t *testing.T) {
	r := newAuthEngine(func() string { return "" })
	if w := doAuth(r, ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestMissingKeyRejected(t *testing.T) {
	r := newAuthEngine(func() string { return "sk-secret" })

	w := doAuth(r, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "Missing API key") {
		t.Errorf("body = %s", body)
	}
}

func TestWrongKeyRejected(t *testing.T) {
	r := newAuthEngine(func() string { return "sk-secret" })

	w := doAuth(r, "Bearer sk-wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "Invalid API key") {
		t.Errorf("body = %s", body)
	}
}

func TestBearerSchemeRequired(t *testing.T) {
	r := newAuthEngine(func() string { return "sk-secret" })
	if w := doAuth(r, "sk-secret"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a bare token", w.Code)
	}
}

func TestCorrectKeyAccepted(t *testing.T) {
	r := newAuthEngine(func() string { return "sk-secret" })
	if w := doAuth(r, "Bearer sk-secret"); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestKeyResolvedPerRequest(t *testing.T) {
	key := "sk-old"
	r := newAuthEngine(func() string { return key })

	if w := doAuth(r, "Bearer sk-old"); w.Code != http.StatusOK {
		t.Fatalf("old key status = %d, want 200", w.Code)
	}

	key = "sk-new"
	if w := doAuth(r, "Bearer sk-old"); w.Code != http.StatusUnauthorized {
		t.Errorf("stale key status = %d, want 401", w.Code)
	}
	if w := doAuth(r, "Bearer sk-new"); w.Code != http.StatusOK {
		t.Errorf("new key status = %d, want 200", w.Code)
	}
}
