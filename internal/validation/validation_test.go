package validation

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidID(t *testing.T) {
	valid := []string{"ent_12345", "evt-abc.def", "user:42", "a"}
	for _, id := range valid {
		if !IsValidID(id) {
			t.Errorf("IsValidID(%q) = false, want true", id)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "null\x00byte", string(make([]byte, 200))}
	for _, id := range invalid {
		if IsValidID(id) {
			t.Errorf("IsValidID(%q) = true, want false", id)
		}
	}
}

func TestIsValidCurrency(t *testing.T) {
	if !IsValidCurrency("USD") || !IsValidCurrency("EUR") {
		t.Error("expected USD/EUR to be valid")
	}
	for _, code := range []string{"usd", "US", "USDT", ""} {
		if IsValidCurrency(code) {
			t.Errorf("IsValidCurrency(%q) = true, want false", code)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello  ", 100); got != "hello" {
		t.Errorf("expected trimmed string, got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("expected truncated string, got %q", got)
	}
	if got := SanitizeString("a\x00b", 100); got != "ab" {
		t.Errorf("expected null bytes removed, got %q", got)
	}
}

func TestIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(IDParamMiddleware())
	router.GET("/entities/:entityId", func(c *gin.Context) {
		c.String(200, "ok")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/entities/ent_1", nil))
	if w.Code != 200 {
		t.Errorf("valid id status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/entities/bad%3Bid", nil))
	if w.Code != 400 {
		t.Errorf("invalid id status = %d, want 400", w.Code)
	}
}
