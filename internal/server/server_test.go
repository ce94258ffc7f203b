package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/settlr/fraud-service/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		ReviewThreshold:    50,
		BlockThreshold:     90,
		HourlyCountLimit:   10,
		HourlyAmountLimit:  10000,
		DailyCountLimit:    50,
		DailyAmountLimit:   50000,
		StateRetention:     30 * 24 * time.Hour,
		DedupeTTL:          time.Hour,
		RetryAttempts:      2,
		RetryBackoff:       time.Millisecond,
		WebhookAdminSecret: "test-admin-secret",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func eventBody(id, entity string, amount float64) string {
	return fmt.Sprintf(
		`{"id":%q,"entityId":%q,"amount":%g,"currency":"USD","timestamp":%q,"device":"dev_1","location":"US"}`,
		id, entity, amount, time.Now().UTC().Format(time.RFC3339),
	)
}

func postJSON(s *Server, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Construction tests
// ---------------------------------------------------------------------------

func TestNew_InvalidPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.ReviewThreshold = 95 // above block threshold

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for inverted thresholds")
	}
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.ready.Store(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Scoring endpoint tests
// ---------------------------------------------------------------------------

func TestScoreEndpoint_Allow(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(s, "/v1/decisions", eventBody("evt_1", "ent_fresh", 50), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Decision struct {
			ID      string  `json:"id"`
			Verdict string  `json:"verdict"`
			Score   struct{ Value float64 }
		} `json:"decision"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Decision.Verdict != "ALLOW" {
		t.Errorf("Expected ALLOW for quiet entity, got %s", resp.Decision.Verdict)
	}
	if resp.Decision.ID == "" {
		t.Error("Expected decision ID")
	}
}

func TestScoreEndpoint_MalformedEventFailsClosed(t *testing.T) {
	s := newTestServer(t)

	// Negative amount: structurally invalid, must produce REVIEW
	body := fmt.Sprintf(
		`{"id":"evt_bad","entityId":"ent_1","amount":-5,"currency":"USD","timestamp":%q}`,
		time.Now().UTC().Format(time.RFC3339),
	)
	w := postJSON(s, "/v1/decisions", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Decision struct {
			Verdict string `json:"verdict"`
			Score   struct {
				Flags []string `json:"flags"`
			} `json:"score"`
		} `json:"decision"`
		Warning string `json:"warning"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Decision.Verdict != "REVIEW" {
		t.Errorf("Expected REVIEW for malformed event, got %s", resp.Decision.Verdict)
	}
	if resp.Warning == "" {
		t.Error("Expected validation warning in response")
	}
	found := false
	for _, f := range resp.Decision.Score.Flags {
		if f == "validation_failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected validation_failed flag, got %v", resp.Decision.Score.Flags)
	}
}

func TestScoreEndpoint_UnparseableJSON(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(s, "/v1/decisions", `{not json`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestScoreEndpoint_DuplicateReturnsSameDecision(t *testing.T) {
	s := newTestServer(t)

	body := eventBody("evt_dup", "ent_dup", 75)
	first := postJSON(s, "/v1/decisions", body, nil)
	second := postJSON(s, "/v1/decisions", body, nil)

	var d1, d2 struct {
		Decision struct {
			ID string `json:"id"`
		} `json:"decision"`
	}
	if err := json.Unmarshal(first.Body.Bytes(), &d1); err != nil {
		t.Fatalf("parse first: %v", err)
	}
	if err := json.Unmarshal(second.Body.Bytes(), &d2); err != nil {
		t.Fatalf("parse second: %v", err)
	}
	if d1.Decision.ID != d2.Decision.ID {
		t.Errorf("Duplicate submission produced a new decision: %s vs %s", d1.Decision.ID, d2.Decision.ID)
	}
}

// ---------------------------------------------------------------------------
// Decision and entity view tests
// ---------------------------------------------------------------------------

func TestGetDecisionEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(s, "/v1/decisions", eventBody("evt_get", "ent_get", 25), nil)
	var resp struct {
		Decision struct {
			ID string `json:"id"`
		} `json:"decision"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}

	// Audit recording is async; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		get := httptest.NewRecorder()
		s.router.ServeHTTP(get, httptest.NewRequest("GET", "/v1/decisions/"+resp.Decision.ID, nil))
		if get.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("decision %s never became readable, last status %d", resp.Decision.ID, get.Code)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGetDecisionNotFound(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/decisions/dec_missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestEntityStateEndpoint(t *testing.T) {
	s := newTestServer(t)

	postJSON(s, "/v1/decisions", eventBody("evt_st1", "ent_state", 100), nil)
	postJSON(s, "/v1/decisions", eventBody("evt_st2", "ent_state", 200), nil)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/entities/ent_state/state", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp entityStateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.LifetimeCount != 2 {
		t.Errorf("Expected lifetime count 2, got %d", resp.LifetimeCount)
	}
	if resp.HourlyAmount != 300 {
		t.Errorf("Expected hourly amount 300, got %g", resp.HourlyAmount)
	}
	if resp.FirstSeen {
		t.Error("Entity with history should not be firstSeen")
	}
}

func TestEntityStateEndpoint_UnknownEntity(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/entities/ent_unknown/state", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for unknown entity (zero state), got %d", w.Code)
	}

	var resp entityStateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !resp.FirstSeen {
		t.Error("Unknown entity should be firstSeen")
	}
	if resp.LifetimeCount != 0 {
		t.Errorf("Expected zero lifetime count, got %d", resp.LifetimeCount)
	}
}

func TestListEntityDecisions(t *testing.T) {
	s := newTestServer(t)

	postJSON(s, "/v1/decisions", eventBody("evt_l1", "ent_list", 10), nil)
	postJSON(s, "/v1/decisions", eventBody("evt_l2", "ent_list", 20), nil)

	// Audit recording is async; poll until both show up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/entities/ent_list/decisions", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("parse: %v", err)
		}
		if resp.Count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 decisions, got %d", resp.Count)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestListEntityDecisions_BadLimit(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/entities/ent_x/decisions?limit=zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Webhook management tests
// ---------------------------------------------------------------------------

func TestWebhookCRUD(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-Admin-Secret": "test-admin-secret"}

	// Create
	body := `{"url":"https://hooks.example.com/fraud","secret":"whsec_1","events":["decision.blocked"]}`
	w := postJSON(s, "/v1/webhooks", body, admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Webhook struct {
			ID string `json:"id"`
		} `json:"webhook"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if created.Webhook.ID == "" {
		t.Fatal("Expected webhook ID")
	}

	// List
	list := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/webhooks", nil)
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	s.router.ServeHTTP(list, req)
	if list.Code != http.StatusOK {
		t.Errorf("Expected 200 for list, got %d", list.Code)
	}

	// Get
	get := httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/webhooks/"+created.Webhook.ID, nil)
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	s.router.ServeHTTP(get, req)
	if get.Code != http.StatusOK {
		t.Errorf("Expected 200 for get, got %d", get.Code)
	}

	// Delete
	del := httptest.NewRecorder()
	req = httptest.NewRequest("DELETE", "/v1/webhooks/"+created.Webhook.ID, nil)
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	s.router.ServeHTTP(del, req)
	if del.Code != http.StatusOK {
		t.Errorf("Expected 200 for delete, got %d", del.Code)
	}

	// Gone
	gone := httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/webhooks/"+created.Webhook.ID, nil)
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	s.router.ServeHTTP(gone, req)
	if gone.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", gone.Code)
	}
}

func TestWebhookRequiresAdminSecret(t *testing.T) {
	s := newTestServer(t)

	body := `{"url":"https://hooks.example.com/fraud","secret":"whsec_1","events":["decision.blocked"]}`
	w := postJSON(s, "/v1/webhooks", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without admin secret, got %d", w.Code)
	}
}

func TestWebhookRejectsInternalURL(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-Admin-Secret": "test-admin-secret"}

	body := `{"url":"http://169.254.169.254/latest","secret":"whsec_1","events":["decision.blocked"]}`
	w := postJSON(s, "/v1/webhooks", body, admin)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for internal URL, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhookRejectsUnknownEventType(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-Admin-Secret": "test-admin-secret"}

	body := `{"url":"https://hooks.example.com/fraud","secret":"whsec_1","events":["decision.exploded"]}`
	w := postJSON(s, "/v1/webhooks", body, admin)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown event type, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/decisions",
		"GET:/v1/decisions/:id",
		"GET:/v1/entities/:entityId/state",
		"GET:/v1/entities/:entityId/decisions",
		"POST:/v1/webhooks",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
