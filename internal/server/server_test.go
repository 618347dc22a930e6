package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"

	"github.com/r15huu/HikeMates/internal/config"
)

func testConfig() config.Config {
	return config.Config{JWTSecret: "secret", ServerPort: ":0", TrailRateLimit: 30}
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func doGet(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	if err != nil {
		t.Fatalf("test request %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthRoute(t *testing.T) {
	s := NewServer(testConfig(), nil, nil, nil)

	status, _ := doGet(t, s.App, "/health")
	if status != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestMetricsRouteCountsRequests(t *testing.T) {
	s := NewServer(testConfig(), nil, nil, nil)

	doGet(t, s.App, "/health")
	status, body := doGet(t, s.App, "/metrics")
	if status != 200 {
		t.Fatalf("expected 200 status, got %d", status)
	}
	if !strings.Contains(body, `hikemates_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Fatalf("health request not counted:\n%s", body)
	}
}

func TestHikeRoutesWired(t *testing.T) {
	mock := newMockPool(t)
	s := NewServer(testConfig(), mock, nil, nil)

	mock.ExpectQuery(`FROM hikes h`).WithArgs(nil).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	status, body := doGet(t, s.App, "/hikes")
	if status != 200 || strings.TrimSpace(body) != "[]" {
		t.Fatalf("unexpected hikes response %d %s", status, body)
	}

	status, body = doGet(t, s.App, "/hikes/my")
	if status != 401 {
		t.Fatalf("expected 401 for anonymous /hikes/my, got %d", status)
	}
	var detail map[string]string
	if err := json.Unmarshal([]byte(body), &detail); err != nil || detail["detail"] == "" {
		t.Fatalf("expected detail body, got %s", body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuthRoutesWired(t *testing.T) {
	s := NewServer(testConfig(), newMockPool(t), nil, nil)

	status, body := doGet(t, s.App, "/auth/me")
	if status != 401 {
		t.Fatalf("expected 401, got %d %s", status, body)
	}
}

func TestTrailRoutesRateLimited(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.NominatimURL = upstream.URL
	cfg.TrailRateLimit = 1
	s := NewServer(cfg, nil, nil, nil)

	if status, body := doGet(t, s.App, "/trails/geocode?q=tam"); status != 200 {
		t.Fatalf("expected 200, got %d %s", status, body)
	}
	status, body := doGet(t, s.App, "/trails/geocode?q=tam")
	if status != 429 || !strings.Contains(body, "throttled") {
		t.Fatalf("expected 429, got %d %s", status, body)
	}
}
