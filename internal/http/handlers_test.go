package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"kharcha/internal/identity"
	"kharcha/internal/log"
	"kharcha/internal/services"
	"kharcha/internal/store/memory"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := log.New(log.Config{Level: slog.LevelError, Handler: slog.NewTextHandler(discard{}, nil)})
	mem := memory.New()
	svc := services.NewBudgetService(mem, mem, nil, identity.ContextService{}, services.FixedMode(services.ModeGuest), logger)
	srv := NewServer(Options{
		Addr:               ":0",
		AllowedOrigins:     []string{"http://localhost:3000"},
		RateLimitPerMinute: 1000,
	}, svc, logger)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSessionFlow(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess sessionResponse
	decodeBody(t, rec, &sess)
	if !sess.Ready || !sess.NeedsSetup || sess.Mode != "guest" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/setup", map[string]any{"income": 50000})
	if rec.Code != http.StatusOK {
		t.Fatalf("setup: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/session", nil)
	decodeBody(t, rec, &sess)
	if sess.NeedsSetup {
		t.Fatalf("setup gate should be cleared: %+v", sess)
	}
}

func TestSetupRejectsNonPositiveIncome(t *testing.T) {
	srv := newTestServer(t)
	for _, income := range []any{0, -100, "abc"} {
		rec := doJSON(t, srv, http.MethodPost, "/api/setup", map[string]any{"income": income})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("income %v: expected 422, got %d", income, rec.Code)
		}
	}
}

func TestExpenseLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/expenses", map[string]any{
		"category": "Food",
		"amount":   "1200,50",
		"date":     "2024-01-05",
		"note":     "groceries",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID       string `json:"id"`
		Category string `json:"category"`
	}
	decodeBody(t, rec, &created)
	if created.ID == "" || created.Category != "Food" {
		t.Fatalf("unexpected created expense: %+v", created)
	}

	rec = doJSON(t, srv, http.MethodPut, "/api/expenses", map[string]any{
		"id":       created.ID,
		"category": "Transport",
		"amount":   80,
		"date":     "2024-01-06",
		"note":     "",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/expenses", nil)
	var list expenseListResponse
	decodeBody(t, rec, &list)
	if len(list.Expenses) != 1 || list.Expenses[0].Category != "Transport" {
		t.Fatalf("unexpected list: %+v", list.Expenses)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/expenses", map[string]any{"id": created.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/expenses", nil)
	list = expenseListResponse{}
	decodeBody(t, rec, &list)
	if len(list.Expenses) != 0 {
		t.Fatalf("expected empty list after delete, got %+v", list.Expenses)
	}
}

func TestExpenseValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"unknown category", map[string]any{"category": "Groceries", "amount": 10, "date": "2024-01-05"}},
		{"zero amount", map[string]any{"category": "Food", "amount": 0, "date": "2024-01-05"}},
		{"loose date", map[string]any{"category": "Food", "amount": 10, "date": "2024-1-5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/expenses", tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDeleteUnknownExpense(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodDelete, "/api/expenses", map[string]any{"id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodDelete, "/api/session", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("expected Allow: GET, got %q", allow)
	}
}

func TestSummaryIncludesDisplayStrings(t *testing.T) {
	srv := newTestServer(t)

	if rec := doJSON(t, srv, http.MethodPost, "/api/setup", map[string]any{"income": 50000}); rec.Code != http.StatusOK {
		t.Fatalf("setup failed: %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodPost, "/api/expenses", map[string]any{
		"category": "Food", "amount": 123456, "date": "2024-01-05",
	}); rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rec.Code)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		TotalExpenses json.Number  `json:"totalExpenses"`
		MonthlyData   []any        `json:"monthlyData"`
		Display       displayBlock `json:"display"`
	}
	decodeBody(t, rec, &resp)

	if resp.Display.TotalExpenses != "₹1,23,456" {
		t.Fatalf("expected Indian grouping, got %q", resp.Display.TotalExpenses)
	}
	if resp.Display.Income != "₹50,000" {
		t.Fatalf("unexpected income display: %q", resp.Display.Income)
	}
	if resp.Display.Categories["Food"] != "₹1,23,456" {
		t.Fatalf("unexpected category display: %+v", resp.Display.Categories)
	}
	if len(resp.MonthlyData) != 1 {
		t.Fatalf("expected one monthly row, got %d", len(resp.MonthlyData))
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	logger := log.New(log.Config{Level: slog.LevelError, Handler: slog.NewTextHandler(discard{}, nil)})
	mem := memory.New()
	svc := services.NewBudgetService(mem, mem, nil, identity.ContextService{}, services.FixedMode(services.ModeGuest), logger)
	srv := NewServer(Options{
		Addr:               ":0",
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 2,
	}, svc, logger)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	var last int
	for i := 0; i < 3; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/setup", map[string]any{"income": 1})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third mutation, got %d", last)
	}

	// Reads are never rate limited.
	if rec := doJSON(t, srv, http.MethodGet, "/api/session", nil); rec.Code != http.StatusOK {
		t.Fatalf("read blocked by rate limit: %d", rec.Code)
	}
}

func TestSignOutIdempotent(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/signout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
