package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opencampus/campus/internal/audit"
)

// failingRepo always errors, for exercising the 500 path.
type failingRepo struct{}

func (failingRepo) Insert(context.Context, audit.Record) (*audit.Record, error) {
	return nil, errors.New("db down")
}
func (failingRepo) QueryByUser(context.Context, string, int) ([]*audit.Record, error) {
	return nil, errors.New("db down")
}
func (failingRepo) QueryByResource(context.Context, string, string, int) ([]*audit.Record, error) {
	return nil, errors.New("db down")
}

func seedAuditRepo(t *testing.T) *audit.InMemoryRepository {
	t.Helper()
	repo := audit.NewInMemoryRepository()
	records := []audit.Record{
		{UserID: "user-1", Action: "POST auth", Resource: "auth"},
		{UserID: "user-1", Action: "GET grades", Resource: "grades", ResourceID: "grade-000000000000000001"},
		{UserID: "user-2", Action: "GET grades", Resource: "grades", ResourceID: "grade-000000000000000001"},
	}
	for _, rec := range records {
		if _, err := repo.Insert(context.Background(), rec); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	return repo
}

func decodeRecords(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var resp struct {
		Records []map[string]any `json:"records"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Records
}

func TestQueryByUser(t *testing.T) {
	handlers := NewAuditHandlers(seedAuditRepo(t))

	t.Run("returns records for user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/users/user-1", nil)
		w := httptest.NewRecorder()
		handlers.QueryByUser(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if records := decodeRecords(t, w); len(records) != 2 {
			t.Errorf("record count = %d, want 2", len(records))
		}
	})

	t.Run("unknown user yields empty list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/users/nobody", nil)
		w := httptest.NewRecorder()
		handlers.QueryByUser(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if records := decodeRecords(t, w); len(records) != 0 {
			t.Errorf("record count = %d, want 0", len(records))
		}
	})

	t.Run("limit parameter honored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/users/user-1?limit=1", nil)
		w := httptest.NewRecorder()
		handlers.QueryByUser(w, req)

		if records := decodeRecords(t, w); len(records) != 1 {
			t.Errorf("record count = %d, want 1", len(records))
		}
	})

	t.Run("missing user ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/users/", nil)
		w := httptest.NewRecorder()
		handlers.QueryByUser(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/audit/users/user-1", nil)
		w := httptest.NewRecorder()
		handlers.QueryByUser(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", w.Code)
		}
	})

	t.Run("repository failure", func(t *testing.T) {
		broken := NewAuditHandlers(failingRepo{})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/users/user-1", nil)
		w := httptest.NewRecorder()
		broken.QueryByUser(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
	})
}

func TestQueryByResource(t *testing.T) {
	handlers := NewAuditHandlers(seedAuditRepo(t))

	t.Run("returns records for resource", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/resources/grades/grade-000000000000000001", nil)
		w := httptest.NewRecorder()
		handlers.QueryByResource(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if records := decodeRecords(t, w); len(records) != 2 {
			t.Errorf("record count = %d, want 2", len(records))
		}
	})

	t.Run("missing resource ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/resources/grades/", nil)
		w := httptest.NewRecorder()
		handlers.QueryByResource(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("too many path segments", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/resources/grades/g1/extra", nil)
		w := httptest.NewRecorder()
		handlers.QueryByResource(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/resources/grades/g1", nil)
		w := httptest.NewRecorder()
		handlers.QueryByResource(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", w.Code)
		}
	})
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"absent", "", defaultQueryLimit},
		{"valid", "limit=25", 25},
		{"zero", "limit=0", defaultQueryLimit},
		{"negative", "limit=-5", defaultQueryLimit},
		{"not a number", "limit=abc", defaultQueryLimit},
		{"above ceiling", "limit=99999", maxQueryLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/users/u?"+tt.query, nil)
			if got := parseLimit(req); got != tt.want {
				t.Errorf("parseLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}
