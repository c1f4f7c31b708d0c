package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	m := NewMiddleware(nil, nil)
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromRequest(r)
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("expected generated request ID, got %q", seen)
	}
	if got := rr.Header().Get(Header); got != seen {
		t.Errorf("response header %q, handler saw %q", got, seen)
	}
	if rr.Code != http.StatusAccepted {
		t.Errorf("expected status %d, got %d", http.StatusAccepted, rr.Code)
	}
	if n := m.GetMetrics().TotalRequests; n != 1 {
		t.Errorf("expected 1 request counted, got %d", n)
	}
}

func TestMiddleware_ReusesValidIncomingID(t *testing.T) {
	m := NewMiddleware(nil, nil)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		name   string
		header string
		reuse  bool
	}{
		{"valid", "edge-1234_abc", true},
		{"too long", strings.Repeat("a", 65), false},
		{"bad characters", "id<script>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(Header, tt.header)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			got := rr.Header().Get(Header)
			switch {
			case tt.reuse && got != tt.header:
				t.Errorf("expected incoming ID %q to be kept, got %q", tt.header, got)
			case !tt.reuse && got == tt.header:
				t.Errorf("invalid ID %q was kept", tt.header)
			case !tt.reuse && !strings.HasPrefix(got, "req_"):
				t.Errorf("expected generated ID, got %q", got)
			}
		})
	}
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewStatusRecorder(rr)
	if rec.Status() != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rec.Status())
	}

	rec.WriteHeader(http.StatusSeeOther)
	rec.WriteHeader(http.StatusInternalServerError)

	if rec.Status() != http.StatusSeeOther {
		t.Errorf("expected first status to stick, got %d", rec.Status())
	}
	if rr.Code != http.StatusSeeOther {
		t.Errorf("expected underlying status 303, got %d", rr.Code)
	}
	if rec.Unwrap() != http.ResponseWriter(rr) {
		t.Error("Unwrap must return the wrapped writer")
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	if id := FromRequest(httptest.NewRequest(http.MethodGet, "/", nil)); id != "" {
		t.Errorf("expected empty ID, got %q", id)
	}
}
