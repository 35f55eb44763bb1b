package ingress

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wsotp/pkg/protocol"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping() error { return f.err }

type fakeStats struct {
	st  protocol.Stats
	err error
}

func (f fakeStats) Stats() (protocol.Stats, error) { return f.st, f.err }

type fakeTracking int

func (f fakeTracking) Len() int { return int(f) }

func get(t *testing.T, h http.Handler, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPingAndRoot(t *testing.T) {
	h := NewIngress(":0", fakeDB{}, fakeStats{}, fakeTracking(0), "").Handler()

	if w := get(t, h, "/ping", ""); w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Errorf("/ping = %d %q", w.Code, w.Body.String())
	}
	if w := get(t, h, "/", ""); w.Code != http.StatusOK {
		t.Errorf("/ = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		db       fakeDB
		wantCode int
		wantStat string
	}{
		{"healthy", fakeDB{}, http.StatusOK, "ok"},
		{"db down", fakeDB{err: errors.New("disk I/O error")}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewIngress(":0", tt.db, fakeStats{}, fakeTracking(3), "").Handler()
			w := get(t, h, "/health", "")
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["status"] != tt.wantStat {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStat)
			}
			if body["tracking"] != float64(3) {
				t.Errorf("tracking = %v", body["tracking"])
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	h := NewIngress(":0", fakeDB{}, fakeStats{}, fakeTracking(0), "").Handler()
	w := get(t, h, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "wsotp_leases_in_use") {
		t.Errorf("/metrics = %d, body missing wsotp gauges", w.Code)
	}
}

func TestAPIStats(t *testing.T) {
	stats := fakeStats{st: protocol.Stats{Day: "2025-03-01", Added: 7}}

	t.Run("disabled without token", func(t *testing.T) {
		h := NewIngress(":0", fakeDB{}, stats, fakeTracking(0), "").Handler()
		if w := get(t, h, "/api/stats", "Bearer anything"); w.Code != http.StatusNotFound {
			t.Errorf("code = %d, want 404", w.Code)
		}
	})

	h := NewIngress(":0", fakeDB{}, stats, fakeTracking(0), "s3cret").Handler()

	t.Run("wrong token", func(t *testing.T) {
		if w := get(t, h, "/api/stats", "Bearer nope"); w.Code != http.StatusUnauthorized {
			t.Errorf("code = %d, want 401", w.Code)
		}
	})

	t.Run("authorized", func(t *testing.T) {
		w := get(t, h, "/api/stats", "Bearer s3cret")
		if w.Code != http.StatusOK {
			t.Fatalf("code = %d", w.Code)
		}
		var got protocol.Stats
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Day != "2025-03-01" || got.Added != 7 {
			t.Errorf("stats = %+v", got)
		}
	})

	t.Run("source error", func(t *testing.T) {
		h := NewIngress(":0", fakeDB{}, fakeStats{err: errors.New("locked")}, fakeTracking(0), "s3cret").Handler()
		if w := get(t, h, "/api/stats", "Bearer s3cret"); w.Code != http.StatusInternalServerError {
			t.Errorf("code = %d, want 500", w.Code)
		}
	})
}
