package deployment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateDeployment_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "missing cluster_id",
			body:       `{"name":"web","docker_image":"nginx:latest","required_ram":1,"required_cpu":1,"priority":2}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing docker_image",
			body:       `{"cluster_id":1,"name":"web","required_ram":1,"required_cpu":1,"priority":2}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "zero required_cpu",
			body:       `{"cluster_id":1,"name":"web","docker_image":"nginx:latest","required_ram":1,"required_cpu":0,"priority":2}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "priority out of range",
			body:       `{"cluster_id":1,"name":"web","docker_image":"nginx:latest","required_ram":1,"required_cpu":1,"priority":9}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid JSON",
			body:       `{bad}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			body:       ``,
			wantStatus: http.StatusBadRequest,
		},
	}

	h := NewHandler(nil, nil, nil, nil)
	router := h.Routes()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestListDeployments_InvalidClusterID(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	router := h.Routes()

	r := httptest.NewRequest(http.MethodGet, "/?cluster_id=not-a-number", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetDeployment_InvalidID(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	router := h.Routes()

	r := httptest.NewRequest(http.MethodGet, "/not-a-number", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestStartDeployment_InvalidID(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	router := h.Routes()

	r := httptest.NewRequest(http.MethodPost, "/not-a-number/start", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestNormalizeTerminal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"completed", "COMPLETED"},
		{"COMPLETED", "COMPLETED"},
		{"failed", "FAILED"},
		{"FAILED", "FAILED"},
		{"bogus", "bogus"},
	}
	for _, tt := range tests {
		if got := normalizeTerminal(tt.in); got != tt.want {
			t.Errorf("normalizeTerminal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
