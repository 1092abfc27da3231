package cluster

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateCluster_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "missing organization_id",
			body:       `{"name":"prod","total_ram":16,"total_cpu":8}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing name",
			body:       `{"organization_id":1,"total_ram":16,"total_cpu":8}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "zero total_ram",
			body:       `{"organization_id":1,"name":"prod","total_ram":0,"total_cpu":8}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative total_gpu",
			body:       `{"organization_id":1,"name":"prod","total_ram":16,"total_cpu":8,"total_gpu":-1}`,
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

	h := NewHandler(nil, nil, nil)
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

func TestGetCluster_InvalidID(t *testing.T) {
	h := NewHandler(nil, nil, nil)
	router := h.Routes()

	r := httptest.NewRequest(http.MethodGet, "/not-a-number", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUpdateCluster_Validation(t *testing.T) {
	h := NewHandler(nil, nil, nil)
	router := h.Routes()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "zero total_ram patch rejected",
			body:       `{"total_ram":0}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative total_gpu patch rejected",
			body:       `{"total_gpu":-5}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPut, "/1", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestDeleteCluster_InvalidID(t *testing.T) {
	h := NewHandler(nil, nil, nil)
	router := h.Routes()

	r := httptest.NewRequest(http.MethodDelete, "/not-a-number", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
