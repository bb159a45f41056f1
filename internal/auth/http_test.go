// ABOUTME: Tests for the bearer-token HTTP middleware
// ABOUTME: Covers header extraction, rejection paths, and context propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"missing", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, errMsg := extractBearerToken(tt.header)
			if tt.wantErr {
				assert.NotEmpty(t, errMsg)
			} else {
				assert.Empty(t, errMsg)
				assert.Equal(t, tt.wantToken, token)
			}
		})
	}
}

func TestMiddlewareAllowsValidToken(t *testing.T) {
	v, err := NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)
	token, err := v.Generate("client-1", time.Hour)
	require.NoError(t, err)

	var gotSubject string
	handler := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp/call", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "client-1", gotSubject)
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	v, err := NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)

	handler := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp/call", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	v, err := NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)

	handler := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp/call", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubjectEmptyWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.Empty(t, Subject(req.Context()))
}
