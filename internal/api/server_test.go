package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWiringReportsMissingCollaborators(t *testing.T) {
	s := &Server{}
	err := s.ValidateWiring()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator not set")
	assert.Contains(t, err.Error(), "exception store not set")
	assert.Contains(t, err.Error(), "metrics collector not set")
	assert.Contains(t, err.Error(), "explanation service not set")
}

func TestHealthHandlerReturnsHealthy(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, nil, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
