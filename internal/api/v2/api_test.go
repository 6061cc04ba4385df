package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v2/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthUnhealthyDatabase(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ds.Close())

	rec := env.request(http.MethodGet, "/api/v2/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
