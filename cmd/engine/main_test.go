package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/config"
	"gator-chat/internal/database"
	"gator-chat/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.DefaultConfig(),
		Database: &config.DatabaseConfig{Type: "memory", OperationTimeout: time.Second},
		Auth: &config.AuthConfig{
			JWTSecret:   "main-test-secret-0123456",
			TokenTTL:    time.Hour,
			RequireAuth: true,
		},
		Log:            &config.LogConfig{Level: "error", Format: "text"},
		AllowedOrigins: []string{"*"},
	}
}

func TestIntegrationFlow(t *testing.T) {
	a := newApp(testConfig(), database.NewMemoryStore(), logging.Discard())
	t.Cleanup(a.engine.Shutdown)
	server := httptest.NewServer(a.server.Routes())
	t.Cleanup(server.Close)

	// Step 1: Register a user
	body, err := json.Marshal(api.AuthRequest{Username: "alice", Password: "secret-pw"})
	require.NoError(t, err)
	resp, err := http.Post(server.URL+"/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var auth api.AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&auth))
	require.NotEmpty(t, auth.Token)

	// Step 2: Protected routes require the token
	resp, err = http.Get(server.URL + "/users")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/users", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+auth.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Step 3: Health reports nobody online
	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, a.registry.Count())
}

func TestOpenStoreRejectsUnknownType(t *testing.T) {
	_, err := openStore(context.Background(), &config.DatabaseConfig{Type: "sqlite"}, logging.Discard())
	assert.ErrorContains(t, err, "unsupported database type")
}
