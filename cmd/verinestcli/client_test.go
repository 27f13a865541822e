package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIClientGetDecodesJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL}
	var out map[string]string
	require.NoError(t, c.get("/healthz", &out))
	require.Equal(t, "ok", out["status"])
}

func TestAPIClientPostSendsBearerTokenAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "abc", body["other_user_id"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "chat-1"})
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, token: "test-token"}
	var out map[string]string
	require.NoError(t, c.post("/api/v1/chats", map[string]interface{}{"other_user_id": "abc"}, &out))
	require.Equal(t, "chat-1", out["id"])
}

func TestAPIClientSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"missing bearer token"}`))
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL}
	err := c.get("/api/v1/wallets/does-not-matter", nil)
	require.Error(t, err)
}
