package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chigozirigeorge/verinest/authtoken"
	"github.com/chigozirigeorge/verinest/httpapi"
)

func TestHealthzNeedsNoAuth(t *testing.T) {
	s := &httpapi.Server{Auth: authtoken.NewJWTAuthenticator("secret", time.Hour)}
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRouteRejectsMissingBearerToken(t *testing.T) {
	s := &httpapi.Server{Auth: authtoken.NewJWTAuthenticator("secret", time.Hour)}
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/wallets/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIRouteRejectsExpiredToken(t *testing.T) {
	auth := authtoken.NewJWTAuthenticator("secret", -time.Hour)
	s := &httpapi.Server{Auth: auth}
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	token, err := auth.Issue(uuid.New(), "buyer")
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		srv.URL+"/api/v1/wallets/"+uuid.NewString(), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
