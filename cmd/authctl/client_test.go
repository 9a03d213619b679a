package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "pw" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"invalid_credentials","message":"invalid credentials"}}`))
			return
		}
		assert.Equal(t, true, body["remember_me"])
		_, _ = w.Write([]byte(`{"success":true,"data":{"accessToken":"acc","refreshToken":"ref","expiresIn":3600,
			"user":{"id":"u1","email":"alice@example.com","roles":["COMPANY_ADMIN"],"company":{"id":"c1","name":"Acme Srl"}}}}`))
	})
	mux.HandleFunc("GET /api/v1/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer acc" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"token_missing","message":"authentication required"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"valid":true,"user":{"id":"u1","email":"alice@example.com"},"permissions":["companies.read"]}`))
	})
	mux.HandleFunc("POST /api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/auth/logout-all", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"revoked":2}}`))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"Service Unavailable","db":"down","cache":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_LoginAndVerify(t *testing.T) {
	srv := fakeAPI(t)
	ctx := context.Background()

	s, err := NewClient(srv.URL+"/", "").Login(ctx, "alice@example.com", "pw", true)
	require.NoError(t, err)
	assert.Equal(t, "acc", s.AccessToken)
	assert.EqualValues(t, 3600, s.ExpiresIn)
	require.NotNil(t, s.User.Company)
	assert.Equal(t, "Acme Srl", s.User.Company.Name)

	v, err := NewClient(srv.URL, s.AccessToken).Verify(ctx)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, []string{"companies.read"}, v.Permissions)
}

func TestClient_ErrorEnvelope(t *testing.T) {
	srv := fakeAPI(t)

	_, err := NewClient(srv.URL, "").Login(context.Background(), "alice@example.com", "wrong", false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid_credentials", apiErr.Code)

	_, err = NewClient(srv.URL, "").Verify(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "token_missing", apiErr.Code)
}

func TestClient_LogoutAndHealth(t *testing.T) {
	srv := fakeAPI(t)
	c := NewClient(srv.URL, "acc")

	require.NoError(t, c.Logout(context.Background(), "ref"))
	n, err := c.LogoutAll(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "down", h.DB)
}

func TestRootCmd_VerifyPrintsJSON(t *testing.T) {
	srv := fakeAPI(t)
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"verify", "--api-url", srv.URL, "--token", "acc", "-o", "json"})
	t.Cleanup(func() { apiURL, apiToken, outputFmt = "", "", "table" })

	require.NoError(t, cmd.Execute())
	var v Verification
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Equal(t, "alice@example.com", v.User.Email)
}
