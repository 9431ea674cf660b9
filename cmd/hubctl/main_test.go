package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

type fakeHub struct {
	mu    sync.Mutex
	calls []recorded
	srv   *httptest.Server
}

func newFakeHub(t *testing.T, status int, reply string) *fakeHub {
	t.Helper()
	f := &fakeHub{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		f.mu.Lock()
		f.calls = append(f.calls, rec)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeHub) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func runCLI(t *testing.T, hub *fakeHub, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--endpoint", hub.srv.URL}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestAdminCommandsSendToken(t *testing.T) {
	t.Setenv(tokenEnv, "admin-secret")
	hub := newFakeHub(t, http.StatusOK, `{"paused":true}`)

	code, out, errOut := runCLI(t, hub, "pause")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, `"paused": true`)
	call := hub.last(t)
	require.Equal(t, http.MethodPost, call.method)
	require.Equal(t, "/admin/pause", call.path)
	require.Equal(t, "Bearer admin-secret", call.auth)

	code, _, errOut = runCLI(t, hub, "fund", "2500")
	require.Equal(t, 0, code, errOut)
	call = hub.last(t)
	require.Equal(t, "/admin/fund", call.path)
	require.Equal(t, "2500", call.body["amount"])
}

func TestPublicCommandsSkipToken(t *testing.T) {
	t.Setenv(tokenEnv, "admin-secret")
	hub := newFakeHub(t, http.StatusOK, `{"chains":[]}`)

	code, _, errOut := runCLI(t, hub, "chains")
	require.Equal(t, 0, code, errOut)
	call := hub.last(t)
	require.Equal(t, "/v1/chains", call.path)
	require.Empty(t, call.auth)

	code, _, errOut = runCLI(t, hub, "retry", "7")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "/v1/responses/7/retry", hub.last(t).path)
}

func TestAddChainBuildsBody(t *testing.T) {
	t.Setenv(tokenEnv, "admin-secret")
	hub := newFakeHub(t, http.StatusOK, `{}`)
	peer := "0x" + strings.Repeat("ab", 32)

	code, _, errOut := runCLI(t, hub, "add-chain", "--id", "30101", "--name", "alpha", "--peer", peer, "--gas", "90000")
	require.Equal(t, 0, code, errOut)
	call := hub.last(t)
	require.Equal(t, http.MethodPut, call.method)
	require.Equal(t, "/admin/chains/30101", call.path)
	require.Equal(t, "alpha", call.body["name"])
	require.Equal(t, peer, call.body["peer"])
	require.EqualValues(t, 90000, call.body["gasBudget"])
	require.Equal(t, true, call.body["enabled"])

	code, _, errOut = runCLI(t, hub, "add-chain", "--id", "30101", "--peer", "0x1234")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "32 bytes")
}

func TestCommandValidation(t *testing.T) {
	t.Setenv(tokenEnv, "admin-secret")
	hub := newFakeHub(t, http.StatusOK, `{}`)

	cases := map[string][]string{
		"bad amount":   {"fund", "12abc"},
		"bad chain":    {"remove-chain", "zero"},
		"bad address":  {"authorize", "not-an-address"},
		"bad sequence": {"retry", "-1"},
		"unknown":      {"explode"},
	}
	for name, args := range cases {
		code, _, errOut := runCLI(t, hub, args...)
		if code != 1 || errOut == "" {
			t.Fatalf("%s: expected failure, got code %d stderr %q", name, code, errOut)
		}
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Empty(t, hub.calls)
}

func TestHubErrorsSurface(t *testing.T) {
	t.Setenv(tokenEnv, "admin-secret")
	hub := newFakeHub(t, http.StatusConflict, `{"error":"hub paused"}`)

	code, _, errOut := runCLI(t, hub, "resume")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "409")
	require.Contains(t, errOut, "hub paused")
}

func TestMissingTokenFailsBeforeRequest(t *testing.T) {
	t.Setenv(tokenEnv, "   ")
	hub := newFakeHub(t, http.StatusOK, `{}`)

	code, _, errOut := runCLI(t, hub, "status")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, tokenEnv)
	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Empty(t, hub.calls)
}

func TestIssueTokenSignsSubject(t *testing.T) {
	t.Setenv("TEST_HUB_JWT", "signing-secret")
	var stdout, stderr bytes.Buffer
	code := run([]string{"issue-token", "--secret-env", "TEST_HUB_JWT", "--subject", "0x1111111111111111111111111111111111111111", "--issuer", "randhub", "--ttl", "1h"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(stdout.String()), claims, func(*jwt.Token) (any, error) {
		return []byte("signing-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("randhub"))
	require.NoError(t, err)
	require.True(t, token.Valid)
	require.Equal(t, "0x1111111111111111111111111111111111111111", claims.Subject)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}
