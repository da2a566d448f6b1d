package posts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authapi "instant/cmd/internal/auth/api"
	"instant/cmd/internal/httpx"
)

// bearerGate treats the bearer value as the subject id.
func bearerGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if sub == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "authorization missing")
			return
		}
		next.ServeHTTP(w, r.WithContext(authapi.WithSubject(r.Context(), sub)))
	})
}

func newTestServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t)
	f.addUser(t, "u1", "alice")
	f.addUser(t, "u2", "bob")

	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, bearerGate, 0)
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, f
}

func doJSON(t *testing.T, method, url, subject, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, rd)
	require.NoError(t, err)
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+subject)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decodePost(t *testing.T, raw []byte) postResponse {
	t.Helper()
	var p postResponse
	require.NoError(t, json.Unmarshal(raw, &p))
	return p
}

func failureMessage(t *testing.T, raw []byte) string {
	t.Helper()
	var f httpx.Failure
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, "failed", f.Status)
	return f.Message
}

func TestHandler_NilDependencies(t *testing.T) {
	f := newFixture(t)
	_, err := NewHandler(nil, nil, bearerGate, 0)
	assert.Error(t, err)
	_, err = NewHandler(nil, f.svc, nil, 0)
	assert.Error(t, err)
}

func TestHandler_Lifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	status, raw := doJSON(t, http.MethodPost, srv.URL+"/post", "u1", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, status, string(raw))
	created := decodePost(t, raw)
	assert.NotEmpty(t, created.PostID)
	assert.Equal(t, "hello", created.Text)
	assert.Equal(t, "u1", created.OwnerID)
	assert.Equal(t, "alice", created.Username)

	status, raw = doJSON(t, http.MethodGet, srv.URL+"/post/"+created.PostID, "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created, decodePost(t, raw))

	status, raw = doJSON(t, http.MethodPut, srv.URL+"/post/"+created.PostID, "u1", `{"text":"edited"}`)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Equal(t, "edited", decodePost(t, raw).Text)

	status, raw = doJSON(t, http.MethodGet, srv.URL+"/post", "", "")
	require.Equal(t, http.StatusOK, status)
	var list []postResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "edited", list[0].Text)

	status, raw = doJSON(t, http.MethodDelete, srv.URL+"/post/"+created.PostID, "u1", "")
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	status, raw = doJSON(t, http.MethodGet, srv.URL+"/post/"+created.PostID, "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "post not found", failureMessage(t, raw))
}

func TestHandler_ListEmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t)
	status, raw := doJSON(t, http.MethodGet, srv.URL+"/post?owner=u2", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestHandler_ListByOwner(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, c := range []struct{ sub, text string }{{"u1", "a"}, {"u2", "b"}, {"u1", "c"}} {
		status, raw := doJSON(t, http.MethodPost, srv.URL+"/post", c.sub, `{"text":"`+c.text+`"}`)
		require.Equal(t, http.StatusOK, status, string(raw))
	}

	status, raw := doJSON(t, http.MethodGet, srv.URL+"/post?owner=u1", "", "")
	require.Equal(t, http.StatusOK, status)
	var list []postResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Text)
	assert.Equal(t, "c", list[1].Text)
}

func TestHandler_WritesRequireSubject(t *testing.T) {
	srv, _ := newTestServer(t)
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/post", "", `{"text":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/post/anything", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHandler_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	status, raw := doJSON(t, http.MethodPost, srv.URL+"/post", "u1", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "post missing", failureMessage(t, raw))

	status, raw = doJSON(t, http.MethodPost, srv.URL+"/post", "u1", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, httpx.MsgInvalidBody, failureMessage(t, raw))

	status, raw = doJSON(t, http.MethodPost, srv.URL+"/post", "ghost", `{"text":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "user not found", failureMessage(t, raw))

	status, raw = doJSON(t, http.MethodPost, srv.URL+"/post", "u1", `{"text":"mine"}`)
	require.Equal(t, http.StatusOK, status)
	id := decodePost(t, raw).PostID

	status, raw = doJSON(t, http.MethodPut, srv.URL+"/post/"+id, "u2", `{"text":"theirs"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "post belongs to another user", failureMessage(t, raw))

	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/post/"+id, "u2", "")
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doJSON(t, http.MethodPut, srv.URL+"/post/nope", "u1", `{"text":"x"}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	status, _ := doJSON(t, http.MethodPatch, srv.URL+"/post", "u1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}
