package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fileglancer/config"
	"fileglancer/dao/query"
	"fileglancer/fileproxy"
	"fileglancer/fsp"
	"fileglancer/proxied"
	"fileglancer/response"
	"fileglancer/usercontext"
	"fileglancer/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code response.ErrorCode `json:"code"`
	Data json.RawMessage    `json:"data"`
	Msg  string             `json:"msg"`
}

type testServer struct {
	t       *testing.T
	cfg     *config.Config
	srv     *Server
	router  *gin.Engine
	tokens  *util.TokenManager
	mount   string
	fspName string
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mount := filepath.Join(t.TempDir(), "lab1")
	require.NoError(t, os.MkdirAll(filepath.Join(mount, "proj"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "proj", "readme.txt"), []byte("hello"), 0o644))

	cfg := &config.Config{
		FileShareMounts:  []string{mount},
		ExternalProxyURL: "https://files.example.org/files",
		Auth:             config.AuthConfig{TokenSecret: "0123456789abcdef0123", TokenTTL: time.Hour},
	}
	for _, m := range mutate {
		m(cfg)
	}

	db, err := query.OpenDSN("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	store, err := fsp.NewStaticStore(cfg.FileShareMounts)
	require.NoError(t, err)
	reg := proxied.NewRegistry(db, store)
	tokens := util.NewTokenManager(cfg.Auth)

	srv := New(Deps{
		Config:   cfg,
		DB:       db,
		Paths:    store,
		Registry: reg,
		Proxy:    fileproxy.NewDispatcher(reg, usercontext.Noop{}, fileproxy.Options{FSTimeout: 5 * time.Second}),
		Identity: usercontext.Noop{},
		Tokens:   tokens,
	})
	return &testServer{
		t:       t,
		cfg:     cfg,
		srv:     srv,
		router:  srv.Router(),
		tokens:  tokens,
		mount:   mount,
		fspName: fsp.Slugify(mount),
	}
}

func (ts *testServer) token(username string) string {
	tok, err := ts.tokens.CreateToken(username)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, target, username string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(ts.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if username != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(username))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/proxied-path", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.MissingToken, decode(t, w, nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/proxied-path", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.InvalidToken, decode(t, w, nil).Code)

	expired := util.NewTokenManager(config.AuthConfig{TokenSecret: ts.cfg.Auth.TokenSecret, TokenTTL: -time.Minute})
	tok, err := expired.CreateToken("alice")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/proxied-path", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.TokenExpired, decode(t, w, nil).Code)
}

func TestProxiedPathLifecycle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/proxied-path", "alice", CreateProxiedPathReq{FSPName: ts.fspName, Path: "proj"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created ProxiedPathResp
	decode(t, w, &created)
	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, "proj", created.SharingName)
	assert.Equal(t, "https://files.example.org/files/"+created.SharingKey+"/proj", created.URL)

	w = ts.do(http.MethodGet, "/api/proxied-path/"+created.SharingKey, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// other users cannot tell the share exists
	w = ts.do(http.MethodGet, "/api/proxied-path/"+created.SharingKey, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ProxiedPathNotFound, decode(t, w, nil).Code)

	w = ts.do(http.MethodGet, "/api/proxied-path?fsp_name="+ts.fspName, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Paths []ProxiedPathResp `json:"paths"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Paths, 1)
	assert.Equal(t, created.SharingKey, listed.Paths[0].SharingKey)

	name := "renamed"
	w = ts.do(http.MethodPut, "/api/proxied-path/"+created.SharingKey, "alice", UpdateProxiedPathReq{SharingName: &name})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated ProxiedPathResp
	decode(t, w, &updated)
	assert.Equal(t, "renamed", updated.SharingName)
	assert.Equal(t, "proj", updated.Path)

	w = ts.do(http.MethodDelete, "/api/proxied-path/"+created.SharingKey, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodDelete, "/api/proxied-path/"+created.SharingKey, "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodDelete, "/api/proxied-path/"+created.SharingKey, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProxiedPathRejects(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/proxied-path", "alice", CreateProxiedPathReq{FSPName: "nope", Path: "proj"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.UnknownShare, decode(t, w, nil).Code)

	w = ts.do(http.MethodPost, "/api/proxied-path", "alice", CreateProxiedPathReq{FSPName: ts.fspName, Path: "../etc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.InvalidPath, decode(t, w, nil).Code)

	w = ts.do(http.MethodPost, "/api/proxied-path", "alice", `{"path":"proj"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.InvalidRequest, decode(t, w, nil).Code)
}

func TestPreferences(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/preference/layout", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.PreferenceNotFound, decode(t, w, nil).Code)

	w = ts.do(http.MethodPut, "/api/preference/layout", "alice", `{"columns":3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(http.MethodGet, "/api/preference/layout", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"columns":3}`, string(decode(t, w, nil).Data))

	w = ts.do(http.MethodGet, "/api/preference", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, string(decode(t, w, nil).Data))

	w = ts.do(http.MethodPut, "/api/preference/layout", "alice", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodDelete, "/api/preference/layout", "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(http.MethodDelete, "/api/preference/layout", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileSharePaths(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/file-share-paths", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Paths []struct {
			Name      string `json:"name"`
			MountPath string `json:"mount_path"`
		} `json:"paths"`
	}
	decode(t, w, &out)
	require.Len(t, out.Paths, 1)
	assert.Equal(t, ts.fspName, out.Paths[0].Name)

	w = ts.do(http.MethodPost, "/api/file-share-paths/refresh", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.StaticMode, decode(t, w, nil).Code)
}

type failingRefresher struct{}

func (failingRefresher) Refresh(context.Context, bool) (*fsp.SyncResult, error) {
	return nil, fsp.ErrSyncFetchFailed
}

func TestRefreshReportsFetchFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.Refresher = failingRefresher{}

	w := ts.do(http.MethodPost, "/api/file-share-paths/refresh", "alice", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, response.SyncFailed, decode(t, w, nil).Code)
}

func TestFilesRouteServesShare(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/proxied-path", "alice", CreateProxiedPathReq{FSPName: ts.fspName, Path: "proj"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created ProxiedPathResp
	decode(t, w, &created)

	w = ts.do(http.MethodGet, "/files/"+created.SharingKey+"/proj/readme.txt", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(fileproxy.RequestIDHeader))

	w = ts.do(http.MethodHead, "/files/"+created.SharingKey+"/proj/readme.txt", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("Content-Length"))

	w = ts.do(http.MethodGet, "/files/"+created.SharingKey+"/other/readme.txt", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "<Code>InvalidArgument</Code>")

	w = ts.do(http.MethodGet, "/files/unknown-key/proj/readme.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "<Code>NoSuchBucket</Code>")
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2}
	})

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, ts.do(http.MethodGet, "/files/nokey/name/x", "", nil).Code)
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusServiceUnavailable}, codes)
}
