package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dynoengine/dyno/executor"
	"github.com/dynoengine/dyno/hostfunc"
	"github.com/dynoengine/dyno/language/lua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()

	exec, err := executor.New(hostfunc.NewRegistry())
	require.NoError(t, err)

	srv := &server{
		exec:        exec,
		sessions:    newSessionManager(15 * time.Minute),
		timeout:     5 * time.Second,
		snippetLang: "javascript",
		logger:      zap.NewNop(),
	}
	ts := httptest.NewServer(srv.routes())

	t.Cleanup(func() {
		ts.Close()
		srv.sessions.closeAll()
		exec.Close()
	})
	return srv, ts
}

func post(t *testing.T, url string, body any, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createSession(t *testing.T, ts *httptest.Server, lang string) string {
	t.Helper()
	var created createSessionResponse
	resp := post(t, ts.URL+"/sessions", createSessionRequest{Lang: lang}, &created)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, created.SessionID)
	return created.SessionID
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.String())
}

func TestEvaluateEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	var result executeResponse
	resp := post(t, ts.URL+"/evaluate", evaluateRequest{Code: `console.log('Hello from DynoEngine!')`}, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello from DynoEngine!\n", result.Output)
	assert.Empty(t, result.Error)

	result = executeResponse{}
	post(t, ts.URL+"/evaluate", evaluateRequest{Code: `print(2 ^ 10)`, Lang: "lua"}, &result)
	assert.Equal(t, "1024\n", result.Output)

	result = executeResponse{}
	post(t, ts.URL+"/evaluate", evaluateRequest{Code: `console.log(`}, &result)
	assert.Equal(t, "eval", result.Kind)
	assert.Contains(t, result.Error, "compile")

	result = executeResponse{}
	post(t, ts.URL+"/evaluate", evaluateRequest{Code: `while (true) {}`, Timeout: "50ms"}, &result)
	assert.Contains(t, result.Error, "timeout")
}

func TestEvaluateEndpointBadRequests(t *testing.T) {
	_, ts := setupTestServer(t)

	resp := post(t, ts.URL+"/evaluate", evaluateRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/evaluate", evaluateRequest{Code: "x", Lang: "cobol"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw, err := http.Post(ts.URL+"/evaluate", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	get, err := http.Get(ts.URL + "/evaluate")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	_, ts := setupTestServer(t)
	id := createSession(t, ts, "")
	base := ts.URL + "/sessions/" + id

	var reloaded reloadResponse
	post(t, base+"/reload", reloadRequest{Name: "suspect.lua", Source: `
function interrogate(who) return {who = who, confessed = true} end
`}, &reloaded)
	assert.Equal(t, "loaded", reloaded.State)
	assert.Equal(t, "suspect.lua", reloaded.Script)
	assert.Empty(t, reloaded.Error)

	var called executeResponse
	post(t, base+"/call", callRequest{Function: "interrogate", Args: []any{"butler"}}, &called)
	assert.Empty(t, called.Error)
	assert.Equal(t, map[string]any{"who": "butler", "confessed": true}, called.Value)

	var ran executeResponse
	post(t, base+"/exec", sessionExecRequest{Code: `print(type(interrogate))`}, &ran)
	assert.Equal(t, "function\n", ran.Output)

	// A failed reload leaves an empty interpreter; the old function is gone.
	reloaded = reloadResponse{}
	post(t, base+"/reload", reloadRequest{Source: `function interrogate(`}, &reloaded)
	assert.Equal(t, "empty", reloaded.State)
	assert.Equal(t, "load", reloaded.Kind)

	called = executeResponse{}
	post(t, base+"/call", callRequest{Function: "interrogate"}, &called)
	assert.Equal(t, "call", called.Kind)
	assert.Contains(t, called.Error, "function not found")

	req, _ := http.NewRequest(http.MethodDelete, base, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, base+"/call", callRequest{Function: "interrogate"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionReloadFromPath(t *testing.T) {
	_, ts := setupTestServer(t)
	id := createSession(t, ts, "js")

	path := filepath.Join(t.TempDir(), "lib.js")
	require.NoError(t, os.WriteFile(path, []byte(`function add(a, b) { return a + b }`), 0o644))

	var reloaded reloadResponse
	post(t, ts.URL+"/sessions/"+id+"/reload", reloadRequest{Path: path}, &reloaded)
	assert.Equal(t, "loaded", reloaded.State)

	var called executeResponse
	post(t, ts.URL+"/sessions/"+id+"/call", callRequest{Function: "add", Args: []any{2, 3}}, &called)
	assert.Equal(t, float64(5), called.Value)

	resp := post(t, ts.URL+"/sessions/"+id+"/reload", reloadRequest{Path: path, Source: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/sessions/"+id+"/call", callRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateSessionUnknownLanguage(t *testing.T) {
	_, ts := setupTestServer(t)

	resp := post(t, ts.URL+"/sessions", createSessionRequest{Lang: "ruby"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMultipleSessionsAreIsolated(t *testing.T) {
	_, ts := setupTestServer(t)

	id1 := createSession(t, ts, "lua")
	id2 := createSession(t, ts, "lua")
	assert.NotEqual(t, id1, id2)

	post(t, ts.URL+"/sessions/"+id1+"/exec", sessionExecRequest{Code: `x = "session1"`}, nil)
	post(t, ts.URL+"/sessions/"+id2+"/exec", sessionExecRequest{Code: `x = "session2"`}, nil)

	var r1, r2 executeResponse
	post(t, ts.URL+"/sessions/"+id1+"/exec", sessionExecRequest{Code: `print(x)`}, &r1)
	post(t, ts.URL+"/sessions/"+id2+"/exec", sessionExecRequest{Code: `print(x)`}, &r2)
	assert.Equal(t, "session1\n", r1.Output)
	assert.Equal(t, "session2\n", r2.Output)
}

func TestSessionManagerExpire(t *testing.T) {
	exec, err := executor.New(nil)
	require.NoError(t, err)
	defer exec.Close()

	sm := newSessionManager(time.Minute)
	defer sm.closeAll()

	idle, err := sm.create(exec, lua.New())
	require.NoError(t, err)
	fresh, err := sm.create(exec, lua.New())
	require.NoError(t, err)

	sm.mu.Lock()
	sm.sessions[idle].lastUsed = time.Now().Add(-2 * time.Minute)
	sm.mu.Unlock()

	assert.Equal(t, 1, sm.expire(time.Now()))
	_, ok := sm.get(idle)
	assert.False(t, ok)
	_, ok = sm.get(fresh)
	assert.True(t, ok)

	assert.True(t, sm.close(fresh))
	assert.False(t, sm.close(fresh))
	assert.Zero(t, sm.len())
}

func TestSessionManagerNoTTL(t *testing.T) {
	exec, err := executor.New(nil)
	require.NoError(t, err)
	defer exec.Close()

	sm := newSessionManager(0)
	defer sm.closeAll()

	_, err = sm.create(exec, lua.New())
	require.NoError(t, err)
	assert.Zero(t, sm.expire(time.Now().Add(time.Hour)))
	assert.Equal(t, 1, sm.len())
}
