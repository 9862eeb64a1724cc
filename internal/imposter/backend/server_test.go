package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/imposter"
)

func newTestBackend(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New("127.0.0.1")
	admin := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		admin.Close()
		s.Close(context.Background())
	})
	return s, admin
}

func createImposter(t *testing.T, adminURL string, def string) imposter.State {
	t.Helper()
	resp, err := http.Post(adminURL+"/imposters", "application/json", strings.NewReader(def))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var state imposter.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, fmt.Sprintf("/imposters/%d", state.Port), resp.Header.Get("Location"))
	return state
}

func do(t *testing.T, method, url, body string, headers map[string]string) (int, string, http.Header) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data), resp.Header
}

const paymentsDefinition = `{
  "protocol": "http",
  "name": "payments",
  "recordRequests": true,
  "stubs": [
    {
      "predicates": [{"equals": {"method": "POST", "path": "/charges"}}],
      "responses": [
        {"is": {"statusCode": 201, "body": {"id": "ch_1", "status": "succeeded"}}, "_behaviors": {"repeat": 2}},
        {"is": {"statusCode": 402, "body": "card declined"}}
      ]
    },
    {
      "predicates": [{"startsWith": {"path": "/charges/"}}, {"exists": {"headers": {"Authorization": "true"}}}],
      "responses": [{"is": {"body": "{\"path\":\"{{ .Request.Path }}\",\"upper\":\"{{ .Request.Method | lower | upper }}\"}"}, "_behaviors": {"template": true}}]
    }
  ],
  "defaultResponse": {"statusCode": 404, "body": "not stubbed"}
}`

func TestImposterLifecycle(t *testing.T) {
	s, admin := newTestBackend(t)

	state := createImposter(t, admin.URL, paymentsDefinition)
	require.NotZero(t, state.Port)
	assert.Equal(t, "payments", state.Name)
	assert.Equal(t, 1, s.Count())

	base := fmt.Sprintf("http://127.0.0.1:%d", state.Port)

	status, body, header := do(t, "POST", base+"/charges", `{"amount":100}`, nil)
	assert.Equal(t, 201, status)
	assert.JSONEq(t, `{"id":"ch_1","status":"succeeded"}`, body)
	assert.Equal(t, "application/json", header.Get("Content-Type"))

	status, _, _ = do(t, "POST", base+"/charges", "", nil)
	assert.Equal(t, 201, status, "first response repeats twice")

	status, body, _ = do(t, "POST", base+"/charges", "", nil)
	assert.Equal(t, 402, status)
	assert.Equal(t, "card declined", body)

	status, _, _ = do(t, "POST", base+"/charges", "", nil)
	assert.Equal(t, 201, status, "responses cycle")

	status, body, _ = do(t, "GET", base+"/charges/ch_1", "", map[string]string{"Authorization": "Bearer x"})
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"path":"/charges/ch_1","upper":"GET"}`, body)

	status, body, _ = do(t, "GET", base+"/charges/ch_1", "", nil)
	assert.Equal(t, 404, status, "missing header falls through to the default response")
	assert.Equal(t, "not stubbed", body)

	status, body, _ = do(t, "GET", fmt.Sprintf("%s/imposters/%d", admin.URL, state.Port), "", nil)
	require.Equal(t, 200, status)
	var got imposter.State
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got.Requests, 6)
	assert.Equal(t, 6, got.NumberOfRequests)
	assert.Equal(t, "POST", got.Requests[0].Method)
	assert.Equal(t, `{"amount":100}`, got.Requests[0].Body)
	assert.Equal(t, "/charges/ch_1", got.Requests[5].Path)
	for i := 1; i < len(got.Requests); i++ {
		assert.False(t, got.Requests[i].Timestamp.Before(got.Requests[i-1].Timestamp), "requests are ordered")
	}

	status, _, _ = do(t, "DELETE", fmt.Sprintf("%s/imposters/%d", admin.URL, state.Port), "", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, 0, s.Count())

	status, body, _ = do(t, "DELETE", fmt.Sprintf("%s/imposters/%d", admin.URL, state.Port), "", nil)
	assert.Equal(t, 200, status, "deleting twice is fine")
	assert.JSONEq(t, `{}`, body)

	status, _, _ = do(t, "GET", fmt.Sprintf("%s/imposters/%d", admin.URL, state.Port), "", nil)
	assert.Equal(t, 404, status)

	_, err := http.Get(base + "/charges")
	assert.Error(t, err, "imposter port is closed after delete")
}

func TestImposterDefaultsToEmptyOK(t *testing.T) {
	_, admin := newTestBackend(t)
	state := createImposter(t, admin.URL, `{"protocol":"http"}`)

	status, body, _ := do(t, "GET", fmt.Sprintf("http://127.0.0.1:%d/anything", state.Port), "", nil)
	assert.Equal(t, 200, status)
	assert.Empty(t, body)

	_, body, _ = do(t, "GET", fmt.Sprintf("%s/imposters/%d", admin.URL, state.Port), "", nil)
	var got imposter.State
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Empty(t, got.Requests, "recording is off unless requested")
	assert.Equal(t, 1, got.NumberOfRequests)
}

func TestWaitBehavior(t *testing.T) {
	_, admin := newTestBackend(t)
	state := createImposter(t, admin.URL, `{"stubs":[{"responses":[{"is":{"body":"slow"},"_behaviors":{"wait":100}}]}]}`)

	start := time.Now()
	_, body, _ := do(t, "GET", fmt.Sprintf("http://127.0.0.1:%d/", state.Port), "", nil)
	assert.Equal(t, "slow", body)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestCreateRejectsBadDefinitions(t *testing.T) {
	_, admin := newTestBackend(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"protocol":`, "bad data"},
		{"unsupported protocol", `{"protocol":"smtp"}`, "bad data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, _ := do(t, "POST", admin.URL+"/imposters", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, body, tt.code)
		})
	}
}

func TestCreateOnTakenPortConflicts(t *testing.T) {
	_, admin := newTestBackend(t)
	first := createImposter(t, admin.URL, `{"protocol":"http"}`)

	status, body, _ := do(t, "POST", admin.URL+"/imposters", fmt.Sprintf(`{"protocol":"http","port":%d}`, first.Port), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "resource conflict")
}

func TestListAndDeleteAll(t *testing.T) {
	s, admin := newTestBackend(t)
	a := createImposter(t, admin.URL, `{"name":"a"}`)
	b := createImposter(t, admin.URL, `{"name":"b"}`)
	assert.NotEqual(t, a.Port, b.Port)

	_, body, _ := do(t, "GET", admin.URL+"/imposters", "", nil)
	var list struct {
		Imposters []imposter.State `json:"imposters"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	assert.Len(t, list.Imposters, 2)

	status, _, _ := do(t, "DELETE", admin.URL+"/imposters", "", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, 0, s.Count())
}

func TestInvalidPortPath(t *testing.T) {
	_, admin := newTestBackend(t)
	status, _, _ := do(t, "GET", admin.URL+"/imposters/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEmbeddedBackend(t *testing.T) {
	e, err := StartEmbedded("127.0.0.1")
	require.NoError(t, err)

	resp, err := http.Post(e.URL+"/imposters", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.Equal(t, 0, e.Count(), "stopping the backend stops its imposters")
}
