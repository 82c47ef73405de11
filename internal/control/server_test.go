package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armour.dev/armour/internal/policy"
	"armour.dev/armour/internal/store"
)

func newServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "control.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	s := New(st, nil)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHostOnboardAndDuplicate(t *testing.T) {
	_, ts := newServer(t)
	resp := do(t, ts, "POST", "/host/on-board", OnboardHostRequest{Label: "h1", Host: "https://h1:8090"})
	assert.Equal(t, 200, resp.StatusCode)

	resp = do(t, ts, "POST", "/host/on-board", OnboardHostRequest{Label: "h1", Host: "https://h1:8090"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, ts, "POST", "/host/on-board", OnboardHostRequest{Label: "::bad"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServiceOnboardNeedsHost(t *testing.T) {
	_, ts := newServer(t)
	resp := do(t, ts, "POST", "/service/on-board", OnboardServiceRequest{Service: "h1::svc", Host: "h1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	do(t, ts, "POST", "/host/on-board", OnboardHostRequest{Label: "h1", Host: "https://h1:8090"})
	resp = do(t, ts, "POST", "/service/on-board", OnboardServiceRequest{Service: "h1::svc", Host: "h1"})
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHostDropRemovesServices(t *testing.T) {
	s, ts := newServer(t)
	do(t, ts, "POST", "/host/on-board", OnboardHostRequest{Label: "h1", Host: "https://h1:8090"})
	do(t, ts, "POST", "/service/on-board", OnboardServiceRequest{Service: "h1::svc", Host: "h1"})

	resp := do(t, ts, "DELETE", "/host/drop", OnboardHostRequest{Label: "h1"})
	assert.Equal(t, 200, resp.StatusCode)

	entries, err := s.store.List(store.Services)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPolicyUpdateQueryDrop(t *testing.T) {
	_, ts := newServer(t)
	w, err := policy.NewWire(policy.AllowAll(policy.HTTP))
	require.NoError(t, err)

	resp := do(t, ts, "POST", "/policy/update", PolicyUpdateRequest{Label: "svc::<x>", Policy: w})
	assert.Equal(t, 200, resp.StatusCode)

	query := "/policy/query?label=" + url.QueryEscape("svc::<x>")
	resp = do(t, ts, "GET", query, nil)
	require.Equal(t, 200, resp.StatusCode)
	var got PolicyUpdateRequest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, policy.WireAllowAll, got.Policy.Kind)

	resp = do(t, ts, "GET", "/policy/query?label=other", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, ts, "DELETE", "/policy/drop?label="+url.QueryEscape("svc::<x>"), nil)
	assert.Equal(t, 200, resp.StatusCode)
	resp = do(t, ts, "GET", query, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPolicyDropAll(t *testing.T) {
	_, ts := newServer(t)
	w, _ := policy.NewWire(policy.AllowAll(policy.HTTP))
	do(t, ts, "POST", "/policy/update", PolicyUpdateRequest{Label: "a", Policy: w})
	do(t, ts, "POST", "/policy/update", PolicyUpdateRequest{Label: "b", Policy: w})

	resp := do(t, ts, "DELETE", "/policy/drop-all", nil)
	assert.Equal(t, 200, resp.StatusCode)
	resp = do(t, ts, "GET", "/policy/query", nil)
	var all []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	assert.Empty(t, all)
}

func TestMalformedPolicyRejectedBeforeStore(t *testing.T) {
	_, ts := newServer(t)
	bad := policy.Wire{Kind: policy.WireProgram, Protocol: policy.HTTP, Encoded: "not base64 gzip"}
	resp := do(t, ts, "POST", "/policy/update", PolicyUpdateRequest{Label: "svc::a", Policy: bad})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, ts, "GET", "/policy/query?label=svc::a", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "nothing stored")
}

func TestPolicyPushReachesMatchingHosts(t *testing.T) {
	var mu sync.Mutex
	var pushes []PolicyUpdateRequest
	hostSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/policy/update", r.URL.Path)
		var req PolicyUpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		pushes = append(pushes, req)
		mu.Unlock()
		w.WriteHeader(200)
	}))
	defer hostSrv.Close()

	_, ts := newServer(t)
	do(t, ts, "POST", "/host/on-board", OnboardHostRequest{Label: "h1", Host: hostSrv.URL})
	do(t, ts, "POST", "/service/on-board", OnboardServiceRequest{Service: "h1::svc", Host: "h1"})
	do(t, ts, "POST", "/service/on-board", OnboardServiceRequest{Service: "h1::other", Host: "h1"})

	w, err := policy.NewWire(policy.DenyAll(policy.HTTP))
	require.NoError(t, err)
	resp := do(t, ts, "POST", "/policy/update", PolicyUpdateRequest{Label: "h1::<x>", Policy: w})
	assert.Equal(t, 200, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	// two matching services on the same host: one push
	require.Len(t, pushes, 1)
	assert.Equal(t, "h1::<x>", pushes[0].Label)
	assert.Equal(t, policy.WireDenyAll, pushes[0].Policy.Kind)
}

func TestPushSkipsNonMatchingServices(t *testing.T) {
	var mu sync.Mutex
	count := 0
	hostSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(200)
	}))
	defer hostSrv.Close()

	_, ts := newServer(t)
	do(t, ts, "POST", "/host/on-board", OnboardHostRequest{Label: "h1", Host: hostSrv.URL})
	do(t, ts, "POST", "/service/on-board", OnboardServiceRequest{Service: "h1::svc", Host: "h1"})

	w, _ := policy.NewWire(policy.AllowAll(policy.HTTP))
	do(t, ts, "POST", "/policy/update", PolicyUpdateRequest{Label: "h2::<x>", Policy: w})

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}

func TestUnreachableHostDoesNotFailUpdate(t *testing.T) {
	_, ts := newServer(t)
	do(t, ts, "POST", "/host/on-board", OnboardHostRequest{Label: "h1", Host: "http://127.0.0.1:1"})
	do(t, ts, "POST", "/service/on-board", OnboardServiceRequest{Service: "h1::svc", Host: "h1"})

	w, _ := policy.NewWire(policy.AllowAll(policy.HTTP))
	resp := do(t, ts, "POST", "/policy/update", PolicyUpdateRequest{Label: "h1::svc", Policy: w})
	assert.Equal(t, 200, resp.StatusCode)
}
