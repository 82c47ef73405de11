package host

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/policy"
	"armour.dev/armour/internal/proxy"
)

func startHost(t *testing.T) *Host {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "armour.sock")
	h := New(labels.MustParse("h1"), sock)
	require.NoError(t, h.Listen())
	t.Cleanup(func() { h.Shutdown(2 * time.Second) })
	return h
}

// connectProxy runs a real policy actor against the host's socket,
// in-process rather than as a subprocess.
func connectProxy(t *testing.T, h *Host, label string) *proxy.PolicyActor {
	t.Helper()
	a, err := proxy.NewPolicyActor(proxy.Config{Label: labels.MustParse(label)})
	require.NoError(t, err)
	go a.Run(h.socketPath)
	require.Eventually(t, func() bool {
		for _, m := range h.Instances() {
			if m.Label.Equal(labels.MustParse(label)) {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
	return a
}

func TestProxyConnectRegistersMeta(t *testing.T) {
	h := startHost(t)
	connectProxy(t, h, "h1::svc-a")
	metas := h.Instances()
	require.Len(t, metas, 1)
	assert.NotEmpty(t, metas[0].HTTPHash)
	assert.NotEmpty(t, metas[0].TmpID)
}

func TestInstanceIDsIncrease(t *testing.T) {
	h := startHost(t)
	connectProxy(t, h, "h1::svc-a")
	connectProxy(t, h, "h1::svc-b")
	h.mu.Lock()
	next := h.nextID
	h.mu.Unlock()
	assert.Equal(t, 2, next)
}

func TestSelector(t *testing.T) {
	h := startHost(t)
	connectProxy(t, h, "h1::svc-a")
	connectProxy(t, h, "h1::svc-b")

	assert.Len(t, h.selected(SelectAll()), 2)
	assert.Len(t, h.selected(SelectLabel(labels.MustParse("h1::svc-a"))), 1)
	assert.Len(t, h.selected(SelectLabel(labels.MustParse("h1::<x>"))), 2)
	// proxy-part shorthand
	assert.Len(t, h.selected(SelectLabel(labels.MustParse("svc-a"))), 1)
	assert.Len(t, h.selected(SelectID(1)), 1)
	assert.Empty(t, h.selected(SelectLabel(labels.MustParse("h2::<x>"))))
}

func TestSetPolicyUpdatesHash(t *testing.T) {
	h := startHost(t)
	connectProxy(t, h, "h1::svc-a")

	prog, err := policy.CompileProgram(`
		fn allow_rest_request(req: HttpRequest) -> bool { req.method() == "GET" }
		fn allow_rest_response(res: HttpResponse) -> bool { true }
	`)
	require.NoError(t, err)
	w, err := policy.ProgramWire(policy.HTTP, prog)
	require.NoError(t, err)
	require.NoError(t, h.SetPolicy(labels.MustParse("h1::<x>"), w))

	wantHash, err := prog.Blake3()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		metas := h.Instances()
		return len(metas) == 1 && metas[0].HTTPHash == wantHash
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSetPolicyNoMatch(t *testing.T) {
	h := startHost(t)
	connectProxy(t, h, "h1::svc-a")
	w, err := policy.NewWire(policy.AllowAll(policy.HTTP))
	require.NoError(t, err)
	assert.Error(t, h.SetPolicy(labels.MustParse("h1::other"), w))
}

func TestStatuses(t *testing.T) {
	h := startHost(t)
	connectProxy(t, h, "h1::svc-a")
	sts := h.Statuses(SelectAll())
	require.Len(t, sts, 1)
	assert.Contains(t, sts[0].HTTP.Description, "deny all")
}

func TestShutdownReapsInstances(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "armour.sock")
	h := New(labels.MustParse("h1"), sock)
	require.NoError(t, h.Listen())
	connectProxy(t, h, "h1::svc-a")

	h.Shutdown(2 * time.Second)
	assert.Empty(t, h.Instances())
	_, err := net.Dial("unix", sock)
	assert.Error(t, err, "socket removed after shutdown")
}

func TestRESTSurface(t *testing.T) {
	h := startHost(t)
	connectProxy(t, h, "h1::svc-a")
	srv := httptest.NewServer(NewRESTServer(h).Routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/host/label")
	require.NoError(t, err)
	defer resp.Body.Close()
	var label map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&label))
	assert.Equal(t, "h1", label["label"])

	resp, err = srv.Client().Get(srv.URL + "/host/proxies")
	require.NoError(t, err)
	defer resp.Body.Close()
	var proxies []ProxyInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&proxies))
	require.Len(t, proxies, 1)
	assert.Equal(t, "h1::svc-a", proxies[0].Label)
}

func TestRESTPolicyUpdate(t *testing.T) {
	h := startHost(t)
	connectProxy(t, h, "h1::svc-a")
	srv := httptest.NewServer(NewRESTServer(h).Routes())
	defer srv.Close()

	w, err := policy.NewWire(policy.AllowAll(policy.HTTP))
	require.NoError(t, err)
	body, _ := json.Marshal(PolicyUpdateRequest{Label: "h1::<x>", Policy: w})
	resp, err := srv.Client().Post(srv.URL+"/policy/update", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	// bad label is a 400 with a diagnostic
	body, _ = json.Marshal(PolicyUpdateRequest{Label: "::bad::", Policy: w})
	resp, err = srv.Client().Post(srv.URL+"/policy/update", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
