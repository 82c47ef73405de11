package codec

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/policy"
)

func TestRequestRoundTrip(t *testing.T) {
	l := labels.MustParse("svc::a")
	w, err := policy.NewWire(policy.AllowAll(policy.HTTP))
	require.NoError(t, err)

	reqs := []PolicyRequest{
		{Kind: ReqDebug, Protocol: policy.HTTP, Debug: true},
		{Kind: ReqLabel, Label: &LabelOp{Op: LabelAdd, Target: "10.0.0.1", Label: &l}},
		{Kind: ReqSetPolicy, Policy: &w},
		{Kind: ReqShutdown},
		{Kind: ReqStartHTTP, HTTP: &HTTPConfig{Port: 6000, Ingress: "10.0.0.2:80"}},
		{Kind: ReqStartTCP, Port: 6001},
		{Kind: ReqStatus},
		{Kind: ReqStop, Protocol: policy.TCP},
		{Kind: ReqTimeout, TimeoutSecs: 3},
	}
	var buf bytes.Buffer
	for _, req := range reqs {
		require.NoError(t, WriteRequest(&buf, req))
	}
	for _, want := range reqs {
		got, err := ReadRequest(&buf)
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		if want.Label != nil {
			require.NotNil(t, got.Label)
			assert.True(t, want.Label.Label.Equal(*got.Label.Label))
		}
		if want.HTTP != nil {
			assert.Equal(t, *want.HTTP, *got.HTTP)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	l := labels.MustParse("host-1::proxy")
	port := uint16(6000)
	resps := []PolicyResponse{
		{Kind: RespConnect, PID: 321, TmpID: "tmp-1", Label: &l, HTTPHash: "aa", TCPHash: "bb"},
		{Kind: RespStarted},
		{Kind: RespUpdated, Protocol: policy.HTTP, Hash: "cc"},
		{Kind: RespFailed, Error: "interface mismatch"},
		{Kind: RespStatus, Status: &Status{
			Label: l,
			Labels: map[string][]labels.Label{
				"10.0.0.1": {labels.MustParse("svc::a")},
			},
			HTTP: ProtoStatus{Hash: "aa", Description: "allow all HTTP", Port: &port},
			TCP:  ProtoStatus{Hash: "bb", Description: "deny all TCP"},
		}},
	}
	var buf bytes.Buffer
	for _, resp := range resps {
		require.NoError(t, WriteResponse(&buf, resp))
	}
	for _, want := range resps {
		got, err := ReadResponse(&buf)
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		if want.Status != nil {
			require.NotNil(t, got.Status)
			assert.Equal(t, want.Status.HTTP.Hash, got.Status.HTTP.Hash)
			require.NotNil(t, got.Status.HTTP.Port)
			assert.Equal(t, port, *got.Status.HTTP.Port)
			assert.Len(t, got.Status.Labels["10.0.0.1"], 1)
		}
	}
}

func TestSetPolicyWithProgramSurvivesFraming(t *testing.T) {
	prog, err := policy.CompileProgram(`
		fn allow_rest_request(req: HttpRequest) -> bool { req.method() == "GET" }
		fn allow_rest_response(res: HttpResponse) -> bool { true }
	`)
	require.NoError(t, err)
	w, err := policy.ProgramWire(policy.HTTP, prog)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, PolicyRequest{Kind: ReqSetPolicy, Policy: &w}))
	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.NotNil(t, got.Policy)

	resolved, err := got.Policy.Resolve(policy.HTTP)
	require.NoError(t, err)
	wantHash, err := prog.Blake3()
	require.NoError(t, err)
	assert.Equal(t, wantHash, resolved.Hash())
}

func TestCodecOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	done := make(chan PolicyRequest, 1)
	go func() {
		req, err := ReadRequest(b)
		if err == nil {
			done <- req
		}
		close(done)
	}()
	require.NoError(t, WriteRequest(a, PolicyRequest{Kind: ReqStatus}))
	select {
	case req, ok := <-done:
		require.True(t, ok)
		assert.Equal(t, ReqStatus, req.Kind)
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}
