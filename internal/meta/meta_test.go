package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/literals"
)

func egressID() labels.Label { return labels.MustParse("egress::proxy-a") }

func TestCallRouting(t *testing.T) {
	h := NewIngressEgress(nil, egressID())

	_, err := h.Call("Egress", "add_label", []literals.Literal{
		literals.LabelLit(labels.MustParse("touched::svc-a")),
	})
	require.NoError(t, err)

	lit, err := h.Call("Egress", "has_label", []literals.Literal{
		literals.LabelLit(labels.MustParse("touched::<x>")),
	})
	require.NoError(t, err)
	assert.True(t, lit.Equal(literals.Bool(true)))

	lit, err = h.Call("Ingress", "has_label", []literals.Literal{
		literals.LabelLit(labels.MustParse("touched::<x>")),
	})
	require.NoError(t, err)
	assert.True(t, lit.Equal(literals.Bool(false)))

	_, err = h.Call("Other", "id", nil)
	assert.Error(t, err)
	_, err = h.Call("Egress", "frobnicate", nil)
	assert.Error(t, err)
}

func TestDataStack(t *testing.T) {
	h := NewIngressEgress(nil, egressID())
	_, err := h.Call("Egress", "push", []literals.Literal{literals.Data([]byte("a"))})
	require.NoError(t, err)
	_, err = h.Call("Egress", "push", []literals.Literal{literals.Data([]byte("b"))})
	require.NoError(t, err)

	lit, err := h.Call("Egress", "pop", nil)
	require.NoError(t, err)
	assert.True(t, lit.Equal(literals.Some(literals.Data([]byte("b")))))

	lit, err = h.Call("Egress", "data", nil)
	require.NoError(t, err)
	assert.True(t, lit.Equal(literals.List([]literals.Literal{literals.Data([]byte("a"))})))

	_, err = h.Call("Egress", "pop", nil)
	require.NoError(t, err)
	lit, err = h.Call("Egress", "pop", nil)
	require.NoError(t, err)
	assert.True(t, lit.Equal(literals.None()))
}

func TestSetIDUsesEgressIdentity(t *testing.T) {
	h := NewIngressEgress(nil, egressID())
	_, err := h.Call("Egress", "set_id", nil)
	require.NoError(t, err)
	lit, err := h.Call("Egress", "id", nil)
	require.NoError(t, err)
	content, ok := lit.AsSome()
	require.True(t, ok)
	l, ok := content.AsLabel()
	require.True(t, ok)
	assert.True(t, l.Equal(egressID()))
}

func TestWipe(t *testing.T) {
	h := NewIngressEgress(nil, egressID())
	h.Call("Egress", "push", []literals.Literal{literals.Data([]byte("a"))})
	h.Call("Egress", "wipe", nil)
	_, err := h.Egress()
	assert.Error(t, err)
}

func TestEgressFinalization(t *testing.T) {
	h := NewIngressEgress(nil, egressID())
	_, err := h.Egress()
	assert.Error(t, err, "empty egress yields no header")

	h.Call("Egress", "add_label", []literals.Literal{
		literals.LabelLit(labels.MustParse("touched::svc-a")),
	})
	m, err := h.Egress()
	require.NoError(t, err)
	require.NotNil(t, m.ID)
	assert.True(t, m.ID.Equal(egressID()))
}

func TestIngressCarriesPriorEgress(t *testing.T) {
	ingress := New(labels.MustParse("svc::a"))
	ingress.labelSet().Insert(labels.MustParse("touched::svc-a"))
	h := NewIngressEgress(ingress, egressID())
	lit, err := h.Call("Ingress", "has_label", []literals.Literal{
		literals.LabelLit(labels.MustParse("touched::svc-a")),
	})
	require.NoError(t, err)
	assert.True(t, lit.Equal(literals.Bool(true)))
}

func TestSealRoundTrip(t *testing.T) {
	sealer, err := NewSealer(NewRandomKey())
	require.NoError(t, err)

	m := New(labels.MustParse("svc::a"))
	m.pushData([]byte("payload"))
	m.labelSet().Insert(labels.MustParse("touched::svc-a"))

	header, err := sealer.Seal(m)
	require.NoError(t, err)
	out, err := sealer.Open(header)
	require.NoError(t, err)
	assert.True(t, m.Equal(out))
}

func TestSealUsesFreshNonces(t *testing.T) {
	sealer, err := NewSealer(NewRandomKey())
	require.NoError(t, err)
	m := New(labels.MustParse("svc::a"))
	h1, err := sealer.Seal(m)
	require.NoError(t, err)
	h2, err := sealer.Seal(m)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestOpenRejectsForeignAndTampered(t *testing.T) {
	s1, _ := NewSealer(NewRandomKey())
	s2, _ := NewSealer(NewRandomKey())
	m := New(labels.MustParse("svc::a"))
	header, err := s1.Seal(m)
	require.NoError(t, err)

	_, err = s2.Open(header)
	assert.Error(t, err)

	_, err = s1.Open("not base64 !!!")
	assert.Error(t, err)
	_, err = s1.Open("AAAA")
	assert.Error(t, err)
}

func TestBadKeyLength(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.Error(t, err)
}
