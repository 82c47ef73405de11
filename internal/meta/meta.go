// Package meta implements the per-evaluation ingress/egress metadata
// side-channel. Egress metadata produced by one hop becomes ingress
// metadata at the next, carried in the AEAD-sealed x-armour HTTP header.
package meta

import (
	"fmt"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/literals"
)

// Meta is one direction's metadata: an optional identity label, a data
// stack and a label set.
type Meta struct {
	ID     *labels.Label `cbor:"i,omitempty"`
	Data   [][]byte      `cbor:"d,omitempty"`
	Labels *labels.Set   `cbor:"l,omitempty"`
}

// New builds metadata carrying an identity label.
func New(id labels.Label) *Meta {
	return &Meta{ID: &id, Labels: labels.NewSet()}
}

func (m *Meta) labelSet() *labels.Set {
	if m.Labels == nil {
		m.Labels = labels.NewSet()
	}
	return m.Labels
}

func (m *Meta) setID(l labels.Label)  { m.ID = &l }
func (m *Meta) pushData(d []byte)     { m.Data = append(m.Data, append([]byte(nil), d...)) }
func (m *Meta) popData() ([]byte, bool) {
	if len(m.Data) == 0 {
		return nil, false
	}
	d := m.Data[len(m.Data)-1]
	m.Data = m.Data[:len(m.Data)-1]
	return d, true
}

func (m *Meta) hasLabel(pattern labels.Label) bool {
	return m.labelSet().HasMatch(pattern)
}

func (m *Meta) wipe() {
	m.ID = nil
	m.Data = nil
	m.Labels = labels.NewSet()
}

// IsEmpty reports whether the metadata carries nothing.
func (m *Meta) IsEmpty() bool {
	return m == nil || (m.ID == nil && len(m.Data) == 0 && m.Labels.Len() == 0)
}

// Equal is deep equality.
func (m *Meta) Equal(other *Meta) bool {
	if m == nil || other == nil {
		return m.IsEmpty() && other.IsEmpty()
	}
	if (m.ID == nil) != (other.ID == nil) {
		return false
	}
	if m.ID != nil && !m.ID.Equal(*other.ID) {
		return false
	}
	if len(m.Data) != len(other.Data) {
		return false
	}
	for i := range m.Data {
		if string(m.Data[i]) != string(other.Data[i]) {
			return false
		}
	}
	a, b := m.Labels.All(), other.Labels.All()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// IngressEgress routes the interpreter's Ingress::/Egress:: operations to a
// pair of Meta values. It lives for exactly one policy evaluation. The type
// checker guarantees ingress is never mutated; the handler itself only
// routes.
type IngressEgress struct {
	ingress  Meta
	egress   Meta
	egressID labels.Label
}

// NewIngressEgress builds the handler for one evaluation. A nil ingress
// starts empty; egressID becomes the identity of outbound metadata.
func NewIngressEgress(ingress *Meta, egressID labels.Label) *IngressEgress {
	h := &IngressEgress{egressID: egressID}
	if ingress != nil {
		h.ingress = *ingress
	}
	return h
}

// Call implements interpret.MetaHandler.
func (h *IngressEgress) Call(module, method string, args []literals.Literal) (literals.Literal, error) {
	var m *Meta
	switch module {
	case "Ingress":
		m = &h.ingress
	case "Egress":
		m = &h.egress
	default:
		return literals.Literal{}, fmt.Errorf("eval: unknown metadata module %q", module)
	}
	switch method {
	case "id":
		if m.ID == nil {
			return literals.None(), nil
		}
		return literals.Some(literals.LabelLit(*m.ID)), nil
	case "data":
		items := make([]literals.Literal, len(m.Data))
		for i, d := range m.Data {
			items[i] = literals.Data(d)
		}
		return literals.List(items), nil
	case "set_id":
		m.setID(h.egressID)
		return literals.Unit(), nil
	case "push":
		d, ok := argData(args)
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: %s::push expects data", module)
		}
		m.pushData(d)
		return literals.Unit(), nil
	case "pop":
		if d, ok := m.popData(); ok {
			return literals.Some(literals.Data(d)), nil
		}
		return literals.None(), nil
	case "add_label":
		l, ok := argLabel(args)
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: %s::add_label expects a label", module)
		}
		m.labelSet().Insert(l)
		return literals.Unit(), nil
	case "remove_label":
		l, ok := argLabel(args)
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: %s::remove_label expects a label", module)
		}
		m.labelSet().RemoveMatch(l)
		return literals.Unit(), nil
	case "has_label":
		l, ok := argLabel(args)
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: %s::has_label expects a label", module)
		}
		return literals.Bool(m.hasLabel(l)), nil
	case "wipe":
		m.wipe()
		return literals.Unit(), nil
	default:
		return literals.Literal{}, fmt.Errorf("eval: unknown metadata call %s::%s", module, method)
	}
}

// Egress finalizes the evaluation's outbound metadata, stamping the egress
// identity. It fails when nothing was recorded, so empty metadata never
// produces an x-armour header.
func (h *IngressEgress) Egress() (*Meta, error) {
	if h.egress.IsEmpty() {
		return nil, fmt.Errorf("empty egress")
	}
	out := h.egress
	out.setID(h.egressID)
	return &out, nil
}

func argData(args []literals.Literal) ([]byte, bool) {
	if len(args) != 1 {
		return nil, false
	}
	return args[0].AsData()
}

func argLabel(args []literals.Literal) (labels.Label, bool) {
	if len(args) != 1 {
		return labels.Label{}, false
	}
	return args[0].AsLabel()
}
