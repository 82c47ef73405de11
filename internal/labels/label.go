// Package labels implements hierarchical, pattern-matchable identifiers.
//
// A label is an ordered sequence of nodes separated by "::". Each node is
// either a literal string or a variable hole: "*" (anonymous) or "<id>"
// (named). Labels address policies, services and hosts throughout the
// control hierarchy; pattern matching with variable capture drives policy
// selection.
package labels

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	nodeAnyRE = regexp.MustCompile(`^<[a-zA-Z][a-zA-Z0-9]*>$`)
	nodeStrRE = regexp.MustCompile(`^[a-zA-Z]([ _+-]?[a-zA-Z0-9])*$`)
)

// Node is one element of a Label. A node with Any set is a variable hole;
// an empty Name means the anonymous hole "*".
type Node struct {
	Any  bool
	Name string
}

// ParseNode parses a single node token.
func ParseNode(s string) (Node, error) {
	switch {
	case s == "*":
		return Node{Any: true}, nil
	case nodeAnyRE.MatchString(s):
		return Node{Any: true, Name: strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")}, nil
	case nodeStrRE.MatchString(s):
		return Node{Name: s}, nil
	default:
		return Node{}, fmt.Errorf("bad label node %q", s)
	}
}

func (n Node) String() string {
	if n.Any {
		if n.Name == "" {
			return "*"
		}
		return "<" + n.Name + ">"
	}
	return n.Name
}

// Str returns the literal string of a non-variable node.
func (n Node) Str() (string, bool) {
	if n.Any {
		return "", false
	}
	return n.Name, true
}

// Var returns the name of a named variable hole.
func (n Node) Var() (string, bool) {
	if n.Any && n.Name != "" {
		return n.Name, true
	}
	return "", false
}

// Label is a sequence of nodes.
type Label struct {
	nodes []Node
}

// Parse parses a "::"-separated label. It fails on any malformed node,
// including the empty string.
func Parse(s string) (Label, error) {
	parts := strings.Split(s, "::")
	nodes := make([]Node, 0, len(parts))
	for _, p := range parts {
		n, err := ParseNode(p)
		if err != nil {
			return Label{}, err
		}
		nodes = append(nodes, n)
	}
	return Label{nodes: nodes}, nil
}

// MustParse parses a label known to be valid; it panics otherwise.
// Intended for constants and tests.
func MustParse(s string) Label {
	l, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return l
}

// FromNodes builds a label from nodes. At least one node is required.
func FromNodes(nodes []Node) (Label, error) {
	if len(nodes) == 0 {
		return Label{}, fmt.Errorf("empty label")
	}
	return Label{nodes: append([]Node(nil), nodes...)}, nil
}

func (l Label) String() string {
	parts := make([]string, len(l.nodes))
	for i, n := range l.nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, "::")
}

// Len returns the number of nodes.
func (l Label) Len() int { return len(l.nodes) }

// IsEmpty reports whether the label has no nodes (the zero value).
func (l Label) IsEmpty() bool { return len(l.nodes) == 0 }

// Get returns the i-th node.
func (l Label) Get(i int) (Node, bool) {
	if i < 0 || i >= len(l.nodes) {
		return Node{}, false
	}
	return l.nodes[i], true
}

// GetString returns the i-th node when it is a literal string.
func (l Label) GetString(i int) (string, bool) {
	n, ok := l.Get(i)
	if !ok {
		return "", false
	}
	return n.Str()
}

// Nodes returns a copy of the node sequence.
func (l Label) Nodes() []Node {
	return append([]Node(nil), l.nodes...)
}

// Parts returns the literal strings of all nodes, or false if any node is a
// variable hole.
func (l Label) Parts() ([]string, bool) {
	parts := make([]string, 0, len(l.nodes))
	for _, n := range l.nodes {
		s, ok := n.Str()
		if !ok {
			return nil, false
		}
		parts = append(parts, s)
	}
	return parts, true
}

// Vars returns the names of all named variable holes, in order.
func (l Label) Vars() []string {
	var vars []string
	for _, n := range l.nodes {
		if v, ok := n.Var(); ok {
			vars = append(vars, v)
		}
	}
	return vars
}

// Prefix returns the label formed by the first n nodes.
func (l Label) Prefix(n int) (Label, bool) {
	if n <= 0 || n > len(l.nodes) {
		return Label{}, false
	}
	return Label{nodes: l.nodes[:n]}, true
}

// Match maps named variable holes to the concrete nodes they captured.
type Match map[string]Node

// Get returns the literal string captured by hole name, if any.
func (m Match) Get(name string) (string, bool) {
	n, ok := m[name]
	if !ok {
		return "", false
	}
	return n.Str()
}

// MatchWith matches the pattern l against other. It returns the capture map,
// or false when lengths differ, a literal node mismatches, or a named hole
// would be bound inconsistently.
func (l Label) MatchWith(other Label) (Match, bool) {
	if len(l.nodes) != len(other.nodes) {
		return nil, false
	}
	m := Match{}
	for i, pat := range l.nodes {
		node := other.nodes[i]
		switch {
		case !pat.Any:
			if node.Any || pat.Name != node.Name {
				return nil, false
			}
		case pat.Name != "":
			if prev, ok := m[pat.Name]; ok {
				if prev != node {
					return nil, false
				}
			} else {
				m[pat.Name] = node
			}
		}
	}
	return m, true
}

// MatchesWith reports whether the pattern l matches other.
func (l Label) MatchesWith(other Label) bool {
	_, ok := l.MatchWith(other)
	return ok
}

// Rebind substitutes a capture map back into the pattern. Named holes with a
// binding are replaced by their captured node; everything else is kept.
func (l Label) Rebind(m Match) Label {
	nodes := make([]Node, len(l.nodes))
	for i, n := range l.nodes {
		if v, ok := n.Var(); ok {
			if b, bound := m[v]; bound {
				nodes[i] = b
				continue
			}
		}
		nodes[i] = n
	}
	return Label{nodes: nodes}
}

// Equal is matching-equivalence: l and other are equal iff each matches the
// other.
func (l Label) Equal(other Label) bool {
	return l.MatchesWith(other) && other.MatchesWith(l)
}

// Compare orders labels lexicographically by node. Variable holes sort
// before literal nodes of the same position.
func (l Label) Compare(other Label) int {
	for i := 0; i < len(l.nodes) && i < len(other.nodes); i++ {
		a, b := l.nodes[i], other.nodes[i]
		if a.Any != b.Any {
			if a.Any {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
	}
	switch {
	case len(l.nodes) < len(other.nodes):
		return -1
	case len(l.nodes) > len(other.nodes):
		return 1
	default:
		return 0
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Set is a set of labels with deterministic iteration order.
type Set struct {
	labels []Label
}

// NewSet builds a set from the given labels.
func NewSet(ls ...Label) *Set {
	s := &Set{}
	for _, l := range ls {
		s.Insert(l)
	}
	return s
}

// Insert adds l; duplicates (by matching-equivalence) are ignored.
func (s *Set) Insert(l Label) {
	if s.Contains(l) {
		return
	}
	s.labels = append(s.labels, l)
	sort.Slice(s.labels, func(i, j int) bool {
		return s.labels[i].Compare(s.labels[j]) < 0
	})
}

// Contains reports whether the set holds a label equal to l.
func (s *Set) Contains(l Label) bool {
	if s == nil {
		return false
	}
	for _, x := range s.labels {
		if x.Equal(l) {
			return true
		}
	}
	return false
}

// HasMatch reports whether pattern matches any member.
func (s *Set) HasMatch(pattern Label) bool {
	if s == nil {
		return false
	}
	for _, x := range s.labels {
		if pattern.MatchesWith(x) {
			return true
		}
	}
	return false
}

// RemoveMatch deletes every member matched by pattern.
func (s *Set) RemoveMatch(pattern Label) {
	if s == nil {
		return
	}
	kept := s.labels[:0]
	for _, x := range s.labels {
		if !pattern.MatchesWith(x) {
			kept = append(kept, x)
		}
	}
	s.labels = kept
}

// All returns the members in order.
func (s *Set) All() []Label {
	if s == nil {
		return nil
	}
	return append([]Label(nil), s.labels...)
}

// Len returns the member count.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.labels)
}

func (s *Set) String() string {
	if s == nil {
		return "{}"
	}
	parts := make([]string, len(s.labels))
	for i, l := range s.labels {
		parts[i] = l.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
