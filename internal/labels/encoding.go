package labels

import "strings"

// MarshalBinary encodes the label as its text form; used by the binary wire
// codecs.
func (l Label) MarshalBinary() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalBinary decodes a label from its text form.
func (l *Label) UnmarshalBinary(b []byte) error {
	return l.UnmarshalText(b)
}

// MarshalBinary encodes the set as newline-joined label text. Labels cannot
// contain newlines, so the encoding is unambiguous.
func (s *Set) MarshalBinary() ([]byte, error) {
	parts := make([]string, len(s.labels))
	for i, l := range s.labels {
		parts[i] = l.String()
	}
	return []byte(strings.Join(parts, "\n")), nil
}

// UnmarshalBinary decodes a newline-joined label set.
func (s *Set) UnmarshalBinary(b []byte) error {
	s.labels = nil
	if len(b) == 0 {
		return nil
	}
	for _, part := range strings.Split(string(b), "\n") {
		l, err := Parse(part)
		if err != nil {
			return err
		}
		s.Insert(l)
	}
	return nil
}
