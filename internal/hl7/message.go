package hl7

import (
	"strconv"
	"strings"
	"time"
)

// Delimiters holds the control characters used by one message. MSH-2
// re-parameterizes everything except the field separator, which is read
// from the byte directly after "MSH".
type Delimiters struct {
	Field        byte
	Component    byte
	Repeat       byte
	Escape       byte
	SubComponent byte
}

// DefaultDelimiters is the standard HL7 v2 set: |^~\&
var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repeat:       '~',
	Escape:       '\\',
	SubComponent: '&',
}

// SubComponent is the deepest level of the grammar tree.
type SubComponent struct {
	Position int
	Value    string
}

// Component is one ^-delimited part of a field. SubComponents is only
// populated when the raw value contains the sub-component delimiter.
type Component struct {
	Position      int
	Value         string
	SubComponents []SubComponent
}

// GetSubComponent returns the 1-based sub-component value. A component
// without sub-components degrades to n==1 -> Value.
func (c *Component) GetSubComponent(n int) string {
	if len(c.SubComponents) == 0 {
		if n == 1 {
			return c.Value
		}
		return ""
	}
	for i := range c.SubComponents {
		if c.SubComponents[i].Position == n {
			return c.SubComponents[i].Value
		}
	}
	return ""
}

// Field is one |-delimited part of a segment, keyed by 1-based position.
// Positions may be sparse; a missing position means an absent field.
type Field struct {
	Position   int
	Value      string
	Components []Component
	RawData    string
	IsRequired bool
	MaxLength  int
	DataType   string
}

// GetComponent returns the 1-based component value. A field without
// components degrades to n==1 -> Value.
func (f *Field) GetComponent(n int) string {
	if len(f.Components) == 0 {
		if n == 1 {
			return f.Value
		}
		return ""
	}
	for i := range f.Components {
		if f.Components[i].Position == n {
			return f.Components[i].Value
		}
	}
	return ""
}

// Segment is one line of a message: a 3-character type code followed by
// delimited fields.
type Segment struct {
	Type           string
	SequenceNumber int
	RawData        string
	Fields         []*Field
	IsRequired     bool
	MaxOccurrences int
}

// GetField returns the field at the given 1-based position, or nil if the
// position is absent.
func (s *Segment) GetField(n int) *Field {
	for _, f := range s.Fields {
		if f.Position == n {
			return f
		}
	}
	return nil
}

// FieldValue returns the field value at the given position, or "" when the
// field is absent.
func (s *Segment) FieldValue(n int) string {
	if f := s.GetField(n); f != nil {
		return f.Value
	}
	return ""
}

// SetField replaces or inserts a field value at the given position, keeping
// Fields ordered by position. Used when constructing messages for
// serialization; the component tree is rebuilt from the value.
func (s *Segment) SetField(n int, value string, d Delimiters) {
	f := s.GetField(n)
	if f == nil {
		f = &Field{Position: n}
		idx := len(s.Fields)
		for i := range s.Fields {
			if s.Fields[i].Position > n {
				idx = i
				break
			}
		}
		s.Fields = append(s.Fields, nil)
		copy(s.Fields[idx+1:], s.Fields[idx:])
		s.Fields[idx] = f
	}
	f.Value = value
	f.RawData = value
	// MSH-1 and MSH-2 carry the delimiters themselves and are never split.
	if s.Type == headerSegment && n <= 2 {
		f.Components = nil
	} else {
		f.Components = splitComponents(value, d)
	}
}

// RebuildRawData re-serializes the segment from its current fields using
// the given delimiter set, and refreshes RawData.
func (s *Segment) RebuildRawData(d Delimiters) string {
	fs := string(d.Field)

	max := 0
	for _, f := range s.Fields {
		if f.Position > max {
			max = f.Position
		}
	}

	var b strings.Builder
	b.WriteString(s.Type)

	// MSH-1 is the field separator itself; rendering starts at field 2.
	start := 1
	if s.Type == headerSegment {
		start = 2
	}

	for n := start; n <= max; n++ {
		b.WriteString(fs)
		if f := s.GetField(n); f != nil {
			b.WriteString(renderField(f, d))
		}
	}

	s.RawData = b.String()
	return s.RawData
}

func renderField(f *Field, d Delimiters) string {
	if len(f.Components) == 0 {
		return f.Value
	}
	max := 0
	for i := range f.Components {
		if f.Components[i].Position > max {
			max = f.Components[i].Position
		}
	}
	parts := make([]string, max)
	for i := range f.Components {
		c := &f.Components[i]
		parts[c.Position-1] = renderComponent(c, d)
	}
	return strings.Join(parts, string(d.Component))
}

func renderComponent(c *Component, d Delimiters) string {
	if len(c.SubComponents) == 0 {
		return c.Value
	}
	max := 0
	for i := range c.SubComponents {
		if c.SubComponents[i].Position > max {
			max = c.SubComponents[i].Position
		}
	}
	parts := make([]string, max)
	for i := range c.SubComponents {
		parts[c.SubComponents[i].Position-1] = c.SubComponents[i].Value
	}
	return strings.Join(parts, string(d.SubComponent))
}

// Message is the root of the grammar tree. Segment order is preserved for
// re-serialization; lookup by type ignores position.
type Message struct {
	ID         string
	Type       MessageType
	Version    string
	RawMessage string
	Segments   []*Segment
	Delimiters Delimiters

	SendingApplication   string
	SendingFacility      string
	ReceivingApplication string
	ReceivingFacility    string
	MessageControlID     string
	ProcessingID         string
	Timestamp            time.Time

	IsValid          bool
	ValidationErrors []string
	Metadata         map[string]string
}

// NewMessage returns an empty message with default delimiters, ready to be
// populated by an adapter and serialized.
func NewMessage() *Message {
	return &Message{
		Type:       MessageTypeUnknown,
		Delimiters: DefaultDelimiters,
		Metadata:   make(map[string]string),
	}
}

// GetSegment returns the first segment of the given type, or nil.
func (m *Message) GetSegment(segType string) *Segment {
	for _, s := range m.Segments {
		if s.Type == segType {
			return s
		}
	}
	return nil
}

// GetSegments returns all segments of the given type in insertion order.
func (m *Message) GetSegments(segType string) []*Segment {
	var out []*Segment
	for _, s := range m.Segments {
		if s.Type == segType {
			out = append(out, s)
		}
	}
	return out
}

// HasSegment reports whether at least one segment of the given type exists.
func (m *Message) HasSegment(segType string) bool {
	return m.GetSegment(segType) != nil
}

// AddSegment appends a segment and assigns its sequence number.
func (m *Message) AddSegment(s *Segment) {
	s.SequenceNumber = len(m.Segments) + 1
	m.Segments = append(m.Segments, s)
}

// FieldByPath resolves a "SEG-n" or "SEG-n.c" path against the tree and
// reports whether the addressed field exists. The first matching segment
// of the type wins.
func (m *Message) FieldByPath(path string) (string, bool) {
	seg, field, comp, ok := splitFieldPath(path)
	if !ok {
		return "", false
	}
	s := m.GetSegment(seg)
	if s == nil {
		return "", false
	}
	f := s.GetField(field)
	if f == nil {
		return "", false
	}
	if comp > 0 {
		return f.GetComponent(comp), true
	}
	return f.Value, true
}

// RebuildRawData re-serializes every segment and refreshes RawMessage so
// that the raw text and the tree agree again.
func (m *Message) RebuildRawData() string {
	lines := make([]string, 0, len(m.Segments))
	for _, s := range m.Segments {
		lines = append(lines, s.RebuildRawData(m.Delimiters))
	}
	m.RawMessage = strings.Join(lines, "\r")
	return m.RawMessage
}

// splitFieldPath parses "PID-5" or "PID-5.1" into its parts.
func splitFieldPath(path string) (seg string, field, comp int, ok bool) {
	dash := strings.IndexByte(path, '-')
	if dash != 3 {
		return "", 0, 0, false
	}
	seg = path[:3]
	rest := path[dash+1:]
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		c, err := strconv.Atoi(rest[dot+1:])
		if err != nil || c < 1 {
			return "", 0, 0, false
		}
		comp = c
		rest = rest[:dot]
	}
	f, err := strconv.Atoi(rest)
	if err != nil || f < 1 {
		return "", 0, 0, false
	}
	return seg, f, comp, true
}
