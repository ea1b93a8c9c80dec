package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Delimiters are the separator characters declared in MSH-1 and MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultDelimiters are the conventional "|^~\&" separators.
var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	Subcomponent: '&',
}

// Message is a parsed HL7 v2 message.
type Message struct {
	Type         string    // MSH-9, e.g. "ADT^A01"
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Delimiters   Delimiters
	Segments     []Segment
}

// Segment is one segment line.
type Segment struct {
	Name   string
	Fields []Field
}

// Field holds the raw value plus its components and repetitions.
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse parses a raw message. Segments may be separated by \r, \n or \r\n.
// Field, component and repetition separators are taken from the MSH header
// rather than assumed.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	delims, err := readDelimiters(lines[0])
	if err != nil {
		return nil, err
	}

	msg := &Message{Delimiters: delims}
	for i, line := range lines {
		seg, err := parseSegment(line, delims)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: segment %d: %w", i+1, err)
		}
		msg.Segments = append(msg.Segments, seg)
	}
	msg.readHeader()
	return msg, nil
}

// readDelimiters reads MSH-1 and MSH-2, falling back to the defaults for any
// encoding character that is not declared.
func readDelimiters(msh string) (Delimiters, error) {
	if len(msh) < 4 {
		return Delimiters{}, fmt.Errorf("hl7v2: MSH segment too short")
	}
	d := DefaultDelimiters
	d.Field = msh[3]

	enc := msh[4:]
	if i := strings.IndexByte(enc, d.Field); i >= 0 {
		enc = enc[:i]
	}
	targets := []*byte{&d.Component, &d.Repetition, &d.Escape, &d.Subcomponent}
	for i := 0; i < len(enc) && i < len(targets); i++ {
		*targets[i] = enc[i]
	}
	if d.Component == d.Field || d.Repetition == d.Field {
		return Delimiters{}, fmt.Errorf("hl7v2: encoding characters %q clash with field separator %q", enc, d.Field)
	}
	return d, nil
}

func parseSegment(line string, d Delimiters) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}
	sep := string(d.Field)

	if strings.HasPrefix(line, "MSH") {
		// MSH-1 is the field separator itself and MSH-2 holds the encoding
		// characters verbatim, so neither is split.
		seg := Segment{Name: "MSH", Fields: []Field{{Value: sep, Components: []string{sep}}}}
		if len(line) <= 4 {
			return seg, nil
		}
		parts := strings.Split(line[4:], sep)
		seg.Fields = append(seg.Fields, Field{Value: parts[0], Components: []string{parts[0]}})
		for _, p := range parts[1:] {
			seg.Fields = append(seg.Fields, parseField(p, d))
		}
		return seg, nil
	}

	name, rest, found := strings.Cut(line, sep)
	seg := Segment{Name: name}
	if found {
		for _, p := range strings.Split(rest, sep) {
			seg.Fields = append(seg.Fields, parseField(p, d))
		}
	}
	return seg, nil
}

func parseField(raw string, d Delimiters) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, string(d.Repetition)) {
		f.Repeats = append(f.Repeats, strings.Split(rep, string(d.Component)))
	}
	f.Components = f.Repeats[0]
	return f
}

func (m *Message) readHeader() {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return
	}
	m.SendingApp = msh.GetField(3)
	m.SendingFac = msh.GetField(4)
	m.ReceivingApp = msh.GetField(5)
	m.ReceivingFac = msh.GetField(6)
	if t, err := parseTimestamp(msh.GetField(7)); err == nil {
		m.Timestamp = t
	}
	m.Type = msh.GetField(9)
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetField(12)
}

// parseTimestamp accepts YYYYMMDD[HHMM[SS]] with any trailing precision or
// offset ignored.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp %q", s)
	}
}

// GetSegment returns the first segment named name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns every segment named name.
func (m *Message) GetSegments(name string) []Segment {
	var out []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			out = append(out, seg)
		}
	}
	return out
}

// SegmentCounts returns how often each segment name occurs, keyed by name,
// together with the names in first-seen order.
func (m *Message) SegmentCounts() (map[string]int, []string) {
	counts := make(map[string]int)
	var order []string
	for _, seg := range m.Segments {
		if counts[seg.Name] == 0 {
			order = append(order, seg.Name)
		}
		counts[seg.Name]++
	}
	return counts, order
}

// GetField returns field index (1-based, HL7 numbering). For MSH, index 1 is
// the field separator.
func (s *Segment) GetField(index int) string {
	if index < 1 || index > len(s.Fields) {
		return ""
	}
	return s.Fields[index-1].Value
}

// GetComponent returns component compIdx of field fieldIdx, both 1-based.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	if fieldIdx < 1 || fieldIdx > len(s.Fields) {
		return ""
	}
	comps := s.Fields[fieldIdx-1].Components
	if compIdx < 1 || compIdx > len(comps) {
		return ""
	}
	return comps[compIdx-1]
}
