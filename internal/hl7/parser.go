package hl7

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const headerSegment = "MSH"

// Parse turns raw HL7 v2 text into a Message tree. Only malformed input is
// an error (empty text, no segments, a line under three characters, a
// non-alphanumeric type code); semantic problems are accumulated on the
// message as validation errors instead.
func Parse(raw string) (*Message, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, newProcessingError(KindEmptyInput, "message text is empty")
	}

	lines := splitSegmentLines(raw)
	if len(lines) == 0 {
		return nil, newProcessingError(KindNoSegments, "no segments found in message")
	}

	msg := &Message{
		ID:         uuid.New().String(),
		Type:       MessageTypeUnknown,
		RawMessage: raw,
		Delimiters: readDelimiters(lines[0]),
		Metadata:   make(map[string]string),
	}

	for i, line := range lines {
		seg, err := parseSegment(line, i+1, msg.Delimiters)
		if err != nil {
			return nil, err
		}
		msg.Segments = append(msg.Segments, seg)
	}

	var parseIssues []string
	if msh := msg.GetSegment(headerSegment); msh != nil {
		parseIssues = extractHeader(msg, msh)
	} else {
		msg.Timestamp = time.Now()
	}

	// Validation is the last parse step; failures are recorded, not thrown.
	_, issues := Validate(msg)
	for _, issue := range issues {
		if issue.Type == IssueError {
			parseIssues = append(parseIssues, issue.Message)
		}
	}
	msg.ValidationErrors = parseIssues
	msg.IsValid = len(parseIssues) == 0

	return msg, nil
}

// TryParse is the non-throwing wrapper around Parse.
func TryParse(raw string) (bool, *Message) {
	msg, err := Parse(raw)
	if err != nil {
		return false, nil
	}
	return true, msg
}

// Serialize rebuilds every segment from its current fields and joins them
// with \r, suitable for re-framing by the transport layer.
func Serialize(msg *Message) (string, error) {
	if msg == nil {
		return "", newProcessingError(KindNullMessage, "cannot serialize a nil message")
	}
	return msg.RebuildRawData(), nil
}

// splitSegmentLines accepts \r\n, \r, or \n interchangeably, tolerating
// mixed separators in one message, and drops blank lines.
func splitSegmentLines(raw string) []string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\r")
	normalized = strings.ReplaceAll(normalized, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(normalized, "\r") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// readDelimiters picks the delimiter set off the MSH header when present,
// otherwise falls back to the standard |^~\& set.
func readDelimiters(first string) Delimiters {
	d := DefaultDelimiters
	if !strings.HasPrefix(first, headerSegment) {
		return d
	}
	if len(first) > 3 {
		d.Field = first[3]
	}
	if len(first) >= 8 {
		d.Component = first[4]
		d.Repeat = first[5]
		d.Escape = first[6]
		d.SubComponent = first[7]
	}
	return d
}

func parseSegment(line string, seq int, d Delimiters) (*Segment, error) {
	if len(line) < 3 {
		err := newProcessingError(KindSegmentTooShort,
			fmt.Sprintf("segment line %q is under 3 characters", line))
		err.Segment = line
		return nil, err
	}

	segType := line[:3]
	if !isAlphanumeric(segType) {
		err := newProcessingError(KindInvalidSegmentType,
			fmt.Sprintf("segment type %q is not alphanumeric", segType))
		err.Segment = segType
		return nil, err
	}

	seg := &Segment{
		Type:           segType,
		SequenceNumber: seq,
		RawData:        line,
	}

	if len(line) <= 3 {
		return seg, nil
	}

	rest := line[3:]
	if rest[0] != d.Field {
		// No recognizable field separator after the type code; keep the
		// remainder as a single opaque field.
		seg.Fields = append(seg.Fields, &Field{Position: 1, Value: rest, RawData: rest})
		return seg, nil
	}
	rest = rest[1:]

	tokens := strings.Split(rest, string(d.Field))
	if segType == headerSegment {
		// MSH-1 is the field separator itself and MSH-2 the encoding
		// characters; neither is split into components.
		seg.Fields = append(seg.Fields, &Field{
			Position: 1,
			Value:    string(d.Field),
			RawData:  string(d.Field),
		})
		for i, tok := range tokens {
			f := &Field{Position: i + 2, Value: tok, RawData: tok}
			if f.Position > 2 {
				f.Components = splitComponents(tok, d)
			}
			seg.Fields = append(seg.Fields, f)
		}
		return seg, nil
	}

	for i, tok := range tokens {
		seg.Fields = append(seg.Fields, &Field{
			Position:   i + 1,
			Value:      tok,
			RawData:    tok,
			Components: splitComponents(tok, d),
		})
	}
	return seg, nil
}

// splitComponents populates the component level only when the value
// actually contains the component delimiter.
func splitComponents(value string, d Delimiters) []Component {
	if !strings.Contains(value, string(d.Component)) {
		return nil
	}
	parts := strings.Split(value, string(d.Component))
	comps := make([]Component, len(parts))
	for i, part := range parts {
		comps[i] = Component{Position: i + 1, Value: part}
		if strings.Contains(part, string(d.SubComponent)) {
			subs := strings.Split(part, string(d.SubComponent))
			comps[i].SubComponents = make([]SubComponent, len(subs))
			for j, sub := range subs {
				comps[i].SubComponents[j] = SubComponent{Position: j + 1, Value: sub}
			}
		}
	}
	return comps
}

// extractHeader pulls the routing metadata out of the MSH segment. It never
// fails; malformed values are reported as validation errors.
func extractHeader(msg *Message, msh *Segment) []string {
	var issues []string

	msg.SendingApplication = msh.FieldValue(3)
	msg.SendingFacility = msh.FieldValue(4)
	msg.ReceivingApplication = msh.FieldValue(5)
	msg.ReceivingFacility = msh.FieldValue(6)
	msg.MessageControlID = msh.FieldValue(10)
	msg.ProcessingID = msh.FieldValue(11)
	msg.Version = msh.FieldValue(12)
	msg.Type = MessageTypeFromCode(msh.FieldValue(9), msg.Delimiters)

	if raw := msh.FieldValue(7); raw != "" {
		ts, err := ParseTimestamp(raw)
		if err != nil {
			issues = append(issues, fmt.Sprintf("MSH-7: invalid message timestamp %q", raw))
			msg.Timestamp = time.Now()
		} else {
			msg.Timestamp = ts
		}
	} else {
		msg.Timestamp = time.Now()
	}

	return issues
}

// ParseTimestamp accepts the permissive HL7 prefix YYYY[MM[DD[HH[MM[SS]]]]]
// (minimum 8 digits = date only) and ignores any trailing +/- timezone
// offset suffix.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "+-"); i > 0 {
		s = s[:i]
	}

	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	s = s[:digits]

	if len(s) > 14 {
		s = s[:14]
	}
	// Truncate odd lengths down to the last complete date/time part.
	if len(s)%2 != 0 {
		s = s[:len(s)-1]
	}

	switch len(s) {
	case 8:
		return time.Parse("20060102", s)
	case 10:
		return time.Parse("2006010215", s)
	case 12:
		return time.Parse("200601021504", s)
	case 14:
		return time.Parse("20060102150405", s)
	default:
		return time.Time{}, fmt.Errorf("hl7: unrecognized timestamp %q", s)
	}
}

func isAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return len(s) > 0
}
