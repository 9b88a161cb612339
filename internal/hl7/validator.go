package hl7

import (
	"fmt"
	"strings"
)

// IssueType distinguishes hard errors from advisory warnings.
type IssueType int

const (
	IssueError IssueType = iota
	IssueWarning
)

func (t IssueType) String() string {
	if t == IssueWarning {
		return "Warning"
	}
	return "Error"
}

// Severity grades an issue for downstream consumers.
type Severity int

const (
	SeverityHigh Severity = iota
	SeverityMedium
	SeverityLow
)

func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "Medium"
	case SeverityLow:
		return "Low"
	default:
		return "High"
	}
}

// Issue is one validation finding, shaped for external services.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Location string    `json:"location"`
	Message  string    `json:"message"`
	Rule     string    `json:"rule"`
}

// mshRequiredFields maps required MSH positions to their HL7 role names.
var mshRequiredFields = []struct {
	position int
	name     string
}{
	{1, "Field Separator"},
	{2, "Encoding Characters"},
	{3, "Sending Application"},
	{5, "Receiving Application"},
	{7, "Date/Time of Message"},
	{9, "Message Type"},
	{10, "Message Control ID"},
	{11, "Processing ID"},
	{12, "Version ID"},
}

// segmentRequiredFields lists per-segment required field checks beyond MSH.
var segmentRequiredFields = map[string][]struct {
	position int
	name     string
}{
	"PID": {
		{3, "Patient Identifier List"},
		{5, "Patient Name"},
	},
	"EVN": {
		{1, "Event Type Code"},
		{2, "Recorded Date/Time"},
	},
}

// Validate runs the full rule set against a message tree and returns every
// finding; it never short-circuits and never mutates the message. Callers
// that want fail-fast semantics wrap it with ThrowIfInvalid.
func Validate(msg *Message) (bool, []Issue) {
	if msg == nil {
		return false, []Issue{{
			Type:     IssueError,
			Severity: SeverityHigh,
			Location: "message",
			Message:  "message is nil",
			Rule:     "structure",
		}}
	}

	var issues []Issue
	issues = append(issues, validateStructure(msg)...)
	issues = append(issues, validateHeader(msg)...)
	issues = append(issues, validateSegments(msg)...)
	issues = append(issues, validateMessageType(msg)...)

	valid := true
	for _, issue := range issues {
		if issue.Type == IssueError {
			valid = false
			break
		}
	}
	return valid, issues
}

// ThrowIfInvalid wraps Validate into a typed error carrying the full error
// list for callers that want fail-fast semantics.
func ThrowIfInvalid(msg *Message) error {
	valid, issues := Validate(msg)
	if valid {
		return nil
	}
	verr := &ValidationError{}
	for _, issue := range issues {
		if issue.Type == IssueError {
			verr.Errors = append(verr.Errors, issue.Message)
		}
	}
	return verr
}

func validateStructure(msg *Message) []Issue {
	var issues []Issue

	if strings.TrimSpace(msg.RawMessage) == "" {
		issues = append(issues, Issue{
			Type: IssueError, Severity: SeverityHigh,
			Location: "message",
			Message:  "raw message is empty",
			Rule:     "structure",
		})
		return issues
	}
	if len(msg.RawMessage) < 8 {
		issues = append(issues, Issue{
			Type: IssueError, Severity: SeverityHigh,
			Location: "message",
			Message:  "raw message is too short to be a valid HL7 message",
			Rule:     "structure",
		})
	}
	if !strings.ContainsAny(msg.RawMessage, "\r\n") {
		issues = append(issues, Issue{
			Type: IssueError, Severity: SeverityMedium,
			Location: "message",
			Message:  "raw message contains no segment separator",
			Rule:     "structure",
		})
	}
	if !strings.Contains(msg.RawMessage, string(msg.Delimiters.Field)) {
		issues = append(issues, Issue{
			Type: IssueError, Severity: SeverityHigh,
			Location: "message",
			Message:  "raw message contains no field separator",
			Rule:     "structure",
		})
	}
	return issues
}

func validateHeader(msg *Message) []Issue {
	var issues []Issue

	headers := msg.GetSegments(headerSegment)
	if len(headers) == 0 {
		issues = append(issues, Issue{
			Type: IssueError, Severity: SeverityHigh,
			Location: "MSH",
			Message:  "required MSH segment is missing",
			Rule:     "header",
		})
		return issues
	}
	if len(headers) > 1 {
		issues = append(issues, Issue{
			Type: IssueError, Severity: SeverityHigh,
			Location: "MSH",
			Message:  fmt.Sprintf("message contains %d MSH segments, expected exactly one", len(headers)),
			Rule:     "cardinality",
		})
	}

	msh := headers[0]
	if len(msh.Fields) < 11 {
		issues = append(issues, Issue{
			Type: IssueError, Severity: SeverityHigh,
			Location: "MSH",
			Message:  fmt.Sprintf("MSH segment has %d fields, expected at least 11", len(msh.Fields)),
			Rule:     "header",
		})
	}

	for _, req := range mshRequiredFields {
		if msh.FieldValue(req.position) == "" {
			issues = append(issues, Issue{
				Type: IssueError, Severity: SeverityHigh,
				Location: fmt.Sprintf("MSH-%d", req.position),
				Message:  fmt.Sprintf("MSH-%d (%s) is required", req.position, req.name),
				Rule:     "header",
			})
		}
	}

	if v := msh.FieldValue(1); v != "" && v != "|" {
		issues = append(issues, Issue{
			Type: IssueError, Severity: SeverityHigh,
			Location: "MSH-1",
			Message:  fmt.Sprintf("MSH-1 must be the | field separator, found %q", v),
			Rule:     "header",
		})
	}
	if v := msh.FieldValue(2); v != "" && len(v) != 4 {
		issues = append(issues, Issue{
			Type: IssueError, Severity: SeverityHigh,
			Location: "MSH-2",
			Message:  fmt.Sprintf("MSH-2 must be exactly 4 encoding characters, found %q", v),
			Rule:     "header",
		})
	}

	return issues
}

func validateSegments(msg *Message) []Issue {
	var issues []Issue

	for _, seg := range msg.Segments {
		if len(seg.Type) != 3 || !isAlphanumeric(seg.Type) {
			issues = append(issues, Issue{
				Type: IssueError, Severity: SeverityHigh,
				Location: seg.Type,
				Message:  fmt.Sprintf("segment type %q must be 3 alphanumeric characters", seg.Type),
				Rule:     "segment",
			})
			continue
		}

		for _, req := range segmentRequiredFields[seg.Type] {
			if seg.FieldValue(req.position) == "" {
				issues = append(issues, Issue{
					Type: IssueError, Severity: SeverityMedium,
					Location: fmt.Sprintf("%s-%d", seg.Type, req.position),
					Message:  fmt.Sprintf("%s-%d (%s) is required", seg.Type, req.position, req.name),
					Rule:     "segment",
				})
			}
		}
	}

	return issues
}

// validateMessageType re-derives the type from MSH-9 and reports a mismatch
// against the message's declared type without auto-correcting it.
func validateMessageType(msg *Message) []Issue {
	msh := msg.GetSegment(headerSegment)
	if msh == nil {
		return nil
	}
	code := msh.FieldValue(9)
	if code == "" {
		return nil
	}
	derived := MessageTypeFromCode(code, msg.Delimiters)
	if derived != msg.Type {
		return []Issue{{
			Type: IssueError, Severity: SeverityMedium,
			Location: "MSH-9",
			Message: fmt.Sprintf("declared message type %s does not match MSH-9 value %q (%s)",
				msg.Type, code, derived),
			Rule: "crossfield",
		}}
	}
	return nil
}
