package hl7

import (
	"fmt"
	"strings"
)

// ErrorKind classifies parse-fatal failures so callers can branch without
// matching error strings.
type ErrorKind int

const (
	// KindEmptyInput means the raw text was empty or whitespace.
	KindEmptyInput ErrorKind = iota
	// KindNoSegments means nothing survived segment splitting.
	KindNoSegments
	// KindSegmentTooShort means a line was under three characters.
	KindSegmentTooShort
	// KindInvalidSegmentType means a type code was not three alphanumerics.
	KindInvalidSegmentType
	// KindNullMessage means a nil message was passed to Serialize.
	KindNullMessage
	// KindArgumentRequired means a required argument was nil.
	KindArgumentRequired
)

func (k ErrorKind) String() string {
	switch k {
	case KindEmptyInput:
		return "empty_input"
	case KindNoSegments:
		return "no_segments"
	case KindSegmentTooShort:
		return "segment_too_short"
	case KindInvalidSegmentType:
		return "invalid_segment_type"
	case KindNullMessage:
		return "null_message"
	case KindArgumentRequired:
		return "argument_required"
	default:
		return "unknown"
	}
}

// ProcessingError is the parse-fatal error tier. It carries whatever
// message/segment/field context was known when the failure occurred.
type ProcessingError struct {
	Kind        ErrorKind
	MessageType MessageType
	Segment     string
	Field       int
	Detail      string
}

func (e *ProcessingError) Error() string {
	var b strings.Builder
	b.WriteString("hl7: ")
	b.WriteString(e.Kind.String())
	if e.Segment != "" {
		fmt.Fprintf(&b, " [segment %s", e.Segment)
		if e.Field > 0 {
			fmt.Fprintf(&b, " field %d", e.Field)
		}
		b.WriteString("]")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func newProcessingError(kind ErrorKind, detail string) *ProcessingError {
	return &ProcessingError{Kind: kind, Detail: detail}
}

// NewProcessingError builds a ProcessingError for the packages layered on
// top of the grammar model.
func NewProcessingError(kind ErrorKind, detail string) *ProcessingError {
	return newProcessingError(kind, detail)
}

// IsProcessingError reports whether err is a ProcessingError of the given
// kind anywhere in its chain.
func IsProcessingError(err error, kind ErrorKind) bool {
	var pe *ProcessingError
	for err != nil {
		if p, ok := err.(*ProcessingError); ok {
			pe = p
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return pe != nil && pe.Kind == kind
}

// ValidationError is the fail-fast wrapper around accumulated validation
// issues, raised only by ThrowIfInvalid.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("hl7: message failed validation (%d errors): %s",
		len(e.Errors), strings.Join(e.Errors, "; "))
}
