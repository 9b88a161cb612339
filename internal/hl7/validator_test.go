package hl7

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCleanMessage(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	valid, issues := Validate(msg)
	assert.True(t, valid, "unexpected issues: %v", issues)
	assert.True(t, msg.IsValid)
	assert.Empty(t, msg.ValidationErrors)
}

func TestValidateDuplicateMSH(t *testing.T) {
	raw := sampleADT + "\rMSH|^~\\&|A|B|C|D|20230101120000||ADT^A01|999|P|2.5"
	msg, err := Parse(raw)
	require.NoError(t, err)

	valid, issues := Validate(msg)
	assert.False(t, valid)
	assertHasRule(t, issues, "cardinality")
}

func TestValidateMSHRequiredFields(t *testing.T) {
	// MSH-10 (control id) and MSH-11 (processing id) left empty.
	msg, err := Parse("MSH|^~\\&|A|B|C|D|20230101120000||ADT^A01|||2.5\rEVN|A01|20230101120000")
	require.NoError(t, err)

	valid, issues := Validate(msg)
	assert.False(t, valid)

	var messages []string
	for _, issue := range issues {
		messages = append(messages, issue.Message)
	}
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "MSH-10")
	assert.Contains(t, joined, "MSH-11")
}

func TestValidateEncodingCharacters(t *testing.T) {
	msg, err := Parse("MSH|^~\\&X|A|B|C|D|20230101120000||ADT^A01|12345|P|2.5")
	require.NoError(t, err)

	// A 5-character MSH-2 shifts the delimiter read but must still be
	// reported as a header violation.
	_, issues := Validate(msg)
	found := false
	for _, issue := range issues {
		if issue.Location == "MSH-2" {
			found = true
		}
	}
	assert.True(t, found, "expected an MSH-2 issue, got %v", issues)
}

func TestValidatePIDRequiredFields(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20230101120000||ADT^A01|12345|P|2.5\rPID|1"
	msg, err := Parse(raw)
	require.NoError(t, err)

	valid, issues := Validate(msg)
	assert.False(t, valid)

	locations := make(map[string]bool)
	for _, issue := range issues {
		locations[issue.Location] = true
	}
	assert.True(t, locations["PID-3"])
	assert.True(t, locations["PID-5"])
}

func TestValidateEVNRequiredFields(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20230101120000||ADT^A01|12345|P|2.5\rEVN"
	msg, err := Parse(raw)
	require.NoError(t, err)

	valid, issues := Validate(msg)
	assert.False(t, valid)

	locations := make(map[string]bool)
	for _, issue := range issues {
		locations[issue.Location] = true
	}
	assert.True(t, locations["EVN-1"])
	assert.True(t, locations["EVN-2"])
}

func TestValidateMessageTypeMismatch(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	// Mismatches are reported, never auto-corrected.
	msg.Type = MessageTypeORUR01
	valid, issues := Validate(msg)
	assert.False(t, valid)
	assertHasRule(t, issues, "crossfield")
	assert.Equal(t, MessageTypeORUR01, msg.Type)
}

func TestValidateIsPure(t *testing.T) {
	msg, err := Parse("MSH|^~\\&|A|B|C|D|20230101120000||ADT^A01|||2.5")
	require.NoError(t, err)

	_, first := Validate(msg)
	_, second := Validate(msg)
	assert.Equal(t, len(first), len(second), "repeated calls must not accumulate state")
}

func TestValidateNilMessage(t *testing.T) {
	valid, issues := Validate(nil)
	assert.False(t, valid)
	require.Len(t, issues, 1)
}

func TestThrowIfInvalid(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)
	assert.NoError(t, ThrowIfInvalid(msg))

	bad, err := Parse("EVN|A01|20230101120000")
	require.NoError(t, err)

	verr := ThrowIfInvalid(bad)
	require.Error(t, verr)
	var typed *ValidationError
	require.ErrorAs(t, verr, &typed)
	assert.NotEmpty(t, typed.Errors)
}

func assertHasRule(t *testing.T, issues []Issue, rule string) {
	t.Helper()
	for _, issue := range issues {
		if issue.Rule == rule {
			return
		}
	}
	t.Errorf("expected an issue with rule %q, got %v", rule, issues)
}
