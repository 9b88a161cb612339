package hl7

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleADT = "MSH|^~\\&|SENDAPP|SENDFAC|RECVAPP|RECVFAC|20230101120000||ADT^A01|12345|P|2.5\r" +
	"EVN|A01|20230101120000\r" +
	"PID|1||12345^^^MRN||Doe^John^M||19800101|M\r" +
	"PV1|1|I|ICU^1^2"

func TestParseHeaderExtraction(t *testing.T) {
	msg, err := Parse("MSH|^~\\&|A|B|C|D|20230101120000||ADT^A01|12345|P|2.5")
	require.NoError(t, err)

	assert.Equal(t, MessageTypeADTA01, msg.Type)
	assert.Equal(t, "2.5", msg.Version)
	assert.Equal(t, "12345", msg.MessageControlID)
	assert.Equal(t, "A", msg.SendingApplication)
	assert.Equal(t, "B", msg.SendingFacility)
	assert.Equal(t, "C", msg.ReceivingApplication)
	assert.Equal(t, "D", msg.ReceivingFacility)
	assert.Equal(t, "P", msg.ProcessingID)
	assert.Equal(t, time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC), msg.Timestamp)
}

func TestParseEmptyInput(t *testing.T) {
	_, err := Parse("   \r\n  ")
	require.Error(t, err)
	assert.True(t, IsProcessingError(err, KindEmptyInput))
}

func TestParseSegmentTooShort(t *testing.T) {
	_, err := Parse(sampleADT + "\rXX")
	require.Error(t, err)
	assert.True(t, IsProcessingError(err, KindSegmentTooShort))
}

func TestParseInvalidSegmentType(t *testing.T) {
	_, err := Parse(sampleADT + "\rP-1|x")
	require.Error(t, err)
	assert.True(t, IsProcessingError(err, KindInvalidSegmentType))
}

func TestParseMissingMSH(t *testing.T) {
	msg, err := Parse("EVN|A01|20230101120000\rPID|1||123||Doe^Jane")
	require.NoError(t, err)

	assert.False(t, msg.IsValid)
	found := false
	for _, e := range msg.ValidationErrors {
		if strings.Contains(e, "MSH") {
			found = true
			break
		}
	}
	assert.True(t, found, "expected an MSH-required validation error, got %v", msg.ValidationErrors)
	assert.Empty(t, msg.MessageControlID)
	assert.Equal(t, MessageTypeUnknown, msg.Type)
}

func TestParseUnknownMessageType(t *testing.T) {
	msg, err := Parse("MSH|^~\\&|A|B|C|D|20230101120000||XXX^Y01|12345|P|2.5")
	require.NoError(t, err)
	assert.Equal(t, MessageTypeUnknown, msg.Type)
}

func TestParseMixedLineSeparators(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20230101120000||ADT^A01|12345|P|2.5\r\nEVN|A01|20230101120000\nPID|1||123||Doe^Jane"
	msg, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, msg.Segments, 3)
	assert.Equal(t, "MSH", msg.Segments[0].Type)
	assert.Equal(t, "EVN", msg.Segments[1].Type)
	assert.Equal(t, "PID", msg.Segments[2].Type)
}

func TestParseRepeatedSegments(t *testing.T) {
	raw := sampleADT + "\rAL1|1||^Penicillin\rAL1|2||^Latex"
	msg, err := Parse(raw)
	require.NoError(t, err)

	al1 := msg.GetSegments("AL1")
	require.Len(t, al1, 2)
	assert.Equal(t, "1", al1[0].FieldValue(1))
	assert.Equal(t, "2", al1[1].FieldValue(1))
}

func TestParseComponentsAndSubComponents(t *testing.T) {
	msg, err := Parse(sampleADT + "\rOBX|1|NM|GLU^Glucose&Serum||105|mg/dL")
	require.NoError(t, err)

	obx := msg.GetSegment("OBX")
	require.NotNil(t, obx)

	f := obx.GetField(3)
	require.NotNil(t, f)
	assert.Equal(t, "GLU", f.GetComponent(1))
	assert.Equal(t, "Glucose&Serum", f.GetComponent(2))

	comp := &f.Components[1]
	assert.Equal(t, "Glucose", comp.GetSubComponent(1))
	assert.Equal(t, "Serum", comp.GetSubComponent(2))
}

func TestFieldWithoutComponentsDegrades(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	pid := msg.GetSegment("PID")
	require.NotNil(t, pid)
	f := pid.GetField(1)
	require.NotNil(t, f)
	assert.Equal(t, "1", f.GetComponent(1))
	assert.Equal(t, "", f.GetComponent(2))
}

func TestParseCustomDelimiters(t *testing.T) {
	msg, err := Parse("MSH|*~\\#|A|B|C|D|20230101120000||ADT^A01|12345|P|2.5\rPID|1||id*m1#m2||Doe*Jane")
	require.NoError(t, err)

	assert.Equal(t, byte('*'), msg.Delimiters.Component)
	assert.Equal(t, byte('#'), msg.Delimiters.SubComponent)

	pid := msg.GetSegment("PID")
	require.NotNil(t, pid)
	assert.Equal(t, "Doe", pid.GetField(5).GetComponent(1))
	assert.Equal(t, "Jane", pid.GetField(5).GetComponent(2))

	f3 := pid.GetField(3)
	require.Len(t, f3.Components, 2)
	assert.Equal(t, "m1", f3.Components[1].GetSubComponent(1))
	assert.Equal(t, "m2", f3.Components[1].GetSubComponent(2))
}

func TestParseBadTimestampIsValidationErrorNotFatal(t *testing.T) {
	before := time.Now()
	msg, err := Parse("MSH|^~\\&|A|B|C|D|2023AB||ADT^A01|12345|P|2.5")
	require.NoError(t, err)

	assert.False(t, msg.IsValid)
	assert.NotEmpty(t, msg.ValidationErrors)
	// Falls back to parse time.
	assert.False(t, msg.Timestamp.Before(before))
}

func TestTryParse(t *testing.T) {
	ok, msg := TryParse(sampleADT)
	assert.True(t, ok)
	assert.NotNil(t, msg)

	ok, msg = TryParse("")
	assert.False(t, ok)
	assert.Nil(t, msg)
}

func TestSerializeNilMessage(t *testing.T) {
	_, err := Serialize(nil)
	require.Error(t, err)
	assert.True(t, IsProcessingError(err, KindNullMessage))
}

func TestRoundTrip(t *testing.T) {
	first, err := Parse(sampleADT)
	require.NoError(t, err)

	out, err := Serialize(first)
	require.NoError(t, err)

	second, err := Parse(out)
	require.NoError(t, err)

	require.Len(t, second.Segments, len(first.Segments))
	for i := range first.Segments {
		a, b := first.Segments[i], second.Segments[i]
		assert.Equal(t, a.Type, b.Type)
		require.Len(t, b.Fields, len(a.Fields))
		for j := range a.Fields {
			assert.Equal(t, a.Fields[j].Position, b.Fields[j].Position)
			assert.Equal(t, a.Fields[j].Value, b.Fields[j].Value)
		}
	}
}

func TestRebuildAfterFieldMutation(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	pid := msg.GetSegment("PID")
	pid.SetField(5, "Smith^Anna", msg.Delimiters)

	out, err := Serialize(msg)
	require.NoError(t, err)
	assert.Contains(t, out, "Smith^Anna")

	reparsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "Anna", reparsed.GetSegment("PID").GetField(5).GetComponent(2))
}

func TestParseTimestampVariants(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"20230101", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2023010112", time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"202301011230", time.Date(2023, 1, 1, 12, 30, 0, 0, time.UTC)},
		{"20230101123045", time.Date(2023, 1, 1, 12, 30, 45, 0, time.UTC)},
		{"20230101123045+0300", time.Date(2023, 1, 1, 12, 30, 45, 0, time.UTC)},
		{"20230101123045-0500", time.Date(2023, 1, 1, 12, 30, 45, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseTimestamp("2023")
	assert.Error(t, err)
	_, err = ParseTimestamp("banana")
	assert.Error(t, err)
}

func TestFieldByPath(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	v, ok := msg.FieldByPath("PID-5")
	assert.True(t, ok)
	assert.Equal(t, "Doe^John^M", v)

	v, ok = msg.FieldByPath("PID-5.2")
	assert.True(t, ok)
	assert.Equal(t, "John", v)

	_, ok = msg.FieldByPath("ZZZ-1")
	assert.False(t, ok)
	_, ok = msg.FieldByPath("PID-99")
	assert.False(t, ok)
	_, ok = msg.FieldByPath("garbage")
	assert.False(t, ok)
}
