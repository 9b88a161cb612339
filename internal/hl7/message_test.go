package hl7

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentSetFieldKeepsOrder(t *testing.T) {
	seg := &Segment{Type: "PID"}
	seg.SetField(5, "Doe^Jane", DefaultDelimiters)
	seg.SetField(3, "123", DefaultDelimiters)
	seg.SetField(8, "F", DefaultDelimiters)

	require.Len(t, seg.Fields, 3)
	assert.Equal(t, 3, seg.Fields[0].Position)
	assert.Equal(t, 5, seg.Fields[1].Position)
	assert.Equal(t, 8, seg.Fields[2].Position)
}

func TestSegmentRebuildSparseFields(t *testing.T) {
	seg := &Segment{Type: "PID"}
	seg.SetField(3, "123", DefaultDelimiters)
	seg.SetField(5, "Doe^Jane", DefaultDelimiters)

	raw := seg.RebuildRawData(DefaultDelimiters)
	assert.Equal(t, "PID|||123||Doe^Jane", raw)
}

func TestMessageRebuildRawData(t *testing.T) {
	msg := NewMessage()

	msh := &Segment{Type: "MSH"}
	msh.SetField(1, "|", msg.Delimiters)
	msh.SetField(2, `^~\&`, msg.Delimiters)
	msh.SetField(3, "APP", msg.Delimiters)
	msg.AddSegment(msh)

	pid := &Segment{Type: "PID"}
	pid.SetField(3, "123", msg.Delimiters)
	msg.AddSegment(pid)

	raw := msg.RebuildRawData()
	assert.Equal(t, "MSH|^~\\&|APP\rPID|||123", raw)
	assert.Equal(t, raw, msg.RawMessage)
	assert.Equal(t, 1, msh.SequenceNumber)
	assert.Equal(t, 2, pid.SequenceNumber)
}

func TestGetSegmentMissing(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	assert.Nil(t, msg.GetSegment("ZZZ"))
	assert.Empty(t, msg.GetSegments("ZZZ"))
	assert.False(t, msg.HasSegment("ZZZ"))
	assert.True(t, msg.HasSegment("PID"))
}

func TestMessageTypeFromCode(t *testing.T) {
	d := DefaultDelimiters
	assert.Equal(t, MessageTypeADTA01, MessageTypeFromCode("ADT^A01", d))
	assert.Equal(t, MessageTypeADTA01, MessageTypeFromCode("ADT^A01^ADT_A01", d))
	assert.Equal(t, MessageTypeORUR01, MessageTypeFromCode("ORU^R01", d))
	assert.Equal(t, MessageTypeACK, MessageTypeFromCode("ACK", d))
	assert.Equal(t, MessageTypeUnknown, MessageTypeFromCode("XXX^Y01", d))
	assert.Equal(t, MessageTypeUnknown, MessageTypeFromCode("", d))
	assert.Equal(t, "ADT_A01", MessageTypeADTA01.String())
	assert.Equal(t, "Unknown", MessageTypeUnknown.String())
}
