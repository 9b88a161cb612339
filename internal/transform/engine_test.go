package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minasoft/hl7-gateway/internal/hl7"
)

const sampleADT = "MSH|^~\\&|SENDAPP|SENDFAC|RECVAPP|RECVFAC|20230101120000||ADT^A01|12345|P|2.5\r" +
	"EVN|A01|20230101120000\r" +
	"PID|1||12345^^^MRN||Doe^John^M||19800101|M\r" +
	"PV1|1|I|ICU^1^2"

func parseSample(t *testing.T) *hl7.Message {
	t.Helper()
	msg, err := hl7.Parse(sampleADT)
	require.NoError(t, err)
	return msg
}

func TestTransformBasicMappings(t *testing.T) {
	rs := &RuleSet{
		Name:    "demographics",
		Version: "1",
		Mappings: []FieldMapping{
			{SourceField: "PID-5.2", TargetField: "firstName"},
			{SourceField: "PID-5.1", TargetField: "lastName", TransformFunction: "uppercase"},
			{SourceField: "MessageType", TargetField: "messageType"},
			{SourceField: "PID-7", TargetField: "birthDate", DataType: "date"},
			{SourceField: "PID-1", TargetField: "setId", DataType: "int"},
		},
	}

	res, err := NewEngine().Transform(parseSample(t), rs)
	require.NoError(t, err)

	assert.Equal(t, "John", res["firstName"])
	assert.Equal(t, "DOE", res["lastName"])
	assert.Equal(t, "ADT_A01", res["messageType"])
	assert.Equal(t, time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC), res["birthDate"])
	assert.Equal(t, int64(1), res["setId"])
}

func TestTransformNilArguments(t *testing.T) {
	e := NewEngine()

	_, err := e.Transform(nil, &RuleSet{Name: "x"})
	require.Error(t, err)
	assert.True(t, hl7.IsProcessingError(err, hl7.KindArgumentRequired))

	_, err = e.Transform(parseSample(t), nil)
	require.Error(t, err)
	assert.True(t, hl7.IsProcessingError(err, hl7.KindArgumentRequired))
}

func TestTransformDefaultValue(t *testing.T) {
	rs := &RuleSet{
		Name: "defaults",
		Mappings: []FieldMapping{
			{SourceField: "ZZZ-1", TargetField: "withDefault", DefaultValue: "X", IsRequired: true},
			{SourceField: "ZZZ-2", TargetField: "requiredNoDefault", IsRequired: true},
			{SourceField: "ZZZ-3", TargetField: "optionalMissing"},
		},
	}

	res, err := NewEngine().Transform(parseSample(t), rs)
	require.NoError(t, err)

	// The default wins even for a required mapping over a missing field.
	assert.Equal(t, "X", res["withDefault"])

	// Required with no default: silently skipped, not an error.
	_, present := res["requiredNoDefault"]
	assert.False(t, present)

	// Optional missing fields degrade to the empty string.
	assert.Equal(t, "", res["optionalMissing"])
}

func TestTransformConditions(t *testing.T) {
	rs := &RuleSet{
		Name: "conditional",
		Mappings: []FieldMapping{
			{
				SourceField: "PID-5.1",
				TargetField: "admitName",
				Conditions:  []Condition{{Field: "MessageType", Operator: "equals", Value: "ADT_A01"}},
			},
			{
				SourceField: "PID-5.1",
				TargetField: "labName",
				Conditions:  []Condition{{Field: "MessageType", Operator: "equals", Value: "ORU_R01"}},
			},
			{
				SourceField: "PID-5.1",
				TargetField: "bothConditions",
				Conditions: []Condition{
					{Field: "MessageType", Operator: "startswith", Value: "ADT"},
					{Field: "PV1-2", Operator: "notequals", Value: "O"},
				},
			},
		},
	}

	res, err := NewEngine().Transform(parseSample(t), rs)
	require.NoError(t, err)

	assert.Equal(t, "Doe", res["admitName"])
	_, present := res["labName"]
	assert.False(t, present, "failed condition must skip the mapping entirely")
	assert.Equal(t, "Doe", res["bothConditions"])
}

func TestTransformValidationPatternIsAdvisory(t *testing.T) {
	rs := &RuleSet{
		Name: "advisory",
		Mappings: []FieldMapping{
			{SourceField: "PID-5.1", TargetField: "name", ValidationPattern: `^\d+$`},
		},
	}

	res, err := NewEngine().Transform(parseSample(t), rs)
	require.NoError(t, err)

	// Documented leniency: the pattern does not match "Doe" but the value
	// is still written.
	assert.Equal(t, "Doe", res["name"])
}

func TestTransformCustomRules(t *testing.T) {
	rs := &RuleSet{
		Name: "custom",
		Mappings: []FieldMapping{
			{SourceField: "PID-5.2", TargetField: "firstName"},
			{SourceField: "PID-5.1", TargetField: "lastName"},
		},
		CustomRules: []CustomRule{
			{Name: "fullName", RuleType: "fieldtransform", Expression: "{firstName} {lastName}", IsActive: true},
			{Name: "inactive", RuleType: "fieldtransform", Expression: "{firstName}", IsActive: false},
			{Name: "wrongType", RuleType: "validation", Expression: "{firstName}", IsActive: true},
			{
				Name:       "scoped",
				RuleType:   "fieldtransform",
				AppliesTo:  []string{"ORU_R01"},
				Expression: "{lastName}",
				IsActive:   true,
			},
		},
	}

	res, err := NewEngine().Transform(parseSample(t), rs)
	require.NoError(t, err)

	assert.Equal(t, "John Doe", res["fullName"])
	_, present := res["inactive"]
	assert.False(t, present)
	_, present = res["wrongType"]
	assert.False(t, present)
	_, present = res["scoped"]
	assert.False(t, present, "rule scoped to another message type must not fire")
}

func TestTransformCustomFunction(t *testing.T) {
	e := NewEngine()
	e.RegisterFunction("mask", func(s string) string {
		if len(s) <= 2 {
			return s
		}
		return s[:2] + "***"
	})

	rs := &RuleSet{
		Name: "masking",
		Mappings: []FieldMapping{
			{SourceField: "PID-3.1", TargetField: "mrn", TransformFunction: "mask"},
		},
	}

	res, err := e.Transform(parseSample(t), rs)
	require.NoError(t, err)
	assert.Equal(t, "12***", res["mrn"])
}

func TestTransformSegment(t *testing.T) {
	msg := parseSample(t)
	pid := msg.GetSegment("PID")
	require.NotNil(t, pid)

	rs := &RuleSet{
		Name: "segment-scoped",
		Mappings: []FieldMapping{
			{SourceField: "PID-5.1", TargetField: "lastName"},
			{SourceField: "PV1-2", TargetField: "patientClass", IsRequired: true},
		},
	}

	res, err := NewEngine().TransformSegment(pid, rs)
	require.NoError(t, err)

	assert.Equal(t, "Doe", res["lastName"])
	_, present := res["patientClass"]
	assert.False(t, present, "paths outside the segment must not resolve")
}

func TestTransformBatchAndIterator(t *testing.T) {
	e := NewEngine()
	rs := &RuleSet{
		Name:     "batch",
		Mappings: []FieldMapping{{SourceField: "MessageControlID", TargetField: "controlId"}},
	}

	msgs := []*hl7.Message{parseSample(t), parseSample(t), parseSample(t)}

	batch, err := e.TransformBatch(msgs, rs)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for _, res := range batch {
		assert.Equal(t, "12345", res["controlId"])
	}

	it := e.Iterate(msgs, rs)
	count := 0
	for it.Next() {
		assert.Equal(t, "12345", it.Result()["controlId"])
		count++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 3, count)
	assert.NoError(t, it.Close())
	assert.False(t, it.Next())
}

func TestIteratorStopsOnError(t *testing.T) {
	e := NewEngine()
	rs := &RuleSet{Name: "x", Mappings: []FieldMapping{{SourceField: "MessageType", TargetField: "t"}}}

	it := e.Iterate([]*hl7.Message{parseSample(t), nil}, rs)
	assert.True(t, it.Next())
	assert.False(t, it.Next())
	assert.Error(t, it.Err())
}

func TestProject(t *testing.T) {
	type patient struct {
		FirstName string
		LastName  string
		SetID     int64
	}

	res := Result{
		"firstName": "John",
		"lastName":  "Doe",
		"setId":     int64(7),
	}

	table := FieldTable[patient]{
		"firstName": func(p *patient, v any) { p.FirstName = String(v) },
		"lastName":  func(p *patient, v any) { p.LastName = String(v) },
		"setId": func(p *patient, v any) {
			if n, ok := v.(int64); ok {
				p.SetID = n
			}
		},
		"unmapped": func(p *patient, v any) { p.FirstName = "boom" },
	}

	got := Project(res, table)
	assert.Equal(t, patient{FirstName: "John", LastName: "Doe", SetID: 7}, got)
}
