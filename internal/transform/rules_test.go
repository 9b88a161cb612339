package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ruleSetDoc = `{
  "name": "adt-to-flat",
  "version": "2",
  "mappings": [
    {"source": "PID-5.1", "target": "lastName", "transformFunction": "uppercase"},
    {"source": "PID-7", "target": "birthDate", "dataType": "date", "validationPattern": "^\\d{8}"},
    {"source": "ZZZ-1", "target": "site", "defaultValue": "MAIN", "isRequired": true},
    {
      "source": "PV1-2",
      "target": "patientClass",
      "conditions": [{"field": "MessageType", "operator": "equals", "value": "ADT_A01"}]
    }
  ],
  "customRules": [
    {"name": "display", "ruleType": "fieldtransform", "expression": "{lastName} ({site})", "isActive": true}
  ]
}`

func TestParseRuleSetDocument(t *testing.T) {
	rs, err := ParseRuleSet([]byte(ruleSetDoc))
	require.NoError(t, err)

	assert.Equal(t, "adt-to-flat", rs.Name)
	assert.Equal(t, "2", rs.Version)
	require.Len(t, rs.Mappings, 4)
	assert.Equal(t, "uppercase", rs.Mappings[0].TransformFunction)
	assert.Equal(t, "date", rs.Mappings[1].DataType)
	assert.True(t, rs.Mappings[2].IsRequired)
	require.Len(t, rs.Mappings[3].Conditions, 1)
	require.Len(t, rs.CustomRules, 1)
	assert.True(t, rs.CustomRules[0].IsActive)
}

func TestParseRuleSetRoundTrip(t *testing.T) {
	rs, err := ParseRuleSet([]byte(ruleSetDoc))
	require.NoError(t, err)

	data, err := rs.Encode()
	require.NoError(t, err)

	again, err := ParseRuleSet(data)
	require.NoError(t, err)
	assert.Equal(t, rs, again)
}

func TestParseRuleSetRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"not json":             `{`,
		"missing name":         `{"mappings": []}`,
		"missing source":       `{"name": "x", "mappings": [{"target": "a"}]}`,
		"missing target":       `{"name": "x", "mappings": [{"source": "PID-5"}]}`,
		"unsupported operator": `{"name": "x", "mappings": [{"source": "PID-5", "target": "a", "conditions": [{"field": "f", "operator": "regex", "value": "v"}]}]}`,
		"unnamed custom rule":  `{"name": "x", "mappings": [], "customRules": [{"ruleType": "fieldtransform", "expression": "e", "isActive": true}]}`,
	}

	for label, doc := range cases {
		_, err := ParseRuleSet([]byte(doc))
		assert.Error(t, err, label)
	}
}

func TestRuleSetEndToEnd(t *testing.T) {
	rs, err := ParseRuleSet([]byte(ruleSetDoc))
	require.NoError(t, err)

	res, err := NewEngine().Transform(parseSample(t), rs)
	require.NoError(t, err)

	assert.Equal(t, "DOE", res["lastName"])
	assert.Equal(t, "MAIN", res["site"])
	assert.Equal(t, "I", res["patientClass"])
	assert.Equal(t, "DOE (MAIN)", res["display"])
}
