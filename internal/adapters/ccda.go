package adapters

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/minasoft/hl7-gateway/internal/hl7"
)

// LOINC section codes used in the generated documents.
const (
	loincEncounters = "46240-8"
	loincResults    = "30954-2"
)

// CCDAAdapter converts between the internal message model and C-CDA-style
// XML clinical documents. Demographics live in the record target;
// encounters and results become LOINC-coded sections.
type CCDAAdapter struct{}

func NewCCDAAdapter() *CCDAAdapter { return &CCDAAdapter{} }

func (a *CCDAAdapter) Name() string { return "ccda" }

func (a *CCDAAdapter) CanConvertFrom(raw string) bool {
	return strings.Contains(raw, "<ClinicalDocument")
}

func (a *CCDAAdapter) CanConvertTo(msg *hl7.Message) bool {
	return msg != nil && convertibleTypes[msg.Type]
}

func (a *CCDAAdapter) ConvertFrom(msg *hl7.Message) (*Document, error) {
	if msg == nil {
		return nil, hl7.NewProcessingError(hl7.KindArgumentRequired, "message is required")
	}
	if !a.CanConvertTo(msg) {
		return nil, fmt.Errorf("ccda adapter does not support message type %s", msg.Type)
	}

	doc := &Document{
		Format: a.Name(),
		Title:  "Continuity of Care Document",
		Metadata: map[string]string{
			"messageType": headerMessageType(msg),
			"controlId":   msg.MessageControlID,
			"version":     msg.Version,
			"timestamp":   msg.Timestamp.Format("20060102150405"),
		},
	}

	if pid := msg.GetSegment("PID"); pid != nil {
		doc.Resources = append(doc.Resources, patientResource(pid))
	}
	if pv1 := msg.GetSegment("PV1"); pv1 != nil {
		doc.Resources = append(doc.Resources, encounterResource(pv1))
	}
	for _, obx := range msg.GetSegments("OBX") {
		doc.Resources = append(doc.Resources, observationResource(obx))
	}
	return doc, nil
}

func (a *CCDAAdapter) ConvertTo(doc *Document) (*hl7.Message, error) {
	if doc == nil {
		return nil, hl7.NewProcessingError(hl7.KindArgumentRequired, "document is required")
	}
	return synthesizeMessage(doc, "ADT^A01")
}

func (a *CCDAAdapter) ValidateData(doc *Document) ValidationResult {
	res := validateDocument(doc)
	res.Metadata["format"] = a.Name()
	return res
}

// XML wire shapes, reduced to the elements this gateway reads and writes.

type ccdaDocument struct {
	XMLName       xml.Name          `xml:"ClinicalDocument"`
	Title         string            `xml:"title"`
	EffectiveTime ccdaTime          `xml:"effectiveTime"`
	RecordTarget  *ccdaRecordTarget `xml:"recordTarget"`
	Components    []ccdaComponent   `xml:"component>structuredBody>component"`
}

type ccdaTime struct {
	Value string `xml:"value,attr"`
}

type ccdaRecordTarget struct {
	PatientRole ccdaPatientRole `xml:"patientRole"`
}

type ccdaPatientRole struct {
	ID      ccdaID      `xml:"id"`
	Patient ccdaPatient `xml:"patient"`
}

type ccdaID struct {
	Extension string `xml:"extension,attr"`
}

type ccdaPatient struct {
	Name      ccdaName `xml:"name"`
	Gender    ccdaCode `xml:"administrativeGenderCode"`
	BirthTime ccdaTime `xml:"birthTime"`
}

type ccdaName struct {
	Family string `xml:"family"`
	Given  string `xml:"given"`
}

type ccdaCode struct {
	Code        string `xml:"code,attr"`
	DisplayName string `xml:"displayName,attr,omitempty"`
}

type ccdaComponent struct {
	Section ccdaSection `xml:"section"`
}

type ccdaSection struct {
	Code    ccdaCode    `xml:"code"`
	Title   string      `xml:"title"`
	Entries []ccdaEntry `xml:"entry"`
}

type ccdaEntry struct {
	Observation ccdaObservation `xml:"observation"`
}

type ccdaObservation struct {
	Code  ccdaCode   `xml:"code"`
	Value *ccdaValue `xml:"value"`
}

type ccdaValue struct {
	Value string `xml:"value,attr"`
	Unit  string `xml:"unit,attr,omitempty"`
}

func (a *CCDAAdapter) Encode(doc *Document) (string, error) {
	if doc == nil {
		return "", hl7.NewProcessingError(hl7.KindArgumentRequired, "document is required")
	}

	out := ccdaDocument{
		Title:         doc.Title,
		EffectiveTime: ccdaTime{Value: doc.Metadata["timestamp"]},
	}
	if out.Title == "" {
		out.Title = "Continuity of Care Document"
	}

	if patient, ok := doc.firstResource("Patient"); ok {
		out.RecordTarget = &ccdaRecordTarget{
			PatientRole: ccdaPatientRole{
				ID: ccdaID{Extension: patient.prop("id")},
				Patient: ccdaPatient{
					Name:      ccdaName{Family: patient.prop("familyName"), Given: patient.prop("givenName")},
					Gender:    ccdaCode{Code: genderCode(patient.prop("gender")), DisplayName: patient.prop("gender")},
					BirthTime: ccdaTime{Value: compactDate(patient.prop("birthDate"))},
				},
			},
		}
	}

	if enc, ok := doc.firstResource("Encounter"); ok {
		section := ccdaSection{
			Code:  ccdaCode{Code: loincEncounters, DisplayName: "History of encounters"},
			Title: "Encounters",
			Entries: []ccdaEntry{{
				Observation: ccdaObservation{
					Code:  ccdaCode{Code: enc.prop("class"), DisplayName: "patient class"},
					Value: &ccdaValue{Value: enc.prop("location")},
				},
			}},
		}
		out.Components = append(out.Components, ccdaComponent{Section: section})
	}

	if observations := doc.resourcesOfType("Observation"); len(observations) > 0 {
		section := ccdaSection{
			Code:  ccdaCode{Code: loincResults, DisplayName: "Relevant diagnostic tests"},
			Title: "Results",
		}
		for _, obs := range observations {
			section.Entries = append(section.Entries, ccdaEntry{
				Observation: ccdaObservation{
					Code:  ccdaCode{Code: obs.prop("code"), DisplayName: obs.prop("display")},
					Value: &ccdaValue{Value: obs.prop("value"), Unit: obs.prop("unit")},
				},
			})
		}
		out.Components = append(out.Components, ccdaComponent{Section: section})
	}

	data, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(data), nil
}

func (a *CCDAAdapter) Decode(raw string) (*Document, error) {
	var in ccdaDocument
	if err := xml.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("decode clinical document: %w", err)
	}

	doc := &Document{
		Format:   a.Name(),
		Title:    in.Title,
		Metadata: map[string]string{"timestamp": in.EffectiveTime.Value},
	}

	if in.RecordTarget != nil {
		role := in.RecordTarget.PatientRole
		doc.Resources = append(doc.Resources, Resource{
			Type: "Patient",
			Properties: map[string]Value{
				"id":         StringValue(role.ID.Extension),
				"familyName": StringValue(role.Patient.Name.Family),
				"givenName":  StringValue(role.Patient.Name.Given),
				"birthDate":  StringValue(formatDate(role.Patient.BirthTime.Value)),
				"gender":     StringValue(genderDisplay(role.Patient.Gender.Code)),
			},
		})
	}

	for _, comp := range in.Components {
		section := comp.Section
		switch section.Code.Code {
		case loincEncounters:
			for _, entry := range section.Entries {
				props := map[string]Value{
					"class": StringValue(entry.Observation.Code.Code),
				}
				if entry.Observation.Value != nil {
					props["location"] = StringValue(entry.Observation.Value.Value)
				}
				doc.Resources = append(doc.Resources, Resource{Type: "Encounter", Properties: props})
			}
		case loincResults:
			for _, entry := range section.Entries {
				props := map[string]Value{
					"code":    StringValue(entry.Observation.Code.Code),
					"display": StringValue(entry.Observation.Code.DisplayName),
				}
				if entry.Observation.Value != nil {
					raw := entry.Observation.Value.Value
					if n, err := strconv.ParseFloat(raw, 64); err == nil {
						props["value"] = NumberValue(n)
					} else {
						props["value"] = StringValue(raw)
					}
					props["unit"] = StringValue(entry.Observation.Value.Unit)
				}
				doc.Resources = append(doc.Resources, Resource{Type: "Observation", Properties: props})
			}
		}
		// Sections with other LOINC codes are ignored.
	}
	return doc, nil
}
