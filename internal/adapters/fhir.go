package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minasoft/hl7-gateway/internal/hl7"
)

// FHIRAdapter converts between the internal message model and FHIR-style
// message bundles. The bundle carries one Patient, at most one Encounter
// and one Observation per result segment.
type FHIRAdapter struct{}

func NewFHIRAdapter() *FHIRAdapter { return &FHIRAdapter{} }

func (a *FHIRAdapter) Name() string { return "fhir" }

// CanConvertFrom sniffs for a JSON bundle. The check is intentionally
// shallow; Decode does the real parsing.
func (a *FHIRAdapter) CanConvertFrom(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	return strings.Contains(trimmed, `"resourceType"`) && strings.Contains(trimmed, `"Bundle"`)
}

func (a *FHIRAdapter) CanConvertTo(msg *hl7.Message) bool {
	return msg != nil && convertibleTypes[msg.Type]
}

func (a *FHIRAdapter) ConvertFrom(msg *hl7.Message) (*Document, error) {
	if msg == nil {
		return nil, hl7.NewProcessingError(hl7.KindArgumentRequired, "message is required")
	}
	if !a.CanConvertTo(msg) {
		return nil, fmt.Errorf("fhir adapter does not support message type %s", msg.Type)
	}

	doc := &Document{
		Format: a.Name(),
		Title:  "message bundle",
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

func (a *FHIRAdapter) ConvertTo(doc *Document) (*hl7.Message, error) {
	if doc == nil {
		return nil, hl7.NewProcessingError(hl7.KindArgumentRequired, "document is required")
	}
	return synthesizeMessage(doc, "ADT^A01")
}

func (a *FHIRAdapter) ValidateData(doc *Document) ValidationResult {
	res := validateDocument(doc)
	res.Metadata["format"] = a.Name()
	return res
}

// Bundle wire shapes. Only the subset of FHIR this gateway exchanges is
// modeled; unknown fields are dropped on decode.

type fhirBundle struct {
	ResourceType string      `json:"resourceType"`
	Type         string      `json:"type"`
	Entry        []fhirEntry `json:"entry"`
}

type fhirEntry struct {
	Resource json.RawMessage `json:"resource"`
}

type fhirResourceHeader struct {
	ResourceType string `json:"resourceType"`
}

type fhirPatient struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Name         []fhirHumanName `json:"name,omitempty"`
	BirthDate    string          `json:"birthDate,omitempty"`
	Gender       string          `json:"gender,omitempty"`
}

type fhirHumanName struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type fhirEncounter struct {
	ResourceType string         `json:"resourceType"`
	Class        *fhirCoding    `json:"class,omitempty"`
	Location     []fhirLocation `json:"location,omitempty"`
	Identifier   []fhirIdent    `json:"identifier,omitempty"`
}

type fhirCoding struct {
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type fhirLocation struct {
	Location fhirReference `json:"location"`
}

type fhirReference struct {
	Display string `json:"display,omitempty"`
}

type fhirIdent struct {
	Value string `json:"value,omitempty"`
}

type fhirObservation struct {
	ResourceType  string           `json:"resourceType"`
	Code          *fhirCodeConcept `json:"code,omitempty"`
	ValueQuantity *fhirQuantity    `json:"valueQuantity,omitempty"`
	ValueString   string           `json:"valueString,omitempty"`
}

type fhirCodeConcept struct {
	Coding []fhirCoding `json:"coding,omitempty"`
}

type fhirQuantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

func (a *FHIRAdapter) Encode(doc *Document) (string, error) {
	if doc == nil {
		return "", hl7.NewProcessingError(hl7.KindArgumentRequired, "document is required")
	}

	bundle := fhirBundle{ResourceType: "Bundle", Type: "message"}
	for _, r := range doc.Resources {
		var resource any
		switch r.Type {
		case "Patient":
			p := fhirPatient{
				ResourceType: "Patient",
				ID:           r.prop("id"),
				BirthDate:    r.prop("birthDate"),
				Gender:       r.prop("gender"),
			}
			name := fhirHumanName{Family: r.prop("familyName")}
			if given := r.prop("givenName"); given != "" {
				name.Given = []string{given}
			}
			if name.Family != "" || len(name.Given) > 0 {
				p.Name = []fhirHumanName{name}
			}
			resource = p
		case "Encounter":
			e := fhirEncounter{ResourceType: "Encounter"}
			if c := r.prop("class"); c != "" {
				e.Class = &fhirCoding{Code: c}
			}
			if loc := r.prop("location"); loc != "" {
				e.Location = []fhirLocation{{Location: fhirReference{Display: loc}}}
			}
			if v := r.prop("visitNumber"); v != "" {
				e.Identifier = []fhirIdent{{Value: v}}
			}
			resource = e
		case "Observation":
			o := fhirObservation{ResourceType: "Observation"}
			if code := r.prop("code"); code != "" {
				o.Code = &fhirCodeConcept{Coding: []fhirCoding{{Code: code, Display: r.prop("display")}}}
			}
			if n, ok := r.Properties["value"].AsNumber(); ok {
				o.ValueQuantity = &fhirQuantity{Value: n, Unit: r.prop("unit")}
			} else {
				o.ValueString = r.prop("value")
			}
			resource = o
		default:
			continue
		}

		data, err := json.Marshal(resource)
		if err != nil {
			return "", fmt.Errorf("encode %s resource: %w", r.Type, err)
		}
		bundle.Entry = append(bundle.Entry, fhirEntry{Resource: data})
	}

	out, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (a *FHIRAdapter) Decode(raw string) (*Document, error) {
	var bundle fhirBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if bundle.ResourceType != "Bundle" {
		return nil, fmt.Errorf("expected a Bundle, got %q", bundle.ResourceType)
	}

	doc := &Document{Format: a.Name(), Title: "message bundle", Metadata: map[string]string{}}
	for _, entry := range bundle.Entry {
		var header fhirResourceHeader
		if err := json.Unmarshal(entry.Resource, &header); err != nil {
			return nil, fmt.Errorf("decode bundle entry: %w", err)
		}

		switch header.ResourceType {
		case "Patient":
			var p fhirPatient
			if err := json.Unmarshal(entry.Resource, &p); err != nil {
				return nil, err
			}
			props := map[string]Value{
				"id":        StringValue(p.ID),
				"birthDate": StringValue(p.BirthDate),
				"gender":    StringValue(p.Gender),
			}
			if len(p.Name) > 0 {
				props["familyName"] = StringValue(p.Name[0].Family)
				if len(p.Name[0].Given) > 0 {
					props["givenName"] = StringValue(p.Name[0].Given[0])
				}
			}
			doc.Resources = append(doc.Resources, Resource{Type: "Patient", Properties: props})
		case "Encounter":
			var e fhirEncounter
			if err := json.Unmarshal(entry.Resource, &e); err != nil {
				return nil, err
			}
			props := map[string]Value{}
			if e.Class != nil {
				props["class"] = StringValue(e.Class.Code)
			}
			if len(e.Location) > 0 {
				props["location"] = StringValue(e.Location[0].Location.Display)
			}
			if len(e.Identifier) > 0 {
				props["visitNumber"] = StringValue(e.Identifier[0].Value)
			}
			doc.Resources = append(doc.Resources, Resource{Type: "Encounter", Properties: props})
		case "Observation":
			var o fhirObservation
			if err := json.Unmarshal(entry.Resource, &o); err != nil {
				return nil, err
			}
			props := map[string]Value{}
			if o.Code != nil && len(o.Code.Coding) > 0 {
				props["code"] = StringValue(o.Code.Coding[0].Code)
				props["display"] = StringValue(o.Code.Coding[0].Display)
			}
			if o.ValueQuantity != nil {
				props["value"] = NumberValue(o.ValueQuantity.Value)
				props["unit"] = StringValue(o.ValueQuantity.Unit)
			} else {
				props["value"] = StringValue(o.ValueString)
			}
			doc.Resources = append(doc.Resources, Resource{Type: "Observation", Properties: props})
		}
		// Unknown resource types are skipped rather than rejected.
	}
	return doc, nil
}

// headerMessageType returns the wire form of MSH-9 so round-trips preserve
// the original code instead of the display name.
func headerMessageType(msg *hl7.Message) string {
	if msh := msg.GetSegment("MSH"); msh != nil {
		if v := msh.FieldValue(9); v != "" {
			return v
		}
	}
	return strings.ReplaceAll(msg.Type.String(), "_", "^")
}
