package adapters

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minasoft/hl7-gateway/internal/hl7"
)

// Resource is one clinical entity inside an exchange document: a FHIR
// resource or a C-CDA section entry, reduced to a typed property map.
type Resource struct {
	Type       string           `json:"type"`
	Properties map[string]Value `json:"properties"`
}

func (r Resource) prop(key string) string {
	v, ok := r.Properties[key]
	if !ok {
		return ""
	}
	return v.Text()
}

// Document is the format-neutral shape both adapters convert through. The
// Format field names the wire format the document was decoded from or will
// be encoded to.
type Document struct {
	Format    string            `json:"format"`
	Title     string            `json:"title,omitempty"`
	Resources []Resource        `json:"resources"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (d *Document) resourcesOfType(t string) []Resource {
	var out []Resource
	for _, r := range d.Resources {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func (d *Document) firstResource(t string) (Resource, bool) {
	for _, r := range d.Resources {
		if r.Type == t {
			return r, true
		}
	}
	return Resource{}, false
}

// ValidationResult reports data-quality findings about a document without
// blocking conversion. Errors mark findings a downstream system would
// reject; warnings mark degraded but usable data.
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []string          `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FormatAdapter converts between the internal message model and one
// external exchange format.
type FormatAdapter interface {
	// Name identifies the adapter for logs and routing.
	Name() string

	// CanConvertFrom sniffs whether raw external content belongs to this
	// adapter's format.
	CanConvertFrom(raw string) bool

	// CanConvertTo reports whether this adapter can represent the given
	// message type.
	CanConvertTo(msg *hl7.Message) bool

	// ConvertFrom maps a parsed message into a format-neutral document.
	ConvertFrom(msg *hl7.Message) (*Document, error)

	// ConvertTo synthesizes a complete message, header included, from a
	// document.
	ConvertTo(doc *Document) (*hl7.Message, error)

	// Decode parses raw external content into a document.
	Decode(raw string) (*Document, error)

	// Encode renders a document in the adapter's wire format.
	Encode(doc *Document) (string, error)

	// ValidateData inspects a document for data-quality findings.
	ValidateData(doc *Document) ValidationResult
}

// Registry holds the known adapters and picks one by content sniffing.
type Registry struct {
	adapters []FormatAdapter
}

func NewRegistry(adapters ...FormatAdapter) *Registry {
	return &Registry{adapters: adapters}
}

// ForContent returns the first adapter whose sniff accepts the raw content.
func (r *Registry) ForContent(raw string) (FormatAdapter, bool) {
	for _, a := range r.adapters {
		if a.CanConvertFrom(raw) {
			return a, true
		}
	}
	return nil, false
}

// ForName returns the adapter with the given name.
func (r *Registry) ForName(name string) (FormatAdapter, bool) {
	for _, a := range r.adapters {
		if strings.EqualFold(a.Name(), name) {
			return a, true
		}
	}
	return nil, false
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		names[i] = a.Name()
	}
	return names
}

// convertibleTypes lists the message types both adapters know how to
// represent. Everything else is refused up front rather than converted into
// an empty document.
var convertibleTypes = map[hl7.MessageType]bool{
	hl7.MessageTypeADTA01: true,
	hl7.MessageTypeADTA02: true,
	hl7.MessageTypeADTA03: true,
	hl7.MessageTypeADTA04: true,
	hl7.MessageTypeADTA08: true,
	hl7.MessageTypeORUR01: true,
}

// component reads a 1-based component of a 1-based field, degrading to ""
// when either is absent.
func component(seg *hl7.Segment, field, comp int) string {
	f := seg.GetField(field)
	if f == nil {
		return ""
	}
	return f.GetComponent(comp)
}

// patientResource projects PID demographics into a resource.
func patientResource(pid *hl7.Segment) Resource {
	props := map[string]Value{
		"id":         StringValue(component(pid, 3, 1)),
		"familyName": StringValue(component(pid, 5, 1)),
		"givenName":  StringValue(component(pid, 5, 2)),
		"birthDate":  StringValue(formatDate(pid.FieldValue(7))),
		"gender":     StringValue(genderDisplay(pid.FieldValue(8))),
	}
	return Resource{Type: "Patient", Properties: props}
}

// encounterResource projects PV1 visit data into a resource.
func encounterResource(pv1 *hl7.Segment) Resource {
	props := map[string]Value{
		"class":    StringValue(pv1.FieldValue(2)),
		"location": StringValue(component(pv1, 3, 1)),
	}
	if v := pv1.FieldValue(19); v != "" {
		props["visitNumber"] = StringValue(v)
	}
	return Resource{Type: "Encounter", Properties: props}
}

// observationResource projects one OBX result into a resource.
func observationResource(obx *hl7.Segment) Resource {
	props := map[string]Value{
		"code":    StringValue(component(obx, 3, 1)),
		"display": StringValue(component(obx, 3, 2)),
		"unit":    StringValue(component(obx, 6, 1)),
	}
	raw := obx.FieldValue(5)
	if n, err := strconv.ParseFloat(raw, 64); err == nil && strings.EqualFold(obx.FieldValue(2), "NM") {
		props["value"] = NumberValue(n)
	} else {
		props["value"] = StringValue(raw)
	}
	return Resource{Type: "Observation", Properties: props}
}

// synthesizeMessage builds a complete message from document resources. The
// header is assembled from document metadata with sane fallbacks so the
// result parses and serializes like any inbound message.
func synthesizeMessage(doc *Document, defaultType string) (*hl7.Message, error) {
	msg := hl7.NewMessage()

	msgType := doc.Metadata["messageType"]
	if msgType == "" {
		msgType = defaultType
	}
	controlID := doc.Metadata["controlId"]
	if controlID == "" {
		controlID = uuid.NewString()
	}
	version := doc.Metadata["version"]
	if version == "" {
		version = "2.5"
	}
	ts := doc.Metadata["timestamp"]
	if ts == "" {
		ts = time.Now().Format("20060102150405")
	}

	d := msg.Delimiters

	msh := &hl7.Segment{Type: "MSH"}
	msh.SetField(1, "|", d)
	msh.SetField(2, `^~\&`, d)
	msh.SetField(3, "HL7GATEWAY", d)
	msh.SetField(4, "MINASOFT", d)
	msh.SetField(7, ts, d)
	msh.SetField(9, msgType, d)
	msh.SetField(10, controlID, d)
	msh.SetField(11, "P", d)
	msh.SetField(12, version, d)
	msg.AddSegment(msh)

	if patient, ok := doc.firstResource("Patient"); ok {
		pid := &hl7.Segment{Type: "PID"}
		pid.SetField(1, "1", d)
		pid.SetField(3, patient.prop("id"), d)
		name := patient.prop("familyName")
		if given := patient.prop("givenName"); given != "" {
			name += "^" + given
		}
		pid.SetField(5, name, d)
		pid.SetField(7, compactDate(patient.prop("birthDate")), d)
		pid.SetField(8, genderCode(patient.prop("gender")), d)
		msg.AddSegment(pid)
	}

	if enc, ok := doc.firstResource("Encounter"); ok {
		pv1 := &hl7.Segment{Type: "PV1"}
		pv1.SetField(1, "1", d)
		pv1.SetField(2, enc.prop("class"), d)
		pv1.SetField(3, enc.prop("location"), d)
		if v := enc.prop("visitNumber"); v != "" {
			pv1.SetField(19, v, d)
		}
		msg.AddSegment(pv1)
	}

	for i, obs := range doc.resourcesOfType("Observation") {
		obx := &hl7.Segment{Type: "OBX"}
		obx.SetField(1, strconv.Itoa(i+1), d)
		if _, isNum := obs.Properties["value"].AsNumber(); isNum {
			obx.SetField(2, "NM", d)
		} else {
			obx.SetField(2, "TX", d)
		}
		code := obs.prop("code")
		if display := obs.prop("display"); display != "" {
			code += "^" + display
		}
		obx.SetField(3, code, d)
		obx.SetField(5, obs.prop("value"), d)
		obx.SetField(6, obs.prop("unit"), d)
		obx.SetField(11, "F", d)
		msg.AddSegment(obx)
	}

	msg.RebuildRawData()

	parsed, err := hl7.Parse(msg.RawMessage)
	if err != nil {
		return nil, fmt.Errorf("synthesized message does not parse: %w", err)
	}
	return parsed, nil
}

// validateDocument applies the data checks shared by both formats.
func validateDocument(doc *Document) ValidationResult {
	res := ValidationResult{Metadata: map[string]string{}}

	if doc == nil || len(doc.Resources) == 0 {
		res.Errors = append(res.Errors, "document has no resources")
		return res
	}

	patients := doc.resourcesOfType("Patient")
	res.Metadata["patients"] = strconv.Itoa(len(patients))
	res.Metadata["observations"] = strconv.Itoa(len(doc.resourcesOfType("Observation")))

	if len(patients) == 0 {
		res.Warnings = append(res.Warnings, "document has no patient resource")
	}
	for _, p := range patients {
		if p.prop("id") == "" {
			res.Errors = append(res.Errors, "patient resource is missing an identifier")
		}
		if p.prop("familyName") == "" {
			res.Warnings = append(res.Warnings, "patient resource is missing a family name")
		}
	}
	for _, o := range doc.resourcesOfType("Observation") {
		if o.prop("code") == "" {
			res.Warnings = append(res.Warnings, "observation is missing a code")
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// formatDate converts a compact timestamp prefix to ISO date form. Values
// that do not look like dates pass through untouched.
func formatDate(v string) string {
	if len(v) < 8 {
		return v
	}
	for _, r := range v[:8] {
		if r < '0' || r > '9' {
			return v
		}
	}
	return v[0:4] + "-" + v[4:6] + "-" + v[6:8]
}

// compactDate is the inverse of formatDate.
func compactDate(v string) string {
	if len(v) == 10 && v[4] == '-' && v[7] == '-' {
		return v[0:4] + v[5:7] + v[8:10]
	}
	return v
}

func genderDisplay(code string) string {
	switch strings.ToUpper(code) {
	case "M":
		return "male"
	case "F":
		return "female"
	case "O":
		return "other"
	case "":
		return ""
	default:
		return "unknown"
	}
}

func genderCode(display string) string {
	switch strings.ToLower(display) {
	case "male":
		return "M"
	case "female":
		return "F"
	case "other":
		return "O"
	case "":
		return ""
	default:
		return "U"
	}
}
