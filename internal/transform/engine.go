package transform

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/minasoft/hl7-gateway/internal/hl7"
)

// Result holds the transformed representation: target keys to coerced
// values (string, int64, or time.Time depending on the declared data type).
type Result map[string]any

// Engine applies declarative rule sets to parsed messages. It is stateless
// apart from its function registry and safe for concurrent use once built.
type Engine struct {
	funcs map[string]TransformFunc
}

func NewEngine() *Engine {
	funcs := make(map[string]TransformFunc, len(builtinFunctions))
	for name, fn := range builtinFunctions {
		funcs[name] = fn
	}
	return &Engine{funcs: funcs}
}

// RegisterFunction adds or replaces a named transform function. Not safe
// to call concurrently with Transform; register everything up front.
func (e *Engine) RegisterFunction(name string, fn TransformFunc) {
	e.funcs[strings.ToLower(name)] = fn
}

// Transform projects a parsed message through the rule set. Missing or
// unresolvable fields degrade to the default value or a silent skip;
// only nil arguments are hard failures.
func (e *Engine) Transform(msg *hl7.Message, rs *RuleSet) (Result, error) {
	if msg == nil {
		return nil, hl7.NewProcessingError(hl7.KindArgumentRequired, "message is required")
	}
	if rs == nil {
		return nil, hl7.NewProcessingError(hl7.KindArgumentRequired, "rule set is required")
	}

	result := make(Result, len(rs.Mappings))
	for i := range rs.Mappings {
		e.applyMapping(result, msg, &rs.Mappings[i], func(path string) (string, bool) {
			return resolveMessageField(msg, path)
		})
	}

	e.applyCustomRules(result, rs, msg.Type.String())
	return result, nil
}

// TransformSegment is the segment-scoped variant: only paths addressing the
// given segment's type resolve; pseudo-fields are unavailable.
func (e *Engine) TransformSegment(seg *hl7.Segment, rs *RuleSet) (Result, error) {
	if seg == nil {
		return nil, hl7.NewProcessingError(hl7.KindArgumentRequired, "segment is required")
	}
	if rs == nil {
		return nil, hl7.NewProcessingError(hl7.KindArgumentRequired, "rule set is required")
	}

	resolve := func(path string) (string, bool) {
		return resolveSegmentField(seg, path)
	}

	result := make(Result)
	for i := range rs.Mappings {
		e.applyMapping(result, nil, &rs.Mappings[i], resolve)
	}

	e.applyCustomRules(result, rs, "")
	return result, nil
}

// TransformBatch applies the rule set to every message, in order.
func (e *Engine) TransformBatch(msgs []*hl7.Message, rs *RuleSet) ([]Result, error) {
	if rs == nil {
		return nil, hl7.NewProcessingError(hl7.KindArgumentRequired, "rule set is required")
	}
	out := make([]Result, 0, len(msgs))
	for _, msg := range msgs {
		res, err := e.Transform(msg, rs)
		if err != nil {
			return nil, fmt.Errorf("transform: batch item failed: %w", err)
		}
		out = append(out, res)
	}
	return out, nil
}

// applyMapping evaluates one declarative mapping and writes the outcome
// into result. resolve abstracts message- vs segment-scoped lookup.
func (e *Engine) applyMapping(result Result, msg *hl7.Message, m *FieldMapping, resolve func(string) (string, bool)) {
	for _, cond := range m.Conditions {
		if !evalCondition(cond, resolve) {
			return
		}
	}

	raw, found := resolve(m.SourceField)
	if !found || raw == "" {
		switch {
		case m.DefaultValue != "":
			raw = m.DefaultValue
		case m.IsRequired:
			// Intentionally lenient: a required mapping with no value and
			// no default leaves the target unset instead of failing.
			return
		default:
			raw = ""
		}
	}

	if m.TransformFunction != "" {
		if fn, ok := e.funcs[strings.ToLower(m.TransformFunction)]; ok {
			raw = fn(raw)
		} else {
			slog.Debug("unknown transform function", "function", m.TransformFunction, "target", m.TargetField)
		}
	}

	if m.ValidationPattern != "" {
		// The pattern is checked against the pre-coercion string but a
		// mismatch does not reject the value (see RuleSet docs).
		if matched, err := regexp.MatchString(m.ValidationPattern, raw); err != nil || !matched {
			slog.Debug("validation pattern mismatch",
				"target", m.TargetField,
				"pattern", m.ValidationPattern,
				"value", raw)
		}
	}

	result[m.TargetField] = coerce(raw, m.DataType)
}

func (e *Engine) applyCustomRules(result Result, rs *RuleSet, msgType string) {
	for _, rule := range rs.CustomRules {
		if !rule.IsActive {
			continue
		}
		if !strings.EqualFold(rule.RuleType, "fieldtransform") {
			continue
		}
		if len(rule.AppliesTo) > 0 && msgType != "" && !containsFold(rule.AppliesTo, msgType) {
			continue
		}
		result[rule.Name] = evalExpression(rule.Expression, result)
	}
}

func evalCondition(cond Condition, resolve func(string) (string, bool)) bool {
	actual, _ := resolve(cond.Field)
	switch strings.ToLower(cond.Operator) {
	case "equals":
		return actual == cond.Value
	case "notequals":
		return actual != cond.Value
	case "contains":
		return strings.Contains(actual, cond.Value)
	case "startswith":
		return strings.HasPrefix(actual, cond.Value)
	default:
		return false
	}
}

// evalExpression substitutes {key} references with already-resolved result
// values; literal text between references is kept as-is.
func evalExpression(expr string, result Result) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(expr, '{')
		if open < 0 {
			b.WriteString(expr)
			break
		}
		end := strings.IndexByte(expr[open:], '}')
		if end < 0 {
			b.WriteString(expr)
			break
		}
		b.WriteString(expr[:open])
		key := expr[open+1 : open+end]
		if v, ok := result[key]; ok {
			fmt.Fprintf(&b, "%v", v)
		}
		expr = expr[open+end+1:]
	}
	return b.String()
}

// resolveMessageField handles both grammar-tree paths and the metadata
// pseudo-fields.
func resolveMessageField(msg *hl7.Message, path string) (string, bool) {
	switch path {
	case "MessageType":
		return msg.Type.String(), true
	case "MessageControlId", "MessageControlID":
		return msg.MessageControlID, true
	case "Version":
		return msg.Version, true
	case "SendingApplication":
		return msg.SendingApplication, true
	case "SendingFacility":
		return msg.SendingFacility, true
	case "ReceivingApplication":
		return msg.ReceivingApplication, true
	case "ReceivingFacility":
		return msg.ReceivingFacility, true
	case "ProcessingId", "ProcessingID":
		return msg.ProcessingID, true
	case "Timestamp":
		return msg.Timestamp.Format("20060102150405"), true
	}
	return msg.FieldByPath(path)
}

func resolveSegmentField(seg *hl7.Segment, path string) (string, bool) {
	if !strings.HasPrefix(path, seg.Type+"-") {
		return "", false
	}
	rest := path[len(seg.Type)+1:]
	comp := 0
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		fmt.Sscanf(rest[dot+1:], "%d", &comp)
		rest = rest[:dot]
	}
	field := 0
	if _, err := fmt.Sscanf(rest, "%d", &field); err != nil || field < 1 {
		return "", false
	}
	f := seg.GetField(field)
	if f == nil {
		return "", false
	}
	if comp > 0 {
		return f.GetComponent(comp), true
	}
	return f.Value, true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
