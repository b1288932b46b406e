package rules

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParamKind enumerates the value shapes a registered parameter may take.
type ParamKind int

const (
	KindString ParamKind = iota
	KindNumber
	KindBool
	KindEnum
	KindStringList
)

func (k ParamKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindEnum:
		return "enum"
	case KindStringList:
		return "string list"
	default:
		return "unknown"
	}
}

// ParamSpec declares one parameter of a registered type.
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Required bool
	Enum     []string
}

type typeSpec struct {
	params []ParamSpec
}

// The registries are closed: the compiler validates parameters exhaustively
// against these specs, so nothing downstream needs to re-check shapes.

var conditionTypes = map[string]typeSpec{
	"path_glob": {params: []ParamSpec{
		{Name: "pattern", Kind: KindString, Required: true},
	}},
	"min_file_size_mb": {params: []ParamSpec{
		{Name: "mb", Kind: KindNumber, Required: true},
	}},
	"extension_in": {params: []ParamSpec{
		{Name: "values", Kind: KindStringList, Required: true},
	}},
	"expr": {params: []ParamSpec{
		{Name: "expression", Kind: KindString, Required: true},
	}},
}

var actionTypes = map[string]typeSpec{
	"remux": {params: []ParamSpec{
		{Name: "container", Kind: KindEnum, Required: true, Enum: []string{"mkv", "mp4", "mov"}},
	}},
	"proxy": {params: []ParamSpec{
		{Name: "codec", Kind: KindEnum, Required: true, Enum: []string{"h264", "prores", "dnxhr"}},
		{Name: "height", Kind: KindNumber},
	}},
	"archive": {params: []ParamSpec{
		{Name: "target", Kind: KindString, Required: true},
	}},
	"move": {params: []ParamSpec{
		{Name: "dest", Kind: KindString, Required: true},
		{Name: "overwrite", Kind: KindBool},
	}},
	"notify": {params: []ParamSpec{
		{Name: "message", Kind: KindString, Required: true},
	}},
}

var guardrailTypes = map[string]typeSpec{
	"pause_if_recording": {},
	"min_free_space_gb": {params: []ParamSpec{
		{Name: "gb", Kind: KindNumber, Required: true},
		{Name: "path", Kind: KindString},
	}},
	"max_concurrent_jobs": {params: []ParamSpec{
		{Name: "limit", Kind: KindNumber, Required: true},
	}},
	"max_cpu_percent": {params: []ParamSpec{
		{Name: "percent", Kind: KindNumber, Required: true},
	}},
}

// ConditionTypes returns the registered condition type names.
func ConditionTypes() []string { return typeNames(conditionTypes) }

// ActionTypes returns the registered action type names.
func ActionTypes() []string { return typeNames(actionTypes) }

// GuardrailTypes returns the registered guardrail type names.
func GuardrailTypes() []string { return typeNames(guardrailTypes) }

func typeNames(registry map[string]typeSpec) []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func validateStep(registry map[string]typeSpec, step StepDoc, path string, errs *[]ValidationError) bool {
	name := strings.TrimSpace(step.Type)
	if name == "" {
		*errs = append(*errs, ValidationError{Path: path + ".type", Message: "type is required"})
		return false
	}
	spec, ok := registry[name]
	if !ok {
		*errs = append(*errs, ValidationError{Path: path + ".type", Message: fmt.Sprintf("unknown type %q", name)})
		return false
	}

	ok = true
	known := make(map[string]ParamSpec, len(spec.params))
	for _, param := range spec.params {
		known[param.Name] = param
		value, present := step.Params[param.Name]
		if !present {
			if param.Required {
				*errs = append(*errs, ValidationError{
					Path:    path + ".params." + param.Name,
					Message: "required parameter is missing",
				})
				ok = false
			}
			continue
		}
		if msg := checkParamValue(param, value); msg != "" {
			*errs = append(*errs, ValidationError{Path: path + ".params." + param.Name, Message: msg})
			ok = false
		}
	}
	for key := range step.Params {
		if _, recognized := known[key]; !recognized {
			*errs = append(*errs, ValidationError{
				Path:    path + ".params." + key,
				Message: fmt.Sprintf("unknown parameter for type %q", name),
			})
			ok = false
		}
	}
	return ok
}

func checkParamValue(spec ParamSpec, value any) string {
	switch spec.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("expected %s, got %T", spec.Kind, value)
		}
	case KindNumber:
		if !isNumber(value) {
			return fmt.Sprintf("expected %s, got %T", spec.Kind, value)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected %s, got %T", spec.Kind, value)
		}
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected %s, got %T", spec.Kind, value)
		}
		for _, allowed := range spec.Enum {
			if s == allowed {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %s, got %q", strings.Join(spec.Enum, ", "), s)
	case KindStringList:
		if _, ok := toStringList(value); !ok {
			return fmt.Sprintf("expected %s, got %T", spec.Kind, value)
		}
	}
	return ""
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int64, float64:
		return true
	default:
		return false
	}
}

func toStringList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// ParamString extracts a string parameter, defaulting to "".
func ParamString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ParamNumber extracts a numeric parameter, defaulting to 0.
func ParamNumber(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// ParamBool extracts a boolean parameter, defaulting to false.
func ParamBool(params map[string]any, key string) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return false
}

// ParamStrings extracts a string-list parameter, defaulting to nil.
func ParamStrings(params map[string]any, key string) []string {
	if v, ok := params[key]; ok {
		if list, ok := toStringList(v); ok {
			return list
		}
	}
	return nil
}

func matchPathGlob(pattern string, ev Event) bool {
	candidate := ev.PayloadString("path")
	if candidate == "" {
		candidate = ev.Subject
	}
	if matched, err := filepath.Match(pattern, filepath.Base(candidate)); err == nil && matched {
		return true
	}
	matched, err := filepath.Match(pattern, candidate)
	return err == nil && matched
}

func matchExtension(values []string, ev Event) bool {
	candidate := ev.PayloadString("path")
	if candidate == "" {
		candidate = ev.Subject
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(candidate)), ".")
	for _, value := range values {
		if ext == strings.TrimPrefix(strings.ToLower(value), ".") {
			return true
		}
	}
	return false
}
