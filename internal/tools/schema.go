package tools

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Kind is the declared type of a contract field.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindUUID   Kind = "uuid"
	KindObject Kind = "object"
	KindArray  Kind = "array"
)

// Field declares one tool parameter. Min/Max bound ints when Max > 0.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	Min      int
	Max      int
}

// FieldError describes a single offending field.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError lists every offending field of a rejected call.
type ValidationError struct {
	Tool   Name
	Code   string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Reason)
	}
	return fmt.Sprintf("tools: %s rejected params (%s)", e.Tool, strings.Join(parts, "; "))
}

// Unwrap lets callers match ErrInvalidParams with errors.Is.
func (e *ValidationError) Unwrap() error { return ErrInvalidParams }

// FieldNames returns the offending field names in order.
func (e *ValidationError) FieldNames() []string {
	out := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.Field
	}
	return out
}

var envelopeFields = map[string]bool{"tenant_id": true, "request_id": true, "conversation_id": true}

// Validate checks params against the contract. Every problem is collected so
// the caller learns all offending fields at once.
func (c Contract) Validate(params map[string]any) *ValidationError {
	var errs []FieldError
	var missing, badUUID bool

	declared := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		declared[f.Name] = true
		v, ok := params[f.Name]
		if !ok || v == nil {
			if f.Required {
				missing = true
				errs = append(errs, FieldError{Field: f.Name, Reason: "required"})
			}
			continue
		}
		if reason := f.check(v); reason != "" {
			if f.Kind == KindUUID {
				badUUID = true
			}
			errs = append(errs, FieldError{Field: f.Name, Reason: reason})
		}
	}

	var extra []string
	for k := range params {
		if !declared[k] && !envelopeFields[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		errs = append(errs, FieldError{Field: k, Reason: "not declared by contract"})
	}

	if len(errs) == 0 {
		return nil
	}
	code := CodeInvalidParams
	switch {
	case missing:
		code = CodeMissingParams
	case badUUID:
		code = CodeInvalidUUID
	}
	return &ValidationError{Tool: c.Name, Code: code, Fields: errs}
}

func (f Field) check(v any) string {
	switch f.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected string, got %T", v)
		}
		if strings.TrimSpace(s) == "" && f.Required {
			return "must not be empty"
		}
	case KindUUID:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected uuid string, got %T", v)
		}
		if !IsUUID(s) {
			return "invalid uuid"
		}
	case KindInt:
		n, ok := asInt(v)
		if !ok {
			return fmt.Sprintf("expected int, got %T", v)
		}
		if f.Max > 0 && (n < f.Min || n > f.Max) {
			return fmt.Sprintf("must be between %d and %d", f.Min, f.Max)
		}
	case KindNumber:
		n, ok := asFloat(v)
		if !ok {
			return fmt.Sprintf("expected number, got %T", v)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
			return "must be a non-negative finite number"
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected bool, got %T", v)
		}
	case KindObject:
		switch v.(type) {
		case map[string]any, map[string]string, map[string]bool:
		default:
			return fmt.Sprintf("expected object, got %T", v)
		}
	case KindArray:
		switch v.(type) {
		case []any, []string, []map[string]any:
		default:
			return fmt.Sprintf("expected array, got %T", v)
		}
	}
	return ""
}

// IsUUID reports whether s is a canonical hyphenated UUID.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		// checked before conversion; int(n) is undefined outside int range
		if n == math.Trunc(n) && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int(n), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
