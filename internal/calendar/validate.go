package calendar

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// RootPath names errors that concern the calendar object itself.
const RootPath = "<root>"

// FieldError is a single validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Path + ": " + e.Message
}

// ValidationError is returned when a calendar payload fails the schema.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", e.Errors[0].String())
}

// Details returns the errors as "path: message" strings.
func (e *ValidationError) Details() []string {
	out := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		out[i] = fe.String()
	}
	return out
}

func itemSchema() *jsonschema.Schema {
	nullable := func(types ...string) *jsonschema.Schema {
		return &jsonschema.Schema{Types: append(types, "null")}
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"id":            nullable("string", "number"),
			"name":          nullable("string"),
			"wine":          nullable("string"),
			"vintage":       nullable("string", "number"),
			"full_type":     nullable("string"),
			"region_group":  nullable("string"),
			"stock":         nullable("integer", "number"),
			"price_tier":    nullable("string", "number"),
			"match_quality": nullable("string"),
			"avg_cpi_score": nullable("number", "string"),
			"locked":        nullable("boolean"),
			"slot":          nullable("integer"),
		},
	}
}

func dayArraySchema(items *jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "array",
		MinItems: jsonschema.Ptr(SlotsPerDay),
		MaxItems: jsonschema.Ptr(SlotsPerDay),
		Items:    items,
	}
}

// slotSchema returns a new schema on every call. Resolve requires the
// schema graph to be a tree, so days cannot share one slot schema.
func slotSchema() *jsonschema.Schema {
	return &jsonschema.Schema{AnyOf: []*jsonschema.Schema{{Type: "null"}, itemSchema()}}
}

// Schema returns the calendar schema shared by schedules and locked calendars.
func Schema() *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(Days))
	for _, d := range Days {
		props[d] = dayArraySchema(slotSchema())
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             append([]string(nil), Days...),
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

// Validator checks calendar payloads. It is safe for concurrent use.
type Validator struct {
	calendar *jsonschema.Resolved
	day      *jsonschema.Resolved
	item     *jsonschema.Resolved
}

// NewValidator resolves the calendar schema once.
func NewValidator() (*Validator, error) {
	opts := &jsonschema.ResolveOptions{}
	cal, err := Schema().Resolve(opts)
	if err != nil {
		return nil, fmt.Errorf("resolve calendar schema: %w", err)
	}
	day, err := dayArraySchema(nil).Resolve(opts)
	if err != nil {
		return nil, fmt.Errorf("resolve day schema: %w", err)
	}
	item, err := itemSchema().Resolve(opts)
	if err != nil {
		return nil, fmt.Errorf("resolve item schema: %w", err)
	}
	return &Validator{calendar: cal, day: day, item: item}, nil
}

// MustValidator is NewValidator for static initialization.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate returns every field-level error in v. An empty result means v
// is a valid calendar. v must be a decoded JSON value or a Week.
func (v *Validator) Validate(payload any) []FieldError {
	if w, ok := payload.(Week); ok {
		payload = w.Map()
	}
	if err := v.calendar.Validate(payload); err == nil {
		return nil
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return []FieldError{{Path: RootPath, Message: fmt.Sprintf("%s is not of type 'object'", describe(payload))}}
	}

	var errs []FieldError
	var extra []string
	for k := range obj {
		if !IsDay(k) {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		errs = append(errs, FieldError{
			Path:    RootPath,
			Message: fmt.Sprintf("additional properties are not allowed (%s unexpected)", quoteAll(extra)),
		})
	}
	for _, d := range Days {
		raw, ok := obj[d]
		if !ok {
			errs = append(errs, FieldError{Path: d, Message: fmt.Sprintf("%q is a required property", d)})
			continue
		}
		if err := v.day.Validate(raw); err != nil {
			errs = append(errs, FieldError{Path: d, Message: dayMessage(raw)})
		}
		slots, ok := raw.([]any)
		if !ok {
			continue
		}
		for i, slot := range slots {
			if slot == nil {
				continue
			}
			if err := v.item.Validate(slot); err != nil {
				errs = append(errs, FieldError{Path: fmt.Sprintf("%s/%d", d, i), Message: err.Error()})
			}
		}
	}
	if len(errs) == 0 {
		// The calendar schema failed but no single field did.
		errs = append(errs, FieldError{Path: RootPath, Message: "calendar does not match schema"})
	}
	return errs
}

// Check is Validate returning a *ValidationError, or nil when valid.
func (v *Validator) Check(payload any) error {
	if errs := v.Validate(payload); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func dayMessage(raw any) string {
	slots, ok := raw.([]any)
	if !ok {
		return fmt.Sprintf("%s is not of type 'array'", describe(raw))
	}
	if len(slots) < SlotsPerDay {
		return fmt.Sprintf("expected %d slots, got %d (too short)", SlotsPerDay, len(slots))
	}
	if len(slots) > SlotsPerDay {
		return fmt.Sprintf("expected %d slots, got %d (too long)", SlotsPerDay, len(slots))
	}
	return "invalid day"
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func quoteAll(keys []string) string {
	q := make([]string, len(keys))
	for i, k := range keys {
		q[i] = "'" + k + "'"
	}
	return strings.Join(q, ", ")
}
