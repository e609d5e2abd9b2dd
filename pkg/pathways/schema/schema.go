// Package schema validates pathway payloads before they are accepted.
//
// A Schema is any value with a Validate(payload) method. Three
// constructors cover the common cases:
//
//	// Structural check on JSON-shaped payloads.
//	orders := schema.Object(
//	    schema.Required("orderId", schema.String),
//	    schema.Optional("note", schema.String),
//	)
//
//	// Payload must be (or decode into) a Go type.
//	typed := schema.Struct[OrderPlaced]()
//
//	// Arbitrary predicate.
//	custom := schema.Func(func(p any) error { ... })
//
// Validation is pure and synchronous.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Schema validates a candidate payload.
type Schema interface {
	Validate(payload any) error
}

// Func adapts a function to the Schema interface.
type Func func(payload any) error

// Validate implements Schema.
func (f Func) Validate(payload any) error {
	return f(payload)
}

// Type is the JSON type a field must have.
type Type int

// Field types. Numbers are any JSON number.
const (
	Any Type = iota
	String
	Number
	Bool
	ObjectType
	Array
)

// String returns the JSON name of the type.
func (t Type) String() string {
	switch t {
	case Any:
		return "any"
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "boolean"
	case ObjectType:
		return "object"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// ParseType maps a JSON type name back to a Type. "" means Any.
func ParseType(name string) (Type, error) {
	switch name {
	case "", "any":
		return Any, nil
	case "string":
		return String, nil
	case "number", "integer":
		return Number, nil
	case "boolean", "bool":
		return Bool, nil
	case "object":
		return ObjectType, nil
	case "array":
		return Array, nil
	}
	return Any, fmt.Errorf("unknown field type %q", name)
}

// FieldError describes one failed field check.
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("field %q: %s", e.Field, e.Message)
	}
	return e.Message
}

// Field is one property of an ObjectSchema.
type Field struct {
	Name     string
	Type     Type
	Optional bool

	// Nested validates the field value further when set.
	Nested Schema
}

// Required declares a field that must be present with the given type.
func Required(name string, t Type) Field {
	return Field{Name: name, Type: t}
}

// Optional declares a field that may be absent or null.
func Optional(name string, t Type) Field {
	return Field{Name: name, Type: t, Optional: true}
}

// WithNested returns a copy of f that also validates the value against s.
func (f Field) WithNested(s Schema) Field {
	f.Nested = s
	return f
}

// ObjectSchema checks that a payload is a JSON object with the declared
// fields. Struct and map payloads are normalized through encoding/json,
// so struct field names follow their json tags.
type ObjectSchema struct {
	fields []Field

	// Strict rejects properties not declared in fields.
	Strict bool
}

// Object creates a structural schema.
func Object(fields ...Field) *ObjectSchema {
	return &ObjectSchema{fields: fields}
}

// Closed returns the schema with Strict enabled.
func (s *ObjectSchema) Closed() *ObjectSchema {
	s.Strict = true
	return s
}

// Fields returns the declared fields.
func (s *ObjectSchema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Validate implements Schema. All field errors are reported together.
func (s *ObjectSchema) Validate(payload any) error {
	obj, err := toObject(payload)
	if err != nil {
		return err
	}

	var errs []error
	declared := make(map[string]struct{}, len(s.fields))
	for _, f := range s.fields {
		declared[f.Name] = struct{}{}
		v, present := obj[f.Name]
		if !present || v == nil {
			if !f.Optional {
				errs = append(errs, &FieldError{Field: f.Name, Message: "is required"})
			}
			continue
		}
		if !matches(f.Type, v) {
			errs = append(errs, &FieldError{
				Field:   f.Name,
				Message: fmt.Sprintf("expected %s, got %s", f.Type, jsonTypeOf(v)),
			})
			continue
		}
		if f.Nested != nil {
			if err := f.Nested.Validate(v); err != nil {
				errs = append(errs, &FieldError{Field: f.Name, Message: err.Error()})
			}
		}
	}

	if s.Strict {
		var unknown []string
		for name := range obj {
			if _, ok := declared[name]; !ok {
				unknown = append(unknown, name)
			}
		}
		sort.Strings(unknown)
		for _, name := range unknown {
			errs = append(errs, &FieldError{Field: name, Message: "is not allowed"})
		}
	}

	return errors.Join(errs...)
}

// Struct returns a schema accepting values of type T, *T, or anything
// that decodes into T without unknown fields.
func Struct[T any]() Schema {
	return Func(func(payload any) error {
		switch payload.(type) {
		case T, *T:
			return nil
		case nil:
			return &FieldError{Message: "payload is nil"}
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return &FieldError{Message: fmt.Sprintf("payload is not serializable: %v", err)}
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		var target T
		if err := dec.Decode(&target); err != nil {
			var zero T
			return &FieldError{Message: fmt.Sprintf("payload does not match %T: %v", zero, err)}
		}
		return nil
	})
}

// ArrayOf returns a schema that checks every element of an array payload.
func ArrayOf(elem Schema) Schema {
	return Func(func(payload any) error {
		rv := reflect.ValueOf(payload)
		if payload == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return &FieldError{Message: fmt.Sprintf("expected array, got %s", jsonTypeOf(payload))}
		}
		var errs []error
		for i := 0; i < rv.Len(); i++ {
			if err := elem.Validate(rv.Index(i).Interface()); err != nil {
				errs = append(errs, fmt.Errorf("element %d: %w", i, err))
			}
		}
		return errors.Join(errs...)
	})
}

// toObject normalizes a payload into a JSON object map.
func toObject(payload any) (map[string]any, error) {
	switch p := payload.(type) {
	case nil:
		return nil, &FieldError{Message: "payload is nil"}
	case map[string]any:
		return p, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &FieldError{Message: fmt.Sprintf("payload is not serializable: %v", err)}
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, &FieldError{Message: fmt.Sprintf("expected object, got %s", jsonTypeOf(payload))}
	}
	return obj, nil
}

func matches(t Type, v any) bool {
	if t == Any {
		return true
	}
	return jsonTypeOf(v) == t.String()
}

// jsonTypeOf names the JSON type a Go value would encode as.
func jsonTypeOf(v any) string {
	if v == nil {
		return "null"
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "null"
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return String.String()
	case reflect.Bool:
		return Bool.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Number.String()
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// []byte encodes as a base64 string.
			return String.String()
		}
		return Array.String()
	case reflect.Map, reflect.Struct:
		return ObjectType.String()
	default:
		return rv.Kind().String()
	}
}
