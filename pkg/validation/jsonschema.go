package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON schema that can be reused across validations.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles schemaJSON once under the given resource name.
func CompileSchema(name, schemaJSON string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: sch}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas known to be valid.
func MustCompileSchema(name, schemaJSON string) *Schema {
	s, err := CompileSchema(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateValue validates any JSON-marshalable value. The value is round-tripped
// through encoding/json so struct tags decide the property names.
func (s *Schema) ValidateValue(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", s.name, err)
	}
	return s.ValidateJSON(raw)
}

func (s *Schema) ValidateJSON(raw []byte) error {
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON data: %w", err)
	}
	if err := s.schema.Validate(data); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return &Error{Fields: leafFields(validationErr), cause: validationErr}
		}
		return fmt.Errorf("JSON data failed validation (unexpected error type): %w", err)
	}
	return nil
}

// ValidateJSONWithSchema validates a JSON data string against a JSON schema string.
func ValidateJSONWithSchema(schemaJSON string, dataJSON string) error {
	if schemaJSON == "" {
		return nil
	}
	s, err := CompileSchema("schema.json", schemaJSON)
	if err != nil {
		return err
	}
	return s.ValidateJSON([]byte(dataJSON))
}

// Error reports the instance locations that failed validation.
type Error struct {
	Fields []string
	cause  *jsonschema.ValidationError
}

func (e *Error) Error() string {
	return fmt.Sprintf("JSON data failed validation against schema: %v", e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func leafFields(ve *jsonschema.ValidationError) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(e.InstanceLocation, "/")
			if strings.HasPrefix(e.Message, "missing properties:") {
				field = missingProperties(e.Message, field)
			}
			if !seen[field] {
				seen[field] = true
				out = append(out, field)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

// missingProperties extracts names from "missing properties: 'a', 'b'".
func missingProperties(msg, parent string) string {
	list := strings.TrimSpace(strings.TrimPrefix(msg, "missing properties:"))
	var names []string
	for _, n := range strings.Split(list, ",") {
		n = strings.Trim(strings.TrimSpace(n), "'")
		if parent != "" {
			n = parent + "/" + n
		}
		names = append(names, n)
	}
	return strings.Join(names, ",")
}
