package core

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrSchemaNotFound is returned when no schema is registered for a domain type.
var ErrSchemaNotFound = errors.New("validation schema not found")

// FieldKind selects the predicate a FieldValidator applies.
type FieldKind string

const (
	KindUUID       FieldKind = "uuid"
	KindCPF        FieldKind = "cpf"
	KindCoordinate FieldKind = "coordinate"
	KindNumeric    FieldKind = "numeric"
	KindList       FieldKind = "list"
	KindPattern    FieldKind = "pattern"
)

var (
	uuidRegex       = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	cpfRegex        = regexp.MustCompile(`^(\d{3}\.\d{3}\.\d{3}-\d{2}|\d{11})$`)
	coordinateRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
	numericRegex    = regexp.MustCompile(`^\d+$`)
)

// FieldValidator checks the format of one field when it is present.
type FieldValidator struct {
	Field   string    `yaml:"field" json:"field"`
	Kind    FieldKind `yaml:"kind" json:"kind"`
	Pattern string    `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Message string    `yaml:"message,omitempty" json:"message,omitempty"`

	re *regexp.Regexp
}

// Check reports whether value satisfies the validator.
// Blank values always pass; presence is the required-field check's job.
func (v FieldValidator) Check(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return true
	}
	switch v.Kind {
	case KindUUID:
		return uuidRegex.MatchString(value)
	case KindCPF:
		return cpfRegex.MatchString(value)
	case KindCoordinate:
		if !coordinateRegex.MatchString(value) {
			return false
		}
		_, err := strconv.ParseFloat(value, 64)
		return err == nil
	case KindNumeric:
		return numericRegex.MatchString(value)
	case KindList:
		return validList(value)
	case KindPattern:
		return v.re != nil && v.re.MatchString(value)
	default:
		return true
	}
}

// Describe returns the user-facing message for a failed check.
func (v FieldValidator) Describe() string {
	if v.Message != "" {
		return v.Message
	}
	switch v.Kind {
	case KindUUID:
		return "must be a UUID (8-4-4-4-12 hex)"
	case KindCPF:
		return "must be a CPF (000.000.000-00 or 11 digits)"
	case KindCoordinate:
		return "must be a signed decimal coordinate"
	case KindNumeric:
		return "must contain digits only"
	case KindList:
		return "semicolon list must not contain empty entries"
	default:
		return "invalid format"
	}
}

// validList rejects empty segments between semicolons. A single trailing
// semicolon is a common export artifact and is tolerated.
func validList(value string) bool {
	value = strings.TrimSuffix(value, ";")
	for _, seg := range strings.Split(value, ";") {
		if strings.TrimSpace(seg) == "" {
			return false
		}
	}
	return true
}

// ValidationSchema describes one domain type: the fields that must be
// present and the format checks applied to fields when present.
type ValidationSchema struct {
	Type        DomainType       `yaml:"type" json:"type"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Required    []string         `yaml:"required" json:"required"`
	Validators  []FieldValidator `yaml:"validators,omitempty" json:"validators,omitempty"`
}

// SchemaSet is the immutable table of validation schemas, built once at
// startup and passed to the components that need it.
type SchemaSet struct {
	schemas map[DomainType]ValidationSchema
}

// NewSchemaSet compiles and indexes schemas.
// Returns an error for unknown or duplicate types and invalid patterns.
func NewSchemaSet(schemas []ValidationSchema) (*SchemaSet, error) {
	set := &SchemaSet{schemas: make(map[DomainType]ValidationSchema, len(schemas))}
	for _, s := range schemas {
		if !s.Type.Known() {
			return nil, fmt.Errorf("schema has unknown domain type %q", s.Type)
		}
		if _, exists := set.schemas[s.Type]; exists {
			return nil, fmt.Errorf("schema already registered: %s", s.Type)
		}
		if len(s.Required) == 0 {
			return nil, fmt.Errorf("schema %s: no required fields", s.Type)
		}

		compiled := make([]FieldValidator, len(s.Validators))
		for i, v := range s.Validators {
			if v.Field == "" {
				return nil, fmt.Errorf("schema %s: validator %d has no field", s.Type, i)
			}
			switch v.Kind {
			case KindUUID, KindCPF, KindCoordinate, KindNumeric, KindList:
			case KindPattern:
				re, err := regexp.Compile(v.Pattern)
				if err != nil {
					return nil, fmt.Errorf("schema %s: field %s: %w", s.Type, v.Field, err)
				}
				v.re = re
			default:
				return nil, fmt.Errorf("schema %s: field %s: unknown kind %q", s.Type, v.Field, v.Kind)
			}
			compiled[i] = v
		}

		s.Required = append([]string(nil), s.Required...)
		s.Validators = compiled
		set.schemas[s.Type] = s
	}
	return set, nil
}

// Get returns the schema for t.
func (s *SchemaSet) Get(t DomainType) (ValidationSchema, error) {
	if s != nil {
		if schema, ok := s.schemas[t]; ok {
			return schema, nil
		}
	}
	return ValidationSchema{}, fmt.Errorf("%w: %s", ErrSchemaNotFound, t)
}

// All returns every schema in declaration order.
func (s *SchemaSet) All() []ValidationSchema {
	if s == nil {
		return nil
	}
	result := make([]ValidationSchema, 0, len(s.schemas))
	for _, schema := range s.schemas {
		result = append(result, schema)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Type.Rank() < result[j].Type.Rank()
	})
	return result
}

// Len returns the number of schemas.
func (s *SchemaSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.schemas)
}
