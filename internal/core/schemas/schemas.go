// Package schemas loads the validation schema table.
//
// The default table is embedded in the binary; deployments may point
// INGEST_SCHEMA_FILE at a YAML file with the same layout to replace it.
package schemas

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/healthingest/internal/core"
)

//go:embed schemas.yaml
var defaultSchemas []byte

type document struct {
	Schemas []core.ValidationSchema `yaml:"schemas"`
}

// Load returns the embedded schema table.
func Load() (*core.SchemaSet, error) {
	return Parse(defaultSchemas)
}

// LoadFile reads a schema table from path. An empty path loads the
// embedded table.
func LoadFile(path string) (*core.SchemaSet, error) {
	if path == "" {
		return Load()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML schema document into a SchemaSet.
func Parse(data []byte) (*core.SchemaSet, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schemas: %w", err)
	}
	if len(doc.Schemas) == 0 {
		return nil, fmt.Errorf("parse schemas: no schemas defined")
	}
	set, err := core.NewSchemaSet(doc.Schemas)
	if err != nil {
		return nil, fmt.Errorf("parse schemas: %w", err)
	}
	return set, nil
}

// MustLoad is Load for tests and package initialization; it panics on error.
func MustLoad() *core.SchemaSet {
	set, err := Load()
	if err != nil {
		panic(err)
	}
	return set
}
