// CUE schema validation code
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schemas/settings.cue
var embeddedSchema []byte

func loadSchema(path string) ([]byte, error) {
	if path == "" {
		return embeddedSchema, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read CUE schema: %w", err)
	}
	return b, nil
}

// ValidateWithCue checks YAML bytes against the #Settings definition in schema.
func ValidateWithCue(filename string, yamlBytes, schema []byte) error {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileBytes(schema, cue.Filename("settings.cue"))
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("compile CUE schema: %w", err)
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Settings"))
	if !def.Exists() {
		return fmt.Errorf("CUE schema has no #Settings definition")
	}

	file, err := cueyaml.Extract(filename, yamlBytes)
	if err != nil {
		return fmt.Errorf("cannot parse YAML config: %w", err)
	}
	configVal := ctx.BuildFile(file)
	if err := configVal.Err(); err != nil {
		return fmt.Errorf("cannot build YAML config: %w", err)
	}

	final := def.Unify(configVal)
	if err := final.Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
