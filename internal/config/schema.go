package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema of the config document, indented for humans.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		// Unknown top-level keys are preserved, so the schema must not forbid them.
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	s := r.Reflect(&Config{})
	s.Title = AppName + " configuration"
	return json.MarshalIndent(s, "", "  ")
}
