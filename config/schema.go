package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Bondifuzz/sbxbin-runner/util"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed config.schema.json
var schemaDocument json.RawMessage

var configSchema = util.Must(
	gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaDocument)),
)

// ValidateDocument checks a raw JSON config document against the
// embedded schema, before it is unmarshalled. Structural problems
// in the config file surface here with field-level messages.
func ValidateDocument(data []byte) error {
	result, err := configSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

// Validate checks the semantic invariants of a parsed config.
func (c Config) Validate() error {
	return c.LaunchSpec().Validate()
}
