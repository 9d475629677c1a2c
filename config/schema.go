// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/xeipuuv/gojsonschema"

	"github.com/bolausson/SensorPush/pkg/util"
)

//go:embed schema.json
var schemaJSON string

// GetSchemaJSON returns the embedded JSON schema text, for operators who
// want to inspect or vendor it independently of the --validate-config CLI
// path.
func GetSchemaJSON() string {
	return schemaJSON
}

// ValidateWithSchema validates a config file against the embedded JSON
// schema. It is operator-facing tooling (the --validate-config CLI
// command) and is not on the daemon's own startup path, which validates
// via Config.Validate instead.
func ValidateWithSchema(path string) error {
	yamlFile, err := util.ReadFileSafely(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var configData interface{}
	if err := yaml.Unmarshal(yamlFile, &configData); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	jsonData, err := json.Marshal(configData)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(jsonData)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate config schema: %w", err)
	}

	if !result.Valid() {
		return formatValidationErrors(result.Errors())
	}
	return nil
}

// formatValidationErrors collects gojsonschema errors into a single error,
// one line per violation. Returns nil for an empty list.
func formatValidationErrors(errs []gojsonschema.ResultError) error {
	if len(errs) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("configuration is not valid:\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	return fmt.Errorf("%s", b.String())
}
