package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/kyra-dev/kyra/pkg/config"
)

// SchemaCmd generates a JSON Schema for the configuration file. Output
// goes to stdout so it can be redirected.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "Kyra Configuration Schema"
	schema.Description = "Configuration for the kyra workflow automation engine."

	var out []byte
	var err error
	if c.Compact {
		out, err = json.Marshal(schema)
	} else {
		out, err = json.MarshalIndent(schema, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	if _, err := os.Stdout.Write(append(out, '\n')); err != nil {
		return err
	}
	return nil
}
