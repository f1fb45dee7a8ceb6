package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// schemaDoc is a minimal JSON Schema guarding against the reload mistakes
// that matter operationally: negative windows, thresholds outside [0,100],
// and a zero VDF difficulty that would make the chain worthless.
const schemaDoc = `{
  "type": "object",
  "properties": {
    "trusted_floor":        {"type": "number", "minimum": 0, "maximum": 100},
    "degraded_floor":       {"type": "number", "minimum": 0, "maximum": 100},
    "quarantine_floor":     {"type": "number", "minimum": 0, "maximum": 100},
    "restore_score":        {"type": "number", "minimum": 0, "maximum": 100},
    "vdf_difficulty":       {"type": "integer", "minimum": 1},
    "checkpoint_granularity": {"type": "integer", "minimum": 1},
    "max_drift_seconds":    {"type": "integer", "minimum": 0},
    "anchor_batch_size":    {"type": "integer", "minimum": 1},
    "consensus_approval_ratio": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

// Load reads a YAML policy file, validates it against the built-in JSON
// Schema, and returns the decoded Policy. The file is decoded over
// Default(), so omitted fields keep their default values.
func Load(path string) (*Policy, error) {
	// #nosec G304 -- path is operator-configured, not request-derived.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy.Load: read: %w", err)
	}

	// yaml.v3 decodes into a generic map first so we can re-marshal to JSON
	// for schema validation without a second YAML parser dependency.
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("policy.Load: parse yaml: %w", err)
	}

	if err := validateAgainstSchema(generic); err != nil {
		return nil, fmt.Errorf("policy.Load: schema: %w", err)
	}

	p := Default()
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("policy.Load: decode: %w", err)
	}
	return p, nil
}

func validateAgainstSchema(doc map[string]any) error {
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal for validation: %w", err)
	}
	var asAny any
	if err := json.Unmarshal(jsonBytes, &asAny); err != nil {
		return fmt.Errorf("unmarshal for validation: %w", err)
	}

	var schemaAny any
	if err := json.Unmarshal([]byte(schemaDoc), &schemaAny); err != nil {
		return fmt.Errorf("parse built-in schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("policy.json", schemaAny); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	sch, err := c.Compile("policy.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return sch.Validate(asAny)
}
