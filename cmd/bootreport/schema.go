package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nos-project/nosboot/pkg/report"
)

// reportSchema is the contract an exported report must satisfy before
// tooling trusts it. Validation runs on the canonical JSON form, the same
// bytes the digest covers.
const reportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "stage", "progress", "attempt", "firmware", "checklist", "ready"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "stage": {"type": "string", "minLength": 1},
    "progress": {"type": "integer", "minimum": 0, "maximum": 100},
    "attempt": {"type": "integer", "minimum": 0},
    "firmware": {"type": "string"},
    "protocol": {"type": "string"},
    "measurement": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "checklist": {
      "type": "array",
      "minItems": 6,
      "maxItems": 6,
      "items": {
        "type": "object",
        "required": ["name", "passed"],
        "properties": {
          "name": {"type": "string"},
          "passed": {"type": "boolean"}
        }
      }
    },
    "errors": {
      "type": "array",
      "maxItems": 8,
      "items": {
        "type": "object",
        "required": ["stage", "message"]
      }
    },
    "events": {
      "type": "array",
      "maxItems": 32,
      "items": {
        "type": "object",
        "required": ["ordinal", "kind", "success"]
      }
    },
    "dropped_errors": {"type": "integer", "minimum": 0},
    "dropped_events": {"type": "integer", "minimum": 0},
    "ready": {"type": "boolean"}
  }
}`

func compileReportSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://nos-project.schemas.local/bootreport.schema.json"
	if err := c.AddResource(url, strings.NewReader(reportSchema)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return schema, nil
}

// validateReport checks a report's canonical JSON form against the schema.
func validateReport(r *report.Report) error {
	schema, err := compileReportSchema()
	if err != nil {
		return err
	}
	canonical, err := r.CanonicalJSON()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(canonical, &doc); err != nil {
		return fmt.Errorf("canonical form is not JSON: %w", err)
	}
	return schema.Validate(doc)
}
