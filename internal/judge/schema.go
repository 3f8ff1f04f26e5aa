package judge

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const verdictSchemaURL = "https://lock-in.schemas.local/judge/verdict.schema.json"

const verdictSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["approved"],
  "properties": {
    "approved": {"type": "boolean"},
    "confidence": {"type": ["number", "string", "null"]},
    "reasoning": {"type": ["string", "null"]},
    "manipulation_detected": {"type": ["boolean", "null"]}
  }
}`

var verdictSchema = mustCompileVerdictSchema()

func mustCompileVerdictSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(verdictSchemaURL, strings.NewReader(verdictSchemaJSON)); err != nil {
		panic("verdict schema load failed: " + err.Error())
	}
	return c.MustCompile(verdictSchemaURL)
}
